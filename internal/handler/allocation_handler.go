package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-routine-api/internal/service"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
	"github.com/noah-isme/campus-routine-api/pkg/response"
)

// AllocationHandler wires the allocation ledger to HTTP routes.
type AllocationHandler struct {
	allocations *service.AllocationService
	metrics     *service.MetricsService
}

// NewAllocationHandler constructs a new AllocationHandler.
func NewAllocationHandler(allocations *service.AllocationService, metrics *service.MetricsService) *AllocationHandler {
	return &AllocationHandler{allocations: allocations, metrics: metrics}
}

// List godoc
// @Summary List all allocations with display fields
// @Tags Allocations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /allocations [get]
func (h *AllocationHandler) List(c *gin.Context) {
	allocations, err := h.allocations.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, allocations, nil)
}

// Create godoc
// @Summary Create an allocation
// @Description Validates the candidate against room, teacher, capacity and workload rules before committing.
// @Tags Allocations
// @Accept json
// @Produce json
// @Param payload body service.CreateAllocationRequest true "Allocation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope "INVALID_REFERENCE, VALIDATION_ERROR"
// @Failure 409 {object} response.Envelope "ROOM_CONFLICT, TEACHER_CONFLICT, COURSE_EXHAUSTED, DAILY_WORKLOAD_EXCEEDED, WEEKLY_WORKLOAD_EXCEEDED"
// @Router /allocations [post]
func (h *AllocationHandler) Create(c *gin.Context) {
	var req service.CreateAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid allocation payload"))
		return
	}
	allocation, err := h.allocations.Create(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordAllocationRejected(appErrors.FromError(err).Code)
		response.Error(c, err)
		return
	}
	h.metrics.RecordAllocationCreated()
	response.Created(c, allocation)
}

// Delete godoc
// @Summary Delete an allocation and release its course capacity
// @Tags Allocations
// @Produce json
// @Param id path string true "Allocation ID"
// @Success 200 {object} response.Envelope
// @Router /allocations/{id} [delete]
func (h *AllocationHandler) Delete(c *gin.Context) {
	result, err := h.allocations.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordAllocationDeleted()
	response.JSON(c, http.StatusOK, result, nil)
}
