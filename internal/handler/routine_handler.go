package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-routine-api/internal/dto"
	"github.com/noah-isme/campus-routine-api/internal/service"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
	"github.com/noah-isme/campus-routine-api/pkg/response"
)

// RoutineHandler wires the routine compiler and the scheduler to HTTP routes.
type RoutineHandler struct {
	routine   *service.RoutineService
	scheduler *service.SchedulerService
	metrics   *service.MetricsService
}

// NewRoutineHandler constructs a new RoutineHandler.
func NewRoutineHandler(routine *service.RoutineService, scheduler *service.SchedulerService, metrics *service.MetricsService) *RoutineHandler {
	return &RoutineHandler{routine: routine, scheduler: scheduler, metrics: metrics}
}

// Get godoc
// @Summary Get the compiled weekly routine grid
// @Description Every catalog (day, slot) cell is present; cells without an allocation are empty objects.
// @Tags Routine
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /routine [get]
func (h *RoutineHandler) Get(c *gin.Context) {
	routine, err := h.routine.Get(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, routine, nil)
}

// Export godoc
// @Summary Export the routine as CSV or PDF
// @Tags Routine
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "Export format (csv or pdf, default csv)"
// @Success 200 {file} file
// @Router /routine/export [get]
func (h *RoutineHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	stamp := time.Now().UTC().Format("20060102")

	switch format {
	case "csv":
		data, err := h.routine.ExportCSV(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.File(c, fmt.Sprintf("routine_%s.csv", stamp), "text/csv", data)
	case "pdf":
		data, err := h.routine.ExportPDF(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.File(c, fmt.Sprintf("routine_%s.pdf", stamp), "application/pdf", data)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
	}
}

// Regenerate godoc
// @Summary Rebuild the routine with the auto-scheduler
// @Description Runs a bounded backtracking search over unmet course demand and commits atomically.
// @Tags Routine
// @Accept json
// @Produce json
// @Param payload body dto.RegenerateRequest false "Run overrides"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "SEARCH_BUDGET_EXCEEDED"
// @Router /routine/regenerate [post]
func (h *RoutineHandler) Regenerate(c *gin.Context) {
	var req dto.RegenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid regenerate payload"))
			return
		}
	}

	result, err := h.scheduler.Regenerate(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordSchedulerRun("failed", 0)
		response.Error(c, err)
		return
	}
	outcome := "complete"
	if !result.Complete {
		outcome = "incomplete"
	}
	h.metrics.RecordSchedulerRun(outcome, result.NodesExplored)
	response.JSON(c, http.StatusOK, result, nil)
}
