package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-routine-api/internal/service"
	"github.com/noah-isme/campus-routine-api/pkg/response"
)

// CalendarHandler exposes the fixed day and time-slot catalog.
type CalendarHandler struct {
	calendar *service.CalendarService
}

// NewCalendarHandler constructs a new CalendarHandler.
func NewCalendarHandler(calendar *service.CalendarService) *CalendarHandler {
	return &CalendarHandler{calendar: calendar}
}

// Days godoc
// @Summary List teaching days
// @Tags Calendar
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /days [get]
func (h *CalendarHandler) Days(c *gin.Context) {
	days, err := h.calendar.Days(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, days, nil)
}

// Slots godoc
// @Summary List time slots
// @Tags Calendar
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /time-slots [get]
func (h *CalendarHandler) Slots(c *gin.Context) {
	slots, err := h.calendar.Slots(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}
