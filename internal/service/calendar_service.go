package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

type calendarRepository interface {
	ListDays(ctx context.Context) ([]models.Day, error)
	ListSlots(ctx context.Context) ([]models.TimeSlot, error)
}

// CalendarService exposes the fixed day and time-slot catalog.
type CalendarService struct {
	calendar calendarRepository
	logger   *zap.Logger
}

// NewCalendarService constructs a CalendarService.
func NewCalendarService(calendar calendarRepository, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{calendar: calendar, logger: logger}
}

// Days returns the teaching days ordered by ordinal.
func (s *CalendarService) Days(ctx context.Context) ([]models.Day, error) {
	days, err := s.calendar.ListDays(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list days")
	}
	return days, nil
}

// Slots returns the time slots ordered by ordinal.
func (s *CalendarService) Slots(ctx context.Context) ([]models.TimeSlot, error) {
	slots, err := s.calendar.ListSlots(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time slots")
	}
	return slots, nil
}
