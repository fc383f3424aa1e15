package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

type availableRoomLister interface {
	ListAvailable(ctx context.Context, dayID, slotID string) ([]models.Room, error)
}

// AvailabilityService answers which rooms are free at a given (day, slot).
type AvailabilityService struct {
	rooms    availableRoomLister
	calendar calendarReader
	logger   *zap.Logger
}

// NewAvailabilityService constructs an AvailabilityService.
func NewAvailabilityService(rooms availableRoomLister, calendar calendarReader, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{rooms: rooms, calendar: calendar, logger: logger}
}

// AvailableRooms returns rooms without an allocation at (day, slot), ordered
// by room number. A (day, slot) with every room taken yields an empty list.
func (s *AvailabilityService) AvailableRooms(ctx context.Context, dayID, slotID string) ([]models.Room, error) {
	if dayID == "" || slotID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "day and slot are required")
	}
	if _, err := s.calendar.FindDay(ctx, dayID); err != nil {
		return nil, referenceError(err, "day", dayID)
	}
	if _, err := s.calendar.FindSlot(ctx, slotID); err != nil {
		return nil, referenceError(err, "slot", slotID)
	}

	rooms, err := s.rooms.ListAvailable(ctx, dayID, slotID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available rooms")
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	return rooms, nil
}
