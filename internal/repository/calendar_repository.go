package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-routine-api/internal/models"
)

// CalendarRepository reads the fixed day and time-slot catalog.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs a CalendarRepository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListDays returns all days ordered by ordinal.
func (r *CalendarRepository) ListDays(ctx context.Context) ([]models.Day, error) {
	const query = `SELECT id, name, ordinal FROM days ORDER BY ordinal ASC`
	var days []models.Day
	if err := r.db.SelectContext(ctx, &days, query); err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	return days, nil
}

// ListSlots returns all time slots ordered by ordinal.
func (r *CalendarRepository) ListSlots(ctx context.Context) ([]models.TimeSlot, error) {
	const query = `SELECT id, start_time, end_time, ordinal FROM time_slots ORDER BY ordinal ASC`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}

// FindDay fetches a day by ID.
func (r *CalendarRepository) FindDay(ctx context.Context, id string) (*models.Day, error) {
	var day models.Day
	if err := r.db.GetContext(ctx, &day, `SELECT id, name, ordinal FROM days WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &day, nil
}

// FindSlot fetches a time slot by ID.
func (r *CalendarRepository) FindSlot(ctx context.Context, id string) (*models.TimeSlot, error) {
	var slot models.TimeSlot
	if err := r.db.GetContext(ctx, &slot, `SELECT id, start_time, end_time, ordinal FROM time_slots WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &slot, nil
}
