package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-routine-api/internal/models"
)

const allocationDetailColumns = `a.id, a.teacher_id, a.course_id, a.room_id, a.day_id, a.slot_id,
	t.full_name AS teacher_name, c.code AS course_code, c.name AS course_name, c.credit_hours,
	r.room_number, d.name AS day_name, d.ordinal AS day_ordinal,
	ts.start_time, ts.end_time, ts.ordinal AS slot_ordinal`

const allocationDetailJoins = `FROM allocations a
	JOIN teachers t ON a.teacher_id = t.id
	JOIN courses c ON a.course_id = c.id
	JOIN rooms r ON a.room_id = r.id
	JOIN days d ON a.day_id = d.id
	JOIN time_slots ts ON a.slot_id = ts.id`

// AllocationRepository provides persistence for the allocation ledger.
type AllocationRepository struct {
	db *sqlx.DB
}

// NewAllocationRepository constructs an AllocationRepository.
func NewAllocationRepository(db *sqlx.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// ListJoined returns all allocations decorated with display fields, ordered by
// day ordinal then slot ordinal.
func (r *AllocationRepository) ListJoined(ctx context.Context) ([]models.AllocationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s ORDER BY d.ordinal ASC, ts.ordinal ASC", allocationDetailColumns, allocationDetailJoins)
	var details []models.AllocationDetail
	if err := r.db.SelectContext(ctx, &details, query); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return details, nil
}

// ListByTeacher returns a teacher's allocations ordered by day/slot.
func (r *AllocationRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.AllocationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.teacher_id = $1 ORDER BY d.ordinal ASC, ts.ordinal ASC", allocationDetailColumns, allocationDetailJoins)
	var details []models.AllocationDetail
	if err := r.db.SelectContext(ctx, &details, query, teacherID); err != nil {
		return nil, fmt.Errorf("list allocations by teacher: %w", err)
	}
	return details, nil
}

// ListAll returns raw allocation rows.
func (r *AllocationRepository) ListAll(ctx context.Context) ([]models.Allocation, error) {
	const query = `SELECT id, teacher_id, course_id, room_id, day_id, slot_id, created_at FROM allocations`
	var allocations []models.Allocation
	if err := r.db.SelectContext(ctx, &allocations, query); err != nil {
		return nil, fmt.Errorf("list raw allocations: %w", err)
	}
	return allocations, nil
}

// FindDetail loads one allocation with display fields.
func (r *AllocationRepository) FindDetail(ctx context.Context, id string) (*models.AllocationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.id = $1", allocationDetailColumns, allocationDetailJoins)
	var detail models.AllocationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// RoomOccupied reports whether any allocation holds the room at (day, slot).
func (r *AllocationRepository) RoomOccupied(ctx context.Context, exec sqlx.ExtContext, roomID, dayID, slotID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM allocations WHERE room_id = $1 AND day_id = $2 AND slot_id = $3)`
	var occupied bool
	if err := sqlx.GetContext(ctx, exec, &occupied, query, roomID, dayID, slotID); err != nil {
		return false, fmt.Errorf("check room occupancy: %w", err)
	}
	return occupied, nil
}

// TeacherOccupied reports whether the teacher is committed at (day, slot).
func (r *AllocationRepository) TeacherOccupied(ctx context.Context, exec sqlx.ExtContext, teacherID, dayID, slotID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM allocations WHERE teacher_id = $1 AND day_id = $2 AND slot_id = $3)`
	var occupied bool
	if err := sqlx.GetContext(ctx, exec, &occupied, query, teacherID, dayID, slotID); err != nil {
		return false, fmt.Errorf("check teacher occupancy: %w", err)
	}
	return occupied, nil
}

// TeacherDayLoad sums the credit hours of a teacher's allocations on one day.
func (r *AllocationRepository) TeacherDayLoad(ctx context.Context, exec sqlx.ExtContext, teacherID, dayID string) (float64, error) {
	const query = `SELECT COALESCE(SUM(c.credit_hours), 0) FROM allocations a JOIN courses c ON a.course_id = c.id WHERE a.teacher_id = $1 AND a.day_id = $2`
	var load float64
	if err := sqlx.GetContext(ctx, exec, &load, query, teacherID, dayID); err != nil {
		return 0, fmt.Errorf("sum teacher day load: %w", err)
	}
	return load, nil
}

// TeacherWeekLoad sums the credit hours of all of a teacher's allocations.
func (r *AllocationRepository) TeacherWeekLoad(ctx context.Context, exec sqlx.ExtContext, teacherID string) (float64, error) {
	const query = `SELECT COALESCE(SUM(c.credit_hours), 0) FROM allocations a JOIN courses c ON a.course_id = c.id WHERE a.teacher_id = $1`
	var load float64
	if err := sqlx.GetContext(ctx, exec, &load, query, teacherID); err != nil {
		return 0, fmt.Errorf("sum teacher week load: %w", err)
	}
	return load, nil
}

// Insert stores an allocation row inside the caller's transaction.
func (r *AllocationRepository) Insert(ctx context.Context, exec sqlx.ExtContext, allocation *models.Allocation) error {
	if allocation.ID == "" {
		allocation.ID = uuid.NewString()
	}
	if allocation.CreatedAt.IsZero() {
		allocation.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO allocations (id, teacher_id, course_id, room_id, day_id, slot_id, created_at)
		VALUES (:id, :teacher_id, :course_id, :room_id, :day_id, :slot_id, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, allocation); err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

// DeleteReturningCourse removes an allocation and reports the owning course.
// Returns sql.ErrNoRows when the allocation does not exist.
func (r *AllocationRepository) DeleteReturningCourse(ctx context.Context, exec sqlx.ExtContext, id string) (string, error) {
	var courseID string
	if err := sqlx.GetContext(ctx, exec, &courseID, `DELETE FROM allocations WHERE id = $1 RETURNING course_id`, id); err != nil {
		return "", err
	}
	return courseID, nil
}

// DeleteAll clears the ledger inside the caller's transaction.
func (r *AllocationRepository) DeleteAll(ctx context.Context, exec sqlx.ExtContext) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM allocations`); err != nil {
		return fmt.Errorf("delete all allocations: %w", err)
	}
	return nil
}

// CountByCourse counts allocations referencing a course.
func (r *AllocationRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM allocations WHERE course_id = $1`, courseID); err != nil {
		return 0, fmt.Errorf("count allocations by course: %w", err)
	}
	return count, nil
}

// CountByTeacher counts allocations referencing a teacher.
func (r *AllocationRepository) CountByTeacher(ctx context.Context, teacherID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM allocations WHERE teacher_id = $1`, teacherID); err != nil {
		return 0, fmt.Errorf("count allocations by teacher: %w", err)
	}
	return count, nil
}
