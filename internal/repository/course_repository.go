package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-routine-api/internal/models"
)

// CourseRepository manages persistence for courses. The remaining_capacity
// counter is only ever adjusted through the guarded Decrement/Increment
// methods, always inside the allocation ledger's transaction.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching filters along with total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		conditions = append(conditions, fmt.Sprintf("(LOWER(code) LIKE $%d OR LOWER(name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, search)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"code":       true,
		"name":       true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT id, code, name, credit_hours, remaining_capacity, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	return courses, total, nil
}

// ListAll returns every course without paging, ordered by code.
func (r *CourseRepository) ListAll(ctx context.Context) ([]models.Course, error) {
	const query = `SELECT id, code, name, credit_hours, remaining_capacity, created_at, updated_at FROM courses ORDER BY code ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, fmt.Errorf("list all courses: %w", err)
	}
	return courses, nil
}

// FindByID fetches a course by ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, name, credit_hours, remaining_capacity, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ExistsByCode checks if a course already uses the code.
func (r *CourseRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM courses WHERE LOWER(code) = LOWER($1) LIMIT 1`, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course code: %w", err)
	}
	return true, nil
}

// Create inserts a new course record.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	const query = `INSERT INTO courses (id, code, name, credit_hours, remaining_capacity, created_at, updated_at)
		VALUES (:id, :code, :name, :credit_hours, :remaining_capacity, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Delete removes a course by id.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

// RemainingCapacity reads the capacity counter inside the caller's transaction.
func (r *CourseRepository) RemainingCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	var remaining int
	if err := sqlx.GetContext(ctx, exec, &remaining, `SELECT remaining_capacity FROM courses WHERE id = $1`, id); err != nil {
		return 0, err
	}
	return remaining, nil
}

// DecrementCapacity consumes one session of capacity. Returns false when the
// course is already exhausted; the guard keeps the counter non-negative.
func (r *CourseRepository) DecrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	result, err := exec.ExecContext(ctx, `UPDATE courses SET remaining_capacity = remaining_capacity - 1, updated_at = $2 WHERE id = $1 AND remaining_capacity > 0`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("decrement course capacity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement course capacity: %w", err)
	}
	return affected == 1, nil
}

// IncrementCapacity releases one session of capacity and returns the new value.
func (r *CourseRepository) IncrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	var remaining int
	if err := sqlx.GetContext(ctx, exec, &remaining, `UPDATE courses SET remaining_capacity = remaining_capacity + 1, updated_at = $2 WHERE id = $1 RETURNING remaining_capacity`, id, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("increment course capacity: %w", err)
	}
	return remaining, nil
}

// ResetCapacities restores every course to its derived full capacity inside
// the caller's transaction. Used by the scheduler's rebuild mode.
func (r *CourseRepository) ResetCapacities(ctx context.Context, exec sqlx.ExtContext) error {
	const query = `UPDATE courses SET remaining_capacity = CASE WHEN credit_hours >= 3 THEN 2 ELSE 1 END, updated_at = $1`
	if _, err := exec.ExecContext(ctx, query, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset course capacities: %w", err)
	}
	return nil
}
