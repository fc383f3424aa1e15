package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

type allocationRepository interface {
	ListJoined(ctx context.Context) ([]models.AllocationDetail, error)
	FindDetail(ctx context.Context, id string) (*models.AllocationDetail, error)
	RoomOccupied(ctx context.Context, exec sqlx.ExtContext, roomID, dayID, slotID string) (bool, error)
	TeacherOccupied(ctx context.Context, exec sqlx.ExtContext, teacherID, dayID, slotID string) (bool, error)
	TeacherDayLoad(ctx context.Context, exec sqlx.ExtContext, teacherID, dayID string) (float64, error)
	TeacherWeekLoad(ctx context.Context, exec sqlx.ExtContext, teacherID string) (float64, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, allocation *models.Allocation) error
	DeleteReturningCourse(ctx context.Context, exec sqlx.ExtContext, id string) (string, error)
}

type courseCapacityRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	RemainingCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (int, error)
	DecrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	IncrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (int, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type roomReader interface {
	FindByID(ctx context.Context, id string) (*models.Room, error)
}

type calendarReader interface {
	FindDay(ctx context.Context, id string) (*models.Day, error)
	FindSlot(ctx context.Context, id string) (*models.TimeSlot, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type routineInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateAllocationRequest is a candidate assignment from the HTTP layer.
type CreateAllocationRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
	RoomID    string `json:"room_id" validate:"required"`
	DayID     string `json:"day_id" validate:"required"`
	SlotID    string `json:"slot_id" validate:"required"`
}

// AllocationConfig carries the teacher workload ceilings in credit hours.
type AllocationConfig struct {
	DailyLimit  float64
	WeeklyLimit float64
}

// AllocationService is the allocation ledger: the only writer of allocation
// rows and course capacity counters. Every mutation validates and commits as
// one serialized transaction, so two candidates that pass validation
// independently can never both commit.
type AllocationService struct {
	allocations allocationRepository
	courses     courseCapacityRepository
	teachers    teacherReader
	rooms       roomReader
	calendar    calendarReader
	tx          txProvider
	cache       routineInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         AllocationConfig
	mu          *sync.Mutex
}

// NewAllocationService wires the ledger's dependencies. The mutex serializes
// ledger mutations and is shared with the scheduler.
func NewAllocationService(
	allocations allocationRepository,
	courses courseCapacityRepository,
	teachers teacherReader,
	rooms roomReader,
	calendar calendarReader,
	tx txProvider,
	cache routineInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AllocationConfig,
	mu *sync.Mutex,
) *AllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 4
	}
	if cfg.WeeklyLimit <= 0 {
		cfg.WeeklyLimit = 13
	}
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &AllocationService{
		allocations: allocations,
		courses:     courses,
		teachers:    teachers,
		rooms:       rooms,
		calendar:    calendar,
		tx:          tx,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		mu:          mu,
	}
}

// List returns all allocations with display fields, ordered by day then slot.
func (s *AllocationService) List(ctx context.Context) ([]models.AllocationDetail, error) {
	details, err := s.allocations.ListJoined(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list allocations")
	}
	return details, nil
}

// Create validates the candidate and commits it atomically with the course
// capacity decrement. Rejections carry a machine-checkable reason code.
func (s *AllocationService) Create(ctx context.Context, req CreateAllocationRequest) (*models.AllocationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid allocation payload")
	}

	course, err := s.resolveReferences(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.validateCandidate(ctx, tx, req, course); err != nil {
		return nil, err
	}

	allocation := &models.Allocation{
		TeacherID: req.TeacherID,
		CourseID:  req.CourseID,
		RoomID:    req.RoomID,
		DayID:     req.DayID,
		SlotID:    req.SlotID,
	}
	if err = s.allocations.Insert(ctx, tx, allocation); err != nil {
		if isUniqueViolation(err) {
			err = appErrors.Clone(appErrors.ErrConflict, "allocation lost a concurrent race, retry")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert allocation")
		return nil, err
	}

	var consumed bool
	if consumed, err = s.courses.DecrementCapacity(ctx, tx, req.CourseID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume course capacity")
		return nil, err
	} else if !consumed {
		err = appErrors.Clone(appErrors.ErrCourseExhausted, "")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			err = appErrors.Clone(appErrors.ErrConflict, "allocation lost a concurrent race, retry")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit allocation")
		return nil, err
	}

	s.invalidateRoutine(ctx)

	detail, err := s.allocations.FindDetail(ctx, allocation.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load created allocation")
	}
	s.logger.Info("allocation created",
		zap.String("allocation_id", allocation.ID),
		zap.String("course_id", req.CourseID),
		zap.String("teacher_id", req.TeacherID),
	)
	return detail, nil
}

// Delete removes an allocation and releases one session of course capacity.
func (s *AllocationService) Delete(ctx context.Context, id string) (*models.AllocationDeleted, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "allocation id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var courseID string
	if courseID, err = s.allocations.DeleteReturningCourse(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "allocation not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete allocation")
		return nil, err
	}

	var remaining int
	if remaining, err = s.courses.IncrementCapacity(ctx, tx, courseID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release course capacity")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit allocation delete")
		return nil, err
	}

	s.invalidateRoutine(ctx)
	s.logger.Info("allocation deleted", zap.String("allocation_id", id), zap.String("course_id", courseID))
	return &models.AllocationDeleted{CourseID: courseID, RemainingCapacity: remaining}, nil
}

// resolveReferences checks that all five referenced ids exist and returns the
// course for the credit-hour checks.
func (s *AllocationService) resolveReferences(ctx context.Context, req CreateAllocationRequest) (*models.Course, error) {
	if _, err := s.teachers.FindByID(ctx, req.TeacherID); err != nil {
		return nil, referenceError(err, "teacher", req.TeacherID)
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return nil, referenceError(err, "course", req.CourseID)
	}
	if _, err := s.rooms.FindByID(ctx, req.RoomID); err != nil {
		return nil, referenceError(err, "room", req.RoomID)
	}
	if _, err := s.calendar.FindDay(ctx, req.DayID); err != nil {
		return nil, referenceError(err, "day", req.DayID)
	}
	if _, err := s.calendar.FindSlot(ctx, req.SlotID); err != nil {
		return nil, referenceError(err, "slot", req.SlotID)
	}
	return course, nil
}

// validateCandidate runs the ordered conflict and workload checks against the
// transaction's view of the ledger. First failure wins.
func (s *AllocationService) validateCandidate(ctx context.Context, exec sqlx.ExtContext, req CreateAllocationRequest, course *models.Course) error {
	occupied, err := s.allocations.RoomOccupied(ctx, exec, req.RoomID, req.DayID, req.SlotID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check room availability")
	}
	if occupied {
		return appErrors.Clone(appErrors.ErrRoomConflict, "")
	}

	occupied, err = s.allocations.TeacherOccupied(ctx, exec, req.TeacherID, req.DayID, req.SlotID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher availability")
	}
	if occupied {
		return appErrors.Clone(appErrors.ErrTeacherConflict, "")
	}

	remaining, err := s.courses.RemainingCapacity(ctx, exec, req.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read course capacity")
	}
	if remaining <= 0 {
		return appErrors.Clone(appErrors.ErrCourseExhausted, "")
	}

	dayLoad, err := s.allocations.TeacherDayLoad(ctx, exec, req.TeacherID, req.DayID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum daily workload")
	}
	if dayLoad+course.CreditHours > s.cfg.DailyLimit {
		return appErrors.WithDetails(appErrors.ErrDailyWorkload, map[string]interface{}{
			"current":   dayLoad,
			"attempted": course.CreditHours,
			"limit":     s.cfg.DailyLimit,
		})
	}

	weekLoad, err := s.allocations.TeacherWeekLoad(ctx, exec, req.TeacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum weekly workload")
	}
	if weekLoad+course.CreditHours > s.cfg.WeeklyLimit {
		return appErrors.WithDetails(appErrors.ErrWeeklyWorkload, map[string]interface{}{
			"current":   weekLoad,
			"attempted": course.CreditHours,
			"limit":     s.cfg.WeeklyLimit,
		})
	}

	return nil
}

func (s *AllocationService) invalidateRoutine(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, routineCachePattern); err != nil {
		s.logger.Warn("failed to invalidate routine cache", zap.Error(err))
	}
}

func referenceError(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.WithDetails(appErrors.ErrInvalidReference, map[string]interface{}{
			"kind": kind,
			"id":   id,
		})
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve "+kind)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
