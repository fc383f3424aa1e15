package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
	"github.com/noah-isme/campus-routine-api/pkg/export"
)

const (
	routineCacheKey     = "routine:grid"
	routineCachePattern = "routine:*"
)

type routineAllocationReader interface {
	ListJoined(ctx context.Context) ([]models.AllocationDetail, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.AllocationDetail, error)
}

type routineCalendarReader interface {
	ListDays(ctx context.Context) ([]models.Day, error)
	ListSlots(ctx context.Context) ([]models.TimeSlot, error)
}

type routineCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RoutineConfig controls caching of the compiled grid.
type RoutineConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// RoutineService compiles the allocation ledger into the weekly grid and
// renders it for export. The grid is a pure projection of the ledger.
type RoutineService struct {
	allocations routineAllocationReader
	calendar    routineCalendarReader
	teachers    teacherReader
	cache       routineCache
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
	cfg         RoutineConfig
}

// NewRoutineService constructs a RoutineService. The cache is optional.
func NewRoutineService(
	allocations routineAllocationReader,
	calendar routineCalendarReader,
	teachers teacherReader,
	cache routineCache,
	logger *zap.Logger,
	cfg RoutineConfig,
) *RoutineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &RoutineService{
		allocations: allocations,
		calendar:    calendar,
		teachers:    teachers,
		cache:       cache,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		cfg:         cfg,
	}
}

// Get returns the full weekly routine. Every catalog (day, slot) cell is
// present, empty ones included, so clients can render the grid directly.
func (s *RoutineService) Get(ctx context.Context) (models.Routine, error) {
	if s.cfg.CacheEnabled && s.cache != nil {
		var cached models.Routine
		err := s.cache.Get(ctx, routineCacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("routine cache read failed", zap.Error(err))
		}
	}

	routine, err := s.compile(ctx)
	if err != nil {
		return nil, err
	}

	if s.cfg.CacheEnabled && s.cache != nil {
		if err := s.cache.Set(ctx, routineCacheKey, routine, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("routine cache write failed", zap.Error(err))
		}
	}
	return routine, nil
}

func (s *RoutineService) compile(ctx context.Context) (models.Routine, error) {
	days, err := s.calendar.ListDays(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list days")
	}
	slots, err := s.calendar.ListSlots(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time slots")
	}
	details, err := s.allocations.ListJoined(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list allocations")
	}

	routine := make(models.Routine, len(days))
	for _, day := range days {
		row := make(map[string]models.RoutineCell, len(slots))
		for _, slot := range slots {
			row[slot.Label()] = models.RoutineCell{}
		}
		routine[day.Name] = row
	}

	for _, d := range details {
		label := models.TimeSlot{StartTime: d.StartTime, EndTime: d.EndTime}.Label()
		if row, ok := routine[d.DayName]; ok {
			row[label] = models.RoutineCell{
				CourseCode:  d.CourseCode,
				RoomNumber:  d.RoomNumber,
				TeacherName: d.TeacherName,
			}
		}
	}
	return routine, nil
}

// TeacherSchedule returns one teacher's entries plus workload sums per day
// and for the week.
func (s *RoutineService) TeacherSchedule(ctx context.Context, teacherID string) (*models.TeacherSchedule, error) {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		return nil, referenceError(err, "teacher", teacherID)
	}

	details, err := s.allocations.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teacher allocations")
	}

	schedule := &models.TeacherSchedule{
		TeacherID:   teacher.ID,
		TeacherName: teacher.FullName,
		Entries:     make([]models.TeacherScheduleEntry, 0, len(details)),
		DailyLoad:   make(map[string]float64),
	}
	for _, d := range details {
		schedule.Entries = append(schedule.Entries, models.TeacherScheduleEntry{
			DayName:     d.DayName,
			StartTime:   d.StartTime,
			EndTime:     d.EndTime,
			CourseCode:  d.CourseCode,
			CourseName:  d.CourseName,
			RoomNumber:  d.RoomNumber,
			CreditHours: d.CreditHours,
		})
		schedule.DailyLoad[d.DayName] += d.CreditHours
		schedule.WeeklyLoad += d.CreditHours
	}
	return schedule, nil
}

// ExportCSV renders the routine as a CSV table, one row per day.
func (s *RoutineService) ExportCSV(ctx context.Context) ([]byte, error) {
	table, err := s.buildTable(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.csv.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render routine CSV")
	}
	return data, nil
}

// ExportPDF renders the routine as a landscape PDF grid.
func (s *RoutineService) ExportPDF(ctx context.Context) ([]byte, error) {
	table, err := s.buildTable(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.pdf.Render(table, "Weekly Class Routine")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render routine PDF")
	}
	return data, nil
}

func (s *RoutineService) buildTable(ctx context.Context) (export.Table, error) {
	days, err := s.calendar.ListDays(ctx)
	if err != nil {
		return export.Table{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list days")
	}
	slots, err := s.calendar.ListSlots(ctx)
	if err != nil {
		return export.Table{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time slots")
	}
	routine, err := s.Get(ctx)
	if err != nil {
		return export.Table{}, err
	}

	headers := make([]string, 0, len(slots)+1)
	headers = append(headers, "Day")
	for _, slot := range slots {
		headers = append(headers, slot.Label())
	}

	rows := make([][]string, 0, len(days))
	for _, day := range days {
		row := make([]string, 0, len(slots)+1)
		row = append(row, day.Name)
		for _, slot := range slots {
			cell := routine[day.Name][slot.Label()]
			if cell.Empty() {
				row = append(row, "-")
			} else {
				row = append(row, fmt.Sprintf("%s / %s / %s", cell.CourseCode, cell.RoomNumber, cell.TeacherName))
			}
		}
		rows = append(rows, row)
	}

	return export.Table{Headers: headers, Rows: rows}, nil
}
