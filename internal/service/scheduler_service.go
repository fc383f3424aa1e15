package service

import (
	"context"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-routine-api/internal/dto"
	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

type schedulerAllocationRepository interface {
	ListAll(ctx context.Context) ([]models.Allocation, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, allocation *models.Allocation) error
	DeleteAll(ctx context.Context, exec sqlx.ExtContext) error
}

type schedulerCourseRepository interface {
	ListAll(ctx context.Context) ([]models.Course, error)
	ResetCapacities(ctx context.Context, exec sqlx.ExtContext) error
	DecrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
}

type schedulerTeacherRepository interface {
	ListAll(ctx context.Context) ([]models.Teacher, error)
}

type schedulerRoomRepository interface {
	List(ctx context.Context) ([]models.Room, error)
}

type schedulerCalendarRepository interface {
	ListDays(ctx context.Context) ([]models.Day, error)
	ListSlots(ctx context.Context) ([]models.TimeSlot, error)
}

// SchedulerConfig controls the regenerate run.
type SchedulerConfig struct {
	// RebuildAll wipes the ledger and re-places every course at full capacity.
	// When false, manual allocations are kept and only remaining capacity is
	// placed.
	RebuildAll bool
	// MaxNodes bounds the backtracking search.
	MaxNodes int
}

// SchedulerService fills unmet course demand with a bounded backtracking
// search. Placements are committed in a single transaction only when every
// session found a home; otherwise the ledger is left untouched.
type SchedulerService struct {
	allocations schedulerAllocationRepository
	courses     schedulerCourseRepository
	teachers    schedulerTeacherRepository
	rooms       schedulerRoomRepository
	calendar    schedulerCalendarRepository
	tx          txProvider
	cache       routineInvalidator
	logger      *zap.Logger
	cfg         SchedulerConfig
	workload    AllocationConfig
	mu          *sync.Mutex
}

// NewSchedulerService wires the scheduler. The mutex must be the one the
// allocation service serializes on.
func NewSchedulerService(
	allocations schedulerAllocationRepository,
	courses schedulerCourseRepository,
	teachers schedulerTeacherRepository,
	rooms schedulerRoomRepository,
	calendar schedulerCalendarRepository,
	tx txProvider,
	cache routineInvalidator,
	logger *zap.Logger,
	cfg SchedulerConfig,
	workload AllocationConfig,
	mu *sync.Mutex,
) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = 200000
	}
	if workload.DailyLimit <= 0 {
		workload.DailyLimit = 4
	}
	if workload.WeeklyLimit <= 0 {
		workload.WeeklyLimit = 13
	}
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &SchedulerService{
		allocations: allocations,
		courses:     courses,
		teachers:    teachers,
		rooms:       rooms,
		calendar:    calendar,
		tx:          tx,
		cache:       cache,
		logger:      logger,
		cfg:         cfg,
		workload:    workload,
		mu:          mu,
	}
}

// courseDemand is one course's unmet session count with its bound teacher.
type courseDemand struct {
	course    models.Course
	teacherID string
	remaining int
}

// candidateSlot is one (day, slot, room) position in deterministic order.
type candidateSlot struct {
	dayID  string
	slotID string
	roomID string
}

// schedulerState mirrors the validator's conflict and workload checks over an
// in-memory partial assignment.
type schedulerState struct {
	roomBusy    map[string]bool
	teacherBusy map[string]bool
	dayLoad     map[string]float64
	weekLoad    map[string]float64
	dailyLimit  float64
	weeklyLimit float64
}

func newSchedulerState(dailyLimit, weeklyLimit float64) *schedulerState {
	return &schedulerState{
		roomBusy:    make(map[string]bool),
		teacherBusy: make(map[string]bool),
		dayLoad:     make(map[string]float64),
		weekLoad:    make(map[string]float64),
		dailyLimit:  dailyLimit,
		weeklyLimit: weeklyLimit,
	}
}

func (st *schedulerState) canPlace(d *courseDemand, c candidateSlot) bool {
	if st.roomBusy[c.roomID+"|"+c.dayID+"|"+c.slotID] {
		return false
	}
	if st.teacherBusy[d.teacherID+"|"+c.dayID+"|"+c.slotID] {
		return false
	}
	if st.dayLoad[d.teacherID+"|"+c.dayID]+d.course.CreditHours > st.dailyLimit {
		return false
	}
	if st.weekLoad[d.teacherID]+d.course.CreditHours > st.weeklyLimit {
		return false
	}
	return true
}

func (st *schedulerState) place(d *courseDemand, c candidateSlot) {
	st.roomBusy[c.roomID+"|"+c.dayID+"|"+c.slotID] = true
	st.teacherBusy[d.teacherID+"|"+c.dayID+"|"+c.slotID] = true
	st.dayLoad[d.teacherID+"|"+c.dayID] += d.course.CreditHours
	st.weekLoad[d.teacherID] += d.course.CreditHours
	d.remaining--
}

func (st *schedulerState) unplace(d *courseDemand, c candidateSlot) {
	delete(st.roomBusy, c.roomID+"|"+c.dayID+"|"+c.slotID)
	delete(st.teacherBusy, d.teacherID+"|"+c.dayID+"|"+c.slotID)
	st.dayLoad[d.teacherID+"|"+c.dayID] -= d.course.CreditHours
	st.weekLoad[d.teacherID] -= d.course.CreditHours
	d.remaining++
}

// Regenerate runs the search and commits the result. Exclusive with every
// other ledger mutation.
func (s *SchedulerService) Regenerate(ctx context.Context, req dto.RegenerateRequest) (*dto.RegenerateResult, error) {
	rebuildAll := s.cfg.RebuildAll
	if req.RebuildAll != nil {
		rebuildAll = *req.RebuildAll
	}
	maxNodes := s.cfg.MaxNodes
	if req.MaxNodes != nil && *req.MaxNodes > 0 {
		maxNodes = *req.MaxNodes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.calendar.ListDays(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list days")
	}
	slots, err := s.calendar.ListSlots(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time slots")
	}
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rooms")
	}
	teachers, err := s.teachers.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	courses, err := s.courses.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	existing, err := s.allocations.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list allocations")
	}

	courseByID := make(map[string]models.Course, len(courses))
	for _, c := range courses {
		courseByID[c.ID] = c
	}

	state := newSchedulerState(s.workload.DailyLimit, s.workload.WeeklyLimit)
	courseTeacher := make(map[string]string)
	if !rebuildAll {
		for _, a := range existing {
			ch := courseByID[a.CourseID].CreditHours
			state.roomBusy[a.RoomID+"|"+a.DayID+"|"+a.SlotID] = true
			state.teacherBusy[a.TeacherID+"|"+a.DayID+"|"+a.SlotID] = true
			state.dayLoad[a.TeacherID+"|"+a.DayID] += ch
			state.weekLoad[a.TeacherID] += ch
			if _, bound := courseTeacher[a.CourseID]; !bound {
				courseTeacher[a.CourseID] = a.TeacherID
			}
		}
	}

	demands := s.buildDemands(courses, teachers, courseTeacher, state, rebuildAll)
	candidates := buildCandidates(days, slots, rooms)

	totalDemand := 0
	for _, d := range demands {
		totalDemand += d.remaining
	}
	if totalDemand == 0 {
		return &dto.RegenerateResult{Complete: true}, nil
	}

	search := &schedulerSearch{
		state:      state,
		demands:    demands,
		candidates: candidates,
		maxNodes:   maxNodes,
	}
	complete := search.run()

	if search.budgetExhausted {
		return nil, appErrors.WithDetails(appErrors.ErrSearchBudget, map[string]interface{}{
			"max_nodes":      maxNodes,
			"nodes_explored": search.nodes,
			"unplaceable":    unplaceableCourses(search.bestUnplaced),
		})
	}
	if !complete {
		s.logger.Warn("regenerate found no complete assignment",
			zap.Int("nodes_explored", search.nodes),
			zap.Int("unplaceable", len(search.bestUnplaced)),
		)
		return &dto.RegenerateResult{
			Complete:      false,
			NodesExplored: search.nodes,
			Unplaceable:   unplaceableCourses(search.bestUnplaced),
		}, nil
	}

	if err := s.commit(ctx, rebuildAll, search.placements); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.logger.Info("regenerate committed",
		zap.Int("placed", len(search.placements)),
		zap.Int("nodes_explored", search.nodes),
		zap.Bool("rebuild_all", rebuildAll),
	)
	return &dto.RegenerateResult{
		Complete:      true,
		Placed:        len(search.placements),
		NodesExplored: search.nodes,
	}, nil
}

// buildDemands binds each course with unmet capacity to a teacher and returns
// the demand list. A course keeps its already-allocated teacher; otherwise it
// takes the least-loaded one, counting load the binding itself adds.
func (s *SchedulerService) buildDemands(
	courses []models.Course,
	teachers []models.Teacher,
	courseTeacher map[string]string,
	state *schedulerState,
	rebuildAll bool,
) []*courseDemand {
	projected := make(map[string]float64, len(teachers))
	for id, load := range state.weekLoad {
		projected[id] = load
	}

	sorted := make([]models.Course, len(courses))
	copy(sorted, courses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	demands := make([]*courseDemand, 0, len(sorted))
	for _, course := range sorted {
		remaining := course.RemainingCapacity
		if rebuildAll {
			remaining = models.SessionsForCreditHours(course.CreditHours)
		}
		if remaining <= 0 {
			continue
		}

		teacherID, bound := courseTeacher[course.ID]
		if !bound {
			for _, t := range teachers {
				if teacherID == "" || projected[t.ID] < projected[teacherID] {
					teacherID = t.ID
				}
			}
		}
		if teacherID == "" {
			continue
		}
		projected[teacherID] += course.CreditHours * float64(remaining)

		demands = append(demands, &courseDemand{
			course:    course,
			teacherID: teacherID,
			remaining: remaining,
		})
	}
	return demands
}

// buildCandidates enumerates (day, slot, room) positions ordered by day
// ordinal, slot ordinal, then room capacity with room number as tiebreak.
func buildCandidates(days []models.Day, slots []models.TimeSlot, rooms []models.Room) []candidateSlot {
	sortedDays := make([]models.Day, len(days))
	copy(sortedDays, days)
	sort.Slice(sortedDays, func(i, j int) bool { return sortedDays[i].Ordinal < sortedDays[j].Ordinal })

	sortedSlots := make([]models.TimeSlot, len(slots))
	copy(sortedSlots, slots)
	sort.Slice(sortedSlots, func(i, j int) bool { return sortedSlots[i].Ordinal < sortedSlots[j].Ordinal })

	sortedRooms := make([]models.Room, len(rooms))
	copy(sortedRooms, rooms)
	sort.Slice(sortedRooms, func(i, j int) bool {
		if sortedRooms[i].Capacity != sortedRooms[j].Capacity {
			return sortedRooms[i].Capacity < sortedRooms[j].Capacity
		}
		return sortedRooms[i].RoomNumber < sortedRooms[j].RoomNumber
	})

	candidates := make([]candidateSlot, 0, len(sortedDays)*len(sortedSlots)*len(sortedRooms))
	for _, d := range sortedDays {
		for _, sl := range sortedSlots {
			for _, r := range sortedRooms {
				candidates = append(candidates, candidateSlot{dayID: d.ID, slotID: sl.ID, roomID: r.ID})
			}
		}
	}
	return candidates
}

// schedulerSearch is one backtracking run over the demand list.
type schedulerSearch struct {
	state      *schedulerState
	demands    []*courseDemand
	candidates []candidateSlot

	maxNodes        int
	nodes           int
	budgetExhausted bool

	placements   []models.Allocation
	bestUnplaced []*courseDemand
	bestLeft     int
}

func (s *schedulerSearch) run() bool {
	s.bestLeft = -1
	return s.step()
}

func (s *schedulerSearch) step() bool {
	demand := s.pickMostConstrained()
	if demand == nil {
		return true
	}
	if s.nodes >= s.maxNodes {
		s.budgetExhausted = true
		s.recordPartial()
		return false
	}

	tried := false
	for _, c := range s.candidates {
		if !s.state.canPlace(demand, c) {
			continue
		}
		tried = true
		s.nodes++

		s.state.place(demand, c)
		s.placements = append(s.placements, models.Allocation{
			TeacherID: demand.teacherID,
			CourseID:  demand.course.ID,
			RoomID:    c.roomID,
			DayID:     c.dayID,
			SlotID:    c.slotID,
		})
		if s.step() {
			return true
		}
		s.placements = s.placements[:len(s.placements)-1]
		s.state.unplace(demand, c)

		if s.budgetExhausted {
			return false
		}
	}

	if !tried {
		s.recordPartial()
	}
	return false
}

// pickMostConstrained returns the unmet demand with the fewest feasible
// candidates, course code as tiebreak. Nil when all demand is met.
func (s *schedulerSearch) pickMostConstrained() *courseDemand {
	var picked *courseDemand
	pickedOptions := 0
	for _, d := range s.demands {
		if d.remaining <= 0 {
			continue
		}
		options := 0
		for _, c := range s.candidates {
			if s.state.canPlace(d, c) {
				options++
			}
		}
		if picked == nil || options < pickedOptions {
			picked = d
			pickedOptions = options
		}
	}
	return picked
}

func (s *schedulerSearch) recordPartial() {
	left := 0
	for _, d := range s.demands {
		left += d.remaining
	}
	if s.bestLeft != -1 && left >= s.bestLeft {
		return
	}
	s.bestLeft = left
	s.bestUnplaced = s.bestUnplaced[:0]
	for _, d := range s.demands {
		if d.remaining > 0 {
			copied := *d
			s.bestUnplaced = append(s.bestUnplaced, &copied)
		}
	}
}

func unplaceableCourses(demands []*courseDemand) []dto.UnplaceableCourse {
	out := make([]dto.UnplaceableCourse, 0, len(demands))
	for _, d := range demands {
		out = append(out, dto.UnplaceableCourse{
			CourseID:   d.course.ID,
			CourseCode: d.course.Code,
			Remaining:  d.remaining,
		})
	}
	return out
}

// commit persists the placements in one transaction. Rebuild mode wipes the
// ledger and resets capacity counters first.
func (s *SchedulerService) commit(ctx context.Context, rebuildAll bool, placements []models.Allocation) (err error) {
	var tx *sqlx.Tx
	tx, err = s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if rebuildAll {
		if err = s.allocations.DeleteAll(ctx, tx); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear allocations")
		}
		if err = s.courses.ResetCapacities(ctx, tx); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset course capacities")
		}
	}

	for i := range placements {
		p := placements[i]
		if err = s.allocations.Insert(ctx, tx, &p); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert scheduled allocation")
		}
		var consumed bool
		if consumed, err = s.courses.DecrementCapacity(ctx, tx, p.CourseID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume course capacity")
		} else if !consumed {
			err = appErrors.Clone(appErrors.ErrCourseExhausted, "")
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule")
	}
	return nil
}

func (s *SchedulerService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, routineCachePattern); err != nil {
		s.logger.Warn("failed to invalidate routine cache", zap.Error(err))
	}
}
