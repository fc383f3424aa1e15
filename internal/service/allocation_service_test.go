package service

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

// ledgerFixture is an in-memory stand-in for the allocation and catalog
// repositories. It mirrors the SQL queries' semantics closely enough to
// exercise the validator's ordering and the capacity counter.
type ledgerFixture struct {
	mu       sync.Mutex
	teachers map[string]models.Teacher
	courses  map[string]*models.Course
	rooms    map[string]models.Room
	days     map[string]models.Day
	slots    map[string]models.TimeSlot
	allocs   map[string]models.Allocation
	seq      int
}

func newLedgerFixture() *ledgerFixture {
	f := &ledgerFixture{
		teachers: map[string]models.Teacher{},
		courses:  map[string]*models.Course{},
		rooms:    map[string]models.Room{},
		days:     map[string]models.Day{},
		slots:    map[string]models.TimeSlot{},
		allocs:   map[string]models.Allocation{},
	}
	for i := 1; i <= 5; i++ {
		f.days[fmt.Sprintf("day-%d", i)] = models.Day{ID: fmt.Sprintf("day-%d", i), Name: fmt.Sprintf("Day %d", i), Ordinal: i}
	}
	for i := 1; i <= 6; i++ {
		f.slots[fmt.Sprintf("slot-%d", i)] = models.TimeSlot{ID: fmt.Sprintf("slot-%d", i), StartTime: fmt.Sprintf("%02d:00", 7+i), EndTime: fmt.Sprintf("%02d:15", 8+i), Ordinal: i}
	}
	return f
}

func (f *ledgerFixture) addTeacher(id, name string) {
	f.teachers[id] = models.Teacher{ID: id, FullName: name, Email: id + "@example.com"}
}

func (f *ledgerFixture) addCourse(id, code string, creditHours float64, remaining int) {
	f.courses[id] = &models.Course{ID: id, Code: code, Name: "Course " + code, CreditHours: creditHours, RemainingCapacity: remaining}
}

func (f *ledgerFixture) addRoom(id, number string) {
	f.rooms[id] = models.Room{ID: id, RoomNumber: number, Capacity: 40}
}

func (f *ledgerFixture) seed(teacherID, courseID, roomID, dayID, slotID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("alloc-%d", f.seq)
	f.allocs[id] = models.Allocation{ID: id, TeacherID: teacherID, CourseID: courseID, RoomID: roomID, DayID: dayID, SlotID: slotID}
	return id
}

func (f *ledgerFixture) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if t, ok := f.teachers[id]; ok {
		return &t, nil
	}
	return nil, sql.ErrNoRows
}

func (f *ledgerFixture) FindDay(ctx context.Context, id string) (*models.Day, error) {
	if d, ok := f.days[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (f *ledgerFixture) FindSlot(ctx context.Context, id string) (*models.TimeSlot, error) {
	if s, ok := f.slots[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

// courseReaderFixture adapts the fixture's course map to the course interfaces
// without colliding with the teacher FindByID method set.
type courseReaderFixture struct{ f *ledgerFixture }

func (c courseReaderFixture) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if course, ok := c.f.courses[id]; ok {
		copied := *course
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (c courseReaderFixture) RemainingCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	course, ok := c.f.courses[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return course.RemainingCapacity, nil
}

func (c courseReaderFixture) DecrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	course, ok := c.f.courses[id]
	if !ok || course.RemainingCapacity <= 0 {
		return false, nil
	}
	course.RemainingCapacity--
	return true, nil
}

func (c courseReaderFixture) IncrementCapacity(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	course, ok := c.f.courses[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	course.RemainingCapacity++
	return course.RemainingCapacity, nil
}

// roomReaderFixture adapts the fixture's room map.
type roomReaderFixture struct{ f *ledgerFixture }

func (r roomReaderFixture) FindByID(ctx context.Context, id string) (*models.Room, error) {
	if room, ok := r.f.rooms[id]; ok {
		return &room, nil
	}
	return nil, sql.ErrNoRows
}

// allocFixture adapts the fixture's ledger map.
type allocFixture struct{ f *ledgerFixture }

func (a allocFixture) ListJoined(ctx context.Context) ([]models.AllocationDetail, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	details := make([]models.AllocationDetail, 0, len(a.f.allocs))
	for id := range a.f.allocs {
		details = append(details, a.detailLocked(id))
	}
	return details, nil
}

func (a allocFixture) FindDetail(ctx context.Context, id string) (*models.AllocationDetail, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	if _, ok := a.f.allocs[id]; !ok {
		return nil, sql.ErrNoRows
	}
	detail := a.detailLocked(id)
	return &detail, nil
}

func (a allocFixture) detailLocked(id string) models.AllocationDetail {
	alloc := a.f.allocs[id]
	course := a.f.courses[alloc.CourseID]
	day := a.f.days[alloc.DayID]
	slot := a.f.slots[alloc.SlotID]
	return models.AllocationDetail{
		ID:          alloc.ID,
		TeacherID:   alloc.TeacherID,
		CourseID:    alloc.CourseID,
		RoomID:      alloc.RoomID,
		DayID:       alloc.DayID,
		SlotID:      alloc.SlotID,
		TeacherName: a.f.teachers[alloc.TeacherID].FullName,
		CourseCode:  course.Code,
		CourseName:  course.Name,
		CreditHours: course.CreditHours,
		RoomNumber:  a.f.rooms[alloc.RoomID].RoomNumber,
		DayName:     day.Name,
		DayOrdinal:  day.Ordinal,
		StartTime:   slot.StartTime,
		EndTime:     slot.EndTime,
		SlotOrdinal: slot.Ordinal,
	}
}

func (a allocFixture) RoomOccupied(ctx context.Context, exec sqlx.ExtContext, roomID, dayID, slotID string) (bool, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	for _, alloc := range a.f.allocs {
		if alloc.RoomID == roomID && alloc.DayID == dayID && alloc.SlotID == slotID {
			return true, nil
		}
	}
	return false, nil
}

func (a allocFixture) TeacherOccupied(ctx context.Context, exec sqlx.ExtContext, teacherID, dayID, slotID string) (bool, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	for _, alloc := range a.f.allocs {
		if alloc.TeacherID == teacherID && alloc.DayID == dayID && alloc.SlotID == slotID {
			return true, nil
		}
	}
	return false, nil
}

func (a allocFixture) TeacherDayLoad(ctx context.Context, exec sqlx.ExtContext, teacherID, dayID string) (float64, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	var load float64
	for _, alloc := range a.f.allocs {
		if alloc.TeacherID == teacherID && alloc.DayID == dayID {
			load += a.f.courses[alloc.CourseID].CreditHours
		}
	}
	return load, nil
}

func (a allocFixture) TeacherWeekLoad(ctx context.Context, exec sqlx.ExtContext, teacherID string) (float64, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	var load float64
	for _, alloc := range a.f.allocs {
		if alloc.TeacherID == teacherID {
			load += a.f.courses[alloc.CourseID].CreditHours
		}
	}
	return load, nil
}

func (a allocFixture) Insert(ctx context.Context, exec sqlx.ExtContext, allocation *models.Allocation) error {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	if allocation.ID == "" {
		a.f.seq++
		allocation.ID = fmt.Sprintf("alloc-%d", a.f.seq)
	}
	a.f.allocs[allocation.ID] = *allocation
	return nil
}

func (a allocFixture) DeleteReturningCourse(ctx context.Context, exec sqlx.ExtContext, id string) (string, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	alloc, ok := a.f.allocs[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(a.f.allocs, id)
	return alloc.CourseID, nil
}

type cacheSpy struct {
	mu          sync.Mutex
	invalidated int
}

func (c *cacheSpy) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return nil
}

func newAllocationTxMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &allocationTxMock{db: sqlxdb}, mock
}

type allocationTxMock struct{ db *sqlx.DB }

func (m *allocationTxMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

func newAllocationServiceFixture(t *testing.T, f *ledgerFixture, mock func(sqlmock.Sqlmock)) (*AllocationService, *cacheSpy) {
	tx, sqlMock := newAllocationTxMock(t)
	if mock != nil {
		mock(sqlMock)
	}
	spy := &cacheSpy{}
	svc := NewAllocationService(
		allocFixture{f}, courseReaderFixture{f}, f, roomReaderFixture{f}, f,
		tx, spy, nil, nil, AllocationConfig{DailyLimit: 4, WeeklyLimit: 13}, nil,
	)
	return svc, spy
}

func baseFixture() *ledgerFixture {
	f := newLedgerFixture()
	f.addTeacher("t1", "Teacher One")
	f.addTeacher("t2", "Teacher Two")
	f.addCourse("c1", "CSE101", 3, 2)
	f.addCourse("c2", "CSE102", 1.5, 1)
	f.addRoom("r1", "301")
	f.addRoom("r2", "302")
	return f
}

func createReq(teacher, course, room, day, slot string) CreateAllocationRequest {
	return CreateAllocationRequest{TeacherID: teacher, CourseID: course, RoomID: room, DayID: day, SlotID: slot}
}

func TestAllocationServiceCreateSuccess(t *testing.T) {
	f := baseFixture()
	svc, spy := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectCommit()
	})

	detail, err := svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-1", "slot-1"))
	require.NoError(t, err)
	assert.Equal(t, "Teacher One", detail.TeacherName)
	assert.Equal(t, "CSE101", detail.CourseCode)
	assert.Equal(t, "301", detail.RoomNumber)
	assert.Equal(t, 1, f.courses["c1"].RemainingCapacity)
	assert.Equal(t, 1, spy.invalidated)
}

func TestAllocationServiceCreateInvalidReference(t *testing.T) {
	f := baseFixture()
	svc, _ := newAllocationServiceFixture(t, f, nil)

	_, err := svc.Create(context.Background(), createReq("ghost", "c1", "r1", "day-1", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidReference))
	assert.Empty(t, f.allocs)
	assert.Equal(t, 2, f.courses["c1"].RemainingCapacity)
}

func TestAllocationServiceCreateRoomConflict(t *testing.T) {
	f := baseFixture()
	f.seed("t2", "c2", "r1", "day-1", "slot-1")
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectRollback()
	})

	_, err := svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-1", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrRoomConflict))
}

func TestAllocationServiceCreateTeacherConflict(t *testing.T) {
	f := baseFixture()
	f.seed("t1", "c2", "r2", "day-1", "slot-1")
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectRollback()
	})

	_, err := svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-1", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTeacherConflict))
}

// The room check outranks the teacher check when both would fail.
func TestAllocationServiceRejectionOrderRoomBeforeTeacher(t *testing.T) {
	f := baseFixture()
	f.seed("t1", "c2", "r1", "day-1", "slot-1")
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectRollback()
	})

	_, err := svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-1", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrRoomConflict))
}

func TestAllocationServiceCapacityTwoThenExhausted(t *testing.T) {
	f := baseFixture()
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.MatchExpectationsInOrder(false)
		for i := 0; i < 3; i++ {
			m.ExpectBegin()
		}
		m.ExpectCommit()
		m.ExpectCommit()
		m.ExpectRollback()
	})

	_, err := svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-1", "slot-1"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-2", "slot-1"))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-3", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCourseExhausted))
	assert.Equal(t, 0, f.courses["c1"].RemainingCapacity)
	assert.Len(t, f.allocs, 2)
}

func TestAllocationServiceDailyWorkloadDetails(t *testing.T) {
	f := baseFixture()
	f.addCourse("heavy", "CSE350", 3.5, 1)
	f.seed("t1", "heavy", "r2", "day-1", "slot-2")
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectRollback()
	})

	_, err := svc.Create(context.Background(), createReq("t1", "c2", "r1", "day-1", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDailyWorkload))

	typed := appErrors.FromError(err)
	assert.Equal(t, 3.5, typed.Details["current"])
	assert.Equal(t, 1.5, typed.Details["attempted"])
	assert.Equal(t, 4.0, typed.Details["limit"])
}

func TestAllocationServiceWeeklyWorkloadExceeded(t *testing.T) {
	f := baseFixture()
	// Four 3-credit sessions spread over four days keep every day under the
	// daily ceiling while pushing the week to 12.
	for i := 1; i <= 4; i++ {
		courseID := fmt.Sprintf("w%d", i)
		f.addCourse(courseID, fmt.Sprintf("CSE2%02d", i), 3, 1)
		f.seed("t1", courseID, "r2", fmt.Sprintf("day-%d", i), "slot-1")
	}
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectRollback()
	})

	_, err := svc.Create(context.Background(), createReq("t1", "c2", "r1", "day-5", "slot-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrWeeklyWorkload))

	typed := appErrors.FromError(err)
	assert.Equal(t, 12.0, typed.Details["current"])
	assert.Equal(t, 1.5, typed.Details["attempted"])
}

func TestAllocationServiceCreateDeleteRestoresCapacity(t *testing.T) {
	f := baseFixture()
	svc, spy := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectCommit()
		m.ExpectBegin()
		m.ExpectCommit()
	})

	detail, err := svc.Create(context.Background(), createReq("t1", "c1", "r1", "day-1", "slot-1"))
	require.NoError(t, err)
	require.Equal(t, 1, f.courses["c1"].RemainingCapacity)

	result, err := svc.Delete(context.Background(), detail.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", result.CourseID)
	assert.Equal(t, 2, result.RemainingCapacity)
	assert.Equal(t, 2, f.courses["c1"].RemainingCapacity)
	assert.Empty(t, f.allocs)
	assert.Equal(t, 2, spy.invalidated)
}

func TestAllocationServiceDeleteMissing(t *testing.T) {
	f := baseFixture()
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectRollback()
	})

	_, err := svc.Delete(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

// Exactly one of two concurrent candidates for the same (room, day, slot) may
// commit; the mutex serializes them and the loser sees a conflict.
func TestAllocationServiceConcurrentSameSlot(t *testing.T) {
	f := baseFixture()
	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.MatchExpectationsInOrder(false)
		m.ExpectBegin()
		m.ExpectBegin()
		m.ExpectCommit()
		m.ExpectRollback()
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	reqs := []CreateAllocationRequest{
		createReq("t1", "c1", "r1", "day-1", "slot-1"),
		createReq("t2", "c2", "r1", "day-1", "slot-1"),
	}
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), reqs[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, appErrors.HasCode(err, appErrors.ErrRoomConflict))
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.allocs, 1)
}

// assertLedgerInvariants checks room exclusivity, teacher exclusivity, the
// capacity accounting and both workload ceilings over the fixture state.
func assertLedgerInvariants(t *testing.T, f *ledgerFixture, initial map[string]int) {
	t.Helper()
	roomSeen := map[string]bool{}
	teacherSeen := map[string]bool{}
	used := map[string]int{}
	dayLoad := map[string]float64{}
	weekLoad := map[string]float64{}

	for _, alloc := range f.allocs {
		roomKey := alloc.RoomID + "|" + alloc.DayID + "|" + alloc.SlotID
		require.False(t, roomSeen[roomKey], "room double booked at %s", roomKey)
		roomSeen[roomKey] = true

		teacherKey := alloc.TeacherID + "|" + alloc.DayID + "|" + alloc.SlotID
		require.False(t, teacherSeen[teacherKey], "teacher double booked at %s", teacherKey)
		teacherSeen[teacherKey] = true

		used[alloc.CourseID]++
		ch := f.courses[alloc.CourseID].CreditHours
		dayLoad[alloc.TeacherID+"|"+alloc.DayID] += ch
		weekLoad[alloc.TeacherID] += ch
	}

	for id, course := range f.courses {
		require.Equal(t, initial[id]-used[id], course.RemainingCapacity, "capacity accounting broken for %s", id)
	}
	for key, load := range dayLoad {
		require.LessOrEqual(t, load, 4.0, "daily ceiling broken for %s", key)
	}
	for key, load := range weekLoad {
		require.LessOrEqual(t, load, 13.0, "weekly ceiling broken for %s", key)
	}
}

func TestAllocationServiceRandomizedSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	f := newLedgerFixture()
	teachers := []string{"t1", "t2", "t3"}
	rooms := []string{"r1", "r2"}
	initial := map[string]int{}
	for _, id := range teachers {
		f.addTeacher(id, "Teacher "+id)
	}
	for _, id := range rooms {
		f.addRoom(id, "Room "+id)
	}
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("c%d", i)
		if i%2 == 0 {
			f.addCourse(id, fmt.Sprintf("CSE%d", 100+i), 1.5, 1)
			initial[id] = 1
		} else {
			f.addCourse(id, fmt.Sprintf("CSE%d", 100+i), 3, 2)
			initial[id] = 2
		}
	}

	svc, _ := newAllocationServiceFixture(t, f, func(m sqlmock.Sqlmock) {
		m.MatchExpectationsInOrder(false)
		for i := 0; i < 400; i++ {
			m.ExpectBegin()
			m.ExpectCommit()
			m.ExpectRollback()
		}
	})

	var created []string
	for i := 0; i < 200; i++ {
		if len(created) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(created))
			id := created[idx]
			if _, err := svc.Delete(context.Background(), id); err == nil {
				created = append(created[:idx], created[idx+1:]...)
			}
		} else {
			req := createReq(
				teachers[rng.Intn(len(teachers))],
				fmt.Sprintf("c%d", 1+rng.Intn(6)),
				rooms[rng.Intn(len(rooms))],
				fmt.Sprintf("day-%d", 1+rng.Intn(5)),
				fmt.Sprintf("slot-%d", 1+rng.Intn(6)),
			)
			if detail, err := svc.Create(context.Background(), req); err == nil {
				created = append(created, detail.ID)
			}
		}
		assertLedgerInvariants(t, f, initial)
	}
}
