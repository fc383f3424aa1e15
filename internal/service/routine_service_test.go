package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

type routineAllocFixture struct{ allocFixture }

func (r routineAllocFixture) ListByTeacher(ctx context.Context, teacherID string) ([]models.AllocationDetail, error) {
	all, err := r.ListJoined(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]models.AllocationDetail, 0, len(all))
	for _, d := range all {
		if d.TeacherID == teacherID {
			details = append(details, d)
		}
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].DayOrdinal != details[j].DayOrdinal {
			return details[i].DayOrdinal < details[j].DayOrdinal
		}
		return details[i].SlotOrdinal < details[j].SlotOrdinal
	})
	return details, nil
}

type memoryCache struct {
	data map[string][]byte
	hits int
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	c.hits++
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	c.sets++
	return nil
}

// brokenAllocReader fails every read; used to prove the cache-hit path never
// touches the database.
type brokenAllocReader struct{}

func (brokenAllocReader) ListJoined(ctx context.Context) ([]models.AllocationDetail, error) {
	return nil, errors.New("must not be called")
}

func (brokenAllocReader) ListByTeacher(ctx context.Context, teacherID string) ([]models.AllocationDetail, error) {
	return nil, errors.New("must not be called")
}

func newRoutineFixture() *ledgerFixture {
	f := baseFixture()
	f.seed("t1", "c1", "r1", "day-1", "slot-1")
	f.seed("t2", "c2", "r2", "day-2", "slot-3")
	return f
}

func TestRoutineGetEveryCellPresent(t *testing.T) {
	f := newRoutineFixture()
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, nil, nil, RoutineConfig{})

	routine, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, routine, len(f.days))

	for _, day := range f.days {
		row, ok := routine[day.Name]
		require.True(t, ok, "missing day %s", day.Name)
		require.Len(t, row, len(f.slots))
		for _, slot := range f.slots {
			_, ok := row[slot.Label()]
			require.True(t, ok, "missing cell %s / %s", day.Name, slot.Label())
		}
	}

	filled := routine["Day 1"][f.slots["slot-1"].Label()]
	assert.Equal(t, "CSE101", filled.CourseCode)
	assert.Equal(t, "301", filled.RoomNumber)
	assert.Equal(t, "Teacher One", filled.TeacherName)

	empty := routine["Day 3"][f.slots["slot-2"].Label()]
	assert.True(t, empty.Empty())
}

func TestRoutineGetCachesCompiledGrid(t *testing.T) {
	f := newRoutineFixture()
	cache := newMemoryCache()
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, cache, nil, RoutineConfig{CacheEnabled: true})

	first, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, cache.sets)

	// A second read is served from the cache; the ledger is never touched.
	cachedSvc := NewRoutineService(brokenAllocReader{}, schedCalendarFixture{f}, f, cache, nil, RoutineConfig{CacheEnabled: true})
	second, err := cachedSvc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first, second)
}

func TestRoutineCacheDisabledSkipsCache(t *testing.T) {
	f := newRoutineFixture()
	cache := newMemoryCache()
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, cache, nil, RoutineConfig{CacheEnabled: false})

	_, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cache.sets)
}

func TestRoutineTeacherSchedule(t *testing.T) {
	f := newRoutineFixture()
	f.seed("t1", "c2", "r2", "day-2", "slot-2")
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, nil, nil, RoutineConfig{})

	schedule, err := svc.TeacherSchedule(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Teacher One", schedule.TeacherName)
	require.Len(t, schedule.Entries, 2)
	assert.Equal(t, 3.0, schedule.DailyLoad["Day 1"])
	assert.Equal(t, 1.5, schedule.DailyLoad["Day 2"])
	assert.Equal(t, 4.5, schedule.WeeklyLoad)
}

func TestRoutineTeacherScheduleUnknownTeacher(t *testing.T) {
	f := newRoutineFixture()
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, nil, nil, RoutineConfig{})

	_, err := svc.TeacherSchedule(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidReference))
}

func TestRoutineExportCSV(t *testing.T) {
	f := newRoutineFixture()
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, nil, nil, RoutineConfig{})

	data, err := svc.ExportCSV(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Contains(t, string(data), "Day")
	assert.Contains(t, string(data), "CSE101 / 301 / Teacher One")
}

func TestRoutineExportPDF(t *testing.T) {
	f := newRoutineFixture()
	svc := NewRoutineService(routineAllocFixture{allocFixture{f}}, schedCalendarFixture{f}, f, nil, nil, RoutineConfig{})

	data, err := svc.ExportPDF(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}
