package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// fakeActions records every scheduled start and stop and which owner
// the connection was opened for.
type fakeActions struct {
	mu       sync.Mutex
	starts   map[string]int
	stops    map[string]int
	owners   []string
	startErr error
}

func newFakeActions() *fakeActions {
	return &fakeActions{starts: make(map[string]int), stops: make(map[string]int)}
}

func (f *fakeActions) factory() ConnectionFactory {
	return func(ctx context.Context, owner string) (Client, error) {
		f.mu.Lock()
		f.owners = append(f.owners, owner)
		f.mu.Unlock()
		return &fakeSession{f: f}, nil
	}
}

func (f *fakeActions) started(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[taskID]
}

func (f *fakeActions) stopped(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops[taskID]
}

type fakeSession struct{ f *fakeActions }

func (s *fakeSession) StartTask(ctx context.Context, taskID string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.startErr != nil {
		return s.f.startErr
	}
	s.f.starts[taskID]++
	return nil
}

func (s *fakeSession) StopTask(ctx context.Context, taskID string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.stops[taskID]++
	return nil
}

func (s *fakeSession) Close() error { return nil }

func newSchedulerFixture(t *testing.T) (storage.Store, *config.Config, *fakeActions, *Scheduler) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{ScheduleTimeout: 1}
	fake := newFakeActions()
	return store, cfg, fake, New(store, cfg, fake.factory(), nil, nil)
}

const hourlyVEvent = "BEGIN:VEVENT\nDTSTART:20250101T000000Z\nRRULE:FREQ=HOURLY\nEND:VEVENT"

// seedScheduledTask binds a task to a schedule with the given next
// fire time already computed.
func seedScheduledTask(t *testing.T, store storage.Store, taskID string, ical string, next time.Time, periods, duration int) {
	t.Helper()
	scheduleID := "sched-" + taskID
	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: scheduleID, Name: scheduleID, Owner: "owner-1",
		ICalendar: ical, Timezone: "UTC", Duration: duration,
	}))
	require.NoError(t, store.CreateTask(&types.Task{
		ID: taskID, Name: taskID, Owner: "owner-1",
		ScheduleID: scheduleID, ScheduleNext: next, SchedulePeriods: periods,
	}))
}

func taskSchedule(t *testing.T, store storage.Store, taskID string) *types.Task {
	t.Helper()
	task, err := store.GetTask(taskID)
	require.NoError(t, err)
	return task
}

func TestTickStartsDueTask(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-10*time.Second), 0, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Equal(t, 1, fake.started("task-1"))
	assert.Equal(t, []string{"owner-1"}, fake.owners, "action runs as the task owner")

	task := taskSchedule(t, store, "task-1")
	assert.True(t, task.ScheduleNext.After(now), "next fire advanced past now")
	assert.Equal(t, "sched-task-1", task.ScheduleID, "recurring schedule stays bound")

	// The same fire is consumed; a second tick starts nothing new.
	require.NoError(t, s.Tick(context.Background(), now.Add(time.Second)))
	assert.Equal(t, 1, fake.started("task-1"))
}

func TestTickSkipsStartPastTimeout(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-10*time.Minute), 0, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Zero(t, fake.started("task-1"), "overdue fire skipped")
	task := taskSchedule(t, store, "task-1")
	assert.True(t, task.ScheduleNext.After(now), "skipped fire still consumed")
}

func TestTickDisabledTimeoutStartsOverdueTask(t *testing.T) {
	store, cfg, fake, s := newSchedulerFixture(t)
	cfg.ScheduleTimeout = 0
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-10*time.Minute), 0, 0)

	require.NoError(t, s.Tick(context.Background(), now))
	assert.Equal(t, 1, fake.started("task-1"))
}

func TestOnceScheduleUnbindsAfterFire(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	dtstart := now.Add(-30 * time.Second).UTC().Truncate(time.Second)
	once := fmt.Sprintf("BEGIN:VEVENT\nDTSTART:%s\nEND:VEVENT", dtstart.Format("20060102T150405Z"))
	seedScheduledTask(t, store, "task-1", once, dtstart, 0, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Equal(t, 1, fake.started("task-1"))
	task := taskSchedule(t, store, "task-1")
	assert.Empty(t, task.ScheduleID, "spent once-off unbinds")
	assert.True(t, task.ScheduleNext.IsZero())
}

func TestLastPeriodUnbindsSchedule(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-time.Second), 1, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Equal(t, 1, fake.started("task-1"))
	task := taskSchedule(t, store, "task-1")
	assert.Empty(t, task.ScheduleID)
	assert.Zero(t, task.SchedulePeriods)
	assert.True(t, task.ScheduleNext.IsZero())
}

func TestPeriodsCountDown(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-time.Second), 3, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Equal(t, 1, fake.started("task-1"))
	task := taskSchedule(t, store, "task-1")
	assert.Equal(t, 2, task.SchedulePeriods)
	assert.Equal(t, "sched-task-1", task.ScheduleID)
	assert.False(t, task.ScheduleNext.IsZero())
}

func TestTickStopsOverrunningTask(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	// Next fire far in the future; only the duration matters here.
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(time.Hour), 0, 60)

	report := &types.Report{ID: "rep-1", TaskID: "task-1", RunStatus: types.TaskStatusRequested}
	require.NoError(t, store.CreateCurrentReport("task-1", report))
	require.NoError(t, store.SetTaskStatus("task-1", types.TaskStatusRunning))
	require.NoError(t, store.SetScanStartTime("rep-1", now.Add(-2*time.Minute)))

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Equal(t, 1, fake.stopped("task-1"))
	assert.Zero(t, fake.started("task-1"))
}

func TestTickLeavesRunWithinDuration(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(time.Hour), 0, 3600)

	report := &types.Report{ID: "rep-1", TaskID: "task-1", RunStatus: types.TaskStatusRequested}
	require.NoError(t, store.CreateCurrentReport("task-1", report))
	require.NoError(t, store.SetTaskStatus("task-1", types.TaskStatusRunning))
	require.NoError(t, store.SetScanStartTime("rep-1", now.Add(-2*time.Minute)))

	require.NoError(t, s.Tick(context.Background(), now))
	assert.Zero(t, fake.stopped("task-1"))
}

func TestStartWinsOverStopSameTick(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	// Due for a start and overrunning at once; one action only.
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-time.Second), 0, 60)

	report := &types.Report{ID: "rep-1", TaskID: "task-1", RunStatus: types.TaskStatusRequested}
	require.NoError(t, store.CreateCurrentReport("task-1", report))
	require.NoError(t, store.SetTaskStatus("task-1", types.TaskStatusRunning))
	require.NoError(t, store.SetScanStartTime("rep-1", now.Add(-2*time.Minute)))

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Equal(t, 1, fake.started("task-1"))
	assert.Zero(t, fake.stopped("task-1"))
}

func TestDuplicateBindingRowsStartOnce(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-time.Second), 0, 0)

	rows := s.snapshot()
	require.Len(t, rows, 1)
	dup := *rows[0]
	actions := s.collect([]*types.TaskSchedule{rows[0], &dup}, now)

	require.Len(t, actions, 1)
	assert.Equal(t, "task-1", actions[0].taskID)
	assert.False(t, actions[0].stop)

	s.execute(context.Background(), actions)
	assert.Equal(t, 1, fake.started("task-1"))
}

func TestInitialiseComputesFirstFire(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	now := time.Now()
	dtstart := now.Add(time.Hour).UTC().Truncate(time.Second)
	once := fmt.Sprintf("BEGIN:VEVENT\nDTSTART:%s\nEND:VEVENT", dtstart.Format("20060102T150405Z"))
	seedScheduledTask(t, store, "task-1", once, time.Time{}, 0, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Zero(t, fake.started("task-1"), "first fire is in the future")
	task := taskSchedule(t, store, "task-1")
	assert.True(t, task.ScheduleNext.Equal(dtstart), "got %v want %v", task.ScheduleNext, dtstart)
}

func TestStartFailureConsumesFire(t *testing.T) {
	store, _, fake, s := newSchedulerFixture(t)
	fake.startErr = types.ErrTaskActive
	now := time.Now()
	seedScheduledTask(t, store, "task-1", hourlyVEvent, now.Add(-time.Second), 0, 0)

	require.NoError(t, s.Tick(context.Background(), now))

	assert.Zero(t, fake.started("task-1"))
	task := taskSchedule(t, store, "task-1")
	assert.True(t, task.ScheduleNext.After(now), "failed start does not rewind the schedule")
}

func TestAutoDeleteKeepsNewestReports(t *testing.T) {
	store, _, _, s := newSchedulerFixture(t)
	now := time.Now()

	require.NoError(t, store.CreateTask(&types.Task{
		ID: "task-1", Name: "task-1", Owner: "owner-1",
		Status: types.TaskStatusDone, AutoDeleteData: 2,
	}))
	for i := 0; i < 4; i++ {
		require.NoError(t, store.CreateReport(&types.Report{
			ID:        fmt.Sprintf("rep-%d", i),
			TaskID:    "task-1",
			RunStatus: types.TaskStatusDone,
			CreatedAt: now.Add(time.Duration(i) * time.Hour),
		}))
	}
	// A stopped run never auto-deletes.
	require.NoError(t, store.CreateReport(&types.Report{
		ID: "rep-stopped", TaskID: "task-1",
		RunStatus: types.TaskStatusStopped, CreatedAt: now.Add(-24 * time.Hour),
	}))

	require.NoError(t, s.Tick(context.Background(), now))

	reports, err := store.ListTaskReports("task-1")
	require.NoError(t, err)
	ids := make(map[string]bool, len(reports))
	for _, r := range reports {
		ids[r.ID] = true
	}
	assert.Equal(t, map[string]bool{"rep-2": true, "rep-3": true, "rep-stopped": true}, ids)
}
