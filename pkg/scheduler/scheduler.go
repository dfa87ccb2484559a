package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/dispatch"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// Client is the owner-bound controller session a scheduled action runs
// through. Actions pass the same permission checks a user-initiated
// start or stop would.
type Client interface {
	StartTask(ctx context.Context, taskID string) error
	StopTask(ctx context.Context, taskID string) error
	Close() error
}

// ConnectionFactory opens a Client acting as the given owner.
type ConnectionFactory func(ctx context.Context, owner string) (Client, error)

// Scheduler fires calendar-driven task starts and duration stops. It
// keeps no state between ticks; everything is re-read from the store,
// so a restart can never double a fire.
type Scheduler struct {
	store   storage.Store
	cfg     *config.Config
	connect ConnectionFactory
	events  *events.Broker
	vts     *dispatch.VTCache
	logger  zerolog.Logger
}

// New wires a scheduler. vts may be nil when no scan dispatch needs
// the VT cache kept fresh.
func New(store storage.Store, cfg *config.Config, connect ConnectionFactory, broker *events.Broker, vts *dispatch.VTCache) *Scheduler {
	return &Scheduler{
		store:   store,
		cfg:     cfg,
		connect: connect,
		events:  broker,
		vts:     vts,
		logger:  log.WithComponent("scheduler"),
	}
}

// action is one schedule-driven start or stop, decided under the
// snapshot and executed after it.
type action struct {
	taskID string
	owner  string
	stop   bool
}

// Tick runs one scheduling pass: refresh the VT cache if a feed sync
// landed, trim auto-deleted reports, then decide and execute the
// schedule actions due at now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.refreshVTCache()
	s.autoDeleteReports()
	s.execute(ctx, s.collect(s.snapshot(), now))
	return nil
}

// collect decides every action for this tick from a snapshot of the
// task-schedule bindings: at most one per task, even when a task shows
// up under several rows. Next-fire times advance before any action
// runs, so a crash mid-tick can lose a start but never repeat one.
func (s *Scheduler) collect(rows []*types.TaskSchedule, now time.Time) []action {
	var actions []action
	seen := make(map[string]bool)

	for _, ts := range rows {
		if ts.NextTime.IsZero() {
			s.initialise(ts, now)
			continue
		}
		if seen[ts.TaskID] || ts.NextTime.After(now) {
			continue
		}
		if a, ok := s.fire(ts, now); ok {
			actions = append(actions, a)
			seen[a.taskID] = true
		}
	}

	for _, ts := range rows {
		if ts.Duration <= 0 || seen[ts.TaskID] {
			continue
		}
		if s.overran(ts, now) {
			actions = append(actions, action{taskID: ts.TaskID, owner: ts.Owner, stop: true})
			seen[ts.TaskID] = true
		}
	}
	return actions
}

// snapshot copies the bindings out of the read transaction; schedule
// advances write back outside it.
func (s *Scheduler) snapshot() []*types.TaskSchedule {
	var rows []*types.TaskSchedule
	err := s.store.ForEachTaskSchedule(func(ts *types.TaskSchedule) error {
		rows = append(rows, ts)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("schedule snapshot failed")
	}
	return rows
}

// initialise computes the first fire of a freshly bound schedule. A
// calendar whose occurrences are all in the past never fires.
func (s *Scheduler) initialise(ts *types.TaskSchedule, now time.Time) {
	next, err := nextFire(ts.ICalendar, ts.Timezone, now)
	if err != nil {
		s.logger.Error().Err(err).Str("task", ts.TaskID).Str("schedule", ts.ScheduleID).Msg("bad schedule calendar")
		return
	}
	if next.IsZero() {
		return
	}
	if err := s.store.SetTaskSchedule(ts.TaskID, next, ts.Periods, ts.ScheduleID); err != nil {
		s.logger.Error().Err(err).Str("task", ts.TaskID).Msg("failed to set first fire time")
	}
}

// fire consumes one due occurrence: the schedule advances first, then
// the start is decided. A fire more than ScheduleTimeout minutes
// overdue is consumed but not started. Limited schedules count down
// and unbind after their last run; a spent once-off unbinds unless a
// duration stop may still need it.
func (s *Scheduler) fire(ts *types.TaskSchedule, now time.Time) (action, bool) {
	next, err := nextFire(ts.ICalendar, ts.Timezone, now)
	if err != nil {
		s.logger.Error().Err(err).Str("task", ts.TaskID).Str("schedule", ts.ScheduleID).Msg("bad schedule calendar")
		next = time.Time{}
	}
	periods := ts.Periods
	scheduleID := ts.ScheduleID
	if periods > 0 {
		periods--
		if periods == 0 {
			// Last run of a limited schedule.
			scheduleID = ""
			next = time.Time{}
		}
	}
	if next.IsZero() && scheduleID != "" && ts.Duration == 0 {
		scheduleID = ""
	}
	if err := s.store.SetTaskSchedule(ts.TaskID, next, periods, scheduleID); err != nil {
		s.logger.Error().Err(err).Str("task", ts.TaskID).Msg("failed to advance schedule")
		return action{}, false
	}

	if s.cfg.ScheduleTimeout > 0 {
		if overdue := now.Sub(ts.NextTime); overdue > time.Duration(s.cfg.ScheduleTimeout)*time.Minute {
			s.logger.Warn().Str("task", ts.TaskID).Dur("overdue", overdue).Msg("scheduled start missed its window, skipping")
			metrics.ScheduledActions.WithLabelValues("skipped").Inc()
			s.events.PublishTask(events.EventScheduleSkipped, ts.TaskID, "", "scheduled start missed its window")
			return action{}, false
		}
	}
	return action{taskID: ts.TaskID, owner: ts.Owner}, true
}

// overran reports whether the task's current run has exceeded the
// schedule's duration. Only a running scan can overrun; a queued one
// has not started its clock.
func (s *Scheduler) overran(ts *types.TaskSchedule, now time.Time) bool {
	task, err := s.store.GetTask(ts.TaskID)
	if err != nil || task.Status != types.TaskStatusRunning || task.CurrentReportID == "" {
		return false
	}
	report, err := s.store.GetReport(task.CurrentReportID)
	if err != nil || report.StartTime.IsZero() {
		return false
	}
	return !now.Before(report.StartTime.Add(time.Duration(ts.Duration) * time.Second))
}

// execute runs the decided actions, each over a connection owned by the
// task's owner. Failures are logged; the consumed fire is not retried,
// the next occurrence stands.
func (s *Scheduler) execute(ctx context.Context, actions []action) {
	for _, a := range actions {
		if ctx.Err() != nil {
			return
		}
		client, err := s.connect(ctx, a.owner)
		if err != nil {
			s.logger.Error().Err(err).Str("task", a.taskID).Str("owner", a.owner).Msg("scheduler connection failed")
			continue
		}
		kind := "start"
		if a.stop {
			kind = "stop"
			err = client.StopTask(ctx, a.taskID)
		} else {
			err = client.StartTask(ctx, a.taskID)
		}
		if cerr := client.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("scheduler connection close failed")
		}
		if err != nil {
			if errors.Is(err, types.ErrTaskActive) {
				s.logger.Info().Str("task", a.taskID).Msg("scheduled start found the task still active")
			} else {
				s.logger.Error().Err(err).Str("task", a.taskID).Str("action", kind).Msg("scheduled action failed")
			}
			continue
		}
		metrics.ScheduledActions.WithLabelValues(kind).Inc()
		s.events.PublishTask(events.EventScheduleFired, a.taskID, "", "scheduled "+kind)
		s.logger.Info().Str("task", a.taskID).Str("action", kind).Msg("schedule fired")
	}
}

// refreshVTCache reloads VT metadata when a feed sync has landed since
// the cache last loaded.
func (s *Scheduler) refreshVTCache() {
	if s.vts == nil {
		return
	}
	synced, err := s.store.FeedSyncedAt(types.FeedNVT)
	if err != nil || synced.IsZero() {
		return
	}
	if !synced.After(s.vts.RefreshedAt()) {
		return
	}
	if err := s.vts.Refresh(s.store); err != nil {
		s.logger.Error().Err(err).Msg("vt cache refresh failed")
		return
	}
	metrics.VTCacheSize.Set(float64(s.vts.Len()))
	s.logger.Info().Int("vts", s.vts.Len()).Msg("vt cache refreshed")
}

// autoDeleteReports trims finished reports beyond each task's keep
// count, newest first. Stopped and interrupted reports stay; they may
// still be resumed.
func (s *Scheduler) autoDeleteReports() {
	tasks, err := s.store.ListTasks()
	if err != nil {
		s.logger.Error().Err(err).Msg("auto-delete task list failed")
		return
	}
	for _, task := range tasks {
		if task.AutoDeleteData <= 0 {
			continue
		}
		reports, err := s.store.ListTaskReports(task.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("task", task.ID).Msg("auto-delete report list failed")
			continue
		}
		var done []*types.Report
		for _, r := range reports {
			if r.RunStatus == types.TaskStatusDone && r.ID != task.CurrentReportID {
				done = append(done, r)
			}
		}
		if len(done) <= task.AutoDeleteData {
			continue
		}
		sort.Slice(done, func(i, j int) bool { return done[i].CreatedAt.After(done[j].CreatedAt) })
		for _, r := range done[task.AutoDeleteData:] {
			if err := s.store.DeleteReport(r.ID); err != nil {
				s.logger.Error().Err(err).Str("report", r.ID).Msg("auto-delete failed")
				continue
			}
			s.logger.Info().Str("task", task.ID).Str("report", r.ID).Msg("old report auto-deleted")
		}
	}
}
