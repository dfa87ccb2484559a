package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/vigil/pkg/broker"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/dispatch"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/feeds"
	"github.com/vigilsec/vigil/pkg/health"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/queue"
	"github.com/vigilsec/vigil/pkg/scheduler"
	"github.com/vigilsec/vigil/pkg/security"
	"github.com/vigilsec/vigil/pkg/state"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/sysreport"
	"github.com/vigilsec/vigil/pkg/types"
	"github.com/vigilsec/vigil/pkg/worker"
)

// Controller composes the scan subsystems behind the task operations a
// session may invoke. All writes to task state flow through here or
// through the workers it launches; nothing else mutates a task's
// status.
type Controller struct {
	store   storage.Store
	cfg     *config.Config
	locks   *state.Locks
	vts     *dispatch.VTCache
	conns   *broker.Broker
	runner  *dispatch.Runner
	super   *worker.Supervisor
	scans   *queue.ScanQueue
	imports *queue.ReportImporter
	sched   *scheduler.Scheduler
	feeds   *feeds.Coordinator
	perf    *sysreport.Reporter
	prober  *health.Monitor
	gauges  *metrics.Collector
	events  *events.Broker
	logger  zerolog.Logger

	// runCtx outlives any single request: workers launched for a task
	// keep running after the session that started them is gone.
	runCtx context.Context
	stop   context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a controller from an open store. The events broker may be
// nil when no subscriber surface is wanted; every publish site
// tolerates that.
func New(store storage.Store, cfg *config.Config, secrets *security.SecretsManager, evb *events.Broker) *Controller {
	runCtx, stop := context.WithCancel(context.Background())

	locks := state.NewLocks()
	vts := dispatch.NewVTCache()
	conns := broker.New(cfg, secrets)
	runner := dispatch.NewRunner(store, cfg, conns, secrets, vts, locks)
	super := worker.NewSupervisor(runner, store, evb)

	c := &Controller{
		store:   store,
		cfg:     cfg,
		locks:   locks,
		vts:     vts,
		conns:   conns,
		runner:  runner,
		super:   super,
		scans:   queue.NewScanQueue(store, cfg, runner, super, evb),
		imports: queue.NewReportImporter(store, cfg, runner, evb),
		feeds:   feeds.NewCoordinator(store, cfg, evb),
		perf:    sysreport.New(),
		prober:  health.NewMonitor(health.DefaultConfig()),
		gauges:  metrics.NewCollector(store, super, vts),
		events:  evb,
		logger:  log.WithComponent("controller"),
		runCtx:  runCtx,
		stop:    stop,
	}
	c.sched = scheduler.New(store, cfg, c.openOwnerSession, evb, vts)
	return c
}

// GetTask returns a task after the read permission check.
func (c *Controller) GetTask(ctx context.Context, p *types.Principal, taskID string) (*types.Task, error) {
	return c.loadTask(p, taskID, types.PermGetTask)
}

// ListTasks returns the visible tasks the principal may read. Trashed
// tasks are omitted.
func (c *Controller) ListTasks(ctx context.Context, p *types.Principal) ([]*types.Task, error) {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Hidden != 0 {
			continue
		}
		if Authorize(p, task, types.PermGetTask) != nil {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// StartTask begins a fresh run: a new report is bound as the task's
// current report and the scan is handed to the queue, which either
// launches a worker or parks the task until a slot frees up.
func (c *Controller) StartTask(ctx context.Context, p *types.Principal, taskID string) error {
	task, err := c.loadTask(p, taskID, types.PermStartTask)
	if err != nil {
		return err
	}
	report, err := c.beginRun(task, state.EventStart)
	if err != nil {
		return err
	}
	c.logger.Info().Str("task", task.ID).Str("report", report.ID).Msg("task start requested")
	return c.scans.Submit(c.runCtx, task, report, types.StartFresh)
}

// StopTask asks a running scan to stop. Queued tasks stop immediately;
// running ones move to stop-requested and the worker drives the
// scanner handshake from its next poll.
func (c *Controller) StopTask(ctx context.Context, p *types.Principal, taskID string) error {
	task, err := c.loadTask(p, taskID, types.PermStopTask)
	if err != nil {
		return err
	}
	tr, err := c.runner.Transition(task.ID, task.CurrentReportID, state.EventStop)
	if err != nil {
		return err
	}
	c.logger.Info().Str("task", task.ID).Str("from", string(tr.From)).Msg("task stop requested")
	if tr.To == types.TaskStatusStopped {
		// Came straight out of the queue; no worker will report this.
		c.events.PublishTask(events.EventTaskStopped, task.ID, task.CurrentReportID, "queued scan stopped")
	}
	return nil
}

// ResumeTask continues a stopped run on its existing report. Partial
// host data from the stopped run is trimmed first so re-scanned hosts
// do not appear twice; finished hosts stay and are excluded from the
// new pass.
func (c *Controller) ResumeTask(ctx context.Context, p *types.Principal, taskID string) error {
	task, err := c.loadTask(p, taskID, types.PermResumeTask)
	if err != nil {
		return err
	}
	scanner, err := c.store.GetScanner(task.ScannerID)
	if err != nil {
		return err
	}
	if agentKind(scanner.Kind) {
		return fmt.Errorf("scanner %s: %w", scanner.ID, types.ErrResumeNotSupported)
	}
	report, err := c.beginRun(task, state.EventResume)
	if err != nil {
		return err
	}
	c.logger.Info().Str("task", task.ID).Str("report", report.ID).Msg("task resume requested")
	return c.scans.Submit(c.runCtx, task, report, types.StartResume)
}

// DeleteTask moves a task to the trash, or destroys it outright when
// ultimate is set. Deleting a trashed task always destroys it. Active
// tasks are stopped through the scanner first; only queued tasks can
// complete the teardown synchronously.
func (c *Controller) DeleteTask(ctx context.Context, p *types.Principal, taskID string, ultimate bool) error {
	task, err := c.loadTask(p, taskID, types.PermDeleteTask)
	if err != nil {
		return err
	}
	if task.Hidden != 0 {
		if err := c.store.PurgeTask(task.ID); err != nil {
			return err
		}
		c.events.PublishTask(events.EventTaskDeleted, task.ID, "", "trashed task destroyed")
		return nil
	}

	unlock := c.locks.Lock(task.ID)
	status, err := c.store.TaskStatus(task.ID)
	if err != nil {
		unlock()
		return err
	}
	if !status.Active() {
		if ultimate {
			err = c.store.PurgeTask(task.ID)
		} else {
			err = c.store.TrashTask(task.ID)
		}
		unlock()
		if err != nil {
			return err
		}
		c.events.PublishTask(events.EventTaskDeleted, task.ID, "", "task deleted")
		return nil
	}
	unlock()

	event := state.EventDelete
	if ultimate {
		event = state.EventUltimateDelete
	}
	tr, err := c.runner.Transition(task.ID, task.CurrentReportID, event)
	if err != nil {
		return err
	}
	if tr.From == types.TaskStatusQueued {
		// No scanner session exists yet, so nobody will acknowledge the
		// stop; drive the handshake to completion here.
		if _, err := c.runner.Transition(task.ID, task.CurrentReportID, state.EventScannerAck); err != nil {
			return err
		}
		if _, err := c.runner.Transition(task.ID, task.CurrentReportID, state.EventScannerDone); err != nil {
			return err
		}
	}
	c.events.PublishTask(events.EventTaskDeleted, task.ID, task.CurrentReportID, "task delete requested")
	return nil
}

// MoveTask rebinds a task to another scanner. A quiescent task is
// rebound in place. An active task is refused unless force is set, in
// which case the run is stopped, the task rebound, and the scan
// resumed on the new scanner.
func (c *Controller) MoveTask(ctx context.Context, p *types.Principal, taskID, scannerID string, force bool) error {
	task, err := c.loadTask(p, taskID, types.PermMoveTask)
	if err != nil {
		return err
	}
	scanner, err := c.store.GetScanner(scannerID)
	if err != nil {
		return err
	}

	unlock := c.locks.Lock(task.ID)
	status, err := c.store.TaskStatus(task.ID)
	if err != nil {
		unlock()
		return err
	}
	if !status.Active() {
		task.ScannerID = scannerID
		err = c.store.UpdateTask(task)
		unlock()
		if err == nil {
			c.logger.Info().Str("task", task.ID).Str("scanner", scannerID).Msg("task moved")
		}
		return err
	}
	unlock()

	if !force {
		return fmt.Errorf("task %s is %s: %w", task.ID, status, types.ErrTaskActive)
	}
	if agentKind(scanner.Kind) {
		// The forced path ends in a resume, which this kind cannot do.
		return fmt.Errorf("scanner %s: %w", scanner.ID, types.ErrResumeNotSupported)
	}

	if _, err := c.runner.Transition(task.ID, task.CurrentReportID, state.EventStop); err != nil && !errors.Is(err, types.ErrConflict) {
		return err
	}
	status, err = c.awaitQuiescent(ctx, task.ID)
	if err != nil {
		return err
	}

	unlock = c.locks.Lock(task.ID)
	task, err = c.store.GetTask(task.ID)
	if err != nil {
		unlock()
		return err
	}
	task.ScannerID = scannerID
	err = c.store.UpdateTask(task)
	unlock()
	if err != nil {
		return err
	}
	c.logger.Info().Str("task", task.ID).Str("scanner", scannerID).Str("status", string(status)).Msg("task moved after forced stop")

	if status != types.TaskStatusStopped {
		// Finished or interrupted while we waited; nothing to resume.
		return nil
	}
	report, err := c.beginRun(task, state.EventResume)
	if err != nil {
		return err
	}
	return c.scans.Submit(c.runCtx, task, report, types.StartResume)
}

// RunTick executes one pass of the main loop: fire due schedules,
// admit queued scans, import finished reports, then sync feeds. Each
// stage failing is logged and never blocks the others.
func (c *Controller) RunTick(ctx context.Context) {
	started := time.Now()
	if err := c.sched.Tick(ctx, started); err != nil {
		c.logger.Error().Err(err).Msg("schedule tick failed")
	}
	if err := c.scans.HandleTick(ctx); err != nil {
		c.logger.Error().Err(err).Msg("scan queue tick failed")
	}
	if err := c.imports.HandleTick(ctx); err != nil {
		c.logger.Error().Err(err).Msg("report import tick failed")
	}
	if err := c.feeds.Tick(ctx); err != nil {
		c.logger.Error().Err(err).Msg("feed sync tick failed")
	}
	metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// Run drives the main loop until ctx is cancelled, then shuts the
// controller down. The first tick runs immediately.
func (c *Controller) Run(ctx context.Context) error {
	if c.events != nil {
		c.events.Start()
	}
	c.gauges.Start()
	c.logger.Info().Dur("period", c.cfg.SchedulePeriod).Msg("controller running")

	ticker := time.NewTicker(c.cfg.SchedulePeriod)
	defer ticker.Stop()
	for {
		c.RunTick(c.runCtx)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return c.Shutdown(shutdownCtx)
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting work, interrupts live scan workers and
// waits for report imports to drain. Safe to call more than once; the
// store itself stays open for the caller to close.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.logger.Info().Msg("controller shutting down")
		c.stop()
		c.shutdownErr = c.super.Shutdown(ctx)
		if err := c.imports.Shutdown(ctx); c.shutdownErr == nil {
			c.shutdownErr = err
		}
		c.gauges.Stop()
		if c.events != nil {
			c.events.Stop()
		}
	})
	return c.shutdownErr
}

// Events exposes the broker for subscriber surfaces.
func (c *Controller) Events() *events.Broker { return c.events }

// Running reports how many scan workers are live.
func (c *Controller) Running() int { return c.super.Running() }

// FeedStatus probes the feed directories against the sync markers.
func (c *Controller) FeedStatus() ([]feeds.Status, error) { return c.feeds.Status() }

// SyncFeeds runs a feed sync outside the tick loop, reloading even
// unchanged feeds when force is set.
func (c *Controller) SyncFeeds(ctx context.Context, force bool) error {
	return c.feeds.Sync(ctx, force)
}

// PerformanceTypes lists the system report graphs available.
func (c *Controller) PerformanceTypes(ctx context.Context) ([]sysreport.Type, error) {
	return c.perf.Types(ctx)
}

// Performance renders one system report graph for the given window.
func (c *Controller) Performance(ctx context.Context, name string, startTime, endTime time.Time) (*sysreport.Report, error) {
	return c.perf.Graph(ctx, name, startTime, endTime)
}

// VerifyScanners probes every configured scanner and reports
// reachability, ordered by scanner name. Probe outcomes are cached for
// a short while, so calling this on each status request does not turn
// into scanner load.
func (c *Controller) VerifyScanners(ctx context.Context) ([]health.ScannerStatus, error) {
	scanners, err := c.store.ListScanners()
	if err != nil {
		return nil, fmt.Errorf("failed to list scanners: %w", err)
	}
	sort.Slice(scanners, func(i, j int) bool { return scanners[i].Name < scanners[j].Name })

	out := make([]health.ScannerStatus, len(scanners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, scanner := range scanners {
		g.Go(func() error {
			st := c.prober.Probe(gctx, scanner.ID, health.ForScanner(c.store, c.conns, scanner))
			out[i] = health.ScannerStatus{
				ScannerID: scanner.ID,
				Name:      scanner.Name,
				Kind:      scanner.Kind,
				Reachable: st.Reachable,
				Message:   st.LastResult.Message,
				CheckedAt: st.LastCheck,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Controller) loadTask(p *types.Principal, taskID string, perm types.Permission) (*types.Task, error) {
	task, err := c.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(p, task, perm); err != nil {
		return nil, err
	}
	if task.Hidden != 0 && perm != types.PermDeleteTask && perm != types.PermGetTask {
		return nil, fmt.Errorf("task %s is in the trash: %w", task.ID, types.ErrNotApplicable)
	}
	return task, nil
}

// beginRun moves a task into Requested under its lock and returns the
// report the run will write into: a fresh one for starts, the trimmed
// current report for resumes. The status write and the report binding
// commit together.
func (c *Controller) beginRun(task *types.Task, event state.Event) (*types.Report, error) {
	unlock := c.locks.Lock(task.ID)
	defer unlock()

	status, err := c.store.TaskStatus(task.ID)
	if err != nil {
		return nil, err
	}
	tr, err := state.Apply(status, event)
	if err != nil {
		return nil, err
	}

	switch {
	case tr.Has(state.EffectCreateReport):
		report := &types.Report{
			ID:        uuid.New().String(),
			TaskID:    task.ID,
			Owner:     task.Owner,
			RunStatus: tr.To,
			CreatedAt: time.Now(),
		}
		if err := c.store.CreateCurrentReport(task.ID, report); err != nil {
			return nil, err
		}
		task.CurrentReportID = report.ID
		return report, nil

	case tr.Has(state.EffectReuseReport):
		if task.CurrentReportID == "" {
			return nil, fmt.Errorf("task %s has no stopped report: %w", task.ID, types.ErrNotApplicable)
		}
		if err := c.store.TrimPartialReport(task.CurrentReportID); err != nil {
			return nil, err
		}
		if err := c.store.SetTaskStatus(task.ID, tr.To); err != nil {
			return nil, err
		}
		return c.store.GetReport(task.CurrentReportID)
	}
	return nil, fmt.Errorf("%s from %s bound no report: %w", event, status, types.ErrInternal)
}

// agentKind reports whether the scanner runs agent-controller scans,
// which cannot resume.
func agentKind(k types.ScannerKind) bool {
	return k == types.ScannerKindAgent || k == types.ScannerKindAgentSensor
}

// awaitQuiescent polls until the task leaves its active states.
func (c *Controller) awaitQuiescent(ctx context.Context, taskID string) (types.TaskStatus, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := c.store.TaskStatus(taskID)
		if err != nil {
			return "", err
		}
		if status.Quiescent() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
