package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/dispatch"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/state"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// Supervisor tracks and drives the scan workers. One worker is one
// goroutine running the dispatch lifecycle of one scan.
type Supervisor struct {
	runner *dispatch.Runner
	store  storage.Store
	events *events.Broker
	logger zerolog.Logger

	mu    sync.Mutex
	scans map[string]*scanHandle
	wg    sync.WaitGroup
}

type scanHandle struct {
	reportID string
	cancel   context.CancelFunc
	started  time.Time
}

// NewSupervisor wires a supervisor over the shared runner and store.
// broker may be nil; lifecycle events are then dropped.
func NewSupervisor(runner *dispatch.Runner, store storage.Store, broker *events.Broker) *Supervisor {
	return &Supervisor{
		runner: runner,
		store:  store,
		events: broker,
		logger: log.WithComponent("worker"),
		scans:  make(map[string]*scanHandle),
	}
}

// Launch starts the worker goroutine for one scan. The task must
// already be in Running with the report bound as its current report.
// ctx should be the daemon's run context, not a request context;
// cancelling it interrupts the scan. done, if non-nil, runs exactly
// once when the worker exits, however it exits; the scan queue uses it
// to return the admission slot.
func (s *Supervisor) Launch(ctx context.Context, task *types.Task, report *types.Report, from types.StartMode, done func()) error {
	s.mu.Lock()
	if _, exists := s.scans[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task %s already has a worker: %w", task.ID, types.ErrTaskActive)
	}
	scanCtx, cancel := context.WithCancel(ctx)
	s.scans[task.ID] = &scanHandle{reportID: report.ID, cancel: cancel, started: time.Now()}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(scanCtx, task, report, from, done)
	return nil
}

func (s *Supervisor) run(ctx context.Context, task *types.Task, report *types.Report, from types.StartMode, done func()) {
	defer s.wg.Done()
	defer s.forget(task.ID)
	if done != nil {
		defer done()
	}

	logger := log.WithScan(task.ID, report.ID)
	logger.Info().Int("mode", int(from)).Msg("scan worker started")
	metrics.ScansStartedTotal.WithLabelValues(startModeLabel(from)).Inc()
	s.events.PublishTask(events.EventTaskStarted, task.ID, report.ID, "scan worker started")

	if err := s.runner.RunTask(ctx, task, report, from); err != nil {
		logger.Error().Err(err).Msg("scan worker failed, interrupting task")
		s.interrupt(task, report, err)
		metrics.ScansFinishedTotal.WithLabelValues("interrupted").Inc()
		s.events.PublishTask(events.EventTaskInterrupted, task.ID, report.ID, err.Error())
		return
	}

	outcome := "finished"
	if status, err := s.store.TaskStatus(task.ID); err == nil && status == types.TaskStatusStopped {
		outcome = "stopped"
		s.events.PublishTask(events.EventTaskStopped, task.ID, report.ID, "scan stopped")
	}
	metrics.ScansFinishedTotal.WithLabelValues(outcome).Inc()
	logger.Info().Str("outcome", outcome).Msg("scan worker finished")
}

// interrupt moves the task to Interrupted and records why. The error
// result makes the failure visible in the report itself; the scan end
// time closes the run so a resume can trim from a consistent state.
func (s *Supervisor) interrupt(task *types.Task, report *types.Report, cause error) {
	logger := log.WithScan(task.ID, report.ID)

	tr, err := s.runner.Transition(task.ID, report.ID, state.EventWorkerError)
	if err != nil {
		logger.Error().Err(err).Msg("interrupt transition failed")
		return
	}
	if tr.Has(state.EffectAppendErrorResult) {
		res := &types.Result{
			ID:          uuid.New().String(),
			ReportID:    report.ID,
			TaskID:      task.ID,
			Type:        types.ResultTypeError,
			Severity:    types.SeverityError,
			QoD:         types.QoDDefault,
			Description: fmt.Sprintf("Scan handler error: %v. Interrupting scan.", cause),
		}
		if err := s.store.AppendResult(res); err != nil {
			logger.Error().Err(err).Msg("append interrupt result failed")
		}
	}
	if err := s.store.SetScanEndTime(report.ID, time.Now()); err != nil {
		logger.Error().Err(err).Msg("set scan end time failed")
	}
}

func (s *Supervisor) forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.scans[taskID]; ok {
		h.cancel()
		delete(s.scans, taskID)
	}
}

// Running returns the number of live scan workers. The scan queue
// subtracts it from the concurrency cap when admitting.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scans)
}

// IsRunning reports whether a worker is live for the task.
func (s *Supervisor) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scans[taskID]
	return ok
}

// Wait blocks until every live worker has exited. Tests use it to
// observe worker completion without polling.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every live worker and waits for them to drain.
// Workers observe the cancellation as a scan error and interrupt
// their tasks, which leaves every interrupted run resumable.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, h := range s.scans {
		h.cancel()
	}
	n := len(s.scans)
	s.mu.Unlock()
	if n > 0 {
		s.logger.Info().Int("scans", n).Msg("waiting for scan workers to drain")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scan workers still draining: %w", ctx.Err())
	}
}

func startModeLabel(from types.StartMode) string {
	if from == types.StartResume {
		return "resume"
	}
	return "fresh"
}
