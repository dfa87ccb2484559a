package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/dispatch"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/locking"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/state"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// ReportImporter drains reports left in Processing after their scan
// finished. Each tick claims a batch, takes the per-report file lock
// and imports in parallel up to the processing cap. The file lock makes
// the claim safe against any other process working the same state dir.
type ReportImporter struct {
	store  storage.Store
	cfg    *config.Config
	runner *dispatch.Runner
	events *events.Broker
	slots  *locking.Semaphore
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewReportImporter wires the import queue. The parallelism cap comes
// from MaxConcurrentReportProcessing; 0 means unlimited.
func NewReportImporter(store storage.Store, cfg *config.Config, runner *dispatch.Runner, broker *events.Broker) *ReportImporter {
	return &ReportImporter{
		store:  store,
		cfg:    cfg,
		runner: runner,
		events: broker,
		slots:  locking.NewSemaphore(cfg.MaxConcurrentReportProcessing),
		logger: log.WithComponent("report-import"),
	}
}

// HandleTick claims up to ReportImportBatch waiting reports and starts
// an import goroutine for each. Reports another importer holds the file
// lock for are skipped; they stay visible for a later tick.
func (q *ReportImporter) HandleTick(ctx context.Context) error {
	reports, err := q.store.ReportsAwaitingProcessing(q.cfg.ReportImportBatch)
	if err != nil {
		return fmt.Errorf("list reports awaiting processing: %w", err)
	}

	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		lock := locking.NewFileLock(q.cfg.ReportLockPath(report.ID))
		ok, err := lock.TryAcquire()
		if err != nil {
			q.logger.Error().Err(err).Str("report", report.ID).Msg("report lock failed")
			continue
		}
		if !ok {
			// Another importer owns this report.
			continue
		}
		if err := q.slots.Acquire(ctx); err != nil {
			lock.Release()
			return err
		}
		q.wg.Add(1)
		go q.process(ctx, report, lock)
	}
	return nil
}

// process imports one claimed report. The slot and the file lock are
// held for the whole import and released on every exit path.
func (q *ReportImporter) process(ctx context.Context, report *types.Report, lock *locking.FileLock) {
	defer q.wg.Done()
	defer q.slots.Release()
	defer func() {
		if err := lock.Release(); err != nil {
			q.logger.Warn().Err(err).Str("report", report.ID).Msg("report lock release failed")
		}
	}()
	logger := log.WithScan(report.TaskID, report.ID)

	if err := q.runner.ProcessReport(ctx, report); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown mid-import; the report stays in Processing and
			// the next tick picks it up again.
			logger.Info().Msg("report import aborted, will retry")
			return
		}
		logger.Error().Err(err).Msg("report import failed, interrupting task")
		metrics.ReportImportFailures.Inc()
		q.interrupt(report, err)
		q.events.PublishTask(events.EventTaskInterrupted, report.TaskID, report.ID, err.Error())
		return
	}

	metrics.ReportsImported.Inc()
	logger.Info().Msg("report imported")
	q.events.PublishTask(events.EventReportImported, report.TaskID, report.ID, "report imported")
	q.events.PublishTask(events.EventTaskDone, report.TaskID, report.ID, "task done")
}

// interrupt marks the task Interrupted and records the import failure
// in the report, mirroring how a worker reports a dead scan.
func (q *ReportImporter) interrupt(report *types.Report, cause error) {
	logger := log.WithScan(report.TaskID, report.ID)
	tr, err := q.runner.Transition(report.TaskID, report.ID, state.EventWorkerError)
	if err != nil {
		logger.Error().Err(err).Msg("interrupt transition failed")
		return
	}
	// The transition moves the task's current report with it; move this
	// report explicitly too in case it is no longer the current one, so
	// it cannot be claimed again next tick.
	if err := q.store.SetReportRunStatus(report.ID, types.TaskStatusInterrupted); err != nil {
		logger.Error().Err(err).Msg("set report run status failed")
	}
	if tr.Has(state.EffectAppendErrorResult) {
		res := &types.Result{
			ID:          uuid.New().String(),
			ReportID:    report.ID,
			TaskID:      report.TaskID,
			Type:        types.ResultTypeError,
			Severity:    types.SeverityError,
			QoD:         types.QoDDefault,
			Description: fmt.Sprintf("Report import error: %v. Interrupting scan.", cause),
		}
		if err := q.store.AppendResult(res); err != nil {
			logger.Error().Err(err).Msg("append import error result failed")
		}
	}
}

// Wait blocks until every in-flight import has finished.
func (q *ReportImporter) Wait() {
	q.wg.Wait()
}

// Shutdown waits for in-flight imports to drain or ctx to expire.
// Imports observe cancellation through the tick context and leave
// their reports in Processing for the next daemon run.
func (q *ReportImporter) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("report imports still draining: %w", ctx.Err())
	}
}
