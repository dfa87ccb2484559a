package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/broker"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/security"
	"github.com/vigilsec/vigil/pkg/state"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// ScanState is the scanner-neutral scan state a Poll reports.
type ScanState int

const (
	// StatePending means the scan exists scanner-side but has not
	// produced status yet (queued, initialising).
	StatePending ScanState = iota
	StateRunning
	StateStopped
	StateFinished
	StateInterrupted
)

func (s ScanState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	case StateInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Status is one poll observation of a scan.
type Status struct {
	State    ScanState
	Progress int // 0-100
}

// Dispatcher runs one scan on one scanner kind. RunTask drives the
// sequence Prepare, Start, Poll..., Stop?, Finalize; implementations
// own the wire session and ingest results into the store as they
// arrive.
type Dispatcher interface {
	// Prepare opens the scanner session and assembles the scan. After
	// Prepare the scan is ready to start but not running.
	Prepare(ctx context.Context) error
	// Start begins execution on the scanner.
	Start(ctx context.Context) error
	// Poll reports the scan state, ingesting results delivered since
	// the previous poll.
	Poll(ctx context.Context) (Status, error)
	// Stop asks the scanner to halt the scan. It is advisory; the
	// stop is complete when Poll observes StateStopped.
	Stop(ctx context.Context) error
	// Finalize releases scanner-side scan state and closes the
	// session. It runs on every exit path.
	Finalize(ctx context.Context) error
}

// Runner selects and drives dispatchers. One Runner serves the whole
// controller; per-scan state lives in the Dispatcher values it creates.
type Runner struct {
	store   storage.Store
	cfg     *config.Config
	broker  *broker.Broker
	secrets *security.SecretsManager
	vts     *VTCache
	locks   *state.Locks
	logger  zerolog.Logger
}

// NewRunner wires a dispatch runner. The lock table must be the same
// one the controller transitions tasks through.
func NewRunner(store storage.Store, cfg *config.Config, brk *broker.Broker, secrets *security.SecretsManager, vts *VTCache, locks *state.Locks) *Runner {
	return &Runner{
		store:   store,
		cfg:     cfg,
		broker:  brk,
		secrets: secrets,
		vts:     vts,
		locks:   locks,
		logger:  log.WithComponent("dispatch"),
	}
}

// ForKind returns the dispatcher for the scanner's kind. Resuming an
// agent scan is refused here, before any session is opened.
func (r *Runner) ForKind(task *types.Task, report *types.Report, scanner *types.Scanner, from types.StartMode) (Dispatcher, error) {
	logger := log.WithScan(task.ID, report.ID)
	switch scanner.Kind {
	case types.ScannerKindCVE:
		return &cveDispatch{r: r, task: task, report: report, from: from, logger: logger}, nil
	case types.ScannerKindOSP, types.ScannerKindOSPSensor:
		return &ospDispatch{r: r, task: task, report: report, scanner: scanner, from: from, logger: logger}, nil
	case types.ScannerKindHTTP, types.ScannerKindHTTPSensor:
		return &httpDispatch{r: r, task: task, report: report, scanner: scanner, from: from, logger: logger}, nil
	case types.ScannerKindAgent, types.ScannerKindAgentSensor:
		if from == types.StartResume {
			return nil, types.ErrResumeNotSupported
		}
		return &agentDispatch{httpDispatch{r: r, task: task, report: report, scanner: scanner, from: from, logger: logger}}, nil
	default:
		return nil, fmt.Errorf("scanner kind %q: %w", scanner.Kind, types.ErrInternal)
	}
}

// RunTask drives one scan to a terminal state. The task must already
// be Running with its current report bound; queue admission is the
// caller's business. A nil return means the task reached Stopped,
// Processing or the delete handshake completed; a non-nil return means
// the scan died and the caller must interrupt the task.
func (r *Runner) RunTask(ctx context.Context, task *types.Task, report *types.Report, from types.StartMode) error {
	scanner, err := r.store.GetScanner(task.ScannerID)
	if err != nil {
		return fmt.Errorf("load scanner: %w", err)
	}
	d, err := r.ForKind(task, report, scanner, from)
	if err != nil {
		return err
	}
	logger := log.WithScan(task.ID, report.ID)

	defer func() {
		// Scanner-side cleanup happens even when ctx is gone.
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Finalize(fctx); err != nil {
			logger.Warn().Err(err).Msg("scan finalize failed")
		}
	}()

	if err := d.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare scan: %w", err)
	}
	if report.StartTime.IsZero() {
		// A resumed run keeps the start time of its first pass.
		if err := r.store.SetScanStartTime(report.ID, time.Now()); err != nil {
			return err
		}
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	logger.Info().Str("scanner", scanner.Name).Msg("scan started")

	ticker := time.NewTicker(r.cfg.ScanPollInterval)
	defer ticker.Stop()

	stopSignalled := false
	for {
		status, err := r.store.TaskStatus(task.ID)
		if err != nil {
			return err
		}
		switch status {
		case types.TaskStatusStopRequested, types.TaskStatusDeleteRequested, types.TaskStatusUltimateDeleteRequested:
			if !stopSignalled {
				// A stop on a scan the scanner already ended is not
				// fatal; the next poll settles it.
				if err := d.Stop(ctx); err != nil {
					logger.Warn().Err(err).Msg("scanner stop request failed")
				}
				stopSignalled = true
			}
			tr, err := r.Transition(task.ID, report.ID, state.EventScannerAck)
			if err != nil {
				return err
			}
			status = tr.To
		}

		st, err := d.Poll(ctx)
		if err != nil {
			return fmt.Errorf("poll scan: %w", err)
		}

		switch st.State {
		case StatePending, StateRunning:
			logger.Debug().Int("progress", st.Progress).Stringer("state", st.State).Msg("scan underway")
		case StateStopped:
			_, err := r.Transition(task.ID, report.ID, state.EventScannerDone)
			if err != nil {
				return err
			}
			logger.Info().Msg("scan stopped")
			return nil
		case StateFinished:
			if waitingOnScanner(status) {
				// Stop raced the natural end; the run counts as stopped.
				if _, err := r.Transition(task.ID, report.ID, state.EventScannerDone); err != nil {
					return err
				}
				logger.Info().Msg("scan stopped at completion")
				return nil
			}
			if _, err := r.Transition(task.ID, report.ID, state.EventScanComplete); err != nil {
				return err
			}
			logger.Info().Msg("scan finished, report awaiting processing")
			return nil
		case StateInterrupted:
			return fmt.Errorf("scanner reported the scan interrupted")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func waitingOnScanner(status types.TaskStatus) bool {
	switch status {
	case types.TaskStatusStopWaiting, types.TaskStatusDeleteWaiting, types.TaskStatusUltimateDeleteWaiting:
		return true
	}
	return false
}

// Transition applies one state-machine event to a task and executes
// the storage-side effects. The task's lock is held across the
// read-apply-write cycle.
func (r *Runner) Transition(taskID, reportID string, event state.Event) (state.Transition, error) {
	unlock := r.locks.Lock(taskID)
	defer unlock()

	current, err := r.store.TaskStatus(taskID)
	if err != nil {
		return state.Transition{}, err
	}
	tr, err := state.Apply(current, event)
	if err != nil {
		return state.Transition{}, err
	}
	if err := r.store.SetTaskStatus(taskID, tr.To); err != nil {
		return state.Transition{}, err
	}
	for _, effect := range tr.Effects {
		switch effect {
		case state.EffectFinalizeTimes:
			if reportID == "" {
				continue
			}
			if err := r.store.SetScanEndTime(reportID, time.Now()); err != nil {
				return tr, err
			}
		case state.EffectRemoveFromQueue:
			if err := r.store.ScanQueueRemove(taskID); err != nil {
				return tr, err
			}
		case state.EffectTrashTask:
			if err := r.store.TrashTask(taskID); err != nil {
				return tr, err
			}
		case state.EffectPurgeTask:
			if err := r.store.PurgeTask(taskID); err != nil {
				return tr, err
			}
		}
	}
	return tr, nil
}

// Identifier detail names distilled into durable host identifiers.
var identifierNames = []string{"hostname", "MAC", "OS"}

// ProcessReport finishes a report that reached Processing: distill
// host identifiers, snapshot the counters, advance the task to Done
// and rotate the report pointers. The report import queue calls this
// under the per-report lock.
func (r *Runner) ProcessReport(ctx context.Context, report *types.Report) error {
	logger := log.WithScan(report.TaskID, report.ID)

	err := r.store.ForEachReportHost(report.ID, func(rh *types.ReportHost) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, name := range identifierNames {
			values, err := r.store.HostDetails(report.ID, rh.Host, name)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				continue
			}
			ident := &types.HostIdentifier{
				Host:   rh.Host,
				Name:   name,
				Value:  values[len(values)-1],
				Source: report.ID,
			}
			if err := r.store.AddHostIdentifier(ident); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("detect identifiers: %w", err)
	}

	hosts, err := r.store.CountReportHosts(report.ID)
	if err != nil {
		return err
	}
	results, err := r.store.CountResults(report.ID)
	if err != nil {
		return err
	}
	severity, err := r.store.MaxReportSeverity(report.ID)
	if err != nil {
		return err
	}
	metrics.ResultsIngested.Add(float64(results))
	logger.Info().
		Int("hosts", hosts).
		Int("results", results).
		Float64("severity", severity).
		Str("class", types.SeverityClass(severity)).
		Msg("report processed")

	if _, err := r.Transition(report.TaskID, report.ID, state.EventPostDone); err != nil {
		return err
	}
	return r.store.PromoteCurrentReport(report.TaskID)
}
