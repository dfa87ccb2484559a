package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

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
	"github.com/vigilsec/vigil/pkg/worker"
)

// ScanQueue admits requested scans against the concurrency cap. A scan
// that wins a slot goes straight to a worker; the rest wait in the
// persistent FIFO and are promoted on ticks as slots free up.
type ScanQueue struct {
	store      storage.Store
	cfg        *config.Config
	runner     *dispatch.Runner
	supervisor *worker.Supervisor
	events     *events.Broker
	slots      *locking.Semaphore
	logger     zerolog.Logger
}

// NewScanQueue wires the admission queue. The slot count comes from
// MaxConcurrentScanUpdates; 0 means every scan is admitted immediately.
func NewScanQueue(store storage.Store, cfg *config.Config, runner *dispatch.Runner, supervisor *worker.Supervisor, broker *events.Broker) *ScanQueue {
	return &ScanQueue{
		store:      store,
		cfg:        cfg,
		runner:     runner,
		supervisor: supervisor,
		events:     broker,
		slots:      locking.NewSemaphore(cfg.MaxConcurrentScanUpdates),
		logger:     log.WithComponent("scan-queue"),
	}
}

// Submit places a requested scan. The task must be Requested with the
// report bound as its current report. With a free slot the task moves
// to Running and a worker launches; otherwise it moves to Queued and
// joins the persistent queue.
//
// ctx is the worker's lifetime, not Submit's: it must outlive the scan.
func (q *ScanQueue) Submit(ctx context.Context, task *types.Task, report *types.Report, from types.StartMode) error {
	if !q.slots.TryAcquire() {
		tr, err := q.runner.Transition(task.ID, report.ID, state.EventQueueFull)
		if err != nil {
			return err
		}
		if tr.Has(state.EffectAddToQueue) {
			entry := &types.ScanQueueEntry{
				TaskID:   task.ID,
				ReportID: report.ID,
				Owner:    task.Owner,
				From:     from,
				QueuedAt: time.Now(),
			}
			if err := q.store.ScanQueueAdd(entry); err != nil {
				return fmt.Errorf("enqueue scan: %w", err)
			}
		}
		q.logger.Info().Str("task", task.ID).Int("waiting", q.waiting()).Msg("scan queued, no free slot")
		q.events.PublishTask(events.EventScanQueued, task.ID, report.ID, "scan waiting for a free slot")
		return nil
	}

	if err := q.launch(ctx, task, report, from); err != nil {
		return err
	}
	q.events.PublishTask(events.EventScanAdmitted, task.ID, report.ID, "scan admitted")
	return nil
}

// launch moves the task to Running and starts its worker, holding one
// already-acquired slot. The slot travels with the worker and returns
// when it exits; on any failure here it returns immediately.
func (q *ScanQueue) launch(ctx context.Context, task *types.Task, report *types.Report, from types.StartMode) error {
	tr, err := q.runner.Transition(task.ID, report.ID, state.EventAdmit)
	if err != nil {
		q.slots.Release()
		return err
	}
	if err := q.supervisor.Launch(ctx, task, report, from, q.slots.Release); err != nil {
		// Undo the admission so the task does not sit Running with no
		// worker behind it.
		q.slots.Release()
		if _, terr := q.runner.Transition(task.ID, report.ID, state.EventWorkerError); terr != nil {
			q.logger.Error().Err(terr).Str("task", task.ID).Msg("failed to interrupt unlaunchable scan")
		}
		return err
	}
	q.logger.Debug().Str("task", task.ID).Str("from", string(tr.From)).Msg("scan admitted")
	return nil
}

// HandleTick promotes queued scans into free slots, oldest first. It
// stops at the first tick with no slot or no waiting entry. Entries
// whose task left Queued in the meantime are dropped.
func (q *ScanQueue) HandleTick(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !q.slots.TryAcquire() {
			return nil
		}
		entries, err := q.store.ScanQueueTake(1)
		if err != nil {
			q.slots.Release()
			return fmt.Errorf("take from scan queue: %w", err)
		}
		if len(entries) == 0 {
			q.slots.Release()
			return nil
		}
		entry := entries[0]

		task, err := q.store.GetTask(entry.TaskID)
		if err != nil {
			q.slots.Release()
			if storage.IsNotFound(err) {
				q.logger.Warn().Str("task", entry.TaskID).Msg("queued task vanished, dropping entry")
				continue
			}
			return err
		}
		report, err := q.store.GetReport(entry.ReportID)
		if err != nil {
			q.slots.Release()
			if storage.IsNotFound(err) {
				continue
			}
			return err
		}

		if err := q.launch(ctx, task, report, entry.From); err != nil {
			if errors.Is(err, types.ErrNotApplicable) {
				// The task moved on while it waited (stopped, deleted).
				q.logger.Debug().Str("task", task.ID).Msg("queued task no longer admissible")
				continue
			}
			return err
		}
		metrics.ScanQueueWait.Observe(time.Since(entry.QueuedAt).Seconds())
		q.events.PublishTask(events.EventScanAdmitted, task.ID, report.ID, "queued scan admitted")
	}
}

// waiting returns the current queue depth, best effort.
func (q *ScanQueue) waiting() int {
	entries, err := q.store.ScanQueueList()
	if err != nil {
		return -1
	}
	return len(entries)
}

// InUse returns the number of admission slots currently held.
func (q *ScanQueue) InUse() int {
	return q.slots.InUse()
}
