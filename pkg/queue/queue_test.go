package queue

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/broker"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/dispatch"
	"github.com/vigilsec/vigil/pkg/security"
	"github.com/vigilsec/vigil/pkg/state"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
	"github.com/vigilsec/vigil/pkg/worker"
)

type fixture struct {
	store  storage.Store
	cfg    *config.Config
	runner *dispatch.Runner
	sup    *worker.Supervisor
}

func newFixture(t *testing.T, maxScans int) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	secrets, err := security.NewSecretsManager(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	cfg := &config.Config{
		StateDir:                 t.TempDir(),
		ScanPollInterval:         10 * time.Millisecond,
		ScannerConnectionRetry:   30,
		MaxConcurrentScanUpdates: maxScans,
		ReportImportBatch:        10,
	}
	runner := dispatch.NewRunner(store, cfg, broker.New(cfg, secrets), secrets, dispatch.NewVTCache(), state.NewLocks())
	return &fixture{
		store:  store,
		cfg:    cfg,
		runner: runner,
		sup:    worker.NewSupervisor(runner, store, nil),
	}
}

// seedCVEFeed stores the feed, target and scanners every queue test
// shares: a local CVE scanner that finishes fast and an OSP scanner
// nothing listens on, which parks its worker in the dial retry loop.
func seedCVEFeed(t *testing.T, store storage.Store) {
	t.Helper()
	require.NoError(t, store.ReplaceCVEItems([]*types.CVEItem{
		{Name: "CVE-2023-0001", Severity: 7.5, Products: []string{"cpe:/a:example:foo:1.2.3"}},
	}))
	require.NoError(t, store.CreateTarget(&types.Target{ID: "tgt-1", Hosts: "10.0.0.1"}))
	require.NoError(t, store.CreateScanner(&types.Scanner{ID: "scn-cve", Kind: types.ScannerKindCVE}))
	require.NoError(t, store.CreateScanner(&types.Scanner{
		ID: "scn-slow", Kind: types.ScannerKindOSP, Host: "127.0.0.1", Port: 1,
	}))
}

// seedRequestedTask creates a task in Requested with its current report
// bound, the state Submit expects.
func seedRequestedTask(t *testing.T, store storage.Store, id, scannerID string) (*types.Task, *types.Report) {
	t.Helper()
	task := &types.Task{ID: id, Name: id, Owner: "admin", TargetID: "tgt-1", ScannerID: scannerID}
	require.NoError(t, store.CreateTask(task))
	report := &types.Report{ID: "rep-" + id, TaskID: id, RunStatus: types.TaskStatusRequested}
	require.NoError(t, store.CreateCurrentReport(id, report))
	return task, report
}

func requireStatus(t *testing.T, store storage.Store, taskID string, want types.TaskStatus) {
	t.Helper()
	status, err := store.TaskStatus(taskID)
	require.NoError(t, err)
	require.Equal(t, want, status)
}

func TestSubmitAdmitsWhenSlotFree(t *testing.T) {
	f := newFixture(t, 2)
	seedCVEFeed(t, f.store)
	task, report := seedRequestedTask(t, f.store, "task-1", "scn-cve")

	q := NewScanQueue(f.store, f.cfg, f.runner, f.sup, nil)
	require.NoError(t, q.Submit(context.Background(), task, report, types.StartFresh))
	f.sup.Wait()

	requireStatus(t, f.store, task.ID, types.TaskStatusProcessing)
	entries, err := f.store.ScanQueueList()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, q.InUse(), "slot returned when the worker exits")
}

func TestSubmitQueuesWhenSlotsExhausted(t *testing.T) {
	f := newFixture(t, 1)
	seedCVEFeed(t, f.store)
	slow, slowReport := seedRequestedTask(t, f.store, "task-slow", "scn-slow")
	waiting, waitingReport := seedRequestedTask(t, f.store, "task-waiting", "scn-cve")

	q := NewScanQueue(f.store, f.cfg, f.runner, f.sup, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Submit(ctx, slow, slowReport, types.StartFresh))
	requireStatus(t, f.store, slow.ID, types.TaskStatusRunning)

	require.NoError(t, q.Submit(ctx, waiting, waitingReport, types.StartFresh))
	requireStatus(t, f.store, waiting.ID, types.TaskStatusQueued)

	entries, err := f.store.ScanQueueList()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, waiting.ID, entries[0].TaskID)
	assert.Equal(t, waitingReport.ID, entries[0].ReportID)
	assert.False(t, entries[0].QueuedAt.IsZero())

	// No slot yet, so a tick changes nothing.
	require.NoError(t, q.HandleTick(ctx))
	requireStatus(t, f.store, waiting.ID, types.TaskStatusQueued)

	// Free the slot and the waiting scan is promoted and runs.
	cancel()
	f.sup.Wait()
	require.NoError(t, q.HandleTick(context.Background()))
	f.sup.Wait()

	requireStatus(t, f.store, waiting.ID, types.TaskStatusProcessing)
	entries, err = f.store.ScanQueueList()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, q.InUse())
}

func TestStopLeavesQueueWithoutHandshake(t *testing.T) {
	f := newFixture(t, 1)
	seedCVEFeed(t, f.store)
	slow, slowReport := seedRequestedTask(t, f.store, "task-slow", "scn-slow")
	waiting, waitingReport := seedRequestedTask(t, f.store, "task-waiting", "scn-cve")

	q := NewScanQueue(f.store, f.cfg, f.runner, f.sup, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Submit(ctx, slow, slowReport, types.StartFresh))
	require.NoError(t, q.Submit(ctx, waiting, waitingReport, types.StartFresh))
	requireStatus(t, f.store, waiting.ID, types.TaskStatusQueued)

	// A queued scan holds no scanner session; stop completes at once.
	_, err := f.runner.Transition(waiting.ID, waitingReport.ID, state.EventStop)
	require.NoError(t, err)
	requireStatus(t, f.store, waiting.ID, types.TaskStatusStopped)

	entries, err := f.store.ScanQueueList()
	require.NoError(t, err)
	assert.Empty(t, entries, "stop removed the queue entry")

	cancel()
	f.sup.Wait()
}

func TestHandleTickDropsStaleEntries(t *testing.T) {
	f := newFixture(t, 1)
	seedCVEFeed(t, f.store)
	slow, slowReport := seedRequestedTask(t, f.store, "task-slow", "scn-slow")
	waiting, waitingReport := seedRequestedTask(t, f.store, "task-waiting", "scn-cve")

	q := NewScanQueue(f.store, f.cfg, f.runner, f.sup, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Submit(ctx, slow, slowReport, types.StartFresh))
	require.NoError(t, q.Submit(ctx, waiting, waitingReport, types.StartFresh))

	// Move the waiting task out from under its queue entry.
	require.NoError(t, f.store.SetTaskStatus(waiting.ID, types.TaskStatusStopped))

	cancel()
	f.sup.Wait()
	require.NoError(t, q.HandleTick(context.Background()))
	f.sup.Wait()

	requireStatus(t, f.store, waiting.ID, types.TaskStatusStopped)
	entries, err := f.store.ScanQueueList()
	require.NoError(t, err)
	assert.Empty(t, entries, "stale entry dropped, not retried")
	assert.Equal(t, 0, q.InUse())
}
