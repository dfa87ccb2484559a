package worker

import (
	"bytes"
	"context"
	"sync/atomic"
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
)

func newTestSupervisor(t *testing.T) (*Supervisor, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	secrets, err := security.NewSecretsManager(bytes.Repeat([]byte{0x21}, 32))
	require.NoError(t, err)

	cfg := &config.Config{ScanPollInterval: 10 * time.Millisecond, ScannerConnectionRetry: 30}
	runner := dispatch.NewRunner(store, cfg, broker.New(cfg, secrets), secrets, dispatch.NewVTCache(), state.NewLocks())
	return NewSupervisor(runner, store, nil), store
}

// seedUnreachableOSP repoints the task at an OSP scanner nothing
// listens on. The dial retry loop keeps the worker live until its
// context is cancelled.
func seedUnreachableOSP(t *testing.T, store storage.Store, task *types.Task) {
	t.Helper()
	require.NoError(t, store.CreateScanner(&types.Scanner{
		ID: "scn-slow", Kind: types.ScannerKindOSP, Host: "127.0.0.1", Port: 1,
	}))
	task.ScannerID = "scn-slow"
	require.NoError(t, store.UpdateTask(task))
}

// seedCVETask stores everything a local CVE scan needs and leaves the
// task Running with a bound report, as the queue would.
func seedCVETask(t *testing.T, store storage.Store) (*types.Task, *types.Report) {
	t.Helper()
	require.NoError(t, store.ReplaceCVEItems([]*types.CVEItem{
		{Name: "CVE-2023-0001", Severity: 7.5, Products: []string{"cpe:/a:example:foo:1.2.3"}},
	}))
	require.NoError(t, store.CreateTarget(&types.Target{ID: "tgt-1", Hosts: "10.0.0.1"}))
	require.NoError(t, store.CreateScanner(&types.Scanner{ID: "scn-1", Kind: types.ScannerKindCVE}))

	task := &types.Task{ID: "task-1", Name: "cve sweep", Owner: "admin", TargetID: "tgt-1", ScannerID: "scn-1"}
	require.NoError(t, store.CreateTask(task))
	report := &types.Report{ID: "rep-1", TaskID: task.ID, RunStatus: types.TaskStatusRequested}
	require.NoError(t, store.CreateCurrentReport(task.ID, report))
	require.NoError(t, store.SetTaskStatus(task.ID, types.TaskStatusRunning))

	require.NoError(t, store.CreateReport(&types.Report{ID: "rep-old", TaskID: task.ID}))
	require.NoError(t, store.SetReportHostStart("rep-old", "10.0.0.1", time.Now().Add(-2*time.Hour)))
	require.NoError(t, store.SetReportHostEnd("rep-old", "10.0.0.1", time.Now().Add(-time.Hour)))
	require.NoError(t, store.AddHostDetail(&types.HostDetail{
		ReportID: "rep-old", Host: "10.0.0.1", Name: "App",
		Value: "cpe:/a:example:foo:1.2.3", SourceType: "nvt",
	}))
	return task, report
}

func TestLaunchRunsScanToProcessing(t *testing.T) {
	s, store := newTestSupervisor(t)
	task, report := seedCVETask(t, store)

	var done atomic.Int32
	require.NoError(t, s.Launch(context.Background(), task, report, types.StartFresh, func() { done.Add(1) }))
	s.Wait()

	status, err := store.TaskStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusProcessing, status)
	assert.Equal(t, int32(1), done.Load(), "done callback runs exactly once")
	assert.Equal(t, 0, s.Running())
}

func TestLaunchRefusesSecondWorkerForSameTask(t *testing.T) {
	s, store := newTestSupervisor(t)
	task, report := seedCVETask(t, store)
	seedUnreachableOSP(t, store, task)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Launch(ctx, task, report, types.StartFresh, nil))

	err := s.Launch(ctx, task, report, types.StartFresh, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTaskActive)
	assert.True(t, s.IsRunning(task.ID))

	cancel()
	s.Wait()
	assert.False(t, s.IsRunning(task.ID))
}

func TestWorkerErrorInterruptsTask(t *testing.T) {
	s, store := newTestSupervisor(t)
	task, report := seedCVETask(t, store)

	// Point the task at a scanner that does not exist; RunTask fails
	// before any session is opened.
	task.ScannerID = "missing"
	require.NoError(t, store.UpdateTask(task))

	require.NoError(t, s.Launch(context.Background(), task, report, types.StartFresh, nil))
	s.Wait()

	status, err := store.TaskStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInterrupted, status)

	var errorResults []*types.Result
	require.NoError(t, store.ForEachResult(report.ID, func(r *types.Result) error {
		if r.Type == types.ResultTypeError {
			errorResults = append(errorResults, r)
		}
		return nil
	}))
	require.Len(t, errorResults, 1)
	assert.Contains(t, errorResults[0].Description, "Interrupting scan.")

	got, err := store.GetReport(report.ID)
	require.NoError(t, err)
	assert.False(t, got.EndTime.IsZero(), "interrupted run still gets a scan end time")
}

func TestShutdownInterruptsLiveWorkers(t *testing.T) {
	s, store := newTestSupervisor(t)
	task, report := seedCVETask(t, store)
	seedUnreachableOSP(t, store, task)

	require.NoError(t, s.Launch(context.Background(), task, report, types.StartFresh, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	status, err := store.TaskStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInterrupted, status)
}
