package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// scriptedChecker serves queued results, repeating the last one.
type scriptedChecker struct {
	mu      sync.Mutex
	results []Result
	calls   int
}

func (s *scriptedChecker) Check(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r := Result{Reachable: true}
	if len(s.results) > 0 {
		r = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now()
	}
	return r
}

func (s *scriptedChecker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestStatusShieldsEstablishedStateUntilThreshold(t *testing.T) {
	cfg := Config{Retries: 3}
	st := NewStatus()

	up := Result{Reachable: true, CheckedAt: time.Now()}
	down := Result{Reachable: false, CheckedAt: time.Now()}

	st.Update(up, cfg)
	st.Update(down, cfg)
	st.Update(down, cfg)
	assert.True(t, st.Reachable, "two failures stay under the threshold")
	assert.Equal(t, 2, st.ConsecutiveFailures)

	st.Update(down, cfg)
	assert.False(t, st.Reachable)

	st.Update(up, cfg)
	assert.True(t, st.Reachable, "one success recovers immediately")
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.ConsecutiveSuccesses)
}

func TestStatusNeverAnsweredScannerFailsImmediately(t *testing.T) {
	st := NewStatus()
	st.Update(Result{Reachable: false, CheckedAt: time.Now()}, Config{Retries: 3})
	assert.False(t, st.Reachable, "the threshold does not shield a scanner with no history")
}

func TestMonitorServesCachedResultInsideInterval(t *testing.T) {
	checker := &scriptedChecker{}
	m := NewMonitor(Config{Interval: time.Hour})

	first := m.Probe(context.Background(), "scanner-1", checker)
	second := m.Probe(context.Background(), "scanner-1", checker)

	assert.Equal(t, 1, checker.callCount())
	assert.Equal(t, first.LastCheck, second.LastCheck)
	assert.True(t, second.Reachable)
}

func TestMonitorReprobesAfterInterval(t *testing.T) {
	checker := &scriptedChecker{}
	m := NewMonitor(Config{Interval: time.Millisecond})

	m.Probe(context.Background(), "scanner-1", checker)
	time.Sleep(5 * time.Millisecond)
	m.Probe(context.Background(), "scanner-1", checker)

	assert.Equal(t, 2, checker.callCount())
}

func TestMonitorTracksScannersIndependently(t *testing.T) {
	up := &scriptedChecker{}
	down := &scriptedChecker{results: []Result{{Reachable: false}}}
	m := NewMonitor(Config{Interval: time.Hour, Retries: 1})

	a := m.Probe(context.Background(), "scanner-a", up)
	b := m.Probe(context.Background(), "scanner-b", down)

	assert.True(t, a.Reachable)
	assert.False(t, b.Reachable)
}

func TestMonitorForgetDropsHistory(t *testing.T) {
	down := &scriptedChecker{results: []Result{{Reachable: false}}}
	m := NewMonitor(Config{Interval: time.Millisecond, Retries: 1})

	st := m.Probe(context.Background(), "scanner-1", down)
	require.False(t, st.Reachable)

	m.Forget("scanner-1")

	up := &scriptedChecker{}
	st = m.Probe(context.Background(), "scanner-1", up)
	assert.True(t, st.Reachable)
	assert.Equal(t, 1, st.ConsecutiveSuccesses, "history starts over after Forget")
}

func TestCVECheckerFollowsFeedIngest(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	checker := &CVEChecker{Store: store}

	result := checker.Check(context.Background())
	assert.False(t, result.Reachable)
	assert.Contains(t, result.Message, "not ingested")

	require.NoError(t, store.SetFeedSyncedAt(types.FeedSCAP, time.Now()))

	result = checker.Check(context.Background())
	assert.True(t, result.Reachable)
	assert.Contains(t, result.Message, "SCAP feed ingested")
}

func TestForScannerPicksProbeByKind(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cases := []struct {
		kind types.ScannerKind
		want any
	}{
		{types.ScannerKindCVE, &CVEChecker{}},
		{types.ScannerKindOSP, &OSPChecker{}},
		{types.ScannerKindOSPSensor, &OSPChecker{}},
		{types.ScannerKindHTTP, &HTTPChecker{}},
		{types.ScannerKindHTTPSensor, &HTTPChecker{}},
		{types.ScannerKindAgent, &HTTPChecker{}},
		{types.ScannerKindAgentSensor, &HTTPChecker{}},
	}
	for _, tc := range cases {
		checker := ForScanner(store, nil, &types.Scanner{ID: "s", Kind: tc.kind})
		assert.IsType(t, tc.want, checker, "kind %s", tc.kind)
	}
}
