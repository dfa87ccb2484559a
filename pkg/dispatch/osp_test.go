package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/osp"
	"github.com/vigilsec/vigil/pkg/types"
)

func TestVTSelectionRendersTimeouts(t *testing.T) {
	cfg := &types.ScanConfig{
		ID: "cfg-1",
		VTs: []types.VTSelection{
			{OID: "1.3.6.1.4.1.25623.1.0.1", Preferences: map[string]string{"b": "2", "a": "1"}},
			{OID: "1.3.6.1.4.1.25623.1.0.2", Preferences: map[string]string{"timeout": "60"}},
			{OID: "1.3.6.1.4.1.25623.1.0.3"},
		},
	}
	timeouts := map[string]string{
		"1.3.6.1.4.1.25623.1.0.1": "320",
		"1.3.6.1.4.1.25623.1.0.2": "900",
	}

	sel := vtSelection(cfg, timeouts)
	require.Len(t, sel.Singles, 3)

	first := sel.Singles[0]
	assert.Equal(t, "1.3.6.1.4.1.25623.1.0.1", first.ID)
	require.Len(t, first.Values, 3)
	assert.Equal(t, osp.VTValue{ID: "a", Value: "1"}, first.Values[0])
	assert.Equal(t, osp.VTValue{ID: "b", Value: "2"}, first.Values[1])
	assert.Equal(t, osp.VTValue{ID: "timeout", Value: "320"}, first.Values[2])

	// A VT's own timeout preference wins over the config-level one.
	second := sel.Singles[1]
	require.Len(t, second.Values, 1)
	assert.Equal(t, osp.VTValue{ID: "timeout", Value: "60"}, second.Values[0])

	assert.Empty(t, sel.Singles[2].Values)
}

func TestVTSelectionNilConfig(t *testing.T) {
	sel := vtSelection(nil, nil)
	assert.Empty(t, sel.Singles)
}

func newOSPDispatch(t *testing.T) *ospDispatch {
	t.Helper()
	r := newTestRunner(t)
	task, report := seedRunningTask(t, r, types.TaskStatusRunning)
	return &ospDispatch{
		r:      r,
		task:   task,
		report: report,
		logger: log.WithScan(task.ID, report.ID),
	}
}

func TestOSPIngestHostLifecycle(t *testing.T) {
	d := newOSPDispatch(t)

	require.NoError(t, d.ingest([]osp.Result{
		{Type: osp.ResultTypeHostStart, Host: "10.0.0.1", Value: "starting"},
		{Type: osp.ResultTypeHostDetail, Host: "10.0.0.1", Name: "App",
			Value: "cpe:/a:openbsd:openssh:9.3", TestID: "1.3.6.1.4.1.25623.1.0.100"},
		{Type: osp.ResultTypeHostEnd, Host: "10.0.0.1", Value: "done"},
		{Type: osp.ResultTypeDeadHost, Value: "3"},
	}))

	var hosts []*types.ReportHost
	require.NoError(t, d.r.store.ForEachReportHost(d.report.ID, func(rh *types.ReportHost) error {
		hosts = append(hosts, rh)
		return nil
	}))
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.1", hosts[0].Host)
	assert.False(t, hosts[0].StartTime.IsZero())
	assert.False(t, hosts[0].EndTime.IsZero())

	details, err := d.r.store.HostDetails(d.report.ID, "10.0.0.1", "App")
	require.NoError(t, err)
	assert.Equal(t, []string{"cpe:/a:openbsd:openssh:9.3"}, details)
}

func TestOSPIngestFindings(t *testing.T) {
	d := newOSPDispatch(t)
	require.NoError(t, d.r.store.ReplaceVTs([]*types.VT{
		{OID: "1.3.6.1.4.1.25623.1.0.7", Name: "Weak cipher", Severity: 5.9},
	}))
	require.NoError(t, d.r.vts.Refresh(d.r.store))

	require.NoError(t, d.ingest([]osp.Result{
		{Type: osp.ResultTypeAlarm, Host: "10.0.0.1", Port: "443/tcp",
			TestID: "1.3.6.1.4.1.25623.1.0.5", Severity: "9.8", QoD: "80", Value: "vulnerable"},
		// Wire severity missing: an alarm falls back to the VT's severity.
		{Type: osp.ResultTypeAlarm, Host: "10.0.0.1", Port: "443/tcp",
			TestID: "1.3.6.1.4.1.25623.1.0.7", Value: "weak cipher"},
		{Type: osp.ResultTypeLog, Host: "10.0.0.1", Port: "general/tcp",
			TestID: "1.3.6.1.4.1.25623.1.0.9", Value: "service detected"},
		{Type: osp.ResultTypeError, Host: "10.0.0.2",
			TestID: "1.3.6.1.4.1.25623.1.0.9", Value: "timeout reached"},
	}))

	var results []*types.Result
	require.NoError(t, d.r.store.ForEachResult(d.report.ID, func(res *types.Result) error {
		results = append(results, res)
		return nil
	}))
	require.Len(t, results, 4)

	assert.Equal(t, types.ResultTypeAlarm, results[0].Type)
	assert.Equal(t, 9.8, results[0].Severity)
	assert.Equal(t, 80, results[0].QoD)
	assert.NotEmpty(t, results[0].ID)

	assert.Equal(t, 5.9, results[1].Severity, "vt metadata supplies the severity")

	assert.Equal(t, types.ResultTypeLog, results[2].Type)
	assert.Equal(t, types.SeverityLog, results[2].Severity)
	assert.Equal(t, types.QoDDefault, results[2].QoD)

	assert.Equal(t, types.ResultTypeError, results[3].Type)
	assert.Equal(t, types.SeverityError, results[3].Severity)
}

func TestOSPIngestSkipsUnknownTypes(t *testing.T) {
	d := newOSPDispatch(t)
	require.NoError(t, d.ingest([]osp.Result{
		{Type: "Fancy New Thing", Host: "10.0.0.1", Value: "x"},
	}))
	count, err := d.r.store.CountResults(d.report.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
