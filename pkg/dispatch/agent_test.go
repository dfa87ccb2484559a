package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/agentctl"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

func newAgentDispatch(t *testing.T) *agentDispatch {
	t.Helper()
	r := newTestRunner(t)
	task, report := seedRunningTask(t, r, types.TaskStatusRunning)
	return &agentDispatch{httpDispatch{
		r:      r,
		task:   task,
		report: report,
		logger: log.WithScan(task.ID, report.ID),
	}}
}

func TestAgentBuildScanRequest(t *testing.T) {
	d := newAgentDispatch(t)
	require.NoError(t, d.r.store.CreateAgentGroup(&types.AgentGroup{
		ID: "grp-1", Name: "webservers", AgentIDs: []string{"agent-1", "agent-2"},
	}))
	require.NoError(t, d.r.store.CreateScanConfig(&types.ScanConfig{
		ID:          "cfg-1",
		Preferences: map[string]string{"table_driven_lsc": "1;0"},
		VTs:         []types.VTSelection{{OID: "1.3.6.1.4.1.25623.1.0.50"}},
	}))
	task, err := d.r.store.GetTask(d.task.ID)
	require.NoError(t, err)
	task.AgentGroupID = "grp-1"
	task.ConfigID = "cfg-1"
	require.NoError(t, d.r.store.UpdateTask(task))
	d.task = task

	req, err := d.buildScanRequest()
	require.NoError(t, err)
	assert.Equal(t, []agentctl.Agent{{ID: "agent-1"}, {ID: "agent-2"}}, req.Agents)
	require.Len(t, req.VTs, 1)
	assert.Equal(t, "1.3.6.1.4.1.25623.1.0.50", req.VTs[0].OID)
	require.Len(t, req.ScanPreferences, 1)
	assert.Equal(t, "table_driven_lsc", req.ScanPreferences[0].ID)
	assert.Equal(t, "1", req.ScanPreferences[0].Value, "radio list reduced to the selection")
}

func TestAgentBuildScanRequestWithoutGroup(t *testing.T) {
	d := newAgentDispatch(t)
	_, err := d.buildScanRequest()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)

	task, err := d.r.store.GetTask(d.task.ID)
	require.NoError(t, err)
	task.AgentGroupID = "grp-missing"
	require.NoError(t, d.r.store.UpdateTask(task))
	d.task = task

	_, err = d.buildScanRequest()
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
