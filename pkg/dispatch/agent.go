package dispatch

import (
	"context"
	"fmt"

	"github.com/vigilsec/vigil/pkg/agentctl"
	"github.com/vigilsec/vigil/pkg/types"
)

// agentDispatch runs a scan on an agent controller. Creation swaps the
// host target for an agent list; status and result handling are the
// HTTP scanner protocol and come from the embedded dispatcher.
type agentDispatch struct {
	httpDispatch
}

func (d *agentDispatch) Prepare(ctx context.Context) error {
	client, err := d.r.broker.OpenHTTPScan(ctx, d.scanner, "")
	if err != nil {
		return err
	}
	d.client = client

	req, err := d.buildScanRequest()
	if err != nil {
		return err
	}

	id, err := agentctl.NewClient(client).CreateScan(ctx, req)
	if err != nil {
		return err
	}
	d.logger.Debug().Str("scan_id", id).Int("agents", len(req.Agents)).Msg("agent scan created")
	return d.r.store.SetReportScanID(d.report.ID, id)
}

func (d *agentDispatch) buildScanRequest() (*agentctl.ScanRequest, error) {
	if d.task.AgentGroupID == "" {
		return nil, fmt.Errorf("task %s has no agent group: %w", d.task.ID, types.ErrConflict)
	}
	group, err := d.r.store.GetAgentGroup(d.task.AgentGroupID)
	if err != nil {
		return nil, fmt.Errorf("load agent group: %w", err)
	}

	prefs, timeouts, cfg, err := d.r.scanPreferences(d.task)
	if err != nil {
		return nil, err
	}

	agents := make([]agentctl.Agent, 0, len(group.AgentIDs))
	for _, agentID := range group.AgentIDs {
		agents = append(agents, agentctl.Agent{ID: agentID})
	}

	return &agentctl.ScanRequest{
		Agents:          agents,
		VTs:             d.selectVTs(cfg, timeouts),
		ScanPreferences: flatPreferences(prefs),
	}, nil
}
