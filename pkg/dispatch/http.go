package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/httpscan"
	"github.com/vigilsec/vigil/pkg/types"
)

// httpDispatch runs a scan on an HTTP scanner. Results are fetched
// incrementally by offset; serverity and quality of detection are not
// on the wire and resolve from cached VT metadata.
type httpDispatch struct {
	r       *Runner
	task    *types.Task
	report  *types.Report
	scanner *types.Scanner
	from    types.StartMode
	logger  zerolog.Logger

	client  *httpscan.Client
	scanCfg *httpscan.ScanConfig
	cleanup func()
	offset  int
}

func (d *httpDispatch) Prepare(ctx context.Context) error {
	client, err := d.r.broker.OpenHTTPScan(ctx, d.scanner, "")
	if err != nil {
		return err
	}
	d.client = client

	if err := d.buildScanConfig(); err != nil {
		return err
	}

	id, err := d.client.CreateScan(ctx, d.scanCfg)
	d.scanCfg = nil
	d.cleanup()
	d.cleanup = nil
	if err != nil {
		return err
	}
	d.logger.Debug().Str("scan_id", id).Msg("scan created")
	return d.r.store.SetReportScanID(d.report.ID, id)
}

// buildScanConfig assembles the create payload: target, credentials,
// VT selection with timeouts rendered per script, flat preferences,
// and the discovery flag when every selected VT is a discovery test.
func (d *httpDispatch) buildScanConfig() error {
	if d.task.TargetID == "" {
		return fmt.Errorf("task %s has no target: %w", d.task.ID, types.ErrConflict)
	}
	target, err := d.r.store.GetTarget(d.task.TargetID)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	prefs, timeouts, cfg, err := d.r.scanPreferences(d.task)
	if err != nil {
		return err
	}

	creds, cleanup, err := d.r.httpCredentials(target)
	if err != nil {
		return err
	}
	d.cleanup = cleanup

	excluded := splitHostList(target.ExcludeHosts)
	var finished []string
	if d.from == types.StartResume {
		finished, err = d.r.resumeTarget(d.report.ID)
		if err != nil {
			return err
		}
		excluded = append(excluded, finished...)
	}

	d.scanCfg = &httpscan.ScanConfig{
		Target: httpscan.Target{
			Hosts:              splitHostList(target.Hosts),
			ExcludedHosts:      excluded,
			FinishedHosts:      finished,
			Ports:              target.PortRange,
			AliveTest:          target.AliveTest,
			ReverseLookupUnify: target.ReverseLookupUnify,
			ReverseLookupOnly:  target.ReverseLookupOnly,
			Credentials:        creds,
		},
		VTs:             d.selectVTs(cfg, timeouts),
		ScanPreferences: flatPreferences(prefs),
	}
	d.scanCfg.Discovery = d.allDiscovery(d.scanCfg.VTs)
	return nil
}

func (d *httpDispatch) selectVTs(cfg *types.ScanConfig, timeouts map[string]string) []httpscan.VT {
	if cfg == nil {
		return nil
	}
	out := make([]httpscan.VT, 0, len(cfg.VTs))
	for _, vt := range cfg.VTs {
		prefs := make(map[string]string, len(vt.Preferences)+1)
		for k, v := range vt.Preferences {
			prefs[k] = v
		}
		if t, ok := timeouts[vt.OID]; ok {
			if _, set := prefs["timeout"]; !set {
				prefs["timeout"] = t
			}
		}

		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sel := httpscan.VT{OID: vt.OID}
		for _, k := range keys {
			sel.Parameters = append(sel.Parameters, httpscan.VTParameter{ID: k, Value: prefs[k]})
		}
		out = append(out, sel)
	}
	return out
}

// allDiscovery reports whether every selected VT is tagged as a
// discovery test. VTs missing from the cache count as non-discovery.
func (d *httpDispatch) allDiscovery(vts []httpscan.VT) bool {
	if len(vts) == 0 {
		return false
	}
	for _, sel := range vts {
		vt, ok := d.r.vts.Get(sel.OID)
		if !ok || !vt.Discovery {
			return false
		}
	}
	return true
}

func (d *httpDispatch) Start(ctx context.Context) error {
	return d.client.StartScan(ctx)
}

func (d *httpDispatch) Poll(ctx context.Context) (Status, error) {
	scanStatus, err := d.client.Status(ctx)
	if err != nil {
		return Status{}, err
	}

	rows, err := d.client.Results(ctx, d.offset)
	if err != nil {
		return Status{}, err
	}
	if err := d.ingest(rows); err != nil {
		return Status{}, err
	}
	d.offset += len(rows)

	st := Status{}
	if scanStatus.HostInfo != nil {
		st.Progress = scanStatus.HostInfo.Progress()
	}
	switch scanStatus.Status {
	case httpscan.PhaseStored, httpscan.PhaseRequested:
		st.State = StatePending
	case httpscan.PhaseRunning:
		st.State = StateRunning
	case httpscan.PhaseStopped:
		st.State = StateStopped
	case httpscan.PhaseSucceeded:
		st.State = StateFinished
	case httpscan.PhaseFailed:
		st.State = StateInterrupted
	default:
		return Status{}, fmt.Errorf("scan phase %q: %w", scanStatus.Status, types.ErrScannerProtocol)
	}
	return st, nil
}

func (d *httpDispatch) Stop(ctx context.Context) error {
	return d.client.StopScan(ctx)
}

func (d *httpDispatch) Finalize(ctx context.Context) error {
	if d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
	if d.client == nil {
		return nil
	}
	if d.client.ScanID() != "" {
		if err := d.client.DeleteScan(ctx); err != nil {
			d.logger.Debug().Err(err).Msg("scanner-side scan delete failed")
		}
	}
	d.client.Close()
	return nil
}

func (d *httpDispatch) ingest(rows []httpscan.Result) error {
	now := time.Now()
	for _, row := range rows {
		switch row.Type {
		case httpscan.ResultTypeHostStart:
			if err := d.r.store.SetReportHostStart(d.report.ID, row.IPAddress, now); err != nil {
				return err
			}
		case httpscan.ResultTypeHostEnd:
			if err := d.r.store.SetReportHostEnd(d.report.ID, row.IPAddress, now); err != nil {
				return err
			}
		case httpscan.ResultTypeHostDetail:
			if row.Detail == nil {
				d.logger.Warn().Int64("result", row.ID).Msg("host detail row without detail body")
				continue
			}
			detail := &types.HostDetail{
				ReportID:   d.report.ID,
				Host:       row.IPAddress,
				Name:       row.Detail.Name,
				Value:      row.Detail.Value,
				SourceType: row.Detail.Source.Type,
				SourceName: row.Detail.Source.Name,
				SourceDesc: row.Detail.Source.Description,
			}
			if err := d.r.store.AddHostDetail(detail); err != nil {
				return err
			}
		case httpscan.ResultTypeDeadHost:
			d.logger.Debug().Str("host", row.IPAddress).Msg("dead host reported")
		case httpscan.ResultTypeAlarm, httpscan.ResultTypeLog, httpscan.ResultTypeError:
			if err := d.ingestFinding(row); err != nil {
				return err
			}
		default:
			d.logger.Warn().Str("type", row.Type).Msg("unknown result type skipped")
		}
	}
	return nil
}

func (d *httpDispatch) ingestFinding(row httpscan.Result) error {
	var mapped types.ResultType
	switch row.Type {
	case httpscan.ResultTypeAlarm:
		mapped = types.ResultTypeAlarm
	case httpscan.ResultTypeLog:
		mapped = types.ResultTypeLog
	case httpscan.ResultTypeError:
		mapped = types.ResultTypeError
	}

	severity := types.TypeSeverity(mapped)
	qod := types.QoDDefault
	if vt, ok := d.r.vts.Get(row.OID); ok {
		if mapped == types.ResultTypeAlarm {
			severity = vt.Severity
		}
		if vt.QoD > 0 {
			qod = vt.QoD
		}
	}

	description := row.Message
	if row.Detail != nil && description == "" {
		description = row.Detail.Value
	}

	return d.r.store.AppendResult(&types.Result{
		ID:          uuid.New().String(),
		ReportID:    d.report.ID,
		TaskID:      d.task.ID,
		Host:        row.IPAddress,
		Hostname:    row.Hostname,
		Port:        row.PortString(),
		NVT:         row.OID,
		Type:        mapped,
		Description: description,
		Severity:    severity,
		QoD:         qod,
	})
}

// flatPreferences renders the merged preference map as a sorted
// preference list so the create payload is deterministic.
func flatPreferences(prefs map[string]string) []httpscan.Preference {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]httpscan.Preference, 0, len(keys))
	for _, k := range keys {
		out = append(out, httpscan.Preference{ID: k, Value: prefs[k]})
	}
	return out
}
