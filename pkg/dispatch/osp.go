package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/osp"
	"github.com/vigilsec/vigil/pkg/types"
)

// ospDispatch runs a scan on an OSP scanner. The start envelope is
// assembled in Prepare and sent in Start; every Poll drains the
// scanner's delivered results with pop_results, so result rows arrive
// exactly once.
type ospDispatch struct {
	r       *Runner
	task    *types.Task
	report  *types.Report
	scanner *types.Scanner
	from    types.StartMode
	logger  zerolog.Logger

	session *osp.Session
	payload *osp.StartScan
	cleanup func()
	scanID  string
}

func (d *ospDispatch) Prepare(ctx context.Context) error {
	session, err := d.r.broker.OpenOSP(ctx, d.scanner)
	if err != nil {
		return err
	}
	d.session = session

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

	creds, cleanup, err := d.r.ospCredentials(target)
	if err != nil {
		return err
	}
	d.cleanup = cleanup

	exclude := target.ExcludeHosts
	var finished []string
	if d.from == types.StartResume {
		finished, err = d.r.resumeTarget(d.report.ID)
		if err != nil {
			return err
		}
		exclude = joinHostLists(exclude, strings.Join(finished, ","))
	}

	d.payload = &osp.StartScan{
		ScanID: d.report.ID,
		Targets: osp.Targets{Targets: []osp.Target{{
			Hosts:              target.Hosts,
			ExcludeHosts:       exclude,
			FinishedHosts:      strings.Join(finished, ","),
			Ports:              target.PortRange,
			Credentials:        osp.Credentials{Credentials: creds},
			AliveTest:          target.AliveTest,
			ReverseLookupUnify: boolToInt(target.ReverseLookupUnify),
			ReverseLookupOnly:  boolToInt(target.ReverseLookupOnly),
		}}},
		VTSelection:   vtSelection(cfg, timeouts),
		ScannerParams: prefs,
	}
	return nil
}

func (d *ospDispatch) Start(ctx context.Context) error {
	id, err := d.session.StartScan(ctx, *d.payload)
	d.payload = nil
	d.cleanup()
	d.cleanup = nil
	if err != nil {
		return err
	}
	if id != d.report.ID {
		d.logger.Warn().Str("scan_id", id).Msg("scanner assigned its own scan id")
	}
	d.scanID = id
	return d.r.store.SetReportScanID(d.report.ID, id)
}

func (d *ospDispatch) Poll(ctx context.Context) (Status, error) {
	scan, err := d.session.GetScan(ctx, d.scanID, true, true)
	if err != nil {
		return Status{}, err
	}
	if err := d.ingest(scan.Results.Results); err != nil {
		return Status{}, err
	}

	st := Status{Progress: scan.Progress}
	switch scan.Status {
	case osp.ScanStatusQueued, osp.ScanStatusInit:
		st.State = StatePending
	case osp.ScanStatusRunning:
		st.State = StateRunning
	case osp.ScanStatusStopped:
		st.State = StateStopped
	case osp.ScanStatusFinished:
		st.State = StateFinished
	case osp.ScanStatusInterrupted:
		st.State = StateInterrupted
	default:
		return Status{}, fmt.Errorf("scan status %q: %w", scan.Status, types.ErrScannerProtocol)
	}
	return st, nil
}

func (d *ospDispatch) Stop(ctx context.Context) error {
	return d.session.StopScan(ctx, d.scanID)
}

func (d *ospDispatch) Finalize(ctx context.Context) error {
	if d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
	if d.session == nil {
		return nil
	}
	if d.scanID != "" {
		// Best effort; the scanner drops finished scans on its own.
		if err := d.session.DeleteScan(ctx, d.scanID); err != nil {
			d.logger.Debug().Err(err).Msg("scanner-side scan delete failed")
		}
	}
	return d.session.Close()
}

// ingest writes one poll's result rows into the report. Host lifecycle
// rows become report-host rows, details become host details, findings
// become results.
func (d *ospDispatch) ingest(results []osp.Result) error {
	now := time.Now()
	for _, res := range results {
		switch res.Type {
		case osp.ResultTypeHostStart:
			if err := d.r.store.SetReportHostStart(d.report.ID, res.Host, now); err != nil {
				return err
			}
		case osp.ResultTypeHostEnd:
			if err := d.r.store.SetReportHostEnd(d.report.ID, res.Host, now); err != nil {
				return err
			}
		case osp.ResultTypeHostDetail:
			detail := &types.HostDetail{
				ReportID:   d.report.ID,
				Host:       res.Host,
				Name:       res.Name,
				Value:      res.Value,
				SourceType: "nvt",
				SourceName: res.TestID,
			}
			if err := d.r.store.AddHostDetail(detail); err != nil {
				return err
			}
		case osp.ResultTypeDeadHost:
			d.logger.Debug().Str("count", res.Value).Msg("dead hosts reported")
		case osp.ResultTypeAlarm, osp.ResultTypeLog, osp.ResultTypeError:
			if err := d.ingestFinding(res); err != nil {
				return err
			}
		default:
			d.logger.Warn().Str("type", res.Type).Msg("unknown result type skipped")
		}
	}
	return nil
}

func (d *ospDispatch) ingestFinding(res osp.Result) error {
	var mapped types.ResultType
	switch res.Type {
	case osp.ResultTypeAlarm:
		mapped = types.ResultTypeAlarm
	case osp.ResultTypeLog:
		mapped = types.ResultTypeLog
	case osp.ResultTypeError:
		mapped = types.ResultTypeError
	}

	severity := res.SeverityValue()
	if res.Severity == "" {
		severity = types.TypeSeverity(mapped)
		if mapped == types.ResultTypeAlarm {
			if vt, ok := d.r.vts.Get(res.TestID); ok {
				severity = vt.Severity
			}
		}
	}

	return d.r.store.AppendResult(&types.Result{
		ID:          uuid.New().String(),
		ReportID:    d.report.ID,
		TaskID:      d.task.ID,
		Host:        res.Host,
		Hostname:    res.Hostname,
		Port:        res.Port,
		NVT:         res.TestID,
		Type:        mapped,
		Description: res.Value,
		Severity:    severity,
		QoD:         res.QoDValue(),
	})
}

// vtSelection renders a scan config's VT list as OSP vt_single
// elements. Preference values are emitted in sorted order; a per-VT
// timeout from the config joins them unless the VT sets its own.
func vtSelection(cfg *types.ScanConfig, timeouts map[string]string) osp.VTSelection {
	var sel osp.VTSelection
	if cfg == nil {
		return sel
	}
	for _, vt := range cfg.VTs {
		single := osp.VTSingle{ID: vt.OID}

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
		for _, k := range keys {
			single.Values = append(single.Values, osp.VTValue{ID: k, Value: prefs[k]})
		}
		sel.Singles = append(sel.Singles, single)
	}
	return sel
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
