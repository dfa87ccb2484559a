package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/cvescan"
	"github.com/vigilsec/vigil/pkg/types"
)

// cveDispatch runs a local CVE scan. There is no scanner session; the
// scan correlates stored host details against the CVE feed inside
// Start, so Poll only reports the outcome.
type cveDispatch struct {
	r      *Runner
	task   *types.Task
	report *types.Report
	from   types.StartMode
	logger zerolog.Logger

	scan  *cvescan.Scanner
	hosts []string
	state ScanState
}

func (d *cveDispatch) Prepare(ctx context.Context) error {
	var items []*types.CVEItem
	err := d.r.store.ForEachCVEItem(func(item *types.CVEItem) error {
		items = append(items, item)
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("load cve feed: %w", err)
	}
	cves := cvescan.NewMap(items)
	if cves.Len() == 0 {
		return fmt.Errorf("cve feed not synced yet: %w", types.ErrConflict)
	}

	if d.task.TargetID == "" {
		return fmt.Errorf("task %s has no target: %w", d.task.ID, types.ErrConflict)
	}
	target, err := d.r.store.GetTarget(d.task.TargetID)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	exclude := target.ExcludeHosts
	if d.from == types.StartResume {
		finished, err := d.r.resumeTarget(d.report.ID)
		if err != nil {
			return err
		}
		exclude = joinHostLists(append([]string{exclude}, finished...)...)
	}
	d.hosts = cvescan.ExpandHosts(target.Hosts, exclude)
	d.scan = cvescan.New(d.r.store, cves)
	d.logger.Debug().Int("cves", cves.Len()).Int("hosts", len(d.hosts)).Msg("cve scan prepared")
	return nil
}

// Start runs the whole scan; a CVE scan is local and fast enough that
// the poll loop only sees it finished.
func (d *cveDispatch) Start(ctx context.Context) error {
	if err := d.scan.Run(ctx, d.task, d.report, d.hosts); err != nil {
		d.state = StateInterrupted
		return err
	}
	d.state = StateFinished
	return nil
}

func (d *cveDispatch) Poll(ctx context.Context) (Status, error) {
	return Status{State: d.state, Progress: 100}, nil
}

func (d *cveDispatch) Stop(ctx context.Context) error { return nil }

func (d *cveDispatch) Finalize(ctx context.Context) error { return nil }
