package cvescan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// appDetailName is the host-detail key under which scanners record
// installed products as CPEs.
const appDetailName = "App"

// Scanner correlates stored host details with the CVE map. It never
// touches the network; its input is the report history of the target
// hosts.
type Scanner struct {
	store  storage.Store
	cves   *Map
	logger zerolog.Logger
}

// New builds a CVE correlation scanner on top of a store session.
func New(store storage.Store, cves *Map) *Scanner {
	return &Scanner{
		store:  store,
		cves:   cves,
		logger: log.WithComponent("cvescan"),
	}
}

// Run executes a correlation scan into the given report. Hosts with no
// report history contribute nothing; hosts with history get one Alarm
// result per applicable CVE. Per-host and whole-scan times are
// recorded on the report.
func (s *Scanner) Run(ctx context.Context, task *types.Task, report *types.Report, hosts []string) error {
	if report.StartTime.IsZero() {
		if err := s.store.SetScanStartTime(report.ID, time.Now()); err != nil {
			return err
		}
	}
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanHost(task, report, host); err != nil {
			return fmt.Errorf("cve scan host %s: %w", host, err)
		}
	}
	return s.store.SetScanEndTime(report.ID, time.Now())
}

func (s *Scanner) scanHost(task *types.Task, report *types.Report, host string) error {
	if err := s.store.SetReportHostStart(report.ID, host, time.Now()); err != nil {
		return err
	}

	last, err := s.store.LastReportHost(host)
	if err != nil {
		return err
	}
	if last == nil {
		// No history for this host; nothing to correlate.
		s.logger.Debug().Str("host", host).Msg("no report history, skipping")
		return s.store.SetReportHostEnd(report.ID, host, time.Now())
	}

	cpes, err := s.store.HostDetails(last.ReportID, host, appDetailName)
	if err != nil {
		return err
	}

	for _, match := range s.cves.Matches(cpes) {
		result := &types.Result{
			ID:          uuid.New().String(),
			ReportID:    report.ID,
			TaskID:      task.ID,
			Host:        host,
			Port:        "general/tcp",
			NVT:         match.CVE.Name,
			Type:        types.ResultTypeAlarm,
			Severity:    match.CVE.Severity,
			QoD:         types.QoDDefault,
			Description: matchDescription(match),
		}
		if err := s.store.AppendResult(result); err != nil {
			return err
		}
	}
	return s.store.SetReportHostEnd(report.ID, host, time.Now())
}

func matchDescription(match Match) string {
	var b strings.Builder
	if match.Product != "" {
		fmt.Fprintf(&b, "The host carries the product %s.\n", match.Product)
	}
	fmt.Fprintf(&b, "It is affected by %s.", match.CVE.Name)
	if match.CVE.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(match.CVE.Description)
	}
	return b.String()
}

// ExpandHosts splits a target host list into individual hosts, dropping
// anything named in the exclude list. Entries are comma separated;
// surrounding whitespace is ignored.
func ExpandHosts(hosts, exclude string) []string {
	excluded := make(map[string]bool)
	for _, h := range strings.Split(exclude, ",") {
		if h = strings.TrimSpace(h); h != "" {
			excluded[h] = true
		}
	}
	var out []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" && !excluded[h] {
			out = append(out, h)
		}
	}
	return out
}
