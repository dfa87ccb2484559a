package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vigilsec/vigil/pkg/broker"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// ScannerStatus is one scanner's probe outcome as reporting surfaces
// serve it.
type ScannerStatus struct {
	ScannerID string            `json:"scanner_id"`
	Name      string            `json:"name"`
	Kind      types.ScannerKind `json:"kind"`
	Reachable bool              `json:"reachable"`
	Message   string            `json:"message,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// OSPChecker verifies an OSP scanner by opening a session and asking
// for its VT version, the cheapest command the protocol has.
type OSPChecker struct {
	Broker  *broker.Broker
	Scanner *types.Scanner
}

// Check performs the probe.
func (c *OSPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	session, err := c.Broker.OpenOSP(ctx, c.Scanner)
	if err != nil {
		return failure(start, err)
	}
	defer session.Close()

	version, err := session.VTsVersion(ctx)
	if err != nil {
		return failure(start, err)
	}

	message := "scanner responding"
	if version != "" {
		message = "VTs version " + version
	}
	return Result{
		Reachable: true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// HTTPChecker verifies an HTTP or agent-controller scanner via its
// liveness route.
type HTTPChecker struct {
	Broker  *broker.Broker
	Scanner *types.Scanner

	// Path is the route probed; default is /health/alive.
	Path string
}

// Check performs the probe.
func (c *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	client, err := c.Broker.OpenHTTPScan(ctx, c.Scanner, "")
	if err != nil {
		return failure(start, err)
	}
	defer client.Close()

	path := c.Path
	if path == "" {
		path = "/health/alive"
	}
	if err := client.Do(ctx, http.MethodGet, path, nil, nil); err != nil {
		return failure(start, err)
	}

	return Result{
		Reachable: true,
		Message:   "scanner responding",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// CVEChecker covers the built-in correlation scanner. It has no
// network side; it is ready once the SCAP feed has been ingested.
type CVEChecker struct {
	Store storage.Store
}

// Check performs the probe.
func (c *CVEChecker) Check(ctx context.Context) Result {
	start := time.Now()

	synced, err := c.Store.FeedSyncedAt(types.FeedSCAP)
	if err != nil {
		return failure(start, err)
	}
	if synced.IsZero() {
		return Result{
			Reachable: false,
			Message:   "SCAP feed not ingested yet",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Reachable: true,
		Message:   "SCAP feed ingested " + synced.UTC().Format("2006-01-02 15:04"),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// ForScanner picks the probe matching the scanner's dispatch kind.
func ForScanner(store storage.Store, b *broker.Broker, s *types.Scanner) Checker {
	switch s.Kind {
	case types.ScannerKindCVE:
		return &CVEChecker{Store: store}
	case types.ScannerKindOSP, types.ScannerKindOSPSensor:
		return &OSPChecker{Broker: b, Scanner: s}
	default:
		return &HTTPChecker{Broker: b, Scanner: s}
	}
}

func failure(start time.Time, err error) Result {
	return Result{
		Reachable: false,
		Message:   fmt.Sprintf("probe failed: %v", err),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
