package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/health"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/sysreport"
)

// Client talks to a running daemon over its HTTP surface.
type Client struct {
	base string
	hc   *http.Client

	// stream has no timeout; the event stream stays open until the
	// caller's context ends it.
	stream *http.Client
}

// New builds a client for the daemon at addr. A bare host:port gets
// the http scheme; the surface does not speak TLS itself.
func New(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		hc:     &http.Client{Timeout: 30 * time.Second},
		stream: &http.Client{},
	}
}

// Health returns the daemon's component health. A degraded daemon
// still answers; only an unreachable one errors.
func (c *Client) Health(ctx context.Context) (*metrics.HealthStatus, error) {
	return c.getStatus(ctx, "/health")
}

// Ready returns the daemon's readiness. Status is "ready" once the
// critical components report healthy.
func (c *Client) Ready(ctx context.Context) (*metrics.HealthStatus, error) {
	return c.getStatus(ctx, "/ready")
}

// Scanners returns the reachability of every configured scanner.
func (c *Client) Scanners(ctx context.Context) ([]health.ScannerStatus, error) {
	var out []health.ScannerStatus
	if err := c.get(ctx, "/system/scanners", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PerformanceTypes lists the performance reports the daemon can render.
func (c *Client) PerformanceTypes(ctx context.Context) ([]sysreport.Type, error) {
	var out []sysreport.Type
	if err := c.get(ctx, "/system/performance/types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Performance renders one performance report. Zero times leave the
// window to the daemon's defaults.
func (c *Client) Performance(ctx context.Context, name string, start, end time.Time) (*sysreport.Report, error) {
	q := url.Values{}
	q.Set("name", name)
	if !start.IsZero() {
		q.Set("start", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		q.Set("end", strconv.FormatInt(end.Unix(), 10))
	}
	var out sysreport.Report
	if err := c.get(ctx, "/system/performance", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events streams controller events, invoking fn for each one until the
// context ends, the daemon closes the stream, or fn returns an error.
// kinds narrows the stream to the given event types; empty means all.
func (c *Client) Events(ctx context.Context, kinds []string, fn func(events.Event) error) error {
	u := c.base + "/events"
	if len(kinds) > 0 {
		q := url.Values{}
		q.Set("types", strings.Join(kinds, ","))
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream refused: %s", httpError(resp))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event events.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("failed to decode event: %v", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		// A cancelled context surfaces as a read error on the body.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("event stream broken: %v", err)
	}
	return nil
}

// getStatus fetches a health-style endpoint. These answer 503 with a
// decodable body when degraded, which is an answer, not an error.
func (c *Client) getStatus(ctx context.Context, path string) (*metrics.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("%s: %s", path, httpError(resp))
	}
	var out metrics.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %v", err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, httpError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode reply: %v", err)
	}
	return nil
}

func httpError(resp *http.Response) string {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Sprintf("%s: %s", resp.Status, text)
	}
	return resp.Status
}
