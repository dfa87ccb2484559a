package httpscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vigilsec/vigil/pkg/types"
)

// Client talks to one HTTP scanner over its JSON REST interface. A
// client is bound to at most one scan; CreateScan binds it.
type Client struct {
	hc      *http.Client
	baseURL string
	scanID  string
}

// NewClient wraps an authenticated HTTP client. scanID may be empty
// until CreateScan assigns one.
func NewClient(hc *http.Client, baseURL, scanID string) *Client {
	return &Client{
		hc:      hc,
		baseURL: strings.TrimRight(baseURL, "/"),
		scanID:  scanID,
	}
}

// ScanID returns the scan this client is bound to, if any.
func (c *Client) ScanID() string { return c.scanID }

// BindScan binds the client to an existing scanner-side scan id.
func (c *Client) BindScan(id string) { c.scanID = id }

// Close releases idle connections.
func (c *Client) Close() {
	c.hc.CloseIdleConnections()
}

// StatusError reports a non-2xx scanner reply. It matches
// types.ErrScannerProtocol under errors.Is.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpscan %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == types.ErrScannerProtocol
}

// CreateScan registers a scan with the scanner and binds the returned
// id to this client. An empty VT selection is refused before touching
// the network; it means the scanner feed has not been synced yet.
func (c *Client) CreateScan(ctx context.Context, cfg *ScanConfig) (string, error) {
	if len(cfg.VTs) == 0 {
		return "", fmt.Errorf("create scan: empty VT list, feed not synced yet: %w", types.ErrConflict)
	}
	var id string
	if err := c.Do(ctx, http.MethodPost, "/scans", cfg, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("create scan: reply without scan id: %w", types.ErrScannerProtocol)
	}
	c.scanID = id
	return id, nil
}

// StartScan starts the bound scan.
func (c *Client) StartScan(ctx context.Context) error {
	path, err := c.scanPath("")
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, path+"?action=start", nil, nil)
}

// StopScan stops the bound scan.
func (c *Client) StopScan(ctx context.Context) error {
	path, err := c.scanPath("")
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, path+"?action=stop", nil, nil)
}

// DeleteScan releases scanner-side state of the bound scan.
func (c *Client) DeleteScan(ctx context.Context) error {
	path, err := c.scanPath("")
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Status fetches the current scan phase and host counters.
func (c *Client) Status(ctx context.Context) (*ScanStatus, error) {
	path, err := c.scanPath("/status")
	if err != nil {
		return nil, err
	}
	var status ScanStatus
	if err := c.Do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Results fetches result rows from the given offset onward. The
// scanner keeps all rows; the caller tracks its own offset so each
// poll only ingests new ones.
func (c *Client) Results(ctx context.Context, offset int) ([]Result, error) {
	path, err := c.scanPath("/results")
	if err != nil {
		return nil, err
	}
	var results []Result
	url := fmt.Sprintf("%s?range=%d-", path, offset)
	if err := c.Do(ctx, http.MethodGet, url, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) scanPath(suffix string) (string, error) {
	if c.scanID == "" {
		return "", fmt.Errorf("httpscan: client not bound to a scan")
	}
	return "/scans/" + c.scanID + suffix, nil
}

// Do runs one JSON request against the scanner. Transport errors
// surface as types.ErrScannerUnreachable, non-2xx replies as
// StatusError, and undecodable bodies as types.ErrScannerProtocol. The
// typed methods build on it; the agent-controller protocol reuses it
// for its own payloads.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpscan: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("httpscan: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("httpscan %s %s: %w: %v", method, path, types.ErrScannerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpscan %s %s: decode reply: %w: %v", method, path, types.ErrScannerProtocol, err)
	}
	return nil
}
