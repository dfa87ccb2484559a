package agentctl

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vigilsec/vigil/pkg/httpscan"
	"github.com/vigilsec/vigil/pkg/types"
)

// Agent identifies one enrolled agent in a create-scan payload.
type Agent struct {
	ID       string `json:"agent_id"`
	Hostname string `json:"hostname,omitempty"`
}

// ScanRequest is the create-scan payload: which agents run which VTs.
type ScanRequest struct {
	Agents          []Agent               `json:"agents"`
	VTs             []httpscan.VT         `json:"vts"`
	ScanPreferences []httpscan.Preference `json:"scan_preferences,omitempty"`
}

// Client talks to an agent controller. Everything except scan creation
// is the HTTP scanner protocol verbatim, so the transport, status and
// results handling are inherited from httpscan.
type Client struct {
	*httpscan.Client
}

// NewClient wraps an authenticated HTTP scanner client.
func NewClient(hc *httpscan.Client) *Client {
	return &Client{Client: hc}
}

// CreateScan registers an agent scan and binds the returned id. An
// empty agent list means the agent group resolved to nothing and is
// refused before touching the network, as is an empty VT selection.
func (c *Client) CreateScan(ctx context.Context, req *ScanRequest) (string, error) {
	if len(req.Agents) == 0 {
		return "", fmt.Errorf("create agent scan: agent group resolves to no agents: %w", types.ErrConflict)
	}
	if len(req.VTs) == 0 {
		return "", fmt.Errorf("create agent scan: empty VT list, feed not synced yet: %w", types.ErrConflict)
	}
	var id string
	if err := c.Do(ctx, http.MethodPost, "/scans", req, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("create agent scan: reply without scan id: %w", types.ErrScannerProtocol)
	}
	c.BindScan(id)
	return id, nil
}
