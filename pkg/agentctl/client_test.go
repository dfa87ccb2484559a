package agentctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/httpscan"
	"github.com/vigilsec/vigil/pkg/types"
)

func TestCreateScanAgentsPayload(t *testing.T) {
	var got ScanRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/scans", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode("agent-scan-1")
	}))
	defer server.Close()

	c := NewClient(httpscan.NewClient(server.Client(), server.URL, ""))
	id, err := c.CreateScan(context.Background(), &ScanRequest{
		Agents: []Agent{{ID: "agent-7", Hostname: "web1"}},
		VTs:    []httpscan.VT{{OID: "1.3.6.1.4.1.25623.1.0.100315"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-scan-1", id)
	assert.Equal(t, "agent-scan-1", c.ScanID())
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "agent-7", got.Agents[0].ID)
}

func TestCreateScanValidation(t *testing.T) {
	c := NewClient(httpscan.NewClient(http.DefaultClient, "http://127.0.0.1:1", ""))

	_, err := c.CreateScan(context.Background(), &ScanRequest{
		VTs: []httpscan.VT{{OID: "1.3.6.1.4.1.25623.1.0.1"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.Contains(t, err.Error(), "no agents")

	_, err = c.CreateScan(context.Background(), &ScanRequest{
		Agents: []Agent{{ID: "agent-7"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestPollingSharedWithHTTPScanner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scans/agent-scan-1/status":
			json.NewEncoder(w).Encode(httpscan.ScanStatus{Status: httpscan.PhaseSucceeded})
		case "/scans/agent-scan-1/results":
			json.NewEncoder(w).Encode([]httpscan.Result{
				{ID: 0, Type: httpscan.ResultTypeLog, IPAddress: "agent-7", Message: "agent alive"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(httpscan.NewClient(server.Client(), server.URL, "agent-scan-1"))
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Status.Ended())

	results, err := c.Results(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agent alive", results[0].Message)
}
