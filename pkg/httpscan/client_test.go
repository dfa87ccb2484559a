package httpscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

func TestCreateScanBindsID(t *testing.T) {
	var gotConfig ScanConfig
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/scans", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotConfig))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode("scan-abc")
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	id, err := c.CreateScan(context.Background(), &ScanConfig{
		Target: Target{Hosts: []string{"192.0.2.1"}, Ports: "T:1-1024"},
		VTs:    []VT{{OID: "1.3.6.1.4.1.25623.1.0.100315"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "scan-abc", id)
	assert.Equal(t, "scan-abc", c.ScanID())
	assert.Equal(t, []string{"192.0.2.1"}, gotConfig.Target.Hosts)
}

func TestCreateScanEmptyVTs(t *testing.T) {
	c := NewClient(http.DefaultClient, "http://127.0.0.1:1", "")
	_, err := c.CreateScan(context.Background(), &ScanConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.Contains(t, err.Error(), "feed not synced")
}

func TestScanActions(t *testing.T) {
	var actions []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scans/scan-abc", r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			actions = append(actions, r.URL.Query().Get("action"))
		case http.MethodDelete:
			actions = append(actions, "delete")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "scan-abc")
	ctx := context.Background()
	require.NoError(t, c.StartScan(ctx))
	require.NoError(t, c.StopScan(ctx))
	require.NoError(t, c.DeleteScan(ctx))
	assert.Equal(t, []string{"start", "stop", "delete"}, actions)
}

func TestUnboundScanRefused(t *testing.T) {
	c := NewClient(http.DefaultClient, "http://127.0.0.1:1", "")
	require.Error(t, c.StartScan(context.Background()))
	_, err := c.Status(context.Background())
	require.Error(t, err)
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scans/scan-abc/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ScanStatus{
			Status:    PhaseRunning,
			StartTime: 1700000000,
			HostInfo:  &HostInfo{All: 12, Excluded: 2, Dead: 1, Finished: 4},
		})
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "scan-abc")
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, status.Status)
	assert.False(t, status.Status.Ended())
	assert.Equal(t, 50, status.HostInfo.Progress())
}

func TestResultsRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scans/scan-abc/results", r.URL.Path)
		require.Equal(t, "7-", r.URL.Query().Get("range"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Result{
			{ID: 7, Type: ResultTypeAlarm, IPAddress: "192.0.2.9", OID: "1.3.6.1.4.1.25623.1.0.9", Port: 443, Protocol: "tcp", Message: "weak cipher"},
			{ID: 8, Type: ResultTypeHostDetail, IPAddress: "192.0.2.9", Detail: &ResultDetail{
				Name:   "App",
				Value:  "cpe:/a:openbsd:openssh:9.3",
				Source: DetailSource{Type: "nvt", Name: "1.3.6.1.4.1.25623.1.0.10"},
			}},
		})
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "scan-abc")
	results, err := c.Results(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "443/tcp", results[0].PortString())
	assert.Equal(t, "cpe:/a:openbsd:openssh:9.3", results[1].Detail.Value)
}

func TestStatusErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scan not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "gone")
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrScannerProtocol)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "scan not found", se.Body)
}

func TestTransportErrorIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(http.DefaultClient, url, "scan-abc")
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrScannerUnreachable)
}

func TestHostInfoProgressBounds(t *testing.T) {
	tests := []struct {
		name string
		info HostInfo
		want int
	}{
		{name: "empty", info: HostInfo{}, want: 0},
		{name: "all excluded", info: HostInfo{All: 5, Excluded: 5}, want: 0},
		{name: "half", info: HostInfo{All: 10, Finished: 5}, want: 50},
		{name: "overshoot clamps", info: HostInfo{All: 4, Dead: 3, Finished: 2}, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Progress())
		})
	}
}
