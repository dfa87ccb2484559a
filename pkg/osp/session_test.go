package osp

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

// serveReply consumes one command element from conn and writes back the
// canned reply. The received envelope is delivered on the returned
// channel as raw XML.
func serveReply(t *testing.T, conn net.Conn, reply string) <-chan string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		defer close(got)
		var buf bytes.Buffer
		dec := xml.NewDecoder(io.TeeReader(conn, &buf))
		depth := 0
		for {
			tok, err := dec.Token()
			if err != nil {
				return
			}
			switch tok.(type) {
			case xml.StartElement:
				depth++
			case xml.EndElement:
				depth--
				if depth == 0 {
					got <- buf.String()
					io.WriteString(conn, reply)
					return
				}
			}
		}
	}()
	return got
}

func TestSessionStartScan(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serveReply(t, server,
		`<start_scan_response status="200" status_text="OK"><id>scan-42</id></start_scan_response>`)

	s := NewSession(client)
	id, err := s.StartScan(context.Background(), StartScan{
		ScanID:  "scan-42",
		Targets: Targets{Targets: []Target{{Hosts: "192.0.2.1"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "scan-42", id)
}

func TestSessionGetScanParsesResults(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	reply := `<get_scans_response status="200" status_text="OK">` +
		`<scan id="scan-42" progress="37" status="running" start_time="1700000000" end_time="0">` +
		`<results>` +
		`<result host="192.0.2.1" severity="9.8" port="443/tcp" test_id="1.3.6.1.4.1.25623.1.0.2" type="Alarm" qod="97">tls hole</result>` +
		`<result host="192.0.2.1" severity="0.0" type="Log Message" qod="80">service banner</result>` +
		`</results></scan></get_scans_response>`
	got := serveReply(t, server, reply)

	s := NewSession(client)
	scan, err := s.GetScan(context.Background(), "scan-42", true, true)
	require.NoError(t, err)

	assert.Equal(t, ScanStatusRunning, scan.Status)
	assert.Equal(t, 37, scan.Progress)
	require.Len(t, scan.Results.Results, 2)
	assert.Equal(t, ResultTypeAlarm, scan.Results.Results[0].Type)
	assert.InDelta(t, 9.8, scan.Results.Results[0].SeverityValue(), 0.0001)

	sent := <-got
	assert.Contains(t, sent, `scan_id="scan-42"`)
	assert.Contains(t, sent, `details="1"`)
	assert.Contains(t, sent, `pop_results="1"`)
	assert.Contains(t, sent, `progress="1"`)
}

func TestSessionStatusErrorSurfaces(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serveReply(t, server,
		`<get_scans_response status="404" status_text="Scan not found"/>`)

	s := NewSession(client)
	_, err := s.GetScan(context.Background(), "gone", false, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrScannerProtocol)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Status)
}

func TestSessionStopAndDelete(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	got := serveReply(t, server, `<stop_scan_response status="200" status_text="OK"/>`)

	s := NewSession(client)
	require.NoError(t, s.StopScan(context.Background(), "scan-42"))
	assert.Contains(t, <-got, `scan_id="scan-42"`)

	got = serveReply(t, server, `<delete_scan_response status="200" status_text="OK"/>`)
	require.NoError(t, s.DeleteScan(context.Background(), "scan-42"))
	assert.Contains(t, <-got, "delete_scan")
}

func TestSessionCheckFeed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serveReply(t, server, `<check_feed_response status="200" status_text="OK">`+
		`<feed><lockfile_in_use>1</lockfile_in_use><self_test_exit_error>1</self_test_exit_error>`+
		`<self_test_error_msg>nvt dir missing</self_test_error_msg></feed></check_feed_response>`)

	s := NewSession(client)
	check, err := s.CheckFeed(context.Background())
	require.NoError(t, err)
	assert.True(t, check.LockfileInUse)
	assert.Equal(t, "nvt dir missing", check.SelfTestError)
}

func TestSessionVTsVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serveReply(t, server, `<get_vts_response status="200" status_text="OK">`+
		`<vts vts_version="202408191013"/></get_vts_response>`)

	s := NewSession(client)
	version, err := s.VTsVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "202408191013", version)
}

func TestSessionDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Server consumes the command but never replies.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := NewSession(client)
	_, err := s.GetScan(ctx, "scan-42", false, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrScannerProtocol)
}
