package osp

import (
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

func TestScannerParamsMarshalSorted(t *testing.T) {
	params := ScannerParams{
		"table_driven_lsc": "1",
		"max_checks":       "4",
		"cgi_path":         "/cgi-bin:/scripts",
	}

	out, err := xml.Marshal(params)
	require.NoError(t, err)

	want := "<ScannerParams>" +
		"<cgi_path>/cgi-bin:/scripts</cgi_path>" +
		"<max_checks>4</max_checks>" +
		"<table_driven_lsc>1</table_driven_lsc>" +
		"</ScannerParams>"
	assert.Equal(t, want, string(out))
}

func TestStartScanEnvelope(t *testing.T) {
	cmd := StartScan{
		ScanID: "9a1b6f0d-test",
		Targets: Targets{Targets: []Target{{
			Hosts:        "192.0.2.1, 192.0.2.5",
			ExcludeHosts: "192.0.2.5",
			Ports:        "T:1-1024",
			AliveTest:    2,
			Credentials: Credentials{Credentials: []Credential{{
				Type:     "up",
				Service:  "ssh",
				Port:     "22",
				Username: "scanuser",
				Password: "secret",
			}}},
		}}},
		VTSelection: VTSelection{
			Singles: []VTSingle{{
				ID:     "1.3.6.1.4.1.25623.1.0.100315",
				Values: []VTValue{{ID: "timeout", Value: "320"}},
			}},
		},
		ScannerParams: ScannerParams{"max_checks": "4"},
	}

	out, err := xml.Marshal(cmd)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, `<start_scan scan_id="9a1b6f0d-test">`))
	assert.Contains(t, s, "<hosts>192.0.2.1, 192.0.2.5</hosts>")
	assert.Contains(t, s, "<exclude_hosts>192.0.2.5</exclude_hosts>")
	assert.Contains(t, s, `<credential type="up" service="ssh" port="22">`)
	assert.Contains(t, s, "<username>scanuser</username>")
	assert.Contains(t, s, `<vt_single id="1.3.6.1.4.1.25623.1.0.100315">`)
	assert.Contains(t, s, `<vt_value id="timeout">320</vt_value>`)
	assert.Contains(t, s, "<scanner_params><max_checks>4</max_checks></scanner_params>")
	// Empty credential fields must not leak empty elements.
	assert.NotContains(t, s, "<community>")
	assert.NotContains(t, s, "<kdc>")
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		text    string
		wantErr bool
	}{
		{name: "ok", status: 200, wantErr: false},
		{name: "accepted", status: 202, wantErr: false},
		{name: "not found", status: 404, text: "Scan not found", wantErr: true},
		{name: "server error", status: 500, text: "boom", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkStatus("get_scans", replyStatus{Status: tt.status, StatusText: tt.text})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrScannerProtocol)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.text, se.Text)
		})
	}
}

func TestResultValueParsing(t *testing.T) {
	raw := `<result host="192.0.2.7" hostname="db1" severity="7.5" port="5432/tcp" ` +
		`test_id="1.3.6.1.4.1.25623.1.0.1" name="PostgreSQL detect" type="Alarm" qod="80">found it</result>`

	var res Result
	require.NoError(t, xml.Unmarshal([]byte(raw), &res))

	assert.Equal(t, "192.0.2.7", res.Host)
	assert.Equal(t, "db1", res.Hostname)
	assert.Equal(t, ResultTypeAlarm, res.Type)
	assert.Equal(t, "found it", res.Value)
	assert.InDelta(t, 7.5, res.SeverityValue(), 0.0001)
	assert.Equal(t, 80, res.QoDValue())
}

func TestResultValueDefaults(t *testing.T) {
	res := Result{Severity: "", QoD: "not-a-number"}
	assert.Equal(t, 0.0, res.SeverityValue())
	assert.Equal(t, types.QoDDefault, res.QoDValue())
}
