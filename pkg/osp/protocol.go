package osp

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/vigilsec/vigil/pkg/types"
)

// ScanStatus is the scan state reported by get_scans.
type ScanStatus string

const (
	ScanStatusQueued      ScanStatus = "queued"
	ScanStatusInit        ScanStatus = "init"
	ScanStatusRunning     ScanStatus = "running"
	ScanStatusStopped     ScanStatus = "stopped"
	ScanStatusFinished    ScanStatus = "finished"
	ScanStatusInterrupted ScanStatus = "interrupted"
)

// StartScan is the start_scan command envelope.
type StartScan struct {
	XMLName       xml.Name      `xml:"start_scan"`
	ScanID        string        `xml:"scan_id,attr,omitempty"`
	Targets       Targets       `xml:"targets"`
	VTSelection   VTSelection   `xml:"vt_selection"`
	ScannerParams ScannerParams `xml:"scanner_params"`
}

// Targets wraps the target list of a start_scan command.
type Targets struct {
	Targets []Target `xml:"target"`
}

// Target carries one target block: host lists, port ranges, alive-test
// settings and the credentials converted for the scanner.
type Target struct {
	Hosts              string       `xml:"hosts"`
	ExcludeHosts       string       `xml:"exclude_hosts,omitempty"`
	FinishedHosts      string       `xml:"finished_hosts,omitempty"`
	Ports              string       `xml:"ports,omitempty"`
	Credentials        Credentials  `xml:"credentials"`
	AliveTest          int          `xml:"alive_test,omitempty"`
	AliveTestPorts     string       `xml:"alive_test_ports,omitempty"`
	ReverseLookupUnify int          `xml:"reverse_lookup_unify,omitempty"`
	ReverseLookupOnly  int          `xml:"reverse_lookup_only,omitempty"`
}

// Credentials wraps the credential list of a target.
type Credentials struct {
	Credentials []Credential `xml:"credential"`
}

// Credential is one converted credential. Type selects which child
// elements the scanner reads: up uses username/password, usk adds the
// private key, snmp the community and privacy fields, krb5 kdc and
// realm. The priv fields carry privilege-escalation logins for ssh.
type Credential struct {
	Type             string `xml:"type,attr"`
	Service          string `xml:"service,attr"`
	Port             string `xml:"port,attr,omitempty"`
	Username         string `xml:"username,omitempty"`
	Password         string `xml:"password,omitempty"`
	PrivateKey       string `xml:"private,omitempty"`
	PrivUsername     string `xml:"priv_username,omitempty"`
	PrivPassword     string `xml:"priv_password,omitempty"`
	Community        string `xml:"community,omitempty"`
	AuthAlgorithm    string `xml:"auth_algorithm,omitempty"`
	PrivacyPassword  string `xml:"privacy_password,omitempty"`
	PrivacyAlgorithm string `xml:"privacy_algorithm,omitempty"`
	KDC              string `xml:"kdc,omitempty"`
	Realm            string `xml:"realm,omitempty"`
}

// VTSelection carries the VTs a scan runs, singly or by group filter.
type VTSelection struct {
	Singles []VTSingle `xml:"vt_single"`
	Groups  []VTGroup  `xml:"vt_group"`
}

// VTSingle selects one VT by OID with optional preference values.
type VTSingle struct {
	ID     string    `xml:"id,attr"`
	Values []VTValue `xml:"vt_value"`
}

// VTValue is a single VT preference.
type VTValue struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

// VTGroup selects VTs by filter expression.
type VTGroup struct {
	Filter string `xml:"filter,attr"`
}

// ScannerParams renders scanner preferences as one element per key.
// Keys are emitted in sorted order so envelopes are stable.
type ScannerParams map[string]string

func (p ScannerParams) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Attr = nil
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el := xml.StartElement{Name: xml.Name{Local: k}}
		if err := e.EncodeElement(p[k], el); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// GetScans is the get_scans command envelope. PopResults drains results
// already delivered from the scanner side.
type GetScans struct {
	XMLName    xml.Name `xml:"get_scans"`
	ScanID     string   `xml:"scan_id,attr"`
	Details    int      `xml:"details,attr"`
	Progress   int      `xml:"progress,attr"`
	PopResults int      `xml:"pop_results,attr"`
}

// StopScan is the stop_scan command envelope.
type StopScan struct {
	XMLName xml.Name `xml:"stop_scan"`
	ScanID  string   `xml:"scan_id,attr"`
}

// DeleteScan is the delete_scan command envelope.
type DeleteScan struct {
	XMLName xml.Name `xml:"delete_scan"`
	ScanID  string   `xml:"scan_id,attr"`
}

// GetVTs is the get_vts command envelope. Only the version-only form is
// used here; full VT metadata comes from the feed, not the scanner.
type GetVTs struct {
	XMLName     xml.Name `xml:"get_vts"`
	VersionOnly int      `xml:"version_only,attr"`
}

// CheckFeed is the check_feed command envelope.
type CheckFeed struct {
	XMLName xml.Name `xml:"check_feed"`
}

// GetPerformance is the get_performance command envelope.
type GetPerformance struct {
	XMLName xml.Name `xml:"get_performance"`
	Start   int64    `xml:"start,attr"`
	End     int64    `xml:"end,attr"`
	Titles  string   `xml:"titles,attr"`
}

// replyStatus is embedded by every reply envelope.
type replyStatus struct {
	Status     int    `xml:"status,attr"`
	StatusText string `xml:"status_text,attr"`
}

func (r replyStatus) statusLine() (int, string) { return r.Status, r.StatusText }

type reply interface {
	statusLine() (int, string)
}

type startScanReply struct {
	XMLName xml.Name `xml:"start_scan_response"`
	replyStatus
	ID string `xml:"id"`
}

type getScansReply struct {
	XMLName xml.Name `xml:"get_scans_response"`
	replyStatus
	Scan *Scan `xml:"scan"`
}

type stopScanReply struct {
	XMLName xml.Name `xml:"stop_scan_response"`
	replyStatus
}

type deleteScanReply struct {
	XMLName xml.Name `xml:"delete_scan_response"`
	replyStatus
}

type getVTsReply struct {
	XMLName xml.Name `xml:"get_vts_response"`
	replyStatus
	VTs struct {
		Version string `xml:"vts_version,attr"`
	} `xml:"vts"`
}

type checkFeedReply struct {
	XMLName xml.Name `xml:"check_feed_response"`
	replyStatus
	Feed struct {
		LockfileInUse    int    `xml:"lockfile_in_use"`
		SelfTestExitErr  int    `xml:"self_test_exit_error"`
		SelfTestErrorMsg string `xml:"self_test_error_msg"`
	} `xml:"feed"`
}

type getPerformanceReply struct {
	XMLName xml.Name `xml:"get_performance_response"`
	replyStatus
	Data string `xml:",chardata"`
}

// Scan is the parsed scan element of a get_scans reply.
type Scan struct {
	ID        string     `xml:"id,attr"`
	Target    string     `xml:"target,attr"`
	Progress  int        `xml:"progress,attr"`
	Status    ScanStatus `xml:"status,attr"`
	StartTime int64      `xml:"start_time,attr"`
	EndTime   int64      `xml:"end_time,attr"`
	Results   Results    `xml:"results"`
}

// Results wraps the result rows of a scan element.
type Results struct {
	Results []Result `xml:"result"`
}

// Result is one scanner result row. Severity and QoD stay strings on
// the wire; SeverityValue and QoDValue parse them defensively.
type Result struct {
	Host     string `xml:"host,attr"`
	Hostname string `xml:"hostname,attr"`
	Severity string `xml:"severity,attr"`
	Port     string `xml:"port,attr"`
	TestID   string `xml:"test_id,attr"`
	Name     string `xml:"name,attr"`
	Type     string `xml:"type,attr"`
	QoD      string `xml:"qod,attr"`
	URI      string `xml:"uri,attr"`
	Value    string `xml:",chardata"`
}

// Result type strings delivered by the scanner.
const (
	ResultTypeAlarm      = "Alarm"
	ResultTypeLog        = "Log Message"
	ResultTypeError      = "Error Message"
	ResultTypeHostDetail = "Host Detail"
	ResultTypeHostStart  = "Host Start"
	ResultTypeHostEnd    = "Host End"
	ResultTypeDeadHost   = "Dead Host"
)

// SeverityValue parses the severity attribute. Unset or unparseable
// severities report 0.
func (r Result) SeverityValue() float64 {
	v, err := strconv.ParseFloat(r.Severity, 64)
	if err != nil {
		return 0
	}
	return v
}

// QoDValue parses the qod attribute, falling back to the domain
// default when the scanner omits it.
func (r Result) QoDValue() int {
	v, err := strconv.Atoi(r.QoD)
	if err != nil || v < 0 {
		return types.QoDDefault
	}
	return v
}

// FeedCheck is the parsed reply of check_feed.
type FeedCheck struct {
	LockfileInUse bool
	SelfTestError string
}

// StatusError reports a reply outside the 2xx family. It matches
// types.ErrScannerProtocol under errors.Is and keeps the decoded
// status for callers that branch on it.
type StatusError struct {
	Cmd    string
	Status int
	Text   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("osp %s: status %d %s", e.Cmd, e.Status, e.Text)
}

func (e *StatusError) Is(target error) bool {
	return target == types.ErrScannerProtocol
}

func checkStatus(cmd string, r reply) error {
	status, text := r.statusLine()
	if status/100 == 2 {
		return nil
	}
	return &StatusError{Cmd: cmd, Status: status, Text: text}
}
