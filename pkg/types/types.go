package types

import (
	"time"
)

// Task represents a scan task: the binding of a target to a scanner
// with a config, an optional schedule, and a report history.
type Task struct {
	ID              string // UUID
	Name            string
	Comment         string
	Owner           string // UUID of the owning user
	ScannerID       string
	TargetID        string
	ConfigID        string // scan config UUID
	AgentGroupID    string // agent scans pull their agent list from this group
	ScheduleID      string
	SchedulePeriods int // remaining scheduled runs; 0 = unlimited
	ScheduleNext    time.Time
	Status          TaskStatus
	Hidden          int // 0 = visible, 2 = in trash awaiting purge
	Alterable       bool
	AutoDeleteData  int // keep newest N reports; 0 = keep all
	HostsOrdering   HostsOrdering
	Preferences     map[string]string
	CurrentReportID string // report of the run in progress
	LastReportID    string // most recently finished report
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TaskStatus represents the run state of a task
type TaskStatus string

const (
	TaskStatusNew                     TaskStatus = "New"
	TaskStatusRequested               TaskStatus = "Requested"
	TaskStatusQueued                  TaskStatus = "Queued"
	TaskStatusRunning                 TaskStatus = "Running"
	TaskStatusProcessing              TaskStatus = "Processing"
	TaskStatusStopRequested           TaskStatus = "Stop Requested"
	TaskStatusStopWaiting             TaskStatus = "Stop Waiting"
	TaskStatusStopped                 TaskStatus = "Stopped"
	TaskStatusDeleteRequested         TaskStatus = "Delete Requested"
	TaskStatusUltimateDeleteRequested TaskStatus = "Ultimate Delete Requested"
	TaskStatusDeleteWaiting           TaskStatus = "Delete Waiting"
	TaskStatusUltimateDeleteWaiting   TaskStatus = "Ultimate Delete Waiting"
	TaskStatusDone                    TaskStatus = "Done"
	TaskStatusInterrupted             TaskStatus = "Interrupted"
)

// Active reports whether the status describes a run that is underway,
// including the stop and delete handshakes.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusRequested, TaskStatusQueued, TaskStatusRunning, TaskStatusProcessing,
		TaskStatusStopRequested, TaskStatusStopWaiting,
		TaskStatusDeleteRequested, TaskStatusUltimateDeleteRequested,
		TaskStatusDeleteWaiting, TaskStatusUltimateDeleteWaiting:
		return true
	}
	return false
}

// Quiescent reports whether the task may be reconfigured or rebound
// to another scanner without force.
func (s TaskStatus) Quiescent() bool {
	switch s {
	case TaskStatusNew, TaskStatusDone, TaskStatusStopped, TaskStatusInterrupted:
		return true
	}
	return false
}

// HostsOrdering defines the order hosts are handed to the scanner
type HostsOrdering string

const (
	HostsOrderingSequential HostsOrdering = "sequential"
	HostsOrderingRandom     HostsOrdering = "random"
	HostsOrderingReverse    HostsOrdering = "reverse"
)

// StartMode says whether a scan starts fresh or resumes a stopped run
type StartMode int

const (
	StartFresh  StartMode = 0
	StartResume StartMode = 1
)

// Report represents one scan run of a task
type Report struct {
	ID        string // UUID
	TaskID    string
	Owner     string
	ScanID    string // identifier the scanner knows this run by
	RunStatus TaskStatus
	StartTime time.Time // scan start (zero until the scanner begins)
	EndTime   time.Time // scan end (zero until finished)
	CreatedAt time.Time
}

// Result represents a single finding within a report
type Result struct {
	ID          string // UUID
	ReportID    string
	TaskID      string
	Host        string
	Hostname    string
	Port        string // "general/tcp", "443/tcp", ...
	NVT         string // OID of the detecting VT; empty for plain messages
	Type        ResultType
	Description string
	Severity    float64
	QoD         int // quality of detection, 0-100
}

// ResultType classifies a result row
type ResultType string

const (
	ResultTypeAlarm ResultType = "Alarm"
	ResultTypeLog   ResultType = "Log Message"
	ResultTypeError ResultType = "Error Message"
)

// QoDDefault is assumed when a scanner reports no quality of detection.
const QoDDefault = 70

// ReportHost tracks per-host scan progress within a report
type ReportHost struct {
	ReportID  string
	Host      string
	StartTime time.Time
	EndTime   time.Time
}

// HostDetail is a key/value fact a scanner recorded about a host,
// e.g. detected OS, open ports, installed CPEs.
type HostDetail struct {
	ReportID   string
	Host       string
	Name       string // "App", "OS", "hostname", "MAC", ...
	Value      string
	SourceType string // "nvt" or scanner-assigned
	SourceName string // OID or scanner name
	SourceDesc string
}

// HostIdentifier is a durable identity fact about a scanned host,
// distilled from report host details when a scan completes.
type HostIdentifier struct {
	Host   string // scanned address
	Name   string // "hostname", "MAC", "OS"
	Value  string
	Source string // UUID of the report that contributed it
}

// Target represents a set of hosts to scan
type Target struct {
	ID                     string // UUID
	Name                   string
	Owner                  string
	Hosts                  string // comma-separated hosts, ranges, CIDR
	ExcludeHosts           string
	PortRange              string // e.g. "T:1-1024,U:53"
	AliveTest              int    // bitmask, see AliveTest* constants
	ReverseLookupOnly      bool
	ReverseLookupUnify     bool
	SSHCredentialID        string
	SSHPort                int
	SSHElevateCredentialID string
	SMBCredentialID        string
	ESXiCredentialID       string
	SNMPCredentialID       string
	Krb5CredentialID       string
}

// Alive test bitmask values
const (
	AliveTestTCPACKService = 1
	AliveTestICMP          = 2
	AliveTestARP           = 4
	AliveTestConsiderAlive = 8
	AliveTestTCPSYNService = 16
)

// Credential holds login material for authenticated scans.
// Secret fields are sealed with AES-256-GCM at rest.
type Credential struct {
	ID               string // UUID
	Name             string
	Owner            string
	Kind             CredentialKind
	Login            string
	Secret           []byte // sealed password or key passphrase
	PrivateKey       []byte // sealed SSH private key
	Community        []byte // sealed SNMP community
	AuthAlgorithm    string // "md5" or "sha1"
	PrivacyPassword  []byte // sealed SNMP privacy password
	PrivacyAlgorithm string // "aes" or "des"
	KDC              string // Kerberos key distribution center
	Realm            string
}

// CredentialKind defines what kind of login material a credential carries
type CredentialKind string

const (
	CredentialUP   CredentialKind = "up"   // username + password
	CredentialUSK  CredentialKind = "usk"  // username + SSH key
	CredentialSNMP CredentialKind = "snmp" // SNMP community and privacy
	CredentialKrb5 CredentialKind = "krb5" // Kerberos
)

// Scanner represents an external scan engine the controller dispatches to
type Scanner struct {
	ID          string // UUID
	Name        string
	Owner       string
	Kind        ScannerKind
	Host        string // hostname/IP; an absolute path means a UNIX socket
	Port        int
	CACert      string // PEM, verifies the scanner
	Certificate string // PEM, client certificate for mutual TLS
	Key         []byte // sealed client private key
	RelayHost   string // filled by the relay mapper for sensor kinds
	RelayPort   int
}

// ScannerKind selects the dispatch strategy for a scanner
type ScannerKind string

const (
	ScannerKindCVE         ScannerKind = "cve"
	ScannerKindOSP         ScannerKind = "osp"
	ScannerKindOSPSensor   ScannerKind = "osp-sensor"
	ScannerKindHTTP        ScannerKind = "http"
	ScannerKindHTTPSensor  ScannerKind = "http-sensor"
	ScannerKindAgent       ScannerKind = "agent"
	ScannerKindAgentSensor ScannerKind = "agent-sensor"
)

// Sensor reports whether the kind reaches its scanner through a relay.
func (k ScannerKind) Sensor() bool {
	switch k {
	case ScannerKindOSPSensor, ScannerKindHTTPSensor, ScannerKindAgentSensor:
		return true
	}
	return false
}

// Schedule represents an iCalendar-driven run plan for tasks
type Schedule struct {
	ID        string // UUID
	Name      string
	Owner     string
	ICalendar string // RFC 5545 VEVENT block
	Timezone  string // IANA zone name, e.g. "Europe/Berlin"
	Duration  int    // seconds a run may last before a stop is issued; 0 = unbounded
}

// TaskSchedule is the scheduler's view of one task-schedule binding
type TaskSchedule struct {
	TaskID     string
	Owner      string
	ScheduleID string
	NextTime   time.Time // zero = nothing pending
	Periods    int
	Duration   int
	ICalendar  string
	Timezone   string
}

// ScanQueueEntry is one waiting scan in the FIFO admission queue
type ScanQueueEntry struct {
	TaskID   string
	ReportID string
	Owner    string
	From     StartMode
	QueuedAt time.Time
}

// VT is vulnerability-test metadata from the scanner feed
type VT struct {
	OID       string
	Name      string
	Family    string
	Severity  float64
	QoD       int
	Discovery bool
}

// VTSelection names one VT to run with its per-VT preferences
type VTSelection struct {
	OID         string
	Preferences map[string]string
}

// ScanConfig names the VTs a task runs and the scanner-level
// preferences sent with them.
type ScanConfig struct {
	ID          string // UUID
	Name        string
	Owner       string
	Comment     string
	Preferences map[string]string
	VTs         []VTSelection
}

// CVEItem is one entry of the CVE correlation map used by the
// built-in CVE scanner.
type CVEItem struct {
	Name        string // "CVE-2024-1234"
	Severity    float64
	Description string
	Products    []string      // flat affected-CPE index
	Match       *CPEMatchNode // match tree; nil = use Products
}

// CPEMatchNode is a node of a CVE applicability match tree
type CPEMatchNode struct {
	Operator string // "AND" or "OR"
	CPEs     []string
	Children []*CPEMatchNode
}

// AgentGroup names a set of deployed agents for agent-controller scans
type AgentGroup struct {
	ID       string // UUID
	Name     string
	Owner    string
	AgentIDs []string
}

// User is an account able to own tasks and hold permissions.
type User struct {
	ID          string // UUID
	Name        string
	Admin       bool
	Permissions []string // granted command names, e.g. "start_task"
	Hosts       string   // comma list constraining scannable hosts; empty = no constraint
	HostsAllow  bool     // Hosts is an allow list when true, a deny list otherwise
}

// Principal identifies the user an operation runs as
type Principal struct {
	UserID      string
	Name        string
	Admin       bool
	Permissions []string // granted command names, e.g. "start_task"
}

// Permission names a gated task operation. Non-admin users must hold
// the matching grant in Principal.Permissions.
type Permission string

const (
	PermGetTask    Permission = "get_task"
	PermStartTask  Permission = "start_task"
	PermStopTask   Permission = "stop_task"
	PermResumeTask Permission = "resume_task"
	PermDeleteTask Permission = "delete_task"
	PermMoveTask   Permission = "move_task"
)

// FeedType names one of the synchronised feeds
type FeedType string

const (
	FeedNVT  FeedType = "nvt"
	FeedSCAP FeedType = "scap"
	FeedCERT FeedType = "cert"
	FeedData FeedType = "data-objects"
)

// FeedStatus is the outcome of a feed version probe
type FeedStatus struct {
	Type      FeedType
	NeedsSync bool
	Version   string // feed timestamp, e.g. "202408250633"
	SyncedAt  time.Time
}

// Setting is a named configuration value persisted in the store
type Setting struct {
	UUID  string
	Name  string
	Value string
}
