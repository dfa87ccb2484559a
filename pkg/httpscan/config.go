package httpscan

import "strconv"

// ScanConfig is the scan description posted on create. It is the union
// of the target, the VT selection and flat scanner preferences.
type ScanConfig struct {
	Target          Target       `json:"target"`
	VTs             []VT         `json:"vts"`
	ScanPreferences []Preference `json:"scan_preferences,omitempty"`
	Discovery       bool         `json:"discovery,omitempty"`
}

// Target describes what to scan.
type Target struct {
	Hosts              []string     `json:"hosts"`
	ExcludedHosts      []string     `json:"excluded_hosts,omitempty"`
	FinishedHosts      []string     `json:"finished_hosts,omitempty"`
	Ports              string       `json:"ports,omitempty"`
	AliveTest          int          `json:"alive_test_methods,omitempty"`
	ReverseLookupUnify bool         `json:"reverse_lookup_unify,omitempty"`
	ReverseLookupOnly  bool         `json:"reverse_lookup_only,omitempty"`
	Credentials        []Credential `json:"credentials,omitempty"`
}

// Credential carries one converted credential. Exactly one of the kind
// members is set.
type Credential struct {
	Service string `json:"service"`
	Port    int    `json:"port,omitempty"`
	UP      *UP    `json:"up,omitempty"`
	USK     *USK   `json:"usk,omitempty"`
	SNMP    *SNMP  `json:"snmp,omitempty"`
	KRB5    *KRB5  `json:"krb5,omitempty"`
}

// UP is a username/password credential.
type UP struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// USK is a username plus SSH private key credential.
type USK struct {
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private"`
}

// SNMP carries SNMPv3 authentication material.
type SNMP struct {
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	Community        string `json:"community,omitempty"`
	AuthAlgorithm    string `json:"auth_algorithm,omitempty"`
	PrivacyPassword  string `json:"privacy_password,omitempty"`
	PrivacyAlgorithm string `json:"privacy_algorithm,omitempty"`
}

// KRB5 carries Kerberos authentication material.
type KRB5 struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Realm    string `json:"realm,omitempty"`
	KDC      string `json:"kdc,omitempty"`
}

// VT selects one test with its preference values. Per-VT timeouts are
// rendered by the dispatch layer as a "timeout" parameter.
type VT struct {
	OID        string        `json:"oid"`
	Parameters []VTParameter `json:"parameters,omitempty"`
}

// VTParameter is one VT preference value.
type VTParameter struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Preference is one flat scanner preference.
type Preference struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Phase is the scanner-side scan state.
type Phase string

const (
	PhaseStored    Phase = "stored"
	PhaseRequested Phase = "requested"
	PhaseRunning   Phase = "running"
	PhaseStopped   Phase = "stopped"
	PhaseFailed    Phase = "failed"
	PhaseSucceeded Phase = "succeeded"
)

// Ended reports whether the scanner is done with the scan, successfully
// or not.
func (p Phase) Ended() bool {
	switch p {
	case PhaseStopped, PhaseFailed, PhaseSucceeded:
		return true
	}
	return false
}

// ScanStatus is the reply of the status endpoint.
type ScanStatus struct {
	Status    Phase     `json:"status"`
	StartTime int64     `json:"start_time,omitempty"`
	EndTime   int64     `json:"end_time,omitempty"`
	HostInfo  *HostInfo `json:"host_info,omitempty"`
}

// HostInfo carries the scanner's host counters.
type HostInfo struct {
	All      int `json:"all"`
	Excluded int `json:"excluded"`
	Dead     int `json:"dead"`
	Alive    int `json:"alive"`
	Queued   int `json:"queued"`
	Finished int `json:"finished"`
}

// Progress derives a completion percentage from the host counters.
func (h *HostInfo) Progress() int {
	count := h.All - h.Excluded
	if count <= 0 {
		return 0
	}
	p := (h.Finished + h.Dead) * 100 / count
	if p > 100 {
		p = 100
	}
	return p
}

// Result row types delivered by the scanner.
const (
	ResultTypeAlarm      = "alarm"
	ResultTypeLog        = "log"
	ResultTypeError      = "error"
	ResultTypeHostStart  = "host_start"
	ResultTypeHostEnd    = "host_end"
	ResultTypeHostDetail = "host_detail"
	ResultTypeDeadHost   = "deadhost"
)

// Result is one scanner result row. Severity is not on the wire; the
// dispatch layer resolves it from VT metadata by OID.
type Result struct {
	ID        int64         `json:"id"`
	Type      string        `json:"type"`
	IPAddress string        `json:"ip_address"`
	Hostname  string        `json:"hostname,omitempty"`
	OID       string        `json:"oid,omitempty"`
	Port      int           `json:"port,omitempty"`
	Protocol  string        `json:"protocol,omitempty"`
	Message   string        `json:"message,omitempty"`
	Detail    *ResultDetail `json:"detail,omitempty"`
}

// ResultDetail is the host-detail payload of a result row.
type ResultDetail struct {
	Name   string       `json:"name"`
	Value  string       `json:"value"`
	Source DetailSource `json:"source"`
}

// DetailSource names where a host detail came from.
type DetailSource struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PortString renders the port and protocol the way results store them,
// e.g. "443/tcp". General results without a port render as the empty
// string.
func (r Result) PortString() string {
	if r.Port <= 0 {
		return ""
	}
	if r.Protocol == "" {
		return strconv.Itoa(r.Port)
	}
	return strconv.Itoa(r.Port) + "/" + r.Protocol
}
