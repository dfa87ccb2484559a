package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/httpscan"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/osp"
	"github.com/vigilsec/vigil/pkg/security"
	"github.com/vigilsec/vigil/pkg/types"
)

// RelayProtocol is the protocol argument handed to the relay mapper.
type RelayProtocol string

const (
	RelayGMP RelayProtocol = "GMP"
	RelayOSP RelayProtocol = "OSP"
)

// Endpoint is a scanner address before or after relay resolution.
type Endpoint struct {
	Host   string
	Port   int
	CACert string
}

// Broker opens authenticated scanner connections. It owns the retry
// policy for stream scanners and the relay-mapper subprocess used to
// reach sensor kinds.
type Broker struct {
	cfg     *config.Config
	secrets *security.SecretsManager
	logger  zerolog.Logger
}

// New creates a connection broker.
func New(cfg *config.Config, secrets *security.SecretsManager) *Broker {
	return &Broker{
		cfg:     cfg,
		secrets: secrets,
		logger:  log.WithComponent("broker"),
	}
}

// OpenOSP dials an OSP scanner and returns a live session. Sensor kinds
// are rewritten through the relay mapper first. Dialing retries with a
// constant one second spacing up to the configured attempt count; a
// final failure surfaces as types.ErrScannerUnreachable. The caller
// owns the session and must Close it on every exit path.
func (b *Broker) OpenOSP(ctx context.Context, scanner *types.Scanner) (*osp.Session, error) {
	endpoint, err := b.endpointFor(ctx, scanner)
	if err != nil {
		return nil, err
	}

	var dial func() (net.Conn, error)
	if isSocketPath(endpoint.Host) {
		dial = func() (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", endpoint.Host)
		}
	} else {
		tlsCfg, err := b.scannerTLS(scanner, endpoint.CACert)
		if err != nil {
			return nil, err
		}
		addr := net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))
		dial = func() (net.Conn, error) {
			d := tls.Dialer{Config: tlsCfg}
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(time.Second),
		uint64(b.cfg.ScannerConnectionRetry)), ctx)
	conn, err := backoff.RetryWithData(dial, policy)
	if err != nil {
		return nil, fmt.Errorf("scanner %s at %s: %w: %v",
			scanner.ID, endpoint.Host, types.ErrScannerUnreachable, err)
	}

	b.logger.Debug().
		Str("scanner_id", scanner.ID).
		Str("host", endpoint.Host).
		Msg("OSP session opened")
	return osp.NewSession(conn), nil
}

// OpenHTTPScan builds an authenticated client for an HTTP scanner.
// scanID may be empty at discovery time, before the scanner has
// assigned one. The client dials lazily; connect failures surface on
// the first request.
func (b *Broker) OpenHTTPScan(ctx context.Context, scanner *types.Scanner, scanID string) (*httpscan.Client, error) {
	endpoint, err := b.endpointFor(ctx, scanner)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{}
	var base string
	switch {
	case isSocketPath(endpoint.Host):
		socket := endpoint.Host
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
		base = "http://scanner"
	case endpoint.CACert != "":
		tlsCfg, err := b.scannerTLS(scanner, endpoint.CACert)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
		base = "https://" + net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))
	default:
		base = "http://" + net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))
	}

	client := &http.Client{Transport: transport}
	return httpscan.NewClient(client, base, scanID), nil
}

// endpointFor returns the address to dial for a scanner, applying the
// relay mapper for sensor kinds. A sensor without a relay mapping is
// unreachable by definition.
func (b *Broker) endpointFor(ctx context.Context, scanner *types.Scanner) (Endpoint, error) {
	endpoint := Endpoint{Host: scanner.Host, Port: scanner.Port, CACert: scanner.CACert}
	if !scanner.Kind.Sensor() {
		return endpoint, nil
	}
	relay, found, err := b.ResolveRelay(ctx, endpoint, RelayOSP)
	if err != nil {
		return Endpoint{}, err
	}
	if !found {
		return Endpoint{}, fmt.Errorf("scanner %s: no relay mapping for %s:%d: %w",
			scanner.ID, endpoint.Host, endpoint.Port, types.ErrScannerUnreachable)
	}
	return relay, nil
}

// relayReply matches the mapper's stdout.
type relayReply struct {
	XMLName xml.Name `xml:"relay"`
	Host    string   `xml:"host"`
	Port    string   `xml:"port"`
	CACert  string   `xml:"ca_cert"`
}

// ResolveRelay maps an endpoint through the relay-mapper executable.
// With no mapper configured the endpoint passes through unchanged. A
// mapper reply with an empty host or port means no relay serves this
// endpoint; the original tuple is returned with found=false.
func (b *Broker) ResolveRelay(ctx context.Context, ep Endpoint, protocol RelayProtocol) (Endpoint, bool, error) {
	if b.cfg.RelayMapperPath == "" {
		return ep, true, nil
	}

	cmd := exec.CommandContext(ctx, b.cfg.RelayMapperPath,
		"--host", ep.Host,
		"--port", strconv.Itoa(ep.Port),
		"--protocol", string(protocol))
	out, err := cmd.Output()
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("relay mapper: %w", err)
	}

	var rep relayReply
	if err := xml.Unmarshal(out, &rep); err != nil {
		return Endpoint{}, false, fmt.Errorf("relay mapper: parse reply: %w", err)
	}

	host := strings.TrimSpace(rep.Host)
	portText := strings.TrimSpace(rep.Port)
	if host == "" || portText == "" {
		return ep, false, nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("relay mapper: bad port %q", rep.Port)
	}

	mapped := Endpoint{Host: host, Port: port, CACert: rep.CACert}
	if mapped.CACert == "" {
		mapped.CACert = ep.CACert
	}
	b.logger.Debug().
		Str("host", ep.Host).
		Str("relay_host", mapped.Host).
		Int("relay_port", mapped.Port).
		Msg("resolved scanner relay")
	return mapped, true, nil
}

// scannerTLS builds the TLS client configuration for a scanner. The
// sealed client key is opened just for keypair construction and wiped
// before return.
func (b *Broker) scannerTLS(scanner *types.Scanner, ca string) (*tls.Config, error) {
	if ca == "" {
		return nil, fmt.Errorf("scanner %s: no CA certificate configured", scanner.ID)
	}
	if scanner.Certificate == "" || len(scanner.Key) == 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(ca)) {
			return nil, fmt.Errorf("scanner %s: failed to parse CA certificate", scanner.ID)
		}
		return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
	}

	key, err := b.secrets.Open(scanner.Key)
	if err != nil {
		return nil, fmt.Errorf("scanner %s: unseal client key: %w", scanner.ID, err)
	}
	defer security.Zeroize(key)
	cfg, err := security.ClientTLSConfig(ca, scanner.Certificate, key)
	if err != nil {
		return nil, fmt.Errorf("scanner %s: %w", scanner.ID, err)
	}
	return cfg, nil
}

func isSocketPath(host string) bool {
	return strings.HasPrefix(host, "/")
}
