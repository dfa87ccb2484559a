package osp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
)

// Session speaks the OSP command protocol over one stream connection.
// Commands are strictly request/reply: each Send writes one envelope
// and decodes exactly one reply element. A Session is not safe for
// concurrent use; each scan worker owns its own.
type Session struct {
	conn net.Conn
	enc  *xml.Encoder
	dec  *xml.Decoder
}

// NewSession wraps an established connection. The session takes
// ownership; Close closes the underlying connection.
func NewSession(conn net.Conn) *Session {
	return &Session{
		conn: conn,
		enc:  xml.NewEncoder(conn),
		dec:  xml.NewDecoder(conn),
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// roundTrip sends one command and decodes its reply envelope. A context
// deadline is applied to the connection for the duration of the call.
func (s *Session) roundTrip(ctx context.Context, name string, cmd any, rep reply) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("osp %s: set deadline: %w", name, err)
		}
		defer s.conn.SetDeadline(time.Time{})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enc.Encode(cmd); err != nil {
		return fmt.Errorf("osp %s: send: %w", name, err)
	}
	if err := s.dec.Decode(rep); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("osp %s: %w", name, err)
		}
		return fmt.Errorf("osp %s: decode reply: %w: %v", name, types.ErrScannerProtocol, err)
	}
	return checkStatus(name, rep)
}

// StartScan submits a start_scan command and returns the scanner-side
// scan id. When cmd.ScanID is set the scanner reuses it, which is how
// resumed scans keep their identity.
func (s *Session) StartScan(ctx context.Context, cmd StartScan) (string, error) {
	var rep startScanReply
	if err := s.roundTrip(ctx, "start_scan", cmd, &rep); err != nil {
		return "", err
	}
	if rep.ID == "" {
		return "", fmt.Errorf("osp start_scan: reply without scan id: %w", types.ErrScannerProtocol)
	}
	return rep.ID, nil
}

// GetScan fetches the current state of a scan. With details set the
// reply carries result rows; with pop set the scanner forgets the rows
// it delivered, so each poll only sees new results.
func (s *Session) GetScan(ctx context.Context, scanID string, details, pop bool) (*Scan, error) {
	cmd := GetScans{ScanID: scanID, Progress: 1}
	if details {
		cmd.Details = 1
	}
	if pop {
		cmd.PopResults = 1
	}
	var rep getScansReply
	if err := s.roundTrip(ctx, "get_scans", cmd, &rep); err != nil {
		return nil, err
	}
	if rep.Scan == nil {
		return nil, fmt.Errorf("osp get_scans: reply without scan element: %w", types.ErrScannerProtocol)
	}
	return rep.Scan, nil
}

// StopScan asks the scanner to stop a scan. Stopping an already
// finished scan is a scanner-side status error.
func (s *Session) StopScan(ctx context.Context, scanID string) error {
	var rep stopScanReply
	return s.roundTrip(ctx, "stop_scan", StopScan{ScanID: scanID}, &rep)
}

// DeleteScan releases all scanner-side state of a finished or stopped
// scan.
func (s *Session) DeleteScan(ctx context.Context, scanID string) error {
	var rep deleteScanReply
	return s.roundTrip(ctx, "delete_scan", DeleteScan{ScanID: scanID}, &rep)
}

// VTsVersion returns the scanner's loaded VT feed version.
func (s *Session) VTsVersion(ctx context.Context) (string, error) {
	var rep getVTsReply
	if err := s.roundTrip(ctx, "get_vts", GetVTs{VersionOnly: 1}, &rep); err != nil {
		return "", err
	}
	return rep.VTs.Version, nil
}

// CheckFeed reports the scanner-side feed state.
func (s *Session) CheckFeed(ctx context.Context) (*FeedCheck, error) {
	var rep checkFeedReply
	if err := s.roundTrip(ctx, "check_feed", CheckFeed{}, &rep); err != nil {
		return nil, err
	}
	check := &FeedCheck{LockfileInUse: rep.Feed.LockfileInUse != 0}
	if rep.Feed.SelfTestExitErr != 0 {
		check.SelfTestError = rep.Feed.SelfTestErrorMsg
		if check.SelfTestError == "" {
			check.SelfTestError = fmt.Sprintf("feed self test exited %d", rep.Feed.SelfTestExitErr)
		}
	}
	return check, nil
}

// Performance fetches scanner performance data for the given range.
// The reply body is graph data, base64 encoded by the scanner.
func (s *Session) Performance(ctx context.Context, start, end int64, titles string) (string, error) {
	cmd := GetPerformance{Start: start, End: end, Titles: titles}
	var rep getPerformanceReply
	if err := s.roundTrip(ctx, "get_performance", cmd, &rep); err != nil {
		return "", err
	}
	return rep.Data, nil
}
