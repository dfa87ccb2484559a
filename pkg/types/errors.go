package types

import (
	"errors"
	"fmt"
)

// Classified errors surfaced by the controller core. Callers match with
// errors.Is; wrapping with %w preserves the class across package
// boundaries. Store lookups that miss surface storage.ErrNotFound, which
// completes the set.
var (
	// ErrPermission reports an ACL check failure.
	ErrPermission = errors.New("permission denied")

	// ErrConflict reports a request that is well formed but not valid
	// against the current state of the resource.
	ErrConflict = errors.New("conflict")

	// ErrScannerUnreachable reports a scanner connect failure that
	// survived the configured retry budget.
	ErrScannerUnreachable = errors.New("scanner unreachable")

	// ErrScannerProtocol reports a malformed or refused scanner reply.
	ErrScannerProtocol = errors.New("scanner protocol error")

	// ErrFeedBusy reports that the feed lock stayed held past the
	// configured timeout.
	ErrFeedBusy = errors.New("feed locked")

	// ErrMemoryPressure reports that free memory stayed under the
	// feed-update floor for the whole retry window.
	ErrMemoryPressure = errors.New("insufficient free memory")

	// ErrInternal reports a state the machine does not allow. Loops log
	// it and keep running.
	ErrInternal = errors.New("internal error")
)

// Conflict refinements. Each one satisfies errors.Is(err, ErrConflict).
var (
	ErrTaskActive         = fmt.Errorf("task already active: %w", ErrConflict)
	ErrNotApplicable      = fmt.Errorf("not applicable in current state: %w", ErrConflict)
	ErrResumeNotSupported = fmt.Errorf("scanner kind cannot resume a scan: %w", ErrConflict)
)
