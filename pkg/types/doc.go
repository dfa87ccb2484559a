/*
Package types defines the core data structures used throughout Vigil.

This package contains all fundamental types that represent Vigil's domain
model: tasks, reports, results, targets, credentials, scanners, and
schedules. These types are used by all other packages for state
management, dispatch, and scheduling logic.

# Architecture

The types package is the foundation of Vigil's data model. It defines:

  - Scan execution state (Task, TaskStatus, ScanQueueEntry)
  - Scan output (Report, Result, ReportHost, HostDetail)
  - Scan input (Target, Credential, Scanner, VTSelection)
  - Calendar scheduling (Schedule, TaskSchedule)
  - Feed bookkeeping (FeedType, FeedStatus)
  - Severity classification (SeverityClass and sentinels)

All types are designed to be:
  - Serializable (JSON, for the bbolt store)
  - Flat (ids reference related resources, never embedded pointers)
  - Self-documenting (clear field names and comments)

# Task Lifecycle

A task moves through TaskStatus values as scans run:

	New -> Requested -> Queued -> Running -> Processing -> Done
	                      |          |
	                      |          +-> Stop Requested -> Stop Waiting -> Stopped
	                      +-> (deleted: entry removed, task gone)

Interrupted is entered from any active state when the scan handler
fails. Stopped and Interrupted runs may be resumed.

# Severity

Scanner findings carry CVSS scores in [0.0, 10.0]. Three negative
sentinels mark non-vulnerability rows: 0.0 Log, -1.0 False Positive,
-3.0 Error. SeverityClass buckets scores into Critical / High /
Medium / Low bands with fixed boundaries; out-of-band scores map to ""
and the caller logs a warning.

# Usage Example

	task := &types.Task{
		ID:        uuid.New().String(),
		Name:      "weekly-dmz",
		Owner:     ownerID,
		ScannerID: scannerID,
		TargetID:  targetID,
		Status:    types.TaskStatusNew,
	}

Credential secret fields (Secret, PrivateKey, Community,
PrivacyPassword) hold AES-256-GCM sealed bytes; see pkg/security for
sealing and unsealing.
*/
package types
