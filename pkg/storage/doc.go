/*
Package storage implements the persistence contract on bbolt.

Every controller component reads and writes through the Store
interface; the bbolt implementation is the only one shipped. The
database is a single file under the state directory, opened with an
exclusive file lock by bbolt itself, which is what makes one-shot CLI
commands safe only while the daemon is stopped.

# Layout

One bucket per entity, JSON-encoded values keyed by UUID:

	tasks         task rows (status, refs, schedule bookkeeping)
	reports       report rows (run status, scan times)
	results       per-report sub-bucket, sequence-keyed result rows
	report_hosts  per-report sub-bucket, keyed by host
	host_details  per-report sub-bucket, sequence-keyed detail rows
	scan_queue    sequence-keyed FIFO of waiting scans
	targets, credentials, scanners, schedules, agent_groups
	settings      name -> value, including feed sync markers

# Guarantees

Mutations run inside a single bbolt Update transaction, so a reader
observes either the whole change or none of it. SetTaskStatus is the
publication point of the task state machine; callers write dependent
rows (results, scan times) before flipping a status that announces
them, and the write lock ordering makes that visible in order.

Result rows are keyed by the bucket sequence number, zero-padded so
byte order equals insertion order. Iteration callbacks (ForEachResult,
ForEachTaskSchedule, ...) run under one read transaction: the callback
must not call back into the store, and the snapshot is consistent for
its whole run.

Lookups that miss wrap ErrNotFound; use IsNotFound rather than string
matching.
*/
package storage
