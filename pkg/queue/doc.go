/*
Package queue holds the two work queues between the state machine and
the scan workers.

ScanQueue admits requested scans against the concurrency cap. When a
slot is free the task moves straight to Running and a worker launches
with the slot attached; otherwise the task moves to Queued and the
entry persists in the store, so waiting scans survive a restart. Each
tick promotes entries oldest-first into whatever slots have freed up.

ReportImporter finishes scans whose worker already exited: it claims
reports left in Processing, takes the per-report file lock to exclude
any other importer on the same state directory, and runs the import
under the processing cap. A successful import moves the task to Done
and rotates the report pointers; a failed one interrupts the task with
the cause recorded as an error result.
*/
package queue
