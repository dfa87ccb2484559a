/*
Package state holds the task lifecycle machine.

The machine is pure: Apply(status, event) returns the transition to
commit and the side effects the caller must execute, and never touches
storage, queues or scanners itself. This keeps every allowed (status,
event) pair unit-testable without infrastructure.

Lifecycle of a fresh run:

	New --start--> Requested --admit--> Running --scan-complete--> Processing --post-done--> Done
	                    \--queue-full--> Queued --admit--> Running

Stopping hands off between controller and worker:

	Running --stop--> Stop Requested --scanner-ack--> Stop Waiting --scanner-done--> Stopped

Delete and ultimate-delete on an active task follow the same handshake
through their Requested/Waiting legs and end in a trash or purge
effect. A worker error moves any status to Interrupted. Stopped and
Interrupted tasks accept resume, which reuses the last report instead
of creating one.
*/
package state
