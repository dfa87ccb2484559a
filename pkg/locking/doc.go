/*
Package locking provides the two coordination primitives the controller
is built on: advisory file locks and counting semaphores.

File locks (FileLock) serialise work across processes sharing a state
directory, e.g. the feed update lock and the per-report import locks.
The kernel releases them when the holder dies, so stale holders cannot
wedge the system. The stamped variant records the holder's pid and the
acquisition time in the lock file for operators to inspect.

Semaphores (Semaphore) bound in-process concurrency: how many scans may
update at once, how many reports may import at once. A capacity of zero
means unlimited. WaitZero lets a caller wait for full quiescence, which
shutdown and feed syncs use before touching shared data.
*/
package locking
