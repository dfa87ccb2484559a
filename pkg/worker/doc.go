/*
Package worker supervises the goroutines that run scans.

One scan is one worker: Launch registers it, derives a per-scan
context and drives the dispatch lifecycle to a terminal status. The
supervisor tracks every live worker so the scan queue can compute
admission capacity and so Shutdown can cancel and drain them.

A worker that returns an error did not get its task to a terminal
status on its own; the supervisor then interrupts the task and
appends an error result naming the cause, so the failure is visible
in the report and the task is resumable. Cancelling the launch
context (daemon shutdown) takes the same path.
*/
package worker
