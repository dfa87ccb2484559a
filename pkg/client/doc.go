/*
Package client wraps the daemon's HTTP surface for CLI usage.

It covers the operational routes: health and readiness, scanner
reachability, the performance reports and the live event stream.
Task operations are not here; they stay in-process behind the
controller's permission checks, and the offline CLI commands open the
state store directly instead.
*/
package client
