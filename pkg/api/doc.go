// Package api serves the daemon's HTTP surface. It exposes liveness,
// health and readiness probes, the Prometheus metrics endpoint, a
// newline-delimited JSON stream of controller events, scanner
// reachability, and the system performance reports.
//
// The surface is operational, not a management protocol: task
// operations stay in-process behind the controller's permission
// checks. Nothing here authenticates, so the listener belongs on
// loopback or behind a network-layer guard.
package api
