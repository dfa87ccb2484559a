// Package metrics exposes the controller's Prometheus collectors and
// the component health registry behind the daemon's /health and /ready
// endpoints. Counters are incremented at the point of work (worker
// launch, report import, feed sync); gauges are sampled by the
// Collector, which reads the store and supervisor on a fixed period.
package metrics
