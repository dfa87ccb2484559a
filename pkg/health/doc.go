/*
Package health probes the configured scanners for reachability.

Each scanner kind gets the cheapest probe its transport allows: OSP
scanners answer a VT version request over a fresh session, HTTP and
agent-controller scanners answer their liveness route, and the built-in
CVE scanner counts as ready once the SCAP feed has been ingested.

A Monitor caches outcomes per scanner so the reporting surfaces can
ask on every request without turning probes into load. A scanner that
has answered before is only reported unreachable after several
consecutive failures; one missed probe during a scanner restart should
not flap the state.
*/
package health
