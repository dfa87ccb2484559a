/*
Package httpscan implements the JSON REST protocol of the newer HTTP
scanner generation, which the agent controller shares.

A Client is bound to one scan: CreateScan posts the scan configuration
and remembers the returned id, then StartScan, Status, Results, StopScan
and DeleteScan operate on it. Results are fetched incrementally with an
offset the caller tracks, so a poll loop only ever ingests new rows.

Result rows carry no severity; the dispatch layer resolves severity and
quality-of-detection from VT metadata by OID before persisting.
*/
package httpscan
