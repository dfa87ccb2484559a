// Package cvescan implements the built-in CVE scanner. It performs no
// network traffic at all: instead it replays the product inventory
// (CPE host details) that earlier scans recorded for each target host
// against the CVE correlation map, and reports an alarm for every CVE
// whose affected products are present.
//
// Hosts that have never been scanned before have no inventory and
// produce an empty report section rather than an error.
package cvescan
