// Package sysreport produces system performance reports by shelling
// out to the external graph generator (gvmcg). The generator speaks a
// two-call contract: "gvmcg 0 titles" lists the available report
// types one per line, and "gvmcg <start> [<end>] <name>" renders one
// graph as raw image bytes on stdout.
//
// The generator is optional. When it is missing or exits nonzero, the
// reporter degrades to a plain-text snapshot assembled from the host
// itself (load average, memory), so the performance surface of the
// daemon keeps answering instead of erroring out.
package sysreport
