/*
Package osp implements the classical OSP scanner protocol: XML command
envelopes over a TLS or UNIX-socket stream.

A Session wraps one established connection and exposes the commands the
controller uses: StartScan, GetScan, StopScan, DeleteScan, VTsVersion,
CheckFeed and Performance. Every command is a single request/reply
round trip; replies carry a status attribute, and anything outside the
2xx family surfaces as a StatusError matching types.ErrScannerProtocol.

The broker package owns connecting; workers own the poll cadence. This
package only shapes envelopes and decodes replies.
*/
package osp
