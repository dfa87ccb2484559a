// Package controller composes the scan subsystems into the operations
// a session may run against a task: start, stop, resume, delete and
// move, plus the periodic tick that fires schedules, admits queued
// scans, imports finished reports and syncs feeds.
//
// Every task operation is permission checked against the calling
// principal before it touches state, and every status change goes
// through the task state machine, so concurrent sessions cannot race a
// task into an inconsistent pair of task and report statuses.
package controller
