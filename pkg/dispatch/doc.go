// Package dispatch drives scans across the supported scanner kinds. A
// Runner owns the shared pieces (store, broker, secrets, VT cache, the
// task lock table) and hands out one Dispatcher per scan; RunTask
// drives the dispatcher until the scan reaches a terminal state,
// reacting to stop and delete requests observed on the task between
// polls.
//
// Task status changes go through Runner.Transition, which serialises
// per task and executes the storage effects the state machine asks
// for. Reports that reached Processing are completed by ProcessReport,
// called from the report import queue.
package dispatch
