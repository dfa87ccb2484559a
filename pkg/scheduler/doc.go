/*
Package scheduler fires calendar-driven task starts and duration stops.

Each tick snapshots the task-schedule bindings and decides the actions
due now: a task whose next fire time has passed gets a start, a running
task whose schedule carries a duration and whose run exceeded it gets a
stop, and at most one action per task per tick. The next fire time
advances before the action executes, so a crash mid-tick can lose one
start but never repeat one. Fires more than ScheduleTimeout minutes
overdue are consumed without starting anything.

Next fire times come from the schedule's RFC 5545 VEVENT block,
evaluated in the schedule's timezone. Limited schedules count their
remaining periods down and unbind from the task after the last run;
a spent once-off schedule unbinds as soon as no duration stop can
still need it.

Actions run through owner-bound controller sessions, so a scheduled
start obeys the same permissions as one the owner requested by hand.

The tick also carries two pieces of housekeeping that want the same
cadence: reloading the VT cache after a feed sync has landed, and
trimming finished reports beyond a task's auto-delete keep count.
*/
package scheduler
