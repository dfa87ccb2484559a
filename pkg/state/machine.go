package state

import (
	"fmt"

	"github.com/vigilsec/vigil/pkg/types"
)

// Event is an input to the task state machine.
type Event string

const (
	EventStart          Event = "start"
	EventAdmit          Event = "admit"
	EventQueueFull      Event = "queue-full"
	EventStop           Event = "stop"
	EventScannerAck     Event = "scanner-ack"
	EventScannerDone    Event = "scanner-done"
	EventScanComplete   Event = "scan-complete"
	EventPostDone       Event = "post-done"
	EventWorkerError    Event = "worker-error"
	EventResume         Event = "resume"
	EventDelete         Event = "delete"
	EventUltimateDelete Event = "ultimate-delete"
)

// Effect is a side effect the caller executes after committing a
// transition. The machine itself never touches storage, queues or
// scanners.
type Effect int

const (
	EffectCreateReport Effect = iota
	EffectReuseReport
	EffectAddToQueue
	EffectRemoveFromQueue
	EffectSignalStop
	EffectFinalizeTimes
	EffectAppendErrorResult
	EffectTrashTask
	EffectPurgeTask
)

// Transition is the outcome of applying an event to a status.
type Transition struct {
	From    types.TaskStatus
	Event   Event
	To      types.TaskStatus
	Effects []Effect
}

// Has reports whether the transition carries the given effect.
func (t Transition) Has(effect Effect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

type rule struct {
	to      types.TaskStatus
	effects []Effect
}

// transitions is the allowed (status, event) table. Start is legal
// from every quiescent status so scheduled tasks can run again after
// Done; resume only from Stopped and Interrupted.
var transitions = map[types.TaskStatus]map[Event]rule{
	types.TaskStatusNew: {
		EventStart: {to: types.TaskStatusRequested, effects: []Effect{EffectCreateReport}},
	},
	types.TaskStatusDone: {
		EventStart: {to: types.TaskStatusRequested, effects: []Effect{EffectCreateReport}},
	},
	types.TaskStatusStopped: {
		EventStart:  {to: types.TaskStatusRequested, effects: []Effect{EffectCreateReport}},
		EventResume: {to: types.TaskStatusRequested, effects: []Effect{EffectReuseReport}},
	},
	types.TaskStatusInterrupted: {
		EventStart:  {to: types.TaskStatusRequested, effects: []Effect{EffectCreateReport}},
		EventResume: {to: types.TaskStatusRequested, effects: []Effect{EffectReuseReport}},
	},
	types.TaskStatusRequested: {
		EventAdmit:     {to: types.TaskStatusRunning},
		EventQueueFull: {to: types.TaskStatusQueued, effects: []Effect{EffectAddToQueue}},
	},
	types.TaskStatusQueued: {
		EventAdmit: {to: types.TaskStatusRunning, effects: []Effect{EffectRemoveFromQueue}},
		// A queued task holds no scanner session, so a stop needs no
		// handshake: it leaves the queue and is immediately Stopped.
		EventStop:           {to: types.TaskStatusStopped, effects: []Effect{EffectRemoveFromQueue, EffectFinalizeTimes}},
		EventDelete:         {to: types.TaskStatusDeleteRequested, effects: []Effect{EffectRemoveFromQueue}},
		EventUltimateDelete: {to: types.TaskStatusUltimateDeleteRequested, effects: []Effect{EffectRemoveFromQueue}},
	},
	types.TaskStatusRunning: {
		EventStop:           {to: types.TaskStatusStopRequested, effects: []Effect{EffectSignalStop}},
		EventScanComplete:   {to: types.TaskStatusProcessing},
		EventScannerDone:    {to: types.TaskStatusStopped, effects: []Effect{EffectFinalizeTimes}},
		EventDelete:         {to: types.TaskStatusDeleteRequested, effects: []Effect{EffectSignalStop}},
		EventUltimateDelete: {to: types.TaskStatusUltimateDeleteRequested, effects: []Effect{EffectSignalStop}},
	},
	types.TaskStatusProcessing: {
		EventPostDone: {to: types.TaskStatusDone, effects: []Effect{EffectFinalizeTimes}},
	},
	types.TaskStatusStopRequested: {
		EventScannerAck: {to: types.TaskStatusStopWaiting},
	},
	types.TaskStatusStopWaiting: {
		EventScannerDone: {to: types.TaskStatusStopped, effects: []Effect{EffectFinalizeTimes}},
	},
	types.TaskStatusDeleteRequested: {
		EventScannerAck: {to: types.TaskStatusDeleteWaiting},
	},
	types.TaskStatusDeleteWaiting: {
		EventScannerDone: {to: types.TaskStatusStopped, effects: []Effect{EffectFinalizeTimes, EffectTrashTask}},
	},
	types.TaskStatusUltimateDeleteRequested: {
		EventScannerAck: {to: types.TaskStatusUltimateDeleteWaiting},
	},
	types.TaskStatusUltimateDeleteWaiting: {
		EventScannerDone: {to: types.TaskStatusStopped, effects: []Effect{EffectFinalizeTimes, EffectPurgeTask}},
	},
}

// Apply runs one event against the machine. It is pure: the caller
// commits the returned transition to storage and executes its effects.
// Unspecified pairs change nothing and report ErrNotApplicable; start
// and resume on an active task report ErrTaskActive.
func Apply(from types.TaskStatus, event Event) (Transition, error) {
	if event == EventWorkerError {
		return Transition{
			From:    from,
			Event:   event,
			To:      types.TaskStatusInterrupted,
			Effects: []Effect{EffectAppendErrorResult},
		}, nil
	}
	if (event == EventStart || event == EventResume) && from.Active() {
		return Transition{}, fmt.Errorf("%s %q: %w", event, from, types.ErrTaskActive)
	}
	r, ok := transitions[from][event]
	if !ok {
		return Transition{}, fmt.Errorf("%s %q: %w", event, from, types.ErrNotApplicable)
	}
	return Transition{From: from, Event: event, To: r.to, Effects: r.effects}, nil
}

// ReportPairAllowed is the invariant between a task status and the run
// status of its current report. Status publication is atomic across
// the pair, so an active task's current report always mirrors it; only
// quiescent tasks may have no current report at all. An empty report
// status means the task has no current report.
func ReportPairAllowed(task, report types.TaskStatus) bool {
	if report == "" {
		return task.Quiescent()
	}
	return report == task
}
