// Package statemachine holds the recorder lifecycle: the status values shared
// with the capture engine and the table of legal caller-driven transitions.
package statemachine

import (
	"errors"
	"fmt"
	"time"
)

// Status is the recorder lifecycle state. The numeric values are the status
// codes the capture engine reports and must not be renumbered.
type Status int

const (
	Idle      Status = 0
	Recording Status = 1
	Paused    Status = 2
	Finishing Status = 3
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Finishing:
		return "finishing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FromCode converts an engine status code. ok is false for unknown codes.
func FromCode(code int) (Status, bool) {
	s := Status(code)
	switch s {
	case Idle, Recording, Paused, Finishing:
		return s, true
	}
	return Idle, false
}

// Op is a caller request against the lifecycle.
type Op string

const (
	OpStart  Op = "start"
	OpPause  Op = "pause"
	OpResume Op = "resume"
	OpStop   Op = "stop"
)

// ErrIllegalTransition is returned when op is not allowed from the current status.
var ErrIllegalTransition = errors.New("illegal transition")

// transitions lists every caller-driven edge. Finishing -> Idle is driven by
// the engine's terminal notification and is not a caller op.
var transitions = map[Status]map[Op]Status{
	Idle:      {OpStart: Recording},
	Recording: {OpPause: Paused, OpStop: Finishing},
	Paused:    {OpResume: Recording, OpStop: Finishing},
}

// Next returns the status op leads to from from.
func Next(from Status, op Op) (Status, error) {
	if to, ok := transitions[from][op]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s while %s", ErrIllegalTransition, op, from)
}

// StateMachine tracks the status a caller sees next to the status the engine
// last confirmed. It is not safe for concurrent use; the owner serialises access.
type StateMachine struct {
	status         Status
	confirmed      Status
	recordingStart time.Time
	lastChange     time.Time
}

// NewStateMachine returns a machine in Idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{status: Idle, confirmed: Idle}
}

// Check validates op without changing state.
func (sm *StateMachine) Check(op Op) error {
	_, err := Next(sm.status, op)
	return err
}

// Apply moves to the status op leads to. The change is optimistic until the
// engine confirms it.
func (sm *StateMachine) Apply(op Op) (Status, error) {
	to, err := Next(sm.status, op)
	if err != nil {
		return sm.status, err
	}
	if op == OpStart {
		sm.recordingStart = time.Now()
	}
	sm.set(to)
	return to, nil
}

// Confirm records a status reported by the engine. It wins over the
// optimistic value, except that an active recording only becomes Idle through
// Reset: an engine-reported Idle is shown as Finishing until the terminal
// notification arrives. Returns true when the visible status changed.
func (sm *StateMachine) Confirm(s Status) bool {
	sm.confirmed = s
	if s == Idle && sm.status != Idle {
		s = Finishing
	}
	if sm.status == s {
		return false
	}
	sm.set(s)
	return true
}

// Reset returns to Idle after a terminal notification or a rolled-back start.
func (sm *StateMachine) Reset() {
	sm.confirmed = Idle
	sm.recordingStart = time.Time{}
	sm.set(Idle)
}

func (sm *StateMachine) set(s Status) {
	sm.status = s
	sm.lastChange = time.Now()
}

// Status returns the last-known status, optimistic updates included.
func (sm *StateMachine) Status() Status {
	return sm.status
}

// ConfirmedStatus returns the last status the engine reported.
func (sm *StateMachine) ConfirmedStatus() Status {
	return sm.confirmed
}

// IsActive reports whether a recording is between Start and its terminal
// notification.
func (sm *StateMachine) IsActive() bool {
	return sm.status != Idle
}

// RecordingDuration returns how long the current recording has been active
func (sm *StateMachine) RecordingDuration() time.Duration {
	if sm.recordingStart.IsZero() {
		return 0
	}
	return time.Since(sm.recordingStart)
}

// RecordingStart returns when the current recording was started.
func (sm *StateMachine) RecordingStart() time.Time {
	return sm.recordingStart
}

// LastChange returns when the visible status last changed.
func (sm *StateMachine) LastChange() time.Time {
	return sm.lastChange
}
