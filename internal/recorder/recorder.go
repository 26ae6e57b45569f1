// Package recorder is the caller-facing recording session. A Session enforces
// the Idle → Recording ⇄ Paused → Finishing → Idle lifecycle, hands a single
// output stream to a capture Engine, and relays the engine's asynchronous
// notifications to subscribers.
//
// Event handlers run synchronously on the engine's goroutine, not the
// caller's. Handlers that touch caller-owned state must synchronise or
// re-dispatch themselves, and must not block.
package recorder

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tiroq/screenrec/internal/bridge"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/sink"
	"github.com/tiroq/screenrec/internal/statemachine"
)

// Status is the session lifecycle state.
type Status = statemachine.Status

const (
	StatusIdle      = statemachine.Idle
	StatusRecording = statemachine.Recording
	StatusPaused    = statemachine.Paused
	StatusFinishing = statemachine.Finishing
)

// FrameInfo is one slideshow frame: the file written and the delay before it.
type FrameInfo = bridge.FrameInfo

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// current status. No engine call is made.
	ErrInvalidState = errors.New("invalid recorder state")
	// ErrEngine wraps a synchronous rejection from the capture engine.
	ErrEngine = errors.New("capture engine error")
	// ErrTeardownTimeout is returned by Close when the engine did not deliver
	// its terminal notification in time.
	ErrTeardownTimeout = errors.New("timed out waiting for capture engine to finish")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session closed")

	ErrSinkUnavailable          = sink.ErrSinkUnavailable
	ErrUnsupportedConfiguration = sink.ErrUnsupportedConfiguration
)

// StateError reports an operation rejected by the lifecycle.
type StateError struct {
	Op     statemachine.Op
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.Status)
}

// Unwrap lets errors.Is match ErrInvalidState.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// Engine performs the actual capture, encoding and muxing. Start, Pause,
// Resume and Stop must return promptly and must not invoke cb on the calling
// goroutine. After an accepted Start the engine calls cb.Status zero or more
// times, then exactly one of cb.Completed or cb.Failed. No callback may run
// after Close returns.
type Engine interface {
	Name() string
	Start(stream sink.Stream, opts options.Options, cb bridge.Callbacks) error
	Pause() error
	Resume() error
	Stop() error
	Close() error
}

// StatusEvent is raised for every status the engine reports, and once with
// StatusIdle when a recording ends.
type StatusEvent struct {
	RecordingID uuid.UUID
	Status      Status
}

// CompletedEvent is raised when the engine has finalised the output.
type CompletedEvent struct {
	RecordingID uuid.UUID
	// Path is the file or directory written, or "" for anonymous streams.
	Path string
	// Frames lists slideshow frames in capture order; empty for other modes.
	Frames []FrameInfo
	// SinkError is set when releasing the output handle failed after the
	// engine finished (for example a final flush error).
	SinkError error
}

// FailedEvent is raised when the engine aborts a recording.
type FailedEvent struct {
	RecordingID uuid.UUID
	Error       string
}
