package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tiroq/screenrec/internal/bridge"
	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/sink"
	"github.com/tiroq/screenrec/internal/statemachine"
)

// DefaultTeardownTimeout bounds how long Close waits for the engine.
const DefaultTeardownTimeout = 10 * time.Second

// Option configures a Session.
type Option func(*Session)

// WithOptions sets the recording options. The session keeps its own copy.
func WithOptions(o options.Options) Option {
	return func(s *Session) { s.opts = o.Clone() }
}

// WithLogger sets the operational logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithDiagLogger enables NDJSON tracing of lifecycle events.
func WithDiagLogger(l *diaglog.Logger) Option {
	return func(s *Session) { s.diag = l }
}

// WithRegistry pins callbacks in reg instead of a private registry.
func WithRegistry(reg *bridge.Registry) Option {
	return func(s *Session) { s.registry = reg }
}

// WithTeardownTimeout bounds the wait in Close.
func WithTeardownTimeout(d time.Duration) Option {
	return func(s *Session) { s.teardownTimeout = d }
}

// Session is one recorder. Operations are short, non-blocking requests;
// only Close waits on the engine.
type Session struct {
	engine          Engine
	opts            options.Options
	bridge          *bridge.Bridge
	registry        *bridge.Registry
	teardownTimeout time.Duration

	logger zerolog.Logger
	diag   *diaglog.Logger

	// opMu serialises caller operations, including the engine call they make.
	// mu guards state and is never held across an engine call, so engine
	// callbacks can always make progress.
	opMu sync.Mutex

	mu      sync.Mutex
	sm      *statemachine.StateMachine
	stream  sink.Stream
	pin     *bridge.Pin
	recID   uuid.UUID
	runOpts options.Options
	closed  bool
	// idleReported is set once the engine reports Idle for the live
	// recording, so the terminal notification does not repeat it.
	idleReported bool

	handlersMu sync.RWMutex
	onStatus   []func(StatusEvent)
	onComplete []func(CompletedEvent)
	onFailed   []func(FailedEvent)
}

// New creates an idle session driving engine. Without WithOptions the
// session records with options.Default().
func New(engine Engine, opts ...Option) *Session {
	s := &Session{
		engine:          engine,
		opts:            options.Default(),
		teardownTimeout: DefaultTeardownTimeout,
		logger:          zerolog.Nop(),
		sm:              statemachine.NewStateMachine(),
	}
	for _, o := range opts {
		o(s)
	}

	s.bridge = bridge.New(bridge.Handlers{
		Status:    s.handleStatus,
		Completed: s.handleCompleted,
		Failed:    s.handleFailed,
	}, s.registry)
	s.bridge.SetLogger(s.logger)
	s.bridge.SetDiagLogger(s.diag)
	return s
}

// OnStatusChanged subscribes fn to status notifications.
func (s *Session) OnStatusChanged(fn func(StatusEvent)) {
	s.handlersMu.Lock()
	s.onStatus = append(s.onStatus, fn)
	s.handlersMu.Unlock()
}

// OnRecordingComplete subscribes fn to completion notifications.
func (s *Session) OnRecordingComplete(fn func(CompletedEvent)) {
	s.handlersMu.Lock()
	s.onComplete = append(s.onComplete, fn)
	s.handlersMu.Unlock()
}

// OnRecordingFailed subscribes fn to failure notifications.
func (s *Session) OnRecordingFailed(fn func(FailedEvent)) {
	s.handlersMu.Lock()
	s.onFailed = append(s.onFailed, fn)
	s.handlersMu.Unlock()
}

// Status returns the last-known status. It reflects a successful Pause,
// Resume or Stop immediately and is overwritten by every engine report, except
// that an Idle report is shown as Finishing until the terminal notification.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.Status()
}

// ConfirmedStatus returns the last status the engine itself reported.
func (s *Session) ConfirmedStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.ConfirmedStatus()
}

// RecordingID returns the id of the live recording, or uuid.Nil when idle.
func (s *Session) RecordingID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recID
}

// Options returns a copy of the configured options.
func (s *Session) Options() options.Options {
	return s.opts.Clone()
}

// EffectiveOptions returns the options the live recording actually runs
// with, after sink normalisation (fast start may be off).
func (s *Session) EffectiveOptions() options.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runOpts.Clone()
}

// Duration returns how long the live recording has been running.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.RecordingDuration()
}

// Engine returns the engine the session drives.
func (s *Session) Engine() Engine {
	return s.engine
}

// Start begins recording to the file at path (a directory in slideshow mode).
// It returns once the engine has accepted the request; the outcome arrives
// through the completion or failure notification.
func (s *Session) Start(path string) error {
	return s.start(sink.Target{Path: path})
}

// StartStream begins recording into w. Fast start is switched off when w
// cannot seek. The session never closes w.
func (s *Session) StartStream(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("%w: nil writer", ErrSinkUnavailable)
	}
	return s.start(sink.Target{Writer: w})
}

// StartPlatformStream begins recording into a platform stream object. The
// stream is committed when the recording ends.
func (s *Session) StartPlatformStream(ps sink.PlatformStream) error {
	if ps == nil {
		return fmt.Errorf("%w: nil platform stream", ErrSinkUnavailable)
	}
	return s.start(sink.Target{Platform: ps})
}

func (s *Session) start(target sink.Target) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// The sink is opened only once no recording holds the callbacks; opening
	// truncates the target file.
	if err := s.sm.Check(statemachine.OpStart); err != nil || s.pin != nil {
		st := s.sm.Status()
		s.mu.Unlock()
		return s.reject(statemachine.OpStart, st)
	}
	s.mu.Unlock()

	stream, err := sink.Open(target, s.opts.Mode)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Output unavailable")
		return err
	}
	runOpts, fastStartOff, err := sink.Normalize(stream, s.opts)
	if err != nil {
		_ = stream.Close()
		return err
	}
	if fastStartOff {
		s.logger.Warn().Str("sink", stream.Kind().String()).Msg("Output cannot seek, fast start disabled")
		s.trace(diaglog.ComponentSink, diaglog.EventFastStartDisabled, uuid.Nil, "", map[string]interface{}{"sink": stream.Kind().String()})
	}

	pin, cb, err := s.bridge.Pin()
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	s.mu.Lock()
	if _, err := s.sm.Apply(statemachine.OpStart); err != nil {
		// Unreachable while opMu is held; kept so state is never corrupted.
		s.mu.Unlock()
		_ = pin.Release(context.Background())
		_ = stream.Close()
		return s.reject(statemachine.OpStart, s.Status())
	}
	s.stream = stream
	s.pin = pin
	s.recID = pin.ID()
	s.runOpts = runOpts
	s.mu.Unlock()

	if err := s.engine.Start(stream, runOpts, cb); err != nil {
		s.rollback(pin)
		s.logger.Error().Err(err).Str("engine", s.engine.Name()).Msg("Engine rejected start")
		s.trace(diaglog.ComponentSession, diaglog.EventRequestRejected, pin.ID(), "engine_start", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: start: %w", ErrEngine, err)
	}

	s.logger.Info().
		Str("recording_id", pin.ID().String()).
		Str("engine", s.engine.Name()).
		Str("sink", stream.Kind().String()).
		Str("output", stream.Name()).
		Str("mode", runOpts.Mode.String()).
		Msg("Recording started")
	s.trace(diaglog.ComponentSession, diaglog.EventRecordingStart, pin.ID(), "", map[string]interface{}{
		"engine": s.engine.Name(),
		"sink":   stream.Kind().String(),
		"output": stream.Name(),
		"mode":   runOpts.Mode.String(),
	})
	return nil
}

// rollback undoes a start the engine refused. The engine made no promise to
// call back, so the pin is released here.
func (s *Session) rollback(pin *bridge.Pin) {
	ctx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
	defer cancel()
	if err := pin.Release(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Callbacks still running after engine rejected start")
	}

	s.mu.Lock()
	var stream sink.Stream
	if s.pin == pin {
		stream = s.stream
		s.clearLocked()
	}
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
}

// Pause asks the engine to pause. Legal only while recording.
func (s *Session) Pause() error {
	return s.control(statemachine.OpPause, s.engine.Pause, diaglog.EventRecordingPause)
}

// Resume asks the engine to continue a paused recording.
func (s *Session) Resume() error {
	return s.control(statemachine.OpResume, s.engine.Resume, diaglog.EventRecordingResume)
}

// Stop asks the engine to finalise the output. Legal while recording or
// paused; calling it when idle or already finishing returns ErrInvalidState
// and does nothing else. Errors during finalisation arrive as a failure
// notification.
func (s *Session) Stop() error {
	return s.control(statemachine.OpStop, s.engine.Stop, diaglog.EventRecordingStop)
}

func (s *Session) control(op statemachine.Op, call func() error, event string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.sm.Check(op); err != nil {
		st := s.sm.Status()
		s.mu.Unlock()
		return s.reject(op, st)
	}
	id := s.recID
	s.mu.Unlock()

	if err := call(); err != nil {
		s.mu.Lock()
		ended, st := s.recID != id, s.sm.Status()
		s.mu.Unlock()
		if ended {
			// The terminal notification won the race; the engine has nothing
			// left to act on.
			return s.reject(op, st)
		}
		s.logger.Error().Err(err).Str("op", string(op)).Str("recording_id", id.String()).Msg("Engine rejected request")
		s.trace(diaglog.ComponentSession, diaglog.EventRequestRejected, id, string(op), map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: %s: %w", ErrEngine, op, err)
	}

	s.mu.Lock()
	// A callback may already have moved the state on; the engine's view wins.
	if s.recID == id {
		_, _ = s.sm.Apply(op)
	}
	s.mu.Unlock()

	s.logger.Info().Str("op", string(op)).Str("recording_id", id.String()).Msg("Request accepted")
	s.trace(diaglog.ComponentSession, event, id, "", nil)
	return nil
}

func (s *Session) reject(op statemachine.Op, st Status) error {
	err := &StateError{Op: op, Status: st}
	s.logger.Debug().Str("op", string(op)).Str("status", st.String()).Msg("Rejected request")
	s.trace(diaglog.ComponentSession, diaglog.EventRequestRejected, uuid.Nil, string(op), map[string]interface{}{"status": st.String()})
	return err
}

// Close tears the session down. A live recording is stopped and Close waits,
// bounded by ctx and the teardown timeout, for the engine's terminal
// notification before closing the engine. If the wait expires the engine is
// closed anyway, the callbacks are unpinned after it, and ErrTeardownTimeout
// is returned.
//
// From an OnRecordingComplete or OnRecordingFailed handler the recording is
// already detached, so Close does not wait for it; it still closes the
// engine, and engines that deliver callbacks on a goroutine Close waits for
// (OBSEngine does) must be closed from another goroutine.
func (s *Session) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pin := s.pin
	st := s.sm.Status()
	s.mu.Unlock()

	var result error
	if pin != nil {
		if st == StatusRecording || st == StatusPaused {
			if err := s.engine.Stop(); err != nil {
				s.logger.Warn().Err(err).Msg("Engine refused stop during teardown")
			} else {
				s.mu.Lock()
				if s.pin == pin {
					_, _ = s.sm.Apply(statemachine.OpStop)
				}
				s.mu.Unlock()
			}
		}

		waitCtx, cancel := context.WithTimeout(ctx, s.teardownTimeout)
		select {
		case <-pin.Done():
		case <-waitCtx.Done():
			result = fmt.Errorf("%w: %w", ErrTeardownTimeout, waitCtx.Err())
		}
		cancel()
	}

	// No callbacks can arrive after this returns.
	engineErr := s.engine.Close()

	if pin != nil {
		select {
		case <-pin.Done():
		default:
			relCtx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
			if err := pin.Release(relCtx); err != nil {
				s.logger.Warn().Err(err).Msg("Callbacks still running at teardown")
			}
			cancel()

			s.mu.Lock()
			var stream sink.Stream
			if s.pin == pin {
				stream = s.stream
				s.clearLocked()
			}
			s.mu.Unlock()
			if stream != nil {
				_ = stream.Close()
			}
		}
	}

	if engineErr != nil {
		result = errors.Join(result, fmt.Errorf("%w: close: %w", ErrEngine, engineErr))
	}
	s.logger.Info().Str("engine", s.engine.Name()).Msg("Session closed")
	return result
}

// clearLocked drops the live recording. Callers hold mu.
func (s *Session) clearLocked() {
	s.stream = nil
	s.pin = nil
	s.recID = uuid.Nil
	s.runOpts = options.Options{}
	s.idleReported = false
	s.sm.Reset()
}

// ── engine callbacks (engine goroutine) ──────────────────────────────────────

func (s *Session) handleStatus(id uuid.UUID, status Status) {
	s.mu.Lock()
	if id != s.recID {
		s.mu.Unlock()
		return
	}
	s.sm.Confirm(status)
	s.idleReported = status == StatusIdle
	s.mu.Unlock()

	s.trace(diaglog.ComponentSession, diaglog.EventStatusChanged, id, "", map[string]interface{}{"status": status.String()})
	s.emitStatus(StatusEvent{RecordingID: id, Status: status})
}

// finish detaches the recording and closes its sink. ok is false when id is
// not the live recording.
func (s *Session) finish(id uuid.UUID) (wasIdle bool, sinkErr error, ok bool) {
	s.mu.Lock()
	if id != s.recID {
		s.mu.Unlock()
		return false, nil, false
	}
	stream := s.stream
	wasIdle = s.idleReported
	s.clearLocked()
	s.mu.Unlock()

	if stream != nil {
		sinkErr = stream.Close()
	}
	return wasIdle, sinkErr, true
}

func (s *Session) handleCompleted(id uuid.UUID, path string, frames []FrameInfo) {
	wasIdle, sinkErr, ok := s.finish(id)
	if !ok {
		return
	}

	ev := s.logger.Info()
	if sinkErr != nil {
		ev = s.logger.Warn().Err(sinkErr)
	}
	ev.Str("recording_id", id.String()).Str("path", path).Int("frames", len(frames)).Msg("Recording complete")
	s.trace(diaglog.ComponentSession, diaglog.EventRecordingComplete, id, "", map[string]interface{}{
		"path":   path,
		"frames": len(frames),
	})

	if !wasIdle {
		s.emitStatus(StatusEvent{RecordingID: id, Status: StatusIdle})
	}
	s.emitComplete(CompletedEvent{RecordingID: id, Path: path, Frames: frames, SinkError: sinkErr})
}

func (s *Session) handleFailed(id uuid.UUID, message string) {
	wasIdle, sinkErr, ok := s.finish(id)
	if !ok {
		return
	}

	s.logger.Error().Str("recording_id", id.String()).Str("error", message).AnErr("sink_error", sinkErr).Msg("Recording failed")
	s.trace(diaglog.ComponentSession, diaglog.EventRecordingFailed, id, message, nil)

	if !wasIdle {
		s.emitStatus(StatusEvent{RecordingID: id, Status: StatusIdle})
	}
	s.emitFailed(FailedEvent{RecordingID: id, Error: message})
}

func (s *Session) emitStatus(e StatusEvent) {
	s.handlersMu.RLock()
	hs := s.onStatus
	s.handlersMu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}

func (s *Session) emitComplete(e CompletedEvent) {
	s.handlersMu.RLock()
	hs := s.onComplete
	s.handlersMu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}

func (s *Session) emitFailed(e FailedEvent) {
	s.handlersMu.RLock()
	hs := s.onFailed
	s.handlersMu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}

func (s *Session) trace(component, event string, id uuid.UUID, reason string, payload interface{}) {
	if s.diag == nil {
		return
	}
	entry := diaglog.LogEntry{
		Component: component,
		Event:     event,
		Reason:    reason,
		Payload:   payload,
	}
	if id != uuid.Nil {
		entry.SessionID = id.String()
	}
	s.diag.Log(entry)
}
