// Package bridge relays capture-engine notifications, which arrive on engine
// goroutines, into a recorder's event handlers. Each recording pins a set of
// callbacks in a Registry; the engine may call them until it has delivered
// exactly one terminal notification, after which the pin releases itself.
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/statemachine"
)

// FrameDelay is one slideshow frame as the engine reports it.
type FrameDelay struct {
	Path    string
	DelayMs int
}

// FrameInfo is one slideshow frame as subscribers see it.
type FrameInfo struct {
	Path  string
	Delay time.Duration
}

// Callbacks are the functions the engine invokes. They are bound to a single
// pin and may be called from any goroutine.
type Callbacks struct {
	Status    func(code int)
	Completed func(path string, frames []FrameDelay)
	Failed    func(message string)
}

// Handlers receive translated notifications, synchronously on the engine's
// goroutine. They must not block.
type Handlers struct {
	Status    func(id uuid.UUID, status statemachine.Status)
	Completed func(id uuid.UUID, path string, frames []FrameInfo)
	Failed    func(id uuid.UUID, message string)
}

// Bridge owns the translation thunks for one recorder.
type Bridge struct {
	handlers Handlers
	reg      *Registry

	mu     sync.Mutex
	active *Pin

	logger zerolog.Logger
	diag   *diaglog.Logger
}

// New creates a bridge delivering into h. A nil registry gets a private one.
func New(h Handlers, reg *Registry) *Bridge {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Bridge{
		handlers: h,
		reg:      reg,
		logger:   zerolog.Nop(),
	}
}

// SetLogger sets the operational logger.
func (b *Bridge) SetLogger(l zerolog.Logger) {
	b.logger = l
}

// SetDiagLogger injects a diaglog.Logger. Passing nil disables tracing.
func (b *Bridge) SetDiagLogger(l *diaglog.Logger) {
	b.diag = l
}

// Registry returns the registry pins are held in.
func (b *Bridge) Registry() *Registry {
	return b.reg
}

// Pin registers a fresh set of callbacks for one recording. It fails with
// ErrPinActive while a previous recording has not reached its terminal
// notification or been released.
func (b *Bridge) Pin() (*Pin, Callbacks, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		return nil, Callbacks{}, ErrPinActive
	}

	p := newPin(b.reg, b.released)
	b.active = p
	id := p.id

	cb := Callbacks{
		Status:    func(code int) { b.onStatus(id, code) },
		Completed: func(path string, frames []FrameDelay) { b.onCompleted(id, path, frames) },
		Failed:    func(message string) { b.onFailed(id, message) },
	}

	b.trace(diaglog.EventPinAcquired, id, "", nil)
	return p, cb, nil
}

// Active returns the pin of the live recording, if any.
func (b *Bridge) Active() *Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Bridge) detach(p *Pin) {
	b.mu.Lock()
	if b.active == p {
		b.active = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) released(p *Pin) {
	b.detach(p)
	b.trace(diaglog.EventPinReleased, p.id, "", nil)
}

// enter resolves id to a live pin and registers the invocation.
func (b *Bridge) enter(id uuid.UUID, kind string) (*Pin, bool) {
	p, ok := b.reg.Lookup(id)
	if !ok || !p.enter() {
		b.late(id, kind, ErrUnpinned.Error())
		return nil, false
	}
	return p, true
}

func (b *Bridge) onStatus(id uuid.UUID, code int) {
	p, ok := b.enter(id, "status")
	if !ok {
		return
	}
	defer p.exit()
	defer b.recoverHandler(id, "status")

	if p.Terminal() {
		b.late(id, "status", "status after terminal notification")
		return
	}
	status, known := statemachine.FromCode(code)
	if !known {
		b.logger.Warn().Str("recording_id", id.String()).Int("code", code).Msg("Dropping unknown engine status code")
		b.trace(diaglog.EventLateCallback, id, "unknown_status_code", map[string]interface{}{"code": code})
		return
	}
	if b.handlers.Status != nil {
		b.handlers.Status(id, status)
	}
}

func (b *Bridge) onCompleted(id uuid.UUID, path string, frames []FrameDelay) {
	p, ok := b.enter(id, "completed")
	if !ok {
		return
	}
	defer p.exit()
	defer b.recoverHandler(id, "completed")

	if !p.markTerminal() {
		b.late(id, "completed", "duplicate terminal notification")
		return
	}
	b.detach(p)

	infos := make([]FrameInfo, len(frames))
	for i, f := range frames {
		infos[i] = FrameInfo{Path: f.Path, Delay: time.Duration(f.DelayMs) * time.Millisecond}
	}
	if b.handlers.Completed != nil {
		b.handlers.Completed(id, path, infos)
	}
}

func (b *Bridge) onFailed(id uuid.UUID, message string) {
	p, ok := b.enter(id, "failed")
	if !ok {
		return
	}
	defer p.exit()
	defer b.recoverHandler(id, "failed")

	if !p.markTerminal() {
		b.late(id, "failed", "duplicate terminal notification")
		return
	}
	b.detach(p)

	if b.handlers.Failed != nil {
		b.handlers.Failed(id, message)
	}
}

// recoverHandler keeps a panicking subscriber from unwinding into the engine.
func (b *Bridge) recoverHandler(id uuid.UUID, kind string) {
	if r := recover(); r != nil {
		b.logger.Error().
			Str("recording_id", id.String()).
			Str("callback", kind).
			Str("panic", fmt.Sprint(r)).
			Msg("Event handler panicked")
	}
}

func (b *Bridge) late(id uuid.UUID, kind, reason string) {
	b.logger.Debug().Str("recording_id", id.String()).Str("callback", kind).Str("reason", reason).Msg("Dropped engine callback")
	b.trace(diaglog.EventLateCallback, id, reason, map[string]interface{}{"callback": kind})
}

func (b *Bridge) trace(event string, id uuid.UUID, reason string, payload interface{}) {
	if b.diag == nil {
		return
	}
	b.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentBridge,
		Event:     event,
		SessionID: id.String(),
		Reason:    reason,
		Payload:   payload,
	})
}
