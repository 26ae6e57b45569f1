package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrPinActive is returned by Pin when a recording is already pinned.
	ErrPinActive = errors.New("callbacks already pinned for a live recording")
	// ErrUnpinned marks an engine invocation that arrived for a released pin.
	ErrUnpinned = errors.New("callback invoked on released pin")
	// ErrDrainTimeout is returned by Release when in-flight callbacks did not
	// return before the deadline.
	ErrDrainTimeout = errors.New("timed out waiting for in-flight callbacks")
)

// Registry holds every pin the engine may still call into, keyed by
// recording id. Callbacks resolve their pin through it on each invocation.
type Registry struct {
	mu   sync.RWMutex
	pins map[uuid.UUID]*Pin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pins: make(map[uuid.UUID]*Pin)}
}

// Lookup returns the live pin for id.
func (r *Registry) Lookup(id uuid.UUID) (*Pin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pins[id]
	return p, ok
}

// Len returns the number of registered pins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pins)
}

func (r *Registry) add(p *Pin) {
	r.mu.Lock()
	r.pins[p.id] = p
	r.mu.Unlock()
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.pins, id)
	r.mu.Unlock()
}

// Pin keeps one recording's callbacks registered until the engine has
// delivered its terminal notification and every invocation has returned.
type Pin struct {
	id  uuid.UUID
	reg *Registry

	mu        sync.Mutex
	inflight  int
	terminal  bool
	closing   bool
	released  bool
	drained   chan struct{}
	done      chan struct{}
	onRelease func(*Pin)
}

func newPin(reg *Registry, onRelease func(*Pin)) *Pin {
	p := &Pin{
		id:        uuid.New(),
		reg:       reg,
		done:      make(chan struct{}),
		onRelease: onRelease,
	}
	reg.add(p)
	return p
}

// ID returns the recording id the pin is registered under.
func (p *Pin) ID() uuid.UUID {
	return p.id
}

// Done is closed once the pin has been released.
func (p *Pin) Done() <-chan struct{} {
	return p.done
}

// Terminal reports whether the engine has delivered completion or failure.
func (p *Pin) Terminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// enter registers an invocation. It fails once the pin is released or closing.
func (p *Pin) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released || p.closing {
		return false
	}
	p.inflight++
	return true
}

// exit ends an invocation and releases the pin when it was the last one after
// a terminal notification.
func (p *Pin) exit() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
	release := p.inflight == 0 && p.terminal && !p.released
	if release {
		p.released = true
	}
	p.mu.Unlock()

	if release {
		p.finish()
	}
}

// markTerminal records the terminal notification. Only the first caller wins.
func (p *Pin) markTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal {
		return false
	}
	p.terminal = true
	return true
}

// Release stops new invocations, waits for in-flight ones to return (bounded
// by ctx), then deregisters the pin. It is safe to call more than once.
func (p *Pin) Release(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	var wait chan struct{}
	if p.inflight > 0 {
		if p.drained == nil {
			p.drained = make(chan struct{})
		}
		wait = p.drained
	}
	p.mu.Unlock()

	var err error
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			err = fmt.Errorf("%w: %w", ErrDrainTimeout, ctx.Err())
		}
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return err
	}
	p.released = true
	p.mu.Unlock()

	p.finish()
	return err
}

func (p *Pin) finish() {
	p.reg.remove(p.id)
	if p.onRelease != nil {
		p.onRelease(p)
	}
	close(p.done)
}
