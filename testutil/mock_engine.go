package testutil

import (
	"sync"

	"github.com/tiroq/screenrec/internal/bridge"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/sink"
)

// MockEngine is a scriptable capture engine. It records every request and
// lets tests fire engine notifications from any goroutine.
type MockEngine struct {
	mu sync.Mutex

	StartErr  error
	PauseErr  error
	ResumeErr error
	StopErr   error
	CloseErr  error

	// OnStop, when set, runs on a new goroutine after an accepted Stop, the
	// way a real engine finalises in the background.
	OnStop func(m *MockEngine)

	calls   []string
	cb      bridge.Callbacks
	history []bridge.Callbacks
	stream  sink.Stream
	opts    options.Options
	closed  bool
}

// NewMockEngine returns an engine that accepts every request.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) Name() string { return "mock" }

func (m *MockEngine) Start(stream sink.Stream, opts options.Options, cb bridge.Callbacks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start")
	if m.StartErr != nil {
		return m.StartErr
	}
	m.stream = stream
	m.opts = opts
	m.cb = cb
	m.history = append(m.history, cb)
	return nil
}

func (m *MockEngine) Pause() error {
	return m.request("pause", m.PauseErr)
}

func (m *MockEngine) Resume() error {
	return m.request("resume", m.ResumeErr)
}

func (m *MockEngine) Stop() error {
	if err := m.request("stop", m.StopErr); err != nil {
		return err
	}
	m.mu.Lock()
	onStop := m.OnStop
	m.mu.Unlock()
	if onStop != nil {
		go onStop(m)
	}
	return nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "close")
	m.closed = true
	return m.CloseErr
}

func (m *MockEngine) request(name string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	return err
}

// Calls returns the requests received so far, in order.
func (m *MockEngine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stream returns the stream handed to the last accepted Start.
func (m *MockEngine) Stream() sink.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Options returns the options handed to the last accepted Start.
func (m *MockEngine) Options() options.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Callbacks returns the callbacks of the recording started n-th (0-based).
func (m *MockEngine) Callbacks(n int) bridge.Callbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[n]
}

func (m *MockEngine) current() bridge.Callbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}

// FireStatus reports a status code on the current recording.
func (m *MockEngine) FireStatus(code int) {
	m.current().Status(code)
}

// FireCompleted finishes the current recording.
func (m *MockEngine) FireCompleted(path string, frames []bridge.FrameDelay) {
	m.current().Completed(path, frames)
}

// FireFailed aborts the current recording.
func (m *MockEngine) FireFailed(message string) {
	m.current().Failed(message)
}
