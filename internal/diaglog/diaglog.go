// Package diaglog provides structured NDJSON diagnostic logging for screenrec.
// Activated by SCREENREC_DEBUG_RECORDING=true. When the env var is absent, all
// Log calls are no-ops and no file is created.
package diaglog

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentSession   = "session"
	ComponentBridge    = "callback-bridge"
	ComponentSink      = "stream-adapter"
	ComponentOBSClient = "obs-ws-client"
	ComponentOBSEngine = "obs-engine"
	ComponentReconnect = "reconnect-handler"
	ComponentCLI       = "screenrec-cli"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventWSSend             = "ws_send"
	EventWSRecv             = "ws_recv"
	EventWSConnect          = "ws_connect"
	EventWSDisconnect       = "ws_disconnect"
	EventWSReconnectAttempt = "ws_reconnect_attempt"
	EventWSReconnectSuccess = "ws_reconnect_success"
	EventWSReconnectFailed  = "ws_reconnect_failed"
	EventRecordingStart     = "recording_start"
	EventRecordingPause     = "recording_pause"
	EventRecordingResume    = "recording_resume"
	EventRecordingStop      = "recording_stop"
	EventRequestRejected    = "request_rejected"
	EventStatusChanged      = "status_changed"
	EventRecordingComplete  = "recording_complete"
	EventRecordingFailed    = "recording_failed"
	EventLateCallback       = "late_callback"
	EventPinAcquired        = "pin_acquired"
	EventPinReleased        = "pin_released"
	EventFastStartDisabled  = "fast_start_disabled"
	EventFrameCaptured      = "frame_captured"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`                   // RFC3339Nano
	Component string      `json:"component"`            // see Component* constants
	Event     string      `json:"event"`                // see Event* constants
	SessionID string      `json:"session_id,omitempty"` // recording id
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// maxLogSize is the size at which the log rotates to its backup.
const maxLogSize = 10 * 1024 * 1024

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rolling NDJSON file through zerolog.
// When debug mode is disabled every Log call is a no-op.
type Logger struct {
	rw      *rollingWriter
	zl      zerolog.Logger
	mu      sync.Mutex
	enabled bool
}

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, maxLogSize)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, zl: zerolog.New(rw), enabled: true}, nil
}

// Log writes entry as one JSON line. Sensitive payload fields are redacted
// before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev := l.zl.Log().
		Str("ts", entry.Timestamp).
		Str("component", entry.Component).
		Str("event", entry.Event)
	if entry.SessionID != "" {
		ev = ev.Str("session_id", entry.SessionID)
	}
	if entry.Reason != "" {
		ev = ev.Str("reason", entry.Reason)
	}
	if entry.Payload != nil {
		ev = ev.Interface("payload", Redact(entry.Payload))
	}
	ev.Send()
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether SCREENREC_DEBUG_RECORDING is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("SCREENREC_DEBUG_RECORDING") == "true"
}

// LogPath returns SCREENREC_LOG_PATH or the default debug log location.
func LogPath() string {
	if p := os.Getenv("SCREENREC_LOG_PATH"); p != "" {
		return p
	}
	return "/tmp/screenrec-debug.log"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
