package commands

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/fileutil"
	"github.com/tiroq/screenrec/internal/ipc"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/recorder"
)

// controller ties one recording of the record command to the status file,
// the command file and the metadata sidecar.
type controller struct {
	session   *recorder.Session
	connected func() bool
	zl        zerolog.Logger
	diag      *diaglog.Logger
	metadata  bool

	mu         sync.Mutex
	recID      uuid.UUID
	opts       options.Options // effective options of the recording
	output     string
	startedAt  time.Time
	frames     []ipc.FrameEntry
	lastAction string
	lastError  string
	err        error

	done     chan struct{}
	doneOnce sync.Once
}

func newController(s *recorder.Session, connected func() bool, zl zerolog.Logger, diag *diaglog.Logger) *controller {
	c := &controller{
		session:   s,
		connected: connected,
		zl:        zl,
		diag:      diag,
		metadata:  true,
		done:      make(chan struct{}),
	}
	s.OnStatusChanged(c.onStatus)
	s.OnRecordingComplete(c.onComplete)
	s.OnRecordingFailed(c.onFailed)
	return c
}

// Done is closed once the recording completed or failed.
func (c *controller) Done() <-chan struct{} { return c.done }

// Err is the failure that ended the recording, if any.
func (c *controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *controller) startPath(path string) error {
	c.mu.Lock()
	c.output = path
	c.startedAt = time.Now()
	c.opts = c.session.Options()
	c.mu.Unlock()
	return c.started(c.session.Start(path))
}

func (c *controller) startStream(w io.Writer) error {
	c.mu.Lock()
	c.startedAt = time.Now()
	c.opts = c.session.Options()
	c.mu.Unlock()
	return c.started(c.session.StartStream(w))
}

func (c *controller) started(err error) error {
	if err != nil {
		c.record("start", err)
		return err
	}
	// A snapshot can finish before Start returns; keep what the terminal
	// event already recorded.
	c.mu.Lock()
	if id := c.session.RecordingID(); id != uuid.Nil {
		c.recID = id
		c.opts = c.session.EffectiveOptions()
	}
	if c.lastAction == "" {
		c.lastAction = "start"
	}
	id, mode := c.recID, c.opts.Mode
	c.mu.Unlock()
	c.writeStatus()
	c.zl.Info().
		Str("recording_id", id.String()).
		Str("mode", mode.String()).
		Msg("Recording started")
	return nil
}

// handleCommand runs one control command and reports whether the process
// should exit.
func (c *controller) handleCommand(cmd ipc.Command) bool {
	c.zl.Info().Str("command", string(cmd)).Msg("Received command")
	c.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentCLI, Event: "command_received", Reason: string(cmd)})

	var err error
	switch cmd {
	case ipc.CmdPause:
		err = c.session.Pause()
	case ipc.CmdResume:
		err = c.session.Resume()
	case ipc.CmdStop:
		err = c.session.Stop()
	case ipc.CmdQuit:
		if st := c.session.Status(); st == recorder.StatusRecording || st == recorder.StatusPaused {
			err = c.session.Stop()
		}
		c.record(string(cmd), err)
		return true
	default:
		c.zl.Warn().Str("command", string(cmd)).Msg("Unknown command")
		return false
	}
	c.record(string(cmd), err)
	return false
}

func (c *controller) record(action string, err error) {
	c.mu.Lock()
	c.lastAction = action
	if err != nil {
		c.lastError = err.Error()
	}
	c.mu.Unlock()
	if err != nil {
		c.zl.Warn().Err(err).Str("action", action).Msg("Request rejected")
	}
	c.writeStatus()
}

func (c *controller) onStatus(ev recorder.StatusEvent) {
	c.zl.Debug().Str("status", ev.Status.String()).Msg("Status changed")
	c.writeStatus()
}

func (c *controller) onComplete(ev recorder.CompletedEvent) {
	frames := make([]ipc.FrameEntry, len(ev.Frames))
	for i, f := range ev.Frames {
		frames[i] = ipc.FrameEntry{Path: f.Path, DelayMs: f.Delay.Milliseconds()}
	}

	c.mu.Lock()
	c.recID = ev.RecordingID
	c.frames = frames
	c.lastAction = "completed"
	if ev.SinkError != nil {
		c.lastError = ev.SinkError.Error()
	}
	c.mu.Unlock()

	log := c.zl.Info().Str("path", ev.Path).Int("frames", len(frames))
	if ev.SinkError != nil {
		log = c.zl.Warn().Err(ev.SinkError).Str("path", ev.Path)
	}
	log.Msg("Recording complete")

	c.writeMetadata("completed", "", ev.SinkError)
	c.finish(nil)
}

func (c *controller) onFailed(ev recorder.FailedEvent) {
	c.mu.Lock()
	c.recID = ev.RecordingID
	c.lastAction = "failed"
	c.lastError = ev.Error
	c.mu.Unlock()

	c.zl.Error().Str("error", ev.Error).Msg("Recording failed")
	c.writeMetadata("failed", ev.Error, nil)
	c.finish(errors.New(ev.Error))
}

func (c *controller) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.writeStatus()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *controller) writeMetadata(result, failure string, sinkErr error) {
	c.mu.Lock()
	output := c.output
	start := c.startedAt
	recID := c.recID
	opts := c.opts
	frames := append([]ipc.FrameEntry(nil), c.frames...)
	c.mu.Unlock()

	if !c.metadata || output == "" {
		return
	}
	if _, err := os.Stat(output); err != nil {
		c.zl.Debug().Str("path", output).Msg("No output on disk, skipping metadata")
		return
	}

	meta := &fileutil.RecordingMetadata{
		Version:     Version,
		RecordingID: recID.String(),
		Engine:      c.session.Engine().Name(),
		OutputFile:  output,
		Result:      result,
		Error:       failure,
	}
	if sinkErr != nil {
		meta.SinkError = sinkErr.Error()
	}
	meta.SetTimes(start, time.Now())
	if err := meta.SetOptions(opts); err != nil {
		c.zl.Warn().Err(err).Msg("Failed to encode options for metadata")
	}
	for _, f := range frames {
		meta.Frames = append(meta.Frames, fileutil.FrameMeta{Path: f.Path, DelayMs: f.DelayMs})
	}

	path, err := fileutil.WriteMetadata(output, meta)
	if err != nil {
		c.zl.Warn().Err(err).Msg("Failed to write metadata")
		return
	}
	c.zl.Info().Str("path", path).Msg("Wrote metadata")
}

func (c *controller) snapshot() *ipc.StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &ipc.StatusSnapshot{
		PID:             os.Getpid(),
		Status:          c.session.Status().String(),
		ConfirmedStatus: c.session.ConfirmedStatus().String(),
		Mode:            c.opts.Mode.String(),
		OutputPath:      c.output,
		StartedAt:       c.startedAt,
		DurationMs:      c.session.Duration().Milliseconds(),
		Frames:          c.frames,
		LastAction:      c.lastAction,
		LastError:       c.lastError,
		Timestamp:       time.Now(),
	}
	if c.recID != uuid.Nil {
		st.RecordingID = c.recID.String()
	}
	if c.connected != nil {
		st.OBSConnected = c.connected()
	}
	return st
}

func (c *controller) writeStatus() {
	if err := ipc.WriteStatus(c.snapshot()); err != nil {
		c.zl.Warn().Err(err).Msg("Failed to write status")
	}
}

// shutdown stops an active recording and waits for the engine to finish.
func (c *controller) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := c.session.Close(ctx)
	c.writeStatus()
	return err
}
