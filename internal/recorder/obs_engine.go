package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiroq/screenrec/internal/bridge"
	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/obsws"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/sink"
	"github.com/tiroq/screenrec/internal/statemachine"
	"github.com/tiroq/screenrec/internal/validation"
)

// ErrEngineBusy is returned by Start while the engine still owns a recording.
var ErrEngineBusy = errors.New("engine already recording")

const defaultStopGrace = 5 * time.Second

// OBSOption configures an OBSEngine.
type OBSOption func(*OBSEngine)

// WithStopGrace bounds how long the engine waits for OBS's STOPPED event
// after StopRecord before finalising from the StopRecord response.
func WithStopGrace(d time.Duration) OBSOption {
	return func(e *OBSEngine) { e.stopGrace = d }
}

// WithEngineLogger sets the operational logger.
func WithEngineLogger(l zerolog.Logger) OBSOption {
	return func(e *OBSEngine) { e.logger = l }
}

// WithEngineDiagLogger enables NDJSON tracing.
func WithEngineDiagLogger(l *diaglog.Logger) OBSOption {
	return func(e *OBSEngine) { e.diag = l }
}

type ctrl int

const (
	ctrlPause ctrl = iota
	ctrlResume
	ctrlStop
)

// obsRecording is one accepted Start.
type obsRecording struct {
	mode    options.Mode
	stream  sink.Stream
	opts    options.Options
	cb      bridge.Callbacks
	obsPath string
	ctrl    chan ctrl
	done    chan struct{} // closed once the recording is finalised or abandoned
}

// OBSEngine captures through a running OBS instance. Video mode drives OBS's
// record output and copies the finished file into the sink. Snapshot and
// slideshow modes are built from program-scene screenshots.
//
// Callbacks are delivered in order on a dedicated goroutine, never on the
// websocket reader, so subscribers may call back into the session.
type OBSEngine struct {
	client    *obsws.Client
	stopGrace time.Duration
	logger    zerolog.Logger
	diag      *diaglog.Logger

	mu     sync.Mutex
	rec    *obsRecording
	closed bool
	wg     sync.WaitGroup

	queue      chan func()
	quit       chan struct{}
	dispatched chan struct{}

	cbMu     sync.RWMutex
	cbClosed bool
}

// NewOBSEngine wraps a connected client. The engine takes over the client's
// record-state and disconnect handlers.
func NewOBSEngine(client *obsws.Client, opts ...OBSOption) *OBSEngine {
	e := &OBSEngine{
		client:     client,
		stopGrace:  defaultStopGrace,
		logger:     zerolog.Nop(),
		queue:      make(chan func(), 64),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	client.OnRecordStateChanged(e.onRecordState)
	client.OnDisconnected(e.onDisconnected)
	go e.dispatchLoop()
	return e
}

func (e *OBSEngine) Name() string { return "obs" }

// Preflight checks the OBS and websocket plugin versions.
func (e *OBSEngine) Preflight() error {
	obsVersion, wsVersion, err := e.client.GetVersion()
	if err != nil {
		return fmt.Errorf("failed to query OBS version: %w", err)
	}
	r := validation.CheckOBSHealth(obsVersion, wsVersion)
	if !r.OK {
		return fmt.Errorf("%s: %s", r.Message, strings.Join(r.Fixes, "; "))
	}
	for _, w := range r.Warnings {
		e.logger.Warn().Msg(w)
	}
	e.logger.Info().Str("obs_version", obsVersion).Str("ws_version", wsVersion).Msg(r.Message)
	return nil
}

// programScene returns the scene frames are taken from.
func (e *OBSEngine) programScene() (string, error) {
	scene, err := e.client.GetCurrentProgramScene()
	if err != nil {
		return "", err
	}
	if r := validation.ValidateSceneExists(scene); !r.OK {
		return "", fmt.Errorf("%s: %s", r.Message, strings.Join(r.Fixes, "; "))
	}
	return scene, nil
}

// Start begins a capture into stream.
func (e *OBSEngine) Start(stream sink.Stream, opts options.Options, cb bridge.Callbacks) error {
	if err := validation.CheckOptions(opts); err != nil {
		return err
	}
	if !e.client.IsConnected() {
		return obsws.ErrNotConnected
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.rec != nil {
		e.mu.Unlock()
		return ErrEngineBusy
	}
	e.mu.Unlock()

	rec := &obsRecording{
		mode:   opts.Mode,
		stream: stream,
		opts:   opts,
		cb:     cb,
		ctrl:   make(chan ctrl, 4),
		done:   make(chan struct{}),
	}

	switch opts.Mode {
	case options.ModeVideo:
		if err := e.prepareVideo(opts); err != nil {
			return err
		}
		// Register before StartRecord so the STARTED event finds the recording.
		if err := e.install(rec); err != nil {
			return err
		}
		if err := e.client.StartRecord(); err != nil {
			e.take(rec)
			return err
		}

	case options.ModeSnapshot:
		if err := e.install(rec); err != nil {
			return err
		}
		if !e.track(func() { e.runSnapshot(rec) }) {
			e.take(rec)
			return ErrClosed
		}

	case options.ModeSlideshow:
		fs, ok := stream.(sink.FrameSink)
		if !ok {
			return fmt.Errorf("%w: slideshow needs a frame directory", ErrUnsupportedConfiguration)
		}
		if err := e.install(rec); err != nil {
			return err
		}
		if !e.track(func() { e.runSlideshow(rec, fs) }) {
			e.take(rec)
			return ErrClosed
		}
	}

	e.logger.Info().Str("mode", opts.Mode.String()).Str("output", stream.Name()).Msg("OBS capture started")
	e.trace(diaglog.EventRecordingStart, "", map[string]interface{}{"mode": opts.Mode.String()})
	return nil
}

// prepareVideo pushes frame rate, bitrate, sources and crop to OBS. Settings
// OBS refuses while another output is live are logged and skipped.
func (e *OBSEngine) prepareVideo(opts options.Options) error {
	if err := e.client.SetFramerate(opts.Video.Framerate); err != nil {
		e.logger.Warn().Err(err).Int("fps", opts.Video.Framerate).Msg("OBS refused frame rate")
	}
	if err := e.client.SetRecordBitrate(opts.Video.Bitrate / 1000); err != nil {
		e.logger.Warn().Err(err).Int("bitrate", opts.Video.Bitrate).Msg("OBS refused bitrate")
	}

	cs, err := e.client.EnsureCaptureSources(opts.Display.Monitor, opts.Audio.Enabled)
	if err != nil {
		return err
	}

	if c := opts.Display.Crop; c != nil && !c.Empty() {
		vs, err := e.client.GetVideoSettings()
		if err != nil {
			return err
		}
		right := max(vs.BaseWidth-c.Right, 0)
		bottom := max(vs.BaseHeight-c.Bottom, 0)
		if err := e.client.SetSceneItemCrop(cs.Scene, cs.DisplayItemID, c.Left, c.Top, right, bottom); err != nil {
			return err
		}
	}
	return nil
}

func (e *OBSEngine) install(rec *obsRecording) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.rec != nil {
		return ErrEngineBusy
	}
	e.rec = rec
	return nil
}

// take detaches rec. Only the first caller for a recording gets true, which
// makes it the one to deliver the terminal notification.
func (e *OBSEngine) take(rec *obsRecording) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != rec {
		return false
	}
	e.rec = nil
	close(rec.done)
	return true
}

func (e *OBSEngine) current() *obsRecording {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// track runs fn on a goroutine Close waits for. It refuses once closed.
func (e *OBSEngine) track(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *OBSEngine) Pause() error {
	return e.control(ctrlPause)
}

func (e *OBSEngine) Resume() error {
	return e.control(ctrlResume)
}

func (e *OBSEngine) Stop() error {
	return e.control(ctrlStop)
}

func (e *OBSEngine) control(c ctrl) error {
	rec := e.current()
	if rec == nil {
		return fmt.Errorf("no active capture")
	}

	switch rec.mode {
	case options.ModeVideo:
		return e.controlVideo(rec, c)
	case options.ModeSnapshot:
		if c == ctrlStop {
			// A snapshot finishes by itself.
			return nil
		}
		return fmt.Errorf("%w: snapshot cannot be paused", ErrUnsupportedConfiguration)
	default:
		select {
		case rec.ctrl <- c:
			return nil
		case <-rec.done:
			return fmt.Errorf("no active capture")
		}
	}
}

func (e *OBSEngine) controlVideo(rec *obsRecording, c ctrl) error {
	switch c {
	case ctrlPause:
		if err := e.client.PauseRecord(); err != nil {
			return err
		}
		e.trace(diaglog.EventRecordingPause, "", nil)
	case ctrlResume:
		if err := e.client.ResumeRecord(); err != nil {
			return err
		}
		e.trace(diaglog.EventRecordingResume, "", nil)
	case ctrlStop:
		path, err := e.client.StopRecord("user_stop")
		if err != nil {
			return err
		}
		e.mu.Lock()
		if rec.obsPath == "" {
			rec.obsPath = path
		}
		e.mu.Unlock()
		e.trace(diaglog.EventRecordingStop, "user_stop", map[string]interface{}{"obs_path": path})

		// Finalise from the response if the STOPPED event never shows up.
		e.track(func() {
			select {
			case <-rec.done:
			case <-time.After(e.stopGrace):
				e.logger.Warn().Dur("grace", e.stopGrace).Msg("No STOPPED event from OBS, finalising from StopRecord response")
				e.finalizeVideo(rec, path)
			}
		})
	}
	return nil
}

// onRecordState runs on the websocket reader goroutine.
func (e *OBSEngine) onRecordState(ev obsws.RecordStateEvent) {
	rec := e.current()
	if rec == nil || rec.mode != options.ModeVideo {
		return
	}

	switch ev.State {
	case obsws.OutputStarted, obsws.OutputResumed:
		e.status(rec, statemachine.Recording)
	case obsws.OutputPaused:
		e.status(rec, statemachine.Paused)
	case obsws.OutputStopping:
		e.status(rec, statemachine.Finishing)
	case obsws.OutputStopped:
		path := ev.Path
		if path == "" {
			e.mu.Lock()
			path = rec.obsPath
			e.mu.Unlock()
		}
		e.track(func() { e.finalizeVideo(rec, path) })
	}
}

// finalizeVideo copies the file OBS wrote into the sink.
func (e *OBSEngine) finalizeVideo(rec *obsRecording, obsPath string) {
	if !e.take(rec) {
		return
	}

	if obsPath == "" {
		e.failed(rec, "OBS did not report an output file")
		return
	}
	n, err := copyFile(rec.stream, obsPath)
	if err != nil {
		e.failed(rec, fmt.Sprintf("failed to copy OBS output %s: %v", obsPath, err))
		return
	}

	e.logger.Info().Str("obs_path", obsPath).Int64("bytes", n).Str("output", rec.stream.Name()).Msg("OBS recording copied")
	e.completed(rec, rec.stream.Name(), nil)
}

func copyFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}

// onDisconnected runs on the websocket reader goroutine.
func (e *OBSEngine) onDisconnected() {
	rec := e.current()
	if rec == nil || !e.take(rec) {
		return
	}
	e.logger.Error().Str("mode", rec.mode.String()).Msg("Lost connection to OBS during capture")
	e.failed(rec, "lost connection to OBS")
}

func screenshotFormat(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "jpg"
	case ".bmp":
		return "bmp"
	default:
		return "png"
	}
}

func (e *OBSEngine) runSnapshot(rec *obsRecording) {
	e.status(rec, statemachine.Recording)

	scene, err := e.programScene()
	if err != nil {
		e.fail(rec, err)
		return
	}
	img, err := e.client.GetSourceScreenshot(scene, screenshotFormat(rec.stream.Name()), 0, 0)
	if err != nil {
		e.fail(rec, err)
		return
	}
	if _, err := rec.stream.Write(img); err != nil {
		e.fail(rec, err)
		return
	}

	e.status(rec, statemachine.Finishing)
	if e.take(rec) {
		e.completed(rec, rec.stream.Name(), nil)
	}
}

// runSlideshow takes one screenshot per frame interval until stopped. Each
// frame's delay is the time since the previous frame; the first is 0.
func (e *OBSEngine) runSlideshow(rec *obsRecording, fs sink.FrameSink) {
	scene, err := e.programScene()
	if err != nil {
		e.fail(rec, err)
		return
	}

	interval := time.Second / time.Duration(rec.opts.Video.Framerate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.status(rec, statemachine.Recording)

	var frames []bridge.FrameDelay
	var last time.Time
	paused := false

	for {
		select {
		case <-rec.done:
			return

		case c := <-rec.ctrl:
			switch c {
			case ctrlPause:
				paused = true
				e.status(rec, statemachine.Paused)
			case ctrlResume:
				paused = false
				e.status(rec, statemachine.Recording)
			case ctrlStop:
				e.status(rec, statemachine.Finishing)
				if e.take(rec) {
					e.completed(rec, rec.stream.Name(), frames)
				}
				return
			}

		case now := <-ticker.C:
			if paused {
				continue
			}
			img, err := e.client.GetSourceScreenshot(scene, "png", 0, 0)
			if err != nil {
				e.fail(rec, err)
				return
			}
			path, err := writeFrame(fs, fmt.Sprintf("frame-%05d.png", len(frames)), img)
			if err != nil {
				e.fail(rec, err)
				return
			}
			delay := 0
			if !last.IsZero() {
				delay = int(now.Sub(last) / time.Millisecond)
			}
			last = now
			frames = append(frames, bridge.FrameDelay{Path: path, DelayMs: delay})
			e.trace(diaglog.EventFrameCaptured, "", map[string]interface{}{"path": path, "delay_ms": delay})
		}
	}
}

func writeFrame(fs sink.FrameSink, name string, img []byte) (string, error) {
	w, path, err := fs.CreateFrame(name)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(img); err != nil {
		_ = w.Close()
		return "", err
	}
	return path, w.Close()
}

// Close abandons any live capture without a terminal notification, waits
// for background work and stops callback delivery. OBS's record output is
// stopped if it is still running. Close must not be called from a callback.
func (e *OBSEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	rec := e.rec
	if rec != nil {
		e.rec = nil
		close(rec.done)
	}
	e.mu.Unlock()

	if rec != nil && rec.mode == options.ModeVideo && e.client.IsConnected() {
		if _, err := e.client.StopRecord("teardown"); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to stop OBS recording during teardown")
		}
	}

	e.client.OnRecordStateChanged(nil)
	e.client.OnDisconnected(nil)

	e.wg.Wait()
	close(e.quit)
	<-e.dispatched

	e.cbMu.Lock()
	e.cbClosed = true
	e.cbMu.Unlock()
	return nil
}

// ── callback delivery ────────────────────────────────────────────────────────

func (e *OBSEngine) dispatchLoop() {
	defer close(e.dispatched)
	for {
		select {
		case fn := <-e.queue:
			e.fire(fn)
		case <-e.quit:
			return
		}
	}
}

func (e *OBSEngine) dispatch(fn func()) {
	select {
	case e.queue <- fn:
	case <-e.quit:
	}
}

func (e *OBSEngine) fire(fn func()) {
	e.cbMu.RLock()
	defer e.cbMu.RUnlock()
	if e.cbClosed {
		return
	}
	fn()
}

func (e *OBSEngine) status(rec *obsRecording, s statemachine.Status) {
	e.dispatch(func() { rec.cb.Status(int(s)) })
}

func (e *OBSEngine) completed(rec *obsRecording, path string, frames []bridge.FrameDelay) {
	e.trace(diaglog.EventRecordingComplete, "", map[string]interface{}{"path": path, "frames": len(frames)})
	e.dispatch(func() { rec.cb.Completed(path, frames) })
}

func (e *OBSEngine) failed(rec *obsRecording, msg string) {
	e.trace(diaglog.EventRecordingFailed, msg, nil)
	e.dispatch(func() { rec.cb.Failed(msg) })
}

// fail reports err as the terminal notification if rec is still live.
func (e *OBSEngine) fail(rec *obsRecording, err error) {
	if e.take(rec) {
		e.failed(rec, err.Error())
	}
}

func (e *OBSEngine) trace(event, reason string, payload interface{}) {
	if e.diag == nil {
		return
	}
	e.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOBSEngine,
		Event:     event,
		Reason:    reason,
		Payload:   payload,
	})
}
