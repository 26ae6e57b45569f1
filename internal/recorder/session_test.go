package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/screenrec/internal/bridge"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/sink"
	"github.com/tiroq/screenrec/testutil"
)

type events struct {
	mu        sync.Mutex
	statuses  []Status
	completed []CompletedEvent
	failed    []FailedEvent
	order     []string
}

func subscribe(s *Session) *events {
	e := &events{}
	s.OnStatusChanged(func(ev StatusEvent) {
		e.mu.Lock()
		e.statuses = append(e.statuses, ev.Status)
		e.order = append(e.order, "status:"+ev.Status.String())
		e.mu.Unlock()
	})
	s.OnRecordingComplete(func(ev CompletedEvent) {
		e.mu.Lock()
		e.completed = append(e.completed, ev)
		e.order = append(e.order, "completed")
		e.mu.Unlock()
	})
	s.OnRecordingFailed(func(ev FailedEvent) {
		e.mu.Lock()
		e.failed = append(e.failed, ev)
		e.order = append(e.order, "failed")
		e.mu.Unlock()
	})
	return e
}

func (e *events) snapshot() ([]Status, []CompletedEvent, []FailedEvent, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Status(nil), e.statuses...),
		append([]CompletedEvent(nil), e.completed...),
		append([]FailedEvent(nil), e.failed...),
		append([]string(nil), e.order...)
}

func newSession(t *testing.T, opts ...Option) (*Session, *testutil.MockEngine) {
	t.Helper()
	eng := testutil.NewMockEngine()
	s := New(eng, append([]Option{WithTeardownTimeout(time.Second)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, eng
}

func tempOutput(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "out.mp4")
}

type memPlatform struct {
	bytes.Buffer
	commits int
	canSeek bool
}

func (m *memPlatform) Seek(int64, int) (int64, error) { return 0, nil }
func (m *memPlatform) Commit() error                  { m.commits++; return nil }
func (m *memPlatform) Stat() (sink.PlatformStat, error) {
	return sink.PlatformStat{Name: "platform://capture", CanSeek: m.canSeek}, nil
}

func TestNew_DefaultsToIdle(t *testing.T) {
	s, eng := newSession(t)

	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, StatusIdle, s.ConfirmedStatus())
	assert.Equal(t, uuid.Nil, s.RecordingID())
	assert.Equal(t, options.Default(), s.Options())
	assert.Empty(t, eng.Calls())
}

func TestSession_FullLifecycle(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)
	out := tempOutput(t)

	require.NoError(t, s.Start(out))
	assert.Equal(t, StatusRecording, s.Status())
	assert.NotEqual(t, uuid.Nil, s.RecordingID())

	stream := eng.Stream()
	require.NotNil(t, stream)
	assert.Equal(t, sink.KindFile, stream.Kind())
	assert.Equal(t, out, stream.Name())

	eng.FireStatus(int(StatusRecording))
	assert.Equal(t, StatusRecording, s.ConfirmedStatus())

	require.NoError(t, s.Pause())
	assert.Equal(t, StatusPaused, s.Status())
	eng.FireStatus(int(StatusPaused))

	require.NoError(t, s.Resume())
	assert.Equal(t, StatusRecording, s.Status())
	eng.FireStatus(int(StatusRecording))

	require.NoError(t, s.Stop())
	assert.Equal(t, StatusFinishing, s.Status())
	eng.FireStatus(int(StatusFinishing))

	_, err := stream.Write([]byte("mp4"))
	require.NoError(t, err)
	eng.FireCompleted(out, nil)

	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, uuid.Nil, s.RecordingID())
	assert.Equal(t, []string{"start", "pause", "resume", "stop"}, eng.Calls())

	statuses, completed, failed, order := ev.snapshot()
	assert.Equal(t, []Status{StatusRecording, StatusPaused, StatusRecording, StatusFinishing, StatusIdle}, statuses)
	require.Len(t, completed, 1)
	assert.Equal(t, out, completed[0].Path)
	assert.Empty(t, completed[0].Frames)
	assert.NoError(t, completed[0].SinkError)
	assert.Empty(t, failed)
	assert.Equal(t, "completed", order[len(order)-1], "status Idle must precede the completion event")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "mp4", string(data))
}

func TestSession_IllegalRequestsAreRejectedWithoutEngineCall(t *testing.T) {
	s, eng := newSession(t)

	tests := []struct {
		name string
		op   func() error
	}{
		{"pause when idle", s.Pause},
		{"resume when idle", s.Resume},
		{"stop when idle", s.Stop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.ErrorIs(t, err, ErrInvalidState)
			var se *StateError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, StatusIdle, se.Status)
		})
	}
	assert.Empty(t, eng.Calls())

	require.NoError(t, s.Start(tempOutput(t)))
	assert.ErrorIs(t, s.Resume(), ErrInvalidState)
	assert.ErrorIs(t, s.Start(tempOutput(t)), ErrInvalidState)

	require.NoError(t, s.Pause())
	assert.ErrorIs(t, s.Pause(), ErrInvalidState)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrInvalidState, "second stop is a no-op error")
	assert.ErrorIs(t, s.Pause(), ErrInvalidState)
	assert.ErrorIs(t, s.Resume(), ErrInvalidState)
	assert.ErrorIs(t, s.StartStream(&bytes.Buffer{}), ErrInvalidState)

	assert.Equal(t, []string{"start", "pause", "stop"}, eng.Calls())
	assert.Equal(t, StatusFinishing, s.Status())
}

func TestSession_EngineRejectsStart(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)
	eng.StartErr = errors.New("no capture device")

	err := s.Start(tempOutput(t))
	assert.ErrorIs(t, err, ErrEngine)
	assert.Contains(t, err.Error(), "no capture device")
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, uuid.Nil, s.RecordingID())

	statuses, completed, failed, _ := ev.snapshot()
	assert.Empty(t, statuses)
	assert.Empty(t, completed)
	assert.Empty(t, failed)

	eng.StartErr = nil
	require.NoError(t, s.Start(tempOutput(t)), "session must be reusable after a rejected start")
}

func TestSession_EngineRejectsControlRequest(t *testing.T) {
	s, eng := newSession(t)
	require.NoError(t, s.Start(tempOutput(t)))

	eng.PauseErr = errors.New("busy")
	err := s.Pause()
	assert.ErrorIs(t, err, ErrEngine)
	assert.Equal(t, StatusRecording, s.Status(), "rejected request leaves status unchanged")
}

func TestSession_UnavailableSinkFailsFast(t *testing.T) {
	s, eng := newSession(t)

	err := s.Start(filepath.Join(t.TempDir(), "missing", "out.mp4"))
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Empty(t, eng.Calls())

	assert.ErrorIs(t, s.StartStream(nil), ErrSinkUnavailable)
	assert.ErrorIs(t, s.StartPlatformStream(nil), ErrSinkUnavailable)
	assert.Empty(t, eng.Calls())
}

func TestSession_NonSeekableStreamDisablesFastStart(t *testing.T) {
	o := options.Default()
	o.FastStart = true
	s, eng := newSession(t, WithOptions(o))

	var buf bytes.Buffer
	require.NoError(t, s.StartStream(&buf))

	assert.False(t, eng.Options().FastStart)
	assert.False(t, s.EffectiveOptions().FastStart)
	assert.True(t, s.Options().FastStart, "caller's options are not mutated")
	assert.Equal(t, sink.KindWriter, eng.Stream().Kind())

	eng.FireCompleted("", nil)
	assert.Equal(t, StatusIdle, s.Status())
}

func TestSession_SeekableWriterKeepsFastStart(t *testing.T) {
	f, err := os.Create(tempOutput(t))
	require.NoError(t, err)
	defer f.Close()

	s, eng := newSession(t)
	require.NoError(t, s.StartStream(f))
	assert.True(t, eng.Options().FastStart)

	eng.FireCompleted(f.Name(), nil)
	_, err = f.Write([]byte("still open"))
	assert.NoError(t, err, "caller-owned writer must not be closed")
}

func TestSession_SlideshowNeedsDirectory(t *testing.T) {
	o := options.Default()
	o.Mode = options.ModeSlideshow
	s, eng := newSession(t, WithOptions(o))

	err := s.StartStream(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
	assert.Empty(t, eng.Calls())
	assert.Equal(t, StatusIdle, s.Status())
}

func TestSession_SlideshowFrames(t *testing.T) {
	o := options.Default()
	o.Mode = options.ModeSlideshow
	s, eng := newSession(t, WithOptions(o))
	ev := subscribe(s)
	dir := filepath.Join(t.TempDir(), "frames")

	require.NoError(t, s.Start(dir))
	fs, ok := eng.Stream().(sink.FrameSink)
	require.True(t, ok)

	var delays []bridge.FrameDelay
	for i, d := range []int{0, 500, 1000} {
		w, path, err := fs.CreateFrame(fmt.Sprintf("frame-%03d.png", i))
		require.NoError(t, err)
		_, _ = io.WriteString(w, "png")
		require.NoError(t, w.Close())
		delays = append(delays, bridge.FrameDelay{Path: path, DelayMs: d})
	}

	require.NoError(t, s.Stop())
	eng.FireCompleted(dir, delays)

	_, completed, _, _ := ev.snapshot()
	require.Len(t, completed, 1)
	assert.Equal(t, dir, completed[0].Path)
	require.Len(t, completed[0].Frames, 3)
	assert.Equal(t, 500*time.Millisecond, completed[0].Frames[1].Delay)
	for _, f := range completed[0].Frames {
		assert.FileExists(t, f.Path)
		assert.Equal(t, dir, filepath.Dir(f.Path))
	}
}

func TestSession_PlatformStreamCommittedOnCompletion(t *testing.T) {
	o := options.Default()
	o.FastStart = true
	s, eng := newSession(t, WithOptions(o))

	ps := &memPlatform{canSeek: true}
	require.NoError(t, s.StartPlatformStream(ps))
	assert.True(t, eng.Options().FastStart)
	assert.Equal(t, "platform://capture", eng.Stream().Name())

	_, err := eng.Stream().Write([]byte("data"))
	require.NoError(t, err)
	assert.Zero(t, ps.commits)

	eng.FireCompleted("", nil)
	assert.Equal(t, 1, ps.commits)
	assert.Equal(t, "data", ps.String())
}

func TestSession_FailureNotification(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	id := s.RecordingID()
	eng.FireStatus(int(StatusRecording))
	eng.FireFailed("disk full")

	assert.Equal(t, StatusIdle, s.Status())
	statuses, completed, failed, order := ev.snapshot()
	assert.Equal(t, []Status{StatusRecording, StatusIdle}, statuses)
	assert.Empty(t, completed)
	require.Len(t, failed, 1)
	assert.Equal(t, "disk full", failed[0].Error)
	assert.Equal(t, id, failed[0].RecordingID)
	assert.Equal(t, []string{"status:recording", "status:idle", "failed"}, order)
}

func TestSession_EngineReportedIdleIsNotDuplicated(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	eng.FireStatus(int(StatusIdle))
	eng.FireCompleted("", nil)

	statuses, _, _, _ := ev.snapshot()
	assert.Equal(t, []Status{StatusIdle}, statuses)
}

func TestSession_EngineReportedIdleHeldAsFinishing(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	eng.FireStatus(int(StatusIdle))

	assert.Equal(t, StatusFinishing, s.Status())
	assert.Equal(t, StatusIdle, s.ConfirmedStatus())

	var stateErr *StateError
	require.ErrorAs(t, s.Stop(), &stateErr)
	assert.Equal(t, StatusFinishing, stateErr.Status)
	assert.ErrorIs(t, s.Pause(), ErrInvalidState)
	assert.Equal(t, []string{"start"}, eng.Calls())

	eng.FireCompleted("", nil)
	assert.Equal(t, StatusIdle, s.Status())
	statuses, _, _, _ := ev.snapshot()
	assert.Equal(t, []Status{StatusIdle}, statuses)

	require.NoError(t, s.Start(tempOutput(t)))
}

func TestSession_StartBeforeTerminalLeavesOutputUntouched(t *testing.T) {
	s, eng := newSession(t)
	require.NoError(t, s.Start(tempOutput(t)))
	eng.FireStatus(int(StatusIdle))

	other := filepath.Join(t.TempDir(), "keep.mp4")
	require.NoError(t, os.WriteFile(other, []byte("precious"), 0644))

	err := s.Start(other)
	assert.ErrorIs(t, err, ErrInvalidState)
	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)

	data, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, "precious", string(data))

	frames := filepath.Join(t.TempDir(), "frames")
	slides, _ := newSession(t, WithOptions(func() options.Options {
		o := options.Default()
		o.Mode = options.ModeSlideshow
		return o
	}()))
	require.NoError(t, slides.Start(filepath.Join(t.TempDir(), "first")))
	assert.ErrorIs(t, slides.Start(frames), ErrInvalidState)
	assert.NoDirExists(t, frames)
	assert.Equal(t, []string{"start"}, eng.Calls())
}

// stopRacesTerminal delivers the terminal notification while Stop is in
// flight and then reports that nothing was recording.
type stopRacesTerminal struct {
	*testutil.MockEngine
}

func (e stopRacesTerminal) Stop() error {
	done := make(chan struct{})
	go func() {
		e.FireCompleted("", nil)
		close(done)
	}()
	<-done
	return errors.New("no active capture")
}

func TestSession_StopAfterTerminalIsStateError(t *testing.T) {
	eng := stopRacesTerminal{testutil.NewMockEngine()}
	s := New(eng, WithTeardownTimeout(time.Second))
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	require.NoError(t, s.Start(tempOutput(t)))
	err := s.Stop()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NotErrorIs(t, err, ErrEngine)
	assert.Equal(t, StatusIdle, s.Status())
}

func TestSession_CloseFromCompletionHandler(t *testing.T) {
	s, eng := newSession(t)
	closed := make(chan error, 1)
	s.OnRecordingComplete(func(CompletedEvent) {
		start := time.Now()
		err := s.Close(context.Background())
		if time.Since(start) > 500*time.Millisecond {
			err = errors.New("close waited on its own handler")
		}
		closed <- err
	})

	require.NoError(t, s.Start(tempOutput(t)))
	eng.FireCompleted("out.mp4", nil)

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never returned")
	}
	assert.True(t, eng.Closed())
}

func TestSession_EngineStatusOverridesOptimistic(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	require.NoError(t, s.Pause())
	assert.Equal(t, StatusPaused, s.Status())
	assert.Equal(t, StatusIdle, s.ConfirmedStatus())

	// The engine ignored the pause.
	eng.FireStatus(int(StatusRecording))
	assert.Equal(t, StatusRecording, s.Status())
	assert.Equal(t, StatusRecording, s.ConfirmedStatus())

	statuses, _, _, _ := ev.snapshot()
	assert.Equal(t, []Status{StatusRecording}, statuses, "optimistic changes raise no events")
}

func TestSession_UnknownStatusCodeIgnored(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	eng.FireStatus(99)

	assert.Equal(t, StatusRecording, s.Status())
	statuses, _, _, _ := ev.snapshot()
	assert.Empty(t, statuses)
}

func TestSession_LateCallbacksFromPreviousRecordingAreDropped(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	first := eng.Callbacks(0)
	eng.FireCompleted("first.mp4", nil)

	require.NoError(t, s.Start(tempOutput(t)))
	second := s.RecordingID()

	first.Status(int(StatusPaused))
	first.Completed("stale.mp4", nil)
	first.Failed("stale")

	assert.Equal(t, StatusRecording, s.Status())
	assert.Equal(t, second, s.RecordingID())

	_, completed, failed, _ := ev.snapshot()
	require.Len(t, completed, 1)
	assert.Equal(t, "first.mp4", completed[0].Path)
	assert.Empty(t, failed)
}

func TestSession_DuplicateTerminalIsDropped(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	cb := eng.Callbacks(0)
	cb.Completed("out.mp4", nil)
	cb.Failed("late failure")

	_, completed, failed, _ := ev.snapshot()
	assert.Len(t, completed, 1)
	assert.Empty(t, failed)
}

func TestSession_RestartFromCompletionHandler(t *testing.T) {
	s, eng := newSession(t)
	next := tempOutput(t)
	var restartErr error
	var once sync.Once
	s.OnRecordingComplete(func(CompletedEvent) {
		once.Do(func() { restartErr = s.Start(next) })
	})

	require.NoError(t, s.Start(tempOutput(t)))
	eng.FireCompleted("", nil)

	require.NoError(t, restartErr)
	assert.Equal(t, StatusRecording, s.Status())
	assert.Equal(t, next, eng.Stream().Name())
}

func TestSession_CallbacksFromEngineGoroutines(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)
	require.NoError(t, s.Start(tempOutput(t)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				eng.FireStatus(int(StatusRecording))
				_ = s.Status()
			}
		}()
	}
	wg.Wait()
	eng.FireCompleted("", nil)

	statuses, completed, _, _ := ev.snapshot()
	assert.Len(t, statuses, 8*100+1)
	assert.Len(t, completed, 1)
}

func TestSession_CloseStopsAndWaitsForCompletion(t *testing.T) {
	s, eng := newSession(t)
	ev := subscribe(s)
	eng.OnStop = func(m *testutil.MockEngine) {
		time.Sleep(20 * time.Millisecond)
		m.FireStatus(int(StatusFinishing))
		m.FireCompleted("out.mp4", nil)
	}

	require.NoError(t, s.Start(tempOutput(t)))
	require.NoError(t, s.Close(context.Background()))

	assert.True(t, eng.Closed())
	assert.Equal(t, []string{"start", "stop", "close"}, eng.Calls())
	_, completed, _, _ := ev.snapshot()
	assert.Len(t, completed, 1, "completion must be delivered before Close returns")

	assert.ErrorIs(t, s.Start(tempOutput(t)), ErrClosed)
	assert.ErrorIs(t, s.Pause(), ErrClosed)
	assert.NoError(t, s.Close(context.Background()), "Close is idempotent")
}

func TestSession_CloseWhileFinishingDoesNotStopAgain(t *testing.T) {
	s, eng := newSession(t)
	require.NoError(t, s.Start(tempOutput(t)))
	require.NoError(t, s.Stop())

	go func() {
		time.Sleep(20 * time.Millisecond)
		eng.FireCompleted("", nil)
	}()
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{"start", "stop", "close"}, eng.Calls())
}

func TestSession_CloseTimesOutOnSilentEngine(t *testing.T) {
	reg := bridge.NewRegistry()
	eng := testutil.NewMockEngine()
	s := New(eng, WithRegistry(reg), WithTeardownTimeout(50*time.Millisecond))
	ev := subscribe(s)

	require.NoError(t, s.Start(tempOutput(t)))
	stale := eng.Callbacks(0)
	assert.Equal(t, 1, reg.Len())

	err := s.Close(context.Background())
	assert.ErrorIs(t, err, ErrTeardownTimeout)
	assert.True(t, eng.Closed())
	assert.Zero(t, reg.Len(), "callbacks are unpinned after the engine is closed")
	assert.Equal(t, StatusIdle, s.Status())

	// Nothing reaches subscribers after teardown.
	stale.Completed("late.mp4", nil)
	_, completed, _, _ := ev.snapshot()
	assert.Empty(t, completed)
}

func TestSession_CloseIdle(t *testing.T) {
	s, eng := newSession(t)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{"close"}, eng.Calls())
}

func TestSession_SharedRegistry(t *testing.T) {
	reg := bridge.NewRegistry()
	s1, e1 := newSession(t, WithRegistry(reg))
	s2, e2 := newSession(t, WithRegistry(reg))

	require.NoError(t, s1.Start(tempOutput(t)))
	require.NoError(t, s2.Start(tempOutput(t)))
	assert.Equal(t, 2, reg.Len())
	assert.NotEqual(t, s1.RecordingID(), s2.RecordingID())

	e1.FireCompleted("", nil)
	assert.Equal(t, StatusIdle, s1.Status())
	assert.Equal(t, StatusRecording, s2.Status())
	assert.Equal(t, 1, reg.Len())

	e2.FireFailed("boom")
	assert.Zero(t, reg.Len())
}
