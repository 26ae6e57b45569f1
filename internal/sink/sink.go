// Package sink normalises the output targets a caller can record into (a file
// path, an io.Writer, or a platform stream object) into one Stream the capture
// engine writes to.
package sink

import (
	"errors"
	"fmt"
	"io"

	"github.com/tiroq/screenrec/internal/options"
)

var (
	// ErrSinkUnavailable means the target could not be opened or written.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrUnsupportedConfiguration means the target cannot serve the requested options.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
	// ErrNotSeekable is returned by Seek on a stream that cannot seek.
	ErrNotSeekable = errors.New("stream is not seekable")
	// ErrNotByteStream is returned by Write/Seek on a frame directory.
	ErrNotByteStream = errors.New("frame directory does not accept byte writes")
)

// Kind tells which kind of target backs a Stream.
type Kind int

const (
	KindFile Kind = iota
	KindWriter
	KindPlatform
	KindFrameDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindWriter:
		return "writer"
	case KindPlatform:
		return "platform"
	case KindFrameDir:
		return "frame-dir"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stream is the single write-side handle handed to the capture engine.
type Stream interface {
	io.Writer
	io.Seeker
	io.Closer
	// Name is the file or directory path, or "" for anonymous streams.
	Name() string
	Kind() Kind
	// Seekable reports whether Seek can rewrite earlier bytes (needed for fast start).
	Seekable() bool
}

// FrameSink is implemented by streams that take one file per captured frame.
type FrameSink interface {
	CreateFrame(name string) (w io.WriteCloser, path string, err error)
}

// Target names exactly one output for a recording.
type Target struct {
	Path     string
	Writer   io.Writer
	Platform PlatformStream
}

func (t Target) count() int {
	n := 0
	if t.Path != "" {
		n++
	}
	if t.Writer != nil {
		n++
	}
	if t.Platform != nil {
		n++
	}
	return n
}

// Open builds the Stream for t. mode decides whether a path is a single file
// or a directory of frames.
func Open(t Target, mode options.Mode) (Stream, error) {
	switch t.count() {
	case 0:
		return nil, fmt.Errorf("%w: no output given", ErrSinkUnavailable)
	case 1:
	default:
		return nil, fmt.Errorf("%w: exactly one output must be given", ErrSinkUnavailable)
	}

	switch {
	case t.Path != "":
		return OpenPath(t.Path, mode)
	case t.Writer != nil:
		return FromWriter(t.Writer), nil
	default:
		return FromPlatform(t.Platform)
	}
}

// Normalize checks s against o and returns the options the engine should run
// with. Fast start needs to rewrite the file header, so it is switched off for
// streams that cannot seek; fastStartDisabled reports that downgrade.
func Normalize(s Stream, o options.Options) (opts options.Options, fastStartDisabled bool, err error) {
	opts = o.Clone()
	if opts.Mode == options.ModeSlideshow && s.Kind() != KindFrameDir {
		return opts, false, fmt.Errorf("%w: slideshow mode needs a directory path, got %s sink", ErrUnsupportedConfiguration, s.Kind())
	}
	if opts.FastStart && !s.Seekable() {
		opts.FastStart = false
		fastStartDisabled = true
	}
	return opts, fastStartDisabled, nil
}
