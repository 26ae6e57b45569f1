package sink

import (
	"fmt"
	"os"

	"github.com/tiroq/screenrec/internal/options"
)

// fileStream is a Stream over a file the adapter opened itself.
type fileStream struct {
	*os.File
}

// OpenPath creates the output at path. Slideshow recordings get a directory of
// frames; every other mode truncates or creates a single file. The parent
// directory must already exist.
func OpenPath(path string, mode options.Mode) (Stream, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrSinkUnavailable)
	}
	if mode == options.ModeSlideshow {
		return openFrameDir(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return &fileStream{File: f}, nil
}

func (f *fileStream) Kind() Kind     { return KindFile }
func (f *fileStream) Seekable() bool { return true }

// Close syncs before closing so a completed recording is durable.
func (f *fileStream) Close() error {
	_ = f.File.Sync()
	return f.File.Close()
}
