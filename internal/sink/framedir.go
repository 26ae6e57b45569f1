package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// frameDir is the slideshow target: each frame becomes its own file.
type frameDir struct {
	dir string
}

func openFrameDir(dir string) (Stream, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSinkUnavailable, dir)
	}
	return &frameDir{dir: dir}, nil
}

// CreateFrame creates name inside the directory. Path components in name are
// stripped so frames cannot escape the directory.
func (d *frameDir) CreateFrame(name string) (io.WriteCloser, string, error) {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || strings.TrimSpace(base) == "" {
		return nil, "", fmt.Errorf("invalid frame name %q", name)
	}
	path := filepath.Join(d.dir, base)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

func (d *frameDir) Write([]byte) (int, error)      { return 0, ErrNotByteStream }
func (d *frameDir) Seek(int64, int) (int64, error) { return 0, ErrNotByteStream }
func (d *frameDir) Close() error                   { return nil }
func (d *frameDir) Name() string                   { return d.dir }
func (d *frameDir) Kind() Kind                     { return KindFrameDir }
func (d *frameDir) Seekable() bool                 { return false }
