package sink

import (
	"fmt"
)

// PlatformStat describes a platform stream.
type PlatformStat struct {
	Name    string
	Size    int64
	CanSeek bool
}

// PlatformStream is a stream object owned by the host platform (a COM-style
// IStream or similar). Writes are only durable after Commit.
type PlatformStream interface {
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Commit() error
	Stat() (PlatformStat, error)
}

type platformStream struct {
	ps   PlatformStream
	stat PlatformStat
}

// FromPlatform wraps ps behind the Stream contract. Stat is read once up
// front; a stream that cannot report its state is unavailable.
func FromPlatform(ps PlatformStream) (Stream, error) {
	st, err := ps.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat platform stream: %w", ErrSinkUnavailable, err)
	}
	return &platformStream{ps: ps, stat: st}, nil
}

func (p *platformStream) Write(b []byte) (int, error) {
	return p.ps.Write(b)
}

func (p *platformStream) Seek(offset int64, whence int) (int64, error) {
	if !p.stat.CanSeek {
		return 0, ErrNotSeekable
	}
	return p.ps.Seek(offset, whence)
}

// Close commits the stream; the platform owns its lifetime after that.
func (p *platformStream) Close() error {
	return p.ps.Commit()
}

func (p *platformStream) Name() string   { return p.stat.Name }
func (p *platformStream) Kind() Kind     { return KindPlatform }
func (p *platformStream) Seekable() bool { return p.stat.CanSeek }
