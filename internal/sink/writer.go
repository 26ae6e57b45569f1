package sink

import (
	"io"
)

// writerStream adapts a caller-owned io.Writer. The caller keeps ownership:
// Close flushes but never closes the underlying writer.
type writerStream struct {
	w        io.Writer
	seeker   io.Seeker
	name     string
	seekable bool
}

// FromWriter wraps w. It is seekable only if w implements io.Seeker and a
// probe seek succeeds, so pipes and terminals passed as *os.File are treated
// as sequential.
func FromWriter(w io.Writer) Stream {
	ws := &writerStream{w: w}
	if n, ok := w.(interface{ Name() string }); ok {
		ws.name = n.Name()
	}
	if s, ok := w.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekCurrent); err == nil {
			ws.seeker = s
			ws.seekable = true
		}
	}
	return ws
}

func (ws *writerStream) Write(p []byte) (int, error) {
	return ws.w.Write(p)
}

func (ws *writerStream) Seek(offset int64, whence int) (int64, error) {
	if !ws.seekable {
		return 0, ErrNotSeekable
	}
	return ws.seeker.Seek(offset, whence)
}

func (ws *writerStream) Close() error {
	if f, ok := ws.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (ws *writerStream) Name() string   { return ws.name }
func (ws *writerStream) Kind() Kind     { return KindWriter }
func (ws *writerStream) Seekable() bool { return ws.seekable }
