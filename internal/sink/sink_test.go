package sink

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/screenrec/internal/options"
)

// memPlatform is an in-memory PlatformStream.
type memPlatform struct {
	buf       []byte
	pos       int64
	canSeek   bool
	committed int
	statErr   error
}

func (m *memPlatform) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memPlatform) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func (m *memPlatform) Commit() error { m.committed++; return nil }

func (m *memPlatform) Stat() (PlatformStat, error) {
	return PlatformStat{Name: "mem://capture", Size: int64(len(m.buf)), CanSeek: m.canSeek}, m.statErr
}

type pipeWriter struct{ bytes.Buffer }

func TestOpen_RequiresExactlyOneTarget(t *testing.T) {
	_, err := Open(Target{}, options.ModeVideo)
	assert.ErrorIs(t, err, ErrSinkUnavailable)

	_, err = Open(Target{Path: "x.mp4", Writer: &bytes.Buffer{}}, options.ModeVideo)
	assert.ErrorIs(t, err, ErrSinkUnavailable)

	_, err = Open(Target{Writer: &bytes.Buffer{}, Platform: &memPlatform{}}, options.ModeVideo)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
}

func TestOpenPath_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")

	s, err := Open(Target{Path: path}, options.ModeVideo)
	require.NoError(t, err)
	assert.Equal(t, KindFile, s.Kind())
	assert.True(t, s.Seekable())
	assert.Equal(t, path, s.Name())

	_, err = s.Write([]byte("xxxxmoov"))
	require.NoError(t, err)
	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = s.Write([]byte("ftyp"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ftypmoov", string(data))
}

func TestOpenPath_MissingParentFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no", "such", "dir", "out.mp4")

	_, err := OpenPath(path, options.ModeVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenPath_SlideshowCreatesFrameDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-out")

	s, err := OpenPath(dir, options.ModeSlideshow)
	require.NoError(t, err)
	assert.Equal(t, KindFrameDir, s.Kind())
	assert.Equal(t, dir, s.Name())
	assert.False(t, s.Seekable())

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotByteStream)

	fs, ok := s.(FrameSink)
	require.True(t, ok)

	w, path, err := fs.CreateFrame("../escape.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.png"), path)
	_, err = w.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenPath_SlideshowOverFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := OpenPath(path, options.ModeSlideshow)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
}

func TestFromWriter_NonSeekable(t *testing.T) {
	var buf pipeWriter
	s := FromWriter(&buf)

	assert.Equal(t, KindWriter, s.Kind())
	assert.False(t, s.Seekable())
	assert.Equal(t, "", s.Name())

	_, err := s.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrNotSeekable)

	_, err = s.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, "data", buf.String())
}

func TestFromWriter_SeekableFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "caller.mp4"))
	require.NoError(t, err)
	defer f.Close()

	s := FromWriter(f)
	assert.True(t, s.Seekable())
	assert.Equal(t, f.Name(), s.Name())

	require.NoError(t, s.Close())
	// The caller still owns the file.
	_, err = f.Write([]byte("still open"))
	assert.NoError(t, err)
}

func TestFromWriter_FlushesOnClose(t *testing.T) {
	var out bytes.Buffer
	bw := bufio.NewWriter(&out)
	s := FromWriter(bw)

	_, err := s.Write([]byte("buffered"))
	require.NoError(t, err)
	assert.Zero(t, out.Len())

	require.NoError(t, s.Close())
	assert.Equal(t, "buffered", out.String())
}

func TestFromPlatform(t *testing.T) {
	mp := &memPlatform{canSeek: true}
	s, err := Open(Target{Platform: mp}, options.ModeVideo)
	require.NoError(t, err)

	assert.Equal(t, KindPlatform, s.Kind())
	assert.True(t, s.Seekable())
	assert.Equal(t, "mem://capture", s.Name())

	_, err = s.Write([]byte("abcd"))
	require.NoError(t, err)
	_, err = s.Seek(1, io.SeekStart)
	require.NoError(t, err)
	_, err = s.Write([]byte("X"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, "aXcd", string(mp.buf))
	assert.Equal(t, 1, mp.committed)
}

func TestFromPlatform_StatFailure(t *testing.T) {
	_, err := FromPlatform(&memPlatform{statErr: errors.New("gone")})
	assert.ErrorIs(t, err, ErrSinkUnavailable)
}

func TestFromPlatform_NoSeek(t *testing.T) {
	s, err := FromPlatform(&memPlatform{})
	require.NoError(t, err)
	_, err = s.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrNotSeekable)
}

func TestNormalize(t *testing.T) {
	o := options.Default()
	require.True(t, o.FastStart)

	seq := FromWriter(&pipeWriter{})
	got, disabled, err := Normalize(seq, o)
	require.NoError(t, err)
	assert.True(t, disabled)
	assert.False(t, got.FastStart)
	assert.True(t, o.FastStart, "input options must not be mutated")

	file, err := OpenPath(filepath.Join(t.TempDir(), "a.mp4"), options.ModeVideo)
	require.NoError(t, err)
	defer file.Close()
	got, disabled, err = Normalize(file, o)
	require.NoError(t, err)
	assert.False(t, disabled)
	assert.True(t, got.FastStart)
}

func TestNormalize_SlideshowNeedsDirectory(t *testing.T) {
	o := options.Default()
	o.Mode = options.ModeSlideshow

	_, _, err := Normalize(FromWriter(&pipeWriter{}), o)
	assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
}
