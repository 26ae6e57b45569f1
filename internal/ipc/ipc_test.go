package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, WriteCommand(CmdPause))
	cmd, err := ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, CmdPause, cmd)

	cmd, err = ReadCommand()
	require.NoError(t, err)
	assert.Empty(t, cmd, "command is consumed on read")
}

func TestReadCommand_Missing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd, err := ReadCommand()
	require.NoError(t, err)
	assert.Empty(t, cmd)
}

func TestReadCommand_IgnoresUnknown(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.MkdirAll(Dir(), 0755))
	require.NoError(t, os.WriteFile(CommandPath(), []byte("toggle\n"), 0644))

	cmd, err := ReadCommand()
	require.NoError(t, err)
	assert.Empty(t, cmd)
}

func TestWriteCommand_RejectsUnknown(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.Error(t, WriteCommand("rewind"))
	assert.NoFileExists(t, CommandPath())
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand(" Resume ")
	require.NoError(t, err)
	assert.Equal(t, CmdResume, c)

	_, err = ParseCommand("start")
	assert.Error(t, err)
}

func TestStatusRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	in := &StatusSnapshot{
		PID:             42,
		Status:          "Recording",
		ConfirmedStatus: "Recording",
		RecordingID:     "3f1c",
		Mode:            "video",
		OutputPath:      "/tmp/out.mp4",
		Frames:          []FrameEntry{{Path: "frame-00000.png", DelayMs: 0}},
		OBSConnected:    true,
		Timestamp:       time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, WriteStatus(in))
	assert.Equal(t, filepath.Join(home, ".cache", "screenrec", "status.json"), StatusPath())

	out, err := ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestReadStatus_Missing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := ReadStatus()
	assert.True(t, os.IsNotExist(err))
}
