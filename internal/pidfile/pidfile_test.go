package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "test.pid")

	pf, err := New(pidPath)
	require.NoError(t, err)
	defer pf.Remove()

	pid, err := Read(pidPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestDuplicateInstance(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	pf1, err := New(pidPath)
	require.NoError(t, err)
	defer pf1.Remove()

	_, err = New(pidPath)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
}

func TestStalePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("99999\n"), 0644))

	pf, err := New(pidPath)
	require.NoError(t, err, "an unlocked PID file is stale")
	defer pf.Remove()

	pid, err := Read(pidPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	pf, err := New(pidPath)
	require.NoError(t, err)
	require.NoError(t, pf.Remove())
	assert.NoFileExists(t, pidPath)

	pf2, err := New(pidPath)
	require.NoError(t, err, "lock is released by Remove")
	require.NoError(t, pf2.Remove())
}

func TestRemoveOnlyOwnPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	pf, err := New(pidPath)
	require.NoError(t, err)

	other := os.Getpid() + 1
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(other)+"\n"), 0644))
	require.NoError(t, pf.Remove())

	pid, err := Read(pidPath)
	require.NoError(t, err)
	assert.Equal(t, other, pid)
}

func TestRemoveNil(t *testing.T) {
	var pf *PIDFile
	assert.NoError(t, pf.Remove())
}

func TestGetPIDFilePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".cache", "screenrec", "test-app.pid"), GetPIDFilePath("test-app"))
}
