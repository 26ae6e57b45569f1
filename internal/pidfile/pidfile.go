// Package pidfile keeps a single `screenrec record` process per user. The PID
// file is guarded by an advisory lock, so a crashed process never leaves a
// stale lock behind.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile is a held PID file lock.
type PIDFile struct {
	path string
	pid  int
	lock *flock.Flock
}

// New locks the PID file at path and writes the current PID into it.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock PID file: %w", err)
	}
	if !ok {
		if pid, err := Read(path); err == nil {
			return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return &PIDFile{path: path, pid: pid, lock: lock}, nil
}

// Read returns the PID stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Remove deletes the PID file if it still holds our PID and drops the lock.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}

	var err error
	if pid, rerr := Read(p.path); rerr == nil && pid == p.pid {
		err = os.Remove(p.path)
	}
	if uerr := p.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// GetPIDFilePath returns the standard PID file path for a given application name
func GetPIDFilePath(appName string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "screenrec", appName+".pid")
}
