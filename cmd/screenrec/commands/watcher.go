package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tiroq/screenrec/internal/ipc"
)

const (
	commandPollInterval = time.Second
	commandSettleDelay  = 50 * time.Millisecond
)

// watchCommands delivers commands written to the command file until ctx is
// done. It uses fsnotify and falls back to polling when watching fails.
func watchCommands(ctx context.Context, out chan<- ipc.Command, zl zerolog.Logger) {
	cmdPath := ipc.CommandPath()
	if err := os.MkdirAll(filepath.Dir(cmdPath), 0755); err != nil {
		zl.Warn().Err(err).Msg("Failed to create command directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zl.Warn().Err(err).Msg("fsnotify not available, falling back to polling")
		pollCommands(ctx, cmdPath, out, zl)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			zl.Warn().Err(err).Msg("Failed to close watcher")
		}
	}()

	if err := watcher.Add(filepath.Dir(cmdPath)); err != nil {
		zl.Warn().Err(err).Msg("Failed to watch command directory, falling back to polling")
		pollCommands(ctx, cmdPath, out, zl)
		return
	}
	zl.Debug().Str("path", cmdPath).Msg("Command watcher started (using fsnotify)")

	// Polling alongside fsnotify catches writes the watcher coalesces away.
	pollTicker := time.NewTicker(commandPollInterval)
	defer pollTicker.Stop()
	lastCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				zl.Warn().Msg("fsnotify watcher closed, switching to polling")
				pollCommands(ctx, cmdPath, out, zl)
				return
			}
			if event.Name == cmdPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if !deliverCommand(ctx, out, zl) {
					return
				}
				lastCheck = time.Now()
			}

		case <-pollTicker.C:
			if info, err := os.Stat(cmdPath); err == nil && info.ModTime().After(lastCheck) {
				if !deliverCommand(ctx, out, zl) {
					return
				}
				lastCheck = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				zl.Warn().Msg("fsnotify error channel closed, switching to polling")
				pollCommands(ctx, cmdPath, out, zl)
				return
			}
			zl.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// pollCommands is the polling-only fallback.
func pollCommands(ctx context.Context, cmdPath string, out chan<- ipc.Command, zl zerolog.Logger) {
	zl.Debug().Dur("interval", commandPollInterval).Msg("Command watcher started (using polling)")

	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()
	lastCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(cmdPath)
			if err != nil || !info.ModTime().After(lastCheck) {
				continue
			}
			if !deliverCommand(ctx, out, zl) {
				return
			}
			lastCheck = time.Now()
		}
	}
}

// deliverCommand reads the pending command, if any, and sends it. It returns
// false once ctx is done.
func deliverCommand(ctx context.Context, out chan<- ipc.Command, zl zerolog.Logger) bool {
	// Let the writer finish.
	time.Sleep(commandSettleDelay)

	cmd, err := ipc.ReadCommand()
	if err != nil {
		zl.Warn().Err(err).Msg("Failed to read command")
		return true
	}
	if cmd == "" {
		return true
	}
	select {
	case out <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}
