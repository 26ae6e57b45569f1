// Package ipc is the file-based channel between a running `screenrec record`
// process and the short-lived control commands.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Command is a control request written by the CLI for the recording process.
type Command string

const (
	CmdPause  Command = "pause"
	CmdResume Command = "resume"
	CmdStop   Command = "stop"
	CmdQuit   Command = "quit" // stop if needed and exit
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CmdPause, CmdResume, CmdStop, CmdQuit:
		return true
	}
	return false
}

// ParseCommand converts user input into a Command.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown command %q", s)
	}
	return c, nil
}

// Dir returns ~/.cache/screenrec.
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "screenrec")
}

// CommandPath returns the command file watched by the recording process.
func CommandPath() string {
	return filepath.Join(Dir(), "cmd.txt")
}

// WriteCommand writes a command to ~/.cache/screenrec/cmd.txt
func WriteCommand(cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err := os.MkdirAll(Dir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(CommandPath(), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears the command file.
// Returns empty string if no command is pending or the content is unknown.
func ReadCommand() (Command, error) {
	data, err := os.ReadFile(CommandPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	// Clear immediately so the command runs once
	if err := os.WriteFile(CommandPath(), nil, 0644); err != nil {
		return "", err
	}

	cmd := Command(strings.TrimSpace(string(data)))
	if !cmd.Valid() {
		return "", nil
	}
	return cmd, nil
}
