// Package logging holds the process-wide zerolog logger used for operational
// output. Structured debug traces go through diaglog instead.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the global logger instance
var Logger zerolog.Logger

func init() {
	// Info level on stderr until Init is called; stdout may carry recording data.
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init reconfigures the global logger. pretty switches to the console writer.
func Init(level string, pretty bool) {
	InitWriter(os.Stderr, level, pretty)
}

// InitWriter is Init with an explicit destination.
func InitWriter(out io.Writer, level string, pretty bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
