// Package logger builds the zerolog loggers handed to every component.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stdout. format "json" writes raw JSON
// lines; anything else uses the human readable console writer. An unknown
// level falls back to info.
func New(level, format string) zerolog.Logger {
	return NewWriter(os.Stdout, level, format)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

// Cron adapts a zerolog logger to the cron.Logger interface.
type Cron struct {
	L zerolog.Logger
}

func (c Cron) Info(msg string, keysAndValues ...any) {
	c.L.Debug().Fields(keysAndValues).Msg(msg)
}

func (c Cron) Error(err error, msg string, keysAndValues ...any) {
	c.L.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
