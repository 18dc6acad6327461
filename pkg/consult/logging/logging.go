// Package logging builds the process logger.
//
// The sink is zerolog. Library packages log through *slog.Logger; Slog
// returns one whose records land in the same zerolog output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config configures the process logger.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // console, json
	File   string `mapstructure:"file" yaml:"file"`     // empty means no file
}

// Logger is a zerolog logger that owns its optional log file.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// ParseLevel converts a level name to a zerolog level. Unknown names are
// treated as info.
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
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to out (stderr when nil) and, if cfg.File is
// set, appending JSON lines to that file as well.
func New(cfg Config, out io.Writer) (*Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, FormatConsole) {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02T15:04:05-07:00",
		}
	}

	l := &Logger{}
	writers := []io.Writer{out}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		l.file = f
		writers = append(writers, f)
	}

	var output io.Writer = writers[0]
	if len(writers) > 1 {
		output = zerolog.MultiLevelWriter(writers...)
	}

	l.Logger = zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	return l, nil
}

// Slog returns a slog logger backed by l.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(NewSlogHandler(l.Logger))
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
