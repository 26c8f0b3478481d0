package ocirun

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin facade over zerolog.Logger, carried as a struct field
// rather than a package global. Kept as its own type so call sites in
// this package do not need to import zerolog directly.
type Logger struct {
	zl zerolog.Logger
}

// NewConsoleLogger returns a human-readable, colorized logger for
// interactive/debug CLI invocations.
func NewConsoleLogger(debug bool) Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return Logger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewJSONLogger returns a structured JSON-line logger. The CLI uses it
// when --log names a file; the configuration file's log.format is not
// consulted.
func NewJSONLogger(w io.Writer, level string) Logger {
	return Logger{zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l Logger) Debugf(format string, args...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l Logger) Infof(format string, args...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l Logger) Warnf(format string, args...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l Logger) Errorf(format string, args...interface{}) { l.zl.Error().Msgf(format, args...) }

// With returns a child logger with a structured field attached, used to
// tag log lines with the container id or backend tag across a request.
func (l Logger) With(key, value string) Logger {
	return Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Zerolog exposes the underlying zerolog.Logger for backend adapters that
// need the full API (e.g. Stringer/Int fields on hot paths).
func (l Logger) Zerolog() zerolog.Logger { return l.zl }
