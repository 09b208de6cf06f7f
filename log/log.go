// Package log provides the project-wide structured logger, a thin wrapper
// around zerolog. Call Init once at startup; the package-level helpers are
// safe for concurrent use afterwards.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Log levels accepted by Init.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Output names accepted by Init, besides a file path.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

var (
	logger zerolog.Logger
	level  string

	// panicOnInvalidChars makes the logger panic when a formatted message
	// carries non-graphic characters. Only enabled in tests, to catch raw
	// binary accidentally passed to a format helper.
	panicOnInvalidChars = strings.ToLower(os.Getenv("LOG_PANIC_ON_INVALIDCHARS")) == "true"

	// logTestWriter is the sink selected by logTestWriterName, used by
	// tests and benchmarks to capture or discard output.
	logTestWriter     io.Writer = io.Discard
	logTestWriterName           = "_test"
)

// Init initializes the package logger. Output may be "stdout", "stderr" or a
// file path. If errorOutput is not nil, a copy of every warning and error
// line is also written there.
func Init(logLevel, output string, errorOutput io.Writer) {
	var out io.Writer
	switch output {
	case OutputStdout:
		out = os.Stdout
	case OutputStderr:
		out = os.Stderr
	case logTestWriterName:
		out = logTestWriter
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %q: %v", output, err))
		}
		out = f
	}
	out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339Nano}
	if errorOutput != nil {
		out = zerolog.MultiLevelWriter(out, errLevelWriter{errorOutput})
	}
	logger = zerolog.New(out).With().Timestamp().Logger()
	level = logLevel
	switch logLevel {
	case LogLevelDebug:
		logger = logger.Level(zerolog.DebugLevel)
	case LogLevelInfo:
		logger = logger.Level(zerolog.InfoLevel)
	case LogLevelWarn:
		logger = logger.Level(zerolog.WarnLevel)
	case LogLevelError:
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		panic(fmt.Sprintf("invalid log level %q", logLevel))
	}
	Infof("logger construction succeeded at level %s with output %s", logLevel, output)
}

// errLevelWriter duplicates warn and error lines to a secondary writer.
type errLevelWriter struct {
	w io.Writer
}

func (w errLevelWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w errLevelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l >= zerolog.WarnLevel {
		return w.w.Write(p)
	}
	return len(p), nil
}

// Level returns the level the logger was initialized with.
func Level() string {
	return level
}

// Logger returns the underlying zerolog logger.
func Logger() *zerolog.Logger {
	return &logger
}

func checkInvalidChars(s string) {
	if !panicOnInvalidChars {
		return
	}
	for _, r := range s {
		if r == utf8.RuneError {
			panic(fmt.Sprintf("log message with invalid chars: %q", s))
		}
	}
}

func logf(ev *zerolog.Event, template string, args ...any) {
	msg := fmt.Sprintf(template, args...)
	checkInvalidChars(msg)
	ev.CallerSkipFrame(2).Msg(msg)
}

// logw emits a message with alternating key/value fields, zap style.
func logw(ev *zerolog.Event, msg string, keysAndValues ...any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		ev = ev.Interface(key, keysAndValues[i+1])
	}
	checkInvalidChars(msg)
	ev.CallerSkipFrame(2).Msg(msg)
}

// Debug logs its arguments at debug level.
func Debug(args ...any) { logf(logger.Debug(), fmt.Sprint(args...)) }

// Info logs its arguments at info level.
func Info(args ...any) { logf(logger.Info(), fmt.Sprint(args...)) }

// Warn logs its arguments at warn level.
func Warn(args ...any) { logf(logger.Warn(), fmt.Sprint(args...)) }

// Error logs its arguments at error level.
func Error(args ...any) { logf(logger.Error(), fmt.Sprint(args...)) }

// Debugf formats and logs at debug level.
func Debugf(template string, args ...any) { logf(logger.Debug(), template, args...) }

// Infof formats and logs at info level.
func Infof(template string, args ...any) { logf(logger.Info(), template, args...) }

// Warnf formats and logs at warn level.
func Warnf(template string, args ...any) { logf(logger.Warn(), template, args...) }

// Errorf formats and logs at error level.
func Errorf(template string, args ...any) { logf(logger.Error(), template, args...) }

// Fatalf formats and logs at fatal level, then exits.
func Fatalf(template string, args ...any) { logf(logger.Fatal(), template, args...) }

// Debugw logs a message with key/value fields at debug level.
func Debugw(msg string, keysAndValues ...any) { logw(logger.Debug(), msg, keysAndValues...) }

// Infow logs a message with key/value fields at info level.
func Infow(msg string, keysAndValues ...any) { logw(logger.Info(), msg, keysAndValues...) }

// Warnw logs a message with key/value fields at warn level.
func Warnw(msg string, keysAndValues ...any) { logw(logger.Warn(), msg, keysAndValues...) }

// Errorw logs an error with an optional message at error level.
func Errorw(err error, msg string) {
	if err == nil {
		return
	}
	logw(logger.Error(), msg, "error", err.Error())
}
