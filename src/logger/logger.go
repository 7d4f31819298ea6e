package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"laserstream-relay/src/models"
)

// -----------------------------------------------------------------------------

// Logger provides named, levelled logging functionality
type Logger struct {
	name   string
	logger *slog.Logger
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. A nil config logs INFO and above as text.
func NewLogger(config *models.MConfig, name string) *Logger {
	level, format := "INFO", "text"
	if config != nil {
		level, format = config.LogLevel, config.LogFormat
	}
	return newLogger(os.Stdout, level, format, name)
}

// NewWriterLogger is NewLogger writing to w, mostly for tests.
func NewWriterLogger(w io.Writer, level, name string) *Logger {
	return newLogger(w, level, "text", name)
}

func newLogger(w io.Writer, level, format, name string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		name:   name,
		logger: slog.New(handler).With("component", name),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// -----------------------------------------------------------------------------

// Named returns a logger sharing this logger's handler under another name
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:   name,
		logger: l.logger.With("component", name),
	}
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "critical", true)
	os.Exit(1)
}
