package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/config"
)

// ServiceName is the "service" field on every entry.
const ServiceName = "graylogic-enocean"

const logFileMode = 0o640

// Logger is the bridge's structured logger. Every entry carries the
// service name and build version.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the process config.
//
// Format "text" selects slog's text handler; anything else is JSON.
// Output is "stdout" (default), "stderr" or "file". A log file that cannot
// be opened is not fatal: the logger writes to stderr instead and says so
// in its first entry.
//
// Parameters:
//   - cfg: Logging section of the process config
//   - version: Build version recorded on every entry
func New(cfg config.LoggingConfig, version string) *Logger {
	w, err := openOutput(cfg)
	l := &Logger{Logger: slog.New(newHandler(w, cfg, version))}
	if err != nil {
		l.Warn("log file unavailable, using stderr", "path", cfg.File.Path, "error", err)
	}
	return l
}

// Default is the logger used until the config has been read: JSON on
// stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
}

// openOutput returns the configured writer. On a file error it returns
// stderr along with the error.
func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode)
		if err != nil {
			return os.Stderr, err
		}
		return f, nil
	}
	return os.Stdout, nil
}

// parseLevel maps debug, info, warn/warning and error, in any case, to
// slog levels. Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged component=name, the way each
// subsystem (gateway, mqtt, recorder) identifies its entries.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
