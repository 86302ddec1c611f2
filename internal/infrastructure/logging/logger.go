package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/equipwatch-core/internal/infrastructure/config"
)

// ServiceName is attached to every log record.
const ServiceName = "equipwatch"

// redacted replaces the value of sensitive attributes.
const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"password":     true,
	"old_password": true,
	"new_password": true,
	"token":        true,
	"ticket":       true,
	"secret":       true,
}

// Logger wraps slog.Logger with EquipWatch-specific functionality.
//
// It provides structured logging with default fields, level-based filtering
// and redaction of credential-bearing attributes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr, or file)
//
// An unusable log file falls back to stdout so the service can still report
// the problem.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var (
		output  io.Writer = os.Stdout
		closer  io.Closer
		openErr error
	)
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			openErr = err
		} else {
			output, closer = f, f
		}
	}

	l := newWithWriter(output, cfg, version)
	l.closer = closer
	if openErr != nil {
		l.Warn("log file unavailable, logging to stdout", "error", openErr)
	}
	return l
}

// newWithWriter builds a Logger writing to w.
func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("logging.file.path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// redact masks attributes named in sensitiveKeys, at any group depth.
func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	sessLogger := logger.With("component", "sessions")
//	sessLogger.Info("sweep finished") // Includes component=sessions
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close releases the log file, if one was opened. Safe to call on any Logger.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
