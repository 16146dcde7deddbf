package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger *slog.Logger

// InitForCLI initializes the logging system. It is idempotent-enough to be
// called once at process start; warnings and errors logged before that go
// to stderr directly, and lower levels are dropped.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{Level: filterLevel.SlogLevel()}
	handler := slog.NewTextHandler(output, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		if defaultLogger == nil && level >= LevelWarn {
			// Never silently drop warnings/errors if InitForCLI was never called
			// (e.g. a very early emergency-shell path).
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", level, subsystem, fmt.Sprintf(messageFmt, args...))
		}
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	var attrs []slog.Attr
	attrs = append(attrs, slog.String("subsystem", subsystem))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// StateTransition is a structured helper for the one event operators care
// about most: a component crossing a state boundary. It is always logged at
// INFO and carries a stable [STATE] prefix so it is easy to grep out of the
// journal independent of subsystem.
func StateTransition(component, from, to string) {
	logInternal(LevelInfo, "StateChange", nil, "[STATE] %s: %s -> %s", component, from, to)
}

// ComponentLogWriter opens (creating if necessary) the append-mode log file
// for a single component's stdout/stderr, per the filesystem layout in
// spec.md §6 (/run/graph/<component>.log). This is a separate sink from the
// process-wide logger: it is redirected directly into the child's fds by the
// supervisor, not routed through slog.
func ComponentLogWriter(dir, component string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := dir + "/" + component + ".log"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open component log %s: %w", path, err)
	}
	return f, nil
}

// TruncateID returns a truncated identifier for compact log lines (e.g.
// handoff correlation ids), matching the convention of prefix+ellipsis used
// throughout the teacher's audit logging.
func TruncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// Audit logs a structured, always-INFO audit line for security- or
// lifecycle-sensitive operations (upgrades, kernel transitions, checkpoint
// restores) with a stable [AUDIT] prefix for log aggregation.
type AuditEvent struct {
	Action    string
	Outcome   string // "success" or "failure"
	Component string
	Target    string
	Details   string
	Error     string
	At        time.Time
}

func Audit(event AuditEvent) {
	parts := make([]string, 0, 6)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.Component != "" {
		parts = append(parts, "component="+event.Component)
	}
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}
	logInternal(LevelInfo, "Audit", nil, "[AUDIT] %s", strings.Join(parts, " "))
}
