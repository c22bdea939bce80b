// Package klog is the kernel core's leveled logger: a log/slog logger with
// the teaching-kernel's own severities (TRACE below slog's Debug, WARNING in
// place of slog's Warn), selectable text/JSON output, and optional rotation
// to a crash-safe file via lumberjack. The buffer cache, the kernel
// assembler and the syscall layer log through this package rather than
// fmt.Printf, matching the teacher's internal/logger package.
package klog

import (
	"fmt"
	"log/slog"
)

// Severity is one of the kernel's six logging levels.
type Severity string

const (
	Trace   Severity = "TRACE"
	Debug   Severity = "DEBUG"
	Info    Severity = "INFO"
	Warning Severity = "WARNING"
	Error   Severity = "ERROR"
	Off     Severity = "OFF"
)

// slog levels for each Severity. TRACE sits below slog.LevelDebug and OFF
// sits above slog.LevelError so that setting the program level to Off
// suppresses every record.
const (
	slogLevelTrace = slog.Level(-8)
	slogLevelOff   = slog.Level(12)
)

var severityToSlog = map[Severity]slog.Level{
	Trace:   slogLevelTrace,
	Debug:   slog.LevelDebug,
	Info:    slog.LevelInfo,
	Warning: slog.LevelWarn,
	Error:   slog.LevelError,
	Off:     slogLevelOff,
}

var slogToSeverity = map[slog.Level]Severity{
	slogLevelTrace: Trace,
	slog.LevelDebug: Debug,
	slog.LevelInfo:  Info,
	slog.LevelWarn:  Warning,
	slog.LevelError: Error,
	slogLevelOff:    Off,
}

// Rank orders severities from most to least verbose (TRACE=0 .. OFF=5).
// Returns -1 for an unrecognized severity.
func (s Severity) Rank() int {
	switch s {
	case Trace:
		return 0
	case Debug:
		return 1
	case Info:
		return 2
	case Warning:
		return 3
	case Error:
		return 4
	case Off:
		return 5
	default:
		return -1
	}
}

// Valid reports whether s is one of the six known severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// ParseSeverity validates a severity string. Matching is case-sensitive:
// only the upper-case names are accepted.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("klog: invalid severity %q", s)
	}
	return sev, nil
}

func (s Severity) slogLevel() slog.Level {
	return severityToSlog[s]
}
