// Package eventlog defines the logging and event-notification surface
// every espflash package reports through, so internal/protocol,
// internal/flasher and internal/reset stay usable as a library instead of
// writing to stdout directly.
package eventlog

import (
	"github.com/sirupsen/logrus"

	"espflash/internal/chip"
)

// Logger is the leveled logging sink spec's "logger sink (log, debug,
// error)" calls for. Fields are passed as alternating key/value pairs,
// mirroring logrus.Fields construction without forcing callers to import
// logrus themselves.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// EventSink receives the two out-of-band notifications spec calls for: a
// warning that the OS port path is about to change (a watchdog reset of a
// native-USB chip drops and re-enumerates the port) and a report
// once chip identification succeeds.
type EventSink interface {
	PortWillChange(reason string)
	ChipDetected(family chip.Family, revision int)
}

// noopLogger discards everything. It is the zero value packages fall back
// to when constructed with a nil Logger.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger is a Logger that discards everything.
var NoopLogger Logger = noopLogger{}

// noopSink discards both notifications.
type noopSink struct{}

func (noopSink) PortWillChange(string)               {}
func (noopSink) ChipDetected(chip.Family, int) {}

// NoopSink is an EventSink that discards everything.
var NoopSink EventSink = noopSink{}

// OrNoop returns l unchanged, or NoopLogger if l is nil. Packages call this
// once in their constructor instead of nil-checking on every log call.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger
	}
	return l
}

// OrNoopSink returns s unchanged, or NoopSink if s is nil.
func OrNoopSink(s EventSink) EventSink {
	if s == nil {
		return NoopSink
	}
	return s
}

// logrusLogger adapts *logrus.Logger to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus builds a Logger backed by a logrus.Logger. Passing nil uses
// logrus.StandardLogger() with its default text formatter, matching the
// way the CLI wires its output.
func NewLogrus(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l *logrusLogger) Debug(msg string, fields ...any) {
	l.entry.WithFields(l.fields(fields)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields ...any) {
	l.entry.WithFields(l.fields(fields)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields ...any) {
	l.entry.WithFields(l.fields(fields)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields ...any) {
	l.entry.WithFields(l.fields(fields)).Error(msg)
}

// logrusSink adapts EventSink to logrus, for callers that don't need
// bespoke UI behavior on these two events and just want them logged.
type logrusSink struct {
	log Logger
}

// NewLogrusSink builds an EventSink that reports both events through log.
func NewLogrusSink(log Logger) EventSink {
	return &logrusSink{log: OrNoop(log)}
}

func (s *logrusSink) PortWillChange(reason string) {
	s.log.Warn("port will change", "reason", reason)
}

func (s *logrusSink) ChipDetected(family chip.Family, revision int) {
	s.log.Info("chip detected", "family", family.String(), "revision", revision)
}
