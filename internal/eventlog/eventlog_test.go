package eventlog

import (
	"testing"

	"espflash/internal/chip"
)

func TestOrNoop_NilFallsBackToNoop(t *testing.T) {
	l := OrNoop(nil)
	if l != NoopLogger {
		t.Error("OrNoop(nil) did not return NoopLogger")
	}
	// Must not panic.
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}

func TestOrNoop_NonNilPassesThrough(t *testing.T) {
	var rec recordingLogger
	l := OrNoop(&rec)
	l.Info("hello", "k", "v")
	if len(rec.calls) != 1 || rec.calls[0] != "hello" {
		t.Errorf("OrNoop did not pass through to the given logger, got %v", rec.calls)
	}
}

func TestOrNoopSink_NilFallsBackToNoop(t *testing.T) {
	s := OrNoopSink(nil)
	if s != NoopSink {
		t.Error("OrNoopSink(nil) did not return NoopSink")
	}
	s.PortWillChange("test")
	s.ChipDetected(chip.ESP32C3, 3)
}

func TestNewLogrusSink_ReportsBothEvents(t *testing.T) {
	var rec recordingLogger
	sink := NewLogrusSink(&rec)
	sink.PortWillChange("reset")
	sink.ChipDetected(chip.ESP32, 1)

	if len(rec.calls) != 2 {
		t.Fatalf("got %d calls, want 2: %v", len(rec.calls), rec.calls)
	}
}

type recordingLogger struct {
	calls []string
}

func (r *recordingLogger) Debug(msg string, fields ...any) { r.calls = append(r.calls, msg) }
func (r *recordingLogger) Info(msg string, fields ...any)  { r.calls = append(r.calls, msg) }
func (r *recordingLogger) Warn(msg string, fields ...any)  { r.calls = append(r.calls, msg) }
func (r *recordingLogger) Error(msg string, fields ...any) { r.calls = append(r.calls, msg) }
