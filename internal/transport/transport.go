// Package transport abstracts the byte pipe between the host and an ESP
// ROM/stub loader: a native serial port on desktop platforms, or a raw
// USB bulk pipe on platforms with no serial enumeration. Neither backing
// interprets the bytes it moves — SLIP framing and protocol semantics
// live entirely in internal/protocol.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by ReadExactUntil when neither the requested byte
// count nor the match predicate is satisfied before the deadline.
var ErrTimeout = errors.New("transport: timeout")

// Signals is a partial update to the transport's control lines. A nil
// field leaves that line untouched — callers that only want to change DTR
// must not cause RTS to flip, per spec.
type Signals struct {
	DTR   *bool
	RTS   *bool
	Break *bool
}

// Bool returns a *bool for use in a Signals literal.
func Bool(v bool) *bool { return &v }

// Info describes the identity of the connected device, used to select
// vendor-specific USB initialization and to log which bridge is in use.
type Info struct {
	VID uint16
	PID uint16
	// Name is a human-readable port or device identifier (e.g. "/dev/ttyUSB0").
	Name string
}

// Transport is the host-to-device byte pipe spec §4.1 defines: open/close,
// timed reads, writes, control-line and baud changes, and device identity.
type Transport interface {
	// Open establishes the pipe at the given baud rate. It is a no-op if
	// already open at that baud.
	Open(ctx context.Context, baud int) error
	Close() error

	// ReadExactUntil reads until len(buf) reaches want bytes, until match
	// returns true on the bytes read so far (match may be nil), or until
	// timeout elapses. On timeout it returns the partial buffer and
	// ErrTimeout — callers that only care about "enough bytes arrived"
	// pass a nil match and inspect len(result) against want.
	ReadExactUntil(ctx context.Context, want int, timeout time.Duration, match func([]byte) bool) ([]byte, error)

	// WriteAll writes every byte of data, returning early on the first
	// write error.
	WriteAll(ctx context.Context, data []byte) error

	// SetSignals applies a partial update to DTR/RTS/Break.
	SetSignals(s Signals) error

	// SetBaud changes the baud rate on an already-open transport.
	SetBaud(baud int) error

	// Info reports the device's VID/PID and a human-readable name.
	Info() Info
}
