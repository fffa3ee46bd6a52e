package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialTransport backs Transport with a native OS serial port — the FTDI/
// CH34x/CP210x/CDC-ACM bridges spec calls out for desktop platforms.
// Adapted from the teacher's internal/serial.Port: same open/DTR/RTS
// shape, generalized behind the Transport interface and given a real
// read-until loop instead of a single timed Read.
type SerialTransport struct {
	name string
	port serial.Port
	vid  uint16
	pid  uint16
}

// NewSerial names a serial port for later Open. vid/pid are supplied by
// the caller's port enumeration (go.bug.st/serial's own enumeration
// reports them) and are surfaced through Info() for USB-init selection
// upstream of this package.
func NewSerial(name string, vid, pid uint16) *SerialTransport {
	return &SerialTransport{name: name, vid: vid, pid: pid}
}

func (t *SerialTransport) Open(ctx context.Context, baud int) error {
	if t.port != nil {
		return t.SetBaud(baud)
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(t.name, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", t.name, err)
	}
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return fmt.Errorf("transport: set read timeout on %s: %w", t.name, err)
	}
	t.port = p
	return nil
}

func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *SerialTransport) ReadExactUntil(ctx context.Context, want int, timeout time.Duration, match func([]byte) bool) ([]byte, error) {
	if t.port == nil {
		return nil, fmt.Errorf("transport: %s not open", t.name)
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, want)
	chunk := make([]byte, 256)

	for {
		if len(buf) >= want && want > 0 {
			return buf, nil
		}
		if match != nil && match(buf) {
			return buf, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf, ErrTimeout
		}
		if err := ctx.Err(); err != nil {
			return buf, err
		}

		readTimeout := remaining
		if readTimeout > 50*time.Millisecond {
			readTimeout = 50 * time.Millisecond
		}
		if err := t.port.SetReadTimeout(readTimeout); err != nil {
			return buf, fmt.Errorf("transport: set read timeout: %w", err)
		}
		n, err := t.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return buf, fmt.Errorf("transport: read %s: %w", t.name, err)
		}
	}
}

func (t *SerialTransport) WriteAll(ctx context.Context, data []byte) error {
	if t.port == nil {
		return fmt.Errorf("transport: %s not open", t.name)
	}
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := t.port.Write(data)
		if err != nil {
			return fmt.Errorf("transport: write %s: %w", t.name, err)
		}
		data = data[n:]
	}
	return nil
}

// SetSignals applies only the non-nil fields, preserving the others —
// go.bug.st/serial.SetDTR/SetRTS each touch a single line already, so a
// partial Signals update naturally leaves the other line untouched.
func (t *SerialTransport) SetSignals(s Signals) error {
	if t.port == nil {
		return fmt.Errorf("transport: %s not open", t.name)
	}
	if s.DTR != nil {
		if err := t.port.SetDTR(*s.DTR); err != nil {
			return fmt.Errorf("transport: set DTR: %w", err)
		}
	}
	if s.RTS != nil {
		if err := t.port.SetRTS(*s.RTS); err != nil {
			return fmt.Errorf("transport: set RTS: %w", err)
		}
	}
	if s.Break != nil {
		if err := t.port.SetBreak(*s.Break); err != nil {
			return fmt.Errorf("transport: set break: %w", err)
		}
	}
	return nil
}

func (t *SerialTransport) SetBaud(baud int) error {
	if t.port == nil {
		return fmt.Errorf("transport: %s not open", t.name)
	}
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	if err := t.port.SetMode(mode); err != nil {
		return fmt.Errorf("transport: set baud %d on %s: %w", baud, t.name, err)
	}
	return nil
}

func (t *SerialTransport) Info() Info {
	return Info{VID: t.vid, PID: t.pid, Name: t.name}
}

// ListSerialPorts enumerates available OS serial ports, generalizing the
// teacher's flasher-specific detect.ListDevices into a bare port lister
// the CLI consumes.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list serial ports: %w", err)
	}
	return ports, nil
}
