package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Bridge identifies the USB-UART bridge chip so USBTransport knows which
// vendor control sequence to run at Open time.
type Bridge int

const (
	BridgeUnknown Bridge = iota
	BridgeFTDI
	BridgeCH34x
	BridgeCP210x
	BridgeCDCACM
)

// knownBridges maps a handful of common VID/PID pairs to their bridge
// kind. Real deployments would consult a much larger table; this covers
// the four families spec §4.1 names.
var knownBridges = map[[2]uint16]Bridge{
	{0x0403, 0x6001}: BridgeFTDI,
	{0x0403, 0x6015}: BridgeFTDI,
	{0x1A86, 0x7523}: BridgeCH34x,
	{0x1A86, 0x55D4}: BridgeCH34x,
	{0x10C4, 0xEA60}: BridgeCP210x,
}

// DetectBridge looks up the bridge kind for a VID/PID pair, and CDC-ACM
// (native USB-JTAG/Serial, no bridge chip at all) as the fallback.
func DetectBridge(vid, pid uint16) Bridge {
	if b, ok := knownBridges[[2]uint16{vid, pid}]; ok {
		return b
	}
	return BridgeCDCACM
}

// USBTransport backs Transport with a raw USB bulk pipe for platforms
// where OS serial enumeration is unavailable (Android-class), per spec
// §4.1. It owns the per-bridge line-coding/baud programming that a native
// serial driver would otherwise hide.
//
// Grounded on github.com/google/gousb's own device/config/interface/
// endpoint claim idiom — no serial transport in the pack goes through raw
// USB, so this follows the library's canonical usage pattern rather than
// a teacher precedent.
type USBTransport struct {
	vid, pid uint16
	bridge   Bridge

	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	epIn   *gousb.InEndpoint
	epOut  *gousb.OutEndpoint
	name   string
}

// NewUSB names a device by VID/PID for later Open.
func NewUSB(vid, pid uint16) *USBTransport {
	return &USBTransport{vid: vid, pid: pid, bridge: DetectBridge(vid, pid), name: fmt.Sprintf("usb:%04x:%04x", vid, pid)}
}

func (t *USBTransport) Open(ctx context.Context, baud int) error {
	if t.dev != nil {
		return t.SetBaud(baud)
	}
	gctx := gousb.NewContext()
	dev, err := gctx.OpenDeviceWithVIDPID(gousb.ID(t.vid), gousb.ID(t.pid))
	if err != nil {
		gctx.Close()
		return fmt.Errorf("transport: open usb %s: %w", t.name, err)
	}
	if dev == nil {
		gctx.Close()
		return fmt.Errorf("transport: usb device %s not found", t.name)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		gctx.Close()
		return fmt.Errorf("transport: set auto detach on %s: %w", t.name, err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		gctx.Close()
		return fmt.Errorf("transport: claim config on %s: %w", t.name, err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		gctx.Close()
		return fmt.Errorf("transport: claim interface on %s: %w", t.name, err)
	}
	epIn, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		gctx.Close()
		return fmt.Errorf("transport: claim IN endpoint on %s: %w", t.name, err)
	}
	epOut, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		gctx.Close()
		return fmt.Errorf("transport: claim OUT endpoint on %s: %w", t.name, err)
	}

	t.ctx, t.dev, t.cfg, t.intf, t.epIn, t.epOut = gctx, dev, cfg, intf, epIn, epOut

	if err := t.programBaud(baud); err != nil {
		t.Close()
		return err
	}
	return nil
}

func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

func (t *USBTransport) ReadExactUntil(ctx context.Context, want int, timeout time.Duration, match func([]byte) bool) ([]byte, error) {
	if t.epIn == nil {
		return nil, fmt.Errorf("transport: %s not open", t.name)
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, want)
	chunk := make([]byte, t.epIn.Desc.MaxPacketSize)

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

		readCtx, cancel := context.WithTimeout(ctx, remaining)
		n, err := t.epIn.ReadContext(readCtx, chunk)
		cancel()
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if readCtx.Err() != nil {
				continue // this read's slice timed out; outer loop rechecks the overall deadline
			}
			return buf, fmt.Errorf("transport: usb read %s: %w", t.name, err)
		}
	}
}

func (t *USBTransport) WriteAll(ctx context.Context, data []byte) error {
	if t.epOut == nil {
		return fmt.Errorf("transport: %s not open", t.name)
	}
	for len(data) > 0 {
		n, err := t.epOut.WriteContext(ctx, data)
		if err != nil {
			return fmt.Errorf("transport: usb write %s: %w", t.name, err)
		}
		data = data[n:]
	}
	return nil
}

// SetSignals is a no-op for the FTDI/CH34x/CP210x/CDC-ACM bridges over raw
// bulk USB: reset is always driven through the RTC watchdog path
// (internal/reset) when this backing is in use, since there is no DTR/RTS
// line to assert.
func (t *USBTransport) SetSignals(Signals) error { return nil }

func (t *USBTransport) SetBaud(baud int) error {
	if t.dev == nil {
		return fmt.Errorf("transport: %s not open", t.name)
	}
	return t.programBaud(baud)
}

func (t *USBTransport) Info() Info {
	return Info{VID: t.vid, PID: t.pid, Name: t.name}
}

func (t *USBTransport) programBaud(baud int) error {
	switch t.bridge {
	case BridgeFTDI:
		return t.programFTDIBaud(baud)
	case BridgeCH34x:
		return t.programCH34xBaud(baud)
	case BridgeCP210x:
		return t.programCP210xBaud(baud)
	default:
		return t.programCDCACMLineCoding(baud)
	}
}

// ftdiBaudDivisor implements spec §4.1's FTDI divisor computation exactly:
// base clock 3 MHz, 14-bit integer + 3-bit fractional divisor.
func ftdiBaudDivisor(baud int) (value uint16, index uint16) {
	d := 3_000_000.0 / float64(baud)
	intPart := uint32(d)
	frac := d - float64(intPart)

	edges := [7]float64{0.0625, 0.1875, 0.3125, 0.4375, 0.5625, 0.6875, 0.8125}
	var sub uint32
	for _, e := range edges {
		if frac >= e {
			sub++
		}
	}

	value = uint16((intPart & 0xFF) | (sub << 14) | (((intPart >> 8) & 0x3F) << 8))
	index = uint16((intPart >> 14) & 0x03)
	return value, index
}

const (
	ftdiSIOSetBaudrate = 0x03
)

func (t *USBTransport) programFTDIBaud(baud int) error {
	value, index := ftdiBaudDivisor(baud)
	_, err := t.dev.Control(0x40, ftdiSIOSetBaudrate, value, index, nil)
	if err != nil {
		return fmt.Errorf("transport: FTDI set baud %d: %w", baud, err)
	}
	return nil
}

// ch34xBaudFactors computes the CH34x's split baud programming values for
// the 0x9A vendor request, indices 0x1312 (baud factor/divisor byte) and
// 0x0F2C (prescaler), per spec §4.1.
func ch34xBaudFactors(baud int) (factor uint16, divisor byte) {
	const chipClock = 12_000_000
	div := byte(3)
	fact := chipClock / 16
	for i := 0; i < 3 && fact > 0xFFFF; i++ {
		div--
		fact >>= 3
	}
	f := uint32(fact) / uint32(baud)
	if f == 0 {
		f = 1
	}
	fact = int(f)
	factor = uint16(0x10000 - fact)
	return factor, div
}

func (t *USBTransport) programCH34xBaud(baud int) error {
	factor, divisor := ch34xBaudFactors(baud)
	if _, err := t.dev.Control(0x40, 0x9A, 0x1312, uint16(factor), nil); err != nil {
		return fmt.Errorf("transport: CH34x set baud factor: %w", err)
	}
	if _, err := t.dev.Control(0x40, 0x9A, 0x0F2C, uint16(divisor), nil); err != nil {
		return fmt.Errorf("transport: CH34x set baud divisor: %w", err)
	}
	return nil
}

const (
	cp210xIFCEnable      = 0x00
	cp210xSetLineCtl     = 0x03
	cp210xSetMHS         = 0x07
	cp210xSetBaudrate    = 0x1E
	cp210xLineCtl8N1     = 0x0800
	cp210xMHSDTRRTSBits  = 0x0303
)

func (t *USBTransport) programCP210xBaud(baud int) error {
	if _, err := t.dev.Control(0x41, cp210xIFCEnable, 1, 0, nil); err != nil {
		return fmt.Errorf("transport: CP210x IFC_ENABLE: %w", err)
	}
	if _, err := t.dev.Control(0x41, cp210xSetLineCtl, cp210xLineCtl8N1, 0, nil); err != nil {
		return fmt.Errorf("transport: CP210x SET_LINE_CTL: %w", err)
	}
	if _, err := t.dev.Control(0x41, cp210xSetMHS, cp210xMHSDTRRTSBits, 0, nil); err != nil {
		return fmt.Errorf("transport: CP210x SET_MHS: %w", err)
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(baud))
	if _, err := t.dev.Control(0x41, cp210xSetBaudrate, 0, 0, payload); err != nil {
		return fmt.Errorf("transport: CP210x IFC_SET_BAUDRATE: %w", err)
	}
	return nil
}

// CDC-ACM line coding, class request 0x20 (SET_LINE_CODING) per spec's
// "0x20/0x22" reference: dwDTERate, bCharFormat, bParityType, bDataBits.
func (t *USBTransport) programCDCACMLineCoding(baud int) error {
	payload := make([]byte, 7)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(baud))
	payload[4] = 0 // 1 stop bit
	payload[5] = 0 // no parity
	payload[6] = 8 // data bits
	if _, err := t.dev.Control(0x21, 0x20, 0, 0, payload); err != nil {
		return fmt.Errorf("transport: CDC-ACM SET_LINE_CODING: %w", err)
	}
	// SET_CONTROL_LINE_STATE (0x22): assert DTR|RTS so the device sees the
	// host as present.
	if _, err := t.dev.Control(0x21, 0x22, 0x0003, 0, nil); err != nil {
		return fmt.Errorf("transport: CDC-ACM SET_CONTROL_LINE_STATE: %w", err)
	}
	return nil
}
