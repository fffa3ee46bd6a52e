// Package reset implements the three strategies spec §4.6 defines for
// driving a target into download or firmware mode: classic DTR/RTS
// toggling for external-UART bridges, and two RTC-watchdog-register
// sequences for chips whose USB path carries no DTR/RTS signal.
package reset

import (
	"context"
	"fmt"
	"time"

	"espflash/internal/chip"
	"espflash/internal/eventlog"
	"espflash/internal/protocol"
	"espflash/internal/transport"
)

// RegisterIO is the subset of the protocol session a reset strategy needs
// to poke chip registers directly. It keeps this package's reset logic
// decoupled from the concrete *protocol.Session type, so a fake register
// backend is enough to test Select/WatchdogReset/USBOTGReset.
type RegisterIO interface {
	ReadReg(ctx context.Context, addr uint32) (uint32, error)
	WriteReg(ctx context.Context, addr, value, mask uint32) error
}

// Strategy names which reset path applies to a connected device.
type Strategy int

const (
	StrategyClassic Strategy = iota
	StrategyUSBJTAGSerial
	StrategyUSBOTG
)

func (s Strategy) String() string {
	switch s {
	case StrategyClassic:
		return "classic"
	case StrategyUSBJTAGSerial:
		return "usb-jtag-serial"
	case StrategyUSBOTG:
		return "usb-otg"
	default:
		return "unknown"
	}
}

// Select consults the chip descriptor's UARTDEV_BUF_NO sentinel (spec
// §4.6) to choose a strategy. Families with no USB path (ESP8266, vanilla
// ESP32) always use the classic strategy. ESP32-S2 and ESP32-P4 report
// StrategyUSBOTG because they need the extra FORCE_DOWNLOAD_BOOT clear;
// every other USB-capable family reports StrategyUSBJTAGSerial.
func Select(ctx context.Context, d chip.Descriptor, revision int, regs RegisterIO) (Strategy, error) {
	if d.USB == nil {
		return StrategyClassic, nil
	}
	addr, ok := d.UARTDevBufNoAddr(revision)
	if !ok {
		return StrategyClassic, nil
	}
	value, err := regs.ReadReg(ctx, addr)
	if err != nil {
		return StrategyClassic, fmt.Errorf("reset: read UARTDEV_BUF_NO at %#x: %w", addr, err)
	}
	sentinel := byte(value)
	switch sentinel {
	case d.USB.OTGSentinel:
		if d.Family == chip.ESP32S2 || d.Family == chip.ESP32P4 {
			return StrategyUSBOTG, nil
		}
		return StrategyUSBJTAGSerial, nil
	case d.USB.JTAGSentinel:
		return StrategyUSBJTAGSerial, nil
	default:
		return StrategyClassic, nil
	}
}

// Classic drives the RTS/DTR sequence spec §4.6 describes: assert EN-low
// via RTS for at least 100ms, and when entering download mode hold DTR
// high (IO0 low) through the pulse, releasing it 50ms after EN comes back
// up.
func Classic(t transport.Transport, downloadMode bool) error {
	high, low := transport.Bool(true), transport.Bool(false)

	if downloadMode {
		if err := t.SetSignals(transport.Signals{RTS: high, DTR: low}); err != nil {
			return fmt.Errorf("reset: assert EN: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
		if err := t.SetSignals(transport.Signals{RTS: low, DTR: high}); err != nil {
			return fmt.Errorf("reset: assert IO0, release EN: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
		if err := t.SetSignals(transport.Signals{DTR: low}); err != nil {
			return fmt.Errorf("reset: release IO0: %w", err)
		}
		return nil
	}

	if err := t.SetSignals(transport.Signals{RTS: high}); err != nil {
		return fmt.Errorf("reset: assert EN: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := t.SetSignals(transport.Signals{RTS: low}); err != nil {
		return fmt.Errorf("reset: release EN: %w", err)
	}
	return nil
}

// wdtConfig1Stage0Ticks is the CONFIG1 stage duration spec §4.6 calls out
// (~2000ms), encoded as watchdog clock ticks. The RTC watchdog counts in
// units of its own slow-clock ticks; espflash uses the ROM's own
// approximation of 1 tick ≈ 1 RTC slow-clock cycle at the nominal
// 150kHz RTC clock, matching esptool's own WDT reset constant.
const wdtConfig1Stage0Ticks = 2000 * 150 // ~2000ms at ~150kHz RTC slow clock

const (
	wdtConfig0EnableBit    = 1 << 31
	wdtConfig0Stage0Reset  = 0x4 << 28 // stage0 action = system reset
	wdtConfig0Stage0Enable = 1 << 30
)

// WatchdogReset implements the USB-JTAG/Serial strategy: unlock the RTC
// watchdog with the family's write key, arm a ~2000ms stage-0
// system-reset, enable, then relock. The caller's port becomes invalid
// once the device re-enumerates; espflash signals this via EventSink
// rather than leaving callers to poll a dead handle.
func WatchdogReset(ctx context.Context, d chip.Descriptor, regs RegisterIO, sink eventlog.EventSink) error {
	sink = eventlog.OrNoopSink(sink)
	if d.WDT.WriteKey == 0 {
		return fmt.Errorf("%w: %s has no RTC watchdog reset path", protocol.ErrNotSupported, d.Name)
	}

	if err := regs.WriteReg(ctx, d.WDT.WriteProtect, d.WDT.WriteKey, 0xFFFFFFFF); err != nil {
		return fmt.Errorf("reset: unlock RTC WDT: %w", err)
	}
	if err := regs.WriteReg(ctx, d.WDT.Config1, wdtConfig1Stage0Ticks, 0xFFFFFFFF); err != nil {
		return fmt.Errorf("reset: program RTC WDT stage0: %w", err)
	}
	config0 := uint32(wdtConfig0EnableBit | wdtConfig0Stage0Enable | wdtConfig0Stage0Reset)
	if err := regs.WriteReg(ctx, d.WDT.Config0, config0, 0xFFFFFFFF); err != nil {
		return fmt.Errorf("reset: enable RTC WDT: %w", err)
	}
	if err := regs.WriteReg(ctx, d.WDT.WriteProtect, 0, 0xFFFFFFFF); err != nil {
		return fmt.Errorf("reset: relock RTC WDT: %w", err)
	}

	sink.PortWillChange("usb-jtag-serial watchdog reset: device will re-enumerate")
	return nil
}

// USBOTGReset implements the USB-OTG native strategy: clear
// FORCE_DOWNLOAD_BOOT in RTC_CNTL_OPTION1 so the next boot runs firmware
// instead of re-entering ROM download, then perform the same watchdog
// sequence as WatchdogReset.
func USBOTGReset(ctx context.Context, d chip.Descriptor, regs RegisterIO, sink eventlog.EventSink) error {
	if d.ForceDownloadBootReg == 0 {
		return fmt.Errorf("reset: %s has no FORCE_DOWNLOAD_BOOT latch", d.Name)
	}
	current, err := regs.ReadReg(ctx, d.ForceDownloadBootReg)
	if err != nil {
		return fmt.Errorf("reset: read RTC_CNTL_OPTION1: %w", err)
	}
	cleared := current &^ d.ForceDownloadBootBit
	if err := regs.WriteReg(ctx, d.ForceDownloadBootReg, cleared, 0xFFFFFFFF); err != nil {
		return fmt.Errorf("reset: clear FORCE_DOWNLOAD_BOOT: %w", err)
	}
	return WatchdogReset(ctx, d, regs, sink)
}

// Run picks and executes the correct strategy for a chip. Classic reset
// additionally needs to know whether the caller wants download mode
// (IO0 low) or a plain run-mode reboot; the WDT-based strategies always
// reboot into firmware, so downloadMode is ignored for them (spec's
// state machine only reaches these strategies after a stub session,
// where "reset" always means "go run the firmware").
func Run(ctx context.Context, strategy Strategy, d chip.Descriptor, t transport.Transport, regs RegisterIO, sink eventlog.EventSink, downloadMode bool) error {
	switch strategy {
	case StrategyClassic:
		return Classic(t, downloadMode)
	case StrategyUSBJTAGSerial:
		return WatchdogReset(ctx, d, regs, sink)
	case StrategyUSBOTG:
		return USBOTGReset(ctx, d, regs, sink)
	default:
		return fmt.Errorf("reset: unknown strategy %d", strategy)
	}
}
