package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"espflash/internal/chip"
	"espflash/internal/protocol"
	"espflash/internal/transport"
)

type fakeRegs struct {
	values map[uint32]uint32
}

func newFakeRegs() *fakeRegs { return &fakeRegs{values: map[uint32]uint32{}} }

func (f *fakeRegs) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	return f.values[addr], nil
}

func (f *fakeRegs) WriteReg(ctx context.Context, addr, value, mask uint32) error {
	f.values[addr] = (f.values[addr] &^ mask) | (value & mask)
	return nil
}

type fakeTransport struct {
	dtr, rts *bool
}

func (f *fakeTransport) Open(context.Context, int) error { return nil }
func (f *fakeTransport) Close() error                    { return nil }
func (f *fakeTransport) ReadExactUntil(context.Context, int, time.Duration, func([]byte) bool) ([]byte, error) {
	return nil, nil
}
func (f *fakeTransport) WriteAll(context.Context, []byte) error { return nil }
func (f *fakeTransport) SetSignals(s transport.Signals) error {
	if s.DTR != nil {
		f.dtr = s.DTR
	}
	if s.RTS != nil {
		f.rts = s.RTS
	}
	return nil
}
func (f *fakeTransport) SetBaud(int) error   { return nil }
func (f *fakeTransport) Info() transport.Info { return transport.Info{} }

func TestSelect_NoUSBAlwaysClassic(t *testing.T) {
	regs := newFakeRegs()
	strat, err := Select(context.Background(), chip.Get(chip.ESP8266), 0, regs)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if strat != StrategyClassic {
		t.Errorf("Select(ESP8266) = %v, want StrategyClassic", strat)
	}
}

func TestSelect_JTAGSentinel(t *testing.T) {
	d := chip.Get(chip.ESP32C3)
	addr, _ := d.UARTDevBufNoAddr(1)
	regs := newFakeRegs()
	regs.values[addr] = uint32(d.USB.JTAGSentinel)

	strat, err := Select(context.Background(), d, 1, regs)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if strat != StrategyUSBJTAGSerial {
		t.Errorf("Select(ESP32-C3, JTAG sentinel) = %v, want StrategyUSBJTAGSerial", strat)
	}
}

func TestSelect_OTGSentinelOnS2IsUSBOTG(t *testing.T) {
	d := chip.Get(chip.ESP32S2)
	addr, _ := d.UARTDevBufNoAddr(0)
	regs := newFakeRegs()
	regs.values[addr] = uint32(d.USB.OTGSentinel)

	strat, err := Select(context.Background(), d, 0, regs)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if strat != StrategyUSBOTG {
		t.Errorf("Select(ESP32-S2, OTG sentinel) = %v, want StrategyUSBOTG", strat)
	}
}

func TestWatchdogReset_UnlocksAndRelocks(t *testing.T) {
	d := chip.Get(chip.ESP32C3)
	regs := newFakeRegs()
	if err := WatchdogReset(context.Background(), d, regs, nil); err != nil {
		t.Fatalf("WatchdogReset: %v", err)
	}
	if regs.values[d.WDT.WriteProtect] != 0 {
		t.Errorf("WDT write-protect left at %#x, want relocked (0)", regs.values[d.WDT.WriteProtect])
	}
	if regs.values[d.WDT.Config0]&wdtConfig0EnableBit == 0 {
		t.Error("WDT config0 enable bit not set")
	}
}

func TestWatchdogReset_NoWriteKeyIsNotSupported(t *testing.T) {
	d := chip.Descriptor{Name: "no-wdt"}
	regs := newFakeRegs()
	err := WatchdogReset(context.Background(), d, regs, nil)
	if !errors.Is(err, protocol.ErrNotSupported) {
		t.Fatalf("WatchdogReset() error = %v, want wrapping protocol.ErrNotSupported", err)
	}
}

func TestUSBOTGReset_ClearsForceDownloadBoot(t *testing.T) {
	d := chip.Get(chip.ESP32S2)
	regs := newFakeRegs()
	regs.values[d.ForceDownloadBootReg] = d.ForceDownloadBootBit | 0x1

	if err := USBOTGReset(context.Background(), d, regs, nil); err != nil {
		t.Fatalf("USBOTGReset: %v", err)
	}
	if regs.values[d.ForceDownloadBootReg]&d.ForceDownloadBootBit != 0 {
		t.Error("FORCE_DOWNLOAD_BOOT bit not cleared")
	}
}

func TestClassic_DownloadModeSequence(t *testing.T) {
	ft := &fakeTransport{}
	if err := Classic(ft, true); err != nil {
		t.Fatalf("Classic: %v", err)
	}
	if ft.dtr == nil || *ft.dtr != false {
		t.Error("Classic download-mode reset should end with DTR released (false)")
	}
}
