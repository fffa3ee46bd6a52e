// Package chip holds the per-family constant tables spec.md calls the
// "chip registry": register bases, EFUSE and watchdog addresses, and the
// magic values used to identify a connected chip before its family is
// known. It replaces the "runtime switch on a family tag" pattern with a
// compile-time table indexed by a Family enum, per the design note on
// global chip registries.
package chip

import (
	"context"
	"fmt"
)

// Family identifies one ESP chip family.
type Family int

const (
	ESP8266 Family = iota
	ESP32
	ESP32S2
	ESP32S3
	ESP32C2
	ESP32C3
	ESP32C5
	ESP32C6
	ESP32C61
	ESP32H2
	ESP32H4
	ESP32H21
	ESP32P4
	ESP32S31
)

func (f Family) String() string {
	if d, ok := registry[f]; ok {
		return d.Name
	}
	return "unknown"
}

// SPIRegisters is the SPI0 controller's sub-register layout used by
// SPI_ATTACH / SPI_SET_PARAMS and by the flasher's direct register pokes.
type SPIRegisters struct {
	Base     uint32
	Usr      uint32
	Usr1     uint32
	Usr2     uint32
	MosiDlen uint32
	MisoDlen uint32
	W0       uint32
}

// EfuseRegisters locates the EFUSE block used to read the MAC address and
// (for revision-dependent chips) the chip revision.
type EfuseRegisters struct {
	Base     uint32
	MacLoOff uint32 // offset from Base to the low MAC word
	MacHiOff uint32 // offset from Base to the high MAC word
	Block1   uint32 // base of EFUSE BLOCK1, used for revision bits
}

// WatchdogRegisters is the RTC watchdog register set the reset sequencer
// pokes directly to force a reboot on chips with no DTR/RTS-wired EN pin.
type WatchdogRegisters struct {
	WriteProtect uint32
	Config0      uint32
	Config1      uint32
	WriteKey     uint32
}

// USBSentinels describes the ROM .bss probe (UARTDEV_BUF_NO) used to tell
// USB-OTG, USB-JTAG/Serial and plain external-UART chips apart at runtime.
// Addr may depend on the chip revision (ESP32-C3/S3/P4); Addr is always
// non-nil for chips this applies to and returns the same address for every
// revision otherwise.
type USBSentinels struct {
	Addr         func(revision int) uint32
	OTGSentinel  byte
	JTAGSentinel byte
}

// Descriptor is the immutable per-family record spec.md §3 calls
// ChipDescriptor.
type Descriptor struct {
	Name             string
	Family           Family
	BootloaderOffset uint32

	SPI   SPIRegisters
	Efuse EfuseRegisters
	WDT   WatchdogRegisters

	// UARTDateReg/UARTDateMagic implement chip-detection method (a): read
	// this legacy register and compare to the magic. Zero UARTDateMagic
	// means the family isn't detectable this way (only ESP8266/ESP32/S2
	// are, per spec §4.3).
	UARTDateReg   uint32
	UARTDateMagic uint32

	// ChipMagic implements detection method (b): the value read back from
	// the common CHIP_DETECT_MAGIC_REG_ADDR (0x40001000).
	ChipMagic uint32

	USB *USBSentinels // nil if the family has no USB-OTG/JTAG path

	StrapGPIO            int  // GPIO0 bootstrap pin, -1 if not applicable
	ForceDownloadBootReg uint32 // RTC_CNTL_OPTION1, 0 if the family lacks the latch
	ForceDownloadBootBit uint32

	SupportsChangeBaudrate bool
	StubEntryAddr          uint32
}

const (
	// CommonChipMagicRegAddr is the register every family exposes at the
	// same address for chip-ID-table detection (spec §4.3 method b).
	CommonChipMagicRegAddr = 0x40001000
	// DefaultWDTWriteKey is the RTC watchdog unlock key shared by every
	// family except where a descriptor overrides it.
	DefaultWDTWriteKey = 0x50D83AA1
)

var registry = map[Family]Descriptor{
	ESP8266: {
		Name:             "ESP8266",
		Family:           ESP8266,
		BootloaderOffset: 0x0000,
		SPI:              SPIRegisters{Base: 0x60000200, Usr: 0x1C, Usr1: 0x20, Usr2: 0x24, MosiDlen: 0x28, MisoDlen: 0x2C, W0: 0x40},
		Efuse:            EfuseRegisters{Base: 0x3FF00050, MacLoOff: 0x04, MacHiOff: 0x08},
		WDT:              WatchdogRegisters{}, // ESP8266 has no RTC WDT reset path; DTR/RTS is the only strategy
		UARTDateReg:      0x3FF20024,
		UARTDateMagic:    0xFFF0C101,
		ChipMagic:        0,
		USB:              nil,
		StrapGPIO:        0,
		SupportsChangeBaudrate: false,
		StubEntryAddr:          0x4010E000,
	},
	ESP32: {
		Name:             "ESP32",
		Family:           ESP32,
		BootloaderOffset: 0x1000,
		SPI:              SPIRegisters{Base: 0x3FF42000, Usr: 0x1C, Usr1: 0x20, Usr2: 0x24, MosiDlen: 0x28, MisoDlen: 0x2C, W0: 0x80},
		Efuse:            EfuseRegisters{Base: 0x3FF5A000, MacLoOff: 0x04, MacHiOff: 0x08, Block1: 0x3FF5A038},
		WDT:              WatchdogRegisters{WriteProtect: 0x3FF48064, Config0: 0x3FF4806C, Config1: 0x3FF48070, WriteKey: DefaultWDTWriteKey},
		UARTDateReg:      0x3FF5F000,
		UARTDateMagic:    0x00F01D83,
		ChipMagic:        0x00F01D83,
		USB:              nil, // vanilla ESP32 has no USB-OTG/JTAG path; classic reset only
		StrapGPIO:        0,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x40080400,
	},
	ESP32S2: {
		Name:             "ESP32-S2",
		Family:           ESP32S2,
		BootloaderOffset: 0x1000,
		SPI:              SPIRegisters{Base: 0x3F402000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:            EfuseRegisters{Base: 0x3F41A000, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x3F41A044},
		WDT:              WatchdogRegisters{WriteProtect: 0x3F408098, Config0: 0x3F4080A8, Config1: 0x3F4080AC, WriteKey: DefaultWDTWriteKey},
		UARTDateReg:      0x3F400074,
		UARTDateMagic:    0x000007C6,
		ChipMagic:        0x000007C6,
		USB: &USBSentinels{
			Addr:         func(int) uint32 { return 0x3F408580 },
			OTGSentinel:  0x2,
			JTAGSentinel: 0x3,
		},
		StrapGPIO:            0,
		ForceDownloadBootReg: 0x3F408128,
		ForceDownloadBootBit: 1 << 8,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4038A800,
	},
	ESP32S3: {
		Name:             "ESP32-S3",
		Family:           ESP32S3,
		BootloaderOffset: 0x0000,
		SPI:              SPIRegisters{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:            EfuseRegisters{Base: 0x60007000, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x60007044},
		WDT:              WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		UARTDateReg:      0,
		UARTDateMagic:    0,
		ChipMagic:        0x9,
		USB: &USBSentinels{
			Addr: func(revision int) uint32 {
				if revision >= 3 {
					return 0x3FCEF03C
				}
				return 0x3FCEF00C
			},
			OTGSentinel:  0x2,
			JTAGSentinel: 0x3,
		},
		StrapGPIO:            0,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x3FCE0000,
	},
	ESP32C2: {
		Name:                   "ESP32-C2",
		Family:                 ESP32C2,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x60008800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x60008844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x6F51306F,
		USB:                    nil,
		StrapGPIO:              8,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4037C000,
	},
	ESP32C3: {
		Name:             "ESP32-C3",
		Family:           ESP32C3,
		BootloaderOffset: 0x0000,
		SPI:              SPIRegisters{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:            EfuseRegisters{Base: 0x60008800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x60008844},
		WDT:              WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:        0x6921506F,
		USB: &USBSentinels{
			Addr: func(revision int) uint32 {
				if revision >= 3 {
					return 0x3FCDF07C
				}
				return 0x3FCDF008
			},
			OTGSentinel:  0x2,
			JTAGSentinel: 0x3,
		},
		StrapGPIO:              8,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x3FCDF000,
	},
	ESP32C5: {
		Name:                   "ESP32-C5",
		Family:                 ESP32C5,
		BootloaderOffset:       0x2000,
		SPI:                    SPIRegisters{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x600B4800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x600B4844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x1101406F,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x4085F084 }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              28,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4085C000,
	},
	ESP32C6: {
		Name:                   "ESP32-C6",
		Family:                 ESP32C6,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x600B0800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x600B0844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x2CE0806F,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x4084FD24 }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              9,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4084C000,
	},
	ESP32C61: {
		Name:                   "ESP32-C61",
		Family:                 ESP32C61,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x600B4800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x600B4844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x0DA1806F,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x4083F0BC }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              9,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4083C000,
	},
	ESP32H2: {
		Name:                   "ESP32-H2",
		Family:                 ESP32H2,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x600B0800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x600B0844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0xD7B73E80,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x4084FCFC }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              9,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4084C000,
	},
	ESP32H4: {
		Name:                   "ESP32-H4",
		Family:                 ESP32H4,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x600B0800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x600B0844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x1DA1806F,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x4084FD10 }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              9,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4084C000,
	},
	ESP32H21: {
		Name:                   "ESP32-H21",
		Family:                 ESP32H21,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x600B4800, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x600B4844},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x32D0806F,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x4083F0A4 }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              9,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4083C000,
	},
	ESP32P4: {
		Name:             "ESP32-P4",
		Family:           ESP32P4,
		BootloaderOffset: 0x2000,
		SPI:              SPIRegisters{Base: 0x5008D000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:            EfuseRegisters{Base: 0x5012D000, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x5012D044},
		WDT:              WatchdogRegisters{WriteProtect: 0x50116098, Config0: 0x501160A8, Config1: 0x501160AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:        0x0BF0D3FF,
		USB: &USBSentinels{
			Addr: func(revision int) uint32 {
				if revision >= 1 {
					return 0x50110FEC
				}
				return 0x50110F60
			},
			OTGSentinel:  0x2,
			JTAGSentinel: 0x3,
		},
		StrapGPIO:              35,
		ForceDownloadBootReg:   0x50116004,
		ForceDownloadBootBit:   1 << 8,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x4FF00000,
	},
	ESP32S31: {
		Name:                   "ESP32-S3-1", // successor die variant, same USB path as ESP32-S3
		Family:                 ESP32S31,
		BootloaderOffset:       0x0000,
		SPI:                    SPIRegisters{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegisters{Base: 0x60007000, MacLoOff: 0x044, MacHiOff: 0x048, Block1: 0x60007044},
		WDT:                    WatchdogRegisters{WriteProtect: 0x60008098, Config0: 0x600080A8, Config1: 0x600080AC, WriteKey: DefaultWDTWriteKey},
		ChipMagic:              0x00000009,
		USB:                    &USBSentinels{Addr: func(int) uint32 { return 0x3FCEF03C }, OTGSentinel: 0x2, JTAGSentinel: 0x3},
		StrapGPIO:              0,
		SupportsChangeBaudrate: true,
		StubEntryAddr:          0x3FCE0000,
	},
}

// Get returns the descriptor for a family. It panics on an unregistered
// family since the Family enum is closed and every value above has an
// entry — an omission would be a programming error caught immediately in
// tests, not a runtime condition callers need to handle.
func Get(f Family) Descriptor {
	d, ok := registry[f]
	if !ok {
		panic(fmt.Sprintf("chip: no descriptor registered for family %d", f))
	}
	return d
}

// All returns every registered descriptor, stable-ordered by Family value,
// for use by detection sweeps.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for f := ESP8266; f <= ESP32S31; f++ {
		if d, ok := registry[f]; ok {
			out = append(out, d)
		}
	}
	return out
}

// ByUARTDateMagic implements chip-detection method (a) from spec §4.3:
// match a value read from a family's legacy UART date register against
// its magic constant.
func ByUARTDateMagic(value uint32) (Descriptor, bool) {
	for _, d := range All() {
		if d.UARTDateMagic != 0 && d.UARTDateMagic == value {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ByChipMagic implements chip-detection method (b): match the value read
// from CommonChipMagicRegAddr against each family's chip-ID magic.
func ByChipMagic(value uint32) (Descriptor, bool) {
	for _, d := range All() {
		if d.ChipMagic != 0 && d.ChipMagic == value {
			return d, true
		}
	}
	return Descriptor{}, false
}

// UARTDevBufNoAddr resolves the revision-dependent ROM .bss probe address
// for chips with a USB path; it returns 0, false for chips with none.
func (d Descriptor) UARTDevBufNoAddr(revision int) (uint32, bool) {
	if d.USB == nil {
		return 0, false
	}
	return d.USB.Addr(revision), true
}

// RegReader is the minimal register-read seam ReadRevision needs, kept
// local to this package (rather than importing internal/protocol's
// Session) to avoid a chip<->protocol import cycle, since protocol
// depends on chip for descriptor lookups.
type RegReader interface {
	ReadReg(ctx context.Context, addr uint32) (uint32, error)
}

// ReadRevision reads the chip revision out of EFUSE BLOCK1: word 3 of
// BLOCK1 packs a wafer major revision in bits [15:14] and minor revision
// in bits [23:20]. It returns them combined as major*10+minor (esptool's
// get_chip_revision combines them as major*100+minor instead); the value
// picks between revision-dependent register addresses. Families with
// Efuse.Block1 == 0 always report revision 0.
func ReadRevision(ctx context.Context, d Descriptor, regs RegReader) (int, error) {
	if d.Efuse.Block1 == 0 {
		return 0, nil
	}
	word3, err := regs.ReadReg(ctx, d.Efuse.Block1+0x0C)
	if err != nil {
		return 0, fmt.Errorf("chip: read EFUSE BLOCK1 word3 for revision: %w", err)
	}
	major := (word3 >> 14) & 0x3
	minor := (word3 >> 20) & 0xF
	return int(major)*10 + int(minor), nil
}
