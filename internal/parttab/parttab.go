// Package parttab reads ESP32-family partition tables: a 4 KiB table
// of 32-byte entries living at a fixed flash offset, per spec §6.
// Grounded on the fixed offsets the teacher's single-product flasher
// hard-coded (BootloaderAddress/PartitionsAddress in its esp32c3.go),
// generalized here into a real table reader instead of constants.
package parttab

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TableOffset is the fixed flash address of the partition table on
// every ESP32-family chip.
const TableOffset = 0x8000

// TableSize is the maximum size of the table region.
const TableSize = 0x1000

const (
	entrySize = 32
	magic     = 0x50AA
)

// Type values, spec §6.
const (
	TypeApp  byte = 0x00
	TypeData byte = 0x01
)

// App subtypes.
const (
	SubtypeFactory byte = 0x00
	SubtypeOTAMin  byte = 0x10
	SubtypeOTAMax  byte = 0x15
	SubtypeTest    byte = 0x20
)

// Data subtypes.
const (
	SubtypeOTAData  byte = 0x00
	SubtypePHY      byte = 0x01
	SubtypeNVS      byte = 0x02
	SubtypeCoredump byte = 0x03
	SubtypeNVSKeys  byte = 0x04
	SubtypeEfuse    byte = 0x05
	SubtypeFAT      byte = 0x81
	SubtypeSPIFFS   byte = 0x82
)

var ErrBadMagic = errors.New("parttab: bad entry magic")

// Entry is one partition table row.
type Entry struct {
	Type    byte
	Subtype byte
	Offset  uint32
	Size    uint32
	Label   string
	Flags   uint32
}

// IsApp reports whether e is an app-type partition (factory, an OTA
// slot, or the test slot).
func (e Entry) IsApp() bool { return e.Type == TypeApp }

// IsOTA reports whether e is an app-type OTA slot (ota_0..ota_5).
func (e Entry) IsOTA() bool {
	return e.Type == TypeApp && e.Subtype >= SubtypeOTAMin && e.Subtype <= SubtypeOTAMax
}

// SubtypeName renders a human-readable subtype label for e, mostly
// useful for CLI listings.
func (e Entry) SubtypeName() string {
	if e.Type == TypeApp {
		switch {
		case e.Subtype == SubtypeFactory:
			return "factory"
		case e.IsOTA():
			return fmt.Sprintf("ota_%d", e.Subtype-SubtypeOTAMin)
		case e.Subtype == SubtypeTest:
			return "test"
		}
	}
	if e.Type == TypeData {
		switch e.Subtype {
		case SubtypeOTAData:
			return "ota"
		case SubtypePHY:
			return "phy"
		case SubtypeNVS:
			return "nvs"
		case SubtypeCoredump:
			return "coredump"
		case SubtypeNVSKeys:
			return "nvs_keys"
		case SubtypeEfuse:
			return "efuse"
		case SubtypeFAT:
			return "fat"
		case SubtypeSPIFFS:
			return "spiffs"
		}
	}
	return fmt.Sprintf("0x%02X", e.Subtype)
}

// Parse decodes a 4 KiB partition table image (the bytes read from
// TableOffset), stopping at the first entry whose magic is 0xFFFF (the
// table's unused tail is 0xFF-filled). Any other magic than 0x50AA is an
// error wrapping ErrBadMagic.
func Parse(data []byte) ([]Entry, error) {
	var entries []Entry
	for off := 0; off+entrySize <= len(data); off += entrySize {
		raw := data[off : off+entrySize]
		gotMagic := binary.LittleEndian.Uint16(raw[0:2])
		if gotMagic == 0xFFFF {
			break
		}
		if gotMagic != magic {
			return nil, fmt.Errorf("%w: entry %d has 0x%04X", ErrBadMagic, len(entries), gotMagic)
		}
		entries = append(entries, Entry{
			Type:    raw[2],
			Subtype: raw[3],
			Offset:  binary.LittleEndian.Uint32(raw[4:8]),
			Size:    binary.LittleEndian.Uint32(raw[8:12]),
			Label:   cString(raw[12:28]),
			Flags:   binary.LittleEndian.Uint32(raw[28:32]),
		})
	}
	return entries, nil
}

// Serialize encodes entries back into a TableSize image, 0xFF-padded.
func Serialize(entries []Entry) []byte {
	out := make([]byte, TableSize)
	for i := range out {
		out[i] = 0xFF
	}
	for i, e := range entries {
		off := i * entrySize
		if off+entrySize > len(out) {
			break
		}
		raw := out[off : off+entrySize]
		binary.LittleEndian.PutUint16(raw[0:2], magic)
		raw[2] = e.Type
		raw[3] = e.Subtype
		binary.LittleEndian.PutUint32(raw[4:8], e.Offset)
		binary.LittleEndian.PutUint32(raw[8:12], e.Size)
		label := raw[12:28]
		for j := range label {
			label[j] = 0
		}
		copy(label, []byte(e.Label))
		binary.LittleEndian.PutUint32(raw[28:32], e.Flags)
	}
	return out
}

// Find returns the first entry matching type/subtype, if any.
func Find(entries []Entry, typ, subtype byte) (Entry, bool) {
	for _, e := range entries {
		if e.Type == typ && e.Subtype == subtype {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByLabel returns the first entry whose Label matches name, if any.
// This is how a CLI resolves a partition name (e.g. "nvs", "ota_0") to an
// offset without the caller knowing its type/subtype pair.
func FindByLabel(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Label == name {
			return e, true
		}
	}
	return Entry{}, false
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
