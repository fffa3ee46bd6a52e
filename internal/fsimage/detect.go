// Package fsimage identifies which embedded filesystem format a flash
// region holds, per spec §4.7's probe order: LittleFS, then FAT, then
// SPIFFS. The per-format codecs live in the littlefs, spiffs and fatfs
// subpackages; this package only decides which one applies.
package fsimage

import (
	"bytes"
	"encoding/binary"
)

// Format names a detected filesystem image type.
type Format int

const (
	Unknown Format = iota
	LittleFS
	FAT
	SPIFFS
)

func (f Format) String() string {
	switch f {
	case LittleFS:
		return "littlefs"
	case FAT:
		return "fat"
	case SPIFFS:
		return "spiffs"
	default:
		return "unknown"
	}
}

// DesktopBlockSizes and ESP8266BlockSizes are the LittleFS block-size
// candidates spec §4.7 lists for the two target classes.
var (
	DesktopBlockSizes = []int{4096, 2048, 1024, 512}
	ESP8266BlockSizes = []int{8192, 4096}
)

var littlefsTag = []byte("littlefs")

// Detect reads up to 8 KiB from the head of data and classifies it,
// probing LittleFS (across the given block-size candidates), then FAT,
// then SPIFFS, in that order. It returns the matched LittleFS block
// size alongside the format when the match is LittleFS; for other
// formats blockSize is 0.
func Detect(data []byte, blockSizes []int) (format Format, blockSize int) {
	head := data
	if len(head) > 8192 {
		head = head[:8192]
	}

	for _, bs := range blockSizes {
		for _, idx := range [2]int{0, 1} {
			off := idx * bs
			if off+16 > len(head) {
				continue
			}
			if !bytes.Equal(head[off+8:off+16], littlefsTag) {
				continue
			}
			major := binary.LittleEndian.Uint16(head[off+2 : off+4])
			if major == 2 {
				return LittleFS, bs
			}
		}
	}

	if len(head) >= 512 {
		if head[510] == 0x55 && head[511] == 0xAA {
			if hasFATPrefix(head, 54) || hasFATPrefix(head, 82) {
				return FAT, 0
			}
		}
	}

	if len(head) >= 4 && binary.LittleEndian.Uint32(head[0:4]) == 0x20140529 {
		return SPIFFS, 0
	}

	return Unknown, 0
}

func hasFATPrefix(data []byte, off int) bool {
	if off+8 > len(data) {
		return false
	}
	return bytes.HasPrefix(data[off:off+8], []byte("FAT"))
}
