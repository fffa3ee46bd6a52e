package fsimage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_LittleFS(t *testing.T) {
	data := make([]byte, 512*1024)
	for i := range data {
		data[i] = 0xFF
	}
	binary.LittleEndian.PutUint16(data[2:4], 2) // major version 2
	copy(data[8:16], []byte("littlefs"))

	format, bs := Detect(data, DesktopBlockSizes)
	assert.Equal(t, LittleFS, format)
	assert.Equal(t, DesktopBlockSizes[0], bs)
}

func TestDetect_LittleFS_CorruptedTagIsUnknown(t *testing.T) {
	data := make([]byte, 512*1024)
	for i := range data {
		data[i] = 0xFF
	}
	binary.LittleEndian.PutUint16(data[2:4], 2)
	copy(data[8:16], []byte("littlefs"))
	data[11] = 'X'

	format, _ := Detect(data, DesktopBlockSizes)
	assert.Equal(t, Unknown, format)
}

func TestDetect_FAT(t *testing.T) {
	data := make([]byte, 1024)
	copy(data[54:62], []byte("FAT16   "))
	data[510], data[511] = 0x55, 0xAA

	format, _ := Detect(data, DesktopBlockSizes)
	assert.Equal(t, FAT, format)
}

func TestDetect_FAT32Prefix(t *testing.T) {
	data := make([]byte, 1024)
	copy(data[82:90], []byte("FAT32   "))
	data[510], data[511] = 0x55, 0xAA

	format, _ := Detect(data, DesktopBlockSizes)
	assert.Equal(t, FAT, format)
}

func TestDetect_SPIFFS(t *testing.T) {
	data := make([]byte, 256)
	binary.LittleEndian.PutUint32(data[0:4], 0x20140529)

	format, _ := Detect(data, DesktopBlockSizes)
	assert.Equal(t, SPIFFS, format)
}

func TestDetect_Unknown(t *testing.T) {
	data := make([]byte, 1024)
	format, _ := Detect(data, DesktopBlockSizes)
	assert.Equal(t, Unknown, format)
}
