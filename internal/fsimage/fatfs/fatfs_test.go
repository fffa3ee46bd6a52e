package fatfs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalFAT12 constructs a tiny FAT12 volume (1 reserved sector,
// 1 FAT sector, 1 root-dir sector, 1 data sector) with a single file
// "FILE.TXT" occupying cluster 2, matching the byte offsets
// gofat.BPB/gofat.EntryHeader expect.
func buildMinimalFAT12(t *testing.T, content []byte) []byte {
	t.Helper()
	const sectorSize = 512
	data := make([]byte, 8*sectorSize)

	binary.LittleEndian.PutUint16(data[11:13], sectorSize)
	data[13] = 1 // SectorsPerCluster
	binary.LittleEndian.PutUint16(data[14:16], 1) // ReservedSectorCount
	data[16] = 1                                  // NumFATs
	binary.LittleEndian.PutUint16(data[17:19], 16) // RootEntryCount
	binary.LittleEndian.PutUint16(data[19:21], 8)  // TotalSectors16
	data[21] = 0xF8                                // Media
	binary.LittleEndian.PutUint16(data[22:24], 1)  // FATSize16
	data[510], data[511] = 0x55, 0xAA

	// FAT area starts at sector 1: mark cluster 2 as end-of-chain.
	fatStart := 1 * sectorSize
	data[fatStart+3] = 0xFF
	data[fatStart+4] = 0xFF

	// Root directory at sector 2: one 32-byte entry for FILE.TXT.
	rootStart := 2 * sectorSize
	copy(data[rootStart:rootStart+11], []byte("FILE    TXT"))
	data[rootStart+11] = 0x20 // archive attribute, not a directory
	binary.LittleEndian.PutUint16(data[rootStart+26:rootStart+28], 2) // FirstClusterLO
	binary.LittleEndian.PutUint32(data[rootStart+28:rootStart+32], uint32(len(content)))

	// Data area at sector 3 (cluster 2).
	dataStart := 3 * sectorSize
	copy(data[dataStart:], content)

	return data
}

func TestMount_ListAndRead(t *testing.T) {
	content := []byte("hello fat")
	data := buildMinimalFAT12(t, content)

	img, err := Mount(data)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	names, err := img.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 || names[0] != "FILE.TXT" {
		t.Fatalf("List() = %v, want [FILE.TXT]", names)
	}

	got, err := img.Read("FILE.TXT")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Read() = %q, want %q", got, content)
	}
}

func TestMount_NoBootSignature(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := Mount(data); err != ErrNoBootSignature {
		t.Errorf("Mount() error = %v, want ErrNoBootSignature", err)
	}
}

func TestMount_OffsetRetryAt0x1000(t *testing.T) {
	content := []byte("shifted")
	inner := buildMinimalFAT12(t, content)
	wrapped := make([]byte, 0x1000+len(inner))
	copy(wrapped[0x1000:], inner)

	img, err := Mount(wrapped)
	if err != nil {
		t.Fatalf("Mount() with 0x1000 offset error = %v", err)
	}
	got, err := img.Read("FILE.TXT")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Read() = %q, want %q", got, content)
	}
}

func TestRead_NotFound(t *testing.T) {
	img, err := Mount(buildMinimalFAT12(t, []byte("x")))
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if _, err := img.Read("MISSING.TXT"); err != ErrNotFound {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}
