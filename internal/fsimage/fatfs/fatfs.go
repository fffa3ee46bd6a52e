// Package fatfs mounts FAT12/16/32 flash regions, delegating the wire
// layout to github.com/aligator/gofat's on-disk structs (BPB,
// EntryHeader) rather than re-deriving the byte offsets, per spec
// §4.7's "delegate to a FAT library-equivalent driver."
package fatfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/aligator/gofat"
)

var (
	ErrNoBootSignature = errors.New("fatfs: no 0x55AA boot signature at offset 0 or 0x1000")
	ErrNotFound        = errors.New("fatfs: path not found")
	ErrIsDir           = errors.New("fatfs: is a directory")
)

// Kind names the FAT variant, determined from cluster count per the
// standard Microsoft formula.
type Kind int

const (
	FAT12 Kind = iota
	FAT16
	FAT32
)

// Image is a mounted FAT filesystem, read-only over the byte slice it
// was mounted from.
type Image struct {
	data          []byte
	bpb           gofat.BPB
	kind          Kind
	fatSize       uint32
	rootCluster   uint32 // FAT32 only
	firstDataSec  uint32
	rootDirSector uint32 // FAT12/16 only
	rootDirSectors uint32
}

// Mount parses the boot sector at offset 0. If no 0x55AA signature is
// present there but one is present at 0x1000, spec §4.7 requires
// retrying against the slice starting at that offset (the layout ESP
// tooling uses when a FAT image is embedded inside a larger container).
func Mount(data []byte) (*Image, error) {
	if img, err := mountAt(data); err == nil {
		return img, nil
	}
	if len(data) > 0x1000 {
		if img, err := mountAt(data[0x1000:]); err == nil {
			return img, nil
		}
	}
	return nil, ErrNoBootSignature
}

func mountAt(data []byte) (*Image, error) {
	if len(data) < 512 || data[510] != 0x55 || data[511] != 0xAA {
		return nil, ErrNoBootSignature
	}

	var bpb gofat.BPB
	if err := binary.Read(bytes.NewReader(data[:90]), binary.LittleEndian, &bpb); err != nil {
		return nil, fmt.Errorf("fatfs: decode BPB: %w", err)
	}

	totalSectors := uint32(bpb.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = bpb.TotalSectors32
	}
	rootDirSectors := (uint32(bpb.RootEntryCount)*32 + uint32(bpb.BytesPerSector) - 1) / uint32(bpb.BytesPerSector)

	fatSize := uint32(bpb.FATSize16)
	var rootCluster uint32
	if fatSize == 0 {
		var fat32 gofat.FAT32SpecificData
		if err := binary.Read(bytes.NewReader(bpb.FATSpecificData[:28]), binary.LittleEndian, &fat32); err != nil {
			return nil, fmt.Errorf("fatfs: decode FAT32 fields: %w", err)
		}
		fatSize = fat32.FatSize
		rootCluster = uint32(fat32.RootCluster)
	}

	dataSectors := totalSectors - (uint32(bpb.ReservedSectorCount) + uint32(bpb.NumFATs)*fatSize + rootDirSectors)
	clusterCount := dataSectors / uint32(bpb.SectorsPerCluster)

	kind := FAT32
	switch {
	case clusterCount < 4085:
		kind = FAT12
	case clusterCount < 65525:
		kind = FAT16
	}

	firstDataSector := uint32(bpb.ReservedSectorCount) + uint32(bpb.NumFATs)*fatSize + rootDirSectors

	return &Image{
		data:           data,
		bpb:            bpb,
		kind:           kind,
		fatSize:        fatSize,
		rootCluster:    rootCluster,
		firstDataSec:   firstDataSector,
		rootDirSector:  uint32(bpb.ReservedSectorCount) + uint32(bpb.NumFATs)*fatSize,
		rootDirSectors: rootDirSectors,
	}, nil
}

func (img *Image) sectorBytes(sector uint32) []byte {
	off := int(sector) * int(img.bpb.BytesPerSector)
	end := off + int(img.bpb.BytesPerSector)
	if end > len(img.data) {
		return nil
	}
	return img.data[off:end]
}

func (img *Image) clusterToSector(cluster uint32) uint32 {
	return img.firstDataSec + (cluster-2)*uint32(img.bpb.SectorsPerCluster)
}

func (img *Image) nextCluster(cluster uint32) uint32 {
	switch img.kind {
	case FAT32:
		fatOffset := cluster * 4
		sector := uint32(img.bpb.ReservedSectorCount) + fatOffset/uint32(img.bpb.BytesPerSector)
		entOff := fatOffset % uint32(img.bpb.BytesPerSector)
		sec := img.sectorBytes(sector)
		if sec == nil || int(entOff)+4 > len(sec) {
			return 0x0FFFFFFF
		}
		return binary.LittleEndian.Uint32(sec[entOff:entOff+4]) & 0x0FFFFFFF
	case FAT16:
		fatOffset := cluster * 2
		sector := uint32(img.bpb.ReservedSectorCount) + fatOffset/uint32(img.bpb.BytesPerSector)
		entOff := fatOffset % uint32(img.bpb.BytesPerSector)
		sec := img.sectorBytes(sector)
		if sec == nil || int(entOff)+2 > len(sec) {
			return 0xFFFF
		}
		return uint32(binary.LittleEndian.Uint16(sec[entOff : entOff+2]))
	default: // FAT12
		fatOffset := cluster + cluster/2
		sector := uint32(img.bpb.ReservedSectorCount) + fatOffset/uint32(img.bpb.BytesPerSector)
		entOff := fatOffset % uint32(img.bpb.BytesPerSector)
		sec := img.sectorBytes(sector)
		if sec == nil || int(entOff)+2 > len(sec) {
			return 0xFFF
		}
		val := binary.LittleEndian.Uint16(sec[entOff : entOff+2])
		if cluster%2 == 0 {
			return uint32(val & 0x0FFF)
		}
		return uint32(val >> 4)
	}
}

func (img *Image) isEOC(cluster uint32) bool {
	switch img.kind {
	case FAT32:
		return cluster >= 0x0FFFFFF8
	case FAT16:
		return cluster >= 0xFFF8
	default:
		return cluster >= 0xFF8
	}
}

func (img *Image) readClusterChain(startCluster uint32) []byte {
	clusterSize := int(img.bpb.SectorsPerCluster) * int(img.bpb.BytesPerSector)
	var out []byte
	cluster := startCluster
	for cluster >= 2 && !img.isEOC(cluster) {
		sector := img.clusterToSector(cluster)
		off := int(sector) * int(img.bpb.BytesPerSector)
		if off+clusterSize > len(img.data) {
			break
		}
		out = append(out, img.data[off:off+clusterSize]...)
		cluster = img.nextCluster(cluster)
	}
	return out
}

// Entry is one directory entry: an 8.3 name plus size and directory flag.
type Entry struct {
	Name  string
	IsDir bool
	Size  uint32

	firstCluster uint32
}

func (img *Image) rootEntries() ([]Entry, error) {
	if img.kind == FAT32 {
		return img.decodeEntries(img.readClusterChain(img.rootCluster))
	}
	var buf []byte
	for s := img.rootDirSector; s < img.rootDirSector+img.rootDirSectors; s++ {
		buf = append(buf, img.sectorBytes(s)...)
	}
	return img.decodeEntries(buf)
}

func (img *Image) decodeEntries(buf []byte) ([]Entry, error) {
	var out []Entry
	for off := 0; off+32 <= len(buf); off += 32 {
		raw := buf[off : off+32]
		if raw[0] == 0x00 {
			break // no more entries
		}
		if raw[0] == 0xE5 {
			continue // deleted
		}
		var hdr gofat.EntryHeader
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &hdr); err != nil {
			return nil, fmt.Errorf("fatfs: decode entry: %w", err)
		}
		if hdr.Attribute == 0x0F {
			continue // long filename fragment, unsupported: 8.3 view only
		}
		name := formatShortName(hdr.Name)
		if name == "." || name == ".." {
			continue
		}
		out = append(out, Entry{
			Name:         name,
			IsDir:        hdr.Attribute&0x10 != 0,
			Size:         hdr.FileSize,
			firstCluster: uint32(hdr.FirstClusterHI)<<16 | uint32(hdr.FirstClusterLO),
		})
	}
	return out, nil
}

func formatShortName(raw [11]byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// List returns the root directory's entry names.
func (img *Image) List() ([]string, error) {
	entries, err := img.rootEntries()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Read returns the bytes stored at a root-level path.
func (img *Image) Read(name string) ([]byte, error) {
	entries, err := img.rootEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !strings.EqualFold(e.Name, name) {
			continue
		}
		if e.IsDir {
			return nil, ErrIsDir
		}
		data := img.readClusterChain(e.firstCluster)
		if uint32(len(data)) > e.Size {
			data = data[:e.Size]
		}
		return data, nil
	}
	return nil, ErrNotFound
}
