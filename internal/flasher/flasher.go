// Package flasher drives a protocol.Session through the write/read/erase
// sequences spec §4.5 describes, choosing raw or DEFLATE-compressed
// frames and the ROM or stub block size depending on the session's mode.
package flasher

import (
	"compress/flate"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"espflash/internal/protocol"
)

// ProgressCallback reports block-level progress during a write or read,
// the same shape the teacher's Flasher used.
type ProgressCallback func(current, total int)

// TransportProfile names a (chunk size, max in-flight bytes) pair for
// stub READ_FLASH streaming, spec §4.5's "three named parameter sets...
// the caller MAY provide a custom triple."
type TransportProfile struct {
	ChunkSize   uint32
	MaxInFlight uint32
}

var (
	// Android is tuned for WebUSB on Android, which tolerates less buffering.
	Android = TransportProfile{ChunkSize: 0x1000, MaxInFlight: 0x2000}
	// DesktopWebSerial matches a browser's Web Serial API buffering.
	DesktopWebSerial = TransportProfile{ChunkSize: 0x1000, MaxInFlight: 0x4000}
	// DesktopNative is the native-serial default, the most aggressive.
	DesktopNative = TransportProfile{ChunkSize: 0x4000, MaxInFlight: 0x10000}
)

// Flasher wraps a protocol.Session with the write/read/erase/verify
// sequences a CLI or higher-level caller needs, grounded on the teacher's
// Flasher (Connect/FlashImage/verifyFlash/Reboot) but generalized to any
// registered chip and both ROM and stub command sets.
type Flasher struct {
	sess     *protocol.Session
	progress ProgressCallback
}

// New wraps sess. sess must already be synced and past chip detection.
func New(sess *protocol.Session) *Flasher {
	return &Flasher{sess: sess}
}

// SetProgressCallback installs cb, replacing any previous callback.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// Attach issues SPI_ATTACH with the default pin configuration.
func (f *Flasher) Attach(ctx context.Context) error {
	_, err := f.sess.Command(ctx, protocol.OpSpiAttach, protocol.SpiAttachData(), f.sess.TimeoutFor(protocol.OpSpiAttach, 0))
	if err != nil {
		return fmt.Errorf("flasher: SPI_ATTACH: %w", err)
	}
	return nil
}

// SetFlashSize issues SPI_SET_PARAMS reporting totalSize as the detected
// flash capacity.
func (f *Flasher) SetFlashSize(ctx context.Context, totalSize uint32) error {
	_, err := f.sess.Command(ctx, protocol.OpSpiSetParams, protocol.SpiSetParamsData(totalSize), f.sess.TimeoutFor(protocol.OpSpiSetParams, 0))
	if err != nil {
		return fmt.Errorf("flasher: SPI_SET_PARAMS: %w", err)
	}
	return nil
}

// CalculateFlashBlocks reports how many blockSize pages dataLen needs,
// rounding up. The teacher's CalculateFlashBlocks hard-coded ROM's
// 0x400 page; this takes blockSize explicitly so it works for both ROM
// and stub sessions.
func CalculateFlashBlocks(dataLen, blockSize int) uint32 {
	if dataLen == 0 {
		return 0
	}
	return uint32((dataLen + blockSize - 1) / blockSize)
}

// CalculateEraseSize rounds dataLen up to the next 4 KiB sector, the
// erase granularity spec §3's FlashImage invariant requires.
func CalculateEraseSize(dataLen int) uint32 {
	if dataLen == 0 {
		return 0
	}
	return uint32((dataLen + protocol.FlashSectorSize - 1) / protocol.FlashSectorSize * protocol.FlashSectorSize)
}

// WriteImage writes data to offset, using FLASH_DEFL_* (compressed) when
// the session is in stub mode and compress is true, otherwise raw
// FLASH_DATA at the mode's native block size. leaveFlashMode controls the
// FLASH_END reboot flag; the flasher's usual choice is false, spec §4.5.
func (f *Flasher) WriteImage(ctx context.Context, data []byte, offset uint32, compress, leaveFlashMode bool) error {
	blockSize := f.sess.Mode().BlockSize()
	beginOp, dataOp, endOp := protocol.OpFlashBegin, protocol.OpFlashData, protocol.OpFlashEnd
	payload := data
	pad := true

	if compress && f.sess.Mode() == protocol.ModeStub {
		compressed, err := deflate(data)
		if err != nil {
			return fmt.Errorf("flasher: deflate: %w", err)
		}
		payload = compressed
		beginOp, dataOp, endOp = protocol.OpFlashDeflBegin, protocol.OpFlashDeflData, protocol.OpFlashDeflEnd
		pad = false
	}

	eraseSize := CalculateEraseSize(len(data))
	numBlocks := CalculateFlashBlocks(len(payload), blockSize)

	beginData := protocol.FlashBeginData(eraseSize, numBlocks, uint32(blockSize), offset)
	if _, err := f.sess.Command(ctx, beginOp, beginData, f.sess.TimeoutFor(beginOp, len(data))); err != nil {
		return fmt.Errorf("flasher: %s: %w", beginOp, err)
	}

	total := int(numBlocks)
	for seq := 0; seq < total; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(payload) {
			end = len(payload)
		}
		block := payload[start:end]
		blockData := protocol.FlashDataData(block, uint32(seq), blockSize, pad)
		if _, err := f.sess.Command(ctx, dataOp, blockData, f.sess.TimeoutFor(dataOp, len(block))); err != nil {
			return fmt.Errorf("flasher: %s block %d/%d: %w", dataOp, seq+1, total, err)
		}
		f.reportProgress(seq+1, total)
	}

	endData := protocol.FlashEndData(leaveFlashMode)
	if _, err := f.sess.Command(ctx, endOp, endData, f.sess.TimeoutFor(endOp, 0)); err != nil {
		return fmt.Errorf("flasher: %s: %w", endOp, err)
	}
	return nil
}

// deflate compresses data with the raw DEFLATE codec FLASH_DEFL_DATA
// expects (no zlib/gzip header), spec §4.4's "raw DEFLATE frames".
func deflate(data []byte) ([]byte, error) {
	var buf writeBuffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

type writeBuffer struct{ data []byte }

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// VerifyMD5 requests SPI_FLASH_MD5 over [offset, offset+size) and
// compares it against the MD5 of want.
func (f *Flasher) VerifyMD5(ctx context.Context, want []byte, offset, size uint32) error {
	sum := md5.Sum(want)
	expected := hex.EncodeToString(sum[:])

	resp, err := f.sess.Command(ctx, protocol.OpSpiFlashMD5, protocol.FlashMD5Data(offset, size), f.sess.TimeoutFor(protocol.OpSpiFlashMD5, int(size)))
	if err != nil {
		return fmt.Errorf("flasher: SPI_FLASH_MD5: %w", err)
	}

	actual := string(resp.Data)
	if len(actual) > 32 {
		actual = actual[:32]
	}
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", protocol.ErrChecksumMismatch, expected, actual)
	}
	return nil
}

// EraseChip issues ERASE_FLASH, spec §4.5's 150s full-chip erase.
func (f *Flasher) EraseChip(ctx context.Context) error {
	if _, err := f.sess.Command(ctx, protocol.OpEraseFlash, nil, f.sess.TimeoutFor(protocol.OpEraseFlash, 0)); err != nil {
		return fmt.Errorf("flasher: ERASE_FLASH: %w", err)
	}
	return nil
}

// EraseRegion issues ERASE_REGION(offset, size) with a size-scaled timeout.
// A zero-byte region completes without sending a command at all.
func (f *Flasher) EraseRegion(ctx context.Context, offset, size uint32) error {
	if size == 0 {
		return nil
	}
	if _, err := f.sess.Command(ctx, protocol.OpEraseRegion, protocol.EraseRegionData(offset, size), f.sess.TimeoutFor(protocol.OpEraseRegion, int(size))); err != nil {
		return fmt.Errorf("flasher: ERASE_REGION: %w", err)
	}
	return nil
}

// ReadRegion reads size bytes starting at offset using the stub's
// streaming READ_FLASH, per spec §4.5, verifying the stub-reported MD5
// against a local recomputation and failing with ErrChecksumMismatch on
// disagreement.
func (f *Flasher) ReadRegion(ctx context.Context, offset, size uint32, profile TransportProfile) ([]byte, error) {
	if f.sess.Mode() != protocol.ModeStub {
		return nil, fmt.Errorf("%w: READ_FLASH requires stub mode", protocol.ErrNotSupported)
	}

	out := make([]byte, 0, size)
	total := int(size)
	deviceMD5, err := f.sess.ReadFlashStream(ctx, offset, size, profile.ChunkSize, profile.MaxInFlight, func(chunk []byte) {
		out = append(out, chunk...)
		f.reportProgress(len(out), total)
	})
	if err != nil {
		return nil, fmt.Errorf("flasher: READ_FLASH: %w", err)
	}

	sum := md5.Sum(out)
	localMD5 := hex.EncodeToString(sum[:])
	if len(deviceMD5) >= 32 && deviceMD5[:32] != localMD5 {
		return nil, fmt.Errorf("%w: expected %s, got %s", protocol.ErrChecksumMismatch, deviceMD5[:32], localMD5)
	}
	return out, nil
}

// Region is one addressed slice of a multi-region flash job, e.g. a
// bootloader, partition table, and application image flashed together.
type Region struct {
	Offset uint32
	Data   []byte
	Name   string
}

// WriteRegions writes each region in order, reporting progress across the
// combined size rather than per-region, matching the teacher's
// FlashMultiple.
func (f *Flasher) WriteRegions(ctx context.Context, regions []Region, compress, verify bool) error {
	totalSize := 0
	for _, r := range regions {
		totalSize += len(r.Data)
	}

	written := 0
	outer := f.progress
	for _, region := range regions {
		regionWritten := written
		f.progress = func(current, total int) {
			if outer != nil {
				outer(regionWritten+current, totalSize)
			}
		}
		if err := f.WriteImage(ctx, region.Data, region.Offset, compress, false); err != nil {
			f.progress = outer
			return fmt.Errorf("flasher: region %q at 0x%X: %w", region.Name, region.Offset, err)
		}
		if verify {
			if err := f.VerifyMD5(ctx, region.Data, region.Offset, uint32(len(region.Data))); err != nil {
				f.progress = outer
				return fmt.Errorf("flasher: verify region %q: %w", region.Name, err)
			}
		}
		written += len(region.Data)
	}
	f.progress = outer
	return nil
}
