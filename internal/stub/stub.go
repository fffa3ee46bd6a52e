// Package stub uploads a second-stage RAM loader into the target chip's
// memory over MEM_BEGIN/MEM_DATA/MEM_END and switches the protocol
// session into its richer stub command set.
package stub

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"espflash/internal/chip"
	"espflash/internal/protocol"
)

// Image is a compiled stub for one chip family: the RAM text/data blob
// and the address execution jumps to once MEM_END uploads it.
type Image struct {
	Data       []byte
	EntryPoint uint32
}

// Provider resolves the right stub Image for a detected chip, spec §4.4's
// "a second-stage RAM program lives compiled per family". The teacher
// never uploaded a stub, so there's no bundled binary to embed here;
// callers own where their compiled stubs come from (an embedded asset, a
// download, a build step) and hand this package only the resolved bytes.
type Provider interface {
	StubFor(d chip.Descriptor) (Image, error)
}

// memBlockSize is the MEM_DATA page size esptool-family loaders use for
// stub upload, independent of the eventual FLASH_DATA/FLASH_DEFL_DATA
// page size negotiated after the handshake.
const memBlockSize = 0x800

// handshakeWindow is how long the loader waits for the stub's OHAI
// greeting after MEM_END executes, per spec §4.4.
const handshakeWindow = 50 * time.Millisecond

// ohaiGreeting is the fixed ASCII string every stub emits once it starts
// running and is ready to receive stub-mode commands.
var ohaiGreeting = []byte("OHAI")

// Upload sends img via MEM_BEGIN/MEM_DATA/MEM_END and waits for the OHAI
// handshake. On success it switches sess into stub mode. A failed
// handshake is non-fatal per spec §4.4: the caller keeps using sess in
// ROM mode with the smaller page size.
func Upload(ctx context.Context, sess *protocol.Session, img Image) error {
	if len(img.Data) == 0 {
		return fmt.Errorf("stub: empty image")
	}

	numBlocks := (len(img.Data) + memBlockSize - 1) / memBlockSize
	beginData := protocol.MemBeginData(uint32(len(img.Data)), uint32(numBlocks), uint32(memBlockSize), img.EntryPoint)
	if _, err := sess.Command(ctx, protocol.OpMemBegin, beginData, sess.TimeoutFor(protocol.OpMemBegin, len(img.Data))); err != nil {
		return fmt.Errorf("stub: MEM_BEGIN: %w", err)
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * memBlockSize
		end := start + memBlockSize
		if end > len(img.Data) {
			end = len(img.Data)
		}
		block := img.Data[start:end]
		data := protocol.MemDataData(block, uint32(seq))
		if _, err := sess.Command(ctx, protocol.OpMemData, data, sess.TimeoutFor(protocol.OpMemData, len(block))); err != nil {
			return fmt.Errorf("stub: MEM_DATA block %d/%d: %w", seq+1, numBlocks, err)
		}
	}

	endData := protocol.MemEndData(true, img.EntryPoint)
	if _, err := sess.Command(ctx, protocol.OpMemEnd, endData, sess.TimeoutFor(protocol.OpMemEnd, 0)); err != nil {
		return fmt.Errorf("stub: MEM_END: %w", err)
	}

	if err := awaitOhai(ctx, sess); err != nil {
		return fmt.Errorf("stub: handshake: %w", err)
	}
	sess.SetMode(protocol.ModeStub)
	return nil
}

// awaitOhai reads raw transport bytes for handshakeWindow looking for the
// OHAI marker. The stub greeting isn't SLIP-framed or command-shaped, so
// this bypasses Session.Command and reads through the transport directly
// via the RawRead escape hatch.
func awaitOhai(ctx context.Context, sess *protocol.Session) error {
	deadline := time.Now().Add(handshakeWindow)
	var seen []byte
	for time.Now().Before(deadline) {
		chunk, err := sess.RawRead(ctx, 32, time.Until(deadline))
		if len(chunk) > 0 {
			seen = append(seen, chunk...)
			if bytes.Contains(seen, ohaiGreeting) {
				return nil
			}
		}
		if err != nil {
			break
		}
	}
	return fmt.Errorf("no OHAI greeting within %s (saw %d bytes)", handshakeWindow, len(seen))
}
