package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"espflash/internal/chip"
	"espflash/internal/eventlog"
	"espflash/internal/slip"
	"espflash/internal/transport"
)

// Mode is the tagged variant spec §9's design notes call for in place of
// the source's mutable handler-object dispatch: every command-table
// switch site is a compile-time-complete match on Mode.
type Mode int

const (
	ModeRom Mode = iota
	ModeStub
)

// TrailerLen reports the status-trailer width for responses in this mode.
func (m Mode) TrailerLen() int {
	if m == ModeStub {
		return 4
	}
	return 2
}

// BlockSize reports the active FLASH_DATA/FLASH_DEFL_DATA page size.
func (m Mode) BlockSize() int {
	if m == ModeStub {
		return FlashBlockSizeStub
	}
	return FlashBlockSizeRom
}

const (
	defaultTimeout  = 3 * time.Second
	maxTimeout      = 300 * time.Second
	eraseChipTimeout = 150 * time.Second
	syncTimeout     = 100 * time.Millisecond
	syncDrain       = 50 * time.Millisecond
	syncAttempts    = 8
	maxCommandRetries = 3

	// secsPerMBFlashWrite scales the flash write timeout the way esptool's
	// own ERASE_WRITE_TIMEOUT_PER_MB constant does.
	secsPerMBFlashWrite = 8.0
	secsPerMBFlashRead  = 0.5
)

// Session owns exactly one transport and one chip descriptor for the
// duration of a ROM-download/stub dance, per spec §3's "Lifecycle" and
// §5's single-threaded cooperative concurrency model.
//
// Grounded on bigbag-papyrix-flasher/internal/flasher/flasher.go's
// Connect/sendCommand/readResponse shape and internal/detect/detect.go's
// sync-retry loop, generalized from one hard-coded family to the full
// chip registry and given the ROM/stub Mode tag design note 9 calls for.
type Session struct {
	transport  transport.Transport
	log        eventlog.Logger
	sink       eventlog.EventSink
	descriptor chip.Descriptor
	revision   int
	mode       Mode
	baud       int

	frameBuf []byte
}

// NewSession wraps t. log and sink default to no-ops when nil.
func NewSession(t transport.Transport, log eventlog.Logger, sink eventlog.EventSink) *Session {
	return &Session{
		transport: t,
		log:       eventlog.OrNoop(log),
		sink:      eventlog.OrNoopSink(sink),
		mode:      ModeRom,
	}
}

// Mode reports the session's current command-table variant.
func (s *Session) Mode() Mode { return s.mode }

// SetMode switches the command table; internal/stub calls this once the
// OHAI handshake succeeds.
func (s *Session) SetMode(m Mode) { s.mode = m }

// Descriptor reports the detected chip, valid after DetectChip succeeds.
func (s *Session) Descriptor() chip.Descriptor { return s.descriptor }

// Revision reports the chip revision detected via ReadRevision, 0 until resolved.
func (s *Session) Revision() int { return s.revision }

// SetRevision records the revision resolved by chip.ReadRevision.
func (s *Session) SetRevision(r int) { s.revision = r }

// nextFrame reads bytes from the transport until a complete SLIP frame
// (including its 0xC0 delimiters) is available in the session's carry-
// over buffer, retaining any leftover bytes for the next call.
func (s *Session) nextFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if frame, rest := slip.ReadFrame(s.frameBuf); frame != nil {
			s.frameBuf = rest
			return frame, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		chunk, err := s.transport.ReadExactUntil(ctx, 1, remaining, nil)
		if len(chunk) > 0 {
			s.frameBuf = append(s.frameBuf, chunk...)
			continue
		}
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrTransportLost, err)
		}
	}
}

// readMatchingResponse reads frames, discarding unsolicited bootloader
// chatter and frames whose op doesn't match, until op is matched or
// timeout elapses.
func (s *Session) readMatchingResponse(ctx context.Context, op Op, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		raw, err := s.nextFrame(ctx, remaining)
		if err != nil {
			return nil, err
		}
		decoded, err := slip.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSlipRead, err)
		}
		resp, err := DecodeResponse(decoded, s.mode.TrailerLen())
		if err != nil {
			// Malformed frame: treat like unsolicited chatter rather than
			// a hard failure, matching spec §4.3's "on mismatch, discard".
			continue
		}
		if resp.Op != op {
			continue
		}
		if statusErr := classifyStatus(op, resp); statusErr != nil {
			return nil, statusErr
		}
		return resp, nil
	}
}

// drain reads and discards frames for the given window, used after a
// successful sync to flush duplicate attempt responses (spec §4.3).
func (s *Session) drain(ctx context.Context, window time.Duration) {
	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if _, err := s.nextFrame(ctx, remaining); err != nil {
			return
		}
	}
}

// ReadFlashStream implements the stub-only READ_FLASH streaming exchange,
// spec §4.5: write the 16-byte command header, then read raw SLIP-framed
// chunks (not standard op/status responses) until size bytes have
// arrived, acking with a 4-byte little-endian byte count after every
// maxInFlight bytes, then read the trailing response carrying the
// region's MD5 as ASCII hex. onChunk is called with each decoded chunk in
// stream order.
func (s *Session) ReadFlashStream(ctx context.Context, offset, size, chunkSize, maxInFlight uint32, onChunk func([]byte)) (string, error) {
	req := NewRequest(OpReadFlash, ReadFlashData(offset, size, chunkSize, maxInFlight))
	if err := s.transport.WriteAll(ctx, slip.Encode(req.Encode())); err != nil {
		return "", fmt.Errorf("%w: write READ_FLASH: %v", ErrTransportLost, err)
	}

	timeout := s.timeoutFor(OpReadFlash, int(size))
	var received, sinceAck uint32
	for received < size {
		raw, err := s.nextFrame(ctx, timeout)
		if err != nil {
			return "", err
		}
		decoded, err := slip.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSlipRead, err)
		}
		onChunk(decoded)
		received += uint32(len(decoded))
		sinceAck += uint32(len(decoded))
		if sinceAck >= maxInFlight {
			if err := s.transport.WriteAll(ctx, slip.Encode(ReadFlashAck(received))); err != nil {
				return "", fmt.Errorf("%w: write READ_FLASH ack: %v", ErrTransportLost, err)
			}
			sinceAck = 0
		}
	}

	resp, err := s.readMatchingResponse(ctx, OpReadFlash, timeout)
	if err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

// RawRead returns up to want bytes of raw transport data, unescaped and
// unframed, first draining anything already buffered by nextFrame. It
// exists for internal/stub's OHAI handshake, the one point in the
// protocol where the peer speaks plain ASCII instead of SLIP-framed
// packets.
func (s *Session) RawRead(ctx context.Context, want int, timeout time.Duration) ([]byte, error) {
	if len(s.frameBuf) > 0 {
		n := len(s.frameBuf)
		if n > want && want > 0 {
			n = want
		}
		chunk := s.frameBuf[:n]
		s.frameBuf = s.frameBuf[n:]
		return chunk, nil
	}
	return s.transport.ReadExactUntil(ctx, 1, timeout, nil)
}

// Command writes op/data as a single SLIP-framed request and returns the
// matching response, retrying on ErrSlipRead and ErrInvalidRecvMsg only,
// per spec §4.3's retry rule.
func (s *Session) Command(ctx context.Context, op Op, data []byte, timeout time.Duration) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxCommandRetries; attempt++ {
		req := NewRequest(op, data)
		if err := s.transport.WriteAll(ctx, slip.Encode(req.Encode())); err != nil {
			return nil, fmt.Errorf("%w: write %s: %v", ErrTransportLost, op, err)
		}
		resp, err := s.readMatchingResponse(ctx, op, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrSlipRead) || errors.Is(err, ErrInvalidRecvMsg) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("protocol: %s failed after %d retries: %w", op, maxCommandRetries, lastErr)
}

// Sync sends the fixed SYNC packet up to syncAttempts times with a
// syncTimeout-length window each, then drains for syncDrain, per
// spec §4.3.
func (s *Session) Sync(ctx context.Context) error {
	for attempt := 0; attempt < syncAttempts; attempt++ {
		req := NewRequest(OpSync, SyncData())
		if err := s.transport.WriteAll(ctx, slip.Encode(req.Encode())); err != nil {
			return fmt.Errorf("%w: write SYNC: %v", ErrTransportLost, err)
		}
		if _, err := s.readMatchingResponse(ctx, OpSync, syncTimeout); err == nil {
			s.drain(ctx, syncDrain)
			return nil
		}
	}
	return fmt.Errorf("%w: sync failed after %d attempts", ErrTimeout, syncAttempts)
}

// DetectChip runs the two detection methods spec §4.3 describes in
// order: legacy UART-date-register magic match, then the common chip-ID
// register lookup.
func (s *Session) DetectChip(ctx context.Context) (chip.Descriptor, error) {
	for _, d := range chip.All() {
		if d.UARTDateMagic == 0 {
			continue
		}
		v, err := s.ReadReg(ctx, d.UARTDateReg)
		if err != nil {
			continue
		}
		if v == d.UARTDateMagic {
			s.descriptor = d
			s.sink.ChipDetected(d.Family, s.revision)
			return d, nil
		}
	}

	v, err := s.ReadReg(ctx, chip.CommonChipMagicRegAddr)
	if err != nil {
		return chip.Descriptor{}, fmt.Errorf("protocol: read chip magic register: %w", err)
	}
	d, ok := chip.ByChipMagic(v)
	if !ok {
		return chip.Descriptor{}, fmt.Errorf("protocol: unrecognized chip magic %#08x", v)
	}
	s.descriptor = d
	s.sink.ChipDetected(d.Family, s.revision)
	return d, nil
}

// ReadReg issues READ_REG and returns the value word. It also implements
// internal/reset.RegisterIO so the reset sequencer can drive WDT
// registers through the same session.
func (s *Session) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	resp, err := s.Command(ctx, OpReadReg, ReadRegData(addr), s.timeoutFor(OpReadReg, 0))
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// WriteReg issues WRITE_REG with the given value/mask.
func (s *Session) WriteReg(ctx context.Context, addr, value, mask uint32) error {
	_, err := s.Command(ctx, OpWriteReg, WriteRegData(addr, value, mask, 0), s.timeoutFor(OpWriteReg, 0))
	return err
}

// ChangeBaud renegotiates the baud rate: send CHANGE_BAUDRATE, switch the
// transport, sleep 50ms, and discard pending input, per spec §4.3. It
// fails with ErrNotSupported on ESP8266.
func (s *Session) ChangeBaud(ctx context.Context, newBaud uint32) error {
	if !s.descriptor.SupportsChangeBaudrate {
		return fmt.Errorf("%w: CHANGE_BAUDRATE on %s", ErrNotSupported, s.descriptor.Name)
	}
	var current uint32
	if s.mode == ModeStub {
		current = uint32(s.baud)
	}
	if _, err := s.Command(ctx, OpChangeBaudrate, ChangeBaudrateData(newBaud, current), s.timeoutFor(OpChangeBaudrate, 0)); err != nil {
		return err
	}
	if err := s.transport.SetBaud(int(newBaud)); err != nil {
		return fmt.Errorf("protocol: switch transport baud: %w", err)
	}
	s.baud = int(newBaud)
	time.Sleep(50 * time.Millisecond)
	s.frameBuf = nil
	_, _ = s.transport.ReadExactUntil(ctx, 0, 20*time.Millisecond, nil)
	return nil
}

// timeoutFor scales the per-command timeout, spec §4.3: base 3s, flash
// operations scale with size, full-chip erase is 150s, everything is
// capped at 300s.
func (s *Session) timeoutFor(op Op, byteCount int) time.Duration {
	switch op {
	case OpEraseFlash:
		return eraseChipTimeout
	case OpFlashData, OpFlashDeflData, OpFlashBegin, OpFlashDeflBegin, OpEraseRegion:
		return scaledTimeout(byteCount, secsPerMBFlashWrite)
	case OpReadFlash:
		return scaledTimeout(byteCount, secsPerMBFlashRead)
	case OpSync:
		return syncTimeout
	default:
		return defaultTimeout
	}
}

func scaledTimeout(byteCount int, secsPerMB float64) time.Duration {
	t := defaultTimeout
	scaled := time.Duration(secsPerMB * float64(byteCount) / 1e6 * float64(time.Second))
	if scaled > t {
		t = scaled
	}
	if t > maxTimeout {
		t = maxTimeout
	}
	return t
}

// TimeoutFor exposes timeoutFor to internal/flasher, which needs the same
// scaling for its own multi-command sequences (FLASH_BEGIN through
// FLASH_END) without duplicating the table.
func (s *Session) TimeoutFor(op Op, byteCount int) time.Duration {
	return s.timeoutFor(op, byteCount)
}
