package stub

import (
	"context"
	"testing"
	"time"

	"espflash/internal/protocol"
	"espflash/internal/slip"
	"espflash/internal/transport"
)

// fakeTransport answers MEM_BEGIN/MEM_DATA/MEM_END with success responses,
// then serves the OHAI greeting as a raw (non-SLIP-framed) chunk once the
// command queue is exhausted, the way the real stub's handshake behaves.
type fakeTransport struct {
	queue     [][]byte
	ohaiSent  bool
	sendOhai  bool
	written   int
}

func (f *fakeTransport) Open(context.Context, int) error { return nil }
func (f *fakeTransport) Close() error                     { return nil }

func (f *fakeTransport) ReadExactUntil(ctx context.Context, want int, timeout time.Duration, match func([]byte) bool) ([]byte, error) {
	if len(f.queue) > 0 {
		chunk := f.queue[0]
		f.queue = f.queue[1:]
		return chunk, nil
	}
	if f.sendOhai && !f.ohaiSent {
		f.ohaiSent = true
		return []byte("OHAI"), nil
	}
	return nil, transport.ErrTimeout
}

func (f *fakeTransport) WriteAll(ctx context.Context, data []byte) error {
	f.written++
	return nil
}
func (f *fakeTransport) SetSignals(transport.Signals) error { return nil }
func (f *fakeTransport) SetBaud(int) error                  { return nil }
func (f *fakeTransport) Info() transport.Info                { return transport.Info{} }

func (f *fakeTransport) queueSuccess(op protocol.Op) {
	resp := make([]byte, 10)
	resp[0] = protocol.DirResponse
	resp[1] = byte(op)
	resp[2] = 2
	f.queue = append(f.queue, slip.Encode(resp))
}

func TestUpload_SucceedsAndSwitchesMode(t *testing.T) {
	ft := &fakeTransport{sendOhai: true}
	ft.queueSuccess(protocol.OpMemBegin)
	ft.queueSuccess(protocol.OpMemData)
	ft.queueSuccess(protocol.OpMemEnd)

	sess := protocol.NewSession(ft, nil, nil)
	img := Image{Data: []byte{0x01, 0x02, 0x03, 0x04}, EntryPoint: 0x40080400}

	if err := Upload(context.Background(), sess, img); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if sess.Mode() != protocol.ModeStub {
		t.Errorf("Mode() = %v, want ModeStub", sess.Mode())
	}
}

func TestUpload_MultipleBlocks(t *testing.T) {
	ft := &fakeTransport{sendOhai: true}
	data := make([]byte, memBlockSize*2+10)
	ft.queueSuccess(protocol.OpMemBegin)
	ft.queueSuccess(protocol.OpMemData)
	ft.queueSuccess(protocol.OpMemData)
	ft.queueSuccess(protocol.OpMemData)
	ft.queueSuccess(protocol.OpMemEnd)

	sess := protocol.NewSession(ft, nil, nil)
	if err := Upload(context.Background(), sess, Image{Data: data, EntryPoint: 0x1000}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
}

func TestUpload_EmptyImageRejected(t *testing.T) {
	ft := &fakeTransport{}
	sess := protocol.NewSession(ft, nil, nil)
	if err := Upload(context.Background(), sess, Image{}); err == nil {
		t.Error("Upload(empty image) expected error, got nil")
	}
}

func TestUpload_MissingHandshakeIsNonFatalError(t *testing.T) {
	ft := &fakeTransport{sendOhai: false}
	ft.queueSuccess(protocol.OpMemBegin)
	ft.queueSuccess(protocol.OpMemData)
	ft.queueSuccess(protocol.OpMemEnd)

	sess := protocol.NewSession(ft, nil, nil)
	err := Upload(context.Background(), sess, Image{Data: []byte{0x01}, EntryPoint: 0x1000})
	if err == nil {
		t.Fatal("Upload() with no OHAI expected error, got nil")
	}
	if sess.Mode() != protocol.ModeRom {
		t.Errorf("Mode() after failed handshake = %v, want ModeRom (caller falls back)", sess.Mode())
	}
}
