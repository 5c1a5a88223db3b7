package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/artemis/pkg"
)

// =============================================================================
// Scripted Transport for Testing
// =============================================================================

// fakeBoard implements hal.Transport. Every frame written is recorded and
// handed to respond, whose result is queued for the host to read.
type fakeBoard struct {
	mu      sync.Mutex
	rx      []byte
	frames  []Frame
	respond func(f Frame) []byte
	closed  bool
	purges  int
	avail   chan struct{}
}

func newFakeBoard(respond func(f Frame) []byte) *fakeBoard {
	return &fakeBoard{
		respond: respond,
		avail:   make(chan struct{}, 1),
	}
}

func (b *fakeBoard) notify() {
	select {
	case b.avail <- struct{}{}:
	default:
	}
}

// push queues bytes as if the board sent them unsolicited.
func (b *fakeBoard) push(p ...byte) {
	b.mu.Lock()
	b.rx = append(b.rx, p...)
	b.mu.Unlock()
	b.notify()
}

func (b *fakeBoard) setResponder(respond func(f Frame) []byte) {
	b.mu.Lock()
	b.respond = respond
	b.mu.Unlock()
}

func (b *fakeBoard) sent() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.frames...)
}

func (b *fakeBoard) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBoard) Write(ctx context.Context, p []byte) (int, error) {
	f, err := ParseFrame(append([]byte(nil), p...))
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, pkg.ErrClosed
	}
	b.frames = append(b.frames, f)
	if b.respond != nil {
		b.rx = append(b.rx, b.respond(f)...)
	}
	b.mu.Unlock()
	b.notify()
	return len(p), nil
}

func (b *fakeBoard) Read(ctx context.Context, p []byte) (int, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, pkg.ErrClosed
		}
		if len(b.rx) > 0 {
			n := copy(p, b.rx)
			b.rx = b.rx[n:]
			b.mu.Unlock()
			return n, nil
		}
		b.mu.Unlock()

		select {
		case <-b.avail:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w: %w", pkg.ErrTimeout, ctx.Err())
			}
			return 0, pkg.ErrClosed
		}
	}
}

func (b *fakeBoard) Purge() error {
	b.mu.Lock()
	b.rx = nil
	b.purges++
	b.mu.Unlock()
	return nil
}

func (b *fakeBoard) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notify()
	return nil
}

// ackTrailer is the response to a write or ping.
func ackTrailer() []byte {
	return append([]byte{AckByte}, make([]byte, StatusTrailerSize)...)
}

// readResponse is the combined-ack response to a read returning data.
func readResponse(data []byte) []byte {
	rsp := []byte{AckByte, ReadAckByte}
	rsp = append(rsp, make([]byte, ReadStatusSize-1)...)
	return append(rsp, data...)
}

// interruptFrame is an unsolicited interrupt frame carrying bitmap.
func interruptFrame(bitmap uint32) []byte {
	f := make([]byte, InterruptFrameSize)
	f[0] = AckByte
	f[9] = byte(bitmap >> 24)
	f[10] = byte(bitmap >> 16)
	f[11] = byte(bitmap >> 8)
	f[12] = byte(bitmap)
	return f
}

// memoryResponder answers frames from a sparse word memory keyed by host
// address.
func memoryResponder(mem map[uint64]uint32) func(f Frame) []byte {
	return func(f Frame) []byte {
		switch f.Opcode {
		case OpWrite:
			addr := f.HostAddress()
			for i := 0; i+4 <= len(f.Payload); i += 4 {
				mem[addr] = uint32(f.Payload[i])<<24 | uint32(f.Payload[i+1])<<16 |
					uint32(f.Payload[i+2])<<8 | uint32(f.Payload[i+3])
				if !f.NoIncrement {
					addr++
				}
			}
			return ackTrailer()
		case OpRead:
			addr := f.HostAddress()
			data := make([]byte, 0, f.Length*4)
			for range f.Length {
				v := mem[addr]
				data = append(data, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
				if !f.NoIncrement {
					addr++
				}
			}
			return readResponse(data)
		default:
			return ackTrailer()
		}
	}
}
