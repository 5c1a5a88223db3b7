package device

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ardnew/artemis/device/hal"
	"github.com/ardnew/artemis/host"
	"github.com/ardnew/artemis/pkg"
)

// BoardConfig configures a simulated board.
type BoardConfig struct {
	// Serial names the board on its bus.
	Serial string

	// Latency delays every response.
	Latency time.Duration

	// Core is appended to the counters of every core dump.
	Core []uint32
}

// Board simulates the FPGA side of the direct command protocol. It answers
// command frames from a sparse memory and raises interrupt frames on
// request.
type Board struct {
	rw  io.ReadWriter
	cfg BoardConfig
	mem *Memory

	// wmutex keeps responses and interrupt frames whole on the stream.
	wmutex sync.Mutex

	mutex     sync.RWMutex
	frames    uint32
	resets    uint32
	pending   uint32
	held      bool
	onReset   func()
	onFrame   func(host.Frame)
	lastFrame host.Frame
}

// NewBoard returns a board serving frames read from rw.
func NewBoard(rw io.ReadWriter, cfg BoardConfig) *Board {
	return &Board{rw: rw, cfg: cfg, mem: NewMemory()}
}

// Serial returns the board's serial.
func (b *Board) Serial() string { return b.cfg.Serial }

// Memory returns the board's memory. Bus and memory space share it; memory
// space words live at their host address, above [host.MemoryOffset].
func (b *Board) Memory() *Memory { return b.mem }

// SetOnReset sets the callback invoked after every reset.
func (b *Board) SetOnReset(fn func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onReset = fn
}

// SetOnFrame sets the callback invoked for every frame before it is
// answered.
func (b *Board) SetOnFrame(fn func(host.Frame)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onFrame = fn
}

// Frames returns the number of frames served.
func (b *Board) Frames() uint32 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.frames
}

// Resets returns the number of resets since the board was created.
func (b *Board) Resets() uint32 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.resets
}

// LastFrame returns the most recent frame served.
func (b *Board) LastFrame() host.Frame {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.lastFrame
}

// Pending returns the interrupt sources raised since the last reset.
func (b *Board) Pending() uint32 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.pending
}

// InReset reports whether the reset line is held low.
func (b *Board) InReset() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.held
}

// Reset clears the board's memory and interrupt state.
func (b *Board) Reset() {
	b.mem.Clear()
	b.mutex.Lock()
	b.resets++
	b.pending = 0
	fn := b.onReset
	b.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentDevice, "board reset", "serial", b.cfg.Serial)
	if fn != nil {
		fn()
	}
}

// RaiseInterrupt sends an interrupt frame with the given source bitmap.
func (b *Board) RaiseInterrupt(mask uint32) error {
	var frame [host.InterruptFrameSize]byte
	frame[0] = host.AckByte
	binary.BigEndian.PutUint32(frame[host.InterruptFrameSize-4:], mask)

	b.mutex.Lock()
	b.pending |= mask
	b.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDevice, "raise interrupt", "mask", fmt.Sprintf("0x%08X", mask))
	return b.send(frame[:])
}

func (b *Board) send(p []byte) error {
	b.wmutex.Lock()
	defer b.wmutex.Unlock()
	_, err := b.rw.Write(p)
	return err
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Serve answers frames until ctx is done or the stream closes. Streams with
// read deadlines are interrupted when ctx is done; others return once their
// next read fails.
func (b *Board) Serve(ctx context.Context) error {
	if d, ok := b.rw.(readDeadliner); ok {
		stop := context.AfterFunc(ctx, func() { d.SetReadDeadline(time.Now()) })
		defer stop()
	}

	pkg.LogInfo(pkg.ComponentDevice, "board serving", "serial", b.cfg.Serial)
	r := bufio.NewReader(b.rw)
	for {
		f, err := b.readFrame(r)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				pkg.LogInfo(pkg.ComponentDevice, "board stopped", "serial", b.cfg.Serial)
				return nil
			}
			return err
		}
		if err := b.handle(ctx, f); err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			return err
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

// readFrame reads the next command frame, skipping bytes up to the id byte.
func (b *Board) readFrame(r *bufio.Reader) (host.Frame, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return host.Frame{}, err
		}
		if c == host.IDByte {
			break
		}
		pkg.LogDebug(pkg.ComponentDevice, "skipped byte", "byte", fmt.Sprintf("0x%02X", c))
	}

	var hdr [host.FrameHeaderSize]byte
	hdr[0] = host.IDByte
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		return host.Frame{}, err
	}
	f, err := host.ParseFrame(hdr[:])
	if err != nil {
		return host.Frame{}, err
	}

	var extra int
	switch f.Opcode {
	case host.OpWrite:
		extra = int(f.Length) * 4
	case host.OpPing, host.OpDump:
		extra = host.FixedFrameSize - host.FrameHeaderSize
	}
	if extra > 0 {
		payload := make([]byte, extra)
		if _, err := io.ReadFull(r, payload); err != nil {
			return host.Frame{}, err
		}
		if f.Opcode == host.OpWrite {
			f.Payload = payload
		}
	}
	return f, nil
}

func (b *Board) handle(ctx context.Context, f host.Frame) error {
	b.mutex.Lock()
	held := b.held
	if !held {
		b.frames++
		b.lastFrame = f
	}
	fn := b.onFrame
	b.mutex.Unlock()

	if held {
		pkg.LogDebug(pkg.ComponentDevice, "frame dropped in reset", "frame", f)
		return nil
	}
	pkg.LogDebug(pkg.ComponentDevice, "frame", "frame", f)
	if fn != nil {
		fn(f)
	}

	var rsp []byte
	switch f.Opcode {
	case host.OpPing:
		rsp = b.trailer(f)
	case host.OpWrite:
		b.mem.WriteWords(f.HostAddress(), bytesToWords(f.Payload), f.NoIncrement)
		rsp = b.trailer(f)
	case host.OpRead:
		words := b.mem.ReadWords(f.HostAddress(), int(f.Length), f.NoIncrement)
		rsp = make([]byte, 1+host.ReadStatusSize, 1+host.ReadStatusSize+4*len(words))
		rsp[0] = host.AckByte
		rsp[1] = host.ReadAckByte
		binary.BigEndian.PutUint32(rsp[5:], f.Length)
		rsp = appendWords(rsp, words)
	case host.OpDump:
		words := b.core()
		rsp = make([]byte, 1+host.DumpHeaderSize, 1+host.DumpHeaderSize+4*len(words))
		rsp[0] = host.AckByte
		n := len(words)
		rsp[2], rsp[3], rsp[4] = byte(n>>16), byte(n>>8), byte(n)
		rsp = appendWords(rsp, words)
	default:
		pkg.LogWarn(pkg.ComponentDevice, "unknown opcode", "frame", f)
		return nil
	}

	if b.cfg.Latency > 0 {
		select {
		case <-time.After(b.cfg.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.send(rsp)
}

// trailer returns the ack and status trailer of a write or ping.
func (b *Board) trailer(f host.Frame) []byte {
	rsp := make([]byte, 1+host.StatusTrailerSize)
	rsp[0] = host.AckByte
	binary.BigEndian.PutUint32(rsp[1:], uint32(f.Opcode))
	binary.BigEndian.PutUint32(rsp[5:], f.Address)
	binary.BigEndian.PutUint32(rsp[9:], f.Length)
	return rsp
}

// core returns the words of a core dump.
func (b *Board) core() []uint32 {
	b.mutex.RLock()
	words := make([]uint32, 0, DumpWords+len(b.cfg.Core))
	words = append(words, DumpMagic, b.frames, b.resets, b.pending, uint32(b.mem.Len()))
	b.mutex.RUnlock()
	return append(words, b.cfg.Core...)
}

// WatchReset follows the reset line on pins until ctx is done. A low level
// holds the board in reset and clears DONE; the following high level resets
// the board and sets DONE again.
func (b *Board) WatchReset(ctx context.Context, pins hal.Pins) error {
	if err := pins.SetDone(true); err != nil {
		return err
	}
	return pins.WatchReset(ctx, func(l hal.Level) {
		switch l {
		case hal.LevelLow:
			b.mutex.Lock()
			b.held = true
			b.mutex.Unlock()
			if err := pins.SetDone(false); err != nil {
				pkg.LogWarn(pkg.ComponentDevice, "clear done", "error", err)
			}
		case hal.LevelHigh:
			b.mutex.Lock()
			was := b.held
			b.held = false
			b.mutex.Unlock()
			if !was {
				return
			}
			b.Reset()
			if err := pins.SetDone(true); err != nil {
				pkg.LogWarn(pkg.ComponentDevice, "set done", "error", err)
			}
		default:
			pkg.LogWarn(pkg.ComponentDevice, "unknown reset level", "level", l)
		}
	})
}

func (b *Board) String() string {
	return fmt.Sprintf("Board{serial=%q, frames=%d, resets=%d}", b.cfg.Serial, b.Frames(), b.Resets())
}

func bytesToWords(p []byte) []uint32 {
	words := make([]uint32, len(p)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(p[4*i:])
	}
	return words
}

func appendWords(b []byte, words []uint32) []byte {
	for _, w := range words {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	return b
}
