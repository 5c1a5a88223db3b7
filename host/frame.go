package host

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

// Frame is a command for the direct (USB) transport.
type Frame struct {
	Opcode      Opcode
	Address     uint32
	Length      uint32 // words, 24 bits on the wire
	Memory      bool
	NoIncrement bool
	Payload     []byte
}

// splitAddress maps a host address onto the board's bus and memory spaces.
func splitAddress(addr uint64) (uint32, bool) {
	if addr >= MemoryOffset {
		return uint32(addr - MemoryOffset), true
	}
	return uint32(addr), false
}

// WriteFrame returns the frame writing data at addr. A trailing partial
// word is zero-padded.
func WriteFrame(addr uint64, data []byte, noIncrement bool) (Frame, error) {
	if r := len(data) % 4; r != 0 {
		data = append(data[:len(data):len(data)], make([]byte, 4-r)...)
	}
	if len(data)/4 > MaxWords {
		return Frame{}, fmt.Errorf("%w: write of %d words > %d", pkg.ErrInvalidField, len(data)/4, MaxWords)
	}
	a, mem := splitAddress(addr)
	return Frame{
		Opcode:      OpWrite,
		Address:     a,
		Length:      uint32(len(data) / 4),
		Memory:      mem,
		NoIncrement: noIncrement,
		Payload:     data,
	}, nil
}

// ReadFrame returns the frame reading words words from addr.
func ReadFrame(addr uint64, words uint32, noIncrement bool) (Frame, error) {
	if words > MaxWords {
		return Frame{}, fmt.Errorf("%w: read of %d words > %d", pkg.ErrInvalidField, words, MaxWords)
	}
	a, mem := splitAddress(addr)
	return Frame{
		Opcode:      OpRead,
		Address:     a,
		Length:      words,
		Memory:      mem,
		NoIncrement: noIncrement,
	}, nil
}

// PingFrame returns the ping frame.
func PingFrame() Frame { return Frame{Opcode: OpPing} }

// DumpFrame returns the core dump frame.
func DumpFrame() Frame { return Frame{Opcode: OpDump} }

// MarshalBinary encodes the frame. Ping and dump frames are padded with
// zeros to [FixedFrameSize].
func (f Frame) MarshalBinary() ([]byte, error) {
	if f.Length > MaxWords {
		return nil, fmt.Errorf("%w: length %d > %d", pkg.ErrInvalidField, f.Length, MaxWords)
	}
	size := FrameHeaderSize + len(f.Payload)
	if f.Opcode == OpPing || f.Opcode == OpDump {
		size = max(size, FixedFrameSize)
	}
	b := make([]byte, size)
	b[0] = IDByte
	b[1] = byte(f.Opcode) & opcodeMask
	if f.Memory {
		b[1] |= FlagMemory
	}
	if f.NoIncrement {
		b[1] |= FlagNoIncrement
	}
	b[2] = byte(f.Length >> 16)
	b[3] = byte(f.Length >> 8)
	b[4] = byte(f.Length)
	binary.BigEndian.PutUint32(b[5:], f.Address)
	copy(b[FrameHeaderSize:], f.Payload)
	return b, nil
}

// ParseFrame decodes a frame header from b. Any bytes after the header are
// returned as the payload without copying.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < FrameHeaderSize {
		return Frame{}, fmt.Errorf("%w: frame of %d bytes", pkg.ErrShortRead, len(b))
	}
	if b[0] != IDByte {
		return Frame{}, fmt.Errorf("%w: id byte 0x%02X", pkg.ErrProtocolMismatch, b[0])
	}
	f := Frame{
		Opcode:      Opcode(b[1] & opcodeMask),
		Memory:      b[1]&FlagMemory != 0,
		NoIncrement: b[1]&FlagNoIncrement != 0,
		Length:      uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4]),
		Address:     binary.BigEndian.Uint32(b[5:]),
	}
	if len(b) > FrameHeaderSize {
		f.Payload = b[FrameHeaderSize:]
	}
	return f, nil
}

// HostAddress returns the host address the frame targets, undoing the
// memory space rebasing.
func (f Frame) HostAddress() uint64 {
	if f.Memory {
		return uint64(f.Address) + MemoryOffset
	}
	return uint64(f.Address)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s addr=0x%08X len=%d mem=%t noinc=%t", f.Opcode, f.Address, f.Length, f.Memory, f.NoIncrement)
}
