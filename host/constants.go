package host

import (
	"fmt"
	"time"
)

// Wire bytes of the direct command protocol.
const (
	IDByte      = 0xCD // first byte of every command frame
	AckByte     = 0xDC // first byte of every response
	ReadAckByte = 0xFD // optional second response byte for reads
)

// Frame and response sizes in bytes.
const (
	FrameHeaderSize    = 9  // id, opcode, 24-bit length, 32-bit address
	FixedFrameSize     = 13 // ping and dump frames
	StatusTrailerSize  = 12 // follows the ack of a write or ping
	ReadStatusSize     = 8  // precedes the data of a read
	InterruptFrameSize = 13 // ack byte plus 12 bytes, bitmap in the last 4
	DumpHeaderSize     = 4  // precedes the core dump, low 3 bytes are a word count
)

// MemoryOffset is the start of the board's memory space in the host address
// map. Addresses at or above it are sent with the memory flag and rebased.
const MemoryOffset = 0x0100000000

// MaxWords is the largest word count the 24-bit length field holds.
const MaxWords = 0xFFFFFF

// NumInterrupts is the number of interrupt sources.
const NumInterrupts = 32

// Default timeouts.
const (
	QueueTimeout          = 7 * time.Second
	PingTimeout           = 1 * time.Second
	WriteTimeout          = 5 * time.Second
	ReadTimeout           = 3 * time.Second
	DumpTimeout           = 5 * time.Second
	InterruptPollInterval = 50 * time.Millisecond
	InterruptProbeTimeout = 2 * time.Millisecond
	InterruptFrameTimeout = 100 * time.Millisecond
	ResetHold             = 200 * time.Millisecond
	ResetSettle           = 200 * time.Millisecond
)

// QueueDepth is the default capacity of the engine's request queue.
const QueueDepth = 10

// Opcode selects the operation of a command frame.
type Opcode uint8

// Command opcodes.
const (
	OpPing  Opcode = 0x00
	OpWrite Opcode = 0x01
	OpRead  Opcode = 0x02
	OpDump  Opcode = 0x0F
)

// Opcode flag bits, or'ed into the opcode byte.
const (
	FlagMemory      = 0x10
	FlagNoIncrement = 0x20
	opcodeMask      = 0x0F
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpDump:
		return "dump"
	default:
		return fmt.Sprintf("opcode(0x%02X)", uint8(o))
	}
}

// State is the state of the command engine.
type State uint8

// Engine states. A command moves from Idle through Sending and AwaitingAck
// (and AwaitingPayload for operations that return data) to one of the
// terminal states, after which the engine is Idle again.
const (
	StateIdle State = iota
	StateSending
	StateAwaitingAck
	StateAwaitingPayload
	StateCompleted
	StateTimedOut
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateAwaitingPayload:
		return "awaiting-payload"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
