package pcie

import (
	"fmt"
	"time"
)

// IDWord opens every peripheral packet written in data mode.
const IDWord = 0xCD15DBE5

// Peripheral packet operations, the second word of a peripheral packet.
const (
	peripheralWrite = 0x00000001
	peripheralRead  = 0x00000002
)

// Host buffer addresses the driver assigns by default.
const (
	BAR0Address         = 0x00000000
	StatusBufferAddress = 0x01000000
	WriteBufferAAddress = 0x02000000
	WriteBufferBAddress = 0x03000000
	ReadBufferAAddress  = 0x04000000
	ReadBufferBAddress  = 0x05000000
)

// Buffer geometry.
const (
	// BufferSize is the size of each host buffer in dwords.
	BufferSize = 0x400
	// MaxPacketSize is the largest payload, in dwords, of a generated TLP.
	MaxPacketSize = 0x40
	// MaxReadRequest is the largest number of dwords a single completion
	// returns for a device read of a write buffer.
	MaxReadRequest = 0x80
	// NumSlots is the number of buffers in each ping-pong pair.
	NumSlots = 2
)

// Default addresses used by the command-line tool.
const (
	DefaultDeviceAddress = 0x01000000
	DefaultCount         = 1
)

// ExchangeTimeout bounds a complete buffer exchange unless the caller's
// context is shorter.
const ExchangeTimeout = 5 * time.Second

// Command is a command code written in command mode or, on a TLP link, to
// BAR0 at the command's dword offset.
type Command uint32

// Board commands.
const (
	CmdReset               Command = 0x80
	CmdPeripheralWrite     Command = 0x81
	CmdPeripheralWriteFIFO Command = 0x82
	CmdPeripheralRead      Command = 0x83
	CmdPeripheralReadFIFO  Command = 0x84
	CmdMemoryWrite         Command = 0x85
	CmdMemoryRead          Command = 0x86
	CmdDMAWrite            Command = 0x87
	CmdDMARead             Command = 0x88
	CmdPing                Command = 0x89
	CmdReadConfig          Command = 0x8A
)

var commandNames = map[Command]string{
	CmdReset:               "reset",
	CmdPeripheralWrite:     "peripheral_write",
	CmdPeripheralWriteFIFO: "peripheral_write_fifo",
	CmdPeripheralRead:      "peripheral_read",
	CmdPeripheralReadFIFO:  "peripheral_read_fifo",
	CmdMemoryWrite:         "memory_write",
	CmdMemoryRead:          "memory_read",
	CmdDMAWrite:            "dma_write",
	CmdDMARead:             "dma_read",
	CmdPing:                "ping",
	CmdReadConfig:          "read_config",
}

// String returns the command name.
func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("command(0x%02X)", uint32(c))
}

// IsRead reports whether the command moves data from the board to the host.
func (c Command) IsRead() bool {
	switch c {
	case CmdPeripheralRead, CmdPeripheralReadFIFO, CmdMemoryRead, CmdDMARead:
		return true
	}
	return false
}

// IsWrite reports whether the command moves data from the host to the board.
func (c Command) IsWrite() bool {
	switch c {
	case CmdPeripheralWrite, CmdPeripheralWriteFIFO, CmdMemoryWrite, CmdDMAWrite:
		return true
	}
	return false
}
