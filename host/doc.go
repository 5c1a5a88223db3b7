// Package host implements the host side of the Artemis board protocol.
//
// It is transport-agnostic and talks to a board through the [hal.Transport]
// and [hal.ResetLine] interfaces defined in the
// github.com/ardnew/artemis/host/hal package. Concrete transports live in
// the hal subpackages: FTDI synchronous FIFO over USB, the PCIe character
// device, and the named-pipe bus used by the simulated board.
//
// # Architecture
//
// The package is organized into a few cooperating parts:
//
//   - Engine executes framed commands (write, read, ping, core dump) and
//     the out-of-band reset, one at a time, on a dedicated worker
//   - Dispatcher polls for unsolicited interrupt frames between commands
//   - Frame builds and parses the command frames
//   - Manager keeps the open engines keyed by board serial number
//
// # Command Frames
//
// Every command starts with the id byte 0xCD followed by the opcode, a
// 24-bit word count and a 32-bit address, all big-endian:
//
//	+------+--------+-----------+-----------+---------+
//	| 0xCD | opcode | len (3B)  | addr (4B) | payload |
//	+------+--------+-----------+-----------+---------+
//
// Opcode bit 0x10 selects the memory space, bit 0x20 disables address
// auto-increment. Host addresses at or above [MemoryOffset] are rebased into
// the memory space automatically.
//
// The board answers with the ack byte 0xDC. Writes and pings are followed by
// a 12-byte status trailer; reads by an 8-byte status prefix and the data.
//
// # Interrupts
//
// The board may send a 13-byte interrupt frame at any time the link is idle.
// The dispatcher shares the engine's transport lock but only try-locks it,
// so a poll tick that finds a command in flight is skipped rather than
// delaying the command. Handlers run after the lock is released. A handler
// that fails or panics is removed.
//
// # Example
//
//	e := host.New(transport, resetLine, host.DefaultConfig())
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	if err := e.Ping(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	data, err := e.Read(ctx, host.MemoryOffset, 16, false)
package host
