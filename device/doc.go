// Package device simulates the FPGA side of an Artemis board.
//
// Two simulations are provided, one per transport:
//
//   - [Board] answers the direct command protocol: command frames read from
//     a byte stream are served from a sparse [Memory], and interrupt frames
//     are raised with [Board.RaiseInterrupt]. [Board.WatchReset] follows the
//     reset line through a [hal.Pins] and reports DONE.
//   - [PingPong] is the board end of a PCIe TLP link. It holds the
//     register file, decodes the commands written to BAR0, and runs the
//     device half of the ping-pong buffer exchange against a [Memory].
//
// # Board
//
// The board accepts the frames built by the host engine and answers in the
// same format a configured FPGA does:
//
//	write, ping  0xDC, 12-byte trailer
//	read         0xDC, 0xFD, 7 status bytes, data words
//	dump         0xDC, 4-byte header with the word count, words
//	interrupt    0xDC, 8 zero bytes, 32-bit source bitmap
//
// Bus addresses and memory space addresses share one [Memory]; a frame with
// the memory flag set reads and writes words above the host's memory offset.
// While the reset line is held low, frames are consumed but not answered.
//
//	ep, _ := fifo.Create(busDir, "")
//	board := device.NewBoard(ep, device.BoardConfig{Serial: ep.Serial()})
//	go board.WatchReset(ctx, ep)
//	go board.Serve(ctx)
//
// # PingPong
//
// For every filled buffer the device sends the data as memory writes
// followed by a status packet that sets the slot's dev_buffer_rdy bit and
// advances its index value. For every write buffer the host announces, the
// device fetches the data with memory reads and reports the slot consumed in
// the same way. Each exchange ends with a status packet that has the done
// bit set.
//
//	dev := device.NewPingPong(pcie.NewLink(conn), device.NewMemory(), device.PingPongConfig{})
//	go dev.Serve(ctx)
package device
