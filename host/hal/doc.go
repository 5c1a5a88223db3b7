// Package hal defines the boundary between the board protocol engine and
// the hardware it drives.
//
// The engine in package host speaks only to two interfaces:
//
//   - [Transport]: a byte stream to the board (the FTDI synchronous FIFO,
//     a named pipe to the simulated board, or an in-memory pipe in tests)
//   - [ResetLine]: the out-of-band reset and DONE pins
//
// Everything above this boundary is transport-agnostic. Platform packages
// implement the interfaces:
//
//   - [github.com/ardnew/artemis/host/hal/ftdi] for FT2232H boards over libusb
//   - [github.com/ardnew/artemis/host/hal/fifo] for the simulated board
//   - [github.com/ardnew/artemis/host/hal/linux] for the PCIe character device
//
// # Timeouts
//
// Blocking operations take a [context.Context]. An expired deadline is
// reported as an error matching [github.com/ardnew/artemis/pkg.ErrTimeout] so
// that callers never need to know which transport they hold.
//
// [Stream] adapts any [io.ReadWriteCloser] whose reads support deadlines
// (pipes, sockets, [net.Pipe]) and is what the FIFO transport and the tests
// build on.
package hal
