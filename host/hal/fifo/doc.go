// Package fifo provides a named-pipe transport for talking to a simulated
// board.
//
// The host scans a bus directory for board subdirectories. Each board
// creates its own subdirectory holding three FIFOs and, while configured,
// a done file:
//
//	/tmp/artemis-bus/                # Bus directory
//	├── board-cs1f4a.../             # Board subdirectory, suffix is the serial
//	│   ├── host_to_board            # Command frames
//	│   ├── board_to_host            # Responses and interrupt frames
//	│   ├── control                  # Reset line levels (0x00 low, 0x01 high)
//	│   └── done                     # Regular file, FPGA DONE pin
//	└── board-cs1f4b.../
//
// [Opener] implements the host package's Opener, so a [host.Manager] can open
// simulated boards the same way it opens hardware.
//
// # Usage
//
//	m := host.NewManager(fifo.NewOpener("/tmp/artemis-bus"), host.DefaultConfig())
//	defer m.Close()
//
//	e, err := m.Open(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = e.Ping(ctx)
package fifo
