// Package fifo implements the board end of the named-pipe bus used to run
// the host engine against a simulated board.
//
// Each board creates a subdirectory of a shared bus directory:
//
//	/tmp/artemis-bus/             # bus directory (shared with the host)
//	└── board-{serial}/           # one per board
//	    ├── host_to_board         # command frames
//	    ├── board_to_host         # responses and interrupt frames
//	    ├── control               # reset line levels, one byte each
//	    └── done                  # present while the FPGA is configured
//
// A board created without a serial gets a unique one from xid, so parallel
// tests can share a bus directory.
//
//	ep, err := fifo.Create("/tmp/artemis-bus", "")
//	if err != nil {
//		return err
//	}
//	defer ep.Remove()
//	board := device.NewBoard(ep, device.BoardConfig{Serial: ep.Serial()})
//	go board.WatchReset(ctx, ep)
//	return board.Serve(ctx)
//
// The host opens the same directory with the opener in
// [github.com/ardnew/artemis/host/hal/fifo].
package fifo
