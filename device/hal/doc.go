// Package hal defines the hardware interface of a simulated board.
//
// A board receives command frames and sends responses on a byte stream,
// which any [io.ReadWriter] provides. The remaining lines of the FPGA, the
// reset input and the DONE output, are abstracted by [Pins].
//
// A FIFO implementation shared with the host's FIFO transport is available
// in [github.com/ardnew/artemis/device/hal/fifo].
package hal
