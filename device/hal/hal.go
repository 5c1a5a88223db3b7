package hal

import (
	"context"
	"fmt"
)

// Level is a logic level sampled on a board pin.
type Level uint8

// Pin levels. The values match the bytes the host writes to a simulated
// board's control FIFO.
const (
	LevelLow  Level = 0x00
	LevelHigh Level = 0x01
)

// String returns "low", "high" or the raw value.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("level(0x%02X)", uint8(l))
	}
}

// Pins is the board side of the FPGA's out-of-band control lines: the reset
// input driven by the host and the configuration DONE output.
type Pins interface {
	// WatchReset calls fn with every level driven on the reset line until
	// ctx is done or the pins are closed. It returns nil in both cases.
	WatchReset(ctx context.Context, fn func(Level)) error

	// SetDone drives the DONE output.
	SetDone(done bool) error
}
