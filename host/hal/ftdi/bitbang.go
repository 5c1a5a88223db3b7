package ftdi

import (
	"context"
	"time"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// Channel B pins.
const (
	PinReset = 1 << 4 // soft reset, active low
	PinDone  = 1 << 5 // FPGA DONE
)

// ResetLine drives the FPGA's reset and samples its DONE pin through channel
// B in bit-bang mode. The pins are returned to inputs afterwards so the
// board is free to drive them.
type ResetLine struct {
	ctl controller
	out outEndpoint
}

func newResetLine(ctl controller, out outEndpoint) *ResetLine {
	return &ResetLine{ctl: ctl, out: out}
}

// Pulse drives reset high, low for the given duration, and high again.
func (l *ResetLine) Pulse(ctx context.Context, low time.Duration) error {
	if err := setBitmode(l.ctl, ChannelB, BitmodeBitbang, PinReset); err != nil {
		return err
	}
	defer setBitmode(l.ctl, ChannelB, BitmodeBitbang, 0)

	if err := l.drive(ctx, PinReset); err != nil {
		return err
	}
	if err := l.drive(ctx, 0); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentTransport, "reset asserted", "hold", low)
	select {
	case <-time.After(low):
	case <-ctx.Done():
	}
	return l.drive(context.WithoutCancel(ctx), PinReset)
}

func (l *ResetLine) drive(ctx context.Context, pins uint8) error {
	_, err := l.out.WriteContext(ctx, []byte{pins})
	if err != nil {
		return usbError(ctx, err)
	}
	return nil
}

// Done reports whether the DONE pin reads high.
func (l *ResetLine) Done() (bool, error) {
	if err := setBitmode(l.ctl, ChannelB, BitmodeBitbang, 0); err != nil {
		return false, err
	}
	pins, err := readPins(l.ctl, ChannelB)
	if err != nil {
		return false, err
	}
	return pins&PinDone != 0, nil
}

var _ hal.ResetLine = (*ResetLine)(nil)
