package ftdi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// Transport is a [hal.Transport] over channel A of an FT2232H in
// synchronous FIFO mode.
type Transport struct {
	ctl   controller
	in    inEndpoint
	out   outEndpoint
	close func() error

	rx      [16 * PacketSize]byte
	pending []byte
}

func newTransport(ctl controller, in inEndpoint, out outEndpoint, close func() error) *Transport {
	return &Transport{ctl: ctl, in: in, out: out, close: close}
}

// Write writes p to the bulk OUT endpoint.
func (t *Transport) Write(ctx context.Context, p []byte) (int, error) {
	n, err := t.out.WriteContext(ctx, p)
	if err != nil {
		return n, usbError(ctx, err)
	}
	pkg.LogDebug(pkg.ComponentTransport, "usb write", "bytes", n)
	return n, nil
}

// Read returns payload bytes from the bulk IN endpoint. The chip prefixes
// every packet with two modem status bytes and sends status-only packets
// while idle; both are dropped here.
func (t *Transport) Read(ctx context.Context, p []byte) (int, error) {
	for len(t.pending) == 0 {
		n, err := t.in.ReadContext(ctx, t.rx[:])
		if err != nil && n == 0 {
			return 0, usbError(ctx, err)
		}
		t.pending = stripStatus(t.rx[:n])
		if len(t.pending) == 0 {
			if err := ctx.Err(); err != nil {
				return 0, usbError(ctx, err)
			}
		}
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// stripStatus removes the status bytes of every packet in b, in place.
func stripStatus(b []byte) []byte {
	out := b[:0]
	for off := 0; off < len(b); off += PacketSize {
		end := min(off+PacketSize, len(b))
		if end-off > statusSize {
			out = append(out, b[off+statusSize:end]...)
		}
	}
	return out
}

// Purge flushes the chip's buffers and drops any payload already read.
func (t *Transport) Purge() error {
	t.pending = nil
	if err := control(t.ctl, reqReset, resetPurgeR, ChannelA); err != nil {
		return err
	}
	return control(t.ctl, reqReset, resetPurgeW, ChannelA)
}

// Close releases the USB resources.
func (t *Transport) Close() error {
	if t.close == nil {
		return nil
	}
	err := t.close()
	t.close = nil
	return err
}

func usbError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", pkg.ErrClosed, ctx.Err())
	case errors.Is(err, gousb.ErrorTimeout):
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	case errors.Is(err, gousb.ErrorNoDevice):
		return fmt.Errorf("%w: %w", pkg.ErrClosed, err)
	default:
		return err
	}
}

var _ hal.Transport = (*Transport)(nil)
