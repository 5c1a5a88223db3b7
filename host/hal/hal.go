package hal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ardnew/artemis/pkg"
)

// Transport is the byte stream between the host and a board.
//
// Implementations need not be safe for concurrent use; the engine serializes
// all access through its transport lock.
type Transport interface {
	// Write sends p to the board, returning the number of bytes written.
	Write(ctx context.Context, p []byte) (int, error)

	// Read blocks until at least one byte is available or ctx is done and
	// returns the bytes read. When ctx expires before any byte arrives,
	// Read returns 0 and an error matching [pkg.ErrTimeout].
	Read(ctx context.Context, p []byte) (int, error)

	// Purge discards any bytes buffered in either direction.
	Purge() error

	// Close releases the transport. Blocked calls return [pkg.ErrClosed].
	Close() error
}

// ResetLine is the out-of-band control of the FPGA: a reset pin the host
// can drive and the configuration DONE pin it can sample.
type ResetLine interface {
	// Pulse drives the reset line low for the given duration and releases
	// it again.
	Pulse(ctx context.Context, low time.Duration) error

	// Done reports whether the FPGA has been configured.
	Done() (bool, error)
}

// Identity names a board attached to the host.
type Identity struct {
	Vendor  uint16
	Product uint16
	Serial  string
	Bus     int
	Address int
}

func (id Identity) String() string {
	return fmt.Sprintf("%04x:%04x serial=%q bus=%d addr=%d", id.Vendor, id.Product, id.Serial, id.Bus, id.Address)
}

// ReadFull reads exactly len(p) bytes from t, accumulating partial reads
// until p is full or ctx is done. A short result is reported with
// [pkg.ShortRead], which matches both [pkg.ErrTimeout] and [pkg.ErrShortRead].
func ReadFull(ctx context.Context, t Transport, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := t.Read(ctx, p[n:])
		n += m
		if err != nil {
			if n < len(p) && errors.Is(err, pkg.ErrTimeout) {
				return n, pkg.ShortRead(n, len(p))
			}
			return n, err
		}
	}
	return n, nil
}

// deadliner is implemented by streams that support read deadlines, such as
// pipes opened non-blocking and [net.Conn].
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Stream adapts an [io.ReadWriteCloser] to a [Transport]. Context deadlines
// are applied as read deadlines when the stream supports them.
type Stream struct {
	rw  io.ReadWriteCloser
	buf [256]byte
}

// NewStream returns a Transport reading and writing rw.
func NewStream(rw io.ReadWriteCloser) *Stream {
	return &Stream{rw: rw}
}

// Write writes p to the stream.
func (s *Stream) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, contextError(err)
	}
	if d, ok := s.rw.(writeDeadliner); ok {
		deadline, _ := ctx.Deadline()
		if err := d.SetWriteDeadline(deadline); err != nil {
			return 0, streamError(err)
		}
	}
	n, err := s.rw.Write(p)
	return n, streamError(err)
}

// Read reads from the stream, honoring the deadline of ctx.
func (s *Stream) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, contextError(err)
	}
	if d, ok := s.rw.(deadliner); ok {
		deadline, _ := ctx.Deadline()
		if err := d.SetReadDeadline(deadline); err != nil {
			return 0, streamError(err)
		}
	}
	n, err := s.rw.Read(p)
	return n, streamError(err)
}

// PurgeWindow is how long [Stream.Purge] waits for more bytes before it
// considers the stream drained.
const PurgeWindow = time.Millisecond

// Purge drains bytes already waiting on the stream. It reads until no byte
// arrives within [PurgeWindow]. A closed stream reports [pkg.ErrClosed].
// Streams without read deadlines cannot be drained without blocking and are
// left untouched.
func (s *Stream) Purge() error {
	d, ok := s.rw.(deadliner)
	if !ok {
		return nil
	}
	defer d.SetReadDeadline(time.Time{})
	for {
		if err := d.SetReadDeadline(time.Now().Add(PurgeWindow)); err != nil {
			return streamError(err)
		}
		n, err := s.rw.Read(s.buf[:])
		if n > 0 {
			pkg.LogDebug(pkg.ComponentTransport, "purged", "bytes", n)
		}
		switch {
		case err == nil:
		case os.IsTimeout(err):
			return nil
		default:
			return streamError(err)
		}
	}
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.rw.Close()
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	return err
}

func streamError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsTimeout(err):
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, os.ErrClosed):
		return fmt.Errorf("%w: %w", pkg.ErrClosed, err)
	default:
		return err
	}
}

var _ Transport = (*Stream)(nil)
