package pcie

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// linkQueueDepth is the number of received packets buffered by a link.
const linkQueueDepth = 64

// Link carries TLPs over a packet-oriented stream. Each Read of the
// underlying stream must return exactly one packet and each packet is
// written with a single Write.
//
// A background goroutine receives packets from the moment the link is
// created, so the peer never blocks on a write while the owner of the link
// is busy sending.
type Link struct {
	rw io.ReadWriteCloser

	wmu sync.Mutex

	rx   chan tlp.Packet
	done chan struct{}
	once sync.Once

	errMu sync.Mutex
	err   error
}

// NewLink starts receiving packets from rw.
func NewLink(rw io.ReadWriteCloser) *Link {
	l := &Link{
		rw:   rw,
		rx:   make(chan tlp.Packet, linkQueueDepth),
		done: make(chan struct{}),
	}
	go l.receive()
	return l
}

func (l *Link) receive() {
	defer close(l.rx)
	buf := make([]byte, tlp.MaxPacketSize)
	for {
		n, err := l.rw.Read(buf)
		if err != nil {
			l.fail(err)
			return
		}
		if n == 0 {
			continue
		}
		p, err := tlp.Parse(buf[:n])
		if err != nil {
			pkg.LogWarn(pkg.ComponentTLP, "dropped packet", "bytes", n, "error", err)
			continue
		}
		pkg.LogDebug(pkg.ComponentTLP, "received", "packet", p)
		select {
		case l.rx <- p:
		case <-l.done:
			return
		}
	}
}

func (l *Link) fail(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

// Err returns the error that stopped the receiver, if any.
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Send writes p to the link.
func (l *Link) Send(ctx context.Context, p tlp.Packet) error {
	if err := ctx.Err(); err != nil {
		return linkContextError(err)
	}
	b, err := tlp.Generate(p)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return pkg.ErrClosed
	default:
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	pkg.LogDebug(pkg.ComponentTLP, "send", "packet", p)
	if _, err := l.rw.Write(b); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", pkg.ErrClosed, err)
		}
		return err
	}
	return nil
}

// Receive returns the next packet, waiting no longer than ctx allows.
func (l *Link) Receive(ctx context.Context) (tlp.Packet, error) {
	select {
	case p, ok := <-l.rx:
		if !ok {
			if err := l.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				return nil, fmt.Errorf("%w: %w", pkg.ErrClosed, err)
			}
			return nil, pkg.ErrClosed
		}
		return p, nil
	case <-ctx.Done():
		return nil, linkContextError(ctx.Err())
	}
}

// Close closes the underlying stream and stops the receiver.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.rw.Close()
	})
	return err
}

func linkContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", pkg.ErrClosed, err)
}
