//go:build linux

package linux

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/artemis/pkg"
)

// MaxEpollEvents is the maximum events to retrieve per epoll_wait call.
const MaxEpollEvents = 8

// =============================================================================
// Poller
// =============================================================================

// poller waits for readiness of file descriptors with epoll. An eventfd is
// registered alongside so that a blocked wait can be interrupted by context
// cancellation or close.
type poller struct {
	epfd   int
	wakefd int
	closed atomic.Bool
}

// newPoller creates a new poller instance.
func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &poller{epfd: epfd, wakefd: wakefd}
	if err := p.add(wakefd, unix.EPOLLIN); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// close shuts down the poller and releases any blocked wait.
func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.wake()
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// add registers fd for events. Files that do not support polling report
// [unix.EPERM].
func (p *poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// del removes fd from the poller.
func (p *poller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wake signals the poller to wake up.
func (p *poller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

func (p *poller) drain() {
	var buf [8]byte
	unix.Read(p.wakefd, buf[:])
}

// wait blocks until fd is ready, ctx is done, or the poller is closed.
func (p *poller) wait(ctx context.Context, fd int) error {
	stop := context.AfterFunc(ctx, func() { p.wake() })
	defer stop()

	var events [MaxEpollEvents]unix.EpollEvent
	for {
		if p.closed.Load() {
			return pkg.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return contextError(err)
		}

		n, err := unix.EpollWait(p.epfd, events[:], timeoutMillis(ctx))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for i := range n {
			switch int(events[i].Fd) {
			case p.wakefd:
				p.drain()
			case fd:
				return nil
			}
		}
	}
}

// ready reports whether fd is readable right now.
func (p *poller) ready(fd int) (bool, error) {
	var events [MaxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(p.epfd, events[:], 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("epoll_wait: %w", err)
		}
		for i := range n {
			if int(events[i].Fd) == fd {
				return true, nil
			}
		}
		return false, nil
	}
}

// timeoutMillis converts the deadline of ctx into an epoll timeout, rounded
// up so the wait never returns before the deadline.
func timeoutMillis(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return -1
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", pkg.ErrClosed, err)
}
