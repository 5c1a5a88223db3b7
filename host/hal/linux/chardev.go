//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// DefaultPath is the device node of the first PCIe board.
const DefaultPath = "/dev/nysa_pcie0"

// CharDevice is the character device exported by the PCIe driver.
//
// The driver multiplexes two streams over one file: seeking to the end
// selects command mode, in which writes are register and command words;
// seeking to the start selects data mode, in which reads and writes move
// payload.
type CharDevice struct {
	path string
	fd   int

	poll     *poller
	pollable bool

	mu     sync.Mutex
	closed bool
	buf    [256]byte
}

// Open opens the character device at path.
func Open(path string) (*CharDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	p, err := newPoller()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	d := &CharDevice{path: path, fd: fd, poll: p}
	switch err := p.add(fd, unix.EPOLLIN); {
	case err == nil:
		d.pollable = true
	case errors.Is(err, unix.EPERM):
		// Reads block in the driver and cannot be bounded.
		pkg.LogDebug(pkg.ComponentTransport, "device does not support poll", "path", path)
	default:
		p.close()
		unix.Close(fd)
		return nil, fmt.Errorf("epoll add %s: %w", path, err)
	}

	pkg.LogInfo(pkg.ComponentTransport, "opened character device", "path", path, "pollable", d.pollable)
	return d, nil
}

// Path returns the device node path.
func (d *CharDevice) Path() string {
	return d.path
}

// Command writes p in command mode and returns to data mode.
func (d *CharDevice) Command(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return pkg.ErrClosed
	}

	if _, err := unix.Seek(d.fd, 0, io.SeekEnd); err != nil {
		return fmt.Errorf("command mode: %w", err)
	}
	werr := d.writeAll(p)
	if _, err := unix.Seek(d.fd, 0, io.SeekStart); err != nil {
		return errors.Join(werr, fmt.Errorf("data mode: %w", err))
	}
	return werr
}

// Write writes p in data mode.
func (d *CharDevice) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, contextError(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, pkg.ErrClosed
	}
	if err := d.writeAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *CharDevice) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(d.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", d.path, err)
		}
		p = p[n:]
	}
	return nil
}

// Read reads data-mode bytes. When the device supports polling, Read waits
// for data no longer than ctx allows.
func (d *CharDevice) Read(ctx context.Context, p []byte) (int, error) {
	if d.pollable {
		if err := d.poll.wait(ctx, d.fd); err != nil {
			return 0, err
		}
	} else if err := ctx.Err(); err != nil {
		return 0, contextError(err)
	}

	for {
		n, err := unix.Read(d.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EBADF) {
			return 0, pkg.ErrClosed
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", d.path, err)
		}
		return n, nil
	}
}

// Purge discards bytes already readable. Devices that cannot be polled are
// left untouched.
func (d *CharDevice) Purge() error {
	if !d.pollable {
		return nil
	}
	for {
		ok, err := d.poll.ready(d.fd)
		if err != nil || !ok {
			return err
		}
		if n, err := unix.Read(d.fd, d.buf[:]); err != nil || n == 0 {
			return nil
		}
	}
}

// Close closes the device.
func (d *CharDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.pollable {
		d.poll.del(d.fd)
	}
	return errors.Join(d.poll.close(), unix.Close(d.fd))
}

var _ hal.Transport = (*CharDevice)(nil)
