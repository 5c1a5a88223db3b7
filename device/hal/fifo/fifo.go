package fifo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/ardnew/artemis/device/hal"
	hostfifo "github.com/ardnew/artemis/host/hal/fifo"
	"github.com/ardnew/artemis/pkg"
)

// Endpoint is the board end of a FIFO bus connection. It reads command
// frames and writes responses, and implements [hal.Pins] through the
// board's control FIFO and done file.
type Endpoint struct {
	dir    string
	serial string

	r   *os.File // host_to_board
	w   *os.File // board_to_host
	ctl *os.File // control

	closeOnce sync.Once
	closeErr  error
}

// Create makes the board directory for serial below busDir, creating its
// FIFOs if needed, and opens them. An empty serial is replaced by a unique
// one.
func Create(busDir, serial string) (*Endpoint, error) {
	if serial == "" {
		serial = xid.New().String()
	}
	dir := hostfifo.BoardDir(busDir, serial)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create board directory: %w", err)
	}

	names := []string{hostfifo.FileHostToBoard, hostfifo.FileBoardToHost, hostfifo.FileControl}
	for _, name := range names {
		err := unix.Mkfifo(filepath.Join(dir, name), 0o666)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}

	var files [3]*os.File
	for i, name := range names {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|syscall.O_NONBLOCK, 0)
		if err != nil {
			for _, g := range files[:i] {
				g.Close()
			}
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		files[i] = f
	}

	pkg.LogInfo(pkg.ComponentDevice, "created board FIFOs", "dir", dir)
	return &Endpoint{
		dir:    dir,
		serial: serial,
		r:      files[0],
		w:      files[1],
		ctl:    files[2],
	}, nil
}

// Serial returns the board's serial.
func (e *Endpoint) Serial() string { return e.serial }

// Dir returns the board directory.
func (e *Endpoint) Dir() string { return e.dir }

// Read reads command frame bytes.
func (e *Endpoint) Read(p []byte) (int, error) { return e.r.Read(p) }

// Write writes response bytes.
func (e *Endpoint) Write(p []byte) (int, error) { return e.w.Write(p) }

// SetReadDeadline sets the deadline for reading command frames.
func (e *Endpoint) SetReadDeadline(t time.Time) error { return e.r.SetReadDeadline(t) }

// SetDone creates or removes the done file.
func (e *Endpoint) SetDone(done bool) error {
	path := filepath.Join(e.dir, hostfifo.FileDone)
	if done {
		return os.WriteFile(path, nil, 0o644)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WatchReset calls fn with every level written to the control FIFO.
func (e *Endpoint) WatchReset(ctx context.Context, fn func(hal.Level)) error {
	stop := context.AfterFunc(ctx, func() { e.ctl.SetReadDeadline(time.Now()) })
	defer stop()

	var buf [16]byte
	for {
		n, err := e.ctl.Read(buf[:])
		for _, b := range buf[:n] {
			pkg.LogDebug(pkg.ComponentDevice, "reset line", "level", hal.Level(b))
			fn(hal.Level(b))
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Close closes the FIFOs. The board directory is left in place.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = errors.Join(e.r.Close(), e.w.Close(), e.ctl.Close())
	})
	return e.closeErr
}

// Remove closes the FIFOs and deletes the board directory, detaching the
// board from the bus.
func (e *Endpoint) Remove() error {
	return errors.Join(e.Close(), os.RemoveAll(e.dir))
}

var _ hal.Pins = (*Endpoint)(nil)
