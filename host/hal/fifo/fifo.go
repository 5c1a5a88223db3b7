package fifo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// Board directory layout. Each simulated board creates
// busDir/BoardPrefix+serial/ holding the files below.
const (
	BoardPrefix = "board-"

	FileHostToBoard = "host_to_board" // command frames
	FileBoardToHost = "board_to_host" // responses and interrupt frames
	FileControl     = "control"       // reset line levels, one byte each
	FileDone        = "done"          // present while the FPGA is configured
)

// Reset line levels written to the control FIFO.
const (
	LevelLow  = 0x00
	LevelHigh = 0x01
)

// Opener finds and opens simulated boards in a bus directory.
type Opener struct {
	busDir string
}

// NewOpener returns an opener for the boards below busDir.
func NewOpener(busDir string) *Opener {
	return &Opener{busDir: busDir}
}

// BoardDir returns the directory of the board with the given serial.
func BoardDir(busDir, serial string) string {
	return filepath.Join(busDir, BoardPrefix+serial)
}

// Scan lists the boards whose command FIFO exists, ordered by serial.
func (o *Opener) Scan(ctx context.Context) ([]hal.Identity, error) {
	entries, err := os.ReadDir(o.busDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var ids []hal.Identity
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), BoardPrefix) {
			continue
		}
		fifo := filepath.Join(o.busDir, entry.Name(), FileHostToBoard)
		if fi, err := os.Stat(fifo); err != nil || fi.Mode()&fs.ModeNamedPipe == 0 {
			continue
		}
		ids = append(ids, hal.Identity{Serial: strings.TrimPrefix(entry.Name(), BoardPrefix)})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Serial < ids[j].Serial })
	for i := range ids {
		ids[i].Address = i + 1
	}
	return ids, nil
}

// Open opens the FIFOs of the board with the given serial.
func (o *Opener) Open(ctx context.Context, serial string) (hal.Transport, hal.ResetLine, error) {
	dir := BoardDir(o.busDir, serial)
	if _, err := os.Stat(dir); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", pkg.ErrNoDevice, dir)
	}

	// FIFOs are opened read-write so the open never blocks waiting for the
	// other end and a restarted board does not see EOF.
	w, err := openFIFO(dir, FileHostToBoard)
	if err != nil {
		return nil, nil, err
	}
	r, err := openFIFO(dir, FileBoardToHost)
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	ctl, err := openFIFO(dir, FileControl)
	if err != nil {
		w.Close()
		r.Close()
		return nil, nil, err
	}

	pkg.LogInfo(pkg.ComponentTransport, "opened board FIFOs", "dir", dir)
	p := &pipe{r: r, w: w, ctl: ctl}
	return hal.NewStream(p), &ResetLine{ctl: ctl, dir: dir}, nil
}

func openFIFO(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// pipe joins the two data FIFOs of a board into one stream.
type pipe struct {
	r, w *os.File
	ctl  *os.File
}

func (p *pipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipe) SetReadDeadline(t time.Time) error  { return p.r.SetReadDeadline(t) }
func (p *pipe) SetWriteDeadline(t time.Time) error { return p.w.SetWriteDeadline(t) }

func (p *pipe) Close() error {
	return errors.Join(p.r.Close(), p.w.Close(), p.ctl.Close())
}

// ResetLine drives the simulated board's reset through its control FIFO
// and reports DONE from the presence of its done file.
type ResetLine struct {
	ctl *os.File
	dir string
}

// Pulse writes a low level, waits, and writes a high level.
func (l *ResetLine) Pulse(ctx context.Context, low time.Duration) error {
	if _, err := l.ctl.Write([]byte{LevelLow}); err != nil {
		return fmt.Errorf("reset low: %w", err)
	}
	select {
	case <-time.After(low):
	case <-ctx.Done():
	}
	if _, err := l.ctl.Write([]byte{LevelHigh}); err != nil {
		return fmt.Errorf("reset high: %w", err)
	}
	return ctx.Err()
}

// Done reports whether the board's done file exists.
func (l *ResetLine) Done() (bool, error) {
	_, err := os.Stat(filepath.Join(l.dir, FileDone))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

var _ hal.ResetLine = (*ResetLine)(nil)
