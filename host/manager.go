package host

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// Opener finds and opens boards.
type Opener interface {
	// Scan lists the boards currently attached.
	Scan(ctx context.Context) ([]hal.Identity, error)

	// Open opens the board with the given serial number and returns its
	// transport and reset line.
	Open(ctx context.Context, serial string) (hal.Transport, hal.ResetLine, error)
}

// Manager is a registry of open boards keyed by serial number. Opening a
// serial that is already open returns the running engine.
type Manager struct {
	opener Opener
	cfg    Config

	mu     sync.Mutex
	boards map[string]*Engine
	closed bool
}

// NewManager returns a manager opening boards through opener. Every engine
// it starts uses cfg.
func NewManager(opener Opener, cfg Config) *Manager {
	return &Manager{
		opener: opener,
		cfg:    cfg,
		boards: make(map[string]*Engine),
	}
}

// Scan lists attached boards.
func (m *Manager) Scan(ctx context.Context) ([]hal.Identity, error) {
	ids, err := m.opener.Scan(ctx)
	if err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentManager, "scan", "boards", len(ids))
	return ids, nil
}

// Open returns the running engine for serial, opening and starting one if
// needed. An empty serial selects the first board found by Scan. The
// registry is not locked while boards are scanned or opened.
func (m *Manager) Open(ctx context.Context, serial string) (*Engine, error) {
	if serial == "" {
		if err := m.check(); err != nil {
			return nil, err
		}
		ids, err := m.opener.Scan(ctx)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, pkg.ErrNoDevice
		}
		serial = ids[0].Serial
	}

	if e, err := m.lookup(serial); e != nil || err != nil {
		return e, err
	}

	tr, reset, err := m.opener.Open(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", serial, err)
	}
	e := New(tr, reset, m.cfg)
	if err := e.Start(context.WithoutCancel(ctx)); err != nil {
		tr.Close()
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		e.Close()
		return nil, pkg.ErrClosed
	}
	if prev, ok := m.boards[serial]; ok {
		m.mu.Unlock()
		pkg.LogDebug(pkg.ComponentManager, "lost open race", "serial", serial)
		e.Close()
		return prev, nil
	}
	m.boards[serial] = e
	m.mu.Unlock()

	pkg.LogInfo(pkg.ComponentManager, "board opened", "serial", serial)
	return e, nil
}

func (m *Manager) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return pkg.ErrClosed
	}
	return nil
}

// lookup returns the open engine for serial, if any.
func (m *Manager) lookup(serial string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, pkg.ErrClosed
	}
	return m.boards[serial], nil
}

// Serials returns the serial numbers of the open boards, sorted.
func (m *Manager) Serials() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.boards))
}

// Release closes the board with the given serial and forgets it.
func (m *Manager) Release(serial string) error {
	m.mu.Lock()
	e, ok := m.boards[serial]
	delete(m.boards, serial)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", pkg.ErrNoDevice, serial)
	}
	pkg.LogInfo(pkg.ComponentManager, "board released", "serial", serial)
	return e.Close()
}

// Close closes every open board. The manager cannot be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	boards := m.boards
	m.boards = make(map[string]*Engine)
	m.closed = true
	m.mu.Unlock()

	var g errgroup.Group
	for serial, e := range boards {
		g.Go(func() error {
			if err := e.Close(); err != nil {
				return fmt.Errorf("close %q: %w", serial, err)
			}
			return nil
		})
	}
	return g.Wait()
}
