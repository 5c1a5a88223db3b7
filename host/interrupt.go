package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// InterruptFunc handles an interrupt raised by source. A handler that
// returns an error or panics is unregistered and never called again.
type InterruptFunc func(source int) error

// HandlerID identifies a registered interrupt handler.
type HandlerID uint64

type handler struct {
	id HandlerID
	fn InterruptFunc
}

// event is a resettable broadcast signal. The channel is closed while the
// event is set.
type event struct {
	ch chan struct{}
}

func (e *event) isSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

func (e *event) set() {
	if !e.isSet() {
		close(e.ch)
	}
}

func (e *event) clear() {
	if e.isSet() {
		e.ch = make(chan struct{})
	}
}

// Dispatcher polls the transport for unsolicited interrupt frames and
// delivers them to registered handlers and waiters.
//
// The dispatcher shares the transport lock with the command engine but only
// ever try-locks it: a poll tick that finds a command in flight is skipped.
type Dispatcher struct {
	tr       hal.Transport
	lock     *sync.Mutex
	interval time.Duration
	probe    time.Duration
	onUpdate func(uint32)

	mu       sync.Mutex
	pending  uint32
	handlers [NumInterrupts][]handler
	events   [NumInterrupts]event
	nextID   HandlerID
	frame    [InterruptFrameSize]byte
}

// NewDispatcher returns a dispatcher reading interrupt frames from tr while
// holding lock. Every wait handle starts out set.
func NewDispatcher(tr hal.Transport, lock *sync.Mutex, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		tr:       tr,
		lock:     lock,
		interval: cfg.PollInterval,
		probe:    cfg.ProbeTimeout,
		onUpdate: cfg.OnInterrupt,
	}
	for i := range d.events {
		d.events[i].ch = make(chan struct{})
		close(d.events[i].ch)
	}
	return d
}

func checkSource(source int) error {
	if source < 0 || source >= NumInterrupts {
		return fmt.Errorf("%w: interrupt source %d out of range [0, %d)", pkg.ErrInvalidField, source, NumInterrupts)
	}
	return nil
}

// Register adds fn as a handler for source.
func (d *Dispatcher) Register(source int, fn InterruptFunc) (HandlerID, error) {
	if err := checkSource(source); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[source] = append(d.handlers[source], handler{id: d.nextID, fn: fn})
	return d.nextID, nil
}

// Unregister removes the handler id from source. An id of 0 removes every
// handler of source. Unknown ids are ignored.
func (d *Dispatcher) Unregister(source int, id HandlerID) error {
	if err := checkSource(source); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == 0 {
		d.handlers[source] = nil
		return nil
	}
	d.handlers[source] = slices.DeleteFunc(d.handlers[source], func(h handler) bool { return h.id == id })
	return nil
}

// Handlers returns the number of handlers registered for source.
func (d *Dispatcher) Handlers(source int) int {
	if checkSource(source) != nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[source])
}

// Pending returns the most recent non-zero interrupt bitmap, less any
// sources acknowledged since.
func (d *Dispatcher) Pending() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Acknowledge clears the pending bit of source.
func (d *Dispatcher) Acknowledge(source int) error {
	if err := checkSource(source); err != nil {
		return err
	}
	d.mu.Lock()
	d.pending &^= 1 << source
	d.mu.Unlock()
	return nil
}

// Wait reports whether source has an interrupt pending, blocking until one
// arrives or ctx is done. It returns false when ctx ends first.
//
// Source 0 is signalled by every interrupt, whichever bits it carries.
func (d *Dispatcher) Wait(ctx context.Context, source int) (bool, error) {
	if err := checkSource(source); err != nil {
		return false, err
	}
	d.mu.Lock()
	if d.pending&(1<<source) != 0 {
		d.mu.Unlock()
		return true, nil
	}
	ev := &d.events[source]
	ev.clear()
	ch := ev.ch
	d.mu.Unlock()

	select {
	case <-ch:
		return true, nil
	case <-ctx.Done():
		d.mu.Lock()
		ev.set()
		d.mu.Unlock()
		return false, nil
	}
}

// Run polls for interrupts every poll interval until ctx is done or the
// transport is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	pkg.LogDebug(pkg.ComponentInterrupt, "dispatcher started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			pkg.LogDebug(pkg.ComponentInterrupt, "dispatcher stopped")
			return nil
		case <-ticker.C:
			_, err := d.Poll(ctx)
			if errors.Is(err, pkg.ErrClosed) {
				pkg.LogDebug(pkg.ComponentInterrupt, "transport closed, dispatcher exiting")
				return err
			}
			if err != nil {
				pkg.LogWarn(pkg.ComponentInterrupt, "interrupt poll failed", "error", err)
			}
		}
	}
}

// Poll performs a single poll tick. It returns the decoded bitmap, or 0 when
// the tick was skipped because a command holds the transport or when no
// interrupt frame was waiting.
func (d *Dispatcher) Poll(ctx context.Context) (uint32, error) {
	if !d.lock.TryLock() {
		return 0, nil
	}
	bitmap, err := d.probeFrame(ctx)
	d.lock.Unlock()

	if err != nil || bitmap == 0 {
		return bitmap, err
	}
	d.Dispatch(bitmap)
	return bitmap, nil
}

// probeFrame reads one interrupt frame if its ack byte is already waiting.
// The caller holds the transport lock.
func (d *Dispatcher) probeFrame(ctx context.Context) (uint32, error) {
	pctx, cancel := context.WithTimeout(ctx, d.probe)
	n, err := d.tr.Read(pctx, d.frame[:2])
	cancel()
	if n == 0 || d.frame[0] != AckByte {
		if err != nil && !errors.Is(err, pkg.ErrTimeout) {
			return 0, err
		}
		return 0, nil
	}

	fctx, cancel := context.WithTimeout(ctx, InterruptFrameTimeout)
	defer cancel()
	if _, err := hal.ReadFull(fctx, d.tr, d.frame[n:]); err != nil {
		return 0, fmt.Errorf("interrupt frame: %w", err)
	}
	bitmap := binary.BigEndian.Uint32(d.frame[InterruptFrameSize-4:])
	pkg.LogDebug(pkg.ComponentInterrupt, "interrupt frame", "bitmap", fmt.Sprintf("0x%08X", bitmap))
	return bitmap, nil
}

// Dispatch delivers bitmap: every handler of every set bit is called, then
// the pending mask is replaced by bitmap and the matching wait handles are
// signalled. A zero bitmap is ignored.
func (d *Dispatcher) Dispatch(bitmap uint32) {
	if bitmap == 0 {
		return
	}
	d.callHandlers(bitmap)

	d.mu.Lock()
	d.pending = bitmap
	for i := range NumInterrupts {
		if i == 0 || bitmap&(1<<i) != 0 {
			d.events[i].set()
		}
	}
	d.mu.Unlock()

	if d.onUpdate != nil {
		d.onUpdate(bitmap)
	}
}

func (d *Dispatcher) callHandlers(bitmap uint32) {
	for source := range NumInterrupts {
		if bitmap&(1<<source) == 0 {
			continue
		}
		d.mu.Lock()
		hs := slices.Clone(d.handlers[source])
		d.mu.Unlock()

		for _, h := range hs {
			if err := invoke(h.fn, source); err != nil {
				pkg.LogWarn(pkg.ComponentInterrupt, "removing failed interrupt handler",
					"source", source, "handler", h.id, "error", err)
				_ = d.Unregister(source, h.id)
			}
		}
	}
}

func invoke(fn InterruptFunc, source int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(source)
}
