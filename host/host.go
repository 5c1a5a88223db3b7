package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// Engine drives one board over a [hal.Transport].
//
// A single worker goroutine owns the transport and executes commands one at
// a time, in submission order. A [Dispatcher] polls for interrupt frames in
// between commands. Both share the transport lock; the dispatcher never
// waits for it.
type Engine struct {
	tr    hal.Transport
	reset hal.ResetLine
	cfg   Config

	lock       sync.Mutex // transport lock
	queue      chan *request
	dispatcher *Dispatcher
	state      atomic.Uint32

	// Lifecycle
	running bool
	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine for the board behind tr. The reset line may be nil,
// in which case Reset and IsProgrammed report [pkg.ErrNotSupported].
func New(tr hal.Transport, reset hal.ResetLine, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		tr:    tr,
		reset: reset,
		cfg:   cfg,
		queue: make(chan *request, cfg.QueueDepth),
	}
	e.dispatcher = NewDispatcher(tr, &e.lock, cfg)
	return e
}

// Start starts the worker and, unless disabled, the interrupt dispatcher.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.running {
		return pkg.ErrAlreadyRunning
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go e.run(e.ctx)

	if !e.cfg.DisableInterrupts {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			_ = e.dispatcher.Run(e.ctx)
		}()
	}

	pkg.LogInfo(pkg.ComponentEngine, "engine started")
	return nil
}

// Stop stops the worker and the dispatcher. Requests still queued fail with
// [pkg.ErrClosed]. The transport is left open.
func (e *Engine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	e.cancel()
	e.mutex.Unlock()

	e.wg.Wait()
	e.failQueued()
	pkg.LogInfo(pkg.ComponentEngine, "engine stopped")
	return nil
}

// Close stops the engine and closes its transport.
func (e *Engine) Close() error {
	return errors.Join(e.Stop(), e.tr.Close())
}

// IsRunning reports whether the engine has been started and not stopped.
func (e *Engine) IsRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// State returns the engine's current command state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(uint32(s))
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Dispatcher returns the engine's interrupt dispatcher.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// =============================================================================
// Commands
// =============================================================================

// Write writes data starting at addr. Addresses at or above [MemoryOffset]
// target the board's memory space. With noIncrement set every word is
// written to the same address.
func (e *Engine) Write(ctx context.Context, addr uint64, data []byte, noIncrement bool) error {
	f, err := WriteFrame(addr, data, noIncrement)
	if err != nil {
		return err
	}
	_, err = e.submit(ctx, newRequest(cmdWrite, f))
	return err
}

// Read reads words 32-bit words starting at addr.
func (e *Engine) Read(ctx context.Context, addr uint64, words uint32, noIncrement bool) ([]byte, error) {
	f, err := ReadFrame(addr, words, noIncrement)
	if err != nil {
		return nil, err
	}
	rsp, err := e.submit(ctx, newRequest(cmdRead, f))
	if err != nil {
		return nil, err
	}
	return rsp.data, nil
}

// Ping checks that the board answers.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.submit(ctx, newRequest(cmdPing, PingFrame()))
	return err
}

// Reset pulses the board's reset line and waits for it to settle.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := e.submit(ctx, newRequest(cmdReset, Frame{}))
	return err
}

// IsProgrammed reports whether the FPGA has been configured.
func (e *Engine) IsProgrammed(ctx context.Context) (bool, error) {
	rsp, err := e.submit(ctx, newRequest(cmdIsProgrammed, Frame{}))
	return rsp.done, err
}

// DumpCore returns the state the bus master captured before its last reset.
func (e *Engine) DumpCore(ctx context.Context) ([]uint32, error) {
	rsp, err := e.submit(ctx, newRequest(cmdDump, DumpFrame()))
	if err != nil {
		return nil, err
	}
	return rsp.words, nil
}

// ReadRegister reads the single word at addr.
func (e *Engine) ReadRegister(ctx context.Context, addr uint64) (uint32, error) {
	data, err := e.Read(ctx, addr, 1, false)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, pkg.ShortRead(len(data), 4)
	}
	return binary.BigEndian.Uint32(data), nil
}

// WriteRegister writes the single word v at addr.
func (e *Engine) WriteRegister(ctx context.Context, addr uint64, v uint32) error {
	return e.Write(ctx, addr, binary.BigEndian.AppendUint32(nil, v), false)
}

// =============================================================================
// Interrupts
// =============================================================================

// RegisterInterrupt adds fn as a handler for interrupt source.
func (e *Engine) RegisterInterrupt(source int, fn InterruptFunc) (HandlerID, error) {
	return e.dispatcher.Register(source, fn)
}

// UnregisterInterrupt removes handler id from source, or every handler of
// source when id is 0.
func (e *Engine) UnregisterInterrupt(source int, id HandlerID) error {
	return e.dispatcher.Unregister(source, id)
}

// WaitForInterrupts reports whether source has an interrupt pending, waiting
// up to wait for one to arrive.
func (e *Engine) WaitForInterrupts(wait time.Duration, source int) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return e.dispatcher.Wait(ctx, source)
}

// Interrupts returns the pending interrupt bitmap.
func (e *Engine) Interrupts() uint32 {
	return e.dispatcher.Pending()
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine(state=%s running=%t)", e.State(), e.IsRunning())
}
