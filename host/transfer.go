package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// command is the operation carried by a request.
type command uint8

const (
	cmdPing command = iota
	cmdWrite
	cmdRead
	cmdReset
	cmdIsProgrammed
	cmdDump
)

func (c command) String() string {
	switch c {
	case cmdPing:
		return "ping"
	case cmdWrite:
		return "write"
	case cmdRead:
		return "read"
	case cmdReset:
		return "reset"
	case cmdIsProgrammed:
		return "is-programmed"
	case cmdDump:
		return "dump"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Request states. A request leaves reqPending exactly once, either when the
// worker takes it or when its caller abandons it.
const (
	reqPending int32 = iota
	reqTaken
	reqAbandoned
)

// request is a message to the engine's worker. Every request taken by the
// worker receives exactly one response on reply, which has room for it so
// the worker never blocks on a caller that gave up. Abandoned requests are
// never sent to the board.
type request struct {
	id    string
	cmd   command
	frame Frame
	reply chan response
	state atomic.Int32
}

// take claims req for execution. It fails if the caller abandoned it.
func (r *request) take() bool {
	return r.state.CompareAndSwap(reqPending, reqTaken)
}

// abandon withdraws req unless the worker already took it. It reports
// whether req is abandoned.
func (r *request) abandon() bool {
	r.state.CompareAndSwap(reqPending, reqAbandoned)
	return r.state.Load() == reqAbandoned
}

// response is the envelope returned for a request.
type response struct {
	status pkg.ResponseStatus
	data   []byte
	words  []uint32
	done   bool
	err    error
}

func newRequest(cmd command, f Frame) *request {
	return &request{
		id:    xid.New().String(),
		cmd:   cmd,
		frame: f,
		reply: make(chan response, 1),
	}
}

// submit queues req and waits for its response. Both steps are bounded by
// the queue timeout.
func (e *Engine) submit(ctx context.Context, req *request) (response, error) {
	e.mutex.RLock()
	running, ectx := e.running, e.ctx
	e.mutex.RUnlock()
	if !running {
		return response{}, pkg.ErrNotRunning
	}

	pkg.LogDebug(pkg.ComponentEngine, "submit", "req", req.id, "cmd", req.cmd, "frame", req.frame)

	enqueue := time.NewTimer(e.cfg.QueueTimeout)
	defer enqueue.Stop()
	select {
	case e.queue <- req:
	case <-ctx.Done():
		return response{}, contextError(ctx.Err())
	case <-ectx.Done():
		return response{}, pkg.ErrClosed
	case <-enqueue.C:
		return response{}, fmt.Errorf("%w: request queue full", pkg.ErrTimeout)
	}

	await := time.NewTimer(e.cfg.QueueTimeout)
	defer await.Stop()
	select {
	case rsp := <-req.reply:
		return e.complete(req, rsp)
	case <-ctx.Done():
		req.abandon()
		return response{}, contextError(ctx.Err())
	case <-ectx.Done():
		if req.abandon() {
			return response{}, pkg.ErrClosed
		}
		// Already on the wire; Stop waits for the worker to answer.
		return e.complete(req, <-req.reply)
	case <-await.C:
		req.abandon()
		return response{}, fmt.Errorf("%w: no response to %s after %v", pkg.ErrTimeout, req.cmd, e.cfg.QueueTimeout)
	}
}

func (e *Engine) complete(req *request, rsp response) (response, error) {
	pkg.LogDebug(pkg.ComponentEngine, "complete", "req", req.id, "cmd", req.cmd, "status", rsp.status, "error", rsp.err)
	return rsp, rsp.err
}

// failQueued answers every request left in the queue with [pkg.ErrClosed].
// The worker must have exited.
func (e *Engine) failQueued() {
	for {
		select {
		case req := <-e.queue:
			if req.abandon() {
				req.reply <- response{status: pkg.ResponseErr, err: pkg.ErrClosed}
			}
		default:
			return
		}
	}
}

// run is the worker owning the transport. It executes one request at a time
// while holding the transport lock.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.queue:
			if !req.take() {
				pkg.LogDebug(pkg.ComponentEngine, "skip abandoned", "req", req.id, "cmd", req.cmd)
				continue
			}
			e.lock.Lock()
			rsp := e.execute(ctx, req)
			e.lock.Unlock()
			req.reply <- rsp
		}
	}
}

func (e *Engine) execute(ctx context.Context, req *request) (rsp response) {
	defer func() {
		switch {
		case rsp.err == nil:
			e.setState(StateCompleted)
		case errors.Is(rsp.err, pkg.ErrTimeout):
			e.setState(StateTimedOut)
		default:
			e.setState(StateErrored)
		}
		if rsp.err != nil {
			rsp.status = pkg.ResponseErr
			rsp.err = fmt.Errorf("%s: %w", req.cmd, rsp.err)
			pkg.LogDebug(pkg.ComponentEngine, "command failed", "req", req.id, "state", e.State(), "error", rsp.err)
		}
		e.setState(StateIdle)
	}()

	switch req.cmd {
	case cmdPing:
		rsp.err = e.exchange(ctx, req.frame, e.cfg.PingTimeout)
	case cmdWrite:
		rsp.err = e.exchange(ctx, req.frame, e.cfg.WriteTimeout)
	case cmdRead:
		rsp.data, rsp.err = e.read(ctx, req.frame)
	case cmdDump:
		rsp.words, rsp.err = e.dump(ctx)
	case cmdReset:
		rsp.err = e.pulseReset(ctx)
	case cmdIsProgrammed:
		rsp.done, rsp.err = e.isProgrammed()
	default:
		rsp.err = fmt.Errorf("%w: %s", pkg.ErrNotSupported, req.cmd)
	}
	return rsp
}

// send purges stale input and writes f.
func (e *Engine) send(ctx context.Context, f Frame) error {
	e.setState(StateSending)
	raw, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	if err := e.tr.Purge(); err != nil {
		return err
	}
	_, err = e.tr.Write(ctx, raw)
	return err
}

// awaitAck reads single bytes until the ack byte arrives. If bytes other
// than the ack were seen before ctx expires the result is a protocol
// mismatch, otherwise a timeout.
func (e *Engine) awaitAck(ctx context.Context, seen bool) error {
	e.setState(StateAwaitingAck)
	var b [1]byte
	for {
		n, err := e.tr.Read(ctx, b[:])
		if n == 1 {
			if b[0] == AckByte {
				return nil
			}
			seen = true
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, pkg.ErrTimeout) && seen {
			return fmt.Errorf("%w: ack byte 0x%02X not received", pkg.ErrProtocolMismatch, AckByte)
		}
		return err
	}
}

// exchange sends a write or ping frame and consumes the ack and the status
// trailer. The ack and the trailer are each bounded by timeout.
func (e *Engine) exchange(ctx context.Context, f Frame, timeout time.Duration) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.send(actx, f); err != nil {
		return err
	}
	if err := e.awaitAck(actx, false); err != nil {
		return err
	}

	e.setState(StateAwaitingPayload)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var trailer [StatusTrailerSize]byte
	_, err := hal.ReadFull(tctx, e.tr, trailer[:])
	return err
}

// read sends a read frame and returns the data that follows the 8-byte
// status prefix.
func (e *Engine) read(ctx context.Context, f Frame) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()
	if err := e.send(actx, f); err != nil {
		return nil, err
	}

	e.setState(StateAwaitingAck)
	total := int(f.Length)*4 + ReadStatusSize
	rsp := make([]byte, total)
	var head [2]byte
	n, err := e.tr.Read(actx, head[:])
	have := 0
	switch i := bytes.IndexByte(head[:n], AckByte); {
	case i >= 0:
		// The combined ack's second byte starts the status prefix.
		have = copy(rsp, head[i+1:n])
	case err != nil && !errors.Is(err, pkg.ErrTimeout):
		return nil, err
	default:
		if err := e.awaitAck(actx, n > 0); err != nil {
			return nil, err
		}
	}

	e.setState(StateAwaitingPayload)
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()
	if _, err := hal.ReadFull(pctx, e.tr, rsp[have:]); err != nil {
		return nil, err
	}
	return rsp[ReadStatusSize:], nil
}

// dump requests the core dump and returns its words.
func (e *Engine) dump(ctx context.Context) ([]uint32, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.DumpTimeout)
	defer cancel()
	if err := e.send(actx, DumpFrame()); err != nil {
		return nil, err
	}
	if err := e.awaitAck(actx, false); err != nil {
		if errors.Is(err, pkg.ErrTimeout) || errors.Is(err, pkg.ErrProtocolMismatch) {
			return nil, fmt.Errorf("%w: %w", pkg.ErrCoreDumpNotFound, err)
		}
		return nil, err
	}

	e.setState(StateAwaitingPayload)
	hctx, cancel := context.WithTimeout(ctx, e.cfg.DumpTimeout)
	defer cancel()
	var hdr [DumpHeaderSize]byte
	if _, err := hal.ReadFull(hctx, e.tr, hdr[:]); err != nil {
		return nil, err
	}
	count := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DumpTimeout)
	defer cancel()
	raw := make([]byte, count*4)
	if _, err := hal.ReadFull(dctx, e.tr, raw); err != nil {
		return nil, err
	}
	words := make([]uint32, count)
	for i := range words {
		words[i] = uint32(raw[4*i])<<24 | uint32(raw[4*i+1])<<16 | uint32(raw[4*i+2])<<8 | uint32(raw[4*i+3])
	}
	return words, nil
}

func (e *Engine) pulseReset(ctx context.Context) error {
	if e.reset == nil {
		return fmt.Errorf("%w: no reset line", pkg.ErrNotSupported)
	}
	e.setState(StateSending)
	if err := e.reset.Pulse(ctx, e.cfg.ResetHold); err != nil {
		return err
	}
	select {
	case <-time.After(e.cfg.ResetSettle):
		return nil
	case <-ctx.Done():
		return pkg.ErrClosed
	}
}

func (e *Engine) isProgrammed() (bool, error) {
	if e.reset == nil {
		return false, fmt.Errorf("%w: no reset line", pkg.ErrNotSupported)
	}
	return e.reset.Done()
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	return err
}
