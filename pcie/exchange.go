package pcie

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// ExchangeConfig describes the host buffers of a ping-pong exchange. Zero
// fields take the driver defaults.
type ExchangeConfig struct {
	// BAR0 is the base of the board's register window. Register r sits at
	// BAR0 + r*4 and command c at BAR0 + c*4.
	BAR0 uint64

	StatusBuffer uint64
	WriteBuffers [NumSlots]uint64
	ReadBuffers  [NumSlots]uint64

	// BufferSize is the size of each host buffer in dwords.
	BufferSize uint32

	// CompleterID identifies the host in completions it returns.
	CompleterID uint16

	// Timeout bounds each operation.
	Timeout time.Duration
}

// DefaultExchangeConfig returns the driver's buffer layout.
func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{}.withDefaults()
}

func (c ExchangeConfig) withDefaults() ExchangeConfig {
	if c.StatusBuffer == 0 {
		c.StatusBuffer = StatusBufferAddress
	}
	def := [NumSlots]uint64{WriteBufferAAddress, WriteBufferBAddress}
	for i := range c.WriteBuffers {
		if c.WriteBuffers[i] == 0 {
			c.WriteBuffers[i] = def[i]
		}
	}
	def = [NumSlots]uint64{ReadBufferAAddress, ReadBufferBAddress}
	for i := range c.ReadBuffers {
		if c.ReadBuffers[i] == 0 {
			c.ReadBuffers[i] = def[i]
		}
	}
	if c.BufferSize == 0 {
		c.BufferSize = BufferSize
	}
	if c.Timeout == 0 {
		c.Timeout = ExchangeTimeout
	}
	return c
}

// RegisterAddress returns the bus address of configuration register r.
func (c ExchangeConfig) RegisterAddress(r tlp.Register) uint64 {
	return c.BAR0 + uint64(r)*tlp.DwordSize
}

// CommandAddress returns the bus address written to issue cmd.
func (c ExchangeConfig) CommandAddress(cmd Command) uint64 {
	return c.BAR0 + uint64(cmd)*tlp.DwordSize
}

// Slot returns the index of the buffer in bufs that contains addr and the
// byte offset of addr within it.
func (c ExchangeConfig) Slot(bufs [NumSlots]uint64, addr uint64) (slot int, off uint64, ok bool) {
	size := uint64(c.BufferSize) * tlp.DwordSize
	for i, base := range bufs {
		if addr >= base && addr < base+size {
			return i, addr - base, true
		}
	}
	return 0, 0, false
}

// Transfer is the outcome of a buffer exchange.
type Transfer struct {
	Data   []byte
	Fills  int
	Status tlp.StatusView // the status packet that ended the exchange
}

var errExchangeDone = errors.New("exchange done")

// Exchange moves blocks between the host and the board through the
// ping-pong buffers, over a TLP [Link].
//
// Reads: the board writes a block into a read buffer and reports it with a
// status packet that sets the slot's dev_buffer_rdy bit and advances the
// slot's index value. The host consumes the block and releases the slot by
// writing the slot's bit to hst_buffer_rdy.
//
// Writes: the host fills a write buffer and announces it through
// hst_buffer_rdy. The board fetches it with memory reads, which the host
// answers with completions, and reports the slot consumed with a status
// packet. The host then refills the slot.
//
// Both directions end with a status packet that has the done bit set.
type Exchange struct {
	link *Link
	cfg  ExchangeConfig

	mu    sync.Mutex
	index [NumSlots]uint32
}

// NewExchange returns an exchange over link.
func NewExchange(link *Link, cfg ExchangeConfig) *Exchange {
	return &Exchange{link: link, cfg: cfg.withDefaults()}
}

// Config returns the exchange configuration with defaults applied.
func (x *Exchange) Config() ExchangeConfig {
	return x.cfg
}

// WriteRegister writes configuration register r.
func (x *Exchange) WriteRegister(ctx context.Context, r tlp.Register, v uint32) error {
	if r < 0 || r >= tlp.NumRegisters {
		return fmt.Errorf("%w: register %d", pkg.ErrInvalidField, int(r))
	}
	return x.link.Send(ctx, tlp.NewMemoryWrite(x.cfg.RegisterAddress(r), tlp.WordsToBytes(v)))
}

// WriteCommand issues cmd for count dwords at device address addr.
func (x *Exchange) WriteCommand(ctx context.Context, cmd Command, count, addr uint32) error {
	pkg.LogDebug(pkg.ComponentExchange, "command", "cmd", cmd, "count", count, "addr", fmt.Sprintf("0x%08X", addr))
	return x.link.Send(ctx, tlp.NewMemoryWrite(x.cfg.CommandAddress(cmd), tlp.WordsToBytes(count, addr)))
}

// Configure writes the buffer layout to the board.
func (x *Exchange) Configure(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	regs := []struct {
		r tlp.Register
		v uint64
	}{
		{tlp.RegStatusBuffer, x.cfg.StatusBuffer},
		{tlp.RegWriteBufferA, x.cfg.WriteBuffers[0]},
		{tlp.RegWriteBufferB, x.cfg.WriteBuffers[1]},
		{tlp.RegReadBufferA, x.cfg.ReadBuffers[0]},
		{tlp.RegReadBufferB, x.cfg.ReadBuffers[1]},
		{tlp.RegBufferSize, uint64(x.cfg.BufferSize)},
	}
	for _, reg := range regs {
		if reg.v > 0xFFFFFFFF {
			return fmt.Errorf("%w: %s 0x%X exceeds 32 bits", pkg.ErrInvalidField, reg.r, reg.v)
		}
	}
	for _, reg := range regs {
		if err := x.WriteRegister(ctx, reg.r, uint32(reg.v)); err != nil {
			return err
		}
	}
	pkg.LogInfo(pkg.ComponentExchange, "configured buffers",
		"status", fmt.Sprintf("0x%08X", x.cfg.StatusBuffer),
		"dwords", x.cfg.BufferSize)
	return nil
}

// Ping issues a ping and returns the status packet that answers it.
func (x *Exchange) Ping(ctx context.Context) (tlp.StatusView, error) {
	return x.command(ctx, CmdPing, tlp.StatusPing)
}

// Reset resets the board's command state.
func (x *Exchange) Reset(ctx context.Context) error {
	_, err := x.command(ctx, CmdReset, tlp.StatusReset)
	if err == nil {
		x.mu.Lock()
		x.index = [NumSlots]uint32{}
		x.mu.Unlock()
	}
	return err
}

// ReadConfig returns the board's register file.
func (x *Exchange) ReadConfig(ctx context.Context) (tlp.StatusView, error) {
	return x.command(ctx, CmdReadConfig, tlp.StatusReadConfig)
}

func (x *Exchange) command(ctx context.Context, cmd Command, bit tlp.StatusBit) (tlp.StatusView, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	if err := x.WriteCommand(ctx, cmd, 0, 0); err != nil {
		return tlp.StatusView{}, err
	}
	for {
		v, err := x.nextStatus(ctx, nil)
		if err != nil {
			return v, err
		}
		x.track(v)
		if err := statusError(v); err != nil || v.Status(bit) {
			return v, err
		}
	}
}

// nextStatus receives packets until a status packet arrives. Other memory
// writes are passed to data when it is non-nil.
func (x *Exchange) nextStatus(ctx context.Context, data func(*tlp.TransferPacket)) (tlp.StatusView, error) {
	for {
		p, err := x.link.Receive(ctx)
		if err != nil {
			return tlp.StatusView{}, err
		}
		w, ok := p.(*tlp.TransferPacket)
		switch {
		case ok && tlp.IsStatusPacket(p, x.cfg.StatusBuffer):
			return tlp.ParseStatus(w.Payload)
		case ok && w.Type == tlp.TypeMemoryWrite && data != nil:
			data(w)
		default:
			pkg.LogDebug(pkg.ComponentExchange, "ignored packet", "packet", p)
		}
	}
}

func (x *Exchange) track(v tlp.StatusView) {
	x.index[0] = v[tlp.RegIndexA]
	x.index[1] = v[tlp.RegIndexB]
}

// filled returns the slots v reports as newly filled (reads) or newly
// consumed (writes), starting with next.
func (x *Exchange) filled(v tlp.StatusView, next int) []int {
	var out []int
	for k := range NumSlots {
		i := (next + k) % NumSlots
		if v[tlp.RegDeviceBufferReady]&(1<<i) == 0 {
			continue
		}
		if v[tlp.RegIndexA+tlp.Register(i)] == x.index[i] {
			continue
		}
		out = append(out, i)
	}
	return out
}

func statusError(v tlp.StatusView) error {
	switch {
	case v.Status(tlp.StatusError):
		return fmt.Errorf("%w: device reported error (status 0x%04X)", pkg.ErrProtocolMismatch, v[tlp.RegDeviceStatus])
	case v.Status(tlp.StatusUnknownCommand):
		return fmt.Errorf("%w: device rejected command (status 0x%04X)", pkg.ErrProtocolMismatch, v[tlp.RegDeviceStatus])
	}
	return nil
}

// Read reads count dwords from device address addr using a read command
// such as [CmdDMARead]. The exchange ends at the first status packet with
// the done bit set, even if fewer than count dwords arrived.
func (x *Exchange) Read(ctx context.Context, cmd Command, addr, count uint32) (*Transfer, error) {
	if !cmd.IsRead() {
		return nil, fmt.Errorf("%w: %s is not a read command", pkg.ErrInvalidField, cmd)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: zero dword count", pkg.ErrInvalidField)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	size := x.cfg.BufferSize
	var slots [NumSlots][]byte
	for i := range slots {
		slots[i] = make([]byte, int(size)*tlp.DwordSize)
	}
	store := func(w *tlp.TransferPacket) {
		i, off, ok := x.cfg.Slot(x.cfg.ReadBuffers, w.Address)
		if !ok {
			pkg.LogDebug(pkg.ComponentExchange, "write outside read buffers", "packet", w)
			return
		}
		copy(slots[i][off:], w.Payload)
	}

	if err := x.WriteRegister(ctx, tlp.RegHostBufferReady, 1<<NumSlots - 1); err != nil {
		return nil, err
	}
	if err := x.WriteCommand(ctx, cmd, count, addr); err != nil {
		return nil, err
	}

	t := &Transfer{Data: make([]byte, 0, int(count)*tlp.DwordSize)}
	remaining := count
	next := 0
	for {
		v, err := x.nextStatus(ctx, store)
		if err != nil {
			return t, err
		}
		for _, i := range x.filled(v, next) {
			n := min(size, remaining)
			t.Data = append(t.Data, slots[i][:int(n)*tlp.DwordSize]...)
			t.Fills++
			remaining -= n
			next = (i + 1) % NumSlots
			pkg.LogDebug(pkg.ComponentExchange, "read fill", "slot", i, "dwords", n, "remaining", remaining)
			if remaining > 0 {
				if err := x.WriteRegister(ctx, tlp.RegHostBufferReady, 1<<i); err != nil {
					return t, err
				}
			}
		}
		x.track(v)
		if err := statusError(v); err != nil {
			return t, err
		}
		if v.Status(tlp.StatusDone) {
			t.Status = v
			pkg.LogInfo(pkg.ComponentExchange, "read done", "fills", t.Fills, "bytes", len(t.Data))
			return t, nil
		}
	}
}

// writeSlots holds the host write buffers while the board fetches them.
type writeSlots struct {
	mu    sync.Mutex
	words [NumSlots][]uint32
}

// Write writes data to device address addr using a write command such as
// [CmdDMAWrite]. The data is zero-padded to whole dwords.
func (x *Exchange) Write(ctx context.Context, cmd Command, addr uint32, data []byte) (*Transfer, error) {
	if !cmd.IsWrite() {
		return nil, fmt.Errorf("%w: %s is not a write command", pkg.ErrInvalidField, cmd)
	}
	words := tlp.BytesToWords(data)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: no data", pkg.ErrInvalidField)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	var slots writeSlots
	sent := 0
	fill := func(i int) bool {
		n := min(int(x.cfg.BufferSize), len(words)-sent)
		if n == 0 {
			return false
		}
		slots.mu.Lock()
		slots.words[i] = words[sent : sent+n]
		slots.mu.Unlock()
		sent += n
		return true
	}

	var ready uint32
	for i := range NumSlots {
		if fill(i) {
			ready |= 1 << i
		}
	}
	if err := x.WriteRegister(ctx, tlp.RegHostBufferReady, ready); err != nil {
		return nil, err
	}
	if err := x.WriteCommand(ctx, cmd, uint32(len(words)), addr); err != nil {
		return nil, err
	}

	t := &Transfer{}
	g, gctx := errgroup.WithContext(ctx)
	reqs := make(chan *tlp.TransferPacket, linkQueueDepth)
	statuses := make(chan tlp.StatusView, linkQueueDepth)

	// Router: the link has one receiver.
	g.Go(func() error {
		for {
			p, err := x.link.Receive(gctx)
			if err != nil {
				return err
			}
			w, ok := p.(*tlp.TransferPacket)
			switch {
			case ok && w.Type == tlp.TypeMemoryRead:
				select {
				case reqs <- w:
				case <-gctx.Done():
					return linkContextError(gctx.Err())
				}
			case ok && tlp.IsStatusPacket(p, x.cfg.StatusBuffer):
				v, err := tlp.ParseStatus(w.Payload)
				if err != nil {
					return err
				}
				select {
				case statuses <- v:
				case <-gctx.Done():
					return linkContextError(gctx.Err())
				}
			default:
				pkg.LogDebug(pkg.ComponentExchange, "ignored packet", "packet", p)
			}
		}
	})

	// Completion server.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return linkContextError(gctx.Err())
			case r := <-reqs:
				if err := x.link.Send(gctx, x.complete(&slots, r)); err != nil {
					return err
				}
			}
		}
	})

	// Buffer state machine.
	g.Go(func() error {
		next := 0
		for {
			var v tlp.StatusView
			select {
			case <-gctx.Done():
				return linkContextError(gctx.Err())
			case v = <-statuses:
			}
			for _, i := range x.filled(v, next) {
				t.Fills++
				next = (i + 1) % NumSlots
				pkg.LogDebug(pkg.ComponentExchange, "write slot consumed", "slot", i, "sent", sent, "total", len(words))
				if fill(i) {
					if err := x.WriteRegister(gctx, tlp.RegHostBufferReady, 1<<i); err != nil {
						return err
					}
				}
			}
			x.track(v)
			if err := statusError(v); err != nil {
				return err
			}
			if v.Status(tlp.StatusDone) {
				t.Status = v
				return errExchangeDone
			}
		}
	})

	if err := g.Wait(); !errors.Is(err, errExchangeDone) {
		return t, err
	}
	pkg.LogInfo(pkg.ComponentExchange, "write done", "fills", t.Fills, "dwords", len(words))
	return t, nil
}

// complete answers a board read of a write buffer with up to
// [MaxReadRequest] dwords of the slot's data.
func (x *Exchange) complete(slots *writeSlots, r *tlp.TransferPacket) *tlp.CompletionPacket {
	slots.mu.Lock()
	defer slots.mu.Unlock()

	i, off, ok := x.cfg.Slot(x.cfg.WriteBuffers, r.Address)
	var words []uint32
	if ok {
		if w := slots.words[i]; int(off/tlp.DwordSize) < len(w) {
			words = w[off/tlp.DwordSize:]
			words = words[:min(len(words), MaxReadRequest)]
		}
	}
	c := tlp.NewCompletion(r, x.cfg.CompleterID, tlp.WordsToBytes(words...))
	if len(words) == 0 {
		c.Status = pkg.CompletionUnsupportedRequest
		pkg.LogWarn(pkg.ComponentExchange, "read outside write buffers", "packet", r)
	}
	return c
}
