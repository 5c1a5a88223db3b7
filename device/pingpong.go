package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/artemis/pcie"
	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// PingPongConfig configures the device side of the PCIe buffer exchange.
type PingPongConfig struct {
	// BAR0 is the base of the register window the host writes.
	BAR0 uint64

	// MaxPayload is the number of dwords packed into each memory write.
	MaxPayload int

	// RequesterID identifies the device in its memory reads.
	RequesterID uint16
}

func (c PingPongConfig) withDefaults() PingPongConfig {
	if c.MaxPayload <= 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	if c.RequesterID == 0 {
		c.RequesterID = DefaultRequesterID
	}
	return c
}

var errPingPongBusy = errors.New("command during exchange")

// PingPong simulates the board end of a [pcie.Link]: its register file,
// the command decoder, and the device half of the ping-pong buffer
// exchange. Read commands are served from, and write commands stored to, a
// [Memory].
//
// Serve runs the device loop; the other methods are safe to call while it
// runs.
type PingPong struct {
	link *pcie.Link
	mem  *Memory
	cfg  PingPongConfig

	mutex    sync.RWMutex
	regs     tlp.StatusView
	ready    uint32 // hst_buffer_rdy bits not yet consumed
	index    [pcie.NumSlots]uint32
	commands int
	status   uint32 // error bits forced into the next command status

	// Serve goroutine only.
	tag uint8
	cpl map[uint8]*tlp.CompletionPacket
}

// NewPingPong returns a device serving link from mem.
func NewPingPong(link *pcie.Link, mem *Memory, cfg PingPongConfig) *PingPong {
	return &PingPong{
		link: link,
		mem:  mem,
		cfg:  cfg.withDefaults(),
		cpl:  make(map[uint8]*tlp.CompletionPacket),
	}
}

// Memory returns the memory behind the device.
func (p *PingPong) Memory() *Memory { return p.mem }

// Registers returns a copy of the register file as the device sees it.
func (p *PingPong) Registers() tlp.StatusView {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.regs
}

// Commands returns the number of commands the device has decoded.
func (p *PingPong) Commands() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.commands
}

// FailNext makes the next command end with the error bit set.
func (p *PingPong) FailNext() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.status |= tlp.StatusError.Mask()
}

// Serve handles packets until ctx is done or the link closes.
func (p *PingPong) Serve(ctx context.Context) error {
	for {
		pkt, err := p.link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pkg.ErrClosed) {
				return nil
			}
			return err
		}
		if err := p.handle(ctx, pkt, false); err != nil {
			if ctx.Err() != nil || errors.Is(err, pkg.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// handle applies one packet. Commands arriving while an exchange is in
// progress are dropped.
func (p *PingPong) handle(ctx context.Context, pkt tlp.Packet, busy bool) error {
	switch t := pkt.(type) {
	case *tlp.TransferPacket:
		if t.Type != tlp.TypeMemoryWrite {
			pkg.LogDebug(pkg.ComponentDevice, "ignored request", "packet", t)
			return nil
		}
		if t.Address < p.cfg.BAR0 {
			pkg.LogWarn(pkg.ComponentDevice, "write below BAR0", "packet", t)
			return nil
		}
		idx := (t.Address - p.cfg.BAR0) / tlp.DwordSize
		words := t.Words()
		if idx < uint64(pcie.CmdReset) {
			p.writeRegisters(idx, words)
			return nil
		}
		if busy {
			pkg.LogWarn(pkg.ComponentDevice, "dropped command", "error", errPingPongBusy, "cmd", pcie.Command(idx))
			return nil
		}
		var count, addr uint32
		if len(words) > 0 {
			count = words[0]
		}
		if len(words) > 1 {
			addr = words[1]
		}
		return p.command(ctx, pcie.Command(idx), count, addr)
	case *tlp.CompletionPacket:
		p.cpl[t.Tag] = t
	default:
		pkg.LogDebug(pkg.ComponentDevice, "ignored packet", "packet", pkt)
	}
	return nil
}

func (p *PingPong) writeRegisters(idx uint64, words []uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for k, w := range words {
		r := tlp.Register(idx) + tlp.Register(k)
		if r >= tlp.NumRegisters {
			pkg.LogWarn(pkg.ComponentDevice, "write to unknown register", "index", int(r))
			return
		}
		p.regs[r] = w
		if r == tlp.RegHostBufferReady {
			p.ready |= w
		}
	}
}

// await handles packets until cond holds.
func (p *PingPong) await(ctx context.Context, cond func() bool) error {
	for !cond() {
		pkt, err := p.link.Receive(ctx)
		if err != nil {
			return err
		}
		if err := p.handle(ctx, pkt, true); err != nil {
			return err
		}
	}
	return nil
}

func (p *PingPong) released(slot int) func() bool {
	return func() bool {
		p.mutex.RLock()
		defer p.mutex.RUnlock()
		return p.ready&(1<<slot) != 0
	}
}

func (p *PingPong) command(ctx context.Context, cmd pcie.Command, count, addr uint32) error {
	p.mutex.Lock()
	p.commands++
	p.regs[tlp.RegDeviceAddress] = addr
	forced := p.status
	p.status = 0
	p.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDevice, "command", "cmd", cmd, "count", count, "addr", fmt.Sprintf("0x%08X", addr))

	ready := tlp.StatusReady.Mask()
	if forced != 0 {
		return p.sendStatus(ctx, ready|tlp.StatusDone.Mask()|forced, 0, 0)
	}

	switch {
	case cmd == pcie.CmdPing:
		return p.sendStatus(ctx, ready|tlp.StatusPing.Mask(), 0, 0)
	case cmd == pcie.CmdReset:
		p.mutex.Lock()
		p.ready = 0
		p.index = [pcie.NumSlots]uint32{}
		p.mutex.Unlock()
		clear(p.cpl)
		return p.sendStatus(ctx, ready|tlp.StatusReset.Mask(), 0, 0)
	case cmd == pcie.CmdReadConfig:
		return p.sendStatus(ctx, ready|tlp.StatusReadConfig.Mask(), 0, 0)
	case cmd.IsRead():
		return p.read(ctx, cmd, count, addr)
	case cmd.IsWrite():
		return p.write(ctx, cmd, count, addr)
	default:
		pkg.LogWarn(pkg.ComponentDevice, "unknown command", "cmd", cmd)
		return p.sendStatus(ctx, ready|tlp.StatusUnknownCommand.Mask()|tlp.StatusError.Mask(), 0, 0)
	}
}

// kind returns the status bits naming the target of cmd.
func kind(cmd pcie.Command) uint32 {
	switch cmd {
	case pcie.CmdPeripheralWriteFIFO, pcie.CmdPeripheralReadFIFO:
		return tlp.StatusPeripheral.Mask() | tlp.StatusFIFO.Mask()
	case pcie.CmdPeripheralWrite, pcie.CmdPeripheralRead:
		return tlp.StatusPeripheral.Mask()
	case pcie.CmdMemoryWrite, pcie.CmdMemoryRead:
		return tlp.StatusMemory.Mask()
	default:
		return tlp.StatusDMA.Mask()
	}
}

func (p *PingPong) geometry() (size int, status uint64, write, read [pcie.NumSlots]uint64) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	size = int(p.regs[tlp.RegBufferSize])
	if size == 0 {
		size = pcie.BufferSize
	}
	status = orDefault(p.regs[tlp.RegStatusBuffer], pcie.StatusBufferAddress)
	write = [pcie.NumSlots]uint64{
		orDefault(p.regs[tlp.RegWriteBufferA], pcie.WriteBufferAAddress),
		orDefault(p.regs[tlp.RegWriteBufferB], pcie.WriteBufferBAddress),
	}
	read = [pcie.NumSlots]uint64{
		orDefault(p.regs[tlp.RegReadBufferA], pcie.ReadBufferAAddress),
		orDefault(p.regs[tlp.RegReadBufferB], pcie.ReadBufferBAddress),
	}
	return size, status, write, read
}

func orDefault(v uint32, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return uint64(v)
}

// read fills the host's read buffers in turn until count dwords are sent.
func (p *PingPong) read(ctx context.Context, cmd pcie.Command, count, addr uint32) error {
	size, _, _, bufs := p.geometry()
	flags := tlp.StatusReady.Mask() | tlp.StatusRead.Mask() | kind(cmd)
	noinc := cmd == pcie.CmdPeripheralReadFIFO
	src := uint64(addr)
	remaining := int(count)
	slot := 0

	for remaining > 0 {
		if err := p.await(ctx, p.released(slot)); err != nil {
			return err
		}
		n := min(size, remaining)
		words := p.mem.ReadWords(src, n, noinc)
		base := bufs[slot]
		for off := 0; off < n; off += p.cfg.MaxPayload {
			chunk := words[off:min(off+p.cfg.MaxPayload, n)]
			w := tlp.NewMemoryWrite(base+uint64(off)*tlp.DwordSize, tlp.WordsToBytes(chunk...))
			w.RequesterID = p.cfg.RequesterID
			if err := p.link.Send(ctx, w); err != nil {
				return err
			}
		}
		p.consume(slot)
		if err := p.sendStatus(ctx, flags, 1<<slot, base); err != nil {
			return err
		}
		pkg.LogDebug(pkg.ComponentDevice, "filled read buffer", "slot", slot, "dwords", n)
		remaining -= n
		if !noinc {
			src += uint64(n)
		}
		slot = (slot + 1) % pcie.NumSlots
	}
	return p.sendStatus(ctx, flags|tlp.StatusDone.Mask(), 0, 0)
}

// write fetches the host's write buffers in turn until count dwords are
// stored.
func (p *PingPong) write(ctx context.Context, cmd pcie.Command, count, addr uint32) error {
	size, _, bufs, _ := p.geometry()
	flags := tlp.StatusReady.Mask() | tlp.StatusWrite.Mask() | kind(cmd)
	noinc := cmd == pcie.CmdPeripheralWriteFIFO
	dst := uint64(addr)
	remaining := int(count)
	slot := 0

	for remaining > 0 {
		if err := p.await(ctx, p.released(slot)); err != nil {
			return err
		}
		n := min(size, remaining)
		base := bufs[slot]
		for got := 0; got < n; {
			words, err := p.fetch(ctx, base+uint64(got)*tlp.DwordSize)
			if err != nil {
				pkg.LogWarn(pkg.ComponentDevice, "fetch failed", "slot", slot, "error", err)
				return p.sendStatus(ctx, flags|tlp.StatusDone.Mask()|tlp.StatusError.Mask(), 0, 0)
			}
			words = words[:min(len(words), n-got)]
			p.mem.WriteWords(dst, words, noinc)
			if !noinc {
				dst += uint64(len(words))
			}
			got += len(words)
		}
		p.consume(slot)
		if err := p.sendStatus(ctx, flags, 1<<slot, base); err != nil {
			return err
		}
		pkg.LogDebug(pkg.ComponentDevice, "drained write buffer", "slot", slot, "dwords", n)
		remaining -= n
		slot = (slot + 1) % pcie.NumSlots
	}
	return p.sendStatus(ctx, flags|tlp.StatusDone.Mask(), 0, 0)
}

// fetch reads host memory at addr with a memory read and returns the
// completion's data.
func (p *PingPong) fetch(ctx context.Context, addr uint64) ([]uint32, error) {
	p.tag++
	tag := p.tag
	r := tlp.NewMemoryRead(addr, tag)
	r.RequesterID = p.cfg.RequesterID
	if err := p.link.Send(ctx, r); err != nil {
		return nil, err
	}
	if err := p.await(ctx, func() bool { return p.cpl[tag] != nil }); err != nil {
		return nil, err
	}
	c := p.cpl[tag]
	delete(p.cpl, tag)
	if c.Status != pkg.CompletionSuccess {
		return nil, fmt.Errorf("%w: completion %s", pkg.ErrProtocolMismatch, c.Status)
	}
	words := c.Words()
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty completion", pkg.ErrProtocolMismatch)
	}
	return words, nil
}

// consume takes the host's ready bit for slot and advances its index.
func (p *PingPong) consume(slot int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.ready &^= 1 << slot
	p.index[slot]++
}

// sendStatus writes the register file to the host's status buffer.
func (p *PingPong) sendStatus(ctx context.Context, bits, devReady uint32, hostAddr uint64) error {
	_, statusAddr, _, _ := p.geometry()

	p.mutex.Lock()
	v := p.regs
	v[tlp.RegHostBufferReady] = p.ready
	v[tlp.RegIndexA] = p.index[0]
	v[tlp.RegIndexB] = p.index[1]
	v[tlp.RegDeviceStatus] = bits
	v[tlp.RegDeviceBufferReady] = devReady
	v[tlp.RegHostBufferAddress] = uint32(hostAddr)
	p.regs[tlp.RegDeviceStatus] = bits
	p.mutex.Unlock()

	w := tlp.NewMemoryWrite(statusAddr, v.Bytes())
	w.RequesterID = p.cfg.RequesterID
	return p.link.Send(ctx, w)
}
