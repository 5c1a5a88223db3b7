package pcie

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// CommandPort is a transport with a separate command channel, such as the
// PCIe character device. Command writes register and command words; the
// embedded transport moves data.
type CommandPort interface {
	hal.Transport
	Command(p []byte) error
}

// Controller drives the board through a [CommandPort].
type Controller struct {
	port CommandPort
}

// NewController returns a controller over port.
func NewController(port CommandPort) *Controller {
	return &Controller{port: port}
}

// Close closes the port.
func (c *Controller) Close() error {
	return c.port.Close()
}

// WriteRegister sets a configuration register of the board.
func (c *Controller) WriteRegister(reg tlp.Register, value uint32) error {
	if reg < 0 || reg >= tlp.NumRegisters {
		return fmt.Errorf("%w: register %d", pkg.ErrInvalidField, int(reg))
	}
	pkg.LogDebug(pkg.ComponentPCIe, "write register", "reg", reg, "value", fmt.Sprintf("0x%08X", value))
	return c.port.Command(tlp.WordsToBytes(uint32(reg), value))
}

// WriteCommand issues cmd with a dword count and a device address.
func (c *Controller) WriteCommand(cmd Command, count, addr uint32) error {
	pkg.LogDebug(pkg.ComponentPCIe, "write command", "cmd", cmd, "count", count, "addr", fmt.Sprintf("0x%08X", addr))
	return c.port.Command(tlp.WordsToBytes(uint32(cmd), count, addr))
}

// SetDeviceAddress sets the device address used by subsequent transfers.
func (c *Controller) SetDeviceAddress(addr uint32) error {
	return c.WriteRegister(tlp.RegDeviceAddress, addr)
}

// Reset resets the board's command state machine.
func (c *Controller) Reset() error {
	return c.WriteCommand(CmdReset, 0, 0)
}

// Ping sends a ping command.
func (c *Controller) Ping() error {
	return c.WriteCommand(CmdPing, 0, 0)
}

// PeripheralWrite writes data to the peripheral bus at addr. The data is
// zero-padded to whole dwords.
func (c *Controller) PeripheralWrite(ctx context.Context, addr uint32, data []byte) error {
	words := tlp.BytesToWords(data)
	if len(words) > tlp.MaxDwordCount {
		return fmt.Errorf("%w: %d dwords", pkg.ErrInvalidField, len(words))
	}
	n := uint32(len(words))
	pkt := tlp.WordsToBytes(IDWord, peripheralWrite, n, addr)
	pkt = append(pkt, tlp.WordsToBytes(words...)...)

	if err := c.WriteCommand(CmdPeripheralWrite, n+4, 0); err != nil {
		return err
	}
	_, err := c.port.Write(ctx, pkt)
	return err
}

// PeripheralRead reads count dwords from the peripheral bus at addr. A count
// of 0 reads one dword.
func (c *Controller) PeripheralRead(ctx context.Context, addr, count uint32) ([]byte, error) {
	if count == 0 {
		count = 1
	}
	if count > tlp.MaxDwordCount {
		return nil, fmt.Errorf("%w: %d dwords", pkg.ErrInvalidField, count)
	}
	pkt := tlp.WordsToBytes(IDWord, peripheralRead, count, addr)
	if err := c.WriteCommand(CmdPeripheralWrite, uint32(len(pkt)/tlp.DwordSize), 0); err != nil {
		return nil, err
	}
	if _, err := c.port.Write(ctx, pkt); err != nil {
		return nil, err
	}
	if err := c.WriteCommand(CmdPeripheralRead, count, 0); err != nil {
		return nil, err
	}
	return c.read(ctx, count)
}

// DMAWrite streams data to the board's DMA channel.
func (c *Controller) DMAWrite(ctx context.Context, data []byte) error {
	words := tlp.BytesToWords(data)
	if err := c.WriteCommand(CmdDMAWrite, uint32(len(words)), 0); err != nil {
		return err
	}
	_, err := c.port.Write(ctx, tlp.WordsToBytes(words...))
	return err
}

// DMARead reads count dwords from the board's DMA channel.
func (c *Controller) DMARead(ctx context.Context, count uint32) ([]byte, error) {
	if err := c.WriteCommand(CmdDMARead, count, 0); err != nil {
		return nil, err
	}
	return c.read(ctx, count)
}

// ReadConfig requests the board's register file.
func (c *Controller) ReadConfig(ctx context.Context) (tlp.StatusView, error) {
	if err := c.WriteCommand(CmdReadConfig, uint32(tlp.NumRegisters), 0); err != nil {
		return tlp.StatusView{}, err
	}
	b, err := c.read(ctx, uint32(tlp.NumRegisters))
	if err != nil {
		return tlp.StatusView{}, err
	}
	return tlp.ParseStatus(b)
}

func (c *Controller) read(ctx context.Context, count uint32) ([]byte, error) {
	b := make([]byte, int(count)*tlp.DwordSize)
	n, err := hal.ReadFull(ctx, c.port, b)
	if err != nil {
		return b[:n], err
	}
	pkg.LogDebug(pkg.ComponentPCIe, "read data", "words", count, "first", firstWord(b))
	return b, nil
}

func firstWord(b []byte) string {
	if len(b) < tlp.DwordSize {
		return ""
	}
	return fmt.Sprintf("0x%08X", binary.BigEndian.Uint32(b))
}
