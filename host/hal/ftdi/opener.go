package ftdi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.com/ardnew/artemis/host/hal"
	"github.com/ardnew/artemis/pkg"
)

// Channel B bulk OUT endpoint, used for bit-bang writes.
const endpointOutB = 4

// Opener finds and opens Artemis boards attached over USB.
type Opener struct {
	Vendor  gousb.ID
	Product gousb.ID

	once sync.Once
	usb  *gousb.Context
}

// NewOpener returns an opener matching boards with the given USB identity.
func NewOpener(vendor, product uint16) *Opener {
	return &Opener{Vendor: gousb.ID(vendor), Product: gousb.ID(product)}
}

func (o *Opener) context() *gousb.Context {
	o.once.Do(func() { o.usb = gousb.NewContext() })
	return o.usb
}

func (o *Opener) match(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == o.Vendor && desc.Product == o.Product
}

// Scan lists matching boards.
func (o *Opener) Scan(ctx context.Context) ([]hal.Identity, error) {
	devs, err := o.context().OpenDevices(o.match)
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("usb scan: %w", err)
	}

	ids := make([]hal.Identity, 0, len(devs))
	for _, d := range devs {
		serial, err := d.SerialNumber()
		if err != nil {
			pkg.LogWarn(pkg.ComponentTransport, "cannot read serial number", "bus", d.Desc.Bus, "addr", d.Desc.Address, "error", err)
			continue
		}
		ids = append(ids, hal.Identity{
			Vendor:  uint16(d.Desc.Vendor),
			Product: uint16(d.Desc.Product),
			Serial:  serial,
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
		})
	}
	return ids, nil
}

// Open claims both channels of the board with the given serial and puts
// channel A into synchronous FIFO mode.
func (o *Opener) Open(ctx context.Context, serial string) (hal.Transport, hal.ResetLine, error) {
	devs, err := o.context().OpenDevices(o.match)
	if err != nil && len(devs) == 0 {
		return nil, nil, fmt.Errorf("usb open: %w", err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if s, err := d.SerialNumber(); err == nil && s == serial && dev == nil {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		return nil, nil, fmt.Errorf("%w: serial %q", pkg.ErrNoDevice, serial)
	}

	tr, reset, err := claim(dev)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	pkg.LogInfo(pkg.ComponentTransport, "opened usb board", "serial", serial, "bus", dev.Desc.Bus, "addr", dev.Desc.Address)
	return tr, reset, nil
}

// claim opens the endpoints of both channels. On success the returned
// transport owns dev.
func claim(dev *gousb.Device) (*Transport, *ResetLine, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, nil, fmt.Errorf("auto detach: %w", err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		return nil, nil, fmt.Errorf("config 1: %w", err)
	}
	fifo, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return nil, nil, fmt.Errorf("interface 0: %w", err)
	}
	bitbang, err := cfg.Interface(1, 0)
	if err != nil {
		fifo.Close()
		cfg.Close()
		return nil, nil, fmt.Errorf("interface 1: %w", err)
	}
	release := func() error {
		bitbang.Close()
		fifo.Close()
		return errors.Join(cfg.Close(), dev.Close())
	}

	in, err := fifo.InEndpoint(endpointIn)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("in endpoint: %w", err)
	}
	out, err := fifo.OutEndpoint(endpointOut)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("out endpoint: %w", err)
	}
	outB, err := bitbang.OutEndpoint(endpointOutB)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("bit-bang endpoint: %w", err)
	}

	if err := configure(dev); err != nil {
		release()
		return nil, nil, err
	}
	return newTransport(dev, in, out, release), newResetLine(dev, outB), nil
}

// Close releases the USB context. Transports already opened stay usable
// until closed themselves.
func (o *Opener) Close() error {
	if o.usb == nil {
		return nil
	}
	return o.usb.Close()
}
