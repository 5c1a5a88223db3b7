package ftdi

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// Default USB identity of an Artemis board.
const (
	DefaultVendor  = 0x0403
	DefaultProduct = 0x8530
)

// FT2232H channels. The control requests index the channel starting at 1.
const (
	ChannelA = 1 // synchronous FIFO, command data
	ChannelB = 2 // bit-bang, reset and DONE pins
)

// Bulk endpoints of channel A.
const (
	endpointIn  = 1 // 0x81
	endpointOut = 2 // 0x02
)

// Vendor requests.
const (
	reqReset       uint8 = 0x00
	reqSetFlowCtrl uint8 = 0x02
	reqSetLatency  uint8 = 0x09
	reqSetBitmode  uint8 = 0x0B
	reqReadPins    uint8 = 0x0C
)

// reqReset values.
const (
	resetSIO    = 0
	resetPurgeR = 1
	resetPurgeW = 2
)

// Bit modes.
const (
	BitmodeReset   = 0x00
	BitmodeBitbang = 0x01
	BitmodeSyncFF  = 0x40
)

const flowRTSCTS = 0x0100

// Channel A settings.
const (
	Latency    = 2   // ms
	PacketSize = 512 // high-speed bulk packet, first 2 bytes are modem status
	statusSize = 2
)

const (
	rTypeOut uint8 = gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice
	rTypeIn  uint8 = gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice
)

// controller issues control transfers. It is implemented by [gousb.Device].
type controller interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// inEndpoint is implemented by [gousb.InEndpoint].
type inEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// outEndpoint is implemented by [gousb.OutEndpoint].
type outEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

func control(c controller, request uint8, val uint16, channel uint16) error {
	if _, err := c.Control(rTypeOut, request, val, channel, nil); err != nil {
		return fmt.Errorf("control request 0x%02X value 0x%04X channel %d: %w", request, val, channel, err)
	}
	return nil
}

func setBitmode(c controller, channel uint16, mode, mask uint8) error {
	return control(c, reqSetBitmode, uint16(mode)<<8|uint16(mask), channel)
}

func readPins(c controller, channel uint16) (uint8, error) {
	var b [1]byte
	n, err := c.Control(rTypeIn, reqReadPins, 0, channel, b[:])
	if err != nil {
		return 0, fmt.Errorf("read pins channel %d: %w", channel, err)
	}
	if n != 1 {
		return 0, fmt.Errorf("read pins channel %d: got %d bytes", channel, n)
	}
	return b[0], nil
}

// configure puts channel A into synchronous FIFO mode.
func configure(c controller) error {
	steps := []struct {
		req uint8
		val uint16
		idx uint16
	}{
		{reqReset, resetSIO, ChannelA},
		{reqSetLatency, Latency, ChannelA},
		{reqSetFlowCtrl, 0, flowRTSCTS | ChannelA},
		{reqReset, resetPurgeR, ChannelA},
		{reqReset, resetPurgeW, ChannelA},
		{reqSetBitmode, BitmodeReset << 8, ChannelA},
		{reqSetBitmode, BitmodeSyncFF << 8, ChannelA},
	}
	for _, s := range steps {
		if err := control(c, s.req, s.val, s.idx); err != nil {
			return err
		}
	}
	return nil
}
