package pcie

import (
	"context"
	"fmt"

	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// RegisterAccessor reads and writes board registers. The USB engine
// implements it.
type RegisterAccessor interface {
	ReadRegister(ctx context.Context, addr uint64) (uint32, error)
	WriteRegister(ctx context.Context, addr uint64, v uint32) error
	Read(ctx context.Context, addr uint64, words uint32, noIncrement bool) ([]byte, error)
	Write(ctx context.Context, addr uint64, data []byte, noIncrement bool) error
}

// CoreRegister is a register of the PCIe core, relative to the core's base
// address.
type CoreRegister uint64

// PCIe core registers.
const (
	CoreControl CoreRegister = iota
	CoreStatus
	CoreNumBlockRead
	CoreLocalBufferSize
	CorePCIeClockCount
	CoreTestClock
	CoreTxDiffControl
	CoreRxEqualizerControl
	CoreLTSSMState
	CoreDebugData
	CoreConfigCommand
	CoreConfigStatus
	CoreConfigDCommand
	CoreConfigDStatus
	CoreConfigLCommand
	CoreConfigLStatus
	CoreDebugFlags
)

// LocalBufferOffset is the offset of the core's local buffer from its base.
const LocalBufferOffset = 0x100

// Control register bits.
const (
	CtrlEnable           = 0
	CtrlSendControlBlock = 1
	CtrlCancelSendBlock  = 2
	CtrlEnableLocalRead  = 3
)

// Status register bits and fields.
const (
	StsPCIeReset        = 0
	StsLinkUp           = 1
	StsReceivedHotReset = 2
	StsLinkStateLow     = 4
	StsLinkStateHigh    = 6
	StsBusNumLow        = 8
	StsBusNumHigh       = 15
	StsDevNumLow        = 16
	StsDevNumHigh       = 19
	StsFuncNumLow       = 20
	StsFuncNumHigh      = 22
	StsLocalMemIdle     = 24
	StsGTPPLLLock       = 25
	StsPLLLock          = 26
	StsGTPResetDone     = 27
	StsRxElecIdle       = 28
	StsCfgToTurnoff     = 29
)

// Debug data register bits.
const (
	DbgCorrectable = 0
	DbgFatal       = 1
	DbgNonFatal    = 2
	DbgUnsupported = 3
)

// Core drives the PCIe core on the board's peripheral bus.
type Core struct {
	bus  RegisterAccessor
	base uint64
}

// NewCore returns a driver for the core at base.
func NewCore(bus RegisterAccessor, base uint64) *Core {
	return &Core{bus: bus, base: base}
}

// ReadRegister reads core register r.
func (c *Core) ReadRegister(ctx context.Context, r CoreRegister) (uint32, error) {
	return c.bus.ReadRegister(ctx, c.base+uint64(r))
}

// WriteRegister writes core register r.
func (c *Core) WriteRegister(ctx context.Context, r CoreRegister, v uint32) error {
	return c.bus.WriteRegister(ctx, c.base+uint64(r), v)
}

func (c *Core) bit(ctx context.Context, r CoreRegister, bit uint) (bool, error) {
	v, err := c.ReadRegister(ctx, r)
	return v&(1<<bit) != 0, err
}

func (c *Core) setBit(ctx context.Context, r CoreRegister, bit uint, on bool) error {
	v, err := c.ReadRegister(ctx, r)
	if err != nil {
		return err
	}
	if on {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return c.WriteRegister(ctx, r, v)
}

func (c *Core) field(ctx context.Context, r CoreRegister, high, low uint) (uint32, error) {
	v, err := c.ReadRegister(ctx, r)
	return bitRange(v, high, low), err
}

func bitRange(v uint32, high, low uint) uint32 {
	return v >> low & (1<<(high-low+1) - 1)
}

// Control returns the control register.
func (c *Core) Control(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CoreControl)
}

// SetControl writes the control register.
func (c *Core) SetControl(ctx context.Context, v uint32) error {
	return c.WriteRegister(ctx, CoreControl, v)
}

// Enable enables or disables the core.
func (c *Core) Enable(ctx context.Context, on bool) error {
	return c.setBit(ctx, CoreControl, CtrlEnable, on)
}

// IsEnabled reports whether the core is enabled.
func (c *Core) IsEnabled(ctx context.Context) (bool, error) {
	return c.bit(ctx, CoreControl, CtrlEnable)
}

// EnableLocalRead routes reads from the PCIe link into the local buffer.
func (c *Core) EnableLocalRead(ctx context.Context, on bool) error {
	return c.setBit(ctx, CoreControl, CtrlEnableLocalRead, on)
}

// IsLocalReadEnabled reports whether local buffer reads are enabled.
func (c *Core) IsLocalReadEnabled(ctx context.Context) (bool, error) {
	return c.bit(ctx, CoreControl, CtrlEnableLocalRead)
}

// SendBlock sends the local buffer over the PCIe link.
func (c *Core) SendBlock(ctx context.Context) error {
	return c.setBit(ctx, CoreControl, CtrlSendControlBlock, true)
}

// CancelSendBlock cancels a block send in progress.
func (c *Core) CancelSendBlock(ctx context.Context) error {
	return c.setBit(ctx, CoreControl, CtrlCancelSendBlock, true)
}

// Status returns the status register.
func (c *Core) Status(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CoreStatus)
}

// CoreStatusInfo is the decoded status register.
type CoreStatusInfo struct {
	Reset          bool
	LinkUp         bool
	HotReset       bool
	LinkState      uint32
	Bus            uint32
	Device         uint32
	Function       uint32
	LocalMemIdle   bool
	GTPPLLLocked   bool
	PLLLocked      bool
	GTPResetDone   bool
	RxElecIdle     bool
	TurnoffRequest bool
}

// DecodeCoreStatus decodes a status register value.
func DecodeCoreStatus(v uint32) CoreStatusInfo {
	set := func(bit uint) bool { return v&(1<<bit) != 0 }
	return CoreStatusInfo{
		Reset:          set(StsPCIeReset),
		LinkUp:         set(StsLinkUp),
		HotReset:       set(StsReceivedHotReset),
		LinkState:      bitRange(v, StsLinkStateHigh, StsLinkStateLow),
		Bus:            bitRange(v, StsBusNumHigh, StsBusNumLow),
		Device:         bitRange(v, StsDevNumHigh, StsDevNumLow),
		Function:       bitRange(v, StsFuncNumHigh, StsFuncNumLow),
		LocalMemIdle:   set(StsLocalMemIdle),
		GTPPLLLocked:   set(StsGTPPLLLock),
		PLLLocked:      set(StsPLLLock),
		GTPResetDone:   set(StsGTPResetDone),
		RxElecIdle:     set(StsRxElecIdle),
		TurnoffRequest: set(StsCfgToTurnoff),
	}
}

// StatusInfo reads and decodes the status register.
func (c *Core) StatusInfo(ctx context.Context) (CoreStatusInfo, error) {
	v, err := c.Status(ctx)
	if err != nil {
		return CoreStatusInfo{}, err
	}
	return DecodeCoreStatus(v), nil
}

// IsLinkUp reports whether the PCIe link is up.
func (c *Core) IsLinkUp(ctx context.Context) (bool, error) {
	return c.bit(ctx, CoreStatus, StsLinkUp)
}

// LinkState returns the 3-bit link power state.
func (c *Core) LinkState(ctx context.Context) (uint32, error) {
	return c.field(ctx, CoreStatus, StsLinkStateHigh, StsLinkStateLow)
}

// LinkStateString describes a link power state.
func LinkStateString(state uint32) string {
	switch state {
	case 6:
		return fmt.Sprintf("Link State (0x%02X): L0", state)
	case 5:
		return fmt.Sprintf("Link State (0x%02X): L0s", state)
	case 3:
		return fmt.Sprintf("Link State (0x%02X): L1", state)
	case 7:
		return fmt.Sprintf("Link State (0x%02X): In Transaction", state)
	default:
		return fmt.Sprintf("Link State (0x%02X): Unknown", state)
	}
}

var ltssmStates = [...]string{
	0x00: "Detect.Quiet",
	0x01: "Detect.Active",
	0x02: "Polling.Active",
	0x03: "Polling.Config",
	0x04: "Polling Compliance",
	0x05: "Configuration.Linkwidth.Start",
	0x06: "Configuration.Linkwidth.Start",
	0x07: "Configuration.Linkwidth.Accept",
	0x08: "Configuration.Linkwidth.Accept",
	0x09: "Configuration.Lanenum.Wait",
	0x0A: "Configuration.Lanenum.Accept",
	0x0B: "Configuration.Complete",
	0x0C: "Configuration.Idle",
	0x0D: "L0",
	0x0E: "L1.Entry",
	0x0F: "L1.Entry",
	0x10: "L1.Entry",
	0x11: "L1.Idle",
	0x12: "L1.Exit-to-recovery",
	0x13: "Recovery.RcvrLock",
	0x14: "Recovery.RcvrCfg",
	0x15: "Recovery.Idle",
	0x16: "Hot Reset",
	0x17: "Disabled",
	0x18: "Disabled",
	0x19: "Disabled",
	0x1A: "Disabled",
	0x1B: "Detect.Quiet",
}

// LTSSMStateName names a link training state machine state.
func LTSSMStateName(state uint32) string {
	if state < uint32(len(ltssmStates)) {
		return ltssmStates[state]
	}
	return fmt.Sprintf("Unknown State: 0x%02X", state)
}

// LTSSMState reads the link training state.
func (c *Core) LTSSMState(ctx context.Context) (string, error) {
	v, err := c.ReadRegister(ctx, CoreLTSSMState)
	if err != nil {
		return "", err
	}
	return LTSSMStateName(v), nil
}

// DebugErrors is the decoded debug data register.
type DebugErrors struct {
	Correctable bool
	Fatal       bool
	NonFatal    bool
	Unsupported bool
}

// Errors reads the error flags of the debug data register.
func (c *Core) Errors(ctx context.Context) (DebugErrors, error) {
	v, err := c.ReadRegister(ctx, CoreDebugData)
	if err != nil {
		return DebugErrors{}, err
	}
	return DebugErrors{
		Correctable: v&(1<<DbgCorrectable) != 0,
		Fatal:       v&(1<<DbgFatal) != 0,
		NonFatal:    v&(1<<DbgNonFatal) != 0,
		Unsupported: v&(1<<DbgUnsupported) != 0,
	}, nil
}

// LocalBufferSize returns the size of the local buffer in bytes.
func (c *Core) LocalBufferSize(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CoreLocalBufferSize)
}

// ReadLocalBuffer reads words dwords of the local buffer from addr. A words
// value of 0 reads the whole buffer.
func (c *Core) ReadLocalBuffer(ctx context.Context, addr uint64, words uint32) ([]byte, error) {
	if words == 0 {
		size, err := c.LocalBufferSize(ctx)
		if err != nil {
			return nil, err
		}
		words = size / tlp.DwordSize
	}
	if words == 0 {
		return nil, fmt.Errorf("%w: empty local buffer", pkg.ErrInvalidField)
	}
	return c.bus.Read(ctx, c.base+LocalBufferOffset+addr, words, false)
}

// WriteLocalBuffer writes data into the local buffer at addr.
func (c *Core) WriteLocalBuffer(ctx context.Context, addr uint64, data []byte) error {
	return c.bus.Write(ctx, c.base+LocalBufferOffset+addr, data, false)
}

// ClockCount returns the PCIe clock counter.
func (c *Core) ClockCount(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CorePCIeClockCount)
}

// TestClockCount returns the debug clock counter.
func (c *Core) TestClockCount(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CoreTestClock)
}

// SetTxDiffSwing sets the transmitter differential swing.
func (c *Core) SetTxDiffSwing(ctx context.Context, v uint32) error {
	return c.WriteRegister(ctx, CoreTxDiffControl, v)
}

// TxDiffSwing returns the transmitter differential swing.
func (c *Core) TxDiffSwing(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CoreTxDiffControl)
}

// SetRxEqualizer sets the receiver equalizer.
func (c *Core) SetRxEqualizer(ctx context.Context, v uint32) error {
	return c.WriteRegister(ctx, CoreRxEqualizerControl, v)
}

// RxEqualizer returns the receiver equalizer setting.
func (c *Core) RxEqualizer(ctx context.Context) (uint32, error) {
	return c.ReadRegister(ctx, CoreRxEqualizerControl)
}

// ConfigSpace holds the configuration registers the core mirrors from the
// PCIe configuration space.
type ConfigSpace struct {
	Command, Status             uint32
	DeviceCommand, DeviceStatus uint32
	LinkCommand, LinkStatus     uint32
	DebugFlags                  uint32
}

// ConfigSpace reads the mirrored configuration registers.
func (c *Core) ConfigSpace(ctx context.Context) (ConfigSpace, error) {
	var cs ConfigSpace
	regs := []struct {
		r CoreRegister
		v *uint32
	}{
		{CoreConfigCommand, &cs.Command},
		{CoreConfigStatus, &cs.Status},
		{CoreConfigDCommand, &cs.DeviceCommand},
		{CoreConfigDStatus, &cs.DeviceStatus},
		{CoreConfigLCommand, &cs.LinkCommand},
		{CoreConfigLStatus, &cs.LinkStatus},
		{CoreDebugFlags, &cs.DebugFlags},
	}
	for _, reg := range regs {
		v, err := c.ReadRegister(ctx, reg.r)
		if err != nil {
			return cs, err
		}
		*reg.v = v
	}
	return cs, nil
}
