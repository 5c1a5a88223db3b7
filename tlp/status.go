package tlp

import (
	"fmt"
	"strings"

	"github.com/ardnew/artemis/pkg"
)

// Register indexes a word of the status/config register file carried by a
// status packet.
type Register int

// Register file layout. Each register is a big-endian word at offset
// index*4 of the status packet payload.
const (
	RegStatusBuffer      Register = iota // status_buf
	RegHostBufferReady                   // hst_buffer_rdy
	RegWriteBufferA                      // write_buffer_a
	RegWriteBufferB                      // write_buffer_b
	RegReadBufferA                       // read_buffer_a
	RegReadBufferB                       // read_buffer_b
	RegBufferSize                        // dword_buffer_size
	RegIndexA                            // index value a
	RegIndexB                            // index value b
	RegDeviceAddress                     // device_addr
	RegDeviceStatus                      // device_status
	RegDeviceBufferReady                 // dev_buffer_rdy
	RegHostBufferAddress                 // hst_buf_addr
	RegInterrupt                         // interrupt
	NumRegisters

	// RegAuxBufferReady shares its name, and so its slot, with
	// RegHostBufferReady.
	RegAuxBufferReady = RegHostBufferReady
)

// StatusSize is the payload size of a complete status packet.
const StatusSize = int(NumRegisters) * DwordSize

var registers = [NumRegisters]struct{ name, desc string }{
	RegStatusBuffer:      {"status_buf", "Address of the Status Buffer on host computer"},
	RegHostBufferReady:   {"hst_buffer_rdy", "Buffer Ready (Controlled by host)"},
	RegWriteBufferA:      {"write_buffer_a", "Address of Write Buffer 0 on host computer"},
	RegWriteBufferB:      {"write_buffer_b", "Address of Write Buffer 1 on host computer"},
	RegReadBufferA:       {"read_buffer_a", "Address of Read Buffer 0 on host computer"},
	RegReadBufferB:       {"read_buffer_b", "Address of Read Buffer 1 on host computer"},
	RegBufferSize:        {"dword_buffer_size", "Size of the buffer on host computer"},
	RegIndexA:            {"index value a", "Value of Index A"},
	RegIndexB:            {"index value b", "Value of Index B"},
	RegDeviceAddress:     {"device_addr", "Address to read from or write to on device"},
	RegDeviceStatus:      {"device_status", "Device Status"},
	RegDeviceBufferReady: {"dev_buffer_rdy", "Buffer Ready Status (Controller from device)"},
	RegHostBufferAddress: {"hst_buf_addr", "Address on Host"},
	RegInterrupt:         {"interrupt", "Interrupt Status"},
}

func (r Register) String() string {
	if r >= 0 && r < NumRegisters {
		return registers[r].name
	}
	return fmt.Sprintf("register(%d)", int(r))
}

// Description returns the register's human-readable description.
func (r Register) Description() string {
	if r >= 0 && r < NumRegisters {
		return registers[r].desc
	}
	return ""
}

// LookupRegister returns the register with the given name.
func LookupRegister(name string) (Register, error) {
	for r := range NumRegisters {
		if registers[r].name == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: register %q not found", pkg.ErrInvalidField, name)
}

// StatusBit is a bit of the device_status register.
type StatusBit uint

// Device status bits, in bit order.
const (
	StatusReady           StatusBit = iota // ready
	StatusWrite                            // write
	StatusRead                             // read
	StatusFIFO                             // flag_fifo
	StatusPing                             // ping
	StatusReadConfig                       // read_cfg
	StatusUnknownCommand                   // unknown_cmd
	StatusPPFIFOStall                      // ppfifo_stall
	StatusHostBufferStall                  // host_buf_stall
	StatusPeripheral                       // flag_peripheral
	StatusMemory                           // flag_mem
	StatusDMA                              // flag_dma
	StatusInterrupt                        // interrupt
	StatusReset                            // reset
	StatusDone                             // done
	StatusError                            // error
	NumStatusBits
)

var statusBits = [NumStatusBits]struct{ name, desc string }{
	StatusReady:           {"ready", "Ready for new commands"},
	StatusWrite:           {"write", "Write Command Enabled"},
	StatusRead:            {"read", "Read Command Enabled"},
	StatusFIFO:            {"flag_fifo", "Flag: Read/Write FIFO"},
	StatusPing:            {"ping", "Ping Command"},
	StatusReadConfig:      {"read_cfg", "Read Config Request"},
	StatusUnknownCommand:  {"unknown_cmd", "Unknown Command"},
	StatusPPFIFOStall:     {"ppfifo_stall", "Stall Due to Ping Pong FIFO"},
	StatusHostBufferStall: {"host_buf_stall", "Stall Due to Host Buffer"},
	StatusPeripheral:      {"flag_peripheral", "Flag: Peripheral Bus"},
	StatusMemory:          {"flag_mem", "Flag: Memory"},
	StatusDMA:             {"flag_dma", "Flag: DMA"},
	StatusInterrupt:       {"interrupt", "Device Initiated Interrupt"},
	StatusReset:           {"reset", "Reset Command"},
	StatusDone:            {"done", "Command Done"},
	StatusError:           {"error", "Error executing command"},
}

func (b StatusBit) String() string {
	if b < NumStatusBits {
		return statusBits[b].name
	}
	return fmt.Sprintf("bit(%d)", uint(b))
}

// Description returns the status bit's human-readable description.
func (b StatusBit) Description() string {
	if b < NumStatusBits {
		return statusBits[b].desc
	}
	return ""
}

// Mask returns the bit's mask within device_status.
func (b StatusBit) Mask() uint32 { return 1 << b }

// LookupStatusBit returns the status bit with the given name.
func LookupStatusBit(name string) (StatusBit, error) {
	for b := range NumStatusBits {
		if statusBits[b].name == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: status bit %q not found", pkg.ErrInvalidField, name)
}

// StatusView is the register file of a status packet.
type StatusView [NumRegisters]uint32

// ParseStatus reads the register file from a status packet's payload.
func ParseStatus(payload []byte) (StatusView, error) {
	var v StatusView
	if len(payload) < StatusSize {
		return v, fmt.Errorf("%w: status payload %d bytes, need %d", pkg.ErrPacketTooShort, len(payload), StatusSize)
	}
	for i := range v {
		v[i] = be.Uint32(payload[i*DwordSize:])
	}
	return v, nil
}

// IsStatusPacket reports whether p is a memory write to the status buffer.
func IsStatusPacket(p Packet, statusAddr uint64) bool {
	t, ok := p.(*TransferPacket)
	return ok && t.Type == TypeMemoryWrite && t.Address == statusAddr
}

// Bytes returns the register file as a status packet payload.
func (v StatusView) Bytes() []byte {
	return WordsToBytes(v[:]...)
}

// Value returns register r, or 0 if r is out of range.
func (v StatusView) Value(r Register) uint32 {
	if r < 0 || r >= NumRegisters {
		return 0
	}
	return v[r]
}

// ValueOf returns the register with the given name.
func (v StatusView) ValueOf(name string) (uint32, error) {
	r, err := LookupRegister(name)
	if err != nil {
		return 0, err
	}
	return v.Value(r), nil
}

// Status reports whether bit b of device_status is set.
func (v StatusView) Status(b StatusBit) bool {
	return b < NumStatusBits && v[RegDeviceStatus]&b.Mask() != 0
}

// StatusOf reports whether the device_status bit with the given name is set.
func (v StatusView) StatusOf(name string) (bool, error) {
	b, err := LookupStatusBit(name)
	if err != nil {
		return false, err
	}
	return v.Status(b), nil
}

// SetStatus sets or clears bit b of device_status.
func (v *StatusView) SetStatus(b StatusBit, on bool) {
	if b >= NumStatusBits {
		return
	}
	if on {
		v[RegDeviceStatus] |= b.Mask()
	} else {
		v[RegDeviceStatus] &^= b.Mask()
	}
}

// Format renders the register file one register per line, expanding the
// device_status bits under the device_status register. Each line is
// indented by tab+1 tabs.
func (v StatusView) Format(tab int) string {
	var sb strings.Builder
	indent := strings.Repeat("\t", tab+1)
	sb.WriteString("Status Packet\n")
	for r := range NumRegisters {
		fmt.Fprintf(&sb, "%s%-20s[0x%02X]: 0x%08X : %s\n", indent, r, int(r), v[r], r.Description())
		if r != RegDeviceStatus {
			continue
		}
		fmt.Fprintf(&sb, "%sStatus Bits:\n", indent)
		for b := range NumStatusBits {
			fmt.Fprintf(&sb, "%s\t%-15s[0x%02X]: %5t : %s\n", indent, b, uint(b), v.Status(b), b.Description())
		}
	}
	return sb.String()
}

func (v StatusView) String() string {
	return v.Format(0)
}
