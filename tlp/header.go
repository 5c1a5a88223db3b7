package tlp

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

var be = binary.BigEndian

const (
	// DwordSize is the size of a PCIe dword in bytes.
	DwordSize = 4
	// HeaderSize is the size of the common TLP header prefix.
	HeaderSize = 4
	// MaxDwordCount is the largest dword count the 10-bit length field holds.
	MaxDwordCount = 0x3FF
	// MaxPayload is the largest payload a generated packet may carry.
	MaxPayload = MaxDwordCount * DwordSize
	// MaxPacketSize is a 4 dword header plus the largest payload.
	MaxPacketSize = 4*DwordSize + MaxPayload
)

// Header is the 4-byte prefix shared by every TLP.
type Header struct {
	Type       Type
	Is64       bool
	Flags      Flags
	DwordCount uint16
	HasData    bool
}

// PutHeader writes the 4-byte common header into b:
//
//	byte0 = format/type
//	byte1 = flags[13:6]
//	byte2 = flags[5:0]<<2 | dwc[9:8]
//	byte3 = dwc[7:0]
//
// Bits of flags above 13 and of dwc above 9 are discarded.
func PutHeader(b []byte, formatType byte, flags, dwc uint16) {
	_ = b[3]
	b[0] = formatType
	b[1] = byte(flags >> 6)
	b[2] = byte(flags<<2)&0xFC | byte(dwc>>8)&0x03
	b[3] = byte(dwc)
}

// ParseHeader decodes the common header at the start of raw.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", pkg.ErrPacketTooShort, len(raw), HeaderSize)
	}
	t, is64, _, err := DecodeType(raw[0])
	if err != nil {
		return Header{}, err
	}
	flags := (uint16(raw[1])<<8 | uint16(raw[2])) >> 2 & flagsMask
	dwc := (uint16(raw[2])<<8 | uint16(raw[3])) & MaxDwordCount
	return Header{
		Type:       t,
		Is64:       is64,
		Flags:      DecodeFlags(flags),
		DwordCount: dwc,
		HasData:    t.HasData() && dwc > 0,
	}, nil
}

// put validates h and writes it into b.
func (h Header) put(b []byte) error {
	if h.DwordCount > MaxDwordCount {
		return fmt.Errorf("%w: dword count 0x%X > 0x%X", pkg.ErrInvalidField, h.DwordCount, MaxDwordCount)
	}
	ft, err := EncodeType(h.Type, h.Is64, 0)
	if err != nil {
		return err
	}
	flags, err := h.Flags.Encode()
	if err != nil {
		return err
	}
	PutHeader(b, ft, flags, h.DwordCount)
	return nil
}

// padDwords returns data zero-padded to a dword boundary. The result never
// aliases data.
func padDwords(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	n := (len(data) + DwordSize - 1) / DwordSize * DwordSize
	out := make([]byte, n)
	copy(out, data)
	return out
}
