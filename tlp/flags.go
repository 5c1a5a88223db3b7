package tlp

import (
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

// Bit positions within the 14-bit flag field.
const (
	flagsMask        = 0x3FFF
	flagTCShift      = 10
	flagIDOrderShift = 8
	flagTHShift      = 6
	flagTDShift      = 5
	flagEPShift      = 4
	flagROShift      = 3
	flagNSShift      = 2
	maxTrafficClass  = 7
	maxAddressType   = 3
	trafficClassMask = 0x7
	addressTypeMask  = 0x3
)

// Flags holds the TLP header attribute bits that sit between the format/type
// byte and the dword count.
type Flags struct {
	TrafficClass   uint8 // 3 bits
	IDOrder        bool
	ProcessingHint bool
	Digest         bool // TD: a TLP digest follows the payload
	Poisoned       bool // EP
	RelaxedOrder   bool
	NoSnoop        bool
	AddressType    uint8 // 2 bits
}

// DefaultFlags returns the flags used for packets generated by this module:
// everything clear except no-snoop.
func DefaultFlags() Flags {
	return Flags{NoSnoop: true}
}

// Encode packs f into its 14-bit wire form.
func (f Flags) Encode() (uint16, error) {
	if f.TrafficClass > maxTrafficClass {
		return 0, fmt.Errorf("%w: traffic class %d > %d", pkg.ErrInvalidField, f.TrafficClass, maxTrafficClass)
	}
	if f.AddressType > maxAddressType {
		return 0, fmt.Errorf("%w: address type %d > %d", pkg.ErrInvalidField, f.AddressType, maxAddressType)
	}
	v := uint16(f.TrafficClass)<<flagTCShift |
		b2u(f.IDOrder)<<flagIDOrderShift |
		b2u(f.ProcessingHint)<<flagTHShift |
		b2u(f.Digest)<<flagTDShift |
		b2u(f.Poisoned)<<flagEPShift |
		b2u(f.RelaxedOrder)<<flagROShift |
		b2u(f.NoSnoop)<<flagNSShift |
		uint16(f.AddressType)
	return v, nil
}

// DecodeFlags unpacks a 14-bit flag field. Bits outside the 14-bit range and
// the reserved positions are ignored.
func DecodeFlags(v uint16) Flags {
	v &= flagsMask
	return Flags{
		TrafficClass:   uint8(v>>flagTCShift) & trafficClassMask,
		IDOrder:        v&(1<<flagIDOrderShift) != 0,
		ProcessingHint: v&(1<<flagTHShift) != 0,
		Digest:         v&(1<<flagTDShift) != 0,
		Poisoned:       v&(1<<flagEPShift) != 0,
		RelaxedOrder:   v&(1<<flagROShift) != 0,
		NoSnoop:        v&(1<<flagNSShift) != 0,
		AddressType:    uint8(v) & addressTypeMask,
	}
}

func b2u(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
