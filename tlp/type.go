package tlp

import (
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

// Format field bits (the top 3 bits of the first header byte).
const (
	formatAddr64   = 0b001 // 4DW header, 64-bit address
	formatHasData  = 0b010 // payload follows the header
	formatPrefix   = 0b100 // TLP prefix
	formatShift    = 5
	typeMask       = 0x1F
	typeMessage    = 0x10
	typeMessageSub = 0x07 // message routing subfield
	typePrefixSub  = 0x0F // prefix subfield
	typeEndToEnd   = 0x10 // end-to-end prefix flag
)

// Type identifies a TLP format/type combination.
// See Table 2-3 in the PCI Express Base Specification.
type Type uint8

// TLP types.
const (
	TypeUnknown Type = iota
	TypeMemoryRead
	TypeMemoryReadLocked
	TypeMemoryWrite
	TypeIORead
	TypeIOWrite
	TypeConfig0Read
	TypeConfig0Write
	TypeConfig1Read
	TypeConfig1Write
	TypeMessage
	TypeMessageData
	TypeCompletion
	TypeCompletionData
	TypeCompletionLocked
	TypeCompletionLockedData
	TypeFetchAdd
	TypeSwap
	TypeCompareSwap
	TypeLocalPrefix
	TypeEndToEndPrefix
)

// typeInfo describes how a Type is laid out in the format/type byte.
// fmt64 is negative when the type has no 64-bit form.
type typeInfo struct {
	name  string
	desc  string
	code  uint8
	fmt32 uint8
	fmt64 int8
}

var types = [...]typeInfo{
	TypeUnknown:              {"unknown", "Unknown", 0, 0, -1},
	TypeMemoryRead:           {"mrd", "Memory Read", 0x00, 0b000, 0b001},
	TypeMemoryReadLocked:     {"mrdlk", "Memory Read with Lock", 0x01, 0b000, 0b001},
	TypeMemoryWrite:          {"mwr", "Memory Write", 0x00, 0b010, 0b011},
	TypeIORead:               {"iord", "I/O Read Request", 0x02, 0b000, -1},
	TypeIOWrite:              {"iowr", "I/O Write Request", 0x02, 0b010, -1},
	TypeConfig0Read:          {"cfgrd0", "Configuration Read Type 0", 0x04, 0b000, -1},
	TypeConfig0Write:         {"cfgwr0", "Configuration Write Type 0", 0x04, 0b010, -1},
	TypeConfig1Read:          {"cfgrd1", "Configuration Read Type 1", 0x05, 0b000, -1},
	TypeConfig1Write:         {"cfgwr1", "Configuration Write Type 1", 0x05, 0b010, -1},
	TypeMessage:              {"msg", "Message", typeMessage, 0b001, 0b001},
	TypeMessageData:          {"msgd", "Message with Data", typeMessage, 0b011, 0b011},
	TypeCompletion:           {"cpl", "Completion without Data", 0x0A, 0b000, -1},
	TypeCompletionData:       {"cpld", "Completion with Data", 0x0A, 0b010, -1},
	TypeCompletionLocked:     {"cpllk", "Completion with Lock", 0x0B, 0b000, -1},
	TypeCompletionLockedData: {"cpldlk", "Completion with Data and Lock", 0x0B, 0b010, -1},
	TypeFetchAdd:             {"fetchadd", "Fetch and Add (Atomic)", 0x0C, 0b010, 0b011},
	TypeSwap:                 {"swap", "Swap (Atomic)", 0x0D, 0b010, 0b011},
	TypeCompareSwap:          {"cas", "Compare and Swap (Atomic)", 0x0E, 0b010, 0b011},
	TypeLocalPrefix:          {"lprfx", "Local TLP Prefix", 0x00, formatPrefix, -1},
	TypeEndToEndPrefix:       {"eprfx", "End to End Prefix", typeEndToEnd, formatPrefix, -1},
}

// String returns the short name of the type, e.g. "mwr".
func (t Type) String() string {
	if int(t) < len(types) {
		return types[t].name
	}
	return "unknown"
}

// Description returns a human-readable description of the type.
func (t Type) Description() string {
	if int(t) < len(types) {
		return types[t].desc
	}
	return types[TypeUnknown].desc
}

// HasData reports whether packets of this type carry a payload.
func (t Type) HasData() bool {
	if t == TypeUnknown || int(t) >= len(types) {
		return false
	}
	return types[t].fmt32&formatHasData != 0
}

// Supports64 reports whether the type has a 64-bit address form.
func (t Type) Supports64() bool {
	return int(t) < len(types) && types[t].fmt64 >= 0
}

// Format returns the 3-bit format field for the type.
func (t Type) Format(is64 bool) uint8 {
	if t == TypeUnknown || int(t) >= len(types) {
		return 0
	}
	ti := types[t]
	if is64 && ti.fmt64 >= 0 {
		return uint8(ti.fmt64)
	}
	return ti.fmt32
}

// EncodeType builds the format/type byte for t. The subfield is merged into
// the type code for messages (routing, 3 bits) and prefixes (4 bits) and
// ignored otherwise. Requesting a 64-bit form of a type that has none yields
// [pkg.ErrInvalidField].
func EncodeType(t Type, is64 bool, subfield uint8) (byte, error) {
	if t == TypeUnknown || int(t) >= len(types) {
		return 0, fmt.Errorf("%w: type %d", pkg.ErrUnknownPacketType, t)
	}
	ti := types[t]
	if is64 && ti.fmt64 < 0 {
		return 0, fmt.Errorf("%w: %s has no 64-bit form", pkg.ErrInvalidField, ti.name)
	}
	code := ti.code
	switch t {
	case TypeMessage, TypeMessageData:
		code |= subfield & typeMessageSub
	case TypeLocalPrefix:
		code |= subfield & typePrefixSub
	case TypeEndToEndPrefix:
		code |= subfield & typePrefixSub
	}
	return t.Format(is64)<<formatShift | code, nil
}

// DecodeType is the inverse of [EncodeType]. It extracts the format and the
// type code from b and disambiguates read from write (and message from
// message-with-data) using the data-present format bit.
func DecodeType(b byte) (t Type, is64 bool, subfield uint8, err error) {
	format := b >> formatShift
	code := b & typeMask
	is64 = format&formatAddr64 != 0
	hasData := format&formatHasData != 0

	switch {
	case format&formatPrefix != 0:
		if format != formatPrefix {
			break
		}
		if code&typeEndToEnd != 0 {
			return TypeEndToEndPrefix, false, code & typePrefixSub, nil
		}
		return TypeLocalPrefix, false, code & typePrefixSub, nil

	case code&^typeMessageSub == typeMessage:
		if hasData {
			return TypeMessageData, is64, code & typeMessageSub, nil
		}
		return TypeMessage, is64, code & typeMessageSub, nil

	default:
		t = decodeCode(code, hasData)
		if t == TypeUnknown {
			break
		}
		if is64 && !t.Supports64() {
			break
		}
		return t, is64, 0, nil
	}
	return TypeUnknown, false, 0, fmt.Errorf("%w: format/type 0x%02X", pkg.ErrUnknownPacketType, b)
}

func decodeCode(code uint8, hasData bool) Type {
	pick := func(read, write Type) Type {
		if hasData {
			return write
		}
		return read
	}
	switch code {
	case 0x00:
		return pick(TypeMemoryRead, TypeMemoryWrite)
	case 0x01:
		return pick(TypeMemoryReadLocked, TypeUnknown)
	case 0x02:
		return pick(TypeIORead, TypeIOWrite)
	case 0x04:
		return pick(TypeConfig0Read, TypeConfig0Write)
	case 0x05:
		return pick(TypeConfig1Read, TypeConfig1Write)
	case 0x0A:
		return pick(TypeCompletion, TypeCompletionData)
	case 0x0B:
		return pick(TypeCompletionLocked, TypeCompletionLockedData)
	case 0x0C:
		return pick(TypeUnknown, TypeFetchAdd)
	case 0x0D:
		return pick(TypeUnknown, TypeSwap)
	case 0x0E:
		return pick(TypeUnknown, TypeCompareSwap)
	}
	return TypeUnknown
}
