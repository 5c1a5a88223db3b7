package tlp

import (
	"encoding"
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

// Packet is one of the TLP variants the board protocol uses: a
// [TransferPacket] (memory read or write) or a [CompletionPacket]
// (completion with data).
type Packet interface {
	encoding.BinaryMarshaler
	fmt.Stringer
	Kind() Type
}

var (
	_ Packet = (*TransferPacket)(nil)
	_ Packet = (*CompletionPacket)(nil)
)

// Parse decodes raw into the packet variant selected by its format/type
// byte. Types other than memory read, memory write and completion with data
// are rejected with [pkg.ErrUnknownPacketType].
func Parse(raw []byte) (Packet, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case TypeMemoryRead, TypeMemoryWrite:
		p := new(TransferPacket)
		if err := p.unmarshal(h, raw); err != nil {
			return nil, err
		}
		return p, nil
	case TypeCompletionData:
		p := new(CompletionPacket)
		if err := p.unmarshal(h, raw); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", pkg.ErrUnknownPacketType, h.Type)
	}
}

// Generate encodes p into its wire form.
func Generate(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *TransferPacket:
		return v.MarshalBinary()
	case *CompletionPacket:
		return v.MarshalBinary()
	default:
		return nil, fmt.Errorf("%w: %T", pkg.ErrUnknownPacketType, p)
	}
}
