package tlp

import (
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

const (
	transferSize32 = HeaderSize + 8
	transferSize64 = HeaderSize + 12
	maxAddr32      = 0xFFFFFFFF
	addrAlignMask  = ^uint64(DwordSize - 1)
	byteEnableMask = 0x0F
	allBytes       = 0x0F
)

// TransferPacket is a memory read or memory write request.
type TransferPacket struct {
	Header
	RequesterID uint16
	Tag         uint8
	FirstBE     uint8
	LastBE      uint8
	Address     uint64
	Payload     []byte
}

// NewMemoryRead returns a memory read request for addr. The 64-bit form is
// selected when addr does not fit in 32 bits.
func NewMemoryRead(addr uint64, tag uint8) *TransferPacket {
	return &TransferPacket{
		Header:  Header{Type: TypeMemoryRead, Is64: addr > maxAddr32, Flags: DefaultFlags()},
		Tag:     tag,
		FirstBE: allBytes,
		LastBE:  allBytes,
		Address: addr,
	}
}

// NewMemoryWrite returns a memory write request carrying data to addr.
func NewMemoryWrite(addr uint64, data []byte) *TransferPacket {
	p := &TransferPacket{
		Header:  Header{Type: TypeMemoryWrite, Is64: addr > maxAddr32, Flags: DefaultFlags()},
		FirstBE: allBytes,
		LastBE:  allBytes,
		Address: addr,
		Payload: data,
	}
	n := p.Normalized()
	return &n
}

// Kind returns the packet type.
func (p *TransferPacket) Kind() Type { return p.Type }

// Words returns the payload as big-endian dwords.
func (p *TransferPacket) Words() []uint32 {
	return BytesToWords(p.Payload)
}

// ByteEnables returns the first and last byte enables as they appear on the
// wire for the packet's dword count.
func (p *TransferPacket) ByteEnables() (first, last uint8) {
	return byteEnables(p.DwordCount, p.FirstBE, p.LastBE)
}

func byteEnables(dwc uint16, first, last uint8) (uint8, uint8) {
	switch dwc {
	case 0:
		return 0, 0
	case 1:
		return first & byteEnableMask, 0
	default:
		return first & byteEnableMask, last & byteEnableMask
	}
}

// Normalized returns a copy of p with every derived field set to the value
// it takes on the wire: the payload padded to whole dwords, the dword count
// and data flag computed from it, the byte enables adjusted for 0 and 1 dword
// transfers and the address aligned to a dword. Read requests never carry a
// payload, so their dword count is 0.
func (p *TransferPacket) Normalized() TransferPacket {
	n := *p
	switch n.Type {
	case TypeMemoryWrite:
		n.Payload = padDwords(p.Payload)
	default:
		n.Payload = nil
	}
	n.DwordCount = uint16(len(n.Payload) / DwordSize)
	n.HasData = n.DwordCount > 0
	n.FirstBE, n.LastBE = byteEnables(n.DwordCount, n.FirstBE, n.LastBE)
	n.Address &= addrAlignMask
	return n
}

func (p *TransferPacket) size() int {
	if p.Is64 {
		return transferSize64
	}
	return transferSize32
}

// MarshalBinary generates the wire form of p. Derived fields are computed
// as described by [TransferPacket.Normalized]; the caller's values for them
// are ignored.
func (p *TransferPacket) MarshalBinary() ([]byte, error) {
	if p.Type != TypeMemoryRead && p.Type != TypeMemoryWrite {
		return nil, fmt.Errorf("%w: %s is not a transfer request", pkg.ErrUnknownPacketType, p.Type)
	}
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes > %d", pkg.ErrInvalidField, len(p.Payload), MaxPayload)
	}
	if !p.Is64 && p.Address > maxAddr32 {
		return nil, fmt.Errorf("%w: address 0x%X needs 64-bit addressing", pkg.ErrInvalidField, p.Address)
	}
	n := p.Normalized()
	size := n.size()
	b := make([]byte, size+len(n.Payload))
	if err := n.put(b); err != nil {
		return nil, err
	}
	be.PutUint16(b[4:], n.RequesterID)
	b[6] = n.Tag
	b[7] = n.LastBE<<4 | n.FirstBE
	if n.Is64 {
		be.PutUint64(b[8:], n.Address)
	} else {
		be.PutUint32(b[8:], uint32(n.Address))
	}
	copy(b[size:], n.Payload)
	return b, nil
}

// UnmarshalBinary parses a memory read or write request from raw.
func (p *TransferPacket) UnmarshalBinary(raw []byte) error {
	h, err := ParseHeader(raw)
	if err != nil {
		return err
	}
	if h.Type != TypeMemoryRead && h.Type != TypeMemoryWrite {
		return fmt.Errorf("%w: %s is not a transfer request", pkg.ErrUnknownPacketType, h.Type)
	}
	return p.unmarshal(h, raw)
}

func (p *TransferPacket) unmarshal(h Header, raw []byte) error {
	*p = TransferPacket{Header: h}
	size := p.size()
	if len(raw) < size {
		return fmt.Errorf("%w: %d bytes, need %d", pkg.ErrPacketTooShort, len(raw), size)
	}
	p.RequesterID = be.Uint16(raw[4:])
	p.Tag = raw[6]
	p.FirstBE = raw[7] & byteEnableMask
	p.LastBE = raw[7] >> 4
	if p.Is64 {
		p.Address = be.Uint64(raw[8:]) & addrAlignMask
	} else {
		p.Address = uint64(be.Uint32(raw[8:])) & addrAlignMask
	}
	if p.Type == TypeMemoryRead {
		p.DwordCount = 0
		p.HasData = false
		return nil
	}
	n := int(p.DwordCount) * DwordSize
	if len(raw) < size+n {
		return fmt.Errorf("%w: payload %d bytes, need %d", pkg.ErrPacketTooShort, len(raw)-size, n)
	}
	if n > 0 {
		p.Payload = make([]byte, n)
		copy(p.Payload, raw[size:size+n])
	}
	return nil
}

func (p *TransferPacket) String() string {
	first, last := p.ByteEnables()
	return fmt.Sprintf("%s addr=0x%X tag=0x%02X req=0x%04X be=%X/%X dwc=%d 64=%t",
		p.Type, p.Address, p.Tag, p.RequesterID, first, last, p.DwordCount, p.Is64)
}

// WordsToBytes encodes words as big-endian bytes.
func WordsToBytes(words ...uint32) []byte {
	b := make([]byte, len(words)*DwordSize)
	for i, w := range words {
		be.PutUint32(b[i*DwordSize:], w)
	}
	return b
}

// BytesToWords decodes big-endian dwords from b. A trailing partial dword is
// zero-padded.
func BytesToWords(b []byte) []uint32 {
	b = padDwords(b)
	w := make([]uint32, len(b)/DwordSize)
	for i := range w {
		w[i] = be.Uint32(b[i*DwordSize:])
	}
	return w
}
