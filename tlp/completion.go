package tlp

import (
	"fmt"

	"github.com/ardnew/artemis/pkg"
)

const (
	completionSize   = HeaderSize + 8
	maxByteCount     = 0xFFF
	maxStatus        = 0x7
	lowerAddressMask = 0x7F
	statusShift      = 5
	bcmBit           = 1 << 4
)

// CompletionPacket is a completion with data, sent in response to a memory
// read request.
type CompletionPacket struct {
	Header
	CompleterID  uint16
	Status       pkg.CompletionStatus
	BCM          bool
	ByteCount    uint16 // 12 bits
	RequesterID  uint16
	Tag          uint8
	LowerAddress uint8 // 7 bits
	Payload      []byte
}

// NewCompletion returns a successful completion answering req with data.
// The byte count is the size of the padded payload and the lower address is
// taken from the request.
func NewCompletion(req *TransferPacket, completerID uint16, data []byte) *CompletionPacket {
	p := &CompletionPacket{
		Header:       Header{Type: TypeCompletionData, Flags: DefaultFlags()},
		CompleterID:  completerID,
		Status:       pkg.CompletionSuccess,
		RequesterID:  req.RequesterID,
		Tag:          req.Tag,
		LowerAddress: uint8(req.Address),
		Payload:      data,
	}
	n := p.Normalized()
	n.ByteCount = uint16(len(n.Payload))
	return &n
}

// Kind returns the packet type.
func (p *CompletionPacket) Kind() Type { return p.Type }

// CompleteStatus returns the completion status field.
func (p *CompletionPacket) CompleteStatus() pkg.CompletionStatus { return p.Status }

// Words returns the payload as big-endian dwords.
func (p *CompletionPacket) Words() []uint32 {
	return BytesToWords(p.Payload)
}

// Normalized returns a copy of p with the payload padded to whole dwords,
// the dword count and data flag computed from it and the lower address
// masked to 7 bits.
func (p *CompletionPacket) Normalized() CompletionPacket {
	n := *p
	n.Payload = padDwords(p.Payload)
	n.DwordCount = uint16(len(n.Payload) / DwordSize)
	n.HasData = n.DwordCount > 0
	n.Is64 = false
	n.LowerAddress &= lowerAddressMask
	return n
}

// MarshalBinary generates the wire form of p.
func (p *CompletionPacket) MarshalBinary() ([]byte, error) {
	if p.Type != TypeCompletionData {
		return nil, fmt.Errorf("%w: %s is not a completion with data", pkg.ErrUnknownPacketType, p.Type)
	}
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes > %d", pkg.ErrInvalidField, len(p.Payload), MaxPayload)
	}
	if p.ByteCount > maxByteCount {
		return nil, fmt.Errorf("%w: byte count 0x%X > 0x%X", pkg.ErrInvalidField, p.ByteCount, maxByteCount)
	}
	if p.Status > maxStatus {
		return nil, fmt.Errorf("%w: completion status %d > %d", pkg.ErrInvalidField, p.Status, maxStatus)
	}
	n := p.Normalized()
	b := make([]byte, completionSize+len(n.Payload))
	if err := n.put(b); err != nil {
		return nil, err
	}
	be.PutUint16(b[4:], n.CompleterID)
	b[6] = byte(n.Status)<<statusShift | byte(n.ByteCount>>8)&0x0F
	if n.BCM {
		b[6] |= bcmBit
	}
	b[7] = byte(n.ByteCount)
	be.PutUint16(b[8:], n.RequesterID)
	b[10] = n.Tag
	b[11] = n.LowerAddress
	copy(b[completionSize:], n.Payload)
	return b, nil
}

// UnmarshalBinary parses a completion with data from raw.
func (p *CompletionPacket) UnmarshalBinary(raw []byte) error {
	h, err := ParseHeader(raw)
	if err != nil {
		return err
	}
	if h.Type != TypeCompletionData {
		return fmt.Errorf("%w: %s is not a completion with data", pkg.ErrUnknownPacketType, h.Type)
	}
	return p.unmarshal(h, raw)
}

func (p *CompletionPacket) unmarshal(h Header, raw []byte) error {
	*p = CompletionPacket{Header: h}
	if len(raw) < completionSize {
		return fmt.Errorf("%w: %d bytes, need %d", pkg.ErrPacketTooShort, len(raw), completionSize)
	}
	p.CompleterID = be.Uint16(raw[4:])
	p.Status = pkg.CompletionStatus(raw[6] >> statusShift)
	p.BCM = raw[6]&bcmBit != 0
	p.ByteCount = uint16(raw[6]&0x0F)<<8 | uint16(raw[7])
	p.RequesterID = be.Uint16(raw[8:])
	p.Tag = raw[10]
	p.LowerAddress = raw[11] & lowerAddressMask
	n := int(p.DwordCount) * DwordSize
	if len(raw) < completionSize+n {
		return fmt.Errorf("%w: payload %d bytes, need %d", pkg.ErrPacketTooShort, len(raw)-completionSize, n)
	}
	if n > 0 {
		p.Payload = make([]byte, n)
		copy(p.Payload, raw[completionSize:completionSize+n])
	}
	return nil
}

func (p *CompletionPacket) String() string {
	return fmt.Sprintf("%s cmpl=0x%04X req=0x%04X tag=0x%02X status=%s bcm=%t bytes=%d lower=0x%02X dwc=%d",
		p.Type, p.CompleterID, p.RequesterID, p.Tag, p.Status, p.BCM, p.ByteCount, p.LowerAddress, p.DwordCount)
}
