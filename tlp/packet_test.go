package tlp

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/artemis/pkg"
)

func payload(dwords int) []byte {
	b := make([]byte, dwords*DwordSize)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestMemoryWriteBytes(t *testing.T) {
	p := NewMemoryWrite(0x01000000, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	got, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []byte{
		0x40, 0x00, 0x10, 0x01, // mwr, no snoop, 1 dword
		0x00, 0x00, 0x00, 0x0F, // requester, tag, last/first BE
		0x01, 0x00, 0x00, 0x00, // address
		0xDE, 0xAD, 0xBE, 0xEF,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryRead64Bytes(t *testing.T) {
	p := NewMemoryRead(0x1_2345_6789, 0x42)
	p.RequesterID = 0x0100
	got, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []byte{
		0x20, 0x00, 0x10, 0x00,
		0x01, 0x00, 0x42, 0x00,
		0x00, 0x00, 0x00, 0x01, 0x23, 0x45, 0x67, 0x88,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompletionBytes(t *testing.T) {
	req := NewMemoryRead(0x02000084, 0x07)
	p := NewCompletion(req, 0x0001, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	p.Status = pkg.CompletionAbort
	got, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []byte{
		0x4A, 0x00, 0x10, 0x02,
		0x00, 0x01, 0x80, 0x08, // completer, status<<5|byte count
		0x00, 0x00, 0x07, 0x04, // requester, tag, lower address
		1, 2, 3, 4, 5, 6, 7, 8,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
	}

	back, err := Parse(got)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cpl, ok := back.(*CompletionPacket)
	if !ok {
		t.Fatalf("Parse() = %T, want *CompletionPacket", back)
	}
	if cpl.CompleteStatus() != pkg.CompletionAbort {
		t.Errorf("CompleteStatus() = %v, want %v", cpl.CompleteStatus(), pkg.CompletionAbort)
	}
}

func TestTransferRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeMemoryRead, TypeMemoryWrite} {
		for _, is64 := range []bool{false, true} {
			for _, dwc := range []int{0, 1, 2, MaxDwordCount} {
				addr := uint64(0x89ABCDEC)
				if is64 {
					addr = 0x12_89AB_CDEC
				}
				p := &TransferPacket{
					Header:      Header{Type: typ, Is64: is64, Flags: Flags{TrafficClass: 5, RelaxedOrder: true, AddressType: 2}},
					RequesterID: 0xBEEF,
					Tag:         0x5A,
					FirstBE:     0x3,
					LastBE:      0xC,
					Address:     addr,
					Payload:     payload(dwc),
				}
				raw, err := Generate(p)
				if err != nil {
					t.Fatalf("%s/64=%t/dwc=%d: Generate() error = %v", typ, is64, dwc, err)
				}
				got, err := Parse(raw)
				if err != nil {
					t.Fatalf("%s/64=%t/dwc=%d: Parse() error = %v", typ, is64, dwc, err)
				}
				want := p.Normalized()
				if diff := cmp.Diff(&want, got); diff != "" {
					t.Errorf("%s/64=%t/dwc=%d: round trip mismatch (-want +got):\n%s", typ, is64, dwc, diff)
				}
			}
		}
	}
}

func TestCompletionRoundTrip(t *testing.T) {
	f := func(cmpl, req uint16, tag, lower, status uint8, bcm bool, count uint16, n uint16) bool {
		p := &CompletionPacket{
			Header:       Header{Type: TypeCompletionData, Flags: DefaultFlags()},
			CompleterID:  cmpl,
			Status:       pkg.CompletionStatus(status & maxStatus),
			BCM:          bcm,
			ByteCount:    count & maxByteCount,
			RequesterID:  req,
			Tag:          tag,
			LowerAddress: lower,
			Payload:      payload(int(n % (MaxDwordCount + 1))),
		}
		raw, err := Generate(p)
		if err != nil {
			return false
		}
		got, err := Parse(raw)
		if err != nil {
			return false
		}
		want := p.Normalized()
		return cmp.Equal(&want, got)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestByteEnables(t *testing.T) {
	f := func(first, last uint8, n uint16) bool {
		dwc := int(n % 8)
		p := &TransferPacket{
			Header:  Header{Type: TypeMemoryWrite},
			FirstBE: first & 0xF,
			LastBE:  last & 0xF,
			Payload: payload(dwc),
		}
		raw, err := Generate(p)
		if err != nil {
			return false
		}
		gotFirst, gotLast := raw[7]&0xF, raw[7]>>4
		switch dwc {
		case 0:
			return gotFirst == 0 && gotLast == 0
		case 1:
			return gotFirst == first&0xF && gotLast == 0
		default:
			return gotFirst == first&0xF && gotLast == last&0xF
		}
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMemoryWritePadding(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantDwc uint16
	}{
		{"empty", nil, 0},
		{"one byte", []byte{0xAA}, 1},
		{"five bytes", []byte{1, 2, 3, 4, 5}, 2},
		{"eight bytes", payload(2), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Generate(NewMemoryWrite(0x100, tt.data))
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			h, err := ParseHeader(raw)
			if err != nil {
				t.Fatalf("ParseHeader() error = %v", err)
			}
			if h.DwordCount != tt.wantDwc {
				t.Errorf("DwordCount = %d, want %d", h.DwordCount, tt.wantDwc)
			}
			if got := len(raw) - transferSize32; got != int(tt.wantDwc)*DwordSize {
				t.Errorf("payload length = %d, want %d", got, int(tt.wantDwc)*DwordSize)
			}
			if !bytes.HasPrefix(raw[transferSize32:], tt.data) {
				t.Errorf("payload = %x, want prefix %x", raw[transferSize32:], tt.data)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	valid, err := Generate(NewMemoryWrite(0x100, payload(2)))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, pkg.ErrPacketTooShort},
		{"header only", valid[:HeaderSize], pkg.ErrPacketTooShort},
		{"truncated payload", valid[:len(valid)-1], pkg.ErrPacketTooShort},
		{"config read", []byte{0x04, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, pkg.ErrUnknownPacketType},
		{"completion without data", []byte{0x0A, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, pkg.ErrUnknownPacketType},
		{"message", []byte{0x30, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, pkg.ErrUnknownPacketType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		want error
	}{
		{"wrong transfer type", &TransferPacket{Header: Header{Type: TypeIORead}}, pkg.ErrUnknownPacketType},
		{"wrong completion type", &CompletionPacket{Header: Header{Type: TypeCompletion}}, pkg.ErrUnknownPacketType},
		{"payload too large", NewMemoryWrite(0, payload(MaxDwordCount+1)), pkg.ErrInvalidField},
		{"32-bit overflow", &TransferPacket{Header: Header{Type: TypeMemoryRead}, Address: 1 << 32}, pkg.ErrInvalidField},
		{"traffic class", &TransferPacket{Header: Header{Type: TypeMemoryRead, Flags: Flags{TrafficClass: 9}}}, pkg.ErrInvalidField},
		{"byte count", &CompletionPacket{Header: Header{Type: TypeCompletionData}, ByteCount: 0x1000}, pkg.ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Generate(tt.p); !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBytesToWords(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	words := make([]uint32, 37)
	for i := range words {
		words[i] = r.Uint32()
	}
	if diff := cmp.Diff(words, BytesToWords(WordsToBytes(words...))); diff != "" {
		t.Errorf("BytesToWords() mismatch (-want +got):\n%s", diff)
	}
	if got, want := BytesToWords([]byte{0x12, 0x34}), []uint32{0x12340000}; !cmp.Equal(got, want) {
		t.Errorf("BytesToWords() = %x, want %x", got, want)
	}
}
