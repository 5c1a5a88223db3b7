package tlp

import (
	"errors"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/artemis/pkg"
)

func TestFlagsEncode(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  uint16
	}{
		{"zero", Flags{}, 0x0000},
		{"default", DefaultFlags(), 0x0004},
		{"traffic class", Flags{TrafficClass: 7}, 0x1C00},
		{"id order", Flags{IDOrder: true}, 0x0100},
		{"processing hint", Flags{ProcessingHint: true}, 0x0040},
		{"digest", Flags{Digest: true}, 0x0020},
		{"poisoned", Flags{Poisoned: true}, 0x0010},
		{"relaxed order", Flags{RelaxedOrder: true}, 0x0008},
		{"address type", Flags{AddressType: 3}, 0x0003},
		{"all", Flags{7, true, true, true, true, true, true, 3}, 0x1D7F},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = 0x%04X, want 0x%04X", got, tt.want)
			}
			if diff := cmp.Diff(tt.flags, DecodeFlags(got)); diff != "" {
				t.Errorf("DecodeFlags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlagsEncodeInvalid(t *testing.T) {
	for _, f := range []Flags{{TrafficClass: 8}, {AddressType: 4}} {
		if _, err := f.Encode(); !errors.Is(err, pkg.ErrInvalidField) {
			t.Errorf("Encode(%+v) error = %v, want %v", f, err, pkg.ErrInvalidField)
		}
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	f := func(tc, at uint8, io, th, td, ep, ro, ns bool) bool {
		want := Flags{tc & 7, io, th, td, ep, ro, ns, at & 3}
		v, err := want.Encode()
		if err != nil {
			return false
		}
		return DecodeFlags(v) == want
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestPutHeader(t *testing.T) {
	tests := []struct {
		name  string
		ft    byte
		flags uint16
		dwc   uint16
		want  []byte
	}{
		{"zero", 0x00, 0x0000, 0x000, []byte{0x00, 0x00, 0x00, 0x00}},
		{"all ones", 0x40, 0x1FFF, 0x3FF, []byte{0x40, 0x7F, 0xFF, 0xFF}},
		{"no snoop one dword", 0x40, 0x0004, 0x001, []byte{0x40, 0x00, 0x10, 0x01}},
		{"traffic class", 0x00, 0x1C00, 0x100, []byte{0x00, 0x70, 0x01, 0x00}},
		{"out of range bits dropped", 0x4A, 0xC000, 0xFC00, []byte{0x4A, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]byte, HeaderSize)
			PutHeader(got, tt.ft, tt.flags, tt.dwc)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("PutHeader() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseHeaderInverse(t *testing.T) {
	f := func(flags, dwc uint16, is64 bool) bool {
		flags &= flagsMask
		dwc &= MaxDwordCount
		ft, err := EncodeType(TypeMemoryWrite, is64, 0)
		if err != nil {
			return false
		}
		b := make([]byte, HeaderSize)
		PutHeader(b, ft, flags, dwc)
		h, err := ParseHeader(b)
		if err != nil {
			return false
		}
		enc, err := h.Flags.Encode()
		if err != nil {
			return false
		}
		// bits 7, 9 and 13 are reserved
		return h.Type == TypeMemoryWrite && h.Is64 == is64 &&
			h.DwordCount == dwc && enc == flags&^0x2280 && h.HasData == (dwc > 0)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, err := ParseHeader([]byte{0x40, 0x00}); !errors.Is(err, pkg.ErrPacketTooShort) {
		t.Errorf("ParseHeader() error = %v, want %v", err, pkg.ErrPacketTooShort)
	}
}
