package device

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemory_LoadStore(t *testing.T) {
	m := NewMemory()
	if got := m.Load(0x10); got != 0 {
		t.Errorf("Load() of unwritten word = 0x%X, want 0", got)
	}
	m.Store(0x10, 0xDEADBEEF)
	if got := m.Load(0x10); got != 0xDEADBEEF {
		t.Errorf("Load() = 0x%X, want 0xDEADBEEF", got)
	}
	if got := m.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	m.Clear()
	if got := m.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
}

func TestMemory_Words(t *testing.T) {
	tests := []struct {
		name    string
		noinc   bool
		addr    uint64
		write   []uint32
		read    int
		want    []uint32
		wantLen int
	}{
		{"increment", false, 0x100, []uint32{1, 2, 3}, 4, []uint32{1, 2, 3, 0}, 3},
		{"no increment", true, 0x100, []uint32{1, 2, 3}, 2, []uint32{3, 3}, 1},
		{"empty", false, 0x100, nil, 1, []uint32{0}, 0},
		{"high address", false, 0x0100000000, []uint32{7}, 1, []uint32{7}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			m.WriteWords(tt.addr, tt.write, tt.noinc)
			got := m.ReadWords(tt.addr, tt.read, tt.noinc)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ReadWords() mismatch (-want +got):\n%s", diff)
			}
			if m.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", m.Len(), tt.wantLen)
			}
		})
	}
}

func TestMemory_Addresses(t *testing.T) {
	m := NewMemory()
	for _, a := range []uint64{9, 3, 0x0100000000, 5} {
		m.Store(a, 1)
	}
	want := []uint64{3, 5, 9, 0x0100000000}
	if diff := cmp.Diff(want, m.Addresses()); diff != "" {
		t.Errorf("Addresses() mismatch (-want +got):\n%s", diff)
	}
}
