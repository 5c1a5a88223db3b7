package ftdi

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/artemis/pkg"
)

// =============================================================================
// Fakes
// =============================================================================

type controlCall struct {
	RType, Request uint8
	Val, Idx       uint16
}

type fakeDevice struct {
	calls []controlCall
	pins  uint8
	err   error
}

func (d *fakeDevice) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	d.calls = append(d.calls, controlCall{rType, request, val, idx})
	if d.err != nil {
		return 0, d.err
	}
	if rType == rTypeIn && len(data) > 0 {
		data[0] = d.pins
		return 1, nil
	}
	return len(data), nil
}

// fakeIn returns one queued USB transfer per read and blocks on ctx once
// the queue is empty.
type fakeIn struct {
	transfers [][]byte
}

func (f *fakeIn) ReadContext(ctx context.Context, buf []byte) (int, error) {
	if len(f.transfers) == 0 {
		<-ctx.Done()
		return 0, errors.New("transfer cancelled")
	}
	n := copy(buf, f.transfers[0])
	f.transfers = f.transfers[1:]
	return n, nil
}

type fakeOut struct {
	written [][]byte
}

func (f *fakeOut) WriteContext(ctx context.Context, buf []byte) (int, error) {
	f.written = append(f.written, append([]byte(nil), buf...))
	return len(buf), nil
}

// packet builds a USB packet with modem status bytes.
func packet(payload ...byte) []byte {
	return append([]byte{0x31, 0x60}, payload...)
}

// =============================================================================
// Transport Tests
// =============================================================================

func TestStripStatus(t *testing.T) {
	full := make([]byte, PacketSize)
	for i := range full {
		full[i] = byte(i)
	}
	two := append(append([]byte(nil), full...), packet(0xAA, 0xBB)...)

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"empty", nil, nil},
		{"status only", packet(), nil},
		{"one packet", packet(1, 2, 3), []byte{1, 2, 3}},
		{"two packets", two, append(append([]byte(nil), full[2:]...), 0xAA, 0xBB)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripStatus(append([]byte(nil), tt.in...))
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(bytes.Equal)); diff != "" {
				t.Errorf("stripStatus() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTransport_Read(t *testing.T) {
	in := &fakeIn{transfers: [][]byte{packet(), packet(), packet(0xDC, 1, 2, 3)}}
	tr := newTransport(&fakeDevice{}, in, &fakeOut{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := make([]byte, 2)
	n, err := tr.Read(ctx, buf)
	if err != nil || n != 2 || !bytes.Equal(buf, []byte{0xDC, 1}) {
		t.Fatalf("Read() = %d, %v, % X, want 2, nil, DC 01", n, err, buf)
	}
	n, err = tr.Read(ctx, buf)
	if err != nil || n != 2 || !bytes.Equal(buf, []byte{2, 3}) {
		t.Fatalf("Read() = %d, %v, % X, want 2, nil, 02 03", n, err, buf)
	}
}

func TestTransport_ReadTimeout(t *testing.T) {
	tr := newTransport(&fakeDevice{}, &fakeIn{}, &fakeOut{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tr.Read(ctx, make([]byte, 1))
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Read() error = %v, want %v", err, pkg.ErrTimeout)
	}
}

func TestTransport_WritePurgeClose(t *testing.T) {
	dev := &fakeDevice{}
	out := &fakeOut{}
	closed := 0
	in := &fakeIn{transfers: [][]byte{packet(9, 9, 9)}}
	tr := newTransport(dev, in, out, func() error { closed++; return nil })
	ctx := context.Background()

	if _, err := tr.Write(ctx, []byte{0xCD, 0x00}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(out.written) != 1 || !bytes.Equal(out.written[0], []byte{0xCD, 0x00}) {
		t.Errorf("written = %v, want [[CD 00]]", out.written)
	}

	// Buffer one byte of payload so that Purge has something to drop.
	tr.Read(ctx, make([]byte, 1))
	if err := tr.Purge(); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if len(tr.pending) != 0 {
		t.Errorf("pending after Purge = % X, want empty", tr.pending)
	}
	want := []controlCall{
		{rTypeOut, reqReset, resetPurgeR, ChannelA},
		{rTypeOut, reqReset, resetPurgeW, ChannelA},
	}
	if diff := cmp.Diff(want, dev.calls); diff != "" {
		t.Errorf("Purge() control calls mismatch (-want +got):\n%s", diff)
	}

	tr.Close()
	tr.Close()
	if closed != 1 {
		t.Errorf("release called %d times, want 1", closed)
	}
}

func TestConfigure(t *testing.T) {
	dev := &fakeDevice{}
	if err := configure(dev); err != nil {
		t.Fatalf("configure() error = %v", err)
	}
	last := dev.calls[len(dev.calls)-1]
	if last.Request != reqSetBitmode || last.Val != BitmodeSyncFF<<8 || last.Idx != ChannelA {
		t.Errorf("last control call = %+v, want sync FIFO bitmode on channel A", last)
	}

	failing := &fakeDevice{err: errors.New("pipe")}
	if err := configure(failing); err == nil {
		t.Error("configure() error = nil, want error")
	}
	if len(failing.calls) != 1 {
		t.Errorf("configure() continued after failure: %d calls", len(failing.calls))
	}
}

// =============================================================================
// Reset Line Tests
// =============================================================================

func TestResetLine_Pulse(t *testing.T) {
	dev := &fakeDevice{}
	out := &fakeOut{}
	l := newResetLine(dev, out)

	if err := l.Pulse(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Pulse() error = %v", err)
	}
	wantPins := [][]byte{{PinReset}, {0}, {PinReset}}
	if diff := cmp.Diff(wantPins, out.written); diff != "" {
		t.Errorf("pin writes mismatch (-want +got):\n%s", diff)
	}
	wantCalls := []controlCall{
		{rTypeOut, reqSetBitmode, BitmodeBitbang<<8 | PinReset, ChannelB},
		{rTypeOut, reqSetBitmode, BitmodeBitbang << 8, ChannelB},
	}
	if diff := cmp.Diff(wantCalls, dev.calls); diff != "" {
		t.Errorf("bitmode calls mismatch (-want +got):\n%s", diff)
	}
}

func TestResetLine_Done(t *testing.T) {
	tests := []struct {
		pins uint8
		want bool
	}{
		{0x00, false},
		{PinDone, true},
		{0xFF &^ PinDone, false},
		{0xFF, true},
	}

	for _, tt := range tests {
		l := newResetLine(&fakeDevice{pins: tt.pins}, &fakeOut{})
		got, err := l.Done()
		if err != nil {
			t.Fatalf("Done() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("Done() with pins 0x%02X = %t, want %t", tt.pins, got, tt.want)
		}
	}
}
