package pcie_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/artemis/device"
	"github.com/ardnew/artemis/pcie"
	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// startExchange connects a configured exchange to a simulated device.
func startExchange(t *testing.T, cfg pcie.ExchangeConfig) (*pcie.Exchange, *device.PingPong) {
	t.Helper()
	hostEnd, devEnd := net.Pipe()
	link := pcie.NewLink(hostEnd)
	dev := device.NewPingPong(pcie.NewLink(devEnd), device.NewMemory(), device.PingPongConfig{BAR0: cfg.BAR0})
	x := pcie.NewExchange(link, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		link.Close()
		devEnd.Close()
		assert.NoError(t, <-done, "Serve")
	})

	require.NoError(t, x.Configure(testContext(t)))
	return x, dev
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func sequence(base uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = base + uint32(i)
	}
	return out
}

// =============================================================================
// Read Tests
// =============================================================================

func TestExchange_Read(t *testing.T) {
	tests := []struct {
		name      string
		size      uint32
		count     uint32
		wantFills int
	}{
		{"two fills", 0x200, 0x300, 2},
		{"single fill", 0x200, 0x80, 1},
		{"exact buffer", 0x10, 0x10, 1},
		{"many fills", 4, 18, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, dev := startExchange(t, pcie.ExchangeConfig{BufferSize: tt.size})
			want := sequence(0xA0000000, int(tt.count))
			dev.Memory().WriteWords(0x1000, want, false)

			tr, err := x.Read(testContext(t), pcie.CmdDMARead, 0x1000, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFills, tr.Fills)
			assert.True(t, tr.Status.Status(tlp.StatusDone))
			assert.Equal(t, want, tlp.BytesToWords(tr.Data))
		})
	}
}

func TestExchange_ReadFIFO(t *testing.T) {
	x, dev := startExchange(t, pcie.ExchangeConfig{BufferSize: 8})
	dev.Memory().Store(0x20, 0x1234)

	tr, err := x.Read(testContext(t), pcie.CmdPeripheralReadFIFO, 0x20, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x1234, 0x1234, 0x1234}, tlp.BytesToWords(tr.Data))
	assert.True(t, tr.Status.Status(tlp.StatusFIFO))
}

func TestExchange_ReadsInSequence(t *testing.T) {
	x, dev := startExchange(t, pcie.ExchangeConfig{BufferSize: 2})
	dev.Memory().WriteWords(0, sequence(1, 8), false)

	for i := range 3 {
		tr, err := x.Read(testContext(t), pcie.CmdMemoryRead, uint32(i), 3)
		require.NoErrorf(t, err, "read %d", i)
		assert.Equalf(t, sequence(uint32(i)+1, 3), tlp.BytesToWords(tr.Data), "read %d", i)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestExchange_Write(t *testing.T) {
	tests := []struct {
		name      string
		size      uint32
		count     int
		wantFills int
	}{
		{"two fills", 0x200, 0x300, 2},
		{"single fill", 0x200, 0x10, 1},
		{"many fills", 4, 10, 3},
		{"beyond read request", 0x400, 0x180, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, dev := startExchange(t, pcie.ExchangeConfig{BufferSize: tt.size})
			want := sequence(0x50000000, tt.count)

			tr, err := x.Write(testContext(t), pcie.CmdDMAWrite, 0x4000, tlp.WordsToBytes(want...))
			require.NoError(t, err)
			assert.Equal(t, tt.wantFills, tr.Fills)
			assert.True(t, tr.Status.Status(tlp.StatusDone))
			assert.Equal(t, want, dev.Memory().ReadWords(0x4000, tt.count, false))
		})
	}
}

func TestExchange_WriteThenRead(t *testing.T) {
	x, _ := startExchange(t, pcie.ExchangeConfig{BufferSize: 3})
	want := sequence(100, 7)

	_, err := x.Write(testContext(t), pcie.CmdMemoryWrite, 0x10, tlp.WordsToBytes(want...))
	require.NoError(t, err)
	tr, err := x.Read(testContext(t), pcie.CmdMemoryRead, 0x10, 7)
	require.NoError(t, err)
	assert.Equal(t, want, tlp.BytesToWords(tr.Data))
}

// =============================================================================
// Command Tests
// =============================================================================

func TestExchange_Ping(t *testing.T) {
	x, dev := startExchange(t, pcie.ExchangeConfig{})
	v, err := x.Ping(testContext(t))
	require.NoError(t, err)
	assert.True(t, v.Status(tlp.StatusPing))
	assert.Equal(t, 1, dev.Commands())
}

func TestExchange_ReadConfig(t *testing.T) {
	x, _ := startExchange(t, pcie.ExchangeConfig{BufferSize: 0x200})
	v, err := x.ReadConfig(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), v.Value(tlp.RegBufferSize))
	assert.Equal(t, uint32(pcie.StatusBufferAddress), v.Value(tlp.RegStatusBuffer))
	assert.Equal(t, uint32(pcie.ReadBufferBAddress), v.Value(tlp.RegReadBufferB))
}

func TestExchange_Reset(t *testing.T) {
	x, dev := startExchange(t, pcie.ExchangeConfig{BufferSize: 2})
	dev.Memory().WriteWords(0, sequence(1, 4), false)

	_, err := x.Read(testContext(t), pcie.CmdDMARead, 0, 4)
	require.NoError(t, err)
	require.NoError(t, x.Reset(testContext(t)))

	v, err := x.ReadConfig(testContext(t))
	require.NoError(t, err)
	assert.Zero(t, v[tlp.RegIndexA])
	assert.Zero(t, v[tlp.RegIndexB])

	tr, err := x.Read(testContext(t), pcie.CmdDMARead, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Fills)
}

func TestExchange_DeviceError(t *testing.T) {
	x, dev := startExchange(t, pcie.ExchangeConfig{})

	dev.FailNext()
	_, err := x.Read(testContext(t), pcie.CmdDMARead, 0, 4)
	assert.ErrorIs(t, err, pkg.ErrProtocolMismatch)

	dev.FailNext()
	_, err = x.Write(testContext(t), pcie.CmdDMAWrite, 0, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, pkg.ErrProtocolMismatch)

	dev.FailNext()
	_, err = x.Ping(testContext(t))
	assert.ErrorIs(t, err, pkg.ErrProtocolMismatch)

	_, err = x.Ping(testContext(t))
	assert.NoError(t, err, "error persisted")
}

func TestExchange_UnknownCommand(t *testing.T) {
	x, _ := startExchange(t, pcie.ExchangeConfig{})
	ctx := testContext(t)

	require.NoError(t, x.WriteCommand(ctx, pcie.Command(0x9F), 0, 0))
	// The rejection is reported on the next status the host waits for.
	_, err := x.Ping(ctx)
	assert.ErrorIs(t, err, pkg.ErrProtocolMismatch)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestExchange_InvalidArguments(t *testing.T) {
	x := pcie.NewExchange(pcie.NewLink(nopConn{}), pcie.ExchangeConfig{})
	ctx := context.Background()

	_, err := x.Read(ctx, pcie.CmdDMAWrite, 0, 1)
	assert.ErrorIs(t, err, pkg.ErrInvalidField, "write command")
	_, err = x.Read(ctx, pcie.CmdDMARead, 0, 0)
	assert.ErrorIs(t, err, pkg.ErrInvalidField, "zero count")
	_, err = x.Write(ctx, pcie.CmdDMARead, 0, []byte{1})
	assert.ErrorIs(t, err, pkg.ErrInvalidField, "read command")
	_, err = x.Write(ctx, pcie.CmdDMAWrite, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidField, "no data")
	assert.ErrorIs(t, x.WriteRegister(ctx, tlp.NumRegisters, 0), pkg.ErrInvalidField)
}

func TestExchange_ConfigureRange(t *testing.T) {
	x := pcie.NewExchange(pcie.NewLink(nopConn{}), pcie.ExchangeConfig{StatusBuffer: 0x100000000})
	assert.ErrorIs(t, x.Configure(context.Background()), pkg.ErrInvalidField)
}

func TestExchange_Timeout(t *testing.T) {
	hostEnd, peerEnd := net.Pipe()
	link := pcie.NewLink(hostEnd)
	peer := pcie.NewLink(peerEnd) // receives and ignores everything
	t.Cleanup(func() {
		link.Close()
		peer.Close()
	})

	x := pcie.NewExchange(link, pcie.ExchangeConfig{Timeout: 30 * time.Millisecond})
	_, err := x.Ping(context.Background())
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	_, err = x.Read(context.Background(), pcie.CmdDMARead, 0, 1)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	_, err = x.Write(context.Background(), pcie.CmdDMAWrite, 0, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestExchangeConfig_Defaults(t *testing.T) {
	cfg := pcie.DefaultExchangeConfig()
	assert.Equal(t, uint64(pcie.StatusBufferAddress), cfg.StatusBuffer)
	assert.Equal(t, [pcie.NumSlots]uint64{pcie.WriteBufferAAddress, pcie.WriteBufferBAddress}, cfg.WriteBuffers)
	assert.Equal(t, [pcie.NumSlots]uint64{pcie.ReadBufferAAddress, pcie.ReadBufferBAddress}, cfg.ReadBuffers)
	assert.Equal(t, uint32(pcie.BufferSize), cfg.BufferSize)
	assert.Equal(t, pcie.ExchangeTimeout, cfg.Timeout)

	assert.Equal(t, uint64(0x1000+4*uint64(tlp.RegBufferSize)), pcie.ExchangeConfig{BAR0: 0x1000}.RegisterAddress(tlp.RegBufferSize))
	assert.Equal(t, uint64(0x89*4), cfg.CommandAddress(pcie.CmdPing))

	slot, off, ok := cfg.Slot(cfg.ReadBuffers, pcie.ReadBufferBAddress+8)
	assert.True(t, ok)
	assert.Equal(t, 1, slot)
	assert.Equal(t, uint64(8), off)
	_, _, ok = cfg.Slot(cfg.ReadBuffers, pcie.ReadBufferAAddress+pcie.BufferSize*4)
	assert.False(t, ok)
}

// nopConn blocks reads until closed and discards writes.
type nopConn struct{}

func (nopConn) Read(p []byte) (int, error)  { select {} }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }
