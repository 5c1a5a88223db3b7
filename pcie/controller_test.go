package pcie

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

// =============================================================================
// Fake Command Port
// =============================================================================

// fakePort records command and data writes in order and serves reads from
// a preloaded buffer.
type fakePort struct {
	mu     sync.Mutex
	writes []portWrite
	rx     []byte
	closed bool
}

type portWrite struct {
	command bool
	data    []byte
}

func (p *fakePort) Command(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, portWrite{command: true, data: append([]byte(nil), b...)})
	return nil
}

func (p *fakePort) Write(ctx context.Context, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, portWrite{data: append([]byte(nil), b...)})
	return len(b), nil
}

func (p *fakePort) Read(ctx context.Context, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) == 0 {
		return 0, pkg.ErrTimeout
	}
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Purge() error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func cmdWords(words ...uint32) portWrite {
	return portWrite{command: true, data: tlp.WordsToBytes(words...)}
}

func dataWords(words ...uint32) portWrite {
	return portWrite{data: tlp.WordsToBytes(words...)}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestController_Commands(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *Controller) error
		want []portWrite
	}{
		{
			name: "reset",
			run:  func(c *Controller) error { return c.Reset() },
			want: []portWrite{cmdWords(0x80, 0, 0)},
		},
		{
			name: "ping",
			run:  func(c *Controller) error { return c.Ping() },
			want: []portWrite{cmdWords(0x89, 0, 0)},
		},
		{
			name: "device address",
			run:  func(c *Controller) error { return c.SetDeviceAddress(0x01000000) },
			want: []portWrite{cmdWords(uint32(tlp.RegDeviceAddress), 0x01000000)},
		},
		{
			name: "peripheral write",
			run: func(c *Controller) error {
				return c.PeripheralWrite(context.Background(), 0x01000000, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x11})
			},
			want: []portWrite{
				cmdWords(0x81, 6, 0),
				dataWords(IDWord, 1, 2, 0x01000000, 0xAABBCCDD, 0x11000000),
			},
		},
		{
			name: "dma write",
			run: func(c *Controller) error {
				return c.DMAWrite(context.Background(), []byte{1, 2, 3, 4})
			},
			want: []portWrite{cmdWords(0x87, 1, 0), dataWords(0x01020304)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePort{}
			require.NoError(t, tt.run(NewController(p)))
			assert.Equal(t, tt.want, p.writes)
		})
	}
}

func TestController_WriteRegisterRange(t *testing.T) {
	c := NewController(&fakePort{})
	assert.ErrorIs(t, c.WriteRegister(tlp.NumRegisters, 0), pkg.ErrInvalidField)
	assert.ErrorIs(t, c.WriteRegister(-1, 0), pkg.ErrInvalidField)
}

func TestController_PeripheralRead(t *testing.T) {
	tests := []struct {
		name  string
		count uint32
		words uint32
	}{
		{"four", 4, 4},
		{"zero reads one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePort{rx: tlp.WordsToBytes(make([]uint32, tt.words)...)}
			p.rx[0] = 0x5A
			data, err := NewController(p).PeripheralRead(context.Background(), 0x10, tt.count)
			require.NoError(t, err)
			assert.Len(t, data, int(tt.words)*4)
			assert.Equal(t, byte(0x5A), data[0])
			assert.Equal(t, []portWrite{
				cmdWords(0x81, 4, 0),
				dataWords(IDWord, 2, tt.words, 0x10),
				cmdWords(0x83, tt.words, 0),
			}, p.writes)
		})
	}
}

func TestController_PeripheralLimits(t *testing.T) {
	c := NewController(&fakePort{})
	_, err := c.PeripheralRead(context.Background(), 0, tlp.MaxDwordCount+1)
	assert.ErrorIs(t, err, pkg.ErrInvalidField)
	err = c.PeripheralWrite(context.Background(), 0, make([]byte, (tlp.MaxDwordCount+1)*4))
	assert.ErrorIs(t, err, pkg.ErrInvalidField)
}

func TestController_ShortRead(t *testing.T) {
	p := &fakePort{rx: []byte{1, 2, 3, 4, 5}}
	data, err := NewController(p).DMARead(context.Background(), 2)
	assert.ErrorIs(t, err, pkg.ErrShortRead)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	assert.Len(t, data, 5)
}

func TestController_ReadConfig(t *testing.T) {
	var want tlp.StatusView
	want[tlp.RegBufferSize] = 0x400
	want.SetStatus(tlp.StatusReady, true)

	p := &fakePort{rx: want.Bytes()}
	c := NewController(p)
	got, err := c.ReadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, cmdWords(0x8A, uint32(tlp.NumRegisters), 0), p.writes[0])

	require.NoError(t, c.Close())
	assert.True(t, p.closed)
}
