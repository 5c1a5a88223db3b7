package pcie

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/tlp"
)

func linkPair(t *testing.T) (*Link, *Link) {
	t.Helper()
	a, b := net.Pipe()
	la, lb := NewLink(a), NewLink(b)
	t.Cleanup(func() {
		la.Close()
		lb.Close()
	})
	return la, lb
}

func TestLink_SendReceive(t *testing.T) {
	a, b := linkPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w := tlp.NewMemoryWrite(0x02000000, tlp.WordsToBytes(1, 2, 3))
	require.NoError(t, a.Send(ctx, w))

	p, err := b.Receive(ctx)
	require.NoError(t, err)
	got, ok := p.(*tlp.TransferPacket)
	require.True(t, ok)
	assert.Equal(t, tlp.TypeMemoryWrite, got.Type)
	assert.Equal(t, uint64(0x02000000), got.Address)
	assert.Equal(t, []uint32{1, 2, 3}, got.Words())

	r := tlp.NewMemoryRead(0x04000000, 7)
	c := tlp.NewCompletion(r, 0x0100, tlp.WordsToBytes(9))
	require.NoError(t, b.Send(ctx, c))
	p, err = a.Receive(ctx)
	require.NoError(t, err)
	cpl, ok := p.(*tlp.CompletionPacket)
	require.True(t, ok)
	assert.Equal(t, uint8(7), cpl.Tag)
	assert.Equal(t, []uint32{9}, cpl.Words())
}

func TestLink_SendDoesNotBlock(t *testing.T) {
	a, _ := linkPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The peer never calls Receive; its background receiver absorbs the
	// packets.
	for i := range linkQueueDepth {
		require.NoError(t, a.Send(ctx, tlp.NewMemoryWrite(uint64(i)*4, tlp.WordsToBytes(uint32(i)))))
	}
}

func TestLink_ReceiveTimeout(t *testing.T) {
	a, _ := linkPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestLink_Closed(t *testing.T) {
	a, b := linkPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Close())
	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, pkg.ErrClosed)
	assert.ErrorIs(t, b.Send(ctx, tlp.NewMemoryWrite(0, tlp.WordsToBytes(1))), pkg.ErrClosed)
	assert.NoError(t, b.Close(), "second Close")
}

func TestLink_DropsMalformed(t *testing.T) {
	x, y := net.Pipe()
	a := NewLink(x)
	t.Cleanup(func() {
		a.Close()
		y.Close()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := y.Write([]byte{0xFF, 0x00})
	require.NoError(t, err)
	raw, err := tlp.Generate(tlp.NewMemoryWrite(0x10, tlp.WordsToBytes(5)))
	require.NoError(t, err)
	_, err = y.Write(raw)
	require.NoError(t, err)

	p, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10), p.(*tlp.TransferPacket).Address)
}
