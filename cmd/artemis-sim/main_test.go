package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/artemis/device"
	"github.com/ardnew/artemis/pcie"
)

func TestServePCIe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcie.sock")
	mem := device.NewMemory()
	mem.Store(0x10, 0xCAFEF00D)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- servePCIe(ctx, path, mem, device.PingPongConfig{}) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("unixpacket", path)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)

	x := pcie.NewExchange(pcie.NewLink(conn), pcie.ExchangeConfig{BufferSize: 0x40})
	opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
	defer opCancel()
	require.NoError(t, x.Configure(opCtx))

	tr, err := x.Read(opCtx, pcie.CmdMemoryRead, 0x10, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0xCA, 0xFE, 0xF0, 0x0D}, tr.Data)

	conn.Close()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("servePCIe did not return")
	}
}
