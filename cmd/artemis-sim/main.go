// Command artemis-sim runs a simulated board on a FIFO bus directory.
//
// The board answers the USB command protocol through named pipes below
// --bus, where the artemis tool finds it with --bus. With --pcie-socket it
// also serves the PCIe ping-pong exchange on a unixpacket socket; both
// transports share the board's memory.
//
//	artemis-sim --bus /tmp/artemis-bus --serial sim0 --interrupt-every 1s
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/artemis/device"
	"github.com/ardnew/artemis/device/hal/fifo"
	"github.com/ardnew/artemis/internal/cli"
	"github.com/ardnew/artemis/pcie"
	"github.com/ardnew/artemis/pkg"
	"github.com/ardnew/artemis/pkg/prof"
)

type options struct {
	bus      string
	serial   string
	latency  time.Duration
	every    time.Duration
	mask     string
	socket   string
	maxWords int
	stats    time.Duration
	log      *cli.LogFlags
	prof     *cli.ProfileFlags
}

func main() {
	if err := cli.LoadEnv(); err != nil {
		pkg.LogWarn(pkg.ComponentCLI, "env", "error", err)
	}
	code := 0
	if err := newRootCmd().Execute(); err != nil {
		code = 1
	}
	atexit.Exit(code)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "artemis-sim",
		Short:        "Run a simulated board.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.log.Apply(); err != nil {
				return err
			}
			return opts.prof.Start()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer opts.prof.Stop()
			ctx, cancel := cli.Context(cmd.Context())
			defer cancel()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.bus, "bus", cli.Env("ARTEMIS_BUS", "/tmp/artemis-bus"), "bus directory")
	f.StringVar(&opts.serial, "serial", cli.Env("ARTEMIS_SERIAL", ""), "board serial (random if empty)")
	f.DurationVar(&opts.latency, "latency", 0, "delay before every response")
	f.DurationVar(&opts.every, "interrupt-every", 0, "raise an interrupt this often (0 disables)")
	f.StringVar(&opts.mask, "interrupt-mask", "0x1", "interrupt source bitmap to raise")
	f.StringVar(&opts.socket, "pcie-socket", "", "serve PCIe on this unixpacket socket")
	f.IntVar(&opts.maxWords, "max-payload", device.DefaultMaxPayload, "dwords per PCIe memory write")
	f.DurationVar(&opts.stats, "stats-every", 0, "log board and process statistics this often (0 disables)")
	opts.log = cli.AddLogFlags(cmd)
	opts.prof = cli.AddProfileFlags(cmd)
	return cmd
}

func run(ctx context.Context, opts *options) error {
	mask, err := cli.ParseUint(opts.mask, 32)
	if err != nil {
		return fmt.Errorf("interrupt mask: %w", err)
	}

	ep, err := fifo.Create(opts.bus, opts.serial)
	if err != nil {
		return err
	}
	atexit.Register(func() {
		if err := ep.Remove(); err != nil {
			pkg.LogWarn(pkg.ComponentCLI, "remove board", "dir", ep.Dir(), "error", err)
		}
	})

	board := device.NewBoard(ep, device.BoardConfig{Serial: ep.Serial(), Latency: opts.latency})
	pkg.LogInfo(pkg.ComponentCLI, "board attached", "serial", ep.Serial(), "dir", ep.Dir())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return board.Serve(ctx) })
	g.Go(func() error { return board.WatchReset(ctx, ep) })
	if opts.every > 0 && mask != 0 {
		g.Go(func() error { return interrupts(ctx, board, opts.every, uint32(mask)) })
	}
	if opts.stats > 0 {
		g.Go(func() error { return stats(ctx, board, opts.stats) })
	}
	if opts.socket != "" {
		g.Go(func() error {
			return servePCIe(ctx, opts.socket, board.Memory(), device.PingPongConfig{MaxPayload: opts.maxWords})
		})
	}
	return g.Wait()
}

func interrupts(ctx context.Context, board *device.Board, every time.Duration, mask uint32) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if board.InReset() {
				continue
			}
			if err := board.RaiseInterrupt(mask); err != nil {
				return err
			}
		}
	}
}

func stats(ctx context.Context, board *device.Board, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u, err := prof.ReadUsage()
			if err != nil {
				pkg.LogWarn(pkg.ComponentCLI, "usage", "error", err)
				continue
			}
			pkg.LogInfo(pkg.ComponentCLI, "stats",
				"frames", board.Frames(),
				"resets", board.Resets(),
				"words", board.Memory().Len(),
				"cpu_percent", fmt.Sprintf("%.1f", u.CPUPercent),
				"rss", u.RSS,
				"goroutines", u.Goroutines)
		}
	}
}

// servePCIe accepts PCIe links on a unixpacket socket, one exchange per
// connection.
func servePCIe(ctx context.Context, path string, mem *device.Memory, cfg device.PingPongConfig) error {
	os.Remove(path)
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unixpacket", path)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer os.Remove(path)
	pkg.LogInfo(pkg.ComponentCLI, "pcie listening", "socket", path)

	g, gctx := errgroup.WithContext(ctx)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return g.Wait()
			}
			l.Close()
			return errors.Join(err, g.Wait())
		}
		pkg.LogInfo(pkg.ComponentCLI, "pcie connected", "remote", conn.RemoteAddr())
		g.Go(func() error {
			link := pcie.NewLink(conn)
			defer link.Close()
			return device.NewPingPong(link, mem, cfg).Serve(gctx)
		})
	}
}
