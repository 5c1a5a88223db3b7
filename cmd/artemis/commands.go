package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/artemis/host"
	"github.com/ardnew/artemis/host/hal/ftdi"
	"github.com/ardnew/artemis/host/hal/ftdi/usbid"
	"github.com/ardnew/artemis/internal/cli"
)

func newScanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List attached boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.Context(cmd.Context())
			defer cancel()

			op, err := opts.opener()
			if err != nil {
				return err
			}
			defer op.Close()

			ids, err := host.NewManager(op, host.Config{}).Scan(ctx)
			if err != nil {
				return err
			}
			names := usbid.Load()
			names.Set(ftdi.DefaultVendor, ftdi.DefaultProduct, "FPGA board")
			for _, id := range ids {
				if id.Vendor == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), id)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, names.Describe(id.Vendor, id.Product))
			}
			return nil
		},
	}
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the board answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, false, func(ctx context.Context, e *host.Engine) error {
				start := time.Now()
				if err := e.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong in %v\n", time.Since(start).Round(time.Microsecond))
				return nil
			})
		},
	}
}

func newReadCmd(opts *options) *cobra.Command {
	var noinc bool
	cmd := &cobra.Command{
		Use:   "read ADDR [WORDS]",
		Short: "Read words from the board",
		Long: "Read WORDS 32-bit words (default 1) starting at ADDR. Addresses at or " +
			"above 0x100000000 are in memory space.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cli.ParseUint(args[0], 64)
			if err != nil {
				return err
			}
			words := uint64(1)
			if len(args) > 1 {
				if words, err = cli.ParseUint(args[1], 32); err != nil {
					return err
				}
			}
			return opts.withEngine(cmd, false, func(ctx context.Context, e *host.Engine) error {
				data, err := e.Read(ctx, addr, uint32(words), noinc)
				if err != nil {
					return err
				}
				return cli.WriteData(cmd.OutOrStdout(), data)
			})
		},
	}
	cmd.Flags().BoolVar(&noinc, "noinc", false, "read every word from ADDR")
	return cmd
}

func newWriteCmd(opts *options) *cobra.Command {
	var noinc bool
	cmd := &cobra.Command{
		Use:   "write ADDR HEX",
		Short: "Write hex data to the board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cli.ParseUint(args[0], 64)
			if err != nil {
				return err
			}
			data, err := cli.ParseHex(args[1])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, false, func(ctx context.Context, e *host.Engine) error {
				return e.Write(ctx, addr, data, noinc)
			})
		},
	}
	cmd.Flags().BoolVar(&noinc, "noinc", false, "write every word to ADDR")
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Pulse the board's reset line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, false, func(ctx context.Context, e *host.Engine) error {
				return e.Reset(ctx)
			})
		},
	}
}

func newDumpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the board's core dump",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, false, func(ctx context.Context, e *host.Engine) error {
				words, err := e.DumpCore(ctx)
				if err != nil {
					return err
				}
				for i, w := range words {
					fmt.Fprintf(cmd.OutOrStdout(), "%4d: 0x%08X\n", i, w)
				}
				return nil
			})
		},
	}
}

func newProgrammedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "programmed",
		Short: "Report whether the FPGA is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, false, func(ctx context.Context, e *host.Engine) error {
				ok, err := e.IsProgrammed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
}

func newWaitCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait SOURCE",
		Short: "Wait for an interrupt from SOURCE",
		Long:  "Wait for an interrupt from SOURCE (0 to 31) and exit non-zero on timeout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := cli.ParseUint(args[0], 8)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, true, func(ctx context.Context, e *host.Engine) error {
				ok, err := e.WaitForInterrupts(timeout, int(source))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no interrupt from source %d within %v", source, timeout)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "interrupt 0x%08X\n", e.Interrupts())
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait")
	return cmd
}
