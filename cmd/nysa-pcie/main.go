// Command nysa-pcie exercises a board through the PCIe character device.
//
// With --send it writes count words of a counting byte pattern, with
// --receive it reads count words back, either over the peripheral bus at
// --address or, with --dma, over the DMA channel:
//
//	nysa-pcie --reset
//	nysa-pcie -s -r -c 4 -a 0x01000000
//	nysa-pcie --dma -s -c 256
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/artemis/host/hal/linux"
	"github.com/ardnew/artemis/internal/cli"
	"github.com/ardnew/artemis/pcie"
	"github.com/ardnew/artemis/pkg"
)

type options struct {
	device  string
	address string
	count   uint32
	send    bool
	receive bool
	reset   bool
	dma     bool
	log     *cli.LogFlags
}

func main() {
	if err := cli.LoadEnv(); err != nil {
		pkg.LogWarn(pkg.ComponentCLI, "env", "error", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "nysa-pcie",
		Short:        "Send and receive data over the board's PCIe interface.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.log.Apply()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.device, "device", cli.Env("NYSA_PCIE_DEVICE", linux.DefaultPath), "PCIe character device")
	f.StringVarP(&opts.address, "address", "a", "0x01000000", "peripheral bus address")
	f.Uint32VarP(&opts.count, "count", "c", 1, "number of 32-bit words")
	f.BoolVarP(&opts.send, "send", "s", false, "write count words of test data")
	f.BoolVarP(&opts.receive, "receive", "r", false, "read count words")
	f.BoolVar(&opts.reset, "reset", false, "reset the board first")
	f.BoolVar(&opts.dma, "dma", false, "use the DMA channel instead of the peripheral bus")
	opts.log = cli.AddLogFlags(cmd)
	return cmd
}

// pattern returns count words of bytes counting up from 0.
func pattern(count uint32) []byte {
	data := make([]byte, 4*count)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func run(cmd *cobra.Command, opts *options) error {
	addr, err := cli.ParseUint(opts.address, 32)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	ctx, cancel := cli.Context(cmd.Context())
	defer cancel()

	dev, err := linux.Open(opts.device)
	if err != nil {
		return err
	}
	c := pcie.NewController(dev)
	defer c.Close()

	if opts.reset {
		pkg.LogInfo(pkg.ComponentCLI, "reset", "device", opts.device)
		if err := c.Reset(); err != nil {
			return err
		}
	}
	if opts.send {
		if err := send(ctx, c, opts, uint32(addr)); err != nil {
			return err
		}
	}
	if opts.receive {
		data, err := receive(ctx, c, opts, uint32(addr))
		if err != nil {
			return err
		}
		return cli.WriteData(cmd.OutOrStdout(), data)
	}
	return nil
}

func send(ctx context.Context, c *pcie.Controller, opts *options, addr uint32) error {
	data := pattern(opts.count)
	pkg.LogInfo(pkg.ComponentCLI, "send", "words", opts.count, "dma", opts.dma)
	if opts.dma {
		return c.DMAWrite(ctx, data)
	}
	return c.PeripheralWrite(ctx, addr, data)
}

func receive(ctx context.Context, c *pcie.Controller, opts *options, addr uint32) ([]byte, error) {
	pkg.LogInfo(pkg.ComponentCLI, "receive", "words", opts.count, "dma", opts.dma)
	if opts.dma {
		return c.DMARead(ctx, opts.count)
	}
	return c.PeripheralRead(ctx, addr, opts.count)
}
