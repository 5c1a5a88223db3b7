package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/artemis/host"
	"github.com/ardnew/artemis/host/hal/fifo"
	"github.com/ardnew/artemis/host/hal/ftdi"
	"github.com/ardnew/artemis/internal/cli"
	"github.com/ardnew/artemis/pkg"
)

type options struct {
	vendor  string
	product string
	serial  string
	bus     string
	log     *cli.LogFlags
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "artemis",
		Short:         "Talk to an FPGA board over its USB command interface.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.log.Apply()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.vendor, "vid", cli.Env("ARTEMIS_VID", fmt.Sprintf("0x%04X", ftdi.DefaultVendor)), "USB vendor ID")
	flags.StringVar(&opts.product, "pid", cli.Env("ARTEMIS_PID", fmt.Sprintf("0x%04X", ftdi.DefaultProduct)), "USB product ID")
	flags.StringVar(&opts.serial, "serial", cli.Env("ARTEMIS_SERIAL", ""), "board serial number (first board if empty)")
	flags.StringVar(&opts.bus, "bus", cli.Env("ARTEMIS_BUS", ""), "simulator bus directory instead of USB")
	opts.log = cli.AddLogFlags(cmd)

	cmd.AddCommand(
		newScanCmd(opts),
		newPingCmd(opts),
		newReadCmd(opts),
		newWriteCmd(opts),
		newResetCmd(opts),
		newDumpCmd(opts),
		newProgrammedCmd(opts),
		newWaitCmd(opts),
	)
	return cmd
}

// opener is a host.Opener that may hold a USB context.
type opener interface {
	host.Opener
	Close() error
}

type busOpener struct{ *fifo.Opener }

func (busOpener) Close() error { return nil }

func (o *options) opener() (opener, error) {
	if o.bus != "" {
		return busOpener{fifo.NewOpener(o.bus)}, nil
	}
	vid, err := cli.ParseUint(o.vendor, 16)
	if err != nil {
		return nil, fmt.Errorf("vid: %w", err)
	}
	pid, err := cli.ParseUint(o.product, 16)
	if err != nil {
		return nil, fmt.Errorf("pid: %w", err)
	}
	return ftdi.NewOpener(uint16(vid), uint16(pid)), nil
}

// withEngine opens the selected board, runs fn and releases the board.
// Interrupt dispatch is only started when interrupts is set.
func (o *options) withEngine(cmd *cobra.Command, interrupts bool, fn func(context.Context, *host.Engine) error) error {
	ctx, cancel := cli.Context(cmd.Context())
	defer cancel()

	op, err := o.opener()
	if err != nil {
		return err
	}
	defer op.Close()

	m := host.NewManager(op, host.Config{DisableInterrupts: !interrupts})
	defer m.Close()

	e, err := m.Open(ctx, o.serial)
	if err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentCLI, "board open", "engine", e)
	return fn(ctx, e)
}
