// Package ftdi provides the USB transport of an Artemis board.
//
// The board's FT2232H exposes two channels. Channel A runs in synchronous
// FIFO mode and carries command frames; channel B runs in bit-bang mode and
// drives the FPGA's reset pin and samples its DONE pin. Both are reached
// through libusb using github.com/google/gousb.
//
// Every bulk IN packet from the chip starts with two modem status bytes,
// and the chip sends status-only packets every latency period while idle.
// [Transport] strips them so that the host package sees a plain byte stream.
//
// # Usage
//
//	o := ftdi.NewOpener(ftdi.DefaultVendor, ftdi.DefaultProduct)
//	defer o.Close()
//
//	m := host.NewManager(o, host.DefaultConfig())
//	defer m.Close()
//
//	e, err := m.Open(ctx, serial)
package ftdi
