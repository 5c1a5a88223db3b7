// Package pcie implements the host side of the board's PCI Express
// transport.
//
// Two layers are provided. [Controller] speaks the command protocol of the
// PCIe character device driver: register and command words are written in
// command mode, peripheral packets and DMA data in data mode.
//
//	dev, err := linux.Open(linux.DefaultPath)
//	if err != nil {
//		return err
//	}
//	c := pcie.NewController(dev)
//	defer c.Close()
//	data, err := c.PeripheralRead(ctx, 0x01000000, 4)
//
// [Exchange] works one level lower, on a [Link] that carries raw TLPs. It
// programs the status and ping-pong buffer addresses, issues commands, and
// runs the buffer exchange described by the device's status packets:
//
//	x := pcie.NewExchange(pcie.NewLink(conn), pcie.ExchangeConfig{BufferSize: 0x200})
//	if err := x.Configure(ctx); err != nil {
//		return err
//	}
//	t, err := x.Read(ctx, pcie.CmdDMARead, 0, 0x300)
//
// [Core] drives the PCIe core's own register block through any
// [RegisterAccessor], such as the USB command engine.
package pcie
