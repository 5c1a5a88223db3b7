// Package tlp encodes and decodes the PCI Express Transaction Layer Packets
// used by the board's PCIe transport.
//
// The codec handles the three variants the board protocol needs:
//
//   - [TypeMemoryRead] and [TypeMemoryWrite] as [TransferPacket]
//   - [TypeCompletionData] as [CompletionPacket]
//
// [Parse] dispatches on the format/type byte and rejects every other type
// with [pkg.ErrUnknownPacketType]. [EncodeType] and [DecodeType] cover the
// full format/type table so that diagnostics can name any packet seen on
// the link.
//
// # Status packets
//
// The device reports the state of the ping-pong buffer exchange by writing
// a fixed register file to a well-known host address. [IsStatusPacket]
// recognizes such writes and [ParseStatus] exposes the registers and the
// device_status bit field as a [StatusView].
package tlp
