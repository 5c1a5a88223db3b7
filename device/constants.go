package device

import "github.com/ardnew/artemis/pcie"

// Core dump layout. The simulated board dumps a fixed header followed by
// its counters.
const (
	// DumpMagic is the first word of every core dump.
	DumpMagic = 0xC0DED00D

	// DumpWords is the number of words in a core dump.
	DumpWords = 5
)

// PCIe simulation defaults.
const (
	// DefaultMaxPayload is the number of dwords the device packs into each
	// memory write.
	DefaultMaxPayload = pcie.MaxPacketSize

	// DefaultRequesterID identifies the device in the requests it issues.
	DefaultRequesterID = 0x0100
)
