package pkg

import (
	"errors"
	"fmt"
)

// Board protocol errors.
var (
	// ErrTimeout indicates no acknowledgement or response arrived within the
	// operation's bound. The engine is idle again when this is returned.
	ErrTimeout = errors.New("operation timed out")

	// ErrShortRead indicates the transport returned fewer bytes than the
	// protocol requires before the deadline. It is always reported wrapped
	// together with [ErrTimeout].
	ErrShortRead = errors.New("short read")

	// ErrProtocolMismatch indicates a response byte pattern that does not
	// match the protocol, such as a wrong acknowledgement byte.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrInvalidField indicates a caller-supplied value outside of its
	// encodable range. It is always returned before any I/O takes place.
	ErrInvalidField = errors.New("invalid field")

	// ErrCoreDumpNotFound indicates the core dump acknowledgement was never
	// observed.
	ErrCoreDumpNotFound = errors.New("core dump response not found")

	// ErrUnknownPacketType indicates a TLP format/type combination that the
	// codec does not handle.
	ErrUnknownPacketType = errors.New("unknown packet type")

	// ErrPacketTooShort indicates a raw TLP buffer shorter than its header.
	ErrPacketTooShort = errors.New("packet too short")
)

// Lifecycle errors.
var (
	// ErrClosed indicates the engine, transport or link was closed.
	ErrClosed = errors.New("closed")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component is not running.
	ErrNotRunning = errors.New("not running")

	// ErrNoDevice indicates no board matched the requested identity.
	ErrNoDevice = errors.New("device not present")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")
)

// ShortRead returns an error that matches both [ErrTimeout] and
// [ErrShortRead], describing how many bytes arrived out of how many were
// expected.
func ShortRead(got, want int) error {
	return fmt.Errorf("%w: %w: got %d of %d bytes", ErrTimeout, ErrShortRead, got, want)
}

// ResponseStatus is the outcome carried by a response envelope.
type ResponseStatus int

// Response status values.
const (
	ResponseOK  ResponseStatus = iota // Command completed
	ResponseErr                       // Command failed
)

// String returns a string representation of the response status.
func (s ResponseStatus) String() string {
	switch s {
	case ResponseOK:
		return "ok"
	case ResponseErr:
		return "error"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the response status.
func (s ResponseStatus) Error() error {
	switch s {
	case ResponseOK:
		return nil
	default:
		return ErrProtocolMismatch
	}
}

// CompletionStatus is the 3-bit status field of a PCIe completion.
type CompletionStatus uint8

// Completion status values.
const (
	CompletionSuccess            CompletionStatus = 0 // Successful completion
	CompletionUnsupportedRequest CompletionStatus = 1 // Unsupported request
	CompletionConfigRetry        CompletionStatus = 2 // Configuration request retry
	CompletionAbort              CompletionStatus = 4 // Completer abort
)

// String returns a string representation of the completion status.
func (s CompletionStatus) String() string {
	switch s {
	case CompletionSuccess:
		return "success"
	case CompletionUnsupportedRequest:
		return "unsupported request"
	case CompletionConfigRetry:
		return "config retry"
	case CompletionAbort:
		return "abort"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(s))
	}
}
