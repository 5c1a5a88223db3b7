// Package pkg provides shared utilities for the artemis board protocol engine.
//
// This package contains common functionality used across the TLP codec, the
// command engine, the transports and the PCIe buffer exchange, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for the board protocol error taxonomy
//   - Component identifiers for log filtering
//   - Response and completion status enumerations
//
// # Logging
//
// The logging subsystem wraps [log/slog] with protocol-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEngine, "ping complete", "req", id)
//
// # Errors
//
// Protocol errors are defined as sentinel values and wrapped with context at
// the call site:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // the board did not answer in time; the engine is idle again
//	}
package pkg
