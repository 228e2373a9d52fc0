// Package pkg provides shared utilities for the duckbridge controller and
// satellite.
//
// This package contains common functionality used by both sides of the
// bridge, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for link and storage failures
//   - Component identifiers for log filtering
//   - Drop counters that make silently degraded transactions observable
//
// # Logging
//
// The logging subsystem wraps [log/slog] with bridge-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentController, "script opened", "lines", 12)
//
// # Errors
//
// Common link errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrBadSentinel) {
//	    // Drop the packet
//	}
//
// # Counters
//
// Invalid packets, malformed DELAY arguments and lost keystrokes never
// surface as errors to the user. They are tallied in [Counters] instead:
//
//	var c pkg.Counters
//	c.DroppedPackets.Add(1)
//	snap := c.Snapshot()
package pkg
