// Package logging provides structured logging utilities for cnsinit.
//
// # Overview
//
// This package wraps the standard library slog package with defaults for a
// boot-time process: JSON to stderr (the journal captures it under systemd),
// environment-based level configuration and module/version context injection.
//
// # Features
//
//   - Structured JSON logging to stderr
//   - Environment-based log level configuration (LOG_LEVEL)
//   - Automatic module and version context
//   - Source location tracking for debug logs
//   - Integration with standard library log package
//
// # Log Levels
//
// Supported log levels (case-insensitive):
//   - DEBUG: Detailed diagnostic information with source location
//   - INFO: General informational messages (default)
//   - WARN/WARNING: Warning messages for potentially problematic situations
//   - ERROR: Error messages for failures requiring attention
//
// # Usage
//
//	func main() {
//	    logging.SetDefaultStructuredLogger("cnsinit", version)
//	    slog.Info("resolving datasource", "event_id", id)
//	}
//
// Explicit level, as used by the CLI --debug flag:
//
//	logging.SetDefaultStructuredLoggerWithLevel("cnsinit", version, "debug")
//
// # Conventions
//
// Components attach their identity with well-known keys so a single boot
// event can be followed in the journal:
//
//	slog.Info("module applied",
//	    "stage", "final",
//	    "module", "runcmd",
//	    "instance_id", id,
//	    "changed", true,
//	)
package logging
