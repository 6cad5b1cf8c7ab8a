// Package logging provides structured logging for homebus binaries.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the controller and the simulators.
//
// # Features
//
//   - JSON or text output
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Rotating file output via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr, file
//	  file:
//	    path: "logs/homebus.log"
//	    max_size: 10     # megabytes
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "homebus", "1.0.0")
//	logger.Info("device added", "id", "4", "kind", "switch")
package logging
