// Package logging provides structured logging for EquipWatch Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Redaction of password, token and ticket attributes
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/equipwatch/core.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log raw session tokens or passwords. Attributes with the keys
// password, token, ticket or secret are replaced with [REDACTED] as a last
// line of defence, but callers should log usernames and token hashes instead.
package logging
