// Package logging provides structured logging for the EcoZone auth service.
//
// It wraps log/slog with JSON output for production, text output for
// development, and default service/version fields on every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log passwords, tokens, password hashes or signing secrets.
// Token hashes and session IDs are safe to log.
package logging
