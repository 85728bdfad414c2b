// Package logging provides structured logging for keygate.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 3000)
//	logger.Error("failed to open database", "error", err)
//
// # Security
//
// Never log credentials, passwords, content keys or plaintext payloads.
// Identify sessions by their id, never by the bearer token.
package logging
