// Package logging builds the slog loggers used across the tailgate service.
//
// Every entry carries service and version attributes. Components add their
// own name with Component:
//
//	logger := logging.New(cfg.Logging, version)
//	log := logger.Component("orchestrator")
//	log.Info("sequence started", "scenario", id)
//
// The logging section of tailgate.yaml selects level (debug, info, warn,
// error), format (json or text) and output (stdout or stderr).
//
// Attributes whose key names a secret (password, token, secret, api_key)
// are written as "[redacted]" whatever the caller passes.
package logging
