// Package logging provides structured logging for Hearthwatch Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// All log output carries service and version attributes; component
// packages derive scoped loggers via With:
//
//	log := logging.New(cfg.Logging, version)
//	bridgeLog := log.With("component", "bridge")
//
// Format and level are controlled by the logging section of config.yaml.
package logging
