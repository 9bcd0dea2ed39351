// Package logging is the thin slog wrapper every component logs
// through.
//
// The config.yaml logging section picks the level (debug, info, warn,
// error), the format (json for machines, text for humans) and the
// destination (stdout or stderr). Every record carries the service name
// and build version so aggregated logs stay attributable.
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("server listening", "port", 8080)
//
// Never log secrets: no tokens, no passwords, no API keys. Truncate or
// redact anything sensitive before it reaches a log call.
package logging
