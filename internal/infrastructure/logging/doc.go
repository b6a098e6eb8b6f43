// Package logging provides structured logging for the gateway.
//
// It wraps log/slog and stamps every record with the service name and
// build version. JSON is the default format; text is meant for
// development.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	scheduler := ble.NewScheduler(ble.Options{Logger: logger.Component("ble"), ...})
//
// Never log cloud passwords, session tokens or certificate keys.
package logging
