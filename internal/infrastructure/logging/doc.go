// Package logging provides structured logging for the OBLOQ bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Attributes named password, key, token or secret are masked
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting bridge", "serial", cfg.Serial.URL)
//	logger.Error("failed to open port", "error", err)
//
// Frames written to the module are logged after obloq.RedactFrame, so the
// Adafruit IO key and Wi-Fi password never reach the log.
package logging
