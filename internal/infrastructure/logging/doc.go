// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Subsystems take a named *zap.Logger from Component; per-session code uses
// Session so every entry carries the session id.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	feedLog := logger.Session("feed", sessionID)
//	feedLog.Info("model provider ready", zap.Int("children", n))
package logging
