// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Example:
//
//	logger := logging.NewDefault()
//	logger.Info("engine starting", zap.String("state_dir", dir))
//	logger.Error("filter refresh failed", zap.Error(err))
package logging
