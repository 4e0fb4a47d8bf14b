// Package logging builds the process logger and sanitizes values before they
// reach it.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the root logger for the given environment. Production
// environments get JSON output at INFO; everything else gets console output
// at DEBUG.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "production", "staging":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
