// Package logging builds the process-wide zap logger shared by the CLI
// commands and the admin server.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for the given mode. Development mode logs a colored
// console stream for running cycles by hand; production logs JSON with ISO
// 8601 timestamps and a service field so tracker lines are routable next to
// the couriers' own noise.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		// cycles log one line per shipment; sampling would drop the very
		// rows an operator greps for after a bad run.
		cfg.Sampling = nil
		cfg.InitialFields = map[string]any{"service": "logistics-tracker"}
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode(development), err)
	}
	return logger, nil
}

func mode(development bool) string {
	if development {
		return "development"
	}
	return "production"
}
