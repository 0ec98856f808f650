package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// activeLogger is the logger in use, replaced once the configured level
// is known
type activeLogger struct {
	*zap.Logger
}

// replace flushes the current logger and switches to l
func (a *activeLogger) replace(l *zap.Logger) {
	_ = a.Logger.Sync()
	a.Logger = l
}

func (a *activeLogger) sync() {
	_ = a.Logger.Sync()
}
