// pkg/logger/logger.go
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Sugared = *zap.SugaredLogger

// New returns a JSON production logger in prod and a console logger
// elsewhere. level overrides the default (info in prod, debug otherwise).
func New(env, level string) Sugared {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(l)
		}
	}
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return z.Sugar().With("service", "bosun")
}
