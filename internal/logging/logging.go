package logging

import (
	"aster-hedge-bot/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the engine logger. Unknown or empty levels fall back to info,
// and a build failure yields a no-op logger so startup never depends on
// logging configuration.
func New(cfg config.LoggingConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
