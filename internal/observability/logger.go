package observability

import (
	"context"
	"strings"

	"github.com/railzwaylabs/pricing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the root logger. The returned level is shared with the
// config watcher so log verbosity can change without a restart.
func NewLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.App.LogLevel))

	zcfg := zap.NewProductionConfig()
	if cfg.App.IsDev() {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = level
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.Fields(zap.String("service", cfg.App.Name)))
	if err != nil {
		return nil, level, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, level, nil
}

func parseLevel(raw string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func watchLogLevel(src *config.Source, level zap.AtomicLevel, log *zap.Logger) {
	src.OnChange(func(cfg config.Config) {
		next := parseLevel(cfg.App.LogLevel)
		if next == level.Level() {
			return
		}
		level.SetLevel(next)
		log.Info("log level changed", zap.String("level", next.String()))
	})
}
