package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zayaclinic/backoffice/internal/config"
)

const serviceName = "backoffice"

// New builds a structured zap.Logger from cfg.LogLevel (debug, info, warn,
// error) and cfg.LogFormat (json or console).
func New(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "console") {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.IsDev() {
		zcfg.Development = true
		zcfg.Sampling = nil
	}

	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := zcfg.Build(zap.Fields(
		zap.String("service", serviceName),
		zap.String("env", cfg.Env),
	))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}
