package logger

import (
	"strings"

	"ladocoin/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 创建 zap 日志器
// development 环境输出彩色控制台格式，其他环境输出 JSON
func New(cfg *config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	if cfg.Environment == "development" {
		zc := zap.NewDevelopmentConfig()
		zc.Level = level
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zc.Build()
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build(zap.Fields(zap.String("service", "ladocoin-ledger")))
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
