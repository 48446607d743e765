package logger

import (
	"os"

	"binance-grid-bot-go/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new zap.Logger instance based on the provided configuration.
// When a file is configured, entries are also written to a rotating log file.
func NewLogger(cfg config.Logger) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(logLevel)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.File == "" {
		return zcfg.Build()
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(zcfg.EncoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(zcfg.EncoderConfig)
	}

	// File output never carries color codes.
	fileEncoderCfg := zcfg.EncoderConfig
	fileEncoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zcfg.Level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), rotating, zcfg.Level),
	)
	return zap.New(core, zap.AddCaller()), nil
}
