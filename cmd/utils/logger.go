package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.SugaredLogger

func InitLogger(logLevel string) {
	config := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	config.Level.SetLevel(level)
	base, _ := config.Build()
	Logger = base.Sugar()
}

func init() {
	// Replaced by InitLogger in main; keeps test logging usable.
	Logger = zap.NewNop().Sugar()
}
