package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// GetLogger returns the process zap.Logger, built once on first use.
// LOG_FORMAT=json switches to the production encoder, LOG_LEVEL sets the minimum level.
func GetLogger() *zap.Logger {
	once.Do(func() {
		var err error
		logger, err = build(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
		if err != nil {
			panic("failed logger setup : " + err.Error())
		}
	})
	return logger
}

func build(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
