package gagspeak

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Project-GagSpeak/gagspeak-client/internal/config"
)

// NewLogger builds the client's logger from config. Dev mode switches to
// the human-readable console encoder.
func NewLogger(cfg config.Logging) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
