package logger

import (
	"os"
	"path/filepath"

	"github.com/tahahasan7/yalla-server/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. Debug mode uses the zap development
// preset on stderr; otherwise JSON production output, optionally teed
// into a rotating file when cfg.File is set.
func New(cfg config.LogConfig, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	if cfg.File == "" {
		return zap.NewProduction()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zapcore.InfoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}
