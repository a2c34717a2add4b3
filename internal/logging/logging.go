// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dreamware/taskrelay/internal/config"
)

// Setup builds a zap.Logger from c, installs it as the global logger and
// redirects the standard library log package into it. The caller should
// defer logger.Sync().
func Setup(c config.LogConfig) (*zap.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	ws, err := writer(c)
	if err != nil {
		return nil, err
	}

	logger := zap.New(zapcore.NewCore(encoder, ws, level),
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

func parseLevel(s string) (zap.AtomicLevel, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel), nil
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel), nil
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zap.WarnLevel), nil
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel), nil
	}
	return zap.AtomicLevel{}, fmt.Errorf("unknown log level %q", s)
}

// writer logs to stderr, or to a rotated file when one is configured.
func writer(c config.LogConfig) (zapcore.WriteSyncer, error) {
	if strings.TrimSpace(c.File) == "" {
		return zapcore.Lock(os.Stderr), nil
	}
	if dir := filepath.Dir(c.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    max(c.MaxSizeMB, 1),
		MaxBackups: max(c.MaxBackups, 0),
		MaxAge:     max(c.MaxAgeDays, 0),
		Compress:   true,
	}), nil
}
