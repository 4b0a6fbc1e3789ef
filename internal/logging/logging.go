// Package logging builds the zap loggers used across mnemo. Log files live
// under <project>/.mnemo/logs/ and rotate by size.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mnemo/internal/config"
)

// New returns a logger writing JSON lines to <project>/.mnemo/logs/<name>.log
// and human-readable warnings to stderr. With debug enabled the file sink
// records debug-level output and stderr mirrors info and above.
func New(projectRoot, name string, cfg config.LoggingConfig) (*zap.Logger, error) {
	logsDir := filepath.Join(config.Dir(projectRoot), "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}

	fileLevel := zapcore.InfoLevel
	consoleLevel := zapcore.WarnLevel
	if cfg.Debug {
		fileLevel = zapcore.DebugLevel
		consoleLevel = zapcore.InfoLevel
	}

	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logsDir, name+".log"),
		MaxSize:    max(cfg.MaxSizeMB, 1),
		MaxBackups: cfg.MaxBackups,
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, fileLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stderr), consoleLevel),
	)
	return zap.New(core), nil
}
