// Package logsink routes zap logs through a multibar Coordinator, so log lines
// are printed above the live progress block instead of through it.
package logsink

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sigman78/multibar"
)

// NewCore returns a core that writes every encoded entry through c's guard.
func NewCore(c *multibar.Coordinator, enc zapcore.Encoder, level zapcore.LevelEnabler) zapcore.Core {
	return zapcore.NewCore(enc, zapcore.AddSync(c.Writer()), level)
}

// EncoderConfig is the console encoder configuration used by NewLogger.
func EncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}

// NewLogger builds a console logger at the named level whose output goes
// through c. The logger is also installed as c's own diagnostics logger.
func NewLogger(c *multibar.Coordinator, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := zap.New(
		NewCore(c, zapcore.NewConsoleEncoder(EncoderConfig()), lvl),
		zap.AddCaller(),
	)
	c.SetLogger(logger.Named("multibar"))
	return logger, nil
}
