// Package logging builds the zap loggers used across live-detect.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and output encoding.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Empty means "info".
	Level string `json:"level" yaml:"level"`
	// Encoding is "console" or "json". Empty means "console".
	Encoding string `json:"encoding" yaml:"encoding"`
	// OutputPaths overrides where logs are written; defaults to stdout.
	OutputPaths []string `json:"outputPaths" yaml:"outputPaths"`
}

// DefaultConfig returns an info-level console configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "console"}
}

// Validate checks the level and encoding names.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch c.Encoding {
	case "", "console", "json":
		return nil
	default:
		return errors.Errorf("unknown log encoding %q", c.Encoding)
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return 0, errors.Wrapf(err, "unknown log level %q", s)
	}
	return level, nil
}

// NewZapConfig returns the zap configuration for c: ISO8601 timestamps, capitalized
// levels, short callers and no stacktraces. Console output colors the level.
func NewZapConfig(c Config) (zap.Config, error) {
	if err := c.Validate(); err != nil {
		return zap.Config{}, err
	}
	level, _ := parseLevel(c.Level)

	encoding := c.Encoding
	encodeLevel := zapcore.CapitalColorLevelEncoder
	switch encoding {
	case "":
		encoding = "console"
	case "json":
		encodeLevel = zapcore.CapitalLevelEncoder
	}

	outputs := c.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}, nil
}

// NewLogger builds a logger from c.
//
// Arguments:
//   - c: The level, encoding and outputs.
//
// Returns:
//   - *zap.Logger: The logger. Callers should Sync it before exiting.
//   - error: An error if c is invalid or an output cannot be opened.
func NewLogger(c Config) (*zap.Logger, error) {
	zc, err := NewZapConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger, nil
}
