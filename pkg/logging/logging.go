// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"github.com/blendle/zapdriver"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New
type Options struct {
	// Dev selects colored console output at debug level
	Dev bool
	// File redirects log output away from the terminal. Empty means stderr
	// in dev mode and stdout otherwise.
	File string
	// Service tags production entries with a service context
	Service string
}

// New builds a logger
func New(opts Options) (*zap.Logger, error) {
	if opts.Dev {
		out := lo.CoalesceOrEmpty(opts.File, "stderr")
		cfg := zap.Config{
			Level:       zap.NewAtomicLevelAt(zap.DebugLevel),
			Development: true,
			Encoding:    "console",
			EncoderConfig: zapcore.EncoderConfig{
				TimeKey:        "T",
				LevelKey:       "L",
				NameKey:        "N",
				CallerKey:      "C",
				MessageKey:     "M",
				StacktraceKey:  "S",
				LineEnding:     zapcore.DefaultLineEnding,
				EncodeLevel:    levelEncoder(opts.File),
				EncodeTime:     zapcore.ISO8601TimeEncoder,
				EncodeDuration: zapcore.StringDurationEncoder,
				EncodeCaller:   zapcore.ShortCallerEncoder,
			},
			OutputPaths:      []string{out},
			ErrorOutputPaths: []string{out},
		}
		return cfg.Build()
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.InfoLevel),
		Encoding:         "json",
		EncoderConfig:    zapdriver.NewProductionEncoderConfig(),
		OutputPaths:      []string{lo.CoalesceOrEmpty(opts.File, "stdout")},
		ErrorOutputPaths: []string{lo.CoalesceOrEmpty(opts.File, "stderr")},
	}
	if opts.Service == "" {
		return cfg.Build()
	}
	return cfg.Build(zapdriver.WrapCore(zapdriver.ServiceName(opts.Service)))
}

// no color escapes in files
func levelEncoder(file string) zapcore.LevelEncoder {
	if file != "" {
		return zapcore.CapitalLevelEncoder
	}
	return zapcore.CapitalColorLevelEncoder
}
