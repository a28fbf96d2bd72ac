package logging

import (
	"strings"

	"github.com/stream-pools/poolsync/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Every line carries the service name and, when
// POOLSYNC_ENV is set, the environment.
func New(service string) (*zap.Logger, error) {
	return NewTo(service, "stdout")
}

// NewTo is New writing to output instead of stdout.
func NewTo(service, output string) (*zap.Logger, error) {
	level := utils.Env("LOG_LEVEL", "debug")
	encoding := utils.Env("LOG_ENCODING", "json")
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fields := map[string]interface{}{}
	if service = strings.TrimSpace(service); service != "" {
		fields["service"] = service
	}
	if env := utils.Env("POOLSYNC_ENV", ""); env != "" {
		fields["env"] = env
	}
	cfg.InitialFields = fields

	return cfg.Build()
}
