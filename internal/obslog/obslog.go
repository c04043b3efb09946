// Package obslog builds the structured loggers internal/notaryd and
// pkg/notaryapi use. Grounded on the teacher's util.NewLogger /
// util.NewLoggerWithFile (zap production config with an ISO8601 time
// encoder, optionally teed to a file).
package obslog

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON-encoded, info-level production logger writing to
// stderr.
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewWithFile builds a logger that tees JSON records to both stdout and
// logPath, creating logPath's parent directory if needed.
func NewWithFile(logPath string) (*zap.Logger, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewJSONEncoder(encoderCfg)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.InfoLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(file), zap.InfoLevel),
	)

	return zap.New(core), nil
}

// Fields below are thin zap.Field helpers so call sites across the
// notary core tag records with the same keys.

// NymID tags a log record with a hex-encoded Nym identifier.
func NymID(hex string) zap.Field { return zap.String("nym_id", hex) }

// NotaryID tags a log record with a hex-encoded Notary identifier.
func NotaryID(hex string) zap.Field { return zap.String("notary_id", hex) }

// Command tags a log record with the wire command name being handled.
func Command(cmd string) zap.Field { return zap.String("command", cmd) }

// ErrKind tags a log record with a closed errs.Kind value.
func ErrKind(kind string) zap.Field { return zap.String("err_kind", kind) }
