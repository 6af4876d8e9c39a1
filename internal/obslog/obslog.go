// Package obslog provides the structured logger every driftsync package
// logs through, wrapping *zap.Logger the way the teacher's
// internal/logging package does, with context helpers suited to the
// synchronization domain instead of the teacher's blockchain domain.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps *zap.Logger so driftsync call sites get the domain-specific
// With* helpers below without importing zap directly.
type Logger struct {
	*zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error")
// encoding as either "json" or "console".
func New(level, format string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// Nop returns a Logger that discards everything, the zero-configuration
// default for packages constructed without an explicit logger.
func Nop() *Logger { return &Logger{Logger: zap.NewNop()} }

func (l *Logger) WithPeerID(peerID string) *zap.Logger {
	return l.With(zap.String("peer_id", peerID))
}

func (l *Logger) WithDocID(docID string) *zap.Logger {
	return l.With(zap.String("doc_id", docID))
}

func (l *Logger) WithChannelID(channelID uint64) *zap.Logger {
	return l.With(zap.Uint64("channel_id", channelID))
}

func (l *Logger) WithError(err error) *zap.Logger {
	return l.With(zap.Error(err))
}
