package logging

import (
	"bytes"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service logger. The local environment gets a
// human-readable console logger; every other environment logs JSON.
func NewLogger(env, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// JobLog captures everything one job logs so it can be served back to the
// submitter. It is safe for concurrent use.
type JobLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements zapcore.WriteSyncer.
func (l *JobLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// Sync implements zapcore.WriteSyncer.
func (l *JobLog) Sync() error {
	return nil
}

// String returns the captured log text.
func (l *JobLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// NewJobLogger returns a logger that writes to base and, from debug level up,
// into a fresh JobLog.
func NewJobLogger(base *zap.Logger, jobID string) (*zap.Logger, *JobLog) {
	jl := &JobLog{}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "time"
	jobCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), jl, zapcore.DebugLevel)

	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, jobCore)
	})).With(zap.String("job_id", jobID))

	return logger, jl
}
