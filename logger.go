package durable

import "context"

type Logger interface {
	// Debug will be used by the engine for debug logs when in debug mode.
	Debug(ctx context.Context, msg string, meta MKV)
	// Error is used when writing errors to the logs.
	Error(ctx context.Context, err error)
}

// MKV is a multiple key value store for the logger to format into its output.
// It is an alias so that adapters outside this package can satisfy Logger
// without importing it.
type MKV = map[string]string

// logger wraps the user provided Logger and gates debug output on the engine's
// debug mode, and additionally suppresses replay-safe log calls while an
// orchestration is replaying already recorded decisions so that log output is
// not duplicated on every activation.
type logger struct {
	inner     Logger
	debugMode bool
}

func (l *logger) Debug(ctx context.Context, msg string, meta MKV) {
	if !l.debugMode {
		return
	}

	l.inner.Debug(ctx, msg, meta)
}

func (l *logger) Error(ctx context.Context, err error) {
	l.inner.Error(ctx, err)
}
