// Package logging provides MediaGit's structured logger: a thin,
// nil-safe wrapper over zap with field helpers for the identifiers this
// codebase logs constantly (object IDs, ref names, byte counts, codec
// choices) so call sites don't repeat zap.String/zap.Uint64 boilerplate.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mediagit/mediagit/oid"
)

// Logger wraps *zap.Logger; the zero value is usable and discards
// everything, so components can take a Logger by value without a nil
// check at every call site.
type Logger struct {
	z *zap.Logger
}

// Format selects the log encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatConsole
)

// New builds a Logger at level, encoding as Format. An unparseable level
// falls back to info.
func New(level string, format Format) (Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == FormatConsole {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build()
	if err != nil {
		return Logger{}, err
	}
	return Logger{z: z}, nil
}

// Noop returns a Logger that discards everything, for tests and callers
// that haven't wired configuration yet.
func Noop() Logger { return Logger{z: zap.NewNop()} }

func (l Logger) core() *zap.Logger {
	if l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func (l Logger) Debug(msg string, fields ...zap.Field) { l.core().Debug(msg, fields...) }
func (l Logger) Info(msg string, fields ...zap.Field)  { l.core().Info(msg, fields...) }
func (l Logger) Warn(msg string, fields ...zap.Field)  { l.core().Warn(msg, fields...) }
func (l Logger) Error(msg string, fields ...zap.Field) { l.core().Error(msg, fields...) }

// With returns a Logger that always includes fields.
func (l Logger) With(fields ...zap.Field) Logger {
	return Logger{z: l.core().With(fields...)}
}

// Sync flushes any buffered log entries.
func (l Logger) Sync() error { return l.core().Sync() }

// OID formats an object ID for a log field.
func OID(key string, id oid.OID) zap.Field { return zap.String(key, id.String()) }

// Ref formats a ref name for a log field.
func Ref(key, name string) zap.Field { return zap.String(key, name) }

// Bytes formats a byte count for a log field.
func Bytes(key string, n int) zap.Field { return zap.Int(key, n) }

// Codec formats a compression/delta codec choice for a log field.
func Codec(key, name string) zap.Field { return zap.String(key, name) }
