// Package ctxlog carries a structured logger through a context.Context,
// adapted from docker/distribution's internal/dcontext package (logger.go)
// down to the leveled-logging surface the ingest client actually needs.
package ctxlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   = logrus.StandardLogger().WithField("component", "ingest")
	defaultLoggerMu sync.RWMutex
)

// Logger is the leveled-logging interface passed around the module;
// *logrus.Entry and logrus.FieldLogger both satisfy it.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	WithError(err error) *logrus.Entry
	WithField(key string, value any) *logrus.Entry
}

type loggerKey struct{}

// WithLogger returns a context carrying logger, replacing whatever logger
// was previously attached.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// SetDefaultLogger replaces the fallback logger used by contexts that never
// had one attached via WithLogger.
func SetDefaultLogger(logger *logrus.Entry) {
	defaultLoggerMu.Lock()
	defaultLogger = logger
	defaultLoggerMu.Unlock()
}

// FromContext returns the logger attached to ctx, or the package default,
// with the given extra context keys (if present on ctx) added as fields.
func FromContext(ctx context.Context, keys ...any) Logger {
	var base Logger
	if v, ok := ctx.Value(loggerKey{}).(Logger); ok {
		base = v
	} else {
		defaultLoggerMu.RLock()
		base = defaultLogger
		defaultLoggerMu.RUnlock()
	}

	if len(keys) == 0 {
		return base
	}

	fields := logrus.Fields{}
	for _, key := range keys {
		if v := ctx.Value(key); v != nil {
			fields[fmt.Sprint(key)] = v
		}
	}

	entry, ok := base.(*logrus.Entry)
	if !ok {
		return base
	}
	return entry.WithFields(fields)
}
