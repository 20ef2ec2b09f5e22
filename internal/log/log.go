// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package log provides the leveled logging facade used throughout the
// core. It keeps the same small, backend-independent vocabulary the
// rest of the module's call sites expect (Debug/Debugf/Info/Warn/Errorf
// plus a Level check for guarding expensive formatting) while delegating
// the actual writing to zap.
package log

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Level is the logging severity, ordered from most to least verbose.
type Level int32

const (
	// DebugLevel enables Debug and Debugf call sites.
	DebugLevel Level = iota
	// InfoLevel is the default level.
	InfoLevel
	// WarnLevel suppresses Debug/Info output.
	WarnLevel
	// ErrorLevel suppresses everything but Errorf.
	ErrorLevel
)

// Logger wraps a zap.SugaredLogger and adds a cheaply-checkable level so
// call sites can skip building log fields when nothing would be emitted.
type Logger struct {
	level atomic.Int32
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
}

// New creates a Logger backed by a production zap configuration.
func New() *Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	l := &Logger{sugar: zl.Sugar()}
	l.level.Store(int32(InfoLevel))
	return l
}

// NewNop creates a Logger that discards everything, useful as a default
// for embedders that never call SetSugaredLogger.
func NewNop() *Logger {
	l := &Logger{sugar: zap.NewNop().Sugar()}
	l.level.Store(int32(ErrorLevel))
	return l
}

// SetLogLevel changes the minimum level that will be emitted.
func (l *Logger) SetLogLevel(level Level) {
	l.level.Store(int32(level))
}

// Level returns the current minimum emitted level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// SetSugaredLogger swaps the underlying zap sink, e.g. to redirect to a
// test observer or a differently-configured production logger.
func (l *Logger) SetSugaredLogger(s *zap.SugaredLogger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sugar = s
}

func (l *Logger) sink() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

// Debug logs msg at debug level.
func (l *Logger) Debug(msg string) {
	if l.Level() > DebugLevel {
		return
	}
	l.sink().Debug(msg)
}

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Level() > DebugLevel {
		return
	}
	l.sink().Debugf(format, args...)
}

// Info logs msg at info level.
func (l *Logger) Info(msg string) {
	if l.Level() > InfoLevel {
		return
	}
	l.sink().Info(msg)
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.Level() > InfoLevel {
		return
	}
	l.sink().Infof(format, args...)
}

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string) {
	if l.Level() > WarnLevel {
		return
	}
	l.sink().Warn(msg)
}

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.Level() > WarnLevel {
		return
	}
	l.sink().Warnf(format, args...)
}

// Errorf logs a formatted message at error level. Errors are never
// suppressed by level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sink().Errorf(format, args...)
}

// Log is the package-level default logger, mirroring the teacher's
// package-scoped `log.Log` singleton so call sites elsewhere in the
// module can write log.Log.Debugf(...) without threading a logger
// through every constructor.
var Log = NewNop()
