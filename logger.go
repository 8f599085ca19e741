// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// logger.go — Logger interface, noop implementation, and zap adapter used
// internally by amber for structured logging; pass a custom implementation
// via Config.Logger to route logs elsewhere.

package amber

import "go.uber.org/zap"

// Logger is the logging interface used internally by amber.
// Implement this to route logs to zap, slog, logrus, etc.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Info(_ string, _ ...any)  {}
func (noopLogger) Warn(_ string, _ ...any)  {}
func (noopLogger) Error(_ string, _ ...any) {}
func (noopLogger) Debug(_ string, _ ...any) {}

// NewZapLogger adapts a zap.Logger to the Logger interface.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{s: l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Info(msg string, keysAndValues ...any)  { z.s.Infow(msg, keysAndValues...) }
func (z zapLogger) Warn(msg string, keysAndValues ...any)  { z.s.Warnw(msg, keysAndValues...) }
func (z zapLogger) Error(msg string, keysAndValues ...any) { z.s.Errorw(msg, keysAndValues...) }
func (z zapLogger) Debug(msg string, keysAndValues ...any) { z.s.Debugw(msg, keysAndValues...) }
