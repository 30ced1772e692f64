// Package logging contains the zap-backed loggers used by the gripper daemons and tools.
//
// Every process builds one root logger and hands subloggers to its parts: "relay.hub" and
// "relay.client" on the relay side, "gripperd.controller" and "gripperd.client" in the
// controller. All subloggers write through the root's appenders.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// DefaultTimeFormatStr is the timestamp layout used by the console and test appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// GlobalLogLevel at debug forces every Logger to emit debug lines regardless of its own level.
var GlobalLogLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// ZapCompatibleLogger is the subset of the zap SugaredLogger API the process helpers in
// go.viam.com/utils accept.
type ZapCompatibleLogger interface {
	Desugar() *zap.Logger
	Level() zapcore.Level
	Named(name string) *zap.SugaredLogger
	Sync() error
	With(args ...interface{}) *zap.SugaredLogger
	WithOptions(opts ...zap.Option) *zap.SugaredLogger

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
}

// Logger is the logging interface used throughout the module.
type Logger interface {
	ZapCompatibleLogger

	SetLevel(level Level)
	GetLevel() Level
	Sublogger(subname string) Logger
	AddAppender(appender Appender)
}

// NewLogger returns a logger writing Info+ lines to stdout in UTC.
func NewLogger(name string) Logger {
	return newImpl(name, INFO, true, newAppenderSet(NewStdoutAppender()))
}

// NewDebugLogger returns a logger writing Debug+ lines to stdout in UTC.
func NewDebugLogger(name string) Logger {
	return newImpl(name, DEBUG, true, newAppenderSet(NewStdoutAppender()))
}

// NewBlankLogger returns a Debug+ logger with no appenders. Lines go nowhere until one is added.
func NewBlankLogger(name string) Logger {
	return newImpl(name, DEBUG, true, newAppenderSet())
}

// NewTestLogger returns a Debug+ logger writing through tb.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zapcore.DebugLevel)
	return newImpl("", DEBUG, false, newAppenderSet(NewTestAppender(tb), observerCore)), observedLogs
}
