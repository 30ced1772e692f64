package logging

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appenderSet is shared by a logger and all of its subloggers, so an appender added to the root
// after subloggers were handed out (a log file from config, say) still sees their lines.
type appenderSet struct {
	mu        sync.RWMutex
	appenders []Appender
}

func newAppenderSet(appenders ...Appender) *appenderSet {
	return &appenderSet{appenders: appenders}
}

func (set *appenderSet) add(appender Appender) {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.appenders = append(set.appenders, appender)
}

func (set *appenderSet) snapshot() []Appender {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return append([]Appender(nil), set.appenders...)
}

// appenderCore is the zapcore.Core behind every Logger. Entries that pass the level check are
// written to each appender of the set.
type appenderCore struct {
	zapcore.LevelEnabler
	set    *appenderSet
	inUTC  bool
	fields []zapcore.Field
}

func (core *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *core
	clone.fields = append(append([]zapcore.Field(nil), core.fields...), fields...)
	return &clone
}

func (core *appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if core.Enabled(entry.Level) {
		return checked.AddCore(entry, core)
	}
	return checked
}

func (core *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if core.inUTC {
		entry.Time = entry.Time.UTC()
	}
	if len(core.fields) > 0 {
		fields = append(append([]zapcore.Field(nil), core.fields...), fields...)
	}
	var err error
	for _, appender := range core.set.snapshot() {
		err = multierr.Append(err, appender.Write(entry, fields))
	}
	return err
}

func (core *appenderCore) Sync() error {
	var err error
	for _, appender := range core.set.snapshot() {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// impl adapts a zap SugaredLogger to Logger. Every logger owns its level; GlobalLogLevel at debug
// overrides all of them.
type impl struct {
	name  string
	level AtomicLevel
	inUTC bool
	set   *appenderSet
	sugar *zap.SugaredLogger
}

func newImpl(name string, level Level, inUTC bool, set *appenderSet) *impl {
	imp := &impl{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, set: set}
	core := &appenderCore{LevelEnabler: zap.LevelEnablerFunc(imp.enabled), set: set, inUTC: inUTC}
	// One extra frame for the impl method between the caller and zap.
	imp.sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named(name).Sugar()
	return imp
}

func (imp *impl) enabled(level zapcore.Level) bool {
	if GlobalLogLevel.Level() == zapcore.DebugLevel {
		return true
	}
	return level >= imp.level.Get().AsZap()
}

// direct is the sugared logger for callers that log through zap themselves.
func (imp *impl) direct() *zap.SugaredLogger {
	return imp.sugar.WithOptions(zap.AddCallerSkip(-1))
}

func (imp *impl) AddAppender(appender Appender) {
	imp.set.add(appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Level() zapcore.Level {
	return imp.GetLevel().AsZap()
}

// Sublogger returns "<parent>.<subname>". It starts at the parent's level and can be changed
// independently; appenders are shared.
func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return newImpl(name, imp.level.Get(), imp.inUTC, imp.set)
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.direct().Desugar()
}

func (imp *impl) Named(name string) *zap.SugaredLogger {
	return imp.direct().Named(name)
}

func (imp *impl) Sync() error {
	return imp.sugar.Sync()
}

func (imp *impl) With(args ...interface{}) *zap.SugaredLogger {
	return imp.direct().With(args...)
}

func (imp *impl) WithOptions(opts ...zap.Option) *zap.SugaredLogger {
	return imp.direct().WithOptions(opts...)
}

func (imp *impl) Debug(args ...interface{}) { imp.sugar.Debug(args...) }

func (imp *impl) Debugf(template string, args ...interface{}) { imp.sugar.Debugf(template, args...) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Debugw(msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) { imp.sugar.Info(args...) }

func (imp *impl) Infof(template string, args ...interface{}) { imp.sugar.Infof(template, args...) }

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.sugar.Infow(msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) { imp.sugar.Warn(args...) }

func (imp *impl) Warnf(template string, args ...interface{}) { imp.sugar.Warnf(template, args...) }

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Warnw(msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) { imp.sugar.Error(args...) }

func (imp *impl) Errorf(template string, args ...interface{}) { imp.sugar.Errorf(template, args...) }

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Errorw(msg, keysAndValues...)
}

// Fatal variants write the entry, then exit the process.
func (imp *impl) Fatal(args ...interface{}) { imp.sugar.Fatal(args...) }

func (imp *impl) Fatalf(template string, args ...interface{}) { imp.sugar.Fatalf(template, args...) }

func (imp *impl) Fatalw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Fatalw(msg, keysAndValues...)
}
