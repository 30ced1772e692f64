package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender writes through tb.Log so each line is attributed to the test that produced it.
// The line already names its caller, so the tb position is not meaningful.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender logging to tb in the console format.
func NewTestAppender(tb testing.TB) Appender {
	return testAppender{tb}
}

func (tapp testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	line, err := formatEntry(entry, fields)
	tapp.tb.Log(line)
	return err
}

func (tapp testAppender) Sync() error {
	return nil
}
