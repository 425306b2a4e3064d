package logger

import "context"

// noopLogger discards everything. Used as the default wherever a logger is optional.
type noopLogger struct{}

// NewNoopLogger returns a Logger that drops all entries
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(args ...interface{})                  {}
func (noopLogger) Info(args ...interface{})                   {}
func (noopLogger) Warn(args ...interface{})                   {}
func (noopLogger) Error(args ...interface{})                  {}
func (noopLogger) Fatal(args ...interface{})                  {}
func (noopLogger) Debugf(format string, args ...interface{})  {}
func (noopLogger) Infof(format string, args ...interface{})   {}
func (noopLogger) Warnf(format string, args ...interface{})   {}
func (noopLogger) Errorf(format string, args ...interface{})  {}
func (noopLogger) Fatalf(format string, args ...interface{})  {}
func (n noopLogger) WithFields(map[string]interface{}) Logger { return n }
func (n noopLogger) WithContext(context.Context) Logger       { return n }
func (n noopLogger) WithComponent(string) Logger              { return n }
