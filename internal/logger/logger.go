package logger

import (
	"errors"

	"github.com/bombsimon/logrusr/v3"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	logrus_test "github.com/sirupsen/logrus/hooks/test"
)

const (
	KeyCmd = "command"
)

var ErrInvalidConfig = errors.New("invalid config")

var loggers = map[string]logr.Logger{} // nolint:gochecknoglobals // simple logging

func GetLogger(app string) logr.Logger {
	if logger, has := loggers[app]; has {
		return logger
	}
	lr := logrus.New()
	lr.Level = logrus.TraceLevel
	loggers[app] = logrusr.New(lr).WithName(app)

	return loggers[app]
}

// GetTestLogger returns a logger backed by a logrus test hook,
// so tests can assert on emitted messages.
func GetTestLogger(app string) (logr.Logger, *logrus_test.Hook) {
	lr, hook := logrus_test.NewNullLogger()
	lr.Level = logrus.TraceLevel

	return logrusr.New(lr).WithName(app), hook
}
