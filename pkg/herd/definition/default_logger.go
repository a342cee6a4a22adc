package definition

import (
	"fmt"
	"log"
	"os"
)

const calldepth = 2

const (
	levelInfo  = "INFO"
	levelWarn  = "WARN"
	levelError = "ERROR"
	levelDebug = "DEBUG"
	levelFatal = "FATAL"
)

// The default logger used if the host does not provide its own
// implementation. Writes leveled lines to stderr.
type DefaultLogger struct {
	*log.Logger
	debug bool
}

func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, "herd ", log.LstdFlags),
		debug:  false,
	}
}

func leveled(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.Output(calldepth, leveled(levelInfo, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.Output(calldepth, leveled(levelInfo, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.Output(calldepth, leveled(levelWarn, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.Output(calldepth, leveled(levelWarn, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.Output(calldepth, leveled(levelError, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.Output(calldepth, leveled(levelError, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.Output(calldepth, leveled(levelDebug, fmt.Sprint(v...)))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.Output(calldepth, leveled(levelDebug, fmt.Sprintf(format, v...)))
	}
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.Output(calldepth, leveled(levelFatal, fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.Output(calldepth, leveled(levelFatal, fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}
