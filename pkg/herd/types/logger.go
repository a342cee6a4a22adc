package types

// Logger used across the driver. The default implementation lives in
// the definition package, the host can plug its own.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warn(v ...interface{})
	Warnf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	// Fatal logs and terminates the process with a non zero exit.
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	ToggleDebug(value bool) bool
}
