package actor

import "github.com/sirupsen/logrus"

// Log is the package-wide logger used for lifecycle tracing, panic
// recovery, and supervision cascade tracing. Overridable via SetLogger so
// embedding applications can route actor diagnostics into their own
// logging pipeline.
var Log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	Log = l
}
