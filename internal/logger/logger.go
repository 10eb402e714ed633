package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the process logger: JSON lines on stdout at the given level
// (trace|debug|info|warn|error). Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl > logrus.TraceLevel || lvl < logrus.ErrorLevel {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}
