package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger at the given level. An unknown level falls back
// to info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(new(logrus.JSONFormatter))

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}
