// Package logger configures the process-wide logrus logger.
//
// Go Pattern: logrus keeps a package-level standard logger, so every
// package can call logrus.WithFields(...) without passing a logger around.
// We configure it exactly once, at startup, from LOG_LEVEL and LOG_FORMAT.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup applies the level and output format to the standard logger.
// An unknown level falls back to info rather than failing startup.
func Setup(level, format string) {
	SetupWithOutput(level, format, os.Stdout)
}

// SetupWithOutput is Setup with an explicit destination (used by tests).
func SetupWithOutput(level, format string, out io.Writer) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(out)

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
