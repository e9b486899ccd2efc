// Package logging holds the process wide leveled logger.
package logging

import (
	"strings"

	"github.com/mborders/logmatic"
)

// Log is the logger used by every relay package.
var Log = New(logmatic.INFO)

// New returns a logger at level that does not exit on fatal messages.
func New(level logmatic.LogLevel) *logmatic.Logger {
	l := logmatic.NewLogger()
	l.SetLevel(level)
	l.ExitOnFatal = false

	return l
}

// ParseLevel maps trace, debug, info, warn and error to their level. Unknown names return INFO.
func ParseLevel(s string) logmatic.LogLevel {
	switch strings.ToLower(s) {
	case "trace":
		return logmatic.TRACE
	case "debug":
		return logmatic.DEBUG
	case "warn", "warning":
		return logmatic.WARN
	case "error":
		return logmatic.ERROR
	}

	return logmatic.INFO
}

// SetLevel changes the level of Log.
func SetLevel(s string) {
	Log.SetLevel(ParseLevel(s))
}
