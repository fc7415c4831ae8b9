// Package applog builds the single logging handle threaded explicitly
// through the CLI, transport, and driver — no package-level global, so
// every caller that logs names its own logger instance (§9's redesign
// note: an explicit handle over the source's global Logger).
package applog

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New builds a logfmt logger at the given level ("debug", "info",
// "warn", "error"; anything else falls back to "info") writing to w.
// New decorates it with timestamp and caller fields once, at
// construction, rather than per call site.
func New(levelName string, w io.Writer) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))

	var lvl level.Option
	switch levelName {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}

// NewStderr is New with os.Stderr, the destination cmd/scale uses.
func NewStderr(levelName string) log.Logger {
	return New(levelName, os.Stderr)
}
