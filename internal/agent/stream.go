package agent

import (
	"io"
	"os"

	"github.com/google/uuid"
)

func newSessionID() string {
	return uuid.NewString()
}

// streamWriter tees agent output into the per-invocation log and, unless
// quiet, onto stderr for the operator.
func streamWriter(logFile *os.File, quiet bool) io.Writer {
	switch {
	case logFile == nil && quiet:
		return io.Discard
	case logFile == nil:
		return os.Stderr
	case quiet:
		return logFile
	default:
		return io.MultiWriter(logFile, os.Stderr)
	}
}
