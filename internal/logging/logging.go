// Package logging sets up the process logger: stdlib log with component
// prefixes, mirrored to stdout and an optional rotating file.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

// Flags used by every reportd logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// Setup points the standard logger at stdout plus logFile (when non-empty)
// under prefix. The returned closer flushes the file; it is never nil.
func Setup(prefix, logFile string) (io.Closer, error) {
	log.SetFlags(Flags)
	log.SetPrefix(prefix)
	if strings.TrimSpace(logFile) == "" {
		log.SetOutput(os.Stdout)
		return discard{}, nil
	}
	rot, err := NewRotatingWriter(logFile, DefaultMaxBytes)
	if err != nil {
		return discard{}, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rot))
	return rot, nil
}

// New returns a logger sharing the standard logger's output under prefix.
func New(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, Flags)
}

// IsDebug reports whether level enables DEBUG lines.
func IsDebug(level string) bool {
	return strings.EqualFold(strings.TrimSpace(level), "debug")
}
