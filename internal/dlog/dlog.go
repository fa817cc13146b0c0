// Package dlog provides a small, concurrency-safe logging sink shared by
// every layer of the deduplication engine.
//
// The engine runs many worker goroutines concurrently, each of which may
// need to report a warning (a failed stat, a failed link, a skipped file)
// without interleaving partial lines from another worker. Logger exists
// only to serialize writes to its underlying io.Writer pair; it carries no
// level filtering, structured fields, or sinks beyond plain text.
package dlog

import (
	"fmt"
	"io"
	"sync"
)

// Logger writes informational and warning lines to two io.Writers,
// serializing concurrent callers with a mutex.
type Logger struct {
	mu   sync.Mutex
	info io.Writer
	warn io.Writer
}

// New returns a Logger that writes info lines to info and warning lines to
// warn. Either may be the same writer.
func New(info, warn io.Writer) *Logger {
	return &Logger{info: info, warn: warn}
}

// Infof writes a formatted informational line.
func (l *Logger) Infof(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, _ = fmt.Fprintf(l.info, format+"\n", args...)
}

// Warnf writes a formatted warning line, prefixed with "warning:".
func (l *Logger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, _ = fmt.Fprintf(l.warn, "warning: "+format+"\n", args...)
}
