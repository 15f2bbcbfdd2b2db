// Package debuglog appends human-readable debug lines to a file when the
// debug setting is on. Failures to write are never reported to callers.
package debuglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TimeLayout matches the day-month-year stamp of existing log files.
const TimeLayout = "02-01-2006 15:04:05"

// Sink owns the log file path and serialises appends across requests.
type Sink struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewSink returns a Sink appending to path.
func NewSink(path string) *Sink {
	return &Sink{path: path, now: time.Now}
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string {
	return s.path
}

// For returns a Logger that writes only when enabled is true.
func (s *Sink) For(enabled bool) *Logger {
	return &Logger{sink: s, enabled: enabled}
}

func (s *Sink) append(line string) {
	if s == nil || s.path == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("debuglog: create directory")
			return
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("debuglog: open file")
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("debuglog: write")
	}
}

// Logger is scoped to one event; it carries the debug flag read for it.
type Logger struct {
	sink    *Sink
	enabled bool
}

// Enabled reports whether lines will be written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Printf formats and appends one line as "[<timestamp>] <message>".
func (l *Logger) Printf(format string, args ...any) {
	if !l.Enabled() || l.sink == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Debug().Str("source", "debuglog").Msg(msg)
	l.sink.append("[" + l.sink.now().Format(TimeLayout) + "] " + msg + "\n")
}
