package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// Recorder captures JSON log lines so tests can assert on structured fields.
// It is safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewRecorder returns a debug-level JSON logger writing to a new Recorder.
// The default logger is left untouched.
func NewRecorder() (*slog.Logger, *Recorder) {
	rec := &Recorder{}
	return slog.New(slog.NewJSONHandler(rec, &slog.HandlerOptions{Level: slog.LevelDebug})), rec
}

// Write implements io.Writer.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Entries decodes every captured line. Malformed lines are skipped.
func (r *Recorder) Entries() []map[string]any {
	r.mu.Lock()
	raw := r.buf.String()
	r.mu.Unlock()

	var entries []map[string]any
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Find returns the first entry whose msg equals message.
func (r *Recorder) Find(message string) (map[string]any, bool) {
	for _, e := range r.Entries() {
		if e[slog.MessageKey] == message {
			return e, true
		}
	}
	return nil, false
}

// HasField reports whether any entry has field set to value. Numbers decode
// as float64.
func (r *Recorder) HasField(field string, value any) bool {
	for _, e := range r.Entries() {
		if v, ok := e[field]; ok && v == value {
			return true
		}
	}
	return false
}
