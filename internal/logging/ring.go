package logging

import (
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Ring is a fixed-capacity, thread-safe log buffer implementing
// zapcore.Core so it can be tee'd alongside the normal encoder/sink. It
// backs the Logs(limit) control operation.
type Ring struct {
	mu       sync.Mutex
	entries  []pipeline.LogEntry
	capacity int
	next     int
	filled   bool
	fields   []zapcore.Field
}

// NewRing creates a Ring with room for capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{
		entries:  make([]pipeline.LogEntry, capacity),
		capacity: capacity,
	}
}

// Enabled implements zapcore.LevelEnabler; the ring records every level.
func (r *Ring) Enabled(zapcore.Level) bool { return true }

// With returns a Ring that carries additional structured fields into every
// subsequent entry, matching zapcore.Core's contract for logger.With(...).
func (r *Ring) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(r.fields)+len(fields))
	merged = append(merged, r.fields...)
	merged = append(merged, fields...)
	return &Ring{entries: r.entries, capacity: r.capacity, next: r.next, filled: r.filled, fields: merged}
}

// Check implements zapcore.Core.
func (r *Ring) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return checked.AddCore(entry, r)
}

// Write implements zapcore.Core by appending the entry to the ring.
func (r *Ring) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	component := entry.LoggerName
	for _, f := range append(append([]zapcore.Field{}, r.fields...), fields...) {
		if f.Key == "component" && f.Type == zapcore.StringType {
			component = f.String
		}
	}
	le := pipeline.LogEntry{
		Timestamp: entry.Time,
		Level:     levelToPipeline(entry.Level),
		Component: component,
		Message:   entry.Message,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = le
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
	return nil
}

// Sync implements zapcore.Core; the ring has nothing to flush.
func (r *Ring) Sync() error { return nil }

// Recent returns up to limit of the most recently written entries, oldest
// first.
func (r *Ring) Recent(limit int) []pipeline.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []pipeline.LogEntry
	if r.filled {
		ordered = append(ordered, r.entries[r.next:]...)
		ordered = append(ordered, r.entries[:r.next]...)
	} else {
		ordered = append(ordered, r.entries[:r.next]...)
	}
	if limit <= 0 || limit >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-limit:]
}

func levelToPipeline(lvl zapcore.Level) pipeline.LogLevel {
	switch {
	case lvl >= zapcore.ErrorLevel:
		return pipeline.LogLevelError
	case lvl >= zapcore.WarnLevel:
		return pipeline.LogLevelWarn
	case lvl >= zapcore.DebugLevel && lvl < zapcore.InfoLevel:
		return pipeline.LogLevelDebug
	default:
		return pipeline.LogLevelInfo
	}
}
