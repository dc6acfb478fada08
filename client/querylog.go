package client

import (
	"sync"
	"time"
)

// QueryLogEntry records one executed statement.
type QueryLogEntry struct {
	Statement Statement
	Duration  time.Duration
	RowCount  int64
	Timestamp time.Time
	TraceID   string
}

// QueryLog is an append-only log of executed statements. It grows until
// Clear is called.
type QueryLog struct {
	mu      sync.Mutex
	entries []QueryLogEntry
}

// NewQueryLog creates an empty query log.
func NewQueryLog() *QueryLog {
	return &QueryLog{}
}

// Append adds an entry.
func (l *QueryLog) Append(e QueryLogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of the log in execution order.
func (l *QueryLog) Entries() []QueryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]QueryLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *QueryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the log and returns the number of dropped entries.
func (l *QueryLog) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	l.entries = nil
	return n
}
