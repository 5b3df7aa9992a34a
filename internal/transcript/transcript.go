// Package transcript accumulates transcription results in timestamp order.
package transcript

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one transcribed segment.
type Entry struct {
	ID          string
	Text        string
	Timestamp   int64 // segment start, Unix milliseconds
	Seq         uint64
	ProcessedAt time.Time
	IsError     bool
}

// NewEntry returns an Entry with a fresh ID.
func NewEntry(text string, timestamp int64, seq uint64, isError bool) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Text:        text,
		Timestamp:   timestamp,
		Seq:         seq,
		ProcessedAt: time.Now(),
		IsError:     isError,
	}
}

// Sink receives each entry after it is added.
type Sink interface {
	Deliver(Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(e Entry) error { return f(e) }

// List is a transcript kept sorted by timestamp. Adding builds a new
// slice, so snapshots handed out earlier never change.
type List struct {
	mu      sync.RWMutex
	entries []Entry
}

// Add inserts e in timestamp order, after any entry with the same
// timestamp and a lower or equal sequence number.
func (l *List) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := sort.Search(len(l.entries), func(i int) bool {
		cur := l.entries[i]
		if cur.Timestamp != e.Timestamp {
			return cur.Timestamp > e.Timestamp
		}
		return cur.Seq > e.Seq
	})

	next := make([]Entry, 0, len(l.entries)+1)
	next = append(next, l.entries[:i]...)
	next = append(next, e)
	next = append(next, l.entries[i:]...)
	l.entries = next
}

// Snapshot returns the current entries. Callers must not modify it.
func (l *List) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries
}

// Len returns the number of entries.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Reset drops every entry.
func (l *List) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Text joins the non-empty, non-error entries into plain text.
func (l *List) Text() string {
	var parts []string
	for _, e := range l.Snapshot() {
		if e.IsError {
			continue
		}
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
