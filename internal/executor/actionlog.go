package executor

import (
	"sync"
)

const defaultActionLogCapacity = 1000

// ActionLog records the inputs the executor applied, keyed by step id. One
// instance is owned by the host process and handed to the Server; live
// subscribers (the websocket feed) receive every new record.
type ActionLog struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	entries  map[string]ActionRecord
	subs     map[int]chan ActionRecord
	nextSub  int
}

// NewActionLog creates a log that keeps at most capacity records, evicting
// the oldest first. A non-positive capacity selects the default.
func NewActionLog(capacity int) *ActionLog {
	if capacity <= 0 {
		capacity = defaultActionLogCapacity
	}
	return &ActionLog{
		capacity: capacity,
		entries:  make(map[string]ActionRecord),
		subs:     make(map[int]chan ActionRecord),
	}
}

// Record stores rec, replacing any earlier record with the same step id.
func (l *ActionLog) Record(rec ActionRecord) {
	l.mu.Lock()
	if _, exists := l.entries[rec.StepID]; !exists {
		l.order = append(l.order, rec.StepID)
	}
	l.entries[rec.StepID] = rec
	for len(l.order) > l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.entries, oldest)
	}
	defer l.mu.Unlock()

	// Slow subscribers miss records rather than stall input handling.
	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Get returns the record for stepID.
func (l *ActionLog) Get(stepID string) (ActionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.entries[stepID]
	return rec, ok
}

// List returns the records in insertion order.
func (l *ActionLog) List() []ActionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ActionRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}

// Len returns the number of retained records.
func (l *ActionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Subscribers returns the number of attached live feeds.
func (l *ActionLog) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Subscribe returns a channel of new records and a function that detaches it.
func (l *ActionLog) Subscribe(buffer int) (<-chan ActionRecord, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ActionRecord, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
