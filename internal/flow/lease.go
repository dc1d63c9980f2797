package flow

import "sync"

// ChatLease serializes orchestrator runs per chat ID within one process.
// Two inbound messages for the same chat arriving close together are
// independent jobs and may land on different workers; the lease makes the
// second wait so score updates and conversation creation never interleave.
// Cross-process safety comes from the store's unique constraints and guarded
// score writes.
type ChatLease struct {
	mu      sync.Mutex
	entries map[string]*leaseEntry
}

type leaseEntry struct {
	mu   sync.Mutex
	refs int
}

// NewChatLease creates an empty lease table.
func NewChatLease() *ChatLease {
	return &ChatLease{entries: make(map[string]*leaseEntry)}
}

// Acquire blocks until the lease for chatID is held and returns the release
// function. Callers must release exactly once, typically via defer.
func (l *ChatLease) Acquire(chatID string) func() {
	l.mu.Lock()
	e, ok := l.entries[chatID]
	if !ok {
		e = &leaseEntry{}
		l.entries[chatID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, chatID)
		}
		l.mu.Unlock()
	}
}
