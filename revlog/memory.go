package revlog

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	revisions map[string]Record
	values    map[string][]byte
	fanout    Fanout

	failCommits int
	failPersist bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		revisions: map[string]Record{},
		values:    map[string][]byte{},
	}
}

// FailCommits makes the next n commit attempts report Disconnected. With
// persist, the first of them still writes its record, as when a connection
// drops after the server applied the write.
func (m *MemoryStore) FailCommits(n int, persist bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommits = n
	m.failPersist = persist
}

func (m *MemoryStore) TryCommit(ctx context.Context, id string, rec Record) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommits > 0 {
		m.failCommits--
		if m.failPersist {
			m.failPersist = false
			m.commitLocked(id, rec)
		}
		return Disconnected, nil
	}
	if !m.commitLocked(id, rec) {
		return Occupied, nil
	}
	return Committed, nil
}

func (m *MemoryStore) commitLocked(id string, rec Record) bool {
	if _, ok := m.revisions[id]; ok {
		return false
	}
	m.revisions[id] = rec
	m.fanout.Publish(Entry{ID: id, Record: rec})
	return true
}

func (m *MemoryStore) SubscribeAppends(ctx context.Context, fromID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	backlog := m.entriesLocked(fromID)
	live, unsubscribe := m.fanout.Subscribe(ctx)
	return NewSubscription(backlog, live, unsubscribe), nil
}

// Entries returns every revision at or after fromID, sorted.
func (m *MemoryStore) Entries(fromID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesLocked(fromID)
}

func (m *MemoryStore) entriesLocked(fromID string) []Entry {
	var entries []Entry
	for id, rec := range m.revisions {
		if id >= fromID {
			entries = append(entries, Entry{ID: id, Record: rec})
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.ID, b.ID)
	})
	return entries
}

func (m *MemoryStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = slices.Clone(value)
	return nil
}

// Close ends all live subscriptions.
func (m *MemoryStore) Close() {
	m.fanout.Close()
}
