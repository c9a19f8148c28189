package resolutioncache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps entries in process. It is meant for single-node
// deployments and tests.
//
// Tag versions are capped at maxEntries as well. Past the cap every tag is
// reset to a floor above any version handed out so far, which invalidates
// all entries at once.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	versions   map[string]int64
	floor      int64
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		versions:   make(map[string]int64),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryStore) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		value, ok, _ := m.Get(ctx, key)
		if ok {
			out[i] = value
		}
	}
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked()
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// evictLocked drops expired entries, then arbitrary ones until there is room.
func (m *MemoryStore) evictLocked() {
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	for k := range m.entries {
		if len(m.entries) < m.maxEntries {
			return
		}
		delete(m.entries, k)
	}
}

func (m *MemoryStore) Versions(_ context.Context, tags []string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int64, len(tags))
	for i, tag := range tags {
		out[i] = m.versionLocked(tag)
	}
	return out, nil
}

func (m *MemoryStore) Bump(_ context.Context, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tag := range tags {
		if _, ok := m.versions[tag]; !ok && m.maxEntries > 0 && len(m.versions) >= m.maxEntries {
			m.resetVersionsLocked()
		}
		m.versions[tag] = m.versionLocked(tag) + 1
	}
	return nil
}

func (m *MemoryStore) versionLocked(tag string) int64 {
	if v, ok := m.versions[tag]; ok {
		return v
	}
	return m.floor
}

func (m *MemoryStore) resetVersionsLocked() {
	next := m.floor
	for _, v := range m.versions {
		if v > next {
			next = v
		}
	}
	m.floor = next + 1
	m.versions = make(map[string]int64)
	m.entries = make(map[string]memoryEntry)
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
