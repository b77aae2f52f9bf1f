package cache

import (
	"sort"
	"sync"
)

// MemoryDB is a goroutine-safe in-memory DB. Nothing survives a restart; it
// exists for tests and for running the client without a cache directory.
type MemoryDB struct {
	mu     sync.Mutex
	spaces map[string]*memoryStore
}

// NewMemoryDB creates an empty MemoryDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{spaces: make(map[string]*memoryStore)}
}

func (m *MemoryDB) Namespace(name string) Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[name]
	if !ok {
		s = &memoryStore{data: make(map[string][]byte)}
		m.spaces[name] = s
	}
	return s
}

func (m *MemoryDB) Namespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, s := range m.spaces {
		if len(s.Keys()) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *MemoryDB) Close() error { return nil }

type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (s *memoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (s *memoryStore) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte{}, value...)
}

func (s *memoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *memoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *memoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
}
