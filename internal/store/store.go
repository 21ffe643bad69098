package store

import "sync"

// DefaultCapacity bounds the in-memory entry record.
const DefaultCapacity = 500

// Store is a fixed-capacity, insertion-ordered record of recent entries with
// O(1) lookup by id. When full, the single oldest entry is evicted per insert.
type Store struct {
	mu       sync.RWMutex
	capacity int
	order    []*Entry // oldest first
	byID     map[string]*Entry
}

// New creates a store. Non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		byID:     make(map[string]*Entry, capacity),
	}
}

// Add appends an entry, evicting the oldest when over capacity.
func (s *Store) Add(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		// Clear the slot so the backing array does not pin the evicted entry
		// and its buffered bodies until the next reallocation.
		s.order[0] = nil
		s.order = s.order[1:]
		delete(s.byID, oldest.ID())
	}
	s.order = append(s.order, e)
	s.byID[e.ID()] = e
}

// Get returns the entry for id, or false when unknown (or evicted).
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns a newest-first snapshot of every entry, suitable for initial
// dashboard sync. Each element is a consistent copy; none is torn by an
// in-flight finalize.
func (s *Store) All() []View {
	s.mu.RLock()
	entries := make([]*Entry, len(s.order))
	copy(entries, s.order)
	s.mu.RUnlock()

	views := make([]View, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		views = append(views, entries[i].Snapshot())
	}
	return views
}

// Clear atomically empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]*Entry, s.capacity)
}
