package cache

import (
	"sync"

	"github.com/heliossim/helios/internal/iface"
	"github.com/heliossim/helios/pkg/schema"
)

// Store is the flyweight registry for interface instances, keyed by content
// hash. Inserting content that already exists returns the existing instance,
// so every consumer of identical data shares one collection regardless of
// where it was loaded from.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*iface.Interface

	hits   int
	misses int
}

// New returns an empty cache.
func New() *Store {
	return &Store{entries: make(map[string]*iface.Interface)}
}

// Intern registers the interface under its content hash and returns the
// canonical instance. If equal content is already cached, the cached
// instance is returned and reused reports true.
func (s *Store) Intern(in *iface.Interface) (canonical *iface.Interface, reused bool) {
	key := in.Hash()

	s.mu.RLock()
	existing, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return existing, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		s.hits++
		return existing, true
	}
	s.entries[key] = in
	s.misses++
	return in, false
}

// Get returns the cached interface for a content hash.
func (s *Store) Get(hash string) (*iface.Interface, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.entries[hash]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no cached interface for hash %s", shortHash(hash))
	}
	return in, nil
}

// Len returns the number of distinct cached collections.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns intern hit and miss counters.
func (s *Store) Stats() (hits, misses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits, s.misses
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
