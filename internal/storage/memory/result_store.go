package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitegraph/internal/pipeline"
)

// DefaultCapacity bounds a ResultStore built with a non-positive capacity.
const DefaultCapacity = 256

// ResultStore keeps the most recent results by session id. When full, the
// oldest entry is evicted.
type ResultStore struct {
	mu       sync.RWMutex
	capacity int
	results  map[string]pipeline.Result
	order    []string
}

var _ pipeline.ResultHandler = (*ResultStore)(nil)

// NewResultStore constructs a ResultStore holding at most capacity results.
func NewResultStore(capacity int) *ResultStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResultStore{
		capacity: capacity,
		results:  make(map[string]pipeline.Result, capacity),
	}
}

// Handle records result, replacing any earlier result for the same session.
func (s *ResultStore) Handle(_ context.Context, result pipeline.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.SessionID]; ok {
		s.drop(result.SessionID)
	}
	s.results[result.SessionID] = result
	s.order = append(s.order, result.SessionID)
	for len(s.order) > s.capacity {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Get returns the result recorded for sessionID.
func (s *ResultStore) Get(_ context.Context, sessionID string) (pipeline.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[sessionID]
	return res, ok
}

// Len returns the number of stored results.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// drop removes id from the eviction order. Callers hold s.mu.
func (s *ResultStore) drop(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
