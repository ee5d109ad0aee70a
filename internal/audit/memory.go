package audit

import (
	"context"
	"sync"

	"github.com/miradorstack/mirador-phiguard/internal/models"
)

const defaultMaxCorrelations = 10000

// MemoryStore keeps events in process, evicting the oldest correlation id once the bound is hit.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]models.RedactionEvent
	order  []string
	max    int
}

// NewMemoryStore returns a store holding at most maxCorrelations request trails.
func NewMemoryStore(maxCorrelations int) *MemoryStore {
	if maxCorrelations <= 0 {
		maxCorrelations = defaultMaxCorrelations
	}
	return &MemoryStore{events: make(map[string][]models.RedactionEvent), max: maxCorrelations}
}

// Append adds events to the trail of correlationID.
func (s *MemoryStore) Append(_ context.Context, correlationID string, events []models.RedactionEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[correlationID]; !ok {
		s.order = append(s.order, correlationID)
		for len(s.order) > s.max {
			delete(s.events, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.events[correlationID] = append(s.events[correlationID], events...)
	return nil
}

// List returns a copy of the trail, empty when unknown.
func (s *MemoryStore) List(_ context.Context, correlationID string) ([]models.RedactionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := s.events[correlationID]
	out := make([]models.RedactionEvent, len(trail))
	copy(out, trail)
	return out, nil
}

// Len reports how many correlation ids are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
