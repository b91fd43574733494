package pending

import (
	"context"
	"sort"
	"sync"
	"time"

	"agendapro/agenda-api/internal/domain"
)

// MemoryStore keeps records in process memory. Everything is lost on restart.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	records map[string]Record[T]
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{records: make(map[string]Record[T])}
}

func (s *MemoryStore[T]) Insert(_ context.Context, rec Record[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicateID
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore[T]) Get(_ context.Context, id string) (Record[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record[T]{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore[T]) CompareAndSetStatus(_ context.Context, id string, from, to domain.PendingStatus, resolvedAt *time.Time) (Record[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record[T]{}, ErrNotFound
	}
	if rec.Status != from {
		return rec, ErrAlreadyResolved
	}
	rec.Status = to
	rec.ResolvedAt = resolvedAt
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List returns the records oldest first.
func (s *MemoryStore[T]) List(_ context.Context) ([]Record[T], error) {
	s.mu.Lock()
	out := make([]Record[T], 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore[T]) DeleteExpired(_ context.Context, now time.Time) ([]Record[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Record[T]
	for id, rec := range s.records {
		if rec.Expired(now) {
			expired = append(expired, rec)
			delete(s.records, id)
		}
	}
	return expired, nil
}
