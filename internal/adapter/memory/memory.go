// Package memory provides in-process observation and subscriber stores for
// dry runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
)

// Store keeps the latest observation in memory.
type Store struct {
	mu     sync.Mutex
	latest *domain.Observation
}

// NewStore returns an empty Store. Pass a non-nil seed to start from a known observation.
func NewStore(seed *domain.Observation) *Store {
	s := &Store{}
	if seed != nil {
		c := seed.Clone()
		s.latest = &c
	}
	return s
}

func (s *Store) Latest(_ context.Context) (*domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, nil
	}
	c := s.latest.Clone()
	return &c, nil
}

func (s *Store) IsNew(_ context.Context, candidate domain.Observation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest == nil || !s.latest.SameDate(candidate), nil
}

func (s *Store) Commit(_ context.Context, candidate domain.Observation) (domain.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.latest
	next := candidate.Clone()
	s.latest = &next
	return domain.CommitResult{
		Previous:  prev,
		Anomalies: domain.CheckMonotonic(prev, candidate),
	}, nil
}

// Registry is a subscriber set guarded by a mutex.
type Registry struct {
	mu  sync.Mutex
	ids map[domain.SubscriberID]struct{}
}

// NewRegistry returns a Registry holding ids.
func NewRegistry(ids ...domain.SubscriberID) *Registry {
	r := &Registry{ids: make(map[domain.SubscriberID]struct{}, len(ids))}
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	return r
}

func (r *Registry) Add(_ context.Context, id domain.SubscriberID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
	return nil
}

func (r *Registry) Remove(_ context.Context, id domain.SubscriberID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
	return nil
}

func (r *Registry) Contains(_ context.Context, id domain.SubscriberID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok, nil
}

// All returns the subscribers in ascending order.
func (r *Registry) All(_ context.Context) ([]domain.SubscriberID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SubscriberID, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (r *Registry) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids), nil
}
