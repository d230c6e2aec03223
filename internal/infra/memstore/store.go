// Package memstore is a process-local ports.Store used by tests and by
// `worker --memory` dev runs. Semantics mirror the Redis implementation,
// including TTL expiry on read.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"linkdigest/internal/clock"
	"linkdigest/internal/ports"
)

var _ ports.Store = (*Store)(nil)

type Store struct {
	mu      sync.Mutex
	clk     clock.Clock
	strings map[string]stringEntry
	hashes  map[string]map[string]string
	sorted  map[string]map[string]float64
}

type stringEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		clk:     clk,
		strings: map[string]stringEntry{},
		hashes:  map[string]map[string]string{},
		sorted:  map[string]map[string]float64{},
	}
}

func (s *Store) GetString(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.clk.Now().Before(e.expiresAt) {
		delete(s.strings, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) SetString(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := stringEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clk.Now().Add(ttl)
	}
	s.strings[key] = e
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.sorted, key)
	return nil
}

func (s *Store) HashGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *Store) HashSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = map[string]string{}
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *Store) HashDelete(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.hashes[key], f)
	}
	return nil
}

func (s *Store) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SortedAdd(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.sorted[key]
	if !ok {
		z = map[string]float64{}
		s.sorted[key] = z
	}
	z[member] = score
	return nil
}

func (s *Store) SortedScore(_ context.Context, key, member string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sorted[key][member]
	return sc, ok, nil
}

func (s *Store) SortedRangeByScore(_ context.Context, key string, min, max float64, count int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var due []pair
	for m, sc := range s.sorted[key] {
		if sc >= min && sc <= max {
			due = append(due, pair{m, sc})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].score != due[j].score {
			return due[i].score < due[j].score
		}
		return due[i].member < due[j].member
	})
	if count > 0 && int64(len(due)) > count {
		due = due[:count]
	}
	out := make([]string, len(due))
	for i, p := range due {
		out[i] = p.member
	}
	return out, nil
}

func (s *Store) SortedRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.sorted[key], m)
	}
	return nil
}

func (s *Store) SortedRemoveRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for m, sc := range s.sorted[key] {
		if sc >= min && sc <= max {
			delete(s.sorted[key], m)
			n++
		}
	}
	return n, nil
}
