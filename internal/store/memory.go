// Package store provides DocumentStore backends: Firestore for production
// and an in-memory implementation for tests and local runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meteolv/meteo-sync/internal/meteo"
)

// MemoryStore is a concurrency-safe in-memory document store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*meteo.MetricDocument
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*meteo.MetricDocument)}
}

func (s *MemoryStore) Get(_ context.Context, abbr string) (*meteo.MetricDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[abbr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", meteo.ErrNotFound, abbr)
	}
	return clone(doc), nil
}

func (s *MemoryStore) Set(_ context.Context, abbr string, doc *meteo.MetricDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[abbr] = clone(doc)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*meteo.MetricDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	abbrs := make([]string, 0, len(s.docs))
	for abbr := range s.docs {
		abbrs = append(abbrs, abbr)
	}
	sort.Strings(abbrs)

	out := make([]*meteo.MetricDocument, 0, len(abbrs))
	for _, abbr := range abbrs {
		out = append(out, clone(s.docs[abbr]))
	}
	return out, nil
}

// clone copies a document so callers cannot mutate stored state.
func clone(doc *meteo.MetricDocument) *meteo.MetricDocument {
	cp := *doc
	cp.Observations = append([]meteo.Observation(nil), doc.Observations...)
	return &cp
}
