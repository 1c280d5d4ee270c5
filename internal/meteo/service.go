package meteo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Service orchestrates one feed snapshot per sync run and fans the
// per-metric compose/merge/store work out concurrently.
type Service struct {
	composer *Composer
	store    DocumentStore
	window   time.Duration
}

// NewService creates a Service. A non-positive window selects the default
// 48-hour prune window.
func NewService(composer *Composer, store DocumentStore, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultPruneWindow
	}
	return &Service{composer: composer, store: store, window: window}
}

// SyncAll loads the feed once and syncs every requested metric. Individual
// metric failures are logged and counted; the run fails only when nothing
// succeeded or the feed itself could not be loaded.
func (s *Service) SyncAll(ctx context.Context, abbrs []string) error {
	if len(abbrs) == 0 {
		return fmt.Errorf("no metrics configured")
	}

	snap, err := s.composer.Load(ctx)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, abbr := range abbrs {
		abbr := abbr
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.syncOne(ctx, snap, abbr); err != nil {
				log.Printf("sync failed for %s: %v", abbr, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failed == len(abbrs) {
		return fmt.Errorf("all %d metrics failed to sync", failed)
	}
	if failed > 0 {
		log.Printf("sync completed with %d/%d metrics failed", failed, len(abbrs))
	}
	return nil
}

func (s *Service) syncOne(ctx context.Context, snap *Snapshot, abbr string) error {
	incoming, err := snap.Compose(abbr)
	if err != nil {
		return err
	}
	if err := incoming.Validate(); err != nil {
		return fmt.Errorf("invalid document for %s: %w", abbr, err)
	}

	existing, err := s.store.Get(ctx, abbr)
	switch {
	case errors.Is(err, ErrNotFound):
		// First write for this metric: full document, nothing to prune.
		s.warnIfOversized(incoming)
		if err := s.store.Set(ctx, abbr, incoming); err != nil {
			return err
		}
		log.Printf("replace %s (observations=%d)", abbr, len(incoming.Observations))
		return nil
	case err != nil:
		return err
	}

	before := len(existing.Observations)
	merged := MergeIncremental(existing, incoming, s.window)
	s.warnIfOversized(merged)
	if err := s.store.Set(ctx, abbr, merged); err != nil {
		return err
	}
	log.Printf("incremental %s: had %d, kept %d after %s prune",
		abbr, before, len(merged.Observations), s.window)
	return nil
}

func (s *Service) warnIfOversized(doc *MetricDocument) {
	if size := doc.ApproxSize(); size >= SizeWarnBytes {
		log.Printf("WARN: %s: estimated document size %.1f KB may approach the backend 1 MiB limit",
			doc.Abbreviation, float64(size)/1024)
	}
}

// Get returns the stored document for one metric.
func (s *Service) Get(ctx context.Context, abbr string) (*MetricDocument, error) {
	return s.store.Get(ctx, abbr)
}

// Export returns every stored document keyed by abbreviation.
func (s *Service) Export(ctx context.Context) (map[string]*MetricDocument, error) {
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*MetricDocument, len(docs))
	for _, d := range docs {
		out[d.Abbreviation] = d
	}
	return out, nil
}

// Observations returns a metric's observations filtered by station id and
// inclusive time range; zero time bounds are open.
func (s *Service) Observations(ctx context.Context, abbr, stationID string, from, to time.Time) ([]Observation, error) {
	doc, err := s.store.Get(ctx, abbr)
	if err != nil {
		return nil, err
	}

	var out []Observation
	for _, o := range doc.Observations {
		if stationID != "" && o.StationID != stationID {
			continue
		}
		if o.DatetimeEpoch == nil {
			continue
		}
		ts := time.Unix(*o.DatetimeEpoch, 0).UTC()
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return epochOrMin(out[i]) < epochOrMin(out[j])
	})
	return out, nil
}
