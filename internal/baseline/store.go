// Package baseline keeps rolling per-metric baselines and measures deviation from them.
package baseline

import (
	"sync"

	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
)

// Persistence is the durable side of the store. Implemented by *storage.Storage.
type Persistence interface {
	LoadBaseline(key models.MetricKey) (*models.Baseline, error)
	LoadAllBaselines() (map[models.MetricKey]*models.Baseline, error)
	SaveBaseline(b *models.Baseline) error
}

// Store owns every baseline in memory and writes through to persistence.
// Persistence failures are logged; the in-memory baseline stays authoritative.
type Store struct {
	mu        sync.Mutex
	persist   Persistence
	clock     clock.Clock
	baselines map[models.MetricKey]*models.Baseline
	// unsynced holds keys whose persisted baseline could not be read. They are
	// not written back until a load succeeds and the two are merged.
	unsynced map[models.MetricKey]bool
}

// NewStore creates a store. persist may be nil for a purely in-memory store.
func NewStore(persist Persistence, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		persist:   persist,
		clock:     clk,
		baselines: make(map[models.MetricKey]*models.Baseline),
		unsynced:  make(map[models.MetricKey]bool),
	}
}

// Warm loads every persisted baseline into memory.
func (s *Store) Warm() int {
	if s.persist == nil {
		return 0
	}
	loaded, err := s.persist.LoadAllBaselines()
	if err != nil {
		logger.Warn("Failed to load persisted baselines: %v", err)
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range loaded {
		if s.unsynced[k] {
			s.resync(k, b)
			continue
		}
		if cur, ok := s.baselines[k]; ok && cur.SampleCount >= b.SampleCount {
			continue
		}
		s.baselines[k] = b
	}
	return len(loaded)
}

// Get returns a copy of the baseline for key.
func (s *Store) Get(key models.MetricKey) (models.Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.getOrLoad(key)
	if !ok {
		return models.Baseline{Key: key}, false
	}
	return *b, true
}

// Update folds observed into the baseline for key, persists it, and returns a copy.
// A baseline whose persisted predecessor could not be read stays in memory
// only; it is merged with the stored one once a later load succeeds.
func (s *Store) Update(key models.MetricKey, observed float64) models.Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsynced[key] {
		s.retryLoad(key)
	}
	b, ok := s.getOrLoad(key)
	if !ok {
		b = &models.Baseline{Key: key}
		s.baselines[key] = b
	}

	UpdateWelford(b, observed)
	b.LastUpdated = s.clock.Now()

	if s.persist != nil && !s.unsynced[key] {
		if err := s.persist.SaveBaseline(b); err != nil {
			logger.Warn("Failed to persist baseline %s: %v", key, err)
		}
	}
	return *b
}

// getOrLoad must be called with mu held.
func (s *Store) getOrLoad(key models.MetricKey) (*models.Baseline, bool) {
	if b, ok := s.baselines[key]; ok {
		return b, true
	}
	if s.persist == nil {
		return nil, false
	}
	b, err := s.persist.LoadBaseline(key)
	if err != nil {
		logger.Warn("Failed to load baseline %s: %v", key, err)
		s.unsynced[key] = true
		return nil, false
	}
	if b == nil {
		return nil, false
	}
	s.baselines[key] = b
	return b, true
}

// retryLoad must be called with mu held.
func (s *Store) retryLoad(key models.MetricKey) {
	stored, err := s.persist.LoadBaseline(key)
	if err != nil {
		logger.Debug("Baseline %s still unreadable: %v", key, err)
		return
	}
	s.resync(key, stored)
}

// resync merges the in-memory baseline for key into stored, which may be nil.
// Must be called with mu held.
func (s *Store) resync(key models.MetricKey, stored *models.Baseline) {
	delete(s.unsynced, key)
	cur, ok := s.baselines[key]
	if stored == nil {
		return
	}
	if !ok {
		s.baselines[key] = stored
		return
	}
	merged := Merge(*stored, *cur)
	if cur.LastUpdated.After(merged.LastUpdated) {
		merged.LastUpdated = cur.LastUpdated
	}
	s.baselines[key] = &merged
}
