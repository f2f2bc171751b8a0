// Package snapshot persists point-in-time captures of derived state for playback.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/storage"
)

const (
	// DefaultRetentionDays is how long snapshots are kept before CleanOld removes them.
	DefaultRetentionDays = 7
	// DefaultSaveInterval is the period between live snapshot saves.
	DefaultSaveInterval = 15 * time.Minute
)

// Persistence is the durable snapshot table. *storage.Storage satisfies it.
type Persistence interface {
	SaveSnapshot(snap *models.Snapshot) error
	GetSnapshot(ts time.Time) (*models.Snapshot, error)
	ListSnapshots() ([]time.Time, error)
	DeleteSnapshotsBefore(cutoff time.Time) (int, error)
}

// Archiver receives snapshots that are about to be pruned.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, snaps []models.Snapshot) error
}

type Store struct {
	mu       sync.Mutex
	persist  Persistence
	archiver Archiver
	clock    clock.Clock
	// fallback holds snapshots whose durable write failed, keyed by Unix millis.
	fallback map[int64]models.Snapshot
}

// New returns a Store. persist and archiver may be nil.
func New(persist Persistence, archiver Archiver, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		persist:  persist,
		archiver: archiver,
		clock:    clk,
		fallback: make(map[int64]models.Snapshot),
	}
}

// Save writes snap keyed by its timestamp, replacing any snapshot with the same
// key. When the durable write fails the snapshot is kept in memory instead.
func (s *Store) Save(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.Timestamp.IsZero() {
		return errors.New("snapshot has no timestamp")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := snap.Timestamp.UnixMilli()
	if s.persist != nil {
		err := s.persist.SaveSnapshot(snap)
		if err == nil {
			delete(s.fallback, key)
			return nil
		}
		logger.Warn("Failed to persist snapshot %s, keeping it in memory: %v",
			snap.Timestamp.Format(time.RFC3339), err)
	}

	clone, err := deepCopy(snap)
	if err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	s.fallback[key] = *clone
	return nil
}

// Get returns the snapshot saved at ts. The error wraps storage.ErrNotFound
// when nothing is stored under that timestamp.
func (s *Store) Get(ts time.Time) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.fallback[ts.UnixMilli()]; ok {
		return deepCopy(&snap)
	}
	if s.persist == nil {
		return nil, fmt.Errorf("snapshot %s: %w", ts.Format(time.RFC3339), storage.ErrNotFound)
	}
	return s.persist.GetSnapshot(ts)
}

// List returns every stored snapshot timestamp in ascending order.
func (s *Store) List() ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() ([]time.Time, error) {
	seen := make(map[int64]bool)
	var out []time.Time

	if s.persist != nil {
		persisted, err := s.persist.ListSnapshots()
		if err != nil {
			if len(s.fallback) == 0 {
				return nil, fmt.Errorf("list snapshots: %w", err)
			}
			logger.Warn("Failed to list persisted snapshots: %v", err)
		}
		for _, ts := range persisted {
			seen[ts.UnixMilli()] = true
			out = append(out, ts)
		}
	}
	for ms := range s.fallback {
		if !seen[ms] {
			out = append(out, time.UnixMilli(ms).UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// CleanOld removes snapshots older than maxAgeDays, archiving them first when
// an Archiver is configured. A non-positive maxAgeDays uses DefaultRetentionDays.
// Snapshots are not deleted if archiving them fails.
func (s *Store) CleanOld(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultRetentionDays
	}
	cutoff := s.clock.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.archiver != nil {
		expired, err := s.expiredLocked(cutoff)
		if err != nil {
			return 0, err
		}
		if len(expired) > 0 {
			if err := s.archiver.ArchiveSnapshots(ctx, expired); err != nil {
				return 0, fmt.Errorf("archive expired snapshots: %w", err)
			}
			logger.Info("Archived %d expired snapshots", len(expired))
		}
	}

	removed := 0
	for ms := range s.fallback {
		if time.UnixMilli(ms).Before(cutoff) {
			delete(s.fallback, ms)
			removed++
		}
	}
	if s.persist != nil {
		n, err := s.persist.DeleteSnapshotsBefore(cutoff)
		if err != nil {
			return removed, fmt.Errorf("clean old snapshots: %w", err)
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) expiredLocked(cutoff time.Time) ([]models.Snapshot, error) {
	timestamps, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	var expired []models.Snapshot
	for _, ts := range timestamps {
		if !ts.Before(cutoff) {
			break
		}
		if snap, ok := s.fallback[ts.UnixMilli()]; ok {
			expired = append(expired, snap)
			continue
		}
		snap, err := s.persist.GetSnapshot(ts)
		if err != nil {
			return nil, fmt.Errorf("load expired snapshot: %w", err)
		}
		expired = append(expired, *snap)
	}
	return expired, nil
}

func deepCopy(snap *models.Snapshot) (*models.Snapshot, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var out models.Snapshot
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
