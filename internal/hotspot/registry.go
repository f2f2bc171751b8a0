package hotspot

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// Registry publishes the current hotspot set. Readers always get a complete
// set from one pass; writers build a new slice and swap it in.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[[]models.Hotspot]
}

// NewRegistry validates names and starts every hotspot idle.
func NewRegistry(hotspots []models.Hotspot) (*Registry, error) {
	seen := make(map[string]bool, len(hotspots))
	set := make([]models.Hotspot, len(hotspots))
	for i, h := range hotspots {
		if h.Name == "" {
			return nil, fmt.Errorf("hotspot %d has no name", i)
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("duplicate hotspot name %q", h.Name)
		}
		seen[h.Name] = true
		h.Keywords = append([]string(nil), h.Keywords...)
		h.Level = models.HotspotLow
		h.Status = StatusMonitoring
		h.HasBreaking = false
		h.MatchedCount = 0
		h.Score = 0
		set[i] = h
	}
	r := &Registry{}
	r.current.Store(&set)
	return r, nil
}

// Snapshot returns a copy of the current set.
func (r *Registry) Snapshot() []models.Hotspot {
	cur := *r.current.Load()
	out := make([]models.Hotspot, len(cur))
	copy(out, cur)
	return out
}

// Names returns every known hotspot name.
func (r *Registry) Names() map[string]bool {
	cur := *r.current.Load()
	names := make(map[string]bool, len(cur))
	for _, h := range cur {
		names[h.Name] = true
	}
	return names
}

// Levels returns the current level of every hotspot keyed by name.
func (r *Registry) Levels() map[string]models.HotspotLevel {
	cur := *r.current.Load()
	levels := make(map[string]models.HotspotLevel, len(cur))
	for _, h := range cur {
		levels[h.Name] = h.Level
	}
	return levels
}

// Rescore runs a full scoring pass over items and publishes the result atomically.
func (r *Registry) Rescore(items []models.NewsItem, now time.Time) []models.Hotspot {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.current.Load()
	assessments := Score(cur, items, now)

	next := make([]models.Hotspot, len(cur))
	for i, h := range cur {
		a := assessments[h.Name]
		h.Level = a.Level
		h.Status = a.Status
		h.HasBreaking = a.HasBreaking
		h.MatchedCount = a.MatchedCount
		h.Score = a.Score
		next[i] = h
	}
	r.current.Store(&next)
	return r.Snapshot()
}

// ApplyLevels publishes levels restored from a snapshot. Unknown names are
// ignored; hotspots absent from levels fall back to idle.
func (r *Registry) ApplyLevels(levels map[string]models.HotspotLevel) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.current.Load()
	next := make([]models.Hotspot, len(cur))
	for i, h := range cur {
		h.HasBreaking = false
		h.MatchedCount = 0
		h.Score = 0
		if lvl, ok := levels[h.Name]; ok && validLevel(lvl) {
			h.Level = lvl
			h.Status = restoredStatus(lvl)
		} else {
			h.Level = models.HotspotLow
			h.Status = StatusMonitoring
		}
		next[i] = h
	}
	r.current.Store(&next)
}

// Publish replaces the set with a copy of hotspots, as returned by Snapshot.
// Hotspots with unknown names are ignored; known ones missing from the
// argument keep their current values.
func (r *Registry) Publish(hotspots []models.Hotspot) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	byName := make(map[string]models.Hotspot, len(hotspots))
	for _, h := range hotspots {
		byName[h.Name] = h
	}
	cur := *r.current.Load()
	next := make([]models.Hotspot, len(cur))
	for i, h := range cur {
		if saved, ok := byName[h.Name]; ok {
			h = saved
		}
		next[i] = h
	}
	r.current.Store(&next)
}

func validLevel(l models.HotspotLevel) bool {
	return l == models.HotspotLow || l == models.HotspotElevated || l == models.HotspotHigh
}

func restoredStatus(l models.HotspotLevel) string {
	switch l {
	case models.HotspotHigh:
		return StatusHigh
	case models.HotspotElevated:
		return StatusElevated
	default:
		return StatusMonitoring
	}
}
