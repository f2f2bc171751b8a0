package engine

import (
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
)

type Mode string

const (
	ModeLive     Mode = "live"
	ModePlayback Mode = "playback"
)

// CategoryState is what the dashboard renders for one news category.
type CategoryState struct {
	Category  string
	Items     []models.NewsItem
	Deviation models.DeviationResult
	Baseline  models.Baseline
}

// State is an immutable view published after every cycle or playback change.
// Callers must not modify it.
type State struct {
	Mode       Mode
	UpdatedAt  time.Time
	PlaybackAt time.Time

	News        map[string]CategoryState
	Statuses    []models.CategoryStatus
	Events      []models.ClusteredEvent
	Markets     []models.MarketData
	Predictions []models.PredictionMarket
	Earthquakes []models.Earthquake
	// Signals holds only those produced by the latest cycle.
	Signals []models.Signal
}

type EventKind string

const (
	EventCycleCompleted  EventKind = "cycle_completed"
	EventSignals         EventKind = "signals"
	EventHotspotsChanged EventKind = "hotspots_changed"
	EventSnapshotSaved   EventKind = "snapshot_saved"
	EventPlaybackEntered EventKind = "playback_entered"
	EventPlaybackExited  EventKind = "playback_exited"
	EventError           EventKind = "error"
)

// Event is emitted on the engine's event channel. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind     EventKind
	At       time.Time
	Signals  []models.Signal
	Hotspots []models.Hotspot
	// Snapshot is the timestamp saved or restored.
	Snapshot time.Time
	Err      error
}

// CycleReport summarises one refresh cycle.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Statuses []models.CategoryStatus
	Signals  int
	Skipped  bool
	// Err is set when every enabled source failed.
	Err error
}

func (r CycleReport) Failed() bool { return r.Err != nil }
