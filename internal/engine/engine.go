// Package engine runs refresh cycles over the ingestion sources and owns the
// live and playback state shown to operators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/sitwatch/internal/baseline"
	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/cluster"
	"github.com/rewired-gh/sitwatch/internal/correlation"
	"github.com/rewired-gh/sitwatch/internal/history"
	"github.com/rewired-gh/sitwatch/internal/hotspot"
	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/snapshot"
)

const (
	DefaultFetchConcurrency = 4
	DefaultFetchTimeout     = 30 * time.Second

	eventBuffer = 64
)

// ErrPlayback is returned by live-only operations while a snapshot is being replayed.
var ErrPlayback = errors.New("engine is in playback mode")

type Config struct {
	// NewsCategories maps a category name to its feed URLs.
	NewsCategories   map[string][]string
	MarketSymbols    []string
	FetchConcurrency int
	FetchTimeout     time.Duration
}

// Deps are the collaborators of an Engine. Fetchers and notifiers are
// optional; everything else is required.
type Deps struct {
	News        NewsFetcher
	Markets     MarketFetcher
	Predictions PredictionFetcher
	Seismic     SeismicFetcher
	Notifiers   []Notifier

	Baselines  *baseline.Store
	Clusterer  *cluster.Clusterer
	Hotspots   *hotspot.Registry
	Correlator *correlation.Engine
	History    *history.History
	Snapshots  *snapshot.Store
	Clock      clock.Clock
}

type Engine struct {
	config     Config
	deps       Deps
	clock      clock.Clock
	categories []string

	// cycleMu serialises every state mutation: cycles, saves and playback changes.
	cycleMu      sync.Mutex
	live         *State
	liveHotspots []models.Hotspot

	playback atomic.Bool
	state    atomic.Pointer[State]
	events   chan Event
}

func New(config Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Baselines == nil:
		return nil, errors.New("baseline store is required")
	case deps.Clusterer == nil:
		return nil, errors.New("clusterer is required")
	case deps.Hotspots == nil:
		return nil, errors.New("hotspot registry is required")
	case deps.Correlator == nil:
		return nil, errors.New("correlation engine is required")
	case deps.History == nil:
		return nil, errors.New("signal history is required")
	case deps.Snapshots == nil:
		return nil, errors.New("snapshot store is required")
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = DefaultFetchConcurrency
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	categories := make([]string, 0, len(config.NewsCategories))
	for name := range config.NewsCategories {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	e := &Engine{
		config:     config,
		deps:       deps,
		clock:      clk,
		categories: categories,
		live:       &State{Mode: ModeLive, News: map[string]CategoryState{}},
		events:     make(chan Event, eventBuffer),
	}
	e.state.Store(e.live)
	return e, nil
}

// Events delivers engine notifications. Events are dropped when the
// consumer falls behind.
func (e *Engine) Events() <-chan Event { return e.events }

// State returns the most recently published state.
func (e *Engine) State() *State { return e.state.Load() }

func (e *Engine) InPlayback() bool { return e.playback.Load() }

// Categories returns the status of every source as of the latest cycle.
func (e *Engine) Categories() []models.CategoryStatus {
	return append([]models.CategoryStatus(nil), e.State().Statuses...)
}

func (e *Engine) Hotspots() []models.Hotspot { return e.deps.Hotspots.Snapshot() }

// RecentSignals returns up to n of the latest signals, oldest first.
func (e *Engine) RecentSignals(n int) []models.Signal { return e.deps.History.Recent(n) }

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	select {
	case e.events <- ev:
	default:
		logger.Debug("Event channel full, dropping %s event", ev.Kind)
	}
}

type newsResult struct {
	category string
	items    []models.NewsItem
	err      error
}

type fetched struct {
	news           []newsResult
	markets        []models.MarketData
	marketsErr     error
	predictions    []models.PredictionMarket
	predictionsErr error
	quakes         []models.Earthquake
	quakesErr      error
}

// fetchAll queries every enabled source concurrently. A failing source only
// affects its own result.
func (e *Engine) fetchAll(ctx context.Context) *fetched {
	f := &fetched{
		news:           make([]newsResult, len(e.categories)),
		marketsErr:     errDisabled,
		predictionsErr: errDisabled,
		quakesErr:      errDisabled,
	}

	var g errgroup.Group
	g.SetLimit(e.config.FetchConcurrency)

	for i, category := range e.categories {
		i, category := i, category
		f.news[i] = newsResult{category: category, err: errDisabled}
		if e.deps.News == nil {
			continue
		}
		feeds := e.config.NewsCategories[category]
		g.Go(func() error {
			items, err := fetchWithTimeout(ctx, e.config.FetchTimeout, func(ctx context.Context) ([]models.NewsItem, error) {
				return e.deps.News.FetchItems(ctx, category, feeds)
			})
			f.news[i] = newsResult{category: category, items: items, err: err}
			return nil
		})
	}
	if e.deps.Markets != nil {
		g.Go(func() error {
			f.markets, f.marketsErr = fetchWithTimeout(ctx, e.config.FetchTimeout, func(ctx context.Context) ([]models.MarketData, error) {
				return e.deps.Markets.FetchMarkets(ctx, e.config.MarketSymbols)
			})
			return nil
		})
	}
	if e.deps.Predictions != nil {
		g.Go(func() error {
			f.predictions, f.predictionsErr = fetchWithTimeout(ctx, e.config.FetchTimeout, e.deps.Predictions.FetchPredictions)
			return nil
		})
	}
	if e.deps.Seismic != nil {
		g.Go(func() error {
			f.quakes, f.quakesErr = fetchWithTimeout(ctx, e.config.FetchTimeout, e.deps.Seismic.FetchEarthquakes)
			return nil
		})
	}

	_ = g.Wait()
	return f
}

func fetchWithTimeout[T any](ctx context.Context, timeout time.Duration, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fetch(fetchCtx)
}

// RunCycle fetches every source, updates baselines, clusters news, rescores
// hotspots and correlates the result. Sources that fail keep their previous
// data and are reported with an error status. The cycle is skipped in playback.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	started := e.clock.Now()
	if e.playback.Load() {
		return CycleReport{Started: started, Skipped: true}
	}
	logger.Info("Starting refresh cycle")

	f := e.fetchAll(ctx)

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if e.playback.Load() {
		logger.Info("Playback started during fetch, discarding cycle results")
		return CycleReport{Started: started, Skipped: true}
	}

	now := e.clock.Now()
	prev := e.live
	next := &State{
		Mode:      ModeLive,
		UpdatedAt: now,
		News:      make(map[string]CategoryState, len(e.categories)),
	}
	var (
		failures []error
		enabled  int
		items    []models.NewsItem
	)
	track := func(status models.CategoryStatus, err error) {
		next.Statuses = append(next.Statuses, status)
		if errors.Is(err, errDisabled) {
			return
		}
		enabled++
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", status.Name, err))
		}
	}

	for _, r := range f.news {
		cs, status := e.applyNews(r, prev.News[r.category], now)
		next.News[r.category] = cs
		items = append(items, cs.Items...)
		track(status, r.err)
	}

	var status models.CategoryStatus
	next.Markets, status = resolve(SourceMarkets, f.markets, f.marketsErr, prev.Markets, now)
	track(status, f.marketsErr)
	next.Predictions, status = resolve(SourcePredictions, f.predictions, f.predictionsErr, prev.Predictions, now)
	track(status, f.predictionsErr)
	next.Earthquakes, status = resolve(SourceSeismic, f.quakes, f.quakesErr, prev.Earthquakes, now)
	track(status, f.quakesErr)

	// correlation must see this cycle's clusters
	next.Events = e.deps.Clusterer.Cluster(items)

	before := e.deps.Hotspots.Levels()
	hotspots := e.deps.Hotspots.Rescore(items, now)
	hotspotsChanged := !maps.Equal(before, e.deps.Hotspots.Levels())

	next.Signals = e.deps.Correlator.Analyze(next.Events, next.Predictions, next.Markets)
	if len(next.Signals) > 0 {
		if err := e.deps.History.Append(ctx, next.Signals); err != nil {
			e.emit(Event{Kind: EventError, Err: err})
		}
		e.notify(ctx, next.Signals)
	}

	e.live = next
	e.state.Store(next)

	report := CycleReport{
		Started:  started,
		Duration: e.clock.Now().Sub(started),
		Statuses: next.Statuses,
		Signals:  len(next.Signals),
	}
	if enabled > 0 && len(failures) == enabled {
		report.Err = fmt.Errorf("all %d sources failed: %w", enabled, errors.Join(failures...))
	}

	if hotspotsChanged {
		e.emit(Event{Kind: EventHotspotsChanged, At: now, Hotspots: hotspots})
	}
	if len(next.Signals) > 0 {
		e.emit(Event{Kind: EventSignals, At: now, Signals: next.Signals})
	}
	e.emit(Event{Kind: EventCycleCompleted, At: now, Err: report.Err})

	logger.Info("Refresh cycle completed in %v: %d items, %d events, %d signals, %d/%d sources failed",
		report.Duration, len(items), len(next.Events), len(next.Signals), len(failures), enabled)
	return report
}

// applyNews records a category's item count against its baseline. The
// deviation is measured before the observation is folded in.
func (e *Engine) applyNews(r newsResult, prev CategoryState, now time.Time) (CategoryState, models.CategoryStatus) {
	name := string(models.NewsMetric(r.category))
	cs := prev
	cs.Category = r.category

	switch {
	case errors.Is(r.err, errDisabled):
		return cs, models.CategoryStatus{Name: name, Status: models.StatusDisabled, UpdatedAt: now}
	case r.err != nil:
		logger.Warn("Fetching %s failed: %v", name, r.err)
		return cs, models.CategoryStatus{Name: name, Status: models.StatusError, Message: r.err.Error(), Count: len(cs.Items), UpdatedAt: now}
	}

	key := models.NewsMetric(r.category)
	observed := float64(len(r.items))
	current, _ := e.deps.Baselines.Get(key)
	cs.Deviation = baseline.Deviation(observed, current)
	cs.Baseline = e.deps.Baselines.Update(key, observed)
	cs.Items = r.items
	if cs.Deviation.Level != models.DeviationNormal {
		logger.Info("%s is %s: %d items (z=%.2f)", name, cs.Deviation.Level, len(r.items), cs.Deviation.ZScore)
	}
	return cs, models.CategoryStatus{Name: name, Status: models.StatusOK, Count: len(r.items), UpdatedAt: now}
}

func resolve[T any](name string, fresh []T, err error, prev []T, now time.Time) ([]T, models.CategoryStatus) {
	switch {
	case errors.Is(err, errDisabled):
		return nil, models.CategoryStatus{Name: name, Status: models.StatusDisabled, UpdatedAt: now}
	case err != nil:
		logger.Warn("Fetching %s failed: %v", name, err)
		return prev, models.CategoryStatus{Name: name, Status: models.StatusError, Message: err.Error(), Count: len(prev), UpdatedAt: now}
	}
	return fresh, models.CategoryStatus{Name: name, Status: models.StatusOK, Count: len(fresh), UpdatedAt: now}
}

func (e *Engine) notify(ctx context.Context, signals []models.Signal) {
	for _, n := range e.deps.Notifiers {
		if err := n.NotifySignals(ctx, signals); err != nil {
			logger.Error("Failed to notify %s of %d signals: %v", n.Name(), len(signals), err)
			e.emit(Event{Kind: EventError, Err: fmt.Errorf("%s: %w", n.Name(), err)})
			continue
		}
		logger.Debug("Sent %d signals to %s", len(signals), n.Name())
	}
}

// SaveSnapshot captures the live state. It returns ErrPlayback while a
// snapshot is being replayed.
func (e *Engine) SaveSnapshot(ctx context.Context) (time.Time, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if e.playback.Load() {
		return time.Time{}, ErrPlayback
	}

	snap := snapshot.Capture(e.clock.Now(), e.live.Events, e.live.Markets, e.live.Predictions,
		e.deps.Hotspots.Levels(), e.deps.Hotspots.Names())
	if err := e.deps.Snapshots.Save(ctx, snap); err != nil {
		return time.Time{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	logger.Debug("Saved snapshot %s (%d events)", snap.Timestamp.Format(time.RFC3339), len(snap.Events))
	e.emit(Event{Kind: EventSnapshotSaved, Snapshot: snap.Timestamp})
	return snap.Timestamp, nil
}

// EnterPlayback publishes the state stored in the snapshot at ts. Live
// refreshes and snapshot saves are suspended until ExitPlayback.
func (e *Engine) EnterPlayback(ts time.Time) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	snap, err := e.deps.Snapshots.Get(ts)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", ts.Format(time.RFC3339), err)
	}
	if !e.playback.Load() {
		e.liveHotspots = e.deps.Hotspots.Snapshot()
	}
	restored := snapshot.Restore(snap, e.deps.Hotspots.Names())
	e.playback.Store(true)
	e.deps.Hotspots.ApplyLevels(restored.HotspotLevels)

	e.state.Store(&State{
		Mode:        ModePlayback,
		UpdatedAt:   e.clock.Now(),
		PlaybackAt:  restored.Timestamp,
		Statuses:    e.live.Statuses,
		Events:      restored.Events,
		Markets:     restored.Markets,
		Predictions: restored.Predictions,
	})
	logger.Info("Entered playback at %s", restored.Timestamp.Format(time.RFC3339))
	e.emit(Event{Kind: EventPlaybackEntered, Snapshot: restored.Timestamp, Hotspots: e.deps.Hotspots.Snapshot()})
	return nil
}

// ExitPlayback republishes the last live state. It reports whether playback
// was active.
func (e *Engine) ExitPlayback() bool {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if !e.playback.Load() {
		return false
	}

	e.deps.Hotspots.Publish(e.liveHotspots)
	e.liveHotspots = nil
	e.state.Store(e.live)
	e.playback.Store(false)

	logger.Info("Exited playback")
	e.emit(Event{Kind: EventPlaybackExited, Hotspots: e.deps.Hotspots.Snapshot()})
	return true
}
