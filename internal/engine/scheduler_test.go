package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
)

type fakeAlerter struct {
	mu         sync.Mutex
	errors     int
	recoveries []int
}

func (f *fakeAlerter) SendError(ctx context.Context, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors++
	return nil
}

func (f *fakeAlerter) SendRecovery(ctx context.Context, failureCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, failureCount)
	return nil
}

func (f *fakeAlerter) counts() (int, []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors, append([]int(nil), f.recoveries...)
}

func sampleSnapshot(ts time.Time) *models.Snapshot {
	return &models.Snapshot{
		Timestamp:     ts,
		MarketPrices:  map[string]float64{"CL=F": 80.5},
		HotspotLevels: map[string]models.HotspotLevel{"Iran": models.HotspotElevated},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// startScheduler runs s until the test ends and waits for its tickers, which
// are created once the startup tasks have finished.
func startScheduler(t *testing.T, h *harness, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, "scheduler tickers", func() bool { return h.clock.Tickers() == 3 })
	return cancel
}

func snapshotCount(t *testing.T, h *harness) int {
	t.Helper()
	list, err := h.engine.deps.Snapshots.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return len(list)
}

func TestScheduler_StartupAndTimers(t *testing.T) {
	h := newHarness(t, "world")
	h.news.set("world", quietItems("world", 3), nil)
	old := h.clock.Now().Add(-8 * 24 * time.Hour)
	if err := h.store.SaveSnapshot(sampleSnapshot(old)); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(h.engine, SchedulerConfig{RefreshInterval: 5 * time.Minute}, nil)
	startScheduler(t, h, s)

	if h.news.Calls() != 1 {
		t.Errorf("startup cycles = %d, want 1", h.news.Calls())
	}
	// the 8 day old snapshot is pruned before the first save
	list, err := h.engine.deps.Snapshots.List()
	if err != nil || len(list) != 1 || !list[0].Equal(h.clock.Now()) {
		t.Fatalf("snapshots after startup = %v (%v)", list, err)
	}

	h.clock.Advance(5 * time.Minute)
	waitFor(t, "second cycle", func() bool { return h.news.Calls() == 2 })

	h.clock.Advance(10 * time.Minute)
	waitFor(t, "periodic snapshot", func() bool { return snapshotCount(t, h) == 2 })
	waitFor(t, "third cycle", func() bool { return h.news.Calls() == 3 })
}

func TestScheduler_FailureAndRecoveryNotices(t *testing.T) {
	h := newHarness(t, "world")
	h.news.set("world", nil, errors.New("dns failure"))
	h.preds.set(nil, errors.New("gamma api down"))
	alerter := &fakeAlerter{}

	s := NewScheduler(h.engine, SchedulerConfig{RefreshInterval: time.Minute}, alerter)
	startScheduler(t, h, s)
	ctx := context.Background()

	if err := s.RefreshNow(ctx); err == nil {
		t.Error("RefreshNow should report the failed cycle")
	}
	if errs, _ := alerter.counts(); errs != 1 {
		t.Errorf("error notices = %d, want 1 for consecutive failures", errs)
	}

	h.news.set("world", quietItems("world", 2), nil)
	if err := s.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	errs, recoveries := alerter.counts()
	if errs != 1 || len(recoveries) != 1 || recoveries[0] != 2 {
		t.Errorf("errors=%d recoveries=%v, want 1 and [2]", errs, recoveries)
	}
}

func TestScheduler_PlaybackCommands(t *testing.T) {
	h := newHarness(t, "middleeast")
	h.news.set("middleeast", iranItems(), nil)
	h.preds.set(iranPredictions(), nil)

	s := NewScheduler(h.engine, SchedulerConfig{}, nil)
	startScheduler(t, h, s)
	ctx := context.Background()
	saved := h.clock.Now()

	if err := s.EnterPlayback(ctx, saved); err != nil {
		t.Fatalf("EnterPlayback: %v", err)
	}
	if !h.engine.InPlayback() {
		t.Fatal("engine not in playback")
	}
	calls := h.news.Calls()
	if err := s.RefreshNow(ctx); !errors.Is(err, ErrPlayback) {
		t.Errorf("RefreshNow in playback = %v", err)
	}
	if h.news.Calls() != calls {
		t.Error("sources fetched during playback")
	}

	if err := s.ExitPlayback(ctx); err != nil {
		t.Fatalf("ExitPlayback: %v", err)
	}
	if h.engine.InPlayback() || h.engine.State().Mode != ModeLive {
		t.Error("still in playback")
	}
	if h.news.Calls() != calls+1 {
		t.Errorf("exit should refresh immediately, calls = %d", h.news.Calls())
	}
}

func TestScheduler_Stop(t *testing.T) {
	h := newHarness(t, "world")
	s := NewScheduler(h.engine, SchedulerConfig{}, nil)
	cancel := startScheduler(t, h, s)

	cancel()
	waitFor(t, "tickers stopped", func() bool { return h.clock.Tickers() == 0 })
	<-s.done
	if err := s.RefreshNow(context.Background()); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("RefreshNow after stop = %v", err)
	}
}
