package baseline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Storage) {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewStore(s, clock.NewManual(time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC))), s
}

// failingPersistence simulates an unavailable database.
type failingPersistence struct{}

var errUnavailable = errors.New("database unavailable")

func (failingPersistence) LoadBaseline(models.MetricKey) (*models.Baseline, error) {
	return nil, errUnavailable
}
func (failingPersistence) LoadAllBaselines() (map[models.MetricKey]*models.Baseline, error) {
	return nil, errUnavailable
}
func (failingPersistence) SaveBaseline(*models.Baseline) error { return errUnavailable }

func TestUpdateWelford(t *testing.T) {
	var b models.Baseline
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		UpdateWelford(&b, v)
	}
	if b.SampleCount != 8 {
		t.Fatalf("SampleCount = %d, want 8", b.SampleCount)
	}
	if math.Abs(b.Mean-5) > 1e-12 {
		t.Errorf("Mean = %f, want 5", b.Mean)
	}
	// sum of squared deviations is 32
	if math.Abs(b.M2-32) > 1e-9 {
		t.Errorf("M2 = %f, want 32", b.M2)
	}
}

func TestDeviation_LevelBoundaries(t *testing.T) {
	// mean 10, stddev exactly 1
	b := models.Baseline{Mean: 10, M2: 1, SampleCount: 2}

	tests := []struct {
		name     string
		observed float64
		want     models.DeviationLevel
	}{
		{"at mean", 10, models.DeviationNormal},
		{"just below elevated", 11.4999, models.DeviationNormal},
		{"exactly elevated", 11.5, models.DeviationElevated},
		{"just below high", 12.4999, models.DeviationElevated},
		{"exactly high", 12.5, models.DeviationHigh},
		{"far above", 30, models.DeviationHigh},
		{"negative elevated", 8.5, models.DeviationElevated},
		{"negative just below elevated", 8.5001, models.DeviationNormal},
		{"negative high", 7.5, models.DeviationHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Deviation(tt.observed, b)
			if got.Level != tt.want {
				t.Errorf("Deviation(%v).Level = %s (z=%f), want %s", tt.observed, got.Level, got.ZScore, tt.want)
			}
		})
	}
}

func TestDeviation_NeverNaN(t *testing.T) {
	baselines := []models.Baseline{
		{},
		{Mean: 0, SampleCount: 1},
		{Mean: 5, SampleCount: 1},
		{Mean: 5, M2: 0, SampleCount: 10}, // zero spread with history
		{Mean: -3, M2: 0, SampleCount: 2},
	}
	for _, b := range baselines {
		for _, v := range []float64{0, 1, 25, -4, 1e6} {
			got := Deviation(v, b)
			if math.IsNaN(got.ZScore) || math.IsInf(got.ZScore, 0) {
				t.Errorf("Deviation(%v, %+v) z = %v", v, b, got.ZScore)
			}
			if math.IsNaN(got.PercentChange) {
				t.Errorf("Deviation(%v, %+v) percent = NaN", v, b)
			}
		}
	}
}

func TestDeviation_FewSamplesIsNormal(t *testing.T) {
	got := Deviation(25, models.Baseline{Mean: 10, SampleCount: 1})
	if got.Level != models.DeviationNormal || got.ZScore != 0 {
		t.Errorf("got %+v, want normal with z=0", got)
	}
	if got.PercentChange != 150 {
		t.Errorf("PercentChange = %f, want 150", got.PercentChange)
	}
}

func TestStore_PoliticsScenario(t *testing.T) {
	store, _ := newTestStore(t)
	key := models.NewsMetric("politics")

	first := store.Update(key, 10)
	if first.Mean != 10 || first.SampleCount != 1 {
		t.Fatalf("first update = %+v", first)
	}

	// 25 items against a single-sample baseline
	dev := Deviation(25, first)
	if dev.Level != models.DeviationNormal {
		t.Errorf("level with one sample = %s, want normal", dev.Level)
	}

	second := store.Update(key, 25)
	if second.Mean != 17.5 || second.SampleCount != 2 {
		t.Fatalf("second update = %+v", second)
	}

	dev = Deviation(25, second)
	if math.Abs(dev.ZScore-7.5/math.Sqrt(112.5)) > 1e-9 {
		t.Errorf("z = %f, want %f", dev.ZScore, 7.5/math.Sqrt(112.5))
	}
	if dev.Level != models.DeviationNormal {
		t.Errorf("level = %s, want normal", dev.Level)
	}

	store.Update(key, 17)
	established := store.Update(key, 18)
	if established.SampleCount != 4 {
		t.Fatalf("SampleCount = %d, want 4", established.SampleCount)
	}

	if got := Deviation(27, established).Level; got != models.DeviationElevated {
		t.Errorf("27 items: level = %s, want elevated", got)
	}
	if got := Deviation(40, established).Level; got != models.DeviationHigh {
		t.Errorf("40 items: level = %s, want high", got)
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	store, db := newTestStore(t)
	key := models.NewsMetric("tech")
	store.Update(key, 4)
	store.Update(key, 6)

	reopened := NewStore(db, nil)
	got, ok := reopened.Get(key)
	if !ok {
		t.Fatal("baseline not found after reopen")
	}
	if got.SampleCount != 2 || got.Mean != 5 {
		t.Errorf("reloaded baseline = %+v", got)
	}

	if n := NewStore(db, nil).Warm(); n != 1 {
		t.Errorf("Warm() loaded %d, want 1", n)
	}
}

func TestStore_DegradesWhenPersistenceFails(t *testing.T) {
	store := NewStore(failingPersistence{}, nil)
	key := models.NewsMetric("world")

	var prev int
	for i, v := range []float64{3, 5, 7} {
		b := store.Update(key, v)
		if b.SampleCount != i+1 {
			t.Fatalf("SampleCount = %d, want %d", b.SampleCount, i+1)
		}
		if b.SampleCount < prev {
			t.Fatal("sample count decreased")
		}
		prev = b.SampleCount
	}
	got, ok := store.Get(key)
	if !ok || got.Mean != 5 {
		t.Errorf("in-memory baseline = %+v, ok=%v", got, ok)
	}
	if n := store.Warm(); n != 0 {
		t.Errorf("Warm() = %d with failing persistence", n)
	}
}

// flakyReads wraps real storage and fails loads while down is set.
type flakyReads struct {
	*storage.Storage
	down bool
}

func (f *flakyReads) LoadBaseline(key models.MetricKey) (*models.Baseline, error) {
	if f.down {
		return nil, errUnavailable
	}
	return f.Storage.LoadBaseline(key)
}

func (f *flakyReads) LoadAllBaselines() (map[models.MetricKey]*models.Baseline, error) {
	if f.down {
		return nil, errUnavailable
	}
	return f.Storage.LoadAllBaselines()
}

func TestStore_UnreadableBaselineIsNotOverwritten(t *testing.T) {
	_, db := newTestStore(t)
	key := models.NewsMetric("politics")
	if err := db.SaveBaseline(&models.Baseline{Key: key, Mean: 12, M2: 398, SampleCount: 200}); err != nil {
		t.Fatal(err)
	}

	persist := &flakyReads{Storage: db, down: true}
	store := NewStore(persist, nil)
	store.Warm()

	if b := store.Update(key, 30); b.SampleCount != 1 {
		t.Fatalf("in-memory baseline = %+v", b)
	}
	stored, err := db.LoadBaseline(key)
	if err != nil || stored.SampleCount != 200 || stored.Mean != 12 {
		t.Fatalf("stored baseline overwritten: %+v (%v)", stored, err)
	}

	// once reads recover the two histories are merged before saving
	persist.down = false
	b := store.Update(key, 30)
	if b.SampleCount != 202 {
		t.Fatalf("SampleCount after recovery = %d, want 202", b.SampleCount)
	}
	wantMean := (12*200 + 30 + 30) / 202.0
	if math.Abs(b.Mean-wantMean) > 1e-9 {
		t.Errorf("Mean = %f, want %f", b.Mean, wantMean)
	}
	stored, err = db.LoadBaseline(key)
	if err != nil || stored.SampleCount != 202 {
		t.Errorf("stored after recovery = %+v (%v)", stored, err)
	}
}

func TestMerge(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	var all, a, b models.Baseline
	for i, v := range values {
		UpdateWelford(&all, v)
		if i < 3 {
			UpdateWelford(&a, v)
		} else {
			UpdateWelford(&b, v)
		}
	}
	got := Merge(a, b)
	if got.SampleCount != all.SampleCount || math.Abs(got.Mean-all.Mean) > 1e-12 || math.Abs(got.M2-all.M2) > 1e-9 {
		t.Errorf("Merge = %+v, want %+v", got, all)
	}
	if empty := Merge(models.Baseline{}, b); empty.SampleCount != b.SampleCount {
		t.Errorf("Merge with empty = %+v", empty)
	}
}

func TestStore_NilPersistence(t *testing.T) {
	store := NewStore(nil, nil)
	b := store.Update("news:x", 1)
	if b.SampleCount != 1 {
		t.Errorf("SampleCount = %d", b.SampleCount)
	}
	if _, ok := store.Get("news:missing"); ok {
		t.Error("expected missing baseline")
	}
}
