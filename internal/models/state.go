package models

import (
	"math"
	"time"
)

// MetricKey namespaces a tracked quantity, e.g. "news:politics".
type MetricKey string

// NewsMetric returns the item-count metric key for a news category.
func NewsMetric(category string) MetricKey {
	return MetricKey("news:" + category)
}

// Baseline is a rolling expectation kept with Welford's online algorithm.
type Baseline struct {
	Key         MetricKey
	Mean        float64
	M2          float64
	SampleCount int
	LastUpdated time.Time
}

// Variance returns the sample variance, or 0 with fewer than two samples.
func (b Baseline) Variance() float64 {
	if b.SampleCount < 2 {
		return 0
	}
	return b.M2 / float64(b.SampleCount-1)
}

// StdDev returns the sample standard deviation.
func (b Baseline) StdDev() float64 {
	return math.Sqrt(b.Variance())
}

type DeviationLevel string

const (
	DeviationNormal   DeviationLevel = "normal"
	DeviationElevated DeviationLevel = "elevated"
	DeviationHigh     DeviationLevel = "high"
)

type DeviationResult struct {
	ZScore        float64        `json:"z_score"`
	PercentChange float64        `json:"percent_change"`
	Level         DeviationLevel `json:"level"`
}

type HotspotLevel string

const (
	HotspotLow      HotspotLevel = "low"
	HotspotElevated HotspotLevel = "elevated"
	HotspotHigh     HotspotLevel = "high"
)

// Hotspot is a named location tracked for keyword-matched activity.
// Name is the identity and must be unique.
type Hotspot struct {
	Name         string       `json:"name" mapstructure:"name"`
	Lat          float64      `json:"lat" mapstructure:"lat"`
	Lon          float64      `json:"lon" mapstructure:"lon"`
	Keywords     []string     `json:"keywords" mapstructure:"keywords"`
	Level        HotspotLevel `json:"level" mapstructure:"-"`
	Status       string       `json:"status" mapstructure:"-"`
	HasBreaking  bool         `json:"has_breaking" mapstructure:"-"`
	MatchedCount int          `json:"matched_count" mapstructure:"-"`
	Score        int          `json:"score" mapstructure:"-"`
}

type SignalKind string

const (
	SignalPredictionShift      SignalKind = "prediction_shift"
	SignalMarketMove           SignalKind = "market_move"
	SignalNewsVelocity         SignalKind = "news_velocity"
	SignalPredictionDivergence SignalKind = "prediction_divergence"
)

// Signal is an immutable correlation finding.
type Signal struct {
	ID                   string     `json:"id"`
	Kind                 SignalKind `json:"kind"`
	RelatedEventID       string     `json:"related_event_id,omitempty"`
	RelatedMarketSymbols []string   `json:"related_market_symbols,omitempty"`
	RelatedPredictionIDs []string   `json:"related_prediction_ids,omitempty"`
	Confidence           float64    `json:"confidence"`
	Description          string     `json:"description"`
	CreatedAt            time.Time  `json:"created_at"`
}

// PredictionPoint is the compact prediction record kept in snapshots.
type PredictionPoint struct {
	Title    string  `json:"title"`
	YesPrice float64 `json:"yes_price"`
}

// Snapshot is a point-in-time capture of derived state, identified by Timestamp.
type Snapshot struct {
	Timestamp     time.Time               `json:"timestamp"`
	Events        []ClusteredEvent        `json:"events"`
	MarketPrices  map[string]float64      `json:"market_prices"`
	Predictions   []PredictionPoint       `json:"predictions"`
	HotspotLevels map[string]HotspotLevel `json:"hotspot_levels"`
}

const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDisabled = "disabled"
)

// CategoryStatus reports the outcome of fetching one data category.
type CategoryStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}
