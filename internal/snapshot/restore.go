package snapshot

import (
	"sort"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// Capture builds a snapshot of live state at ts. Markets without a price are
// skipped and hotspot levels are limited to the names in known.
func Capture(ts time.Time, events []models.ClusteredEvent, markets []models.MarketData,
	predictions []models.PredictionMarket, levels map[string]models.HotspotLevel, known map[string]bool) *models.Snapshot {
	snap := &models.Snapshot{
		Timestamp:     ts.UTC().Truncate(time.Millisecond),
		Events:        append([]models.ClusteredEvent(nil), events...),
		MarketPrices:  make(map[string]float64, len(markets)),
		Predictions:   make([]models.PredictionPoint, 0, len(predictions)),
		HotspotLevels: make(map[string]models.HotspotLevel, len(levels)),
	}
	for _, m := range markets {
		if m.Price != nil {
			snap.MarketPrices[m.Symbol] = *m.Price
		}
	}
	for _, p := range predictions {
		snap.Predictions = append(snap.Predictions, models.PredictionPoint{Title: p.Title, YesPrice: p.YesPrice})
	}
	for name, lvl := range levels {
		if known[name] {
			snap.HotspotLevels[name] = lvl
		}
	}
	return snap
}

// Restored is the state reproduced from a snapshot.
type Restored struct {
	Timestamp     time.Time
	Events        []models.ClusteredEvent
	Markets       []models.MarketData
	Predictions   []models.PredictionMarket
	HotspotLevels map[string]models.HotspotLevel
}

// Restore rebuilds events, market prices, predictions and hotspot levels as of
// snap. Markets come back sorted by symbol with no change figure; hotspot
// names not in known are dropped.
func Restore(snap *models.Snapshot, known map[string]bool) Restored {
	r := Restored{
		Timestamp:     snap.Timestamp,
		Events:        append([]models.ClusteredEvent(nil), snap.Events...),
		Markets:       make([]models.MarketData, 0, len(snap.MarketPrices)),
		Predictions:   make([]models.PredictionMarket, 0, len(snap.Predictions)),
		HotspotLevels: make(map[string]models.HotspotLevel, len(snap.HotspotLevels)),
	}

	symbols := make([]string, 0, len(snap.MarketPrices))
	for sym := range snap.MarketPrices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		price := snap.MarketPrices[sym]
		r.Markets = append(r.Markets, models.MarketData{Symbol: sym, Price: &price})
	}

	for _, p := range snap.Predictions {
		r.Predictions = append(r.Predictions, models.PredictionMarket{
			Title:    p.Title,
			YesPrice: p.YesPrice,
			NoPrice:  1 - p.YesPrice,
		})
	}

	for name, lvl := range snap.HotspotLevels {
		if known[name] {
			r.HotspotLevels[name] = lvl
		}
	}
	return r
}
