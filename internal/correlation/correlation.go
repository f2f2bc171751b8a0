// Package correlation cross-references clustered news events with prediction
// markets and financial instruments and emits signals when they line up.
package correlation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/textmatch"
)

const Epsilon = 1e-9

type Config struct {
	MinEventSize      int
	MinKeywordOverlap int
	// PredictionMove is the absolute 24h yes-price change that counts as a move.
	PredictionMove float64
	// MarketMovePct is the absolute percent change that counts as a market move.
	MarketMovePct    float64
	VelocityMinItems int
	VelocityWindow   time.Duration
	// CategorySymbols maps a news category to the market symbols it moves.
	CategorySymbols map[string][]string
}

func DefaultConfig() Config {
	return Config{
		MinEventSize:      2,
		MinKeywordOverlap: 2,
		PredictionMove:    0.05,
		MarketMovePct:     2.0,
		VelocityMinItems:  4,
		VelocityWindow:    2 * time.Hour,
		CategorySymbols: map[string][]string{
			"finance":    {"^GSPC", "^DJI", "^IXIC"},
			"energy":     {"CL=F", "XLE"},
			"middleeast": {"CL=F", "GC=F"},
			"crypto":     {"BTC-USD", "ETH-USD"},
			"tech":       {"^IXIC", "NVDA"},
			"gov":        {"^GSPC", "GC=F"},
		},
	}
}

// Engine holds configuration only; Analyze keeps no state between calls.
type Engine struct {
	config Config
	clock  clock.Clock
}

func New(config Config, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{config: config, clock: clk}
}

type eventView struct {
	event      *models.ClusteredEvent
	categories []string
	tokens     textmatch.Set
}

type predictionView struct {
	prediction *models.PredictionMarket
	tokens     textmatch.Set
	matched    bool
}

type collector struct {
	seen    map[string]bool
	signals []models.Signal
	now     time.Time
}

func (c *collector) add(key string, s models.Signal) {
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	s.ID = uuid.NewString()
	s.Confidence = clamp01(s.Confidence)
	s.CreatedAt = c.now
	c.signals = append(c.signals, s)
}

// Analyze returns the signals found in one pass over its inputs. Empty events,
// or no predictions and no markets, yield no signals. None of the arguments
// are modified.
func (e *Engine) Analyze(events []models.ClusteredEvent, predictions []models.PredictionMarket, markets []models.MarketData) []models.Signal {
	if len(events) == 0 || (len(predictions) == 0 && len(markets) == 0) {
		return nil
	}

	c := &collector{seen: make(map[string]bool), now: e.clock.Now()}

	preds := make([]predictionView, len(predictions))
	for i := range predictions {
		preds[i] = predictionView{
			prediction: &predictions[i],
			tokens:     textmatch.NewSet(textmatch.Tokens(predictions[i].Title)),
		}
	}

	bySymbol := make(map[string]*models.MarketData, len(markets))
	for i := range markets {
		if _, dup := bySymbol[markets[i].Symbol]; !dup {
			bySymbol[markets[i].Symbol] = &markets[i]
		}
	}

	for i := range events {
		ev := eventView{
			event:      &events[i],
			categories: sortedCategories(events[i].CategoryMix),
			tokens:     eventTokens(&events[i]),
		}

		var related []*models.PredictionMarket
		for j := range preds {
			if textmatch.Overlap(ev.tokens, preds[j].tokens) >= e.config.MinKeywordOverlap {
				preds[j].matched = true
				related = append(related, preds[j].prediction)
			}
		}
		symbols := e.symbolsFor(ev.categories, bySymbol)

		e.predictionShifts(c, ev, related)
		e.marketMoves(c, ev, symbols, bySymbol)
		e.newsVelocity(c, ev, related, symbols)
	}

	e.divergences(c, preds)
	return c.signals
}

func (e *Engine) predictionShifts(c *collector, ev eventView, related []*models.PredictionMarket) {
	if ev.event.Size() < e.config.MinEventSize {
		return
	}
	for _, p := range related {
		move := math.Abs(p.PriceChange24h)
		if move < e.config.PredictionMove {
			continue
		}
		conf := 0.4*ratio(float64(ev.event.Size()), float64(2*e.config.MinEventSize)) +
			0.4*ratio(move, 4*e.config.PredictionMove) +
			0.2*liquidityPressure(*p)
		c.add(key(models.SignalPredictionShift, ev.event.ID, p.ID), models.Signal{
			Kind:                 models.SignalPredictionShift,
			RelatedEventID:       ev.event.ID,
			RelatedPredictionIDs: []string{p.ID},
			Confidence:           conf,
			Description: fmt.Sprintf("%q (%d reports) alongside %q moving %+.1f pts to %.0f%%",
				ev.event.RepresentativeTitle, ev.event.Size(), p.Title, p.PriceChange24h*100, p.YesPrice*100),
		})
	}
}

func (e *Engine) marketMoves(c *collector, ev eventView, symbols []string, bySymbol map[string]*models.MarketData) {
	if !ev.event.HasAlert && ev.event.Size() < e.config.MinEventSize {
		return
	}
	for _, sym := range symbols {
		m := bySymbol[sym]
		if m.Price == nil || math.Abs(m.Change) < e.config.MarketMovePct {
			continue
		}
		conf := 0.3 + 0.4*ratio(math.Abs(m.Change), 3*e.config.MarketMovePct)
		if ev.event.HasAlert {
			conf += 0.3
		}
		c.add(key(models.SignalMarketMove, ev.event.ID, sym), models.Signal{
			Kind:                 models.SignalMarketMove,
			RelatedEventID:       ev.event.ID,
			RelatedMarketSymbols: []string{sym},
			Confidence:           conf,
			Description: fmt.Sprintf("%s %+.2f%% at %.2f while %q develops",
				sym, m.Change, *m.Price, ev.event.RepresentativeTitle),
		})
	}
}

func (e *Engine) newsVelocity(c *collector, ev eventView, related []*models.PredictionMarket, symbols []string) {
	if e.config.VelocityMinItems <= 0 || (len(related) == 0 && len(symbols) == 0) {
		return
	}
	recent := 0
	for _, m := range ev.event.Members {
		if c.now.Sub(m.PublishedAt) <= e.config.VelocityWindow {
			recent++
		}
	}
	if recent < e.config.VelocityMinItems {
		return
	}

	ids := make([]string, len(related))
	for i, p := range related {
		ids[i] = p.ID
	}
	conf := 0.7 * ratio(float64(recent), float64(2*e.config.VelocityMinItems))
	if ev.event.HasAlert {
		conf += 0.3
	}
	c.add(key(models.SignalNewsVelocity, ev.event.ID, ""), models.Signal{
		Kind:                 models.SignalNewsVelocity,
		RelatedEventID:       ev.event.ID,
		RelatedMarketSymbols: symbols,
		RelatedPredictionIDs: ids,
		Confidence:           conf,
		Description: fmt.Sprintf("%q gained %d reports within %s",
			ev.event.RepresentativeTitle, recent, e.config.VelocityWindow),
	})
}

// divergences flags predictions moving hard with no matching news at all.
func (e *Engine) divergences(c *collector, preds []predictionView) {
	threshold := 2 * e.config.PredictionMove
	for _, pv := range preds {
		p := pv.prediction
		if pv.matched || math.Abs(p.PriceChange24h) < threshold {
			continue
		}
		conf := 0.5*ratio(math.Abs(p.PriceChange24h), 2*threshold) + 0.5*liquidityPressure(*p)
		c.add(key(models.SignalPredictionDivergence, "", p.ID), models.Signal{
			Kind:                 models.SignalPredictionDivergence,
			RelatedPredictionIDs: []string{p.ID},
			Confidence:           conf,
			Description: fmt.Sprintf("%q moved %+.1f pts with no matching coverage",
				p.Title, p.PriceChange24h*100),
		})
	}
}

func (e *Engine) symbolsFor(categories []string, bySymbol map[string]*models.MarketData) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cat := range categories {
		for _, sym := range e.config.CategorySymbols[cat] {
			if seen[sym] {
				continue
			}
			seen[sym] = true
			if _, ok := bySymbol[sym]; ok {
				out = append(out, sym)
			}
		}
	}
	return out
}

func eventTokens(ev *models.ClusteredEvent) textmatch.Set {
	set := textmatch.NewSet(textmatch.Tokens(ev.RepresentativeTitle))
	for _, m := range ev.Members {
		for _, t := range textmatch.Tokens(m.Title) {
			set[t] = struct{}{}
		}
	}
	return set
}

func sortedCategories(mix map[string]int) []string {
	out := make([]string, 0, len(mix))
	for cat := range mix {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// liquidityPressure maps daily turnover against book depth into [0,1).
func liquidityPressure(p models.PredictionMarket) float64 {
	if p.Volume24h <= 0 {
		return 0
	}
	return math.Erf(p.Volume24h / (p.Liquidity + Epsilon))
}

func ratio(v, full float64) float64 {
	if full <= 0 {
		return 1
	}
	return math.Min(1, v/full)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func key(kind models.SignalKind, eventID, target string) string {
	return string(kind) + "\x00" + eventID + "\x00" + target
}
