// Package models defines the core domain entities: news items, clustered events,
// prediction markets, market quotes, and seismic events.
package models

import (
	"errors"
	"time"
)

// NewsItem is a single normalized headline handed over by the ingestion layer.
// Items are immutable once ingested and are passed around by value.
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source,omitempty"`
	SourceURL   string    `json:"source_url"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	IsAlert     bool      `json:"is_alert"`
	RawText     string    `json:"raw_text,omitempty"`
}

// Validate checks news item field constraints.
func (n *NewsItem) Validate() error {
	if n.Title == "" {
		return errors.New("news item title must not be empty")
	}
	if n.Category == "" {
		return errors.New("news item category must not be empty")
	}
	if n.PublishedAt.IsZero() {
		return errors.New("news item published at must be set")
	}
	return nil
}

// ClusteredEvent groups items judged to describe the same occurrence.
// Events are rebuilt on every clustering pass; IDs are only stable for identical input.
type ClusteredEvent struct {
	ID                  string         `json:"id"`
	Members             []NewsItem     `json:"members"`
	RepresentativeTitle string         `json:"representative_title"`
	FirstSeen           time.Time      `json:"first_seen"`
	LastSeen            time.Time      `json:"last_seen"`
	CategoryMix         map[string]int `json:"category_mix"`
	HasAlert            bool           `json:"has_alert"`
}

// Size returns the number of member items.
func (e *ClusteredEvent) Size() int {
	return len(e.Members)
}

// PredictionMarket is a single yes/no prediction market quote.
type PredictionMarket struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	YesPrice       float64 `json:"yes_price"`
	NoPrice        float64 `json:"no_price"`
	Volume24h      float64 `json:"volume_24h"`
	Liquidity      float64 `json:"liquidity"`
	PriceChange24h float64 `json:"price_change_24h"`
}

// Validate checks prediction market field constraints.
func (p *PredictionMarket) Validate() error {
	if p.ID == "" {
		return errors.New("prediction ID must not be empty")
	}
	if p.Title == "" {
		return errors.New("prediction title must not be empty")
	}
	if p.YesPrice < 0.0 || p.YesPrice > 1.0 {
		return errors.New("yes price must be between 0.0 and 1.0")
	}
	if p.NoPrice < 0.0 || p.NoPrice > 1.0 {
		return errors.New("no price must be between 0.0 and 1.0")
	}
	sum := p.YesPrice + p.NoPrice
	if sum < 0.99 || sum > 1.01 {
		return errors.New("yes + no price should approximately equal 1.0")
	}
	if p.Volume24h < 0 {
		return errors.New("volume 24h must not be negative")
	}
	if p.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	return nil
}

// MarketData is a financial instrument quote. Price is nil when the quote is unavailable.
type MarketData struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
	Change float64  `json:"change"` // percent
}

// Earthquake is a seismic event reported by the ingestion layer.
type Earthquake struct {
	ID        string    `json:"id"`
	Place     string    `json:"place"`
	Magnitude float64   `json:"magnitude"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Time      time.Time `json:"time"`
}
