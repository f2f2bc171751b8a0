// Package usgs fetches recent earthquakes from the USGS GeoJSON summary feeds.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// Summary feeds, newest event first.
const (
	FeedM45Day      = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/4.5_day.geojson"
	FeedM45Week     = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/4.5_week.geojson"
	FeedSignificant = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/significant_week.geojson"
)

// significantSig keeps non-earthquake events (blasts, collapses) that USGS rates significant.
const significantSig = 100

type ClientConfig struct {
	FeedURL      string
	MinMagnitude float64
	Timeout      time.Duration
}

// Client implements the engine's seismic source.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   geometry   `json:"geometry"`
}

type properties struct {
	Mag   *float64 `json:"mag"`
	Place string   `json:"place"`
	Time  int64    `json:"time"` // unix ms
	Type  string   `json:"type"`
	Sig   int      `json:"sig"`
}

type geometry struct {
	Coordinates []float64 `json:"coordinates"` // lon, lat, depth
}

func NewClient(config ClientConfig) *Client {
	if config.FeedURL == "" {
		config.FeedURL = FeedM45Day
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// FetchEarthquakes returns the feed's events at or above MinMagnitude.
// Events without a magnitude or coordinates are skipped.
func (c *Client) FetchEarthquakes(ctx context.Context) ([]models.Earthquake, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "sitwatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch earthquakes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode earthquakes: %w", err)
	}

	quakes := make([]models.Earthquake, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))
	for _, f := range fc.Features {
		p := f.Properties
		if p.Mag == nil || len(f.Geometry.Coordinates) < 2 || f.ID == "" || seen[f.ID] {
			continue
		}
		if !strings.EqualFold(p.Type, "earthquake") && p.Sig < significantSig {
			continue
		}
		if *p.Mag < c.config.MinMagnitude {
			continue
		}
		seen[f.ID] = true
		quakes = append(quakes, models.Earthquake{
			ID:        f.ID,
			Place:     p.Place,
			Magnitude: *p.Mag,
			Lon:       f.Geometry.Coordinates[0],
			Lat:       f.Geometry.Coordinates[1],
			Time:      time.UnixMilli(p.Time).UTC(),
		})
	}
	return quakes, nil
}
