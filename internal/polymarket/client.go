// Package polymarket fetches prediction markets from the Polymarket Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
)

type ClientConfig struct {
	GammaAPIURL    string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	// Limit is how many events are requested, ordered by 24h volume.
	Limit        int
	MinVolume24h float64
}

// Client provides access to Polymarket API
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// PolymarketEvent represents an event from Polymarket Gamma API
type PolymarketEvent struct {
	ID      string             `json:"id"`
	Title   string             `json:"title"`
	Active  bool               `json:"active"`
	Closed  bool               `json:"closed"`
	Markets []PolymarketMarket `json:"markets"`
}

// PolymarketMarket represents a market from Polymarket API
type PolymarketMarket struct {
	ID                string  `json:"id"`
	Question          string  `json:"question"`
	Outcomes          string  `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices     string  `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	Active            bool    `json:"active"`
	Closed            bool    `json:"closed"`
	Volume24hr        float64 `json:"volume24hr"`
	LiquidityNum      float64 `json:"liquidityNum"`
	OneDayPriceChange float64 `json:"oneDayPriceChange"`
}

func NewClient(config ClientConfig) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelayBase <= 0 {
		config.RetryDelayBase = time.Second
	}
	if config.Limit <= 0 {
		config.Limit = 100
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// FetchPredictions returns the active yes/no markets of the highest-volume
// events. Markets that fail to parse or validate are skipped.
func (c *Client) FetchPredictions(ctx context.Context) ([]models.PredictionMarket, error) {
	u, err := url.Parse(c.config.GammaAPIURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(c.config.Limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer resp.Body.Close()

	// Response is array directly, not wrapped
	var pmEvents []PolymarketEvent
	if err := json.NewDecoder(resp.Body).Decode(&pmEvents); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	predictions := []models.PredictionMarket{}
	skipped := 0
	for _, pe := range pmEvents {
		if !pe.Active || pe.Closed {
			continue
		}
		for _, m := range pe.Markets {
			if m.Closed || m.Volume24hr < c.config.MinVolume24h {
				continue
			}
			yes, no, err := parseMarketProbabilities(m)
			if err != nil {
				skipped++
				continue
			}
			title := m.Question
			if title == "" {
				title = pe.Title
			}
			p := models.PredictionMarket{
				ID:             m.ID,
				Title:          title,
				YesPrice:       yes,
				NoPrice:        no,
				Volume24h:      m.Volume24hr,
				Liquidity:      m.LiquidityNum,
				PriceChange24h: m.OneDayPriceChange,
			}
			if err := p.Validate(); err != nil {
				skipped++
				continue
			}
			predictions = append(predictions, p)
		}
	}
	if skipped > 0 {
		logger.Debug("Skipped %d unparseable Polymarket markets", skipped)
	}
	return predictions, nil
}

// parseMarketProbabilities extracts Yes/No probabilities from a market
func parseMarketProbabilities(market PolymarketMarket) (float64, float64, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(market.Outcomes), &outcomes); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcomes: %w", err)
	}

	var outcomePrices []string
	if err := json.Unmarshal([]byte(market.OutcomePrices), &outcomePrices); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}

	var yesProb, noProb float64
	var sawYes, sawNo bool
	for i, outcome := range outcomes {
		if i >= len(outcomePrices) {
			break
		}
		price, err := strconv.ParseFloat(outcomePrices[i], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad price %q: %w", outcomePrices[i], err)
		}
		switch outcome {
		case "Yes":
			yesProb, sawYes = price, true
		case "No":
			noProb, sawNo = price, true
		}
	}
	if !sawYes || !sawNo {
		return 0, 0, fmt.Errorf("market %s is not a yes/no market", market.ID)
	}
	return yesProb, noProb, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
