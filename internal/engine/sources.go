package engine

import (
	"context"
	"errors"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// NewsFetcher returns the items published on the feeds of one category.
type NewsFetcher interface {
	FetchItems(ctx context.Context, category string, feeds []string) ([]models.NewsItem, error)
}

// MarketFetcher returns quotes for the given symbols. A missing quote has a nil price.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, symbols []string) ([]models.MarketData, error)
}

type PredictionFetcher interface {
	FetchPredictions(ctx context.Context) ([]models.PredictionMarket, error)
}

type SeismicFetcher interface {
	FetchEarthquakes(ctx context.Context) ([]models.Earthquake, error)
}

// Notifier receives the signals produced by each cycle.
type Notifier interface {
	Name() string
	NotifySignals(ctx context.Context, signals []models.Signal) error
}

// Alerter is told when cycles start failing and when they recover.
type Alerter interface {
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

const (
	SourceMarkets     = "markets"
	SourcePredictions = "predictions"
	SourceSeismic     = "seismic"
)

var errDisabled = errors.New("source disabled")
