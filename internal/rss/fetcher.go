// Package rss turns RSS/Atom feeds into normalized news items.
package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
)

// DefaultAlertKeywords mark an item as an alert when found in its title.
var DefaultAlertKeywords = []string{
	"breaking", "urgent", "explosion", "attack", "missile", "earthquake",
	"evacuat", "invasion", "coup", "state of emergency",
}

// Fetcher retrieves feeds one request at a time under a shared rate limit.
type Fetcher struct {
	client        *http.Client
	limiter       *rate.Limiter
	alertKeywords []string
	now           func() time.Time
}

// NewFetcher allows one request per interval. A non-positive interval disables throttling.
func NewFetcher(timeout, interval time.Duration, alertKeywords []string) *Fetcher {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if alertKeywords == nil {
		alertKeywords = DefaultAlertKeywords
	}
	lowered := make([]string, 0, len(alertKeywords))
	for _, kw := range alertKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &Fetcher{
		client:        &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, 1),
		alertKeywords: lowered,
		now:           time.Now,
	}
}

// FetchItems fetches every feed for one category. Individual feed failures are
// logged and skipped; an error is returned only when every feed failed.
func (f *Fetcher) FetchItems(ctx context.Context, category string, feeds []string) ([]models.NewsItem, error) {
	var items []models.NewsItem
	var errs []error
	for _, url := range feeds {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		got, err := f.fetchFeed(ctx, category, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Feed %s (%s) failed: %v", url, category, err)
			errs = append(errs, err)
			continue
		}
		items = append(items, got...)
	}
	if len(feeds) > 0 && len(errs) == len(feeds) {
		return nil, fmt.Errorf("all %d feeds failed: %w", len(feeds), errors.Join(errs...))
	}
	return items, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, category, url string) ([]models.NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "sitwatch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	fetched := f.now()
	items := make([]models.NewsItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}
		published := fetched
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}
		text := entry.Description
		if text == "" {
			text = entry.Content
		}
		items = append(items, models.NewsItem{
			Title:       title,
			Source:      feed.Title,
			SourceURL:   entry.Link,
			Category:    category,
			PublishedAt: published.UTC(),
			IsAlert:     f.isAlert(title),
			RawText:     text,
		})
	}
	return items, nil
}

func (f *Fetcher) isAlert(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range f.alertKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
