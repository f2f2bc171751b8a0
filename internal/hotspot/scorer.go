// Package hotspot scores named locations by keyword-matched news activity.
package hotspot

import (
	"strings"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
)

const (
	StatusBreaking   = "BREAKING NEWS"
	StatusHigh       = "High activity"
	StatusElevated   = "Elevated activity"
	StatusLow        = "Low activity"
	StatusMonitoring = "Monitoring"
)

// Assessment is the outcome of one scoring pass for one hotspot.
type Assessment struct {
	Level        models.HotspotLevel
	Status       string
	HasBreaking  bool
	MatchedCount int
	Score        int
}

// Score evaluates every hotspot against items from scratch. Nothing from a
// previous pass is carried over, and neither argument is modified.
func Score(hotspots []models.Hotspot, items []models.NewsItem, now time.Time) map[string]Assessment {
	lowered := make([]string, len(items))
	for i := range items {
		lowered[i] = strings.ToLower(items[i].Title)
	}

	out := make(map[string]Assessment, len(hotspots))
	for _, h := range hotspots {
		keywords := lowerKeywords(h.Keywords)
		var a Assessment

		for i := range items {
			matches := 0
			for _, kw := range keywords {
				if strings.Contains(lowered[i], kw) {
					matches++
				}
			}
			if matches == 0 {
				continue
			}
			a.MatchedCount++
			a.Score += 2 * matches
			if items[i].IsAlert {
				a.Score += 5
				a.HasBreaking = true
			}
			a.Score += recencyBonus(now.Sub(items[i].PublishedAt))
		}

		a.Level, a.Status = classify(a)
		out[h.Name] = a
	}
	return out
}

func lowerKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// recencyBonus treats items dated in the future as fresh.
func recencyBonus(age time.Duration) int {
	switch {
	case age < time.Hour:
		return 3
	case age < 6*time.Hour:
		return 2
	case age < 24*time.Hour:
		return 1
	default:
		return 0
	}
}

func classify(a Assessment) (models.HotspotLevel, string) {
	switch {
	case a.HasBreaking:
		return models.HotspotHigh, StatusBreaking
	case a.MatchedCount >= 4 || a.Score >= 10:
		return models.HotspotHigh, StatusHigh
	case a.MatchedCount >= 2 || a.Score >= 4:
		return models.HotspotElevated, StatusElevated
	case a.MatchedCount >= 1:
		return models.HotspotLow, StatusLow
	default:
		return models.HotspotLow, StatusMonitoring
	}
}
