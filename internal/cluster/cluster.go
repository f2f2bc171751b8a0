// Package cluster groups news items into deduplicated events by title similarity.
package cluster

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/textmatch"
)

// eventNamespace seeds deterministic event IDs.
var eventNamespace = uuid.MustParse("6f1c9a52-3c1e-4f4b-9a57-2d1c0e8b7a10")

type Config struct {
	// SimilarityThreshold is the minimum Jaccard similarity between an item's
	// tokens and an event's seed tokens.
	SimilarityThreshold float64
	// MinSharedKeywords joins an item regardless of Jaccard when this many
	// tokens are shared. Zero disables the rule.
	MinSharedKeywords int
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.5,
		MinSharedKeywords:   3,
	}
}

// Clusterer is stateless; every call to Cluster builds a fresh event set.
type Clusterer struct {
	config Config
}

func New(config Config) *Clusterer {
	return &Clusterer{config: config}
}

type building struct {
	seed  textmatch.Set
	event models.ClusteredEvent
}

// Cluster assigns each item, in input order, to the first event it matches,
// or seeds a new event. Candidate events come from an inverted token index so
// only events sharing at least one token are compared.
func (c *Clusterer) Cluster(items []models.NewsItem) []models.ClusteredEvent {
	var events []*building
	index := make(map[string][]int) // token → event indices, ascending
	// Titles without tokens can only join an event whose seed has the same
	// normalized title.
	bare := make(map[string]int)

	for _, item := range items {
		tokens := textmatch.Tokens(item.Title)
		set := textmatch.NewSet(tokens)

		if len(tokens) == 0 {
			if idx, ok := bare[titleKey(item.Title)]; ok {
				addMember(&events[idx].event, item)
				continue
			}
		} else if idx, ok := c.match(events, index, tokens, set); ok {
			addMember(&events[idx].event, item)
			continue
		}

		b := &building{
			seed: set,
			event: models.ClusteredEvent{
				ID:                  eventID(item),
				RepresentativeTitle: item.Title,
				FirstSeen:           item.PublishedAt,
				LastSeen:            item.PublishedAt,
				CategoryMix:         map[string]int{},
			},
		}
		addMember(&b.event, item)
		events = append(events, b)
		if len(tokens) == 0 {
			bare[titleKey(item.Title)] = len(events) - 1
		}
		for _, tok := range tokens {
			index[tok] = append(index[tok], len(events)-1)
		}
	}

	out := make([]models.ClusteredEvent, len(events))
	for i, b := range events {
		out[i] = b.event
	}
	return out
}

func (c *Clusterer) match(events []*building, index map[string][]int, tokens []string, set textmatch.Set) (int, bool) {
	seen := make(map[int]bool)
	var candidates []int
	for _, tok := range tokens {
		for _, idx := range index[tok] {
			if !seen[idx] {
				seen[idx] = true
				candidates = append(candidates, idx)
			}
		}
	}
	sort.Ints(candidates)

	for _, idx := range candidates {
		seed := events[idx].seed
		if textmatch.Jaccard(set, seed) >= c.config.SimilarityThreshold {
			return idx, true
		}
		if c.config.MinSharedKeywords > 0 && textmatch.Overlap(set, seed) >= c.config.MinSharedKeywords {
			return idx, true
		}
	}
	return 0, false
}

func addMember(e *models.ClusteredEvent, item models.NewsItem) {
	e.Members = append(e.Members, item)
	if item.PublishedAt.Before(e.FirstSeen) {
		e.FirstSeen = item.PublishedAt
	}
	if item.PublishedAt.After(e.LastSeen) {
		e.LastSeen = item.PublishedAt
	}
	e.CategoryMix[item.Category]++
	if item.IsAlert {
		e.HasAlert = true
	}
}

// titleKey is the normalized title, or the raw title when nothing survives normalization.
func titleKey(title string) string {
	if key := strings.Join(strings.Fields(textmatch.Normalize(title)), " "); key != "" {
		return key
	}
	return title
}

func eventID(seed models.NewsItem) string {
	return uuid.NewSHA1(eventNamespace, []byte(seed.SourceURL+"\x00"+seed.Title)).String()
}
