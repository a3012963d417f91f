package pipeline

import (
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// IsFresh reports whether data scraped at last is still within ttl at now.
func IsFresh(last time.Time, ttl time.Duration, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < ttl
}

// CollectionFresh reports whether the most recently scraped item of a
// collection is fresh. An empty collection is never fresh.
func CollectionFresh[T any](items []T, get func(T) time.Time, ttl time.Duration, now time.Time) bool {
	if len(items) == 0 {
		return false
	}
	return IsFresh(models.LatestScrape(items, get), ttl, now)
}
