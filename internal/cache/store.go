// Package cache persists scrape outcomes keyed by (postcode, provider) and
// applies the freshness policy that decides when a stored outcome may be
// served instead of scraping again.
package cache

import (
	"context"
	"strings"

	"bbcompare/internal/domain"
)

// Key identifies one cached outcome.
type Key struct {
	Postcode string
	Provider string
}

func normalizeKey(k Key) Key {
	return Key{
		Postcode: strings.ToUpper(strings.TrimSpace(k.Postcode)),
		Provider: strings.ToLower(strings.TrimSpace(k.Provider)),
	}
}

// Store is the persistence behind the result cache. Implementations keep the
// latest entry per key; age-based policy lives above in ResultCache, so
// stores never expire anything themselves.
type Store interface {
	Get(ctx context.Context, key Key) (domain.CacheEntry, bool, error)
	Put(ctx context.Context, entry domain.CacheEntry) error
	// List returns every stored entry for a postcode, any age.
	List(ctx context.Context, postcode string) ([]domain.CacheEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
