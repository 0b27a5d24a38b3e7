package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bbcompare/internal/domain"
)

// GetResult says how a cache lookup resolved.
type GetResult int

const (
	GetMiss  GetResult = iota // nothing stored for the key
	GetHit                    // stored and still trusted
	GetStale                  // stored but past its trust window
)

func (r GetResult) String() string {
	switch r {
	case GetHit:
		return "hit"
	case GetStale:
		return "stale"
	default:
		return "miss"
	}
}

// ResultCache wraps a Store with the freshness policy. Success and
// unavailable outcomes are trusted for the freshness window; failed outcomes
// only for the shorter failure TTL, so a transient breakage does not pin a
// provider as broken for a day. Blocked outcomes are never stored: a robots
// decision belongs to the fetch that made it.
//
// Expiry is lazy. Stale entries stay on disk until the next write for the
// same key overwrites them; Get simply refuses to return them.
type ResultCache struct {
	store      Store
	freshFor   time.Duration
	failureTTL time.Duration
	logger     *zap.Logger

	now func() time.Time // swapped in tests
}

func NewResultCache(store Store, freshFor, failureTTL time.Duration, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		store:      store,
		freshFor:   freshFor,
		failureTTL: failureTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns the stored entry for the key if it is still trusted. Store
// read errors degrade to a miss so a broken cache file never takes scraping
// down with it; the error is logged and surfaced for the caller to count.
func (c *ResultCache) Get(ctx context.Context, key Key) (domain.CacheEntry, GetResult, error) {
	key = normalizeKey(key)
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss",
			zap.String("postcode", key.Postcode),
			zap.String("provider", key.Provider),
			zap.Error(err))
		return domain.CacheEntry{}, GetMiss, err
	}
	if !ok {
		return domain.CacheEntry{}, GetMiss, nil
	}
	if c.expired(entry) {
		return entry, GetStale, nil
	}
	return entry, GetHit, nil
}

// Put writes a terminal outcome through to the store. Blocked outcomes are
// dropped without error. Write failures are logged and returned; the caller
// still has the live outcome in hand, so a dead store degrades persistence
// only.
func (c *ResultCache) Put(ctx context.Context, outcome domain.ScrapeOutcome) error {
	if outcome.Status == domain.StatusBlocked {
		return nil
	}
	entry := domain.CacheEntry{
		Postcode: outcome.Postcode,
		Provider: outcome.Provider,
		Outcome:  outcome,
		StoredAt: c.now().UTC(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("postcode", outcome.Postcode),
			zap.String("provider", outcome.Provider),
			zap.Error(err))
		return err
	}
	return nil
}

// List returns every stored entry for a postcode, stale ones included, each
// annotated with how its age resolves under the policy.
func (c *ResultCache) List(ctx context.Context, postcode string) ([]domain.CacheEntry, error) {
	return c.store.List(ctx, normalizeKey(Key{Postcode: postcode}).Postcode)
}

// Fresh reports whether an entry would still be served by Get.
func (c *ResultCache) Fresh(entry domain.CacheEntry) bool {
	return !c.expired(entry)
}

func (c *ResultCache) Ping(ctx context.Context) error { return c.store.Ping(ctx) }

func (c *ResultCache) Close() error { return c.store.Close() }

func (c *ResultCache) expired(entry domain.CacheEntry) bool {
	ttl := c.freshFor
	if entry.Outcome.Status == domain.StatusFailed {
		ttl = c.failureTTL
	}
	return entry.Age(c.now().UTC()) > ttl
}
