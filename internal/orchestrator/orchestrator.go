// Package orchestrator fans one comparison request out across the provider
// adapters and aggregates their outcomes. It owns everything that surrounds
// a scrape: the result cache, the robots.txt gate, per-host politeness and
// the worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bbcompare/internal/adapter"
	"bbcompare/internal/browser"
	"bbcompare/internal/cache"
	"bbcompare/internal/config"
	"bbcompare/internal/domain"
	"bbcompare/internal/monitoring"
	"bbcompare/internal/robots"
)

// Cache modes accepted in requests.
const (
	CacheAuto    = "auto"    // fresh hit or scrape
	CacheOnly    = "only"    // any stored entry; scrape only when nothing is stored
	CacheRefresh = "refresh" // always scrape, overwrite the cache
)

type Orchestrator struct {
	sessions browser.SessionFactory
	gate     *robots.Gate
	results  *cache.ResultCache
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	limiter  *hostLimiter

	workers       int
	scrapeTimeout time.Duration
	maxSteps      int
	robotsBypass  bool
}

func New(cfg *config.Config, sessions browser.SessionFactory, gate *robots.Gate, results *cache.ResultCache, metrics *monitoring.Metrics, logger *zap.Logger) *Orchestrator {
	workers := cfg.ScrapeWorkers
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		sessions:      sessions,
		gate:          gate,
		results:       results,
		metrics:       metrics,
		logger:        logger,
		limiter:       newHostLimiter(time.Duration(cfg.PoliteDelayMS) * time.Millisecond),
		workers:       workers,
		scrapeTimeout: time.Duration(cfg.ScrapeTimeout) * time.Second,
		maxSteps:      cfg.MaxWizardSteps,
		robotsBypass:  cfg.RobotsBypass,
	}
}

// Report aggregates one comparison run. Outcomes always has an entry for
// every requested provider, whatever happened to it.
type Report struct {
	RunID     string                          `json:"run_id"`
	Postcode  domain.Postcode                 `json:"postcode"`
	StartedAt time.Time                       `json:"started_at"`
	Took      time.Duration                   `json:"-"`
	Outcomes  map[string]domain.ScrapeOutcome `json:"outcomes"`
	Events    []domain.StepEvent              `json:"events,omitempty"`
}

// Compare checks every requested provider for the postcode. The only error
// cases are invalid input: a bad postcode, an unknown provider, an unknown
// cache mode. Everything that goes wrong per provider is expressed inside
// the report instead.
func (o *Orchestrator) Compare(ctx context.Context, req domain.CompareRequest) (*Report, error) {
	postcode, err := domain.ParsePostcode(req.Postcode)
	if err != nil {
		return nil, err
	}
	mode, err := cacheMode(req.CacheMode)
	if err != nil {
		return nil, err
	}
	sites, err := resolveProviders(req.Providers)
	if err != nil {
		return nil, err
	}
	bypass := o.robotsBypass
	if req.RobotsBypass != nil {
		bypass = *req.RobotsBypass
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Postcode:  postcode,
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[string]domain.ScrapeOutcome, len(sites)),
	}
	logger := o.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("postcode", postcode.String()),
	)
	logger.Info("comparison started",
		zap.Int("providers", len(sites)),
		zap.String("cache_mode", mode),
		zap.Bool("robots_bypass", bypass),
	)

	sem := make(chan struct{}, o.workers)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, s := range sites {
		wg.Add(1)
		go func(site adapter.SiteAdapter) {
			defer wg.Done()

			rec := adapter.NewRecorder()
			var outcome domain.ScrapeOutcome
			select {
			case sem <- struct{}{}:
				outcome = o.checkOne(ctx, site, postcode, req, mode, bypass, rec)
				<-sem
			case <-ctx.Done():
				outcome = domain.Failed(site.Slug(), postcode.String(), domain.FailCancelled, "comparison cancelled before provider started")
			}

			mu.Lock()
			report.Outcomes[site.Slug()] = outcome
			report.Events = append(report.Events, rec.Events()...)
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	sort.SliceStable(report.Events, func(i, j int) bool {
		return report.Events[i].At.Before(report.Events[j].At)
	})
	report.Took = time.Since(report.StartedAt)

	logger.Info("comparison finished",
		zap.Duration("took", report.Took),
		zap.Int("outcomes", len(report.Outcomes)),
	)
	return report, nil
}

func (o *Orchestrator) checkOne(ctx context.Context, site adapter.SiteAdapter, postcode domain.Postcode, req domain.CompareRequest, mode string, bypass bool, rec *adapter.Recorder) domain.ScrapeOutcome {
	slug := site.Slug()
	logger := o.logger.With(zap.String("provider", slug), zap.String("postcode", postcode.String()))

	if err := ctx.Err(); err != nil {
		return ctxFailure(ctx, slug, postcode, err)
	}

	if mode != CacheRefresh {
		entry, res, err := o.results.Get(ctx, cache.Key{Postcode: postcode.String(), Provider: slug})
		o.metrics.IncCacheEvent(res.String())
		switch {
		case err != nil:
			rec.Step(slug, "", "cache_error", err.Error())
		case res == cache.GetHit:
			rec.Step(slug, "", "cache_hit", "stored "+entry.Age(time.Now().UTC()).Round(time.Second).String()+" ago")
			logger.Info("served from cache", zap.String("status", string(entry.Outcome.Status)))
			return entry.Outcome
		case res == cache.GetStale && mode == CacheOnly:
			// cached-only callers prefer an old answer over a scrape
			rec.Step(slug, "", "cache_stale_used", "stored "+entry.Age(time.Now().UTC()).Round(time.Second).String()+" ago")
			return entry.Outcome
		case res == cache.GetStale:
			rec.Step(slug, "", "cache_stale", "")
		}
		// a miss falls through to a scrape in every mode: cached-only runs
		// still scrape providers that have never been checked
	}

	startURL := site.StartURL()
	host := adapter.DomainKey(startURL)
	if bypass {
		rec.Step(slug, startURL, "robots_bypassed", "")
	} else {
		dec, err := o.gate.Allowed(ctx, startURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctxFailure(ctx, slug, postcode, err)
			}
			rec.Step(slug, startURL, "robots_unreachable", err.Error())
			o.metrics.IncRobotsDenied(dec.Host)
			logger.Warn("robots.txt unreachable, refusing to scrape", zap.Error(err))
			return domain.Blocked(slug, postcode.String(), "robots.txt could not be determined: "+err.Error())
		}
		if !dec.Allowed {
			rec.Step(slug, startURL, "robots_denied", "")
			o.metrics.IncRobotsDenied(dec.Host)
			logger.Warn("robots.txt disallows start url", zap.String("url", startURL))
			return domain.Blocked(slug, postcode.String(), fmt.Sprintf("robots.txt disallows %s", startURL))
		}
		o.limiter.Observe(host, dec.CrawlDelay)
	}

	if err := o.limiter.Wait(ctx, host); err != nil {
		return ctxFailure(ctx, slug, postcode, err)
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, o.scrapeTimeout)
	defer cancel()

	sess, err := o.sessions.NewSession(scrapeCtx)
	if err != nil {
		logger.Error("browser session failed", zap.Error(err))
		outcome := domain.Failed(slug, postcode.String(), domain.FailSession, err.Error())
		o.store(ctx, outcome)
		return outcome
	}
	defer sess.Close()

	opts := adapter.Options{
		Postcode:     postcode,
		AddressHint:  req.AddressHint,
		AddressIndex: req.AddressIndex,
		Moving:       req.Moving,
		ExtraFields:  req.ExtraFields,
		MaxSteps:     req.MaxSteps,
		Recorder:     rec,
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = o.maxSteps
	}
	if !bypass {
		opts.AllowURL = func(rawURL string) bool {
			dec, err := o.gate.Allowed(scrapeCtx, rawURL)
			return err == nil && dec.Allowed
		}
	}

	start := time.Now()
	outcome := site.Scrape(scrapeCtx, sess, opts)
	o.metrics.ObserveScrape(slug, time.Since(start))
	o.metrics.IncScrape(slug, string(outcome.Status))
	logger.Info("scrape finished",
		zap.String("status", string(outcome.Status)),
		zap.Duration("took", time.Since(start)),
	)

	o.store(ctx, outcome)
	return outcome
}

// store writes an outcome through to the cache. Blocked is a policy call
// belonging to this run, and a cancellation says nothing about the
// provider; neither is persisted.
func (o *Orchestrator) store(ctx context.Context, outcome domain.ScrapeOutcome) {
	if outcome.Status == domain.StatusBlocked || outcome.FailKind == domain.FailCancelled {
		return
	}
	if err := o.results.Put(ctx, outcome); err != nil {
		o.metrics.IncCacheEvent("write_failed")
		return
	}
	o.metrics.IncCacheEvent("write")
}

func ctxFailure(ctx context.Context, slug string, postcode domain.Postcode, err error) domain.ScrapeOutcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Failed(slug, postcode.String(), domain.FailTimeout, "comparison deadline exceeded")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.Failed(slug, postcode.String(), domain.FailCancelled, "comparison cancelled")
	}
	return domain.Failed(slug, postcode.String(), domain.FailTimeout, err.Error())
}

func cacheMode(raw string) (string, error) {
	switch raw {
	case "", CacheAuto:
		return CacheAuto, nil
	case CacheOnly, CacheRefresh:
		return raw, nil
	}
	return "", fmt.Errorf("unknown cache mode %q", raw)
}

func resolveProviders(slugs []string) ([]adapter.SiteAdapter, error) {
	if len(slugs) == 0 {
		return adapter.All(), nil
	}
	seen := make(map[string]bool, len(slugs))
	out := make([]adapter.SiteAdapter, 0, len(slugs))
	for _, raw := range slugs {
		slug := strings.ToLower(strings.TrimSpace(raw))
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		a, ok := adapter.Get(slug)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", raw)
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no providers requested")
	}
	return out, nil
}
