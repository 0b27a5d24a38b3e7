package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bbcompare/internal/adapter"
	"bbcompare/internal/browser"
	"bbcompare/internal/cache"
	"bbcompare/internal/config"
	"bbcompare/internal/identity"
	"bbcompare/internal/monitoring"
	"bbcompare/internal/orchestrator"
	"bbcompare/internal/robots"
)

// stack is the wired comparison pipeline. serve keeps one alive behind the
// HTTP API; check and friends build one, run a single comparison and close it.
type stack struct {
	cfg     *config.Config
	results *cache.ResultCache
	metrics *monitoring.Metrics
	orch    *orchestrator.Orchestrator
	logger  *zap.Logger
}

func buildStack(logger *zap.Logger) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := registerCustomProviders(cfg.ProvidersJSON); err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	results := cache.NewResultCache(store,
		time.Duration(cfg.FreshnessHours)*time.Hour,
		time.Duration(cfg.FailureTTLMinutes)*time.Minute,
		logger,
	)

	gate := robots.NewGate(cfg.RobotsUserAgent, nil, logger)
	launcher := browser.NewLauncher(cfg, identity.NewManager(), logger)
	metrics := monitoring.NewMetrics()
	orch := orchestrator.New(cfg, launcher, gate, results, metrics, logger)

	return &stack{
		cfg:     cfg,
		results: results,
		metrics: metrics,
		orch:    orch,
		logger:  logger,
	}, nil
}

func (s *stack) Close() {
	if err := s.results.Close(); err != nil {
		s.logger.Warn("closing result cache", zap.Error(err))
	}
}

// customProvider is one entry of the PROVIDERS_JSON config value, e.g.
// [{"slug":"zen","name":"Zen Internet","url":"https://www.zen.co.uk/broadband"}].
type customProvider struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// registerCustomProviders adds operator-configured providers to the adapter
// registry. They run on the generic wizard hints, so they work best on sites
// following common UK ISP page patterns.
func registerCustomProviders(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var provs []customProvider
	if err := json.Unmarshal([]byte(raw), &provs); err != nil {
		return fmt.Errorf("parsing PROVIDERS_JSON: %w", err)
	}
	for _, p := range provs {
		if _, err := adapter.RegisterCustom(p.Slug, p.Name, p.URL); err != nil {
			return err
		}
	}
	return nil
}
