package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bbcompare/internal/adapter"
	"bbcompare/internal/browser"
	"bbcompare/internal/cache"
	"bbcompare/internal/config"
	"bbcompare/internal/domain"
	"bbcompare/internal/monitoring"
	"bbcompare/internal/robots"
)

// promauto registers in the default registry, so the package shares one set.
var testMetrics = monitoring.NewMetrics()

type fakeAdapter struct {
	slug string

	mu       sync.Mutex
	startURL string
	calls    int
	scrape   func(ctx context.Context, opts adapter.Options) domain.ScrapeOutcome
}

var _ adapter.SiteAdapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Slug() string { return f.slug }
func (f *fakeAdapter) Name() string { return f.slug }
func (f *fakeAdapter) StartURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startURL
}
func (f *fakeAdapter) Host() string { return adapter.DomainKey(f.StartURL()) }

func (f *fakeAdapter) Scrape(ctx context.Context, _ browser.Session, opts adapter.Options) domain.ScrapeOutcome {
	f.mu.Lock()
	f.calls++
	fn := f.scrape
	f.mu.Unlock()
	return fn(ctx, opts)
}

func (f *fakeAdapter) set(startURL string, scrape func(ctx context.Context, opts adapter.Options) domain.ScrapeOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startURL = startURL
	f.calls = 0
	f.scrape = scrape
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// The registry is process-global, so the fakes register once and each test
// reprograms them through set.
var (
	provAlpha = &fakeAdapter{slug: "alpha"}
	provBeta  = &fakeAdapter{slug: "beta"}
)

func init() {
	adapter.Register(provAlpha)
	adapter.Register(provBeta)
}

type nullSession struct{}

func (nullSession) Navigate(context.Context, string) error       { return nil }
func (nullSession) Reload(context.Context) error                 { return nil }
func (nullSession) Location(context.Context) (string, error)     { return "", nil }
func (nullSession) Exists(context.Context, string) (bool, error) { return false, nil }
func (nullSession) Click(context.Context, string) error          { return nil }
func (nullSession) ClickNth(context.Context, string, int) error  { return nil }
func (nullSession) Fill(context.Context, string, string) error   { return nil }
func (nullSession) PressEnter(context.Context, string) error     { return nil }
func (nullSession) ReadText(context.Context, string) (string, error) {
	return "", nil
}
func (nullSession) Attr(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (nullSession) WaitFor(context.Context, string, time.Duration) error { return nil }
func (nullSession) OuterHTML(context.Context) (string, error)            { return "", nil }
func (nullSession) Texts(context.Context, string) ([]string, error)      { return nil, nil }
func (nullSession) Dropdowns(context.Context) ([][]string, error)        { return nil, nil }
func (nullSession) PickDropdown(context.Context, int, string) error      { return nil }
func (nullSession) Eval(context.Context, string, any) error              { return nil }
func (nullSession) Scroll(context.Context, int) error                    { return nil }
func (nullSession) ClearCookies(context.Context) error                   { return nil }
func (nullSession) Close()                                               {}

type fakeFactory struct{}

func (fakeFactory) NewSession(context.Context) (browser.Session, error) {
	return nullSession{}, nil
}

func robotsStub(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte(body))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	return &config.Config{
		ScrapeWorkers:  4,
		ScrapeTimeout:  5,
		MaxWizardSteps: 6,
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, store cache.Store, robotsSrv *httptest.Server) *Orchestrator {
	t.Helper()
	gate := robots.NewGate("bbcompare/1.0", robotsSrv.Client(), zap.NewNop())
	results := cache.NewResultCache(store, 24*time.Hour, 30*time.Minute, zap.NewNop())
	return New(cfg, fakeFactory{}, gate, results, testMetrics, zap.NewNop())
}

func successFor(slug string, price float64, mbps int) func(context.Context, adapter.Options) domain.ScrapeOutcome {
	return func(_ context.Context, opts adapter.Options) domain.ScrapeOutcome {
		return domain.Success(domain.Quote{
			Provider:     slug,
			Postcode:     opts.Postcode.String(),
			Available:    true,
			MonthlyPrice: price,
			DownloadMbps: mbps,
			FetchedAt:    time.Now().UTC(),
			SourceURL:    "https://example.com/results",
		})
	}
}

func hasStep(events []domain.StepEvent, step string) bool {
	for _, e := range events {
		if e.Step == step {
			return true
		}
	}
	return false
}

func TestCompareServesSecondRunFromCache(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	store := cache.NewMemoryStore()
	o := newTestOrchestrator(t, testConfig(), store, srv)

	req := domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"alpha"}}

	first, err := o.Compare(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, first.Outcomes["alpha"].Status)
	require.Equal(t, 1, provAlpha.callCount())

	second, err := o.Compare(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, provAlpha.callCount(), "fresh cache entry must suppress the scrape")
	require.Equal(t, first.Outcomes["alpha"], second.Outcomes["alpha"])
	require.True(t, hasStep(second.Events, "cache_hit"))
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestCompareRescrapesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	store := cache.NewMemoryStore()
	require.NoError(t, store.Put(ctx, domain.CacheEntry{
		Postcode: "SW1A 1AA",
		Provider: "alpha",
		Outcome:  domain.Unavailable("alpha", "SW1A 1AA"),
		StoredAt: time.Now().UTC().Add(-25 * time.Hour),
	}))
	o := newTestOrchestrator(t, testConfig(), store, srv)

	report, err := o.Compare(ctx, domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"alpha"}})
	require.NoError(t, err)
	require.Equal(t, 1, provAlpha.callCount(), "expired entry must be ignored")
	require.Equal(t, domain.StatusSuccess, report.Outcomes["alpha"].Status)

	// the rescrape overwrote the expired entry
	entry, ok, err := store.Get(ctx, cache.Key{Postcode: "SW1A 1AA", Provider: "alpha"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StatusSuccess, entry.Outcome.Status)
}

func TestCompareRobotsBypassFlip(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nDisallow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	store := cache.NewMemoryStore()
	o := newTestOrchestrator(t, testConfig(), store, srv)

	report, err := o.Compare(ctx, domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"alpha"}})
	require.NoError(t, err)
	require.Equal(t, domain.StatusBlocked, report.Outcomes["alpha"].Status)
	require.Contains(t, report.Outcomes["alpha"].Reason, "robots.txt disallows")
	require.Equal(t, 0, provAlpha.callCount())

	// a blocked outcome is a policy call for this run only, never cached
	_, ok, err := store.Get(ctx, cache.Key{Postcode: "SW1A 1AA", Provider: "alpha"})
	require.NoError(t, err)
	require.False(t, ok)

	// flipping bypass on makes a real attempt without any cache clearing
	bypass := true
	report, err = o.Compare(ctx, domain.CompareRequest{
		Postcode:     "SW1A 1AA",
		Providers:    []string{"alpha"},
		RobotsBypass: &bypass,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, report.Outcomes["alpha"].Status)
	require.Equal(t, 1, provAlpha.callCount())
	require.True(t, hasStep(report.Events, "robots_bypassed"))
}

func TestCompareIsolatesSlowProviders(t *testing.T) {
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	provBeta.set(srv.URL+"/broadband", func(ctx context.Context, opts adapter.Options) domain.ScrapeOutcome {
		<-ctx.Done()
		return domain.Failed("beta", opts.Postcode.String(), domain.FailTimeout, "scrape deadline exceeded")
	})
	o := newTestOrchestrator(t, testConfig(), cache.NewMemoryStore(), srv)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	report, err := o.Compare(ctx, domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"alpha", "beta"}})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2, "every requested provider gets an outcome")
	require.Equal(t, domain.StatusSuccess, report.Outcomes["alpha"].Status)
	require.Equal(t, domain.StatusFailed, report.Outcomes["beta"].Status)
}

func TestCompareCancelledContextMarksRemainder(t *testing.T) {
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	store := cache.NewMemoryStore()
	o := newTestOrchestrator(t, testConfig(), store, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Compare(ctx, domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"alpha"}})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, report.Outcomes["alpha"].Status)
	require.Equal(t, domain.FailCancelled, report.Outcomes["alpha"].FailKind)
	require.Equal(t, 0, provAlpha.callCount())

	// cancellations say nothing about the provider and are not cached
	_, ok, err := store.Get(context.Background(), cache.Key{Postcode: "SW1A 1AA", Provider: "alpha"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompareRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	o := newTestOrchestrator(t, testConfig(), cache.NewMemoryStore(), srv)

	_, err := o.Compare(ctx, domain.CompareRequest{Postcode: "not a postcode"})
	require.Error(t, err)

	_, err = o.Compare(ctx, domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"acme-fibre"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")

	_, err = o.Compare(ctx, domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"alpha"}, CacheMode: "sometimes"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown cache mode")
}

func TestCompareCachedOnlyMode(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	provBeta.set(srv.URL+"/broadband", successFor("beta", 25, 50))
	store := cache.NewMemoryStore()
	// beta has an old entry; alpha has nothing
	require.NoError(t, store.Put(ctx, domain.CacheEntry{
		Postcode: "SW1A 1AA",
		Provider: "beta",
		Outcome:  domain.Unavailable("beta", "SW1A 1AA"),
		StoredAt: time.Now().UTC().Add(-100 * time.Hour),
	}))
	o := newTestOrchestrator(t, testConfig(), store, srv)

	report, err := o.Compare(ctx, domain.CompareRequest{
		Postcode:  "SW1A 1AA",
		Providers: []string{"alpha", "beta"},
		CacheMode: CacheOnly,
	})
	require.NoError(t, err)

	// stored entries are served whatever their age
	require.Equal(t, domain.StatusUnavailable, report.Outcomes["beta"].Status)
	require.Equal(t, 0, provBeta.callCount())
	require.True(t, hasStep(report.Events, "cache_stale_used"))

	// a provider with no entry at all still gets scraped
	require.Equal(t, domain.StatusSuccess, report.Outcomes["alpha"].Status)
	require.Equal(t, 1, provAlpha.callCount())
}

func TestCompareRefreshModeOverwritesFreshEntries(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	provAlpha.set(srv.URL+"/broadband", successFor("alpha", 30, 100))
	store := cache.NewMemoryStore()
	stale := domain.Quote{
		Provider: "alpha", Postcode: "SW1A 1AA", Available: true,
		MonthlyPrice: 99, DownloadMbps: 10,
		FetchedAt: time.Now().UTC(), SourceURL: "https://example.com",
	}
	require.NoError(t, store.Put(ctx, domain.CacheEntry{
		Postcode: "SW1A 1AA",
		Provider: "alpha",
		Outcome:  domain.Success(stale),
		StoredAt: time.Now().UTC(),
	}))
	o := newTestOrchestrator(t, testConfig(), store, srv)

	report, err := o.Compare(ctx, domain.CompareRequest{
		Postcode:  "SW1A 1AA",
		Providers: []string{"alpha"},
		CacheMode: CacheRefresh,
	})
	require.NoError(t, err)
	require.Equal(t, 1, provAlpha.callCount(), "refresh must scrape despite a fresh entry")
	require.Equal(t, 30.0, report.Outcomes["alpha"].Quote.MonthlyPrice)

	entry, ok, err := store.Get(ctx, cache.Key{Postcode: "SW1A 1AA", Provider: "alpha"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 30.0, entry.Outcome.Quote.MonthlyPrice)
}
