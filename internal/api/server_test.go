package api

import (
	"bytes"
	"context"
	"encoding/json"
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
	"bbcompare/internal/orchestrator"
	"bbcompare/internal/robots"
)

var testMetrics = monitoring.NewMetrics()

type stubAdapter struct {
	mu       sync.Mutex
	startURL string
}

func (a *stubAdapter) Slug() string { return "apitest" }
func (a *stubAdapter) Name() string { return "API Test ISP" }
func (a *stubAdapter) StartURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startURL
}
func (a *stubAdapter) Host() string { return adapter.DomainKey(a.StartURL()) }

func (a *stubAdapter) Scrape(_ context.Context, _ browser.Session, opts adapter.Options) domain.ScrapeOutcome {
	return domain.Success(domain.Quote{
		Provider:     "apitest",
		Postcode:     opts.Postcode.String(),
		Available:    true,
		MonthlyPrice: 30,
		DownloadMbps: 100,
		FetchedAt:    time.Now().UTC(),
		SourceURL:    a.StartURL(),
	})
}

func (a *stubAdapter) setStartURL(u string) {
	a.mu.Lock()
	a.startURL = u
	a.mu.Unlock()
}

var testAdapter = &stubAdapter{}

func init() {
	adapter.Register(testAdapter)
}

type stubSession struct{}

func (stubSession) Navigate(context.Context, string) error       { return nil }
func (stubSession) Reload(context.Context) error                 { return nil }
func (stubSession) Location(context.Context) (string, error)     { return "", nil }
func (stubSession) Exists(context.Context, string) (bool, error) { return false, nil }
func (stubSession) Click(context.Context, string) error          { return nil }
func (stubSession) ClickNth(context.Context, string, int) error  { return nil }
func (stubSession) Fill(context.Context, string, string) error   { return nil }
func (stubSession) PressEnter(context.Context, string) error     { return nil }
func (stubSession) ReadText(context.Context, string) (string, error) {
	return "", nil
}
func (stubSession) Attr(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (stubSession) WaitFor(context.Context, string, time.Duration) error { return nil }
func (stubSession) OuterHTML(context.Context) (string, error)            { return "", nil }
func (stubSession) Texts(context.Context, string) ([]string, error)      { return nil, nil }
func (stubSession) Dropdowns(context.Context) ([][]string, error)        { return nil, nil }
func (stubSession) PickDropdown(context.Context, int, string) error      { return nil }
func (stubSession) Eval(context.Context, string, any) error              { return nil }
func (stubSession) Scroll(context.Context, int) error                    { return nil }
func (stubSession) ClearCookies(context.Context) error                   { return nil }
func (stubSession) Close()                                               {}

type stubFactory struct{}

func (stubFactory) NewSession(context.Context) (browser.Session, error) {
	return stubSession{}, nil
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

func newTestServer(t *testing.T, store cache.Store, robotsSrv *httptest.Server) *Server {
	t.Helper()
	cfg := &config.Config{
		ServerPort:     "0",
		ScrapeWorkers:  2,
		ScrapeTimeout:  5,
		MaxWizardSteps: 6,
	}
	gate := robots.NewGate("bbcompare/1.0", robotsSrv.Client(), zap.NewNop())
	results := cache.NewResultCache(store, 24*time.Hour, 30*time.Minute, zap.NewNop())
	orch := orchestrator.New(cfg, stubFactory{}, gate, results, testMetrics, zap.NewNop())
	return NewServer(cfg, orch, results, testMetrics, zap.NewNop())
}

func doJSON(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestHandleCompare(t *testing.T) {
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	testAdapter.setStartURL(srv.URL + "/broadband")
	s := newTestServer(t, cache.NewMemoryStore(), srv)

	rr := doJSON(t, s, http.MethodPost, "/api/compare", domain.CompareRequest{
		Postcode:  "SW1A 1AA",
		Providers: []string{"apitest"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp compareResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	require.Equal(t, "SW1A 1AA", resp.Postcode)
	require.Equal(t, "entry_price", resp.RankBy)
	require.Len(t, resp.Table, 1)
	require.Equal(t, "apitest", resp.Table[0].ISP)
	require.Equal(t, 1, resp.Table[0].Rank)
	require.Equal(t, domain.StatusSuccess, resp.Outcomes["apitest"].Status)
}

func TestHandleCompareRejectsBadInput(t *testing.T) {
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	testAdapter.setStartURL(srv.URL + "/broadband")
	s := newTestServer(t, cache.NewMemoryStore(), srv)

	req := httptest.NewRequest(http.MethodPost, "/api/compare", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, s, http.MethodPost, "/api/compare", domain.CompareRequest{Postcode: "nope"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, s, http.MethodPost, "/api/compare", domain.CompareRequest{Postcode: "SW1A 1AA", RankBy: "vibes"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, s, http.MethodPost, "/api/compare", domain.CompareRequest{Postcode: "SW1A 1AA", Providers: []string{"no-such-isp"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "unknown provider")
}

func TestHandleProviders(t *testing.T) {
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	s := newTestServer(t, cache.NewMemoryStore(), srv)

	rr := doJSON(t, s, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Providers []providerInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	slugs := make(map[string]bool, len(resp.Providers))
	for _, p := range resp.Providers {
		slugs[p.Slug] = true
	}
	require.True(t, slugs["bt"], "built-in providers should be listed")
	require.True(t, slugs["sky"])
	require.True(t, slugs["apitest"])
}

func TestHandleOutcomes(t *testing.T) {
	ctx := context.Background()
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")
	store := cache.NewMemoryStore()
	require.NoError(t, store.Put(ctx, domain.CacheEntry{
		Postcode: "SW1A 1AA",
		Provider: "bt",
		Outcome:  domain.Unavailable("bt", "SW1A 1AA"),
		StoredAt: time.Now().UTC(),
	}))
	s := newTestServer(t, store, srv)

	rr := doJSON(t, s, http.MethodGet, "/api/outcomes?postcode=sw1a1aa", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Postcode string       `json:"postcode"`
		Entries  []outcomeRow `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "SW1A 1AA", resp.Postcode)
	require.Len(t, resp.Entries, 1)
	require.Equal(t, "bt", resp.Entries[0].Provider)
	require.True(t, resp.Entries[0].Fresh)

	rr = doJSON(t, s, http.MethodGet, "/api/outcomes", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, s, http.MethodGet, "/api/outcomes?postcode=zz", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

type unhealthyStore struct {
	*cache.MemoryStore
}

func (u unhealthyStore) Ping(context.Context) error {
	return context.DeadlineExceeded
}

func TestHandleHealthCheck(t *testing.T) {
	srv := robotsStub(t, "User-agent: *\nAllow: /\n")

	s := newTestServer(t, cache.NewMemoryStore(), srv)
	rr := doJSON(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"cache":"healthy"`)

	s = newTestServer(t, unhealthyStore{cache.NewMemoryStore()}, srv)
	rr = doJSON(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"cache":"unhealthy"`)
}
