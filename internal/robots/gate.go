package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Robots.txt bodies larger than this are truncated before parsing.
const maxRobotsBody = 512 * 1024

// Gate answers allow/deny queries against each host's published robots.txt.
//
// Fetch policy: a definitive response is parsed through robotstxt's status
// handling (2xx parsed, 4xx allow-all, 5xx disallow-all). A transport failure
// means the site's policy is unknown, so the gate fails closed; the failure is
// not memoized, so the next query retries the fetch. Parsed rules are
// memoized per host for the process lifetime.
type Gate struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.RWMutex
	hosts map[string]*hostRules
}

type hostRules struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Decision is the gate's answer for one URL.
type Decision struct {
	Host       string
	Allowed    bool
	CrawlDelay time.Duration
	CheckedAt  time.Time
}

func NewGate(userAgent string, client *http.Client, logger *zap.Logger) *Gate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gate{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		hosts:     make(map[string]*hostRules),
	}
}

// Allowed reports whether the target URL may be fetched under the host's
// robots.txt. A non-nil error means the rules could not be determined; the
// returned decision is then a deny.
func (g *Gate) Allowed(ctx context.Context, rawURL string) (Decision, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return Decision{Allowed: false, CheckedAt: time.Now()}, fmt.Errorf("parse target url: %w", err)
	}
	host := strings.ToLower(target.Host)
	if host == "" {
		return Decision{Allowed: false, CheckedAt: time.Now()}, fmt.Errorf("target url %q has no host", rawURL)
	}

	rules, err := g.rules(ctx, target)
	if err != nil {
		return Decision{Host: host, Allowed: false, CheckedAt: time.Now()}, err
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}

	return Decision{
		Host:       host,
		Allowed:    rules.data.TestAgent(path, g.userAgent),
		CrawlDelay: g.crawlDelay(rules.data),
		CheckedAt:  time.Now(),
	}, nil
}

// CrawlDelay returns the Crawl-delay directive for the host's matching agent
// group, or zero when the host has not been checked or sets none.
func (g *Gate) CrawlDelay(host string) time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rules, ok := g.hosts[strings.ToLower(host)]
	if !ok {
		return 0
	}
	return g.crawlDelay(rules.data)
}

func (g *Gate) crawlDelay(data *robotstxt.RobotsData) time.Duration {
	if data == nil {
		return 0
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (g *Gate) rules(ctx context.Context, target *url.URL) (*hostRules, error) {
	host := strings.ToLower(target.Host)

	g.mu.RLock()
	rules, ok := g.hosts[host]
	g.mu.RUnlock()
	if ok {
		return rules, nil
	}

	scheme := target.Scheme
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + target.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	// robotstxt implements the status conventions: 2xx bodies are parsed,
	// 4xx means no robots.txt (allow all), 5xx means full disallow.
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	g.logger.Debug("fetched robots.txt",
		zap.String("host", host),
		zap.Int("status", resp.StatusCode),
	)

	rules = &hostRules{data: data, fetchedAt: time.Now()}
	g.mu.Lock()
	g.hosts[host] = rules
	g.mu.Unlock()
	return rules, nil
}

// Purge evicts the memoized rules for a host, forcing a refetch on next use.
func (g *Gate) Purge(host string) {
	g.mu.Lock()
	delete(g.hosts, strings.ToLower(host))
	g.mu.Unlock()
}
