// Package adapter holds the per-provider navigation playbooks. Each site
// adapter knows how to get one ISP's availability checker from its landing
// page to a priced results view for a postcode, and how to read offers out
// of the final page.
package adapter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"bbcompare/internal/browser"
	"bbcompare/internal/domain"
)

// SiteAdapter drives one provider's availability flow end to end. Scrape
// never returns an error: every way the flow can end is expressed as a
// ScrapeOutcome so one bad provider cannot abort a comparison run.
type SiteAdapter interface {
	// Slug is the stable identifier used in requests and cache keys.
	Slug() string
	// Name is the display name shown in tables and reports.
	Name() string
	// StartURL is the entry point of the provider's availability checker.
	StartURL() string
	// Host is the registrable domain the adapter stays on, e.g. "bt.com".
	Host() string

	Scrape(ctx context.Context, sess browser.Session, opts Options) domain.ScrapeOutcome
}

var (
	regMu    sync.RWMutex
	registry = map[string]SiteAdapter{}
)

// Register adds an adapter under its slug. It panics on a duplicate slug;
// built-in adapters register from init, so a collision is a programming
// error, not a runtime condition.
func Register(a SiteAdapter) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[a.Slug()]; dup {
		panic(fmt.Sprintf("adapter: duplicate registration for %q", a.Slug()))
	}
	registry[a.Slug()] = a
}

// RegisterCustom builds a generic adapter for a provider the package has no
// playbook for and registers it. The generic hint tables are used, so the
// flow relies on common UK ISP page patterns.
func RegisterCustom(slug, name, rawURL string) (SiteAdapter, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, fmt.Errorf("adapter: empty slug")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("adapter: invalid start url %q", rawURL)
	}
	if name == "" {
		name = DomainKey(rawURL)
	}

	a := &site{
		slug:     slug,
		name:     name,
		startURL: rawURL,
		host:     DomainKey(rawURL),
		attempts: 1,
		hints: hints{
			cookieSelectors: genericCookies,
			postcodeInputs:  genericInputs,
			submitButtons:   genericSubmits,
			resultSelectors: genericResults,
		},
	}

	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[slug]; dup {
		return nil, fmt.Errorf("adapter: provider %q already registered", slug)
	}
	registry[slug] = a
	return a, nil
}

// Get returns the adapter registered under slug.
func Get(slug string) (SiteAdapter, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	a, ok := registry[slug]
	return a, ok
}

// Keys returns all registered slugs, sorted.
func Keys() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns every registered adapter ordered by slug.
func All() []SiteAdapter {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]SiteAdapter, 0, len(registry))
	for _, a := range registry {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug() < out[j].Slug() })
	return out
}

// DomainKey reduces a URL to its registrable domain ("www.bt.com/x" ->
// "bt.com"). Used for robots grouping and politeness limits.
func DomainKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}
