package identity

import (
	"math/rand"
	"sync"
	"time"
)

// Profile describes the browser identity presented to provider sites:
// user agent, locale and viewport. UK sites gate content on locale, so
// every profile is en-GB.
type Profile struct {
	UserAgent      string
	AcceptLanguage string
	ViewportWidth  int
	ViewportHeight int
}

// Manager hands out browser identity profiles, rotating user agents.
type Manager struct {
	profiles []Profile
	mu       sync.Mutex
	index    int
}

func NewManager() *Manager {
	// In production, load these from config or a remote service
	return &Manager{
		profiles: []Profile{
			{
				UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				AcceptLanguage: "en-GB,en;q=0.9",
				ViewportWidth:  1366,
				ViewportHeight: 900,
			},
			{
				UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				AcceptLanguage: "en-GB,en;q=0.9",
				ViewportWidth:  1440,
				ViewportHeight: 900,
			},
			{
				UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				AcceptLanguage: "en-GB,en;q=0.9",
				ViewportWidth:  1366,
				ViewportHeight: 768,
			},
		},
	}
}

// Next returns a profile from the list, rotating sequentially.
func (m *Manager) Next() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[m.index]
	m.index = (m.index + 1) % len(m.profiles)
	return p
}

// Random returns a random profile, for callers that prefer jitter over rotation.
func (m *Manager) Random() Profile {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return m.profiles[r.Intn(len(m.profiles))]
}

// StealthScript is injected into every new document before page scripts run.
// It hides the webdriver flag and pins the language list to en-GB, matching
// what the provider sites expect from a UK visitor.
func StealthScript() string {
	return `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-GB','en']});`
}
