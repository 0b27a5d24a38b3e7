package adapter

import (
	"context"

	"bbcompare/internal/browser"
	"bbcompare/internal/domain"
)

// hints are the per-site selector tables the flow works through. Selectors
// are tried in order; the first that matches wins. XPath entries (leading
// "//") express text matching, CSS entries match structure and attributes.
type hints struct {
	fallbackPaths    []string
	cookieSelectors  []string
	postcodeInputs   []string
	submitButtons    []string
	resultSelectors  []string
	preCTASelectors  []string
	sessionErrorText []string
}

// site is the concrete SiteAdapter: a descriptor plus optional hooks for
// quirks that tables cannot express.
type site struct {
	slug     string
	name     string
	startURL string
	host     string
	attempts int
	hints    hints

	// Hooks, all optional. preActions runs after cookie consent on every
	// page the flow lands on. ensureEntry is a last-resort way to reach a
	// postcode form when none was found. sessionBroken detects dead or
	// error'd checker sessions and recoverSession tries to revive one.
	preActions     func(ctx context.Context, f *flow)
	ensureEntry    func(ctx context.Context, f *flow) bool
	sessionBroken  func(ctx context.Context, f *flow) bool
	recoverSession func(ctx context.Context, f *flow) bool
}

func (a *site) Slug() string     { return a.slug }
func (a *site) Name() string     { return a.name }
func (a *site) StartURL() string { return a.startURL }
func (a *site) Host() string     { return a.host }

func (a *site) Scrape(ctx context.Context, sess browser.Session, opts Options) domain.ScrapeOutcome {
	f := &flow{a: a, s: sess, opts: opts.withDefaults()}
	f.rec = f.opts.Recorder
	return f.run(ctx)
}

// Generic tables for providers without a dedicated playbook. UK ISP
// availability checkers are similar enough that these get surprisingly far.
var (
	genericCookies = []string{
		`//button[contains(., 'Accept all')]`,
		`//button[contains(., 'Accept All')]`,
		`//label[contains(., 'Accept all')]`,
		`//button[contains(., 'Accept')]`,
	}
	genericInputs = []string{
		`input[placeholder*='postcode' i]`,
		`input[name*='postcode' i]`,
		`input[id*='postcode' i]`,
		`input[aria-label*='postcode' i]`,
		`input[type='text']`,
	}
	genericSubmits = []string{
		`//button[contains(., 'Check')]`,
		`//button[contains(., 'Find deals')]`,
		`//button[contains(., 'See deals')]`,
		`//button[contains(., 'Check availability')]`,
		`//button[contains(., 'Search')]`,
		`//button[contains(., 'Go')]`,
	}
	genericResults = []string{
		`[data-component*='product' i]`,
		`[class*='card' i]`,
		`//div[contains(., 'See deals')]`,
		`//button[contains(., 'See deals')]`,
	}
)

func init() {
	Register(&site{
		slug:     "bt",
		name:     "BT",
		startURL: "https://www.bt.com/broadband",
		host:     "bt.com",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/broadband/deals"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`[aria-label='Accept all']`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`input[name*='postcode' i]`,
				`input[id*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Find deals')]`,
				`//button[contains(., 'See deals')]`,
				`//button[contains(., 'Go')]`,
			},
			resultSelectors: []string{
				`[data-component*='product' i]`,
				`[class*='card' i]`,
				`//div[contains(., 'See deals')]`,
				`//button[contains(., 'See deals')]`,
			},
		},
	})

	Register(&site{
		slug:     "virgin-media",
		name:     "Virgin Media",
		startURL: "https://www.virginmedia.com/broadband",
		host:     "virginmedia.com",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/broadband", "/broadband/deals"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'Accept All')]`,
				`//button[contains(., 'Accept')]`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
				`[id*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check availability')]`,
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Go')]`,
				`//button[contains(., 'See deals')]`,
			},
			resultSelectors: []string{
				`[class*='card' i]`,
				`//div[contains(., 'See deals')]`,
				`//button[contains(., 'See deals')]`,
			},
		},
	})

	Register(newSky())

	Register(&site{
		slug:     "talktalk",
		name:     "TalkTalk",
		startURL: "https://www.talktalk.co.uk/",
		host:     "talktalk.co.uk",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/", "/broadband"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'I accept')]`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
				`[id*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Go')]`,
				`//button[contains(., 'See deals')]`,
			},
			resultSelectors: []string{
				`[class*='card' i]`,
				`//div[contains(., 'See deals')]`,
				`//button[contains(., 'See deals')]`,
			},
		},
	})

	Register(&site{
		slug:     "vodafone",
		name:     "Vodafone",
		startURL: "https://www.vodafone.co.uk/broadband",
		host:     "vodafone.co.uk",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/broadband"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'Accept All')]`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'See deals')]`,
				`//button[contains(., 'Go')]`,
			},
			resultSelectors: []string{
				`[class*='card' i]`,
				`//div[contains(., 'See deals')]`,
				`//button[contains(., 'See deals')]`,
			},
		},
	})

	Register(&site{
		slug:     "ee",
		name:     "EE",
		startURL: "https://ee.co.uk/broadband",
		host:     "ee.co.uk",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/broadband"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'Accept All')]`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Go')]`,
			},
			resultSelectors: []string{
				`[class*='card' i]`,
			},
		},
	})

	Register(&site{
		slug:     "plusnet",
		name:     "Plusnet",
		startURL: "https://www.plus.net/broadband/",
		host:     "plus.net",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/broadband/"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'Accept All')]`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Go')]`,
				`//button[contains(., 'See deals')]`,
			},
			resultSelectors: []string{
				`[class*='card' i]`,
				`//div[contains(., 'See deals')]`,
				`//button[contains(., 'See deals')]`,
			},
		},
	})

	Register(&site{
		slug:     "now",
		name:     "NOW Broadband",
		startURL: "https://www.nowtv.com/broadband",
		host:     "nowtv.com",
		attempts: 1,
		hints: hints{
			fallbackPaths: []string{"/broadband"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'Accept All')]`,
			},
			postcodeInputs: []string{
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
				`[id*='postcode' i]`,
			},
			submitButtons: []string{
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Go')]`,
			},
			resultSelectors: []string{
				`[class*='card' i]`,
			},
		},
	})
}
