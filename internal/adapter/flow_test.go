package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bbcompare/internal/browser"
	"bbcompare/internal/domain"
)

// fakePage is one scripted page: which selectors exist on it, its text and
// HTML, and where clicks or dropdown picks lead.
type fakePage struct {
	url   string
	has   map[string]bool
	text  string
	html  string
	drops [][]string
	click map[string]string // selector -> destination url
	pick  string            // destination url after a dropdown pick
}

type fakeSession struct {
	pages   map[string]*fakePage
	cur     *fakePage
	failNav map[string]int // url -> navigations left to fail
	picked  []string
	closed  bool
}

var _ browser.Session = (*fakeSession)(nil)

func newFakeSession(pages ...*fakePage) *fakeSession {
	m := make(map[string]*fakePage, len(pages))
	for _, p := range pages {
		m[p.url] = p
	}
	return &fakeSession{pages: m, failNav: map[string]int{}}
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	if n := s.failNav[url]; n > 0 {
		s.failNav[url] = n - 1
		return errors.New("nav failed")
	}
	p, ok := s.pages[url]
	if !ok {
		return errors.New("no such page")
	}
	s.cur = p
	return nil
}

func (s *fakeSession) Reload(context.Context) error { return nil }

func (s *fakeSession) Location(context.Context) (string, error) {
	if s.cur == nil {
		return "", errors.New("no page")
	}
	return s.cur.url, nil
}

func (s *fakeSession) Exists(_ context.Context, sel string) (bool, error) {
	if s.cur == nil {
		return false, nil
	}
	return s.cur.has[sel], nil
}

func (s *fakeSession) Click(ctx context.Context, sel string) error {
	if s.cur == nil || !s.cur.has[sel] {
		return browser.ErrNotFound
	}
	if dest := s.cur.click[sel]; dest != "" {
		return s.Navigate(ctx, dest)
	}
	return nil
}

func (s *fakeSession) ClickNth(context.Context, string, int) error { return browser.ErrNotFound }

func (s *fakeSession) Fill(_ context.Context, sel, _ string) error {
	if s.cur == nil || !s.cur.has[sel] {
		return browser.ErrNotFound
	}
	return nil
}

func (s *fakeSession) PressEnter(_ context.Context, sel string) error {
	if s.cur == nil || !s.cur.has[sel] {
		return browser.ErrNotFound
	}
	return nil
}

func (s *fakeSession) ReadText(context.Context, string) (string, error) {
	if s.cur == nil {
		return "", errors.New("no page")
	}
	return s.cur.text, nil
}

func (s *fakeSession) Attr(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (s *fakeSession) WaitFor(_ context.Context, sel string, _ time.Duration) error {
	if s.cur != nil && s.cur.has[sel] {
		return nil
	}
	return browser.ErrNotFound
}

func (s *fakeSession) OuterHTML(context.Context) (string, error) {
	if s.cur == nil {
		return "", errors.New("no page")
	}
	return s.cur.html, nil
}

func (s *fakeSession) Texts(context.Context, string) ([]string, error) { return nil, nil }

func (s *fakeSession) Dropdowns(context.Context) ([][]string, error) {
	if s.cur == nil {
		return nil, nil
	}
	return s.cur.drops, nil
}

func (s *fakeSession) PickDropdown(ctx context.Context, _ int, label string) error {
	s.picked = append(s.picked, label)
	if s.cur != nil && s.cur.pick != "" {
		return s.Navigate(ctx, s.cur.pick)
	}
	return nil
}

func (s *fakeSession) Eval(_ context.Context, _ string, out any) error {
	if p, ok := out.(*int); ok {
		*p = 0
	}
	return nil
}

func (s *fakeSession) Scroll(context.Context, int) error  { return nil }
func (s *fakeSession) ClearCookies(context.Context) error { return nil }
func (s *fakeSession) Close()                             { s.closed = true }

func mustPostcode(t *testing.T, raw string) domain.Postcode {
	t.Helper()
	pc, err := domain.ParsePostcode(raw)
	require.NoError(t, err)
	return pc
}

func stepNames(events []domain.StepEvent) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Step)
	}
	return names
}

func btLanding(resultsURL string) *fakePage {
	return &fakePage{
		url: "https://www.bt.com/broadband",
		has: map[string]bool{
			`input[placeholder*='postcode' i]`: true,
			`//button[contains(., 'Check')]`:   true,
		},
		click: map[string]string{
			`//button[contains(., 'Check')]`: resultsURL,
		},
	}
}

func TestFlowScrapesOffers(t *testing.T) {
	bt, ok := Get("bt")
	require.True(t, ok)

	results := &fakePage{
		url:  "https://www.bt.com/results",
		has:  map[string]bool{`[data-component*='product' i]`: true},
		html: resultsPage,
	}
	sess := newFakeSession(btLanding(results.url), results)

	rec := NewRecorder()
	out := bt.Scrape(context.Background(), sess, Options{
		Postcode: mustPostcode(t, "TW8 0FD"),
		Recorder: rec,
	})

	require.Equal(t, domain.StatusSuccess, out.Status)
	require.NotNil(t, out.Quote)
	require.Equal(t, "bt", out.Quote.Provider)
	require.Equal(t, "TW8 0FD", out.Quote.Postcode)
	require.True(t, out.Quote.Available)
	require.Equal(t, 29.99, out.Quote.MonthlyPrice)
	require.Equal(t, 100, out.Quote.DownloadMbps)
	require.Len(t, out.Quote.Plans, 2)
	for _, p := range out.Quote.Plans {
		require.NotEmpty(t, p.RowID)
	}

	steps := stepNames(rec.Events())
	require.Contains(t, steps, "navigated_a1")
	require.Contains(t, steps, "postcode_submitted_a1")
	require.Contains(t, steps, "offers_found_a1")
}

func TestFlowReportsUnavailable(t *testing.T) {
	bt, _ := Get("bt")

	results := &fakePage{
		url:  "https://www.bt.com/results",
		has:  map[string]bool{`[class*='card' i]`: true},
		html: `<html><body><section class="card">Sorry, fibre is not available in your area right now.</section></body></html>`,
	}
	sess := newFakeSession(btLanding(results.url), results)

	out := bt.Scrape(context.Background(), sess, Options{
		Postcode: mustPostcode(t, "TW8 0FD"),
	})

	require.Equal(t, domain.StatusUnavailable, out.Status)
	require.Nil(t, out.Quote)
}

func TestFlowFailsWhenNoPostcodeForm(t *testing.T) {
	bt, _ := Get("bt")

	landing := &fakePage{url: "https://www.bt.com/broadband", has: map[string]bool{}}
	sess := newFakeSession(landing)
	rec := NewRecorder()

	var denied []string
	out := bt.Scrape(context.Background(), sess, Options{
		Postcode: mustPostcode(t, "TW8 0FD"),
		Recorder: rec,
		AllowURL: func(raw string) bool {
			denied = append(denied, raw)
			return false
		},
	})

	require.Equal(t, domain.StatusFailed, out.Status)
	require.Equal(t, domain.FailNavigation, out.FailKind)
	require.Contains(t, denied, "https://www.bt.com/broadband/deals")
	require.Contains(t, stepNames(rec.Events()), "robots_skipped_fallback_a1")
}

func TestFlowDrivesAddressPicker(t *testing.T) {
	bt, _ := Get("bt")

	address := &fakePage{
		url:   "https://www.bt.com/address",
		drops: [][]string{{"Select your address", "1 High Street", "2 High Street"}},
		pick:  "https://www.bt.com/results",
	}
	results := &fakePage{
		url:  "https://www.bt.com/results",
		has:  map[string]bool{`[data-component*='product' i]`: true},
		html: resultsPage,
	}
	sess := newFakeSession(btLanding(address.url), address, results)
	rec := NewRecorder()

	out := bt.Scrape(context.Background(), sess, Options{
		Postcode:    mustPostcode(t, "TW8 0FD"),
		AddressHint: "2 High",
		Recorder:    rec,
	})

	require.Equal(t, domain.StatusSuccess, out.Status)
	require.Equal(t, []string{"2 High Street"}, sess.picked)

	events := rec.Events()
	require.NotEmpty(t, events)
	require.GreaterOrEqual(t, events[len(events)-1].WizardSteps, 1)
}

func TestFlowRetriesNavigationFailures(t *testing.T) {
	a := &site{
		slug:     "deluxe",
		name:     "Deluxe",
		startURL: "https://broadband.deluxe.example/deals",
		host:     "deluxe.example",
		attempts: 2,
		hints: hints{
			postcodeInputs:  []string{`input[name*='postcode' i]`},
			submitButtons:   []string{`//button[contains(., 'Check')]`},
			resultSelectors: []string{`[class*='card' i]`},
		},
	}
	landing := &fakePage{
		url: "https://broadband.deluxe.example/deals",
		has: map[string]bool{
			`input[name*='postcode' i]`:      true,
			`//button[contains(., 'Check')]`: true,
		},
		click: map[string]string{
			`//button[contains(., 'Check')]`: "https://broadband.deluxe.example/results",
		},
	}
	results := &fakePage{
		url:  "https://broadband.deluxe.example/results",
		has:  map[string]bool{`[class*='card' i]`: true},
		html: resultsPage,
	}
	sess := newFakeSession(landing, results)
	sess.failNav[landing.url] = 1
	rec := NewRecorder()

	out := a.Scrape(context.Background(), sess, Options{
		Postcode: mustPostcode(t, "TW8 0FD"),
		Recorder: rec,
	})

	require.Equal(t, domain.StatusSuccess, out.Status)
	steps := stepNames(rec.Events())
	require.Contains(t, steps, "retrying_a1")
	require.Contains(t, steps, "navigated_a2")
}

func TestFlowCancelledContext(t *testing.T) {
	bt, _ := Get("bt")

	results := &fakePage{
		url:  "https://www.bt.com/results",
		has:  map[string]bool{`[data-component*='product' i]`: true},
		html: resultsPage,
	}
	sess := newFakeSession(btLanding(results.url), results)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := bt.Scrape(ctx, sess, Options{Postcode: mustPostcode(t, "TW8 0FD")})

	require.Equal(t, domain.StatusFailed, out.Status)
	require.Equal(t, domain.FailCancelled, out.FailKind)
}

func TestSkySessionWatchdog(t *testing.T) {
	a, ok := Get("sky")
	require.True(t, ok)
	sky := a.(*site)

	newFlow := func(p *fakePage) *flow {
		sess := newFakeSession(p)
		require.NoError(t, sess.Navigate(context.Background(), p.url))
		f := &flow{a: sky, s: sess, opts: Options{}.withDefaults()}
		f.rec = f.opts.Recorder
		return f
	}

	broken := newFlow(&fakePage{
		url:  "https://www.sky.com/broadband/buy",
		text: "Sorry, there seems to be a problem. Please try again later.",
	})
	require.True(t, skySessionBroken(context.Background(), broken))

	fine := newFlow(&fakePage{
		url:  "https://www.sky.com/broadband/buy",
		text: "Choose your address to see deals",
	})
	require.False(t, skySessionBroken(context.Background(), fine))

	errURL := newFlow(&fakePage{
		url:  "https://www.sky.com/intent-error",
		text: "ok",
	})
	require.True(t, skySessionBroken(context.Background(), errURL))
}
