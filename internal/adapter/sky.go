package adapter

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Sky's checker is the touchiest of the lot: the journey must start from the
// buy page, a "See broadband deals" CTA sometimes sits in front of it, and
// the session dies with timeout or intent-error pages under automation. The
// adapter gets a watchdog, a recovery path and three attempts.

const skyBuyURL = "https://www.sky.com/broadband/buy"

func newSky() *site {
	s := &site{
		slug:     "sky",
		name:     "Sky",
		startURL: skyBuyURL,
		host:     "sky.com",
		attempts: 3,
		hints: hints{
			fallbackPaths: []string{"/broadband", "/broadband/deals", "/broadband/buy"},
			cookieSelectors: []string{
				`//button[contains(., 'Accept all')]`,
				`//button[contains(., 'Accept All')]`,
				`//label[contains(., 'Accept all')]`,
			},
			preCTASelectors: []string{
				`[data-test-id='ineligible-button']`,
				`//a[contains(., 'See broadband deals')]`,
				`//button[contains(., 'See broadband deals')]`,
				`a[href*='/broadband/buy']`,
				`//a[contains(., 'See deals')]`,
				`//button[contains(., 'See deals')]`,
			},
			sessionErrorText: []string{
				"session timed out",
				"session timeout",
				"something went wrong",
				"sorry, there seems to be a problem",
				"please try again later",
				"intent error",
				"we can't process your request right now",
				"access denied",
			},
			postcodeInputs: []string{
				`[data-test-id='postcode-lookup-field']`,
				`input[placeholder*='postcode' i]`,
				`[name*='postcode' i]`,
				`[id*='postcode' i]`,
			},
			submitButtons: []string{
				`[data-test-id='postcode-lookup-submit']`,
				`//button[contains(., 'Check')]`,
				`//button[contains(., 'Search')]`,
				`//button[contains(., 'Go')]`,
			},
			resultSelectors: []string{
				`[data-component*='product' i]`,
				`[role='listbox'] [role='option']`,
				`select option`,
				`//div[contains(., 'Are you moving')]`,
				`//div[contains(., 'moving to this address')]`,
				`//div[contains(., 'Select your address')]`,
				`//div[contains(., 'Choose your address')]`,
				`//div[contains(., 'Confirm address')]`,
				`//div[contains(., 'See deals')]`,
			},
		},
	}
	s.preActions = skyPreActions
	s.ensureEntry = skyEnsureEntry
	s.sessionBroken = skySessionBroken
	s.recoverSession = skyRecoverSession
	return s
}

// skyPreActions clicks through the marketing CTA that fronts the buy journey
// when the flow lands on a /broadband page that is not the buy page itself.
func skyPreActions(ctx context.Context, f *flow) {
	loc := f.loc(ctx)
	u, err := url.Parse(loc)
	if err != nil {
		return
	}
	path := u.Path
	if !strings.Contains(path, "/broadband") || strings.Contains(path, "/broadband/buy") {
		return
	}
	for _, sel := range f.a.hints.preCTASelectors {
		if ok, err := f.s.Exists(ctx, sel); err != nil || !ok {
			continue
		}
		if f.s.Click(ctx, sel) != nil {
			continue
		}
		f.rec.Page()
		f.s.Scroll(ctx, 400)
		sleepCtx(ctx, 150*time.Millisecond)
		break
	}
}

// skyEnsureEntry jumps straight to the buy page when no postcode form turned
// up on the landing page.
func skyEnsureEntry(ctx context.Context, f *flow) bool {
	if !skyDirectBuy(ctx, f) {
		return false
	}
	f.acceptCookies(ctx)
	return f.enterPostcode(ctx)
}

// skySessionBroken reports whether the page is a dead-session or intent
// error page rather than a usable step of the journey.
func skySessionBroken(ctx context.Context, f *flow) bool {
	loc := strings.ToLower(f.loc(ctx))
	for _, marker := range []string{"timeout", "timedout", "error"} {
		if strings.Contains(loc, marker) {
			return true
		}
	}
	body, err := f.s.ReadText(ctx, "body")
	if err != nil {
		return false
	}
	low := strings.ToLower(body)
	for _, phrase := range f.a.hints.sessionErrorText {
		if strings.Contains(low, phrase) {
			return true
		}
	}
	for _, generic := range []string{"went wrong", "try again", "blocked"} {
		if strings.Contains(low, generic) {
			return true
		}
	}
	return false
}

// skyRecoverSession tries a soft reload first, then a fresh-cookie jump to
// the buy page. Reports whether the session looks usable afterwards.
func skyRecoverSession(ctx context.Context, f *flow) bool {
	if f.s.Reload(ctx) == nil {
		sleepCtx(ctx, 600*time.Millisecond)
		if !skySessionBroken(ctx, f) {
			skyPreActions(ctx, f)
			return true
		}
	}

	_ = f.s.ClearCookies(ctx)
	if !skyDirectBuy(ctx, f) {
		return false
	}
	f.acceptCookies(ctx)
	skyPreActions(ctx, f)
	return !skySessionBroken(ctx, f)
}

func skyDirectBuy(ctx context.Context, f *flow) bool {
	if !f.allow(skyBuyURL) {
		f.rec.Step(f.a.slug, skyBuyURL, "robots_skipped_direct_buy", "")
		return false
	}
	if f.s.Navigate(ctx, skyBuyURL) != nil {
		return false
	}
	f.rec.Page()
	f.rec.Step(f.a.slug, skyBuyURL, "navigated_direct_buy", "")
	sleepCtx(ctx, 400*time.Millisecond)
	return true
}
