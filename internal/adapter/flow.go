package adapter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"bbcompare/internal/browser"
	"bbcompare/internal/domain"
)

const resultWait = 8 * time.Second

// Buttons that advance an interstitial page, most specific first.
var continueButtons = []string{
	`//button[contains(., 'Continue')]`,
	`//button[contains(., 'Next')]`,
	`//button[contains(., 'Confirm')]`,
	`//button[contains(., 'Proceed')]`,
	`//button[contains(., 'See deals')]`,
	`//button[contains(., 'View deals')]`,
	`//button[contains(., 'Go')]`,
	`//a[contains(., 'Continue')]`,
	`//a[contains(., 'Next')]`,
}

// Wordings of the "moving home" question seen across UK ISP checkers. The
// straight and curly apostrophe variants are both real.
var movingLabels = []string{
	"I am moving to this address or have moved here in the last 14 days",
	"I am moving to this address",
	"I'm moving to this address",
	"moving to this address",
	"I am moving home",
	"I'm moving home",
	"I have moved here in the last 14 days",
}

var liveHereLabels = []string{
	"I live here and am or have consent from the bill payer",
	"I live here",
	"I currently live at this address",
	"I’m staying at this address",
	"I am staying at this address",
}

var addressLikeRe = regexp.MustCompile(`(?i)\d+|road|street|flat|house|avenue|close|drive|lane|rd|st`)

// autoFillJS fills visible, empty text inputs whose label looks like a
// required address part. Returns how many fields it touched.
const autoFillJS = `(() => {
	const re = /(house|flat|unit|apartment|building|number|street|address line)/i;
	let filled = 0;
	const inputs = document.querySelectorAll("input[type='text'], input:not([type])");
	for (const inp of inputs) {
		if (!(inp.offsetWidth || inp.offsetHeight)) { continue; }
		if (inp.value && inp.value.trim()) { continue; }
		let label = '';
		if (inp.labels && inp.labels.length) { label = inp.labels[0].textContent || ''; }
		if (!label) {
			const anc = inp.closest('label');
			if (anc) { label = anc.textContent || ''; }
		}
		if (label && !re.test(label)) { continue; }
		inp.value = '1';
		inp.dispatchEvent(new Event('input', {bubbles: true}));
		inp.dispatchEvent(new Event('change', {bubbles: true}));
		filled++;
	}
	return filled;
})()`

// flow walks one provider's checker: navigate, consent, postcode, wizard,
// results. It is built from a site descriptor and consumed by site.Scrape.
type flow struct {
	a    *site
	s    browser.Session
	opts Options
	rec  *Recorder
}

func (f *flow) run(ctx context.Context) domain.ScrapeOutcome {
	attempts := f.a.attempts
	if attempts < 1 {
		attempts = 1
	}
	var out domain.ScrapeOutcome
	for attempt := 1; attempt <= attempts; attempt++ {
		out = f.runOnce(ctx, attempt)
		if out.Status != domain.StatusFailed || !retryable(out.FailKind) || attempt == attempts {
			return out
		}
		f.rec.Step(f.a.slug, "", stepName("retrying", attempt), string(out.FailKind))
		sleepCtx(ctx, time.Duration(attempt)*600*time.Millisecond)
		if o, done := f.ctxOutcome(ctx); done {
			return o
		}
	}
	return out
}

func (f *flow) runOnce(ctx context.Context, attempt int) domain.ScrapeOutcome {
	prov := f.a.slug
	pc := f.opts.Postcode.String()

	target := f.a.startURL
	if err := f.s.Navigate(ctx, target); err != nil {
		if out, done := f.ctxOutcome(ctx); done {
			return out
		}
		// deep link failed; retry from the bare host
		target = baseURL(f.a.startURL) + "/"
		if !f.allow(target) {
			f.rec.Step(prov, target, stepName("robots_blocked_base", attempt), "")
			return domain.Blocked(prov, pc, "robots.txt disallows "+target)
		}
		if err := f.s.Navigate(ctx, target); err != nil {
			if out, done := f.ctxOutcome(ctx); done {
				return out
			}
			return domain.Failed(prov, pc, domain.FailNavigation, "open "+target+": "+err.Error())
		}
		f.rec.Page()
		f.rec.Step(prov, target, stepName("navigated_base", attempt), "")
	} else {
		f.rec.Page()
		f.rec.Step(prov, target, stepName("navigated", attempt), "")
	}

	f.acceptCookies(ctx)
	f.runPreActions(ctx)

	entered := f.enterPostcode(ctx)
	if !entered && f.a.ensureEntry != nil {
		entered = f.a.ensureEntry(ctx, f)
	}
	if !entered {
		entered = f.tryFallbackPaths(ctx, attempt)
	}

	if f.a.sessionBroken != nil && f.a.sessionBroken(ctx, f) {
		recovered := f.a.recoverSession != nil && f.a.recoverSession(ctx, f)
		if recovered {
			entered = f.enterPostcode(ctx)
		}
		if !recovered || f.a.sessionBroken(ctx, f) {
			f.rec.Step(prov, f.loc(ctx), stepName("session_error", attempt), "checker session error page")
			return domain.Failed(prov, pc, domain.FailSession, "availability checker session error")
		}
	}

	if out, done := f.ctxOutcome(ctx); done {
		return out
	}
	if !entered {
		f.rec.Step(prov, f.loc(ctx), stepName("no_postcode_form", attempt), "")
		return domain.Failed(prov, pc, domain.FailNavigation, "postcode form not found")
	}
	f.rec.Step(prov, f.loc(ctx), stepName("postcode_submitted", attempt), pc)

	f.driveToResults(ctx)
	if out, done := f.ctxOutcome(ctx); done {
		return out
	}

	html, err := f.s.OuterHTML(ctx)
	if err != nil {
		if out, done := f.ctxOutcome(ctx); done {
			return out
		}
		return domain.Failed(prov, pc, domain.FailNavigation, "read results page: "+err.Error())
	}
	return f.finish(ctx, attempt, html)
}

// finish turns the final page into an outcome.
func (f *flow) finish(ctx context.Context, attempt int, html string) domain.ScrapeOutcome {
	prov := f.a.slug
	pc := f.opts.Postcode.String()
	source := f.loc(ctx)
	if source == "" {
		source = f.a.startURL
	}

	plans := ExtractOffers(html)
	if len(plans) == 0 {
		if Unavailable(html) {
			f.rec.Step(prov, source, stepName("unavailable", attempt), "")
			return domain.Unavailable(prov, pc)
		}
		f.rec.Step(prov, source, stepName("no_offers", attempt), "")
		return domain.Failed(prov, pc, domain.FailParse, "no offers found on results page")
	}
	for i := range plans {
		plans[i].RowID = planID(prov, plans[i].Name, plans[i].DownloadMbps, plans[i].MonthlyPrice, f.a.startURL)
	}

	// headline plan: cheapest monthly, faster wins a price tie
	best := plans[0]
	for _, p := range plans[1:] {
		if p.MonthlyPrice < best.MonthlyPrice ||
			(p.MonthlyPrice == best.MonthlyPrice && p.DownloadMbps > best.DownloadMbps) {
			best = p
		}
	}

	q := domain.Quote{
		Provider:       prov,
		Postcode:       pc,
		Available:      true,
		MonthlyPrice:   best.MonthlyPrice,
		DownloadMbps:   best.DownloadMbps,
		ContractMonths: best.ContractMonths,
		Plans:          plans,
		FetchedAt:      time.Now().UTC(),
		SourceURL:      source,
	}
	if q.MonthlyPrice <= 0 || q.DownloadMbps <= 0 {
		f.rec.Step(prov, source, stepName("invalid_quote", attempt), "missing price or speed")
		return domain.Failed(prov, pc, domain.FailParse, "offer missing price or speed")
	}
	f.rec.Step(prov, source, stepName("offers_found", attempt), strconv.Itoa(len(plans)))
	return domain.Success(q)
}

func (f *flow) acceptCookies(ctx context.Context) bool {
	for _, sel := range f.a.hints.cookieSelectors {
		if ok, err := f.s.Exists(ctx, sel); err != nil || !ok {
			continue
		}
		if f.s.Click(ctx, sel) == nil {
			sleepCtx(ctx, 200*time.Millisecond)
			return true
		}
	}
	for _, sel := range genericCookies {
		if ok, err := f.s.Exists(ctx, sel); err != nil || !ok {
			continue
		}
		if f.s.Click(ctx, sel) == nil {
			sleepCtx(ctx, 200*time.Millisecond)
			return true
		}
	}
	return false
}

// enterPostcode finds a postcode field, types into it and submits, trying
// the submit buttons first and Enter as a fallback.
func (f *flow) enterPostcode(ctx context.Context) bool {
	pc := f.opts.Postcode.String()
	for _, in := range f.a.hints.postcodeInputs {
		if ok, err := f.s.Exists(ctx, in); err != nil || !ok {
			continue
		}
		if f.s.Fill(ctx, in, pc) != nil {
			continue
		}
		for _, btn := range f.a.hints.submitButtons {
			if ok, err := f.s.Exists(ctx, btn); err != nil || !ok {
				continue
			}
			if f.s.Click(ctx, btn) == nil {
				sleepCtx(ctx, 400*time.Millisecond)
				return true
			}
		}
		if f.s.PressEnter(ctx, in) == nil {
			sleepCtx(ctx, 400*time.Millisecond)
			return true
		}
	}
	return false
}

func (f *flow) tryFallbackPaths(ctx context.Context, attempt int) bool {
	base := baseURL(f.a.startURL)
	for _, path := range f.a.hints.fallbackPaths {
		if ctx.Err() != nil {
			return false
		}
		target := base + path
		if !f.allow(target) {
			f.rec.Step(f.a.slug, target, stepName("robots_skipped_fallback", attempt), path)
			continue
		}
		if f.s.Navigate(ctx, target) != nil {
			continue
		}
		f.rec.Page()
		f.rec.Step(f.a.slug, target, stepName("navigated_fallback", attempt), path)
		f.acceptCookies(ctx)
		f.runPreActions(ctx)
		if f.enterPostcode(ctx) {
			return true
		}
	}
	return false
}

// driveToResults walks interstitial pages (address pickers, the moving-home
// question, stray required fields, continue buttons) until a results page is
// detected or the step budget runs out.
func (f *flow) driveToResults(ctx context.Context) {
	for step := 0; step < f.opts.MaxSteps; step++ {
		if ctx.Err() != nil {
			return
		}
		if f.resultsReady(ctx) {
			return
		}
		progressed := false
		if f.pickAddress(ctx) {
			f.rec.Wizard()
			progressed = true
		}
		if f.answerMoving(ctx) {
			f.rec.Wizard()
			progressed = true
		}
		if f.fillExtraFields(ctx) {
			f.rec.Wizard()
			progressed = true
		}
		if f.clickContinue(ctx) {
			f.rec.Wizard()
			progressed = true
		}
		sleepCtx(ctx, 500*time.Millisecond)
		if !progressed {
			sleepCtx(ctx, 600*time.Millisecond)
		}
	}
	f.waitForResults(ctx)
}

func (f *flow) resultsReady(ctx context.Context) bool {
	for _, sel := range f.a.hints.resultSelectors {
		if ok, err := f.s.Exists(ctx, sel); err == nil && ok {
			return true
		}
	}
	// speed wording anywhere in the visible text also counts as results
	if txt, err := f.s.ReadText(ctx, "body"); err == nil && HasSpeedText(txt) {
		return true
	}
	return false
}

func (f *flow) waitForResults(ctx context.Context) {
	for _, sel := range f.a.hints.resultSelectors {
		if ctx.Err() != nil {
			return
		}
		if f.s.WaitFor(ctx, sel, resultWait) == nil {
			return
		}
	}
	sleepCtx(ctx, 4*time.Second)
}

func (f *flow) pickAddress(ctx context.Context) bool {
	picked := f.pickAddressDropdown(ctx)
	if !picked {
		picked = f.pickAddressList(ctx)
	}
	if picked {
		f.clickContinue(ctx)
	}
	return picked
}

func (f *flow) pickAddressDropdown(ctx context.Context) bool {
	groups, err := f.s.Dropdowns(ctx)
	if err != nil {
		return false
	}
	for gi, options := range groups {
		if len(options) < 2 || !anyAddressLike(options) {
			continue
		}
		label := ""
		if f.opts.AddressHint != "" {
			for _, o := range options {
				if containsFold(o, f.opts.AddressHint) {
					label = o
					break
				}
			}
		}
		if label == "" {
			label = options[clampIndex(f.opts.AddressIndex-1, len(options))]
		}
		if f.s.PickDropdown(ctx, gi, label) == nil {
			sleepCtx(ctx, 300*time.Millisecond)
			return true
		}
	}
	return false
}

func (f *flow) pickAddressList(ctx context.Context) bool {
	sel := `[role='listbox'] [role='option']`
	texts, err := f.s.Texts(ctx, sel)
	if err != nil {
		return false
	}
	candidates := make([]int, 0, len(texts))
	for i := range texts {
		candidates = append(candidates, i)
	}
	if len(texts) == 0 {
		sel = `ul li, ol li`
		texts, err = f.s.Texts(ctx, sel)
		if err != nil {
			return false
		}
		for i, t := range texts {
			if addressLikeRe.MatchString(t) {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) < 2 {
		return false
	}
	pick := -1
	if f.opts.AddressHint != "" {
		for _, i := range candidates {
			if containsFold(texts[i], f.opts.AddressHint) {
				pick = i
				break
			}
		}
	}
	if pick < 0 {
		pick = candidates[clampIndex(f.opts.AddressIndex-1, len(candidates))]
	}
	if f.s.ClickNth(ctx, sel, pick) != nil {
		return false
	}
	sleepCtx(ctx, 300*time.Millisecond)
	return true
}

func (f *flow) answerMoving(ctx context.Context) bool {
	if f.opts.Moving == nil {
		return false
	}
	var picked bool
	if *f.opts.Moving {
		picked = f.clickLabeled(ctx, movingLabels) || f.clickLabeled(ctx, []string{"moving"})
	} else {
		picked = f.clickLabeled(ctx, liveHereLabels) || f.clickLabeled(ctx, []string{"live here"})
	}
	if picked {
		f.clickContinue(ctx)
	}
	return picked
}

func (f *flow) clickLabeled(ctx context.Context, phrases []string) bool {
	for _, p := range phrases {
		xp := `//label[contains(., "` + p + `")]`
		if ok, err := f.s.Exists(ctx, xp); err != nil || !ok {
			continue
		}
		if f.s.Click(ctx, xp) == nil {
			sleepCtx(ctx, 200*time.Millisecond)
			return true
		}
	}
	for _, p := range phrases {
		css := `input[type='radio'][aria-label*="` + p + `"]`
		if ok, err := f.s.Exists(ctx, css); err != nil || !ok {
			continue
		}
		if f.s.Click(ctx, css) == nil {
			sleepCtx(ctx, 200*time.Millisecond)
			return true
		}
	}
	return false
}

func (f *flow) fillExtraFields(ctx context.Context) bool {
	changed := false
	labels := make([]string, 0, len(f.opts.ExtraFields))
	for k := range f.opts.ExtraFields {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if f.fillLabeled(ctx, label, f.opts.ExtraFields[label]) {
			changed = true
		}
	}

	var filled int
	if err := f.s.Eval(ctx, autoFillJS, &filled); err == nil && filled > 0 {
		changed = true
	}
	if changed {
		f.clickContinue(ctx)
	}
	return changed
}

func (f *flow) fillLabeled(ctx context.Context, label, val string) bool {
	xp := `//label[contains(., "` + label + `")]`
	if ok, err := f.s.Exists(ctx, xp); err == nil && ok {
		if id, has, err := f.s.Attr(ctx, xp, "for"); err == nil && has && id != "" {
			if f.s.Fill(ctx, "#"+id, val) == nil {
				return true
			}
		}
		follow := `(//label[contains(., "` + label + `")]/following::input)[1]`
		if f.s.Fill(ctx, follow, val) == nil {
			return true
		}
	}
	css := fmt.Sprintf(`input[placeholder*="%s" i], input[name*="%s" i], input[id*="%s" i]`,
		label, label, label)
	if ok, err := f.s.Exists(ctx, css); err == nil && ok {
		return f.s.Fill(ctx, css, val) == nil
	}
	return false
}

func (f *flow) clickContinue(ctx context.Context) bool {
	for _, sel := range continueButtons {
		if ok, err := f.s.Exists(ctx, sel); err != nil || !ok {
			continue
		}
		if f.s.Click(ctx, sel) == nil {
			sleepCtx(ctx, 400*time.Millisecond)
			return true
		}
	}
	return false
}

func (f *flow) runPreActions(ctx context.Context) {
	if f.a.preActions != nil {
		f.a.preActions(ctx, f)
	}
}

func (f *flow) allow(rawURL string) bool {
	if f.opts.AllowURL == nil {
		return true
	}
	return f.opts.AllowURL(rawURL)
}

func (f *flow) loc(ctx context.Context) string {
	u, err := f.s.Location(ctx)
	if err != nil {
		return ""
	}
	return u
}

// ctxOutcome reports whether the scrape context ended and, if so, the
// outcome that represents it.
func (f *flow) ctxOutcome(ctx context.Context) (domain.ScrapeOutcome, bool) {
	prov := f.a.slug
	pc := f.opts.Postcode.String()
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return domain.Failed(prov, pc, domain.FailTimeout, "scrape deadline exceeded"), true
	case context.Canceled:
		return domain.Failed(prov, pc, domain.FailCancelled, "scrape cancelled"), true
	}
	return domain.ScrapeOutcome{}, false
}

func retryable(k domain.FailureKind) bool {
	return k == domain.FailNavigation || k == domain.FailSession
}

func stepName(step string, attempt int) string {
	return fmt.Sprintf("%s_a%d", step, attempt)
}

func baseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func anyAddressLike(options []string) bool {
	for _, o := range options {
		if addressLikeRe.MatchString(o) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
