package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ErrNotFound is returned when a selector matches nothing on the page.
var ErrNotFound = errors.New("browser: element not found")

// Quick DOM probes (Exists, Texts, Dropdowns) get a short bound of their own;
// anything that scrolls, clicks or types uses the session's step timeout.
const probeTimeout = 2 * time.Second

// Session is the page-automation primitive the site adapters drive. One
// session maps to one isolated browser context; the adapter owns it for the
// duration of a single scrape and must Close it on every exit path.
//
// Selectors are CSS by default. Selectors starting with "//" or "(" are
// evaluated as XPath, which is how text-matching hints ("a button labelled
// Accept all") are expressed.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	ClickNth(ctx context.Context, selector string, n int) error
	Fill(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context, selector string) error
	ReadText(ctx context.Context, selector string) (string, error)
	Attr(ctx context.Context, selector, name string) (string, bool, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	OuterHTML(ctx context.Context) (string, error)
	Texts(ctx context.Context, selector string) ([]string, error)
	Dropdowns(ctx context.Context) ([][]string, error)
	PickDropdown(ctx context.Context, index int, label string) error
	Eval(ctx context.Context, js string, out any) error
	Scroll(ctx context.Context, dy int) error
	ClearCookies(ctx context.Context) error
	Close()
}

// chromeSession drives one chromedp browser context.
type chromeSession struct {
	browserCtx  context.Context
	cancel      context.CancelFunc
	release     func()
	stepTimeout time.Duration
	navTimeout  time.Duration
}

// run executes chromedp actions against the browser context, bounded by the
// given timeout and cancelled early if the caller's context ends first.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func queryOpt(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, "(") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Reload(ctx context.Context) error {
	return s.run(ctx, s.navTimeout,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, probeTimeout, chromedp.Location(&url))
	return url, err
}

func (s *chromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	var js string
	if strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, "(") {
		js = fmt.Sprintf(
			"document.evaluate(%q, document, null, XPathResult.BOOLEAN_TYPE, null).booleanValue",
			"count("+selector+") > 0",
		)
	} else {
		js = fmt.Sprintf("document.querySelector(%q) !== null", selector)
	}
	var found bool
	if err := s.run(ctx, probeTimeout, chromedp.Evaluate(js, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.stepTimeout,
		chromedp.ScrollIntoView(selector, queryOpt(selector)),
		chromedp.Click(selector, queryOpt(selector)),
	)
}

func (s *chromeSession) ClickNth(ctx context.Context, selector string, n int) error {
	js := fmt.Sprintf(`(() => {
	const els = document.querySelectorAll(%q);
	if (els.length <= %d) { return false; }
	els[%d].scrollIntoView({block: 'center'});
	els[%d].click();
	return true;
})()`, selector, n, n, n)
	var clicked bool
	if err := s.run(ctx, s.stepTimeout, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return ErrNotFound
	}
	return nil
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx, s.stepTimeout,
		chromedp.WaitVisible(selector, queryOpt(selector)),
		chromedp.Clear(selector, queryOpt(selector)),
		chromedp.SendKeys(selector, value, queryOpt(selector)),
	)
}

func (s *chromeSession) PressEnter(ctx context.Context, selector string) error {
	return s.run(ctx, s.stepTimeout, chromedp.SendKeys(selector, kb.Enter, queryOpt(selector)))
}

func (s *chromeSession) ReadText(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.run(ctx, s.stepTimeout, chromedp.Text(selector, &text, queryOpt(selector)))
	return text, err
}

func (s *chromeSession) Attr(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := s.run(ctx, s.stepTimeout, chromedp.AttributeValue(selector, name, &value, &ok, queryOpt(selector)))
	return value, ok, err
}

func (s *chromeSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.stepTimeout
	}
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, queryOpt(selector)))
}

func (s *chromeSession) OuterHTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, s.stepTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *chromeSession) Texts(ctx context.Context, selector string) ([]string, error) {
	js := fmt.Sprintf(
		"Array.from(document.querySelectorAll(%q)).map(e => (e.textContent || '').trim())",
		selector,
	)
	var texts []string
	if err := s.run(ctx, probeTimeout, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (s *chromeSession) Dropdowns(ctx context.Context) ([][]string, error) {
	const js = `Array.from(document.querySelectorAll('select')).map(s =>
	Array.from(s.options).map(o => (o.textContent || '').trim()))`
	var groups [][]string
	if err := s.run(ctx, probeTimeout, chromedp.Evaluate(js, &groups)); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *chromeSession) PickDropdown(ctx context.Context, index int, label string) error {
	js := fmt.Sprintf(`(() => {
	const sels = document.querySelectorAll('select');
	if (sels.length <= %d) { return false; }
	const sel = sels[%d];
	for (const opt of sel.options) {
		if ((opt.textContent || '').trim() === %q) {
			sel.value = opt.value;
			sel.dispatchEvent(new Event('input', {bubbles: true}));
			sel.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		}
	}
	return false;
})()`, index, index, label)
	var picked bool
	if err := s.run(ctx, s.stepTimeout, chromedp.Evaluate(js, &picked)); err != nil {
		return err
	}
	if !picked {
		return ErrNotFound
	}
	return nil
}

// Eval runs a script in the page and unmarshals its result into out, which
// may be nil when the result does not matter.
func (s *chromeSession) Eval(ctx context.Context, js string, out any) error {
	return s.run(ctx, s.stepTimeout, chromedp.Evaluate(js, out))
}

func (s *chromeSession) Scroll(ctx context.Context, dy int) error {
	js := fmt.Sprintf("window.scrollBy(0, %d)", dy)
	return s.run(ctx, probeTimeout, chromedp.Evaluate(js, nil))
}

func (s *chromeSession) ClearCookies(ctx context.Context) error {
	return s.run(ctx, probeTimeout, network.ClearBrowserCookies())
}

// Close tears down the browser context and returns the allocator to the pool.
func (s *chromeSession) Close() {
	s.cancel()
	if s.release != nil {
		s.release()
	}
}
