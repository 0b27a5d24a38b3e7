package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"bbcompare/internal/config"
	"bbcompare/internal/identity"
)

// SessionFactory opens isolated automation sessions. The orchestrator depends
// on this interface so tests can substitute scripted sessions for Chrome.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Launcher opens chromedp sessions backed by a pool of exec allocators. A
// pooled allocator keeps a warm Chrome process around between scrapes, and
// concurrent sessions always draw distinct allocators, so two providers never
// share a browser at the same time. Cookies are wiped at session start so
// sequential reuse of an allocator leaks no state between providers.
type Launcher struct {
	identities  *identity.Manager
	logger      *zap.Logger
	headless    bool
	navTimeout  time.Duration
	stepTimeout time.Duration

	allocs sync.Pool
}

func NewLauncher(cfg *config.Config, ids *identity.Manager, logger *zap.Logger) *Launcher {
	l := &Launcher{
		identities:  ids,
		logger:      logger,
		headless:    cfg.Headless,
		navTimeout:  time.Duration(cfg.NavTimeout) * time.Second,
		stepTimeout: time.Duration(cfg.StepTimeout) * time.Second,
	}
	l.allocs.New = func() interface{} {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("lang", "en-GB"),
		)
		allocCtx, _ := chromedp.NewExecAllocator(context.Background(), opts...)
		return allocCtx
	}
	return l
}

// NewSession draws an allocator from the pool, opens a fresh browser context
// in it and applies the next identity profile before handing it over.
func (l *Launcher) NewSession(ctx context.Context) (Session, error) {
	allocCtx := l.allocs.Get().(context.Context)
	release := func() { l.allocs.Put(allocCtx) }

	browserCtx, cancel := chromedp.NewContext(allocCtx)

	prof := l.identities.Next()
	boot := []chromedp.Action{
		network.ClearBrowserCookies(),
		emulation.SetUserAgentOverride(prof.UserAgent).WithAcceptLanguage(prof.AcceptLanguage),
		chromedp.EmulateViewport(int64(prof.ViewportWidth), int64(prof.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(identity.StealthScript()).Do(ctx)
			return err
		}),
	}

	bootCtx, bootCancel := context.WithTimeout(browserCtx, l.navTimeout)
	defer bootCancel()
	stop := context.AfterFunc(ctx, bootCancel)
	defer stop()

	if err := chromedp.Run(bootCtx, boot...); err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("start browser session: %w", err)
	}

	l.logger.Debug("browser session ready",
		zap.String("user_agent", prof.UserAgent),
		zap.Int("viewport_w", prof.ViewportWidth),
		zap.Int("viewport_h", prof.ViewportHeight),
	)

	return &chromeSession{
		browserCtx:  browserCtx,
		cancel:      cancel,
		release:     release,
		stepTimeout: l.stepTimeout,
		navTimeout:  l.navTimeout,
	}, nil
}
