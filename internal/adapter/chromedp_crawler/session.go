package chromedp_crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

const (
	viewportWidth  = 1920
	viewportHeight = 1080
	// networkIdleCap bounds the wait for the lifecycle networkIdle event; pages that keep
	// polling never emit it.
	networkIdleCap = 30 * time.Second
)

// Options configures a BrowserSession.
type Options struct {
	PageLoadTimeout time.Duration
	SettleDelay     time.Duration
	TabSettleDelay  time.Duration
	IdleTimeout     time.Duration
}

// BrowserSession owns one headless Chrome. The browser starts on first use and is closed after
// IdleTimeout without renders. Each Render runs in its own tab.
type BrowserSession struct {
	opts     Options
	identity *IdentityPool
	logger   *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	active        int
	idleTimer     *time.Timer
}

var _ repository.DetailRenderer = (*BrowserSession)(nil)

// NewBrowserSession creates a session. No browser is started until the first Render.
func NewBrowserSession(opts Options, identity *IdentityPool, logger *zap.Logger) *BrowserSession {
	if identity == nil {
		identity = NewIdentityPool(nil, nil)
	}
	return &BrowserSession{opts: opts, identity: identity, logger: logger}
}

// acquire starts the browser if needed and registers an in-flight render.
func (s *BrowserSession) acquire() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if s.browserCtx == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(viewportWidth, viewportHeight),
			chromedp.UserAgent(s.identity.UserAgent()),
		)
		if proxy := s.identity.Proxy(); proxy != "" {
			opts = append(opts, chromedp.ProxyServer(proxy))
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(s.logger.Sugar().Debugf),
		)
		// An empty Run launches the browser.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("%w: %w", repository.ErrRenderEngineUnavailable, err)
		}
		s.allocCancel = allocCancel
		s.browserCtx = browserCtx
		s.browserCancel = browserCancel
		s.logger.Info("browser started")
	}

	s.active++
	return s.browserCtx, nil
}

// release unregisters a render and arms the idle close once nothing is in flight.
func (s *BrowserSession) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active--
	if s.active > 0 || s.browserCtx == nil || s.opts.IdleTimeout <= 0 {
		return
	}
	s.idleTimer = time.AfterFunc(s.opts.IdleTimeout, s.closeIfIdle)
}

func (s *BrowserSession) closeIfIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		s.shutdownLocked()
		s.logger.Info("browser closed after idle timeout")
	}
}

func (s *BrowserSession) shutdownLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.browserCancel != nil {
		s.browserCancel()
		s.allocCancel()
	}
	s.browserCtx = nil
	s.browserCancel = nil
	s.allocCancel = nil
}

// Close stops the browser. A later Render starts a new one.
func (s *BrowserSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownLocked()
}

// Render loads url in a new tab, waits for it to settle and captures the DOM, then activates each
// tab label in turn and captures the DOM again.
func (s *BrowserSession) Render(ctx context.Context, url string, tabs []string) (*entity.RenderedPage, error) {
	browserCtx, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.opts.PageLoadTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	idle := newIdleWatch()
	chromedp.ListenTarget(tabCtx, idle.observe)

	resp, err := chromedp.RunResponse(tabCtx,
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		emulation.SetUserAgentOverride(s.identity.UserAgent()),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			idle.expect(loaderID)
			return nil
		}),
	)
	if err != nil {
		return nil, s.classify(tabCtx, url, err)
	}
	if resp != nil && resp.Status >= 400 {
		return nil, fmt.Errorf("%w: %s answered %d", repository.ErrNavigationFailed, url, resp.Status)
	}

	select {
	case <-idle.done:
	case <-time.After(networkIdleCap):
		s.logger.Debug("network never went idle, continuing", zap.String("url", url))
	case <-tabCtx.Done():
		return nil, s.classify(tabCtx, url, tabCtx.Err())
	}

	rendered := &entity.RenderedPage{URL: url, Tabs: make(map[string]string)}
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(s.opts.SettleDelay),
		chromedp.OuterHTML("html", &rendered.HTML, chromedp.ByQuery),
	); err != nil {
		return nil, s.classify(tabCtx, url, err)
	}

	for _, label := range tabs {
		var clicked bool
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(clickTabScript(label), &clicked)); err != nil {
			if tabCtx.Err() != nil {
				return nil, s.classify(tabCtx, url, err)
			}
			s.logger.Debug("tab activation failed", zap.String("url", url), zap.String("tab", label), zap.Error(err))
			continue
		}
		if !clicked {
			s.logger.Debug("tab not present", zap.String("url", url), zap.String("tab", label))
			continue
		}
		var html string
		if err := chromedp.Run(tabCtx,
			chromedp.Sleep(s.opts.TabSettleDelay),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		); err != nil {
			return nil, s.classify(tabCtx, url, err)
		}
		rendered.Tabs[label] = html
	}

	return rendered, nil
}

// idleWatch waits for the networkIdle lifecycle event of one navigation. Events of other loaders,
// such as the replayed ones of the initial about:blank, are ignored.
type idleWatch struct {
	mu     sync.Mutex
	loader cdp.LoaderID
	idled  map[cdp.LoaderID]bool
	done   chan struct{}
	once   sync.Once
}

func newIdleWatch() *idleWatch {
	return &idleWatch{idled: make(map[cdp.LoaderID]bool), done: make(chan struct{})}
}

func (w *idleWatch) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "networkIdle" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// The event can beat the Navigate reply, so remember it until the loader is known.
	w.idled[e.LoaderID] = true
	if w.loader != "" && e.LoaderID == w.loader {
		w.once.Do(func() { close(w.done) })
	}
}

// expect sets the navigation's loader.
func (w *idleWatch) expect(loader cdp.LoaderID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loader = loader
	if w.idled[loader] {
		w.once.Do(func() { close(w.done) })
	}
}

func (s *BrowserSession) classify(tabCtx context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", repository.ErrRenderTimeout, url, s.opts.PageLoadTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", repository.ErrNavigationFailed, url, err)
}

// clickTabScript clicks the first tab-like element whose visible text equals label, ignoring case.
// It evaluates to whether anything was clicked.
func clickTabScript(label string) string {
	quoted, _ := json.Marshal(strings.ToLower(strings.TrimSpace(label)))
	return fmt.Sprintf(`(() => {
	const wanted = %s;
	const candidates = document.querySelectorAll('a, button, [role="tab"], [class*="tab"]');
	for (const el of candidates) {
		if ((el.innerText || '').trim().toLowerCase() === wanted) {
			el.click();
			return true;
		}
	}
	return false;
})()`, quoted)
}
