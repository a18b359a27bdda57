package chromedp_crawler

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestClickTabScript_QuotesLabel(t *testing.T) {
	script := clickTabScript(" Histórico ")
	assert.Contains(t, script, `const wanted = "histórico";`)
	assert.Contains(t, script, `[role="tab"]`)

	script = clickTabScript(`Itens"); alert(1); ("`)
	assert.Contains(t, script, `const wanted = "itens\"); alert(1); (\"";`)
	assert.Equal(t, 1, strings.Count(script, "const wanted"))
}

func TestIdentityPool_RotatesProxies(t *testing.T) {
	pool := NewIdentityPool([]string{"http://a:1", "", "http://b:2"}, nil)

	assert.Equal(t, "http://a:1", pool.Proxy())
	assert.Equal(t, "http://b:2", pool.Proxy())
	assert.Equal(t, "http://a:1", pool.Proxy())
	assert.Contains(t, defaultUserAgents, pool.UserAgent())
}

func TestIdentityPool_NoProxy(t *testing.T) {
	assert.Empty(t, NewIdentityPool(nil, []string{"ua"}).Proxy())
}

func TestBrowserSession_CloseWithoutStartIsSafe(t *testing.T) {
	s := NewBrowserSession(Options{}, nil, zap.NewNop())
	assert.NotPanics(t, s.Close)
}

func idled(w *idleWatch) bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func TestIdleWatch_IgnoresOtherLoaders(t *testing.T) {
	w := newIdleWatch()
	w.observe(&page.EventLifecycleEvent{LoaderID: cdp.LoaderID("blank"), Name: "networkIdle"})
	w.expect(cdp.LoaderID("nav"))
	assert.False(t, idled(w))

	w.observe(&page.EventLifecycleEvent{LoaderID: cdp.LoaderID("nav"), Name: "load"})
	assert.False(t, idled(w))

	w.observe(&page.EventLifecycleEvent{LoaderID: cdp.LoaderID("nav"), Name: "networkIdle"})
	assert.True(t, idled(w))
	assert.NotPanics(t, func() {
		w.observe(&page.EventLifecycleEvent{LoaderID: cdp.LoaderID("nav"), Name: "networkIdle"})
	})
}

func TestIdleWatch_EventBeforeLoaderIsKnown(t *testing.T) {
	w := newIdleWatch()
	w.observe(&page.EventLifecycleEvent{LoaderID: cdp.LoaderID("nav"), Name: "networkIdle"})
	assert.False(t, idled(w))

	w.expect(cdp.LoaderID("nav"))
	assert.True(t, idled(w))
}
