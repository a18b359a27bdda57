package chromedp_crawler

import (
	"math/rand"
	"sync"
	"time"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// IdentityPool hands out the desktop user agent and the proxy the browser presents.
type IdentityPool struct {
	proxies    []string
	userAgents []string
	mu         sync.Mutex
	proxyIndex int
	rnd        *rand.Rand
}

// NewIdentityPool builds a pool. Empty userAgents falls back to a small set of desktop Chrome agents.
func NewIdentityPool(proxies, userAgents []string) *IdentityPool {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	var kept []string
	for _, p := range proxies {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return &IdentityPool{
		proxies:    kept,
		userAgents: userAgents,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Proxy returns the next proxy URL, rotating sequentially, or "" when none is configured.
func (p *IdentityPool) Proxy() string {
	if len(p.proxies) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	proxy := p.proxies[p.proxyIndex]
	p.proxyIndex = (p.proxyIndex + 1) % len(p.proxies)
	return proxy
}

// UserAgent returns a random user agent string.
func (p *IdentityPool) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgents[p.rnd.Intn(len(p.userAgents))]
}
