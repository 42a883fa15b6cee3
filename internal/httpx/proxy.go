package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// quarantineDuration is how long a proxy that returned 429 is benched.
const quarantineDuration = 5 * time.Minute

// ProxyRing rotates across a fixed set of outbound proxies, temporarily
// quarantining ones that get rate-limited. Safe for concurrent use.
type ProxyRing struct {
	mu          sync.Mutex
	proxies     []string
	clients     map[string]*http.Client
	next        int
	quarantined map[string]time.Time
	now         func() time.Time
}

// NewProxyRing builds a ring from proxy URLs. An empty list is valid:
// Current then always returns the nil sentinel meaning "direct".
func NewProxyRing(proxyURLs []string) (*ProxyRing, error) {
	r := &ProxyRing{
		clients:     make(map[string]*http.Client),
		quarantined: make(map[string]time.Time),
		now:         time.Now,
	}
	for _, p := range proxyURLs {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", p, err)
		}
		r.proxies = append(r.proxies, p)
		r.clients[p] = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}
	}
	return r, nil
}

// Current returns the client for the active proxy, or nil if no usable
// proxy exists (no proxies configured, or all quarantined).
func (r *ProxyRing) Current() *http.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return nil
	}
	for i := 0; i < len(r.proxies); i++ {
		p := r.proxies[(r.next+i)%len(r.proxies)]
		if until, ok := r.quarantined[p]; ok {
			if r.now().Before(until) {
				continue
			}
			delete(r.quarantined, p)
		}
		r.next = (r.next + i) % len(r.proxies)
		return r.clients[p]
	}
	return nil
}

// Rotate quarantines the active proxy and advances to the next one.
func (r *ProxyRing) Rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return
	}
	p := r.proxies[r.next%len(r.proxies)]
	r.quarantined[p] = r.now().Add(quarantineDuration)
	r.next = (r.next + 1) % len(r.proxies)
}
