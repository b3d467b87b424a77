package executor

import (
	"sync"

	"golang.org/x/time/rate"
)

// providerCallRate and providerCallBurst bound how fast the executor will
// dispatch calls to a single provider, smoothing bursts before they trip a
// provider's own 429 (spec.md's RateLimit/QuotaExceeded taxonomy handles
// the case where this still happens).
const (
	providerCallRate  = 5
	providerCallBurst = 5
)

// providerLimiters holds one token-bucket limiter per LLM provider name,
// mirroring the per-provider map shape of breakers.
type providerLimiters struct {
	mu sync.Mutex
	ls map[string]*rate.Limiter
}

func newProviderLimiters() *providerLimiters {
	return &providerLimiters{ls: make(map[string]*rate.Limiter)}
}

func (p *providerLimiters) forProvider(name string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.ls[name]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(providerCallRate), providerCallBurst)
	p.ls[name] = l
	return l
}
