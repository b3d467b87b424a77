package executor

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// breakers holds one circuit breaker per LLM provider name, opened after 3
// consecutive failures and probing again after 30s, mirroring the shape
// the examples use around provider/channel calls.
type breakers struct {
	mu sync.Mutex
	bs map[string]*gobreaker.CircuitBreaker
}

func newBreakers() *breakers {
	return &breakers{bs: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakers) forProvider(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.bs[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	b.bs[name] = cb
	return cb
}
