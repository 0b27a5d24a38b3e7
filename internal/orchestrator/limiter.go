package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter spaces page fetches per registrable domain. Every host starts
// at the polite-delay floor; robots.txt crawl-delays raise the spacing but
// never lower it below the floor.
type hostLimiter struct {
	floor time.Duration

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

func newHostLimiter(floor time.Duration) *hostLimiter {
	return &hostLimiter{
		floor: floor,
		hosts: make(map[string]*rate.Limiter),
	}
}

func (l *hostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.hosts[host]
	if !ok {
		lim = rate.NewLimiter(every(l.floor), 1)
		l.hosts[host] = lim
	}
	return lim
}

// Wait blocks until the host's next fetch slot, or until ctx is done.
func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	return l.limiter(host).Wait(ctx)
}

// Observe applies a host's crawl-delay. Ignored when below the floor.
func (l *hostLimiter) Observe(host string, delay time.Duration) {
	if delay <= l.floor {
		return
	}
	l.limiter(host).SetLimit(every(delay))
}

func every(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
