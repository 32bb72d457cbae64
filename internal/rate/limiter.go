package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerHost spaces out probes that hit the same host. A zero or negative rate
// disables limiting.
type PerHost struct {
	mu         sync.Mutex
	m          map[string]*limitEntry
	perSecond  float64
	burst      int
	maxEntries int
}

type limitEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func New(perSecond float64, burst int) *PerHost {
	if burst < 1 {
		burst = 1
	}
	return &PerHost{
		m:          make(map[string]*limitEntry),
		perSecond:  perSecond,
		burst:      burst,
		maxEntries: 10000,
	}
}

// Enabled reports whether the limiter does anything.
func (p *PerHost) Enabled() bool { return p != nil && p.perSecond > 0 }

func (p *PerHost) entry(host string) *limitEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	entry, ok := p.m[host]
	if !ok {
		if len(p.m) >= p.maxEntries {
			p.evict(now.Add(-time.Hour))
		}
		entry = &limitEntry{limiter: rate.NewLimiter(rate.Limit(p.perSecond), p.burst)}
		p.m[host] = entry
	}
	entry.lastUsed = now
	return entry
}

// evict drops limiters idle since before cutoff. Caller holds mu.
func (p *PerHost) evict(cutoff time.Time) {
	for host, e := range p.m {
		if e.lastUsed.Before(cutoff) {
			delete(p.m, host)
		}
	}
}

func (p *PerHost) Allow(host string) bool {
	if !p.Enabled() {
		return true
	}
	return p.entry(host).limiter.Allow()
}

// Wait blocks until host may be probed again or ctx is done.
func (p *PerHost) Wait(ctx context.Context, host string) error {
	if !p.Enabled() {
		return ctx.Err()
	}
	return p.entry(host).limiter.Wait(ctx)
}
