package registry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/prehensile/vidille/internal/domain"
)

const (
	limiterIdleAfter = 10 * time.Minute
	cleanupEvery     = 5 * time.Minute
)

// Gate applies per-address limits in front of the capacity registry: a cap on concurrent
// connections from one address and a token bucket on how fast one address may connect.
// A zero limit disables that check.
type Gate struct {
	clock  clockwork.Clock
	maxPer int
	rate   rate.Limit
	burst  int

	mu        sync.Mutex
	addrs     map[string]int
	limiters  map[string]*limiterEntry
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGate creates a gate. connectionsPerSecond is the sustained connect rate per address,
// burst the number of immediate connects allowed.
func NewGate(clock clockwork.Clock, maxPer int, connectionsPerSecond float64, burst int) *Gate {
	return &Gate{
		clock:     clock,
		maxPer:    maxPer,
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		addrs:     make(map[string]int),
		limiters:  make(map[string]*limiterEntry),
		cleanupAt: clock.Now().Add(cleanupEvery),
	}
}

// Enter registers a connection from addr. It returns domain.ErrRateLimited or
// domain.ErrTooManyFromAddr when a limit is exceeded; in that case nothing is held and
// Leave must not be called.
func (g *Gate) Enter(addr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if now.After(g.cleanupAt) {
		g.cleanup(now)
		g.cleanupAt = now.Add(cleanupEvery)
	}

	if g.rate > 0 {
		entry, ok := g.limiters[addr]
		if !ok {
			entry = &limiterEntry{limiter: rate.NewLimiter(g.rate, g.burst)}
			g.limiters[addr] = entry
		}
		entry.lastSeen = now
		if !entry.limiter.AllowN(now, 1) {
			return domain.ErrRateLimited
		}
	}

	if g.maxPer > 0 && g.addrs[addr] >= g.maxPer {
		return domain.ErrTooManyFromAddr
	}
	g.addrs[addr]++
	return nil
}

// Leave releases a connection registered by Enter.
func (g *Gate) Leave(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if count := g.addrs[addr]; count > 1 {
		g.addrs[addr] = count - 1
	} else {
		delete(g.addrs, addr)
	}
}

// Count returns the number of open connections from addr.
func (g *Gate) Count(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addrs[addr]
}

// UniqueAddrs returns the number of addresses with open connections.
func (g *Gate) UniqueAddrs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.addrs)
}

// must be called with mu held
func (g *Gate) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleAfter)
	for addr, entry := range g.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(g.limiters, addr)
		}
	}
}

func (g *Gate) activeLimiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
