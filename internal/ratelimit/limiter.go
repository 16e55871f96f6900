package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the per-client token bucket.
type Config struct {
	// QueriesPerSecond is the sustained rate allowed per client IP.
	QueriesPerSecond float64
	// Burst is the maximum burst size per client IP.
	Burst int
	// CleanupInterval controls how often every per-client limiter is
	// dropped, bounding memory under a churn of distinct source IPs.
	// Active and idle clients alike start again with a full burst.
	CleanupInterval time.Duration
}

// DefaultConfig returns a permissive-by-server-standards default: 100
// queries per second per client with bursts to 200.
func DefaultConfig() Config {
	return Config{
		QueriesPerSecond: 100,
		Burst:            200,
		CleanupInterval:  5 * time.Minute,
	}
}

// Limiter enforces Config per distinct client IP, using a
// golang.org/x/time/rate token bucket per client.
type Limiter struct {
	cfg Config

	mu          sync.Mutex
	byIP        map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewLimiter builds a Limiter from cfg, applying DefaultConfig for any
// zero-valued fields.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.QueriesPerSecond <= 0 {
		cfg.QueriesPerSecond = def.QueriesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &Limiter{
		cfg:         cfg,
		byIP:        make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a query from ip may proceed right now, consuming
// one token from that client's bucket if so.
func (l *Limiter) Allow(ip net.IP) bool {
	if l == nil {
		return true
	}
	key := ip.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > l.cfg.CleanupInterval {
		l.byIP = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	rl, ok := l.byIP[key]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(l.cfg.QueriesPerSecond), l.cfg.Burst)
		l.byIP[key] = rl
	}
	return rl.Allow()
}

// TrackedClients reports how many distinct client limiters are currently
// held, for monitoring.
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}
