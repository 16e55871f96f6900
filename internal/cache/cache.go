// Package cache implements a TTL-aware, sharded, in-memory cache of DNS
// answers, including RFC 2308 style negative caching.
//
// The sharding scheme (256 shards, each guarded by its own RWMutex) is
// adapted from this project's original single-table resolver cache: it
// keeps lock contention off the hot path under concurrent query load
// without the bookkeeping cost of a true LRU list.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusdns/nimbusd/internal/wire"
)

const (
	shardCount = 256

	// cleanupInterval controls how often the background sweep removes
	// expired entries, independent of any Get-triggered checks.
	cleanupInterval = 30 * time.Second

	// evictFraction is the portion of a shard's entries considered for
	// removal once it is full and no expired entries remain. A true LRU
	// would need a doubly linked list touched on every Get; this settles
	// for an approximate oldest-expiry sweep instead, which is cheap
	// under a map and good enough for a bounded cache.
	evictFraction = 10
)

// Key identifies a cached answer. Name is always lowercased before
// lookup or insertion, per the case-insensitivity of DNS names.
type Key struct {
	Name     string
	Type     uint16
	Class    uint16
	Negative bool
}

// negativeKey is the key under which a name's negative (NXDOMAIN/NODATA)
// verdict is cached: it is independent of the query type that triggered
// it, since an NXDOMAIN response answers for the whole name.
func negativeKey(name string, class uint16) Key {
	return Key{Name: strings.ToLower(name), Type: wire.TypeANY, Class: class, Negative: true}
}

func positiveKey(name string, qtype, class uint16) Key {
	return Key{Name: strings.ToLower(name), Type: qtype, Class: class}
}

// Entry is one cached answer.
type Entry struct {
	Answer     []wire.ResourceRecord
	Authority  []wire.ResourceRecord
	Additional []wire.ResourceRecord

	// Rcode is the response code to replay verbatim for a negative
	// entry (NXDOMAIN or NOERROR/NODATA); it is always RcodeSuccess for
	// a positive entry.
	Rcode uint8

	ExpiresAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// Config controls cache behavior.
type Config struct {
	// MaxEntries bounds the total number of cached answers across all
	// shards. Zero means the default of 10000.
	MaxEntries int

	// NegativeTTL is the TTL the resolver gives negative answers, and an
	// upper clamp on any ttl passed to StoreNegative. Zero means the
	// default of 300 seconds.
	NegativeTTL time.Duration
}

const (
	defaultMaxEntries = 10000
	defaultNegTTL     = 300 * time.Second
)

// Cache is a sharded, TTL-aware answer cache.
type Cache struct {
	shards    []*shard
	maxShard  int
	negTTL    time.Duration
	closeOnce sync.Once
	stop      chan struct{}
	done      sync.WaitGroup

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New builds a Cache from cfg, applying defaults for zero-valued fields,
// and starts its background expiry sweep.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = defaultNegTTL
	}

	c := &Cache{
		shards:   make([]*shard, shardCount),
		maxShard: cfg.MaxEntries / shardCount,
		negTTL:   cfg.NegativeTTL,
		stop:     make(chan struct{}),
	}
	if c.maxShard < 1 {
		c.maxShard = 1
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]*Entry)}
	}

	c.done.Add(1)
	go c.sweepLoop()

	return c
}

// NegativeTTL returns the configured negative-answer TTL, for callers
// that need to stamp an entry without going through Store.
func (c *Cache) NegativeTTL() time.Duration {
	return c.negTTL
}

func (c *Cache) shardFor(k Key) *shard {
	h := fnv1a(k.Name) ^ uint64(k.Type)<<32 ^ uint64(k.Class)
	return c.shards[h%uint64(shardCount)]
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// Lookup returns the cached entry for (name, qtype, qclass), checking the
// positive key first and falling back to the name-wide negative key.
// Expired entries are treated as misses.
func (c *Cache) Lookup(name string, qtype, qclass uint16) (*Entry, bool) {
	now := time.Now()

	if e, ok := c.get(positiveKey(name, qtype, qclass), now); ok {
		return e, true
	}
	if e, ok := c.get(negativeKey(name, qclass), now); ok {
		return e, true
	}
	return nil, false
}

func (c *Cache) get(k Key, now time.Time) (*Entry, bool) {
	s := c.shardFor(k)

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if e.expired(now) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e, true
}

// StorePositive caches a successful answer for (name, qtype, qclass),
// expiring at now+ttl.
func (c *Cache) StorePositive(name string, qtype, qclass uint16, answer, authority, additional []wire.ResourceRecord, ttl time.Duration) {
	c.store(positiveKey(name, qtype, qclass), &Entry{
		Answer:     answer,
		Authority:  authority,
		Additional: additional,
		Rcode:      wire.RcodeSuccess,
		ExpiresAt:  time.Now().Add(ttl),
	})
}

// StoreNegative caches a negative verdict (NXDOMAIN or NODATA) for all
// query types under name, expiring at now+ttl, with ttl clamped to the
// cache's configured NegativeTTL.
func (c *Cache) StoreNegative(name string, qclass uint16, rcode uint8, authority []wire.ResourceRecord, ttl time.Duration) {
	if ttl > c.negTTL {
		ttl = c.negTTL
	}
	c.store(negativeKey(name, qclass), &Entry{
		Authority: authority,
		Rcode:     rcode,
		ExpiresAt: time.Now().Add(ttl),
	})
}

func (c *Cache) store(k Key, e *Entry) {
	s := c.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[k]; !exists && len(s.entries) >= c.maxShard {
		c.evictLocked(s)
	}
	s.entries[k] = e
}

// evictLocked makes room in a full shard. It first removes any already
// expired entries; if that alone isn't enough, it removes up to
// len/evictFraction of the remaining entries with the soonest
// expiration. The caller must hold s.mu for writing.
func (c *Cache) evictLocked(s *shard) {
	now := time.Now()

	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			c.evictions.Add(1)
		}
	}
	if len(s.entries) < c.maxShard {
		return
	}

	budget := len(s.entries) / evictFraction
	if budget < 1 {
		budget = 1
	}

	type candidate struct {
		key    Key
		expiry time.Time
	}
	oldest := make([]candidate, 0, budget)
	for k, e := range s.entries {
		if len(oldest) < budget {
			oldest = append(oldest, candidate{k, e.ExpiresAt})
			continue
		}
		// Replace the current latest-expiring member of oldest, if k
		// expires sooner, keeping oldest bounded to budget entries.
		maxIdx, maxExp := 0, oldest[0].expiry
		for i, o := range oldest {
			if o.expiry.After(maxExp) {
				maxIdx, maxExp = i, o.expiry
			}
		}
		if e.ExpiresAt.Before(maxExp) {
			oldest[maxIdx] = candidate{k, e.ExpiresAt}
		}
	}

	for _, o := range oldest {
		delete(s.entries, o.key)
		c.evictions.Add(1)
	}
}

// sweepLoop periodically clears expired entries so that idle keys do not
// linger in memory until the shard happens to fill up.
func (c *Cache) sweepLoop() {
	defer c.done.Done()

	t := time.NewTicker(cleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.sweepOnce()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweepOnce() {
	now := time.Now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
				c.evictions.Add(1)
			}
		}
		s.mu.Unlock()
	}
}

// Clear empties every shard, discarding all cached answers. It does not
// stop the background sweep goroutine; callers that are also shutting
// the cache down should call Close as well.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[Key]*Entry)
		s.mu.Unlock()
	}
}

// Close stops the background sweep goroutine. Safe to call more than
// once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.done.Wait()
}

// Stats reports counters useful for monitoring.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	size := 0
	for _, s := range c.shards {
		s.mu.RLock()
		size += len(s.entries)
		s.mu.RUnlock()
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
