// Package admission decides whether an inbound connection attempt may proceed
// before any protocol byte is read: a per-address interval limiter, a
// temporary whitelist of recently authenticated addresses and a global burst
// throttle.
package admission

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const shardCount = 16

// shardedCache spreads address records over independently locked expiring
// LRUs so unrelated addresses never contend on one lock. Expiry is checked
// on read.
type shardedCache struct {
	shards [shardCount]cacheShard
}

type cacheShard struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, struct{}]
}

func newShardedCache(capacity int, ttl time.Duration) *shardedCache {
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &shardedCache{}
	for i := range c.shards {
		c.shards[i].lru = expirable.NewLRU[string, struct{}](perShard, nil, ttl)
	}
	return c
}

func (c *shardedCache) shard(key string) *cacheShard {
	return &c.shards[xxhash.Sum64String(key)%shardCount]
}

// insertIfAbsent stores key unless a live record exists, reporting whether
// it stored one.
func (c *shardedCache) insertIfAbsent(key string) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	// Get rather than Contains: only Get honours the TTL.
	if _, ok := s.lru.Get(key); ok {
		return false
	}
	s.lru.Add(key, struct{}{})
	return true
}

func (c *shardedCache) put(key string) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, struct{}{})
}

func (c *shardedCache) live(key string) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lru.Get(key)
	return ok
}

func (c *shardedCache) remove(key string) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key)
}

func (c *shardedCache) keys() []string {
	var out []string
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		out = append(out, s.lru.Keys()...)
		s.mu.Unlock()
	}
	return out
}

// Limiter allows one attempt per address per interval. The record is written
// on the first attempt and not refreshed by denied ones.
type Limiter struct {
	records *shardedCache
}

// NewLimiter creates a limiter tracking up to capacity addresses.
func NewLimiter(interval time.Duration, capacity int) *Limiter {
	return &Limiter{records: newShardedCache(capacity, interval)}
}

// Attempt reports whether ip may connect now.
func (l *Limiter) Attempt(ip string) bool {
	return l.records.insertIfAbsent(ip)
}
