package admission

import (
	"sort"
	"time"
)

// Whitelist holds addresses that recently completed a login. Entries expire
// a fixed time after they were last written.
type Whitelist struct {
	records *shardedCache
	ttl     time.Duration
}

// NewWhitelist creates a whitelist whose entries live for ttl.
func NewWhitelist(ttl time.Duration, capacity int) *Whitelist {
	return &Whitelist{records: newShardedCache(capacity, ttl), ttl: ttl}
}

// Add whitelists ip, restarting its expiry.
func (w *Whitelist) Add(ip string) {
	w.records.put(ip)
}

// Contains reports whether ip has a live entry.
func (w *Whitelist) Contains(ip string) bool {
	return w.records.live(ip)
}

// Remove drops ip, reporting whether it was present.
func (w *Whitelist) Remove(ip string) bool {
	return w.records.remove(ip)
}

// Addresses returns the live entries in sorted order.
func (w *Whitelist) Addresses() []string {
	keys := w.records.keys()
	sort.Strings(keys)
	return keys
}

// TTL returns how long an entry lives.
func (w *Whitelist) TTL() time.Duration {
	return w.ttl
}
