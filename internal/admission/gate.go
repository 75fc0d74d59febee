package admission

import "time"

// Decision is the outcome of an admission check.
type Decision uint8

const (
	DecisionAllow Decision = iota
	DecisionRateLimited
	DecisionThrottled
)

// Allowed reports whether the attempt may proceed.
func (d Decision) Allowed() bool { return d == DecisionAllow }

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allowed"
	case DecisionRateLimited:
		return "rate_limited"
	case DecisionThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Config holds the gate's tunables.
type Config struct {
	Interval         time.Duration
	WhitelistTTL     time.Duration
	ThrottleCapacity int
	ThrottleDuration time.Duration
	MaxTracked       int
}

// Defaults mirror the proxy's shipped configuration.
var Defaults = Config{
	Interval:         100 * time.Millisecond,
	WhitelistTTL:     10 * time.Minute,
	ThrottleCapacity: 500,
	ThrottleDuration: 20 * time.Second,
	MaxTracked:       65536,
}

// Gate runs the per-address limiter first, then the global throttle unless
// the address is whitelisted.
type Gate struct {
	limiter   *Limiter
	whitelist *Whitelist
	throttle  *Throttle
}

// NewGate builds a gate from cfg; zero fields fall back to Defaults.
func NewGate(cfg Config) *Gate {
	if cfg.Interval <= 0 {
		cfg.Interval = Defaults.Interval
	}
	if cfg.WhitelistTTL <= 0 {
		cfg.WhitelistTTL = Defaults.WhitelistTTL
	}
	if cfg.ThrottleCapacity <= 0 {
		cfg.ThrottleCapacity = Defaults.ThrottleCapacity
	}
	if cfg.ThrottleDuration <= 0 {
		cfg.ThrottleDuration = Defaults.ThrottleDuration
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = Defaults.MaxTracked
	}
	return &Gate{
		limiter:   NewLimiter(cfg.Interval, cfg.MaxTracked),
		whitelist: NewWhitelist(cfg.WhitelistTTL, cfg.MaxTracked),
		throttle:  NewThrottle(cfg.ThrottleCapacity, cfg.ThrottleDuration),
	}
}

// Admit checks one connection attempt from ip.
func (g *Gate) Admit(ip string) Decision {
	if !g.limiter.Attempt(ip) {
		return DecisionRateLimited
	}
	if !g.whitelist.Contains(ip) && g.throttle.Throttle() {
		return DecisionThrottled
	}
	return DecisionAllow
}

// Whitelist exposes the address whitelist; logins add to it.
func (g *Gate) Whitelist() *Whitelist {
	return g.whitelist
}
