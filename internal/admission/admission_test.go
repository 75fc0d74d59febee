package admission

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestThrottle(capacity int, d time.Duration) (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	t := NewThrottle(capacity, d)
	t.now = clock.Now
	return t, clock
}

func TestThrottleWindow(t *testing.T) {
	throttle, clock := newTestThrottle(3, time.Second)

	assert.False(t, throttle.Throttle())
	clock.Advance(100 * time.Millisecond)
	assert.False(t, throttle.Throttle())
	clock.Advance(100 * time.Millisecond)
	assert.False(t, throttle.Throttle())

	clock.Advance(100 * time.Millisecond)
	assert.True(t, throttle.Throttle(), "fourth attempt inside the window")
	assert.Equal(t, 3, throttle.Len(), "refused attempts are not recorded")

	// 1000 ms after the oldest of the three.
	clock.Advance(700 * time.Millisecond)
	assert.False(t, throttle.Throttle())

	// The window now starts at the second attempt (t=100ms).
	assert.True(t, throttle.Throttle())
	clock.Advance(100 * time.Millisecond)
	assert.False(t, throttle.Throttle())
}

func TestThrottleSelfHeals(t *testing.T) {
	throttle, clock := newTestThrottle(2, 20*time.Second)
	require.False(t, throttle.Throttle())
	require.False(t, throttle.Throttle())
	require.True(t, throttle.Throttle())

	clock.Advance(time.Minute)
	assert.False(t, throttle.Throttle())
	assert.False(t, throttle.Throttle())
	assert.True(t, throttle.Throttle())
}

func TestThrottleConcurrent(t *testing.T) {
	throttle, _ := newTestThrottle(100, time.Hour)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !throttle.Throttle() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(100), allowed.Load())
}

func TestLimiterInterval(t *testing.T) {
	l := NewLimiter(80*time.Millisecond, 1024)

	assert.True(t, l.Attempt("10.0.0.1"))
	assert.False(t, l.Attempt("10.0.0.1"))
	assert.True(t, l.Attempt("10.0.0.2"), "other addresses are independent")

	assert.Eventually(t, func() bool {
		return l.Attempt("10.0.0.1")
	}, time.Second, 20*time.Millisecond)
}

func TestLimiterSingleWinner(t *testing.T) {
	l := NewLimiter(time.Hour, 1024)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Attempt("192.0.2.7") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestWhitelist(t *testing.T) {
	w := NewWhitelist(60*time.Millisecond, 1024)
	assert.False(t, w.Contains("10.1.1.1"))

	w.Add("10.1.1.1")
	w.Add("10.1.1.0")
	assert.True(t, w.Contains("10.1.1.1"))
	assert.Equal(t, []string{"10.1.1.0", "10.1.1.1"}, w.Addresses())

	assert.True(t, w.Remove("10.1.1.0"))
	assert.False(t, w.Remove("10.1.1.0"))

	assert.Eventually(t, func() bool {
		return !w.Contains("10.1.1.1")
	}, time.Second, 10*time.Millisecond)
}

func TestGateWhitelistBypassesThrottleOnly(t *testing.T) {
	gate := NewGate(Config{
		Interval:         time.Hour,
		WhitelistTTL:     time.Hour,
		ThrottleCapacity: 2,
		ThrottleDuration: time.Hour,
	})

	assert.Equal(t, DecisionAllow, gate.Admit("198.51.100.1"))
	assert.Equal(t, DecisionAllow, gate.Admit("198.51.100.2"))
	assert.Equal(t, DecisionThrottled, gate.Admit("198.51.100.3"), "global window is full")

	gate.Whitelist().Add("198.51.100.9")
	assert.Equal(t, DecisionAllow, gate.Admit("198.51.100.9"), "whitelisted address bypasses the full window")
	assert.Equal(t, DecisionRateLimited, gate.Admit("198.51.100.9"), "but not the per-address limiter")
}

func TestGateDefaults(t *testing.T) {
	gate := NewGate(Config{})
	for i := 0; i < 10; i++ {
		assert.True(t, gate.Admit(fmt.Sprintf("203.0.113.%d", i)).Allowed())
	}
	assert.Equal(t, "rate_limited", gate.Admit("203.0.113.1").String())
}
