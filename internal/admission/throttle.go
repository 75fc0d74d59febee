package admission

import (
	"sync"
	"time"
)

// Throttle is a process-wide window of the most recent attempt times. An
// attempt is refused when the window is full and its oldest entry is still
// younger than the duration; accepted attempts push out the oldest entry.
type Throttle struct {
	mu       sync.Mutex
	ring     []time.Time
	head     int // index of the oldest entry
	size     int
	duration time.Duration
	now      func() time.Time
}

// NewThrottle creates a throttle admitting bursts of up to capacity attempts
// per duration.
func NewThrottle(capacity int, duration time.Duration) *Throttle {
	if capacity < 1 {
		capacity = 1
	}
	return &Throttle{
		ring:     make([]time.Time, capacity),
		duration: duration,
		now:      time.Now,
	}
}

// Throttle records an attempt and reports whether it must be refused.
// Refused attempts are not recorded.
func (t *Throttle) Throttle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.size == len(t.ring) && now.Sub(t.ring[t.head]) < t.duration {
		return true
	}

	if t.size == len(t.ring) {
		t.ring[t.head] = now
		t.head = (t.head + 1) % len(t.ring)
	} else {
		t.ring[(t.head+t.size)%len(t.ring)] = now
		t.size++
	}
	return false
}

// Len returns the number of recorded attempts.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}
