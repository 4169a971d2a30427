// Package lifecycle owns the self-destruction model: computing expiry
// timestamps, scheduling client-side removal, and sweeping expired rows
// server-side. Expiry is always re-derived from the absolute expiresAt,
// never from a remembered duration.
package lifecycle

import (
	"sync"
	"time"
)

// MinTTL is the floor for requested time-to-live. Requests below it are
// clamped up so a degenerate TTL cannot race with delivery.
const MinTTL = 5 * time.Second

// ComputeExpiry returns the expiry timestamp for a message created at
// createdAt with the requested TTL in seconds. A request of zero or less
// means the message never expires and yields nil.
func ComputeExpiry(createdAt time.Time, ttlSeconds int) *time.Time {
	if ttlSeconds <= 0 {
		return nil
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl < MinTTL {
		ttl = MinTTL
	}
	at := createdAt.Add(ttl)
	return &at
}

// Visible reports whether content with the given expiry may still be
// shown at now. This is the defensive render-time check: a message whose
// timer has not fired yet must still disappear once now passes expiresAt.
func Visible(now time.Time, expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return now.Before(*expiresAt)
}

// Scheduler fires a callback when a message's expiry passes. Scheduling
// the same id again cancels and replaces the previous timer, so it is
// safe to call on every insert, echo, and reload of the same message.
type Scheduler struct {
	clock    Clock
	onExpire func(id string)

	mu     sync.Mutex
	timers map[string]Timer
}

func NewScheduler(clock Clock, onExpire func(id string)) *Scheduler {
	return &Scheduler{
		clock:    clock,
		onExpire: onExpire,
		timers:   make(map[string]Timer),
	}
}

// Schedule arranges for onExpire(id) at expiresAt. A nil expiresAt just
// cancels any pending timer. An expiry already in the past fires
// immediately.
func (s *Scheduler) Schedule(id string, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if expiresAt == nil {
		return
	}

	d := expiresAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.onExpire(id)
	})
}

// Cancel drops any pending timer for id, e.g. when the message is
// deleted before it expires.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Reset cancels every pending timer. Used on chat teardown so no timers
// leak past the owning cache.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of scheduled timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
