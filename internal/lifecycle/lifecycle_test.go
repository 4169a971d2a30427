package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives AfterFunc callbacks from Advance so tests never sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func TestComputeExpiryFloor(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	at := ComputeExpiry(created, 1)
	require.NotNil(t, at)
	assert.Equal(t, created.Add(MinTTL), *at, "requests below the floor clamp up")

	at = ComputeExpiry(created, 60)
	require.NotNil(t, at)
	assert.Equal(t, created.Add(60*time.Second), *at)

	assert.Nil(t, ComputeExpiry(created, 0), "zero TTL means never")
	assert.Nil(t, ComputeExpiry(created, -5))
}

func TestComputeExpiryMonotonic(t *testing.T) {
	created := time.Now().UTC()
	for _, ttl := range []int{1, 4, 5, 6, 3600} {
		at := ComputeExpiry(created, ttl)
		require.NotNil(t, at)
		assert.True(t, at.After(created), "expiry must be strictly after creation for ttl=%d", ttl)
	}
}

func TestVisible(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Second)
	earlier := now.Add(-time.Second)

	assert.True(t, Visible(now, nil))
	assert.True(t, Visible(now, &later))
	assert.False(t, Visible(now, &earlier))
	assert.False(t, Visible(now, &now), "expiry instant itself is no longer visible")
}

func TestSchedulerFiresAtExpiry(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var fired []string
	s := NewScheduler(clock, func(id string) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	})

	expires := clock.Now().Add(5 * time.Second)
	s.Schedule("m1", &expires)

	clock.Advance(4 * time.Second)
	mu.Lock()
	assert.Empty(t, fired)
	mu.Unlock()

	clock.Advance(2 * time.Second)
	mu.Lock()
	assert.Equal(t, []string{"m1"}, fired)
	mu.Unlock()
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerRescheduleReplaces(t *testing.T) {
	clock := newFakeClock()
	var count int
	var mu sync.Mutex
	s := NewScheduler(clock, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	first := clock.Now().Add(2 * time.Second)
	second := clock.Now().Add(10 * time.Second)
	s.Schedule("m1", &first)
	s.Schedule("m1", &second)
	assert.Equal(t, 1, s.Pending())

	clock.Advance(5 * time.Second)
	mu.Lock()
	assert.Equal(t, 0, count, "replaced timer must not fire")
	mu.Unlock()

	clock.Advance(6 * time.Second)
	mu.Lock()
	assert.Equal(t, 1, count, "a rescheduled id fires exactly once")
	mu.Unlock()
}

func TestSchedulerPastExpiryFiresImmediately(t *testing.T) {
	clock := newFakeClock()
	var fired bool
	var mu sync.Mutex
	s := NewScheduler(clock, func(string) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	past := clock.Now().Add(-time.Minute)
	s.Schedule("stale", &past)
	clock.Advance(0)

	mu.Lock()
	assert.True(t, fired)
	mu.Unlock()
}

func TestSchedulerCancelAndReset(t *testing.T) {
	clock := newFakeClock()
	var count int
	var mu sync.Mutex
	s := NewScheduler(clock, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	at := clock.Now().Add(time.Second)
	s.Schedule("a", &at)
	s.Schedule("b", &at)
	s.Schedule("c", &at)
	s.Cancel("b")
	assert.Equal(t, 2, s.Pending())

	s.Reset()
	assert.Equal(t, 0, s.Pending())

	clock.Advance(2 * time.Second)
	mu.Lock()
	assert.Equal(t, 0, count, "no timer survives Reset")
	mu.Unlock()
}

func TestSchedulerNilExpiryCancels(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock, func(string) { t.Error("must not fire") })

	at := clock.Now().Add(time.Second)
	s.Schedule("m", &at)
	s.Schedule("m", nil)
	assert.Equal(t, 0, s.Pending())
	clock.Advance(2 * time.Second)
}
