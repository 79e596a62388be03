package cost

import (
	"sync"
	"time"
)

// DailyCounter is a UTC-day-scoped token counter. The count resets
// implicitly when the day changes.
type DailyCounter struct {
	mu    sync.Mutex
	day   string
	total int64
}

func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Peek returns the current total for the day of now.
func (c *DailyCounter) Peek(now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != dayKey(now) {
		return 0
	}
	return c.total
}

// Add commits tokens to the day of now.
func (c *DailyCounter) Add(tokens int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != dayKey(now) {
		c.day = dayKey(now)
		c.total = 0
	}
	c.total += tokens
}

// KeyedDailyCounter tracks per-key daily totals (actor ids).
type KeyedDailyCounter struct {
	mu     sync.Mutex
	day    string
	totals map[string]int64
}

// NewKeyedDailyCounter creates an empty counter map.
func NewKeyedDailyCounter() *KeyedDailyCounter {
	return &KeyedDailyCounter{totals: make(map[string]int64)}
}

func (c *KeyedDailyCounter) rollLocked(now time.Time) {
	if c.day != dayKey(now) {
		c.day = dayKey(now)
		c.totals = make(map[string]int64)
	}
}

// Peek returns the key's total for the day of now.
func (c *KeyedDailyCounter) Peek(key string, now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked(now)
	return c.totals[key]
}

// Add commits tokens for the key.
func (c *KeyedDailyCounter) Add(key string, tokens int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked(now)
	c.totals[key] += tokens
}

// WindowCounter is a rolling-window token counter with fixed-size
// time buckets, keyed by an opaque id (IP hash).
type WindowCounter struct {
	window     time.Duration
	bucketSize time.Duration

	mu      sync.Mutex
	buckets map[string]map[int64]int64 // key -> bucketStartUnix -> tokens
}

// NewWindowCounter creates a counter with one-minute buckets over the
// given window.
func NewWindowCounter(window time.Duration) *WindowCounter {
	return &WindowCounter{
		window:     window,
		bucketSize: time.Minute,
		buckets:    make(map[string]map[int64]int64),
	}
}

func (c *WindowCounter) bucketStart(t time.Time) int64 {
	return t.Truncate(c.bucketSize).Unix()
}

func (c *WindowCounter) pruneLocked(key string, now time.Time) {
	cutoff := now.Add(-c.window)
	for start := range c.buckets[key] {
		if start < c.bucketStart(cutoff) {
			delete(c.buckets[key], start)
		}
	}
	if len(c.buckets[key]) == 0 {
		delete(c.buckets, key)
	}
}

// Peek sums the key's tokens inside the rolling window ending at now.
func (c *WindowCounter) Peek(key string, now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(key, now)
	var total int64
	for _, t := range c.buckets[key] {
		total += t
	}
	return total
}

// Add commits tokens to the bucket containing now.
func (c *WindowCounter) Add(key string, tokens int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buckets[key] == nil {
		c.buckets[key] = make(map[int64]int64)
	}
	c.buckets[key][c.bucketStart(now)] += tokens
	c.pruneLocked(key, now)
}
