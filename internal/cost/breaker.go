// Package cost enforces token budgets and provider health: request
// caps, global/actor/IP counters, the provider circuit breaker, and
// the usage ring buffer.
package cost

import (
	"log"
	"sync"
	"time"
)

// BreakerState is the circuit state for one provider:model key.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes the rolling failure window.
type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

// breakerEntry is the per-key state. failures maps unix-second
// timestamps to counts; pruned to the rolling window on every check.
type breakerEntry struct {
	state    BreakerState
	openedAt time.Time
	failures map[int64]int
}

// Breaker guards model invocations per (provider, model). State
// transitions are linearizable under the mutex.
type Breaker struct {
	cfg    BreakerConfig
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

// NewBreaker builds a breaker map with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[BREAKER] ", log.LstdFlags),
		entries: make(map[string]*breakerEntry),
	}
}

// BreakerDecision is the precheck outcome.
type BreakerDecision struct {
	Allowed        bool
	State          BreakerState
	RetryAfterSecs int
}

func (b *Breaker) entry(key string) *breakerEntry {
	e, ok := b.entries[key]
	if !ok {
		e = &breakerEntry{state: BreakerClosed, failures: make(map[int64]int)}
		b.entries[key] = e
	}
	return e
}

func (e *breakerEntry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window).Unix()
	for ts := range e.failures {
		if ts < cutoff {
			delete(e.failures, ts)
		}
	}
}

func (e *breakerEntry) recentFailures() int {
	total := 0
	for _, c := range e.failures {
		total += c
	}
	return total
}

// Precheck decides whether a call may proceed. OPEN transitions to
// HALF_OPEN after the cooldown and admits a single probe.
func (b *Breaker) Precheck(key string, now time.Time) BreakerDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	e.prune(now, b.cfg.Window)

	switch e.state {
	case BreakerOpen:
		elapsed := now.Sub(e.openedAt)
		if elapsed >= b.cfg.Cooldown {
			e.state = BreakerHalfOpen
			b.logger.Printf("%s: OPEN -> HALF_OPEN", key)
			return BreakerDecision{Allowed: true, State: BreakerHalfOpen}
		}
		retry := int((b.cfg.Cooldown - elapsed).Seconds())
		if retry < 1 {
			retry = 1
		}
		return BreakerDecision{Allowed: false, State: BreakerOpen, RetryAfterSecs: retry}
	case BreakerHalfOpen:
		return BreakerDecision{Allowed: true, State: BreakerHalfOpen}
	default:
		if e.recentFailures() >= b.cfg.FailureThreshold {
			e.state = BreakerOpen
			e.openedAt = now
			b.logger.Printf("%s: CLOSED -> OPEN (failures in window >= %d)", key, b.cfg.FailureThreshold)
			retry := int(b.cfg.Cooldown.Seconds())
			return BreakerDecision{Allowed: false, State: BreakerOpen, RetryAfterSecs: retry}
		}
		return BreakerDecision{Allowed: true, State: BreakerClosed}
	}
}

// OnFailure records a provider failure and trips the breaker when the
// rolling window crosses the threshold.
func (b *Breaker) OnFailure(key string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	e.failures[now.Unix()]++
	e.prune(now, b.cfg.Window)

	if e.state == BreakerHalfOpen || e.recentFailures() >= b.cfg.FailureThreshold {
		if e.state != BreakerOpen {
			b.logger.Printf("%s: %s -> OPEN", key, e.state)
		}
		e.state = BreakerOpen
		e.openedAt = now
	}
}

// OnSuccess clears failures and closes the circuit.
func (b *Breaker) OnSuccess(key string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	if e.state != BreakerClosed {
		b.logger.Printf("%s: %s -> CLOSED", key, e.state)
	}
	e.state = BreakerClosed
	e.failures = make(map[int64]int)
}

// State reports the current state without mutating it.
func (b *Breaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return BreakerClosed
}

// ForceOpen pins the breaker open; used by chaos drills and tests.
func (b *Breaker) ForceOpen(key string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(key)
	e.state = BreakerOpen
	e.openedAt = now
}
