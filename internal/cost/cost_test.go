package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

func testBreaker() *Breaker {
	return NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	})
}

func TestBreakerClosedToOpen(t *testing.T) {
	b := testBreaker()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	const key = "stub:model"

	for i := 0; i < 2; i++ {
		b.OnFailure(key, now.Add(time.Duration(i)*time.Second))
		assert.Equal(t, BreakerClosed, b.State(key))
	}
	b.OnFailure(key, now.Add(2*time.Second))

	d := b.Precheck(key, now.Add(3*time.Second))
	assert.False(t, d.Allowed)
	assert.Equal(t, BreakerOpen, d.State)
	assert.Positive(t, d.RetryAfterSecs)
}

func TestBreakerFailuresOutsideWindowForgotten(t *testing.T) {
	b := testBreaker()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	const key = "stub:model"

	b.OnFailure(key, now)
	b.OnFailure(key, now.Add(time.Second))
	// Third failure lands after the first two aged out.
	b.OnFailure(key, now.Add(2*time.Minute))

	d := b.Precheck(key, now.Add(2*time.Minute+time.Second))
	assert.True(t, d.Allowed)
	assert.Equal(t, BreakerClosed, d.State)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := testBreaker()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	const key = "stub:model"

	for i := 0; i < 3; i++ {
		b.OnFailure(key, now)
	}
	require.False(t, b.Precheck(key, now.Add(time.Second)).Allowed)

	// Exactly at cooldown the probe is admitted.
	d := b.Precheck(key, now.Add(30*time.Second))
	require.True(t, d.Allowed)
	assert.Equal(t, BreakerHalfOpen, d.State)

	// Probe failure reopens.
	b.OnFailure(key, now.Add(31*time.Second))
	assert.Equal(t, BreakerOpen, b.State(key))

	// Next probe succeeds and closes.
	d = b.Precheck(key, now.Add(62*time.Second))
	require.True(t, d.Allowed)
	b.OnSuccess(key, now.Add(63*time.Second))
	assert.Equal(t, BreakerClosed, b.State(key))
}

func TestBreakerForceOpen(t *testing.T) {
	b := testBreaker()
	now := time.Now()
	b.ForceOpen("k", now)
	assert.False(t, b.Precheck("k", now.Add(time.Second)).Allowed)
}

func testPolicy(breaker *Breaker) *Policy {
	return NewPolicy(config.CostSettings{
		GlobalDailyTokenCap: 1000,
		ActorDailyTokenCap:  300,
		IPWindowTokenCap:    500,
		IPWindowSecs:        3600,
		RequestMaxTokens:    400,
		RequestMaxOutTokens: 200,
	}, breaker)
}

func TestPolicyPrecheckOrder(t *testing.T) {
	b := testBreaker()
	p := testPolicy(b)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// Request cap wins even when the breaker is open.
	b.ForceOpen("k", now)
	d := p.Precheck("k", "actor", "ip", 300, 200, now)
	assert.Equal(t, ScopeRequestCap, d.Scope)

	// Breaker is checked before budgets.
	d = p.Precheck("k", "actor", "ip", 100, 100, now)
	assert.Equal(t, ScopeBreaker, d.Scope)
}

func TestPolicyBudgetScopes(t *testing.T) {
	p := testPolicy(testBreaker())
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	d := p.Precheck("k", "a1", "ip1", 100, 100, now)
	require.True(t, d.Allowed)
	p.CommitSuccess("k", "a1", "ip1", 200, now)

	// Actor cap (300) trips before the wider IP and global caps.
	d = p.Precheck("k", "a1", "ip1", 100, 100, now.Add(time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeActorDaily, d.Scope)

	// A different actor on the same IP keeps going until the IP window
	// fills.
	p.CommitSuccess("k", "a2", "ip1", 250, now.Add(time.Minute))
	d = p.Precheck("k", "a3", "ip1", 50, 50, now.Add(2*time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeIPWindow, d.Scope)
}

func TestPolicyGlobalResetAtMidnight(t *testing.T) {
	p := testPolicy(testBreaker())
	now := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	p.CommitSuccess("k", "a", "ip", 900, now)

	d := p.Precheck("k", "a2", "ip2", 100, 100, now.Add(time.Minute))
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeGlobalDaily, d.Scope)
	assert.LessOrEqual(t, d.RetryAfterSecs, 3600)

	d = p.Precheck("k", "a2", "ip2", 100, 100, now.Add(2*time.Hour))
	assert.True(t, d.Allowed)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(1), EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("abc"))
	assert.Equal(t, int64(25), EstimateTokens(string(make([]byte, 100))))
}

func TestUsageRingWraps(t *testing.T) {
	r := NewUsageRing(3)
	for i := 0; i < 5; i++ {
		r.Record(UsageRecord{RequestID: string(rune('a' + i))})
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].RequestID)
	assert.Equal(t, "e", snap[2].RequestID)
	assert.Equal(t, 3, r.Len())
}

func TestDailyCounterRollsOver(t *testing.T) {
	var c DailyCounter
	now := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	c.Add(100, now)
	assert.Equal(t, int64(100), c.Peek(now))
	assert.Equal(t, int64(0), c.Peek(now.Add(2*time.Minute)))
}

func TestWindowCounterPrunes(t *testing.T) {
	w := NewWindowCounter(2 * time.Minute)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	w.Add("ip", 100, now)
	assert.Equal(t, int64(100), w.Peek("ip", now.Add(time.Minute)))
	assert.Equal(t, int64(0), w.Peek("ip", now.Add(5*time.Minute)))
}
