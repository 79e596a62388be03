package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(config.PlanSettings{
		Default:     "FREE",
		ProSubjects: []string{"pro-user"},
		MaxSubjects: []string{"max-user"},
	})
	require.NoError(t, err)
	return r
}

func TestResolveTier(t *testing.T) {
	r := testResolver(t)
	assert.Equal(t, Free, r.Resolve("someone"))
	assert.Equal(t, Pro, r.Resolve("pro-user"))
	assert.Equal(t, Max, r.Resolve("max-user"))
}

func TestLimitsPerTier(t *testing.T) {
	r := testResolver(t)
	free := r.LimitsFor(Free)
	maxL := r.LimitsFor(Max)
	assert.Equal(t, int64(200), free.RequestsPerDay)
	assert.Equal(t, int64(50_000), free.TokenBudgetPerDay)
	assert.Equal(t, int64(10_000), maxL.RequestsPerDay)
	assert.Greater(t, maxL.MaxInputTokens, free.MaxInputTokens)
}

// fakeQuotaStore scripts the persisted counters.
type fakeQuotaStore struct {
	requests int64
	tokens   int64
	err      error
	commits  int
}

func (f *fakeQuotaStore) QuotaToday(ctx context.Context, subjectType, subjectID, date string, resetAt time.Time) (int64, int64, error) {
	return f.requests, f.tokens, f.err
}

func (f *fakeQuotaStore) AddQuotaUsage(ctx context.Context, subjectType, subjectID, date string, requestDelta, tokenDelta int64) error {
	f.commits++
	return f.err
}

func TestQuotaDenyOnRequests(t *testing.T) {
	store := &fakeQuotaStore{requests: 200}
	q := NewQuotas(store)
	now := time.Date(2026, 8, 24, 18, 0, 0, 0, time.UTC)

	d := q.Check(context.Background(), "user", "u1", defaultLimits[Free], 100, now)
	require.False(t, d.Allowed)
	assert.Equal(t, 6*3600, d.RetryAfter)
}

func TestQuotaDenyOnTokens(t *testing.T) {
	store := &fakeQuotaStore{tokens: 49_950}
	q := NewQuotas(store)
	d := q.Check(context.Background(), "user", "u1", defaultLimits[Free], 100, time.Now())
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "token")
}

func TestQuotaAllows(t *testing.T) {
	q := NewQuotas(&fakeQuotaStore{requests: 10, tokens: 1000})
	d := q.Check(context.Background(), "user", "u1", defaultLimits[Free], 100, time.Now())
	assert.True(t, d.Allowed)
	assert.False(t, d.StoreDegraded)
}

func TestQuotaFailsOpenOnStoreError(t *testing.T) {
	q := NewQuotas(&fakeQuotaStore{err: errors.New("connection refused")})
	d := q.Check(context.Background(), "user", "u1", defaultLimits[Free], 100, time.Now())
	assert.True(t, d.Allowed)
	assert.True(t, d.StoreDegraded)
}

func TestQuotaNilStoreDegraded(t *testing.T) {
	q := NewQuotas(nil)
	d := q.Check(context.Background(), "user", "u1", defaultLimits[Free], 100, time.Now())
	assert.True(t, d.Allowed)
	assert.True(t, d.StoreDegraded)
	// Commit on a nil store is a no-op, not a panic.
	q.Commit(context.Background(), "user", "u1", 10, time.Now())
}

func TestQuotaCommitBestEffort(t *testing.T) {
	store := &fakeQuotaStore{err: errors.New("down")}
	q := NewQuotas(store)
	q.Commit(context.Background(), "user", "u1", 10, time.Now())
	assert.Equal(t, 1, store.commits)
}
