package plan

import (
	"context"
	"log"
	"time"
)

// QuotaStore is the persisted daily-counter API.
type QuotaStore interface {
	QuotaToday(ctx context.Context, subjectType, subjectID, date string, resetAt time.Time) (requests, tokens int64, err error)
	AddQuotaUsage(ctx context.Context, subjectType, subjectID, date string, requestDelta, tokenDelta int64) error
}

// QuotaDecision is the outcome of a quota precheck.
type QuotaDecision struct {
	Allowed       bool
	Reason        string
	RetryAfter    int // seconds until UTC midnight when denied
	StoreDegraded bool
}

// Quotas enforces per-day request and token caps against the store.
// Store failures fail open so a store outage does not cascade into
// full unavailability; the degradation is surfaced for telemetry.
type Quotas struct {
	store  QuotaStore
	logger *log.Logger
}

// NewQuotas wires the enforcer. store may be nil (local dev), which
// behaves like a permanently degraded store.
func NewQuotas(store QuotaStore) *Quotas {
	return &Quotas{
		store:  store,
		logger: log.New(log.Writer(), "[QUOTA] ", log.LstdFlags),
	}
}

// utcDate formats the quota day key.
func utcDate(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// resetAt is the next UTC midnight.
func resetAt(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// Check verifies both the request count and the token budget against
// today's counters.
func (q *Quotas) Check(ctx context.Context, subjectType, subjectID string, limits Limits, estTokens int64, now time.Time) QuotaDecision {
	if q.store == nil {
		return QuotaDecision{Allowed: true, StoreDegraded: true}
	}

	requests, tokens, err := q.store.QuotaToday(ctx, subjectType, subjectID, utcDate(now), resetAt(now))
	if err != nil {
		q.logger.Printf("quota store unreachable, failing open: %v", err)
		return QuotaDecision{Allowed: true, StoreDegraded: true}
	}

	retry := int(resetAt(now).Sub(now).Seconds())
	if retry < 1 {
		retry = 1
	}
	if requests >= limits.RequestsPerDay {
		return QuotaDecision{Allowed: false, Reason: "daily request quota exceeded", RetryAfter: retry}
	}
	if tokens+estTokens > limits.TokenBudgetPerDay {
		return QuotaDecision{Allowed: false, Reason: "daily token budget exceeded", RetryAfter: retry}
	}
	return QuotaDecision{Allowed: true}
}

// Commit records an accepted request's usage. Best effort: failures
// are logged and swallowed.
func (q *Quotas) Commit(ctx context.Context, subjectType, subjectID string, tokensUsed int64, now time.Time) {
	if q.store == nil {
		return
	}
	if err := q.store.AddQuotaUsage(ctx, subjectType, subjectID, utcDate(now), 1, tokensUsed); err != nil {
		q.logger.Printf("quota commit failed: %v", err)
	}
}
