// Package database is the persisted-table layer: quotas, rate-limit
// windows, anonymous sessions, and invocation logs. All mutations are
// single-statement atomic upserts so concurrent requests never lose
// increments.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Session is a best-effort record of an anonymous or authenticated
// session. Only opaque ids and timestamps; never raw addresses.
type Session struct {
	ID         string
	UserID     *string
	AnonID     *string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// InvocationLog is one structure-only row per request.
type InvocationLog struct {
	TS            time.Time
	Route         string
	StatusCode    int
	LatencyMs     int64
	ErrorCode     string
	HashedSubject string
	SessionID     string
	ModelUsed     string
}

// Postgres wraps the SQL store used for quotas, rate limits, sessions
// and invocation logs.
type Postgres struct {
	db *sql.DB
}

// Open connects to the store and verifies connectivity with a short
// deadline.
func Open(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Ping reports store reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// BumpRateWindow atomically increments the hit counter for the given
// window and returns the resulting count plus any active lockout.
func (p *Postgres) BumpRateWindow(ctx context.Context, subjectType, subjectID string, windowStart time.Time, windowSeconds int) (int, *time.Time, error) {
	const q = `
		INSERT INTO rate_limits (id, subject_type, subject_id, window_start, window_seconds, hits)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 1)
		ON CONFLICT (subject_type, subject_id, window_start, window_seconds)
		DO UPDATE SET hits = rate_limits.hits + 1
		RETURNING hits, blocked_until`
	var hits int
	var blocked sql.NullTime
	err := p.db.QueryRowContext(ctx, q, subjectType, subjectID, windowStart.UTC(), windowSeconds).Scan(&hits, &blocked)
	if err != nil {
		return 0, nil, fmt.Errorf("bump rate window: %w", err)
	}
	if blocked.Valid {
		t := blocked.Time
		return hits, &t, nil
	}
	return hits, nil, nil
}

// SetBlockedUntil records a lockout on the window row.
func (p *Postgres) SetBlockedUntil(ctx context.Context, subjectType, subjectID string, windowStart time.Time, windowSeconds int, until time.Time) error {
	const q = `
		UPDATE rate_limits SET blocked_until = $5
		WHERE subject_type = $1 AND subject_id = $2 AND window_start = $3 AND window_seconds = $4`
	_, err := p.db.ExecContext(ctx, q, subjectType, subjectID, windowStart.UTC(), windowSeconds, until.UTC())
	if err != nil {
		return fmt.Errorf("set blocked_until: %w", err)
	}
	return nil
}

// QuotaToday returns today's counters for the subject, creating the
// row on first use of the day.
func (p *Postgres) QuotaToday(ctx context.Context, subjectType, subjectID, date string, resetAt time.Time) (requests, tokens int64, err error) {
	const q = `
		INSERT INTO quotas (id, subject_type, subject_id, date, requests_count, tokens_count, reset_at)
		VALUES (gen_random_uuid(), $1, $2, $3, 0, 0, $4)
		ON CONFLICT (subject_type, subject_id, date) DO UPDATE SET date = quotas.date
		RETURNING requests_count, tokens_count`
	err = p.db.QueryRowContext(ctx, q, subjectType, subjectID, date, resetAt.UTC()).Scan(&requests, &tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("quota read: %w", err)
	}
	return requests, tokens, nil
}

// AddQuotaUsage commits an accepted request's usage.
func (p *Postgres) AddQuotaUsage(ctx context.Context, subjectType, subjectID, date string, requestDelta, tokenDelta int64) error {
	const q = `
		UPDATE quotas SET requests_count = requests_count + $4, tokens_count = tokens_count + $5
		WHERE subject_type = $1 AND subject_id = $2 AND date = $3
		RETURNING requests_count`
	var n int64
	err := p.db.QueryRowContext(ctx, q, subjectType, subjectID, date, requestDelta, tokenDelta).Scan(&n)
	if err != nil {
		return fmt.Errorf("quota increment: %w", err)
	}
	return nil
}

// RecordSession upserts a session row. Callers treat failures as
// best-effort and swallow them.
func (p *Postgres) RecordSession(ctx context.Context, s Session) error {
	const q = `
		INSERT INTO sessions (id, user_id, anon_id, created_at, last_seen_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb)
		ON CONFLICT (id) DO UPDATE SET last_seen_at = $5`
	_, err := p.db.ExecContext(ctx, q, s.ID, s.UserID, s.AnonID, s.CreatedAt.UTC(), s.LastSeenAt.UTC(), s.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// InsertInvocationLog appends one request log row.
func (p *Postgres) InsertInvocationLog(ctx context.Context, l InvocationLog) error {
	const q = `
		INSERT INTO invocation_logs (ts, route, status_code, latency_ms, error_code, hashed_subject, session_id, model_used)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''))`
	_, err := p.db.ExecContext(ctx, q, l.TS.UTC(), l.Route, l.StatusCode, l.LatencyMs, l.ErrorCode, l.HashedSubject, l.SessionID, l.ModelUsed)
	if err != nil {
		return fmt.Errorf("insert invocation log: %w", err)
	}
	return nil
}
