package database

import (
	"fmt"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseSink records sessions and invocation logs through the
// Supabase REST API. It is the best-effort fallback used when no
// direct Postgres connection is configured; every method failure is
// safe to swallow.
type SupabaseSink struct {
	client *supabase.Client
}

// NewSupabaseSink builds the sink from the configured project URL and
// service key.
func NewSupabaseSink(url, serviceKey string) (*SupabaseSink, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseSink{client: client}, nil
}

type sessionRow struct {
	ID         string  `json:"id"`
	UserID     *string `json:"user_id,omitempty"`
	AnonID     *string `json:"anon_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
	LastSeenAt string  `json:"last_seen_at"`
	ExpiresAt  string  `json:"expires_at"`
}

type invocationLogRow struct {
	TS            string `json:"ts"`
	Route         string `json:"route"`
	StatusCode    int    `json:"status_code"`
	LatencyMs     int64  `json:"latency_ms"`
	ErrorCode     string `json:"error_code,omitempty"`
	HashedSubject string `json:"hashed_subject"`
	SessionID     string `json:"session_id,omitempty"`
	ModelUsed     string `json:"model_used,omitempty"`
}

// RecordSession inserts a session row.
func (s *SupabaseSink) RecordSession(sess Session) error {
	row := sessionRow{
		ID:         sess.ID,
		UserID:     sess.UserID,
		AnonID:     sess.AnonID,
		CreatedAt:  sess.CreatedAt.UTC().Format(time.RFC3339),
		LastSeenAt: sess.LastSeenAt.UTC().Format(time.RFC3339),
		ExpiresAt:  sess.ExpiresAt.UTC().Format(time.RFC3339),
	}
	var result []sessionRow
	_, err := s.client.From("sessions").
		Insert(row, true, "id", "", "").
		ExecuteTo(&result)
	return err
}

// InsertInvocationLog appends one request log row.
func (s *SupabaseSink) InsertInvocationLog(l InvocationLog) error {
	row := invocationLogRow{
		TS:            l.TS.UTC().Format(time.RFC3339),
		Route:         l.Route,
		StatusCode:    l.StatusCode,
		LatencyMs:     l.LatencyMs,
		ErrorCode:     l.ErrorCode,
		HashedSubject: l.HashedSubject,
		SessionID:     l.SessionID,
		ModelUsed:     l.ModelUsed,
	}
	var result []invocationLogRow
	_, err := s.client.From("invocation_logs").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	return err
}
