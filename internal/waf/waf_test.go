package waf

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

func testSettings() config.WAFSettings {
	return config.WAFSettings{
		MaxBodyBytes:         16384,
		MaxUserTextChars:     2000,
		IPBurstLimit:         3,
		IPBurstWindowSecs:    10,
		IPSustainLimit:       100,
		IPSustainWindowSecs:  3600,
		SubBurstLimit:        100,
		SubBurstWindowSecs:   10,
		SubSustainLimit:      100,
		SubSustainWindowSecs: 3600,
		LockoutScheduleSecs:  []int{30, 120, 600, 3600},
		LockoutCooldownSecs:  900,
		EnforceRoutes:        []string{"/api/chat"},
	}
}

func TestEnforced(t *testing.T) {
	g := NewGuard(testSettings(), nil)
	assert.True(t, g.Enforced("/api/chat"))
	assert.False(t, g.Enforced("/healthz"))
}

func TestValidatePayload(t *testing.T) {
	g := NewGuard(testSettings(), nil)

	text, v := g.ValidatePayload("application/json", 20, []byte(`{"user_text":" hi "}`))
	require.Nil(t, v)
	assert.Equal(t, "hi", text)

	_, v = g.ValidatePayload("text/plain", 10, []byte(`{}`))
	require.NotNil(t, v)
	assert.Equal(t, "content_type", v.Kind)

	_, v = g.ValidatePayload("application/json; charset=utf-8", 30, []byte(`{"user_text":"hi","extra":"x"}`))
	require.NotNil(t, v)
	assert.Equal(t, "schema", v.Kind)

	_, v = g.ValidatePayload("application/json", 10, []byte(`{"user_text":"   "}`))
	require.NotNil(t, v)
	assert.Equal(t, "empty", v.Kind)

	_, v = g.ValidatePayload("application/json", 20000, []byte(`{"user_text":"hi"}`))
	require.NotNil(t, v)
	assert.Equal(t, "too_large", v.Kind)

	long := strings.Repeat("a", 2001)
	_, v = g.ValidatePayload("application/json", 0, []byte(`{"user_text":"`+long+`"}`))
	require.NotNil(t, v)
	assert.Equal(t, "too_large", v.Kind)

	_, v = g.ValidatePayload("application/json", 30, []byte(`{"user_text":"hi"}{"user_text":"again"}`))
	require.NotNil(t, v)
	assert.Equal(t, "schema", v.Kind)
}

func TestCheckRateBurstThenLockout(t *testing.T) {
	g := NewGuard(testSettings(), nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := g.CheckRate(ctx, "ip1", "sub1", now)
		require.True(t, v.Allowed, "request %d should pass", i)
		assert.True(t, v.StoreFallback)
	}

	v := g.CheckRate(ctx, "ip1", "sub1", now)
	require.False(t, v.Allowed)
	assert.Equal(t, ScopeIPBurst, v.Scope)
	assert.True(t, v.LockoutApplied)
	assert.Equal(t, 30, v.RetryAfterSecs)
}

func TestLockoutLadderEscalates(t *testing.T) {
	g := NewGuard(testSettings(), nil)
	now := time.Now().UTC()

	assert.Equal(t, 30*time.Second, g.lockout(ScopeIPBurst, "s", now))
	assert.Equal(t, 120*time.Second, g.lockout(ScopeIPBurst, "s", now.Add(time.Second)))
	assert.Equal(t, 600*time.Second, g.lockout(ScopeIPBurst, "s", now.Add(2*time.Second)))
	assert.Equal(t, 3600*time.Second, g.lockout(ScopeIPBurst, "s", now.Add(3*time.Second)))
	// Schedule saturates at the last step.
	assert.Equal(t, 3600*time.Second, g.lockout(ScopeIPBurst, "s", now.Add(4*time.Second)))
	// A quiet cooldown resets the ladder.
	assert.Equal(t, 30*time.Second, g.lockout(ScopeIPBurst, "s", now.Add(2*time.Hour)))
}

func TestCheckRateLockoutBlocksSubsequent(t *testing.T) {
	g := NewGuard(testSettings(), nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		g.CheckRate(ctx, "ip2", "sub2", now)
	}
	v := g.CheckRate(ctx, "ip2", "sub2", now.Add(time.Second))
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "lockout")
}

func TestScoreAbuseLadder(t *testing.T) {
	clean := AbuseSignals{
		UserAgent:    "Mozilla/5.0",
		AcceptHeader: "application/json",
		ContentType:  "application/json",
		Method:       "POST",
		Scheme:       "https",
		Host:         "api.example.com",
	}
	res := ScoreAbuse(clean)
	assert.Equal(t, AbuseAllow, res.Decision)
	assert.Zero(t, res.Score)

	hostile := AbuseSignals{
		Method:          "POST",
		IsAnonymous:     true,
		SensitivePath:   true,
		Scheme:          "http",
		Host:            "api.example.com",
		LimiterFallback: true,
	}
	res = ScoreAbuse(hostile)
	assert.Equal(t, AbuseBlock, res.Decision)
	assert.GreaterOrEqual(t, res.Score, 90)
	assert.Equal(t, 600, res.RetryAfterSecs)
	// Reason stays bounded to two tags.
	assert.LessOrEqual(t, len(strings.Split(res.Reason, "+")), 2)
}

func TestScoreAbuseRateLimitBand(t *testing.T) {
	s := AbuseSignals{
		AcceptHeader:  "application/json",
		ContentType:   "application/json",
		Method:        "POST",
		Scheme:        "https",
		Host:          "api.example.com",
		IsAnonymous:   true,
		SensitivePath: true,
	}
	// no UA (30) + anon sensitive (15) = 45: still allowed.
	res := ScoreAbuse(s)
	assert.Equal(t, AbuseAllow, res.Decision)

	s.ContentType = "text/plain"
	s.AcceptHeader = ""
	s.LimiterFallback = true
	// 30 + 15 + 15 + 15 + 10 = 85: rate limit band.
	res = ScoreAbuse(s)
	assert.Equal(t, AbuseRateLimit, res.Decision)
	assert.Equal(t, 60, res.RetryAfterSecs)
}

func TestScoreAbuseDeterministic(t *testing.T) {
	s := AbuseSignals{UserAgent: "curl/8.0", Method: "POST", ContentType: "application/json", Scheme: "https"}
	first := ScoreAbuse(s)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScoreAbuse(s))
	}
}
