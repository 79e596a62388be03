// Package waf is the per-route admission guard: payload shape checks
// plus burst/sustain rate windows keyed by IP and subject, with a
// lockout ladder for repeat offenders.
package waf

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

// WindowStore is the persisted window API. All increments are atomic
// on the store side.
type WindowStore interface {
	BumpRateWindow(ctx context.Context, subjectType, subjectID string, windowStart time.Time, windowSeconds int) (hits int, blockedUntil *time.Time, err error)
	SetBlockedUntil(ctx context.Context, subjectType, subjectID string, windowStart time.Time, windowSeconds int, until time.Time) error
}

// Scope identifies which limiter fired.
type Scope string

const (
	ScopeIPBurst    Scope = "ip_burst"
	ScopeIPSustain  Scope = "ip_sustain"
	ScopeSubBurst   Scope = "subject_burst"
	ScopeSubSustain Scope = "subject_sustain"
)

// Verdict is the outcome of the rate-limit ladder.
type Verdict struct {
	Allowed         bool
	Scope           Scope
	RetryAfterSecs  int
	Reason          string
	StoreFallback   bool // persisted store was unreachable; local buckets used
	LockoutApplied  bool
	LockoutDuration time.Duration
}

// PayloadViolation reports a body-shape failure before any parsing of
// semantics.
type PayloadViolation struct {
	Kind   string // "content_type" | "too_large" | "schema" | "empty"
	Detail string
}

// Guard enforces the admission ladder on the configured routes.
type Guard struct {
	cfg      config.WAFSettings
	store    WindowStore
	fallback *LocalWindows
	logger   *log.Logger

	mu      sync.Mutex
	strikes map[string]*strikeState
}

type strikeState struct {
	count     int
	lastBlock time.Time
}

// NewGuard builds the guard. store may be nil, in which case the
// process-local buckets are authoritative.
func NewGuard(cfg config.WAFSettings, store WindowStore) *Guard {
	return &Guard{
		cfg:      cfg,
		store:    store,
		fallback: NewLocalWindows(),
		logger:   log.New(log.Writer(), "[WAF] ", log.LstdFlags),
		strikes:  make(map[string]*strikeState),
	}
}

// Enforced reports whether the guard applies to the given path.
func (g *Guard) Enforced(path string) bool {
	for _, p := range g.cfg.EnforceRoutes {
		if p == path {
			return true
		}
	}
	return false
}

// chatPayload is the strict request body: exactly one known field.
type chatPayload struct {
	UserText *string `json:"user_text"`
}

// ValidatePayload applies the body-shape ladder: content type, size,
// JSON well-formedness, strict fields, user_text bounds. It returns
// the trimmed user text on success.
func (g *Guard) ValidatePayload(contentType string, contentLength int64, body []byte) (string, *PayloadViolation) {
	if mt := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])); mt != "application/json" {
		return "", &PayloadViolation{Kind: "content_type", Detail: "content type must be application/json"}
	}
	if contentLength > g.cfg.MaxBodyBytes || int64(len(body)) > g.cfg.MaxBodyBytes {
		return "", &PayloadViolation{Kind: "too_large", Detail: fmt.Sprintf("body exceeds %d bytes", g.cfg.MaxBodyBytes)}
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	var p chatPayload
	if err := dec.Decode(&p); err != nil {
		return "", &PayloadViolation{Kind: "schema", Detail: "request body is not the expected JSON shape"}
	}
	// A second decode catches trailing payloads.
	if dec.More() {
		return "", &PayloadViolation{Kind: "schema", Detail: "unexpected trailing content"}
	}
	if p.UserText == nil {
		return "", &PayloadViolation{Kind: "schema", Detail: "user_text is required"}
	}
	if len(*p.UserText) > g.cfg.MaxUserTextChars {
		return "", &PayloadViolation{Kind: "too_large", Detail: fmt.Sprintf("user_text exceeds %d chars", g.cfg.MaxUserTextChars)}
	}
	text := strings.TrimSpace(*p.UserText)
	if text == "" {
		return "", &PayloadViolation{Kind: "empty", Detail: "user_text is empty after trimming"}
	}
	return text, nil
}

type windowCheck struct {
	scope       Scope
	subjectType string
	subjectID   string
	limit       int
	windowSecs  int
}

// CheckRate walks the window ladder in fixed priority order and
// returns the first violation. ipHash and subjectID are already
// hashed/opaque.
func (g *Guard) CheckRate(ctx context.Context, ipHash, subjectID string, now time.Time) Verdict {
	checks := []windowCheck{
		{ScopeIPBurst, "ip", ipHash, g.cfg.IPBurstLimit, g.cfg.IPBurstWindowSecs},
		{ScopeIPSustain, "ip", ipHash, g.cfg.IPSustainLimit, g.cfg.IPSustainWindowSecs},
		{ScopeSubBurst, "subject", subjectID, g.cfg.SubBurstLimit, g.cfg.SubBurstWindowSecs},
		{ScopeSubSustain, "subject", subjectID, g.cfg.SubSustainLimit, g.cfg.SubSustainWindowSecs},
	}

	verdict := Verdict{Allowed: true}
	for _, c := range checks {
		windowStart := now.UTC().Truncate(time.Duration(c.windowSecs) * time.Second)

		hits, blockedUntil, usedFallback := g.bump(ctx, c, windowStart, now)
		verdict.StoreFallback = verdict.StoreFallback || usedFallback

		if blockedUntil != nil && blockedUntil.After(now) {
			retry := int(blockedUntil.Sub(now).Seconds())
			if retry < 1 {
				retry = 1
			}
			return Verdict{
				Allowed:        false,
				Scope:          c.scope,
				RetryAfterSecs: retry,
				Reason:         string(c.scope) + " lockout active",
				StoreFallback:  verdict.StoreFallback,
			}
		}

		if hits > c.limit {
			dur := g.lockout(c.scope, c.subjectID, now)
			until := now.Add(dur)
			if g.store != nil && !usedFallback {
				// Best effort; the in-row lockout is advisory on top of the
				// in-process strike ladder.
				_ = g.store.SetBlockedUntil(ctx, c.subjectType, c.subjectID, windowStart, c.windowSecs, until)
			} else {
				g.fallback.Block(c.subjectType, c.subjectID, windowStart, c.windowSecs, until)
			}
			g.logger.Printf("rate limit exceeded: scope=%s hits=%d limit=%d lockout=%s", c.scope, hits, c.limit, dur)
			return Verdict{
				Allowed:         false,
				Scope:           c.scope,
				RetryAfterSecs:  int(dur.Seconds()),
				Reason:          string(c.scope) + " limit exceeded",
				StoreFallback:   verdict.StoreFallback,
				LockoutApplied:  true,
				LockoutDuration: dur,
			}
		}
	}
	return verdict
}

// bump increments one window, falling back to process-local buckets
// when the persisted store is unreachable.
func (g *Guard) bump(ctx context.Context, c windowCheck, windowStart, now time.Time) (hits int, blockedUntil *time.Time, usedFallback bool) {
	if g.store != nil {
		h, b, err := g.store.BumpRateWindow(ctx, c.subjectType, c.subjectID, windowStart, c.windowSecs)
		if err == nil {
			return h, b, false
		}
		g.logger.Printf("store unreachable, using local windows: %v", err)
	}
	h, b := g.fallback.Bump(c.subjectType, c.subjectID, windowStart, c.windowSecs, now)
	return h, b, true
}

// lockout advances the strike ladder and returns the lockout duration
// for the current strike. Strikes reset after a cooldown without new
// blocks.
func (g *Guard) lockout(scope Scope, subjectID string, now time.Time) time.Duration {
	key := string(scope) + ":" + subjectID

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.strikes[key]
	if !ok || now.Sub(st.lastBlock) > time.Duration(g.cfg.LockoutCooldownSecs)*time.Second {
		st = &strikeState{}
		g.strikes[key] = st
	}
	st.count++
	st.lastBlock = now

	idx := st.count - 1
	if idx >= len(g.cfg.LockoutScheduleSecs) {
		idx = len(g.cfg.LockoutScheduleSecs) - 1
	}
	return time.Duration(g.cfg.LockoutScheduleSecs[idx]) * time.Second
}
