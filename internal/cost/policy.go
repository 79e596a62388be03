package cost

import (
	"time"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

// CheckScope names which cost check denied a request.
type CheckScope string

const (
	ScopeRequestCap  CheckScope = "request_cap"
	ScopeBreaker     CheckScope = "breaker"
	ScopeGlobalDaily CheckScope = "global_daily"
	ScopeIPWindow    CheckScope = "ip_window"
	ScopeActorDaily  CheckScope = "actor_daily"
)

// Decision is the outcome of the cost policy precheck.
type Decision struct {
	Allowed        bool
	Scope          CheckScope
	Reason         string
	RetryAfterSecs int
	BreakerState   BreakerState
}

// Policy composes the four budget checks plus the breaker, evaluated
// in fixed order with first denial winning.
type Policy struct {
	cfg     config.CostSettings
	breaker *Breaker
	global  *DailyCounter
	actor   *KeyedDailyCounter
	ipWin   *WindowCounter
}

// NewPolicy wires the policy around a shared breaker instance.
func NewPolicy(cfg config.CostSettings, breaker *Breaker) *Policy {
	return &Policy{
		cfg:     cfg,
		breaker: breaker,
		global:  &DailyCounter{},
		actor:   NewKeyedDailyCounter(),
		ipWin:   NewWindowCounter(time.Duration(cfg.IPWindowSecs) * time.Second),
	}
}

// Breaker exposes the shared breaker for the provider pipeline.
func (p *Policy) Breaker() *Breaker { return p.breaker }

// Precheck evaluates, in order: request cap, breaker, global daily,
// IP window, actor daily. The first denial wins.
func (p *Policy) Precheck(breakerKey, actorID, ipHash string, estInput, estOutput int64, now time.Time) Decision {
	est := estInput + estOutput

	if est > int64(p.cfg.RequestMaxTokens) || estOutput > int64(p.cfg.RequestMaxOutTokens) {
		return Decision{Scope: ScopeRequestCap, Reason: "request exceeds per-request token cap"}
	}

	bd := p.breaker.Precheck(breakerKey, now)
	if !bd.Allowed {
		return Decision{
			Scope:          ScopeBreaker,
			Reason:         "provider circuit open",
			RetryAfterSecs: bd.RetryAfterSecs,
			BreakerState:   bd.State,
		}
	}

	if p.global.Peek(now)+est > p.cfg.GlobalDailyTokenCap {
		return Decision{Scope: ScopeGlobalDaily, Reason: "global daily token budget exhausted", RetryAfterSecs: secsToMidnight(now)}
	}

	if p.ipWin.Peek(ipHash, now)+est > p.cfg.IPWindowTokenCap {
		return Decision{Scope: ScopeIPWindow, Reason: "per-ip token window exhausted", RetryAfterSecs: p.cfg.IPWindowSecs}
	}

	if p.cfg.ActorDailyTokenCap > 0 && p.actor.Peek(actorID, now)+est > p.cfg.ActorDailyTokenCap {
		return Decision{Scope: ScopeActorDaily, Reason: "actor daily token budget exhausted", RetryAfterSecs: secsToMidnight(now)}
	}

	return Decision{Allowed: true, BreakerState: bd.State}
}

// CommitSuccess records actual usage after a successful invocation and
// marks the breaker healthy.
func (p *Policy) CommitSuccess(breakerKey, actorID, ipHash string, tokensUsed int64, now time.Time) {
	p.global.Add(tokensUsed, now)
	p.ipWin.Add(ipHash, tokensUsed, now)
	if p.cfg.ActorDailyTokenCap > 0 {
		p.actor.Add(actorID, tokensUsed, now)
	}
	p.breaker.OnSuccess(breakerKey, now)
}

// CommitProviderFailure feeds the breaker. Only classified provider
// failures reach here; verification failures do not count against the
// provider.
func (p *Policy) CommitProviderFailure(breakerKey string, now time.Time) {
	p.breaker.OnFailure(breakerKey, now)
}

func secsToMidnight(now time.Time) int {
	u := now.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	s := int(midnight.Sub(u).Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// EstimateTokens is the coarse chars/4 heuristic used for prechecks.
// Post-accounting uses the provider's reported usage instead.
func EstimateTokens(text string) int64 {
	n := int64(len(text) / 4)
	if n < 1 {
		n = 1
	}
	return n
}
