package retrieval

import (
	"time"

	"golang.org/x/time/rate"
)

// StopReason says why the sandbox ended a retrieval run early.
type StopReason string

const (
	StopNone             StopReason = ""
	StopTimeout          StopReason = "TIMEOUT"
	StopBudgetExhausted  StopReason = "BUDGET_EXHAUSTED"
	StopRateLimited      StopReason = "RATE_LIMITED"
	StopSandboxViolation StopReason = "SANDBOX_VIOLATION"
)

// Caps bounds a retrieval run. Caps come from the tenant plan and are
// never overridable by request input.
type Caps struct {
	MaxCalls       int
	TotalBudgetMs  int64
	PerCallMs      int64
	CallsPerSecond float64
	Burst          int
}

// DefaultCaps is the baseline retrieval envelope.
var DefaultCaps = Caps{
	MaxCalls:       3,
	TotalBudgetMs:  4000,
	PerCallMs:      1500,
	CallsPerSecond: 2,
	Burst:          2,
}

// Sandbox enforces the retrieval envelope around tool calls. The run
// clock is injected; the limiter is driven with explicit timestamps so
// behavior is reproducible in replays.
type Sandbox struct {
	caps      Caps
	limiter   *rate.Limiter
	startedMs int64
	calls     int
	stop      StopReason
}

// NewSandbox opens the envelope at startMs.
func NewSandbox(caps Caps, startMs int64) *Sandbox {
	if caps.MaxCalls <= 0 {
		caps.MaxCalls = DefaultCaps.MaxCalls
	}
	if caps.TotalBudgetMs <= 0 {
		caps.TotalBudgetMs = DefaultCaps.TotalBudgetMs
	}
	if caps.PerCallMs <= 0 {
		caps.PerCallMs = DefaultCaps.PerCallMs
	}
	if caps.CallsPerSecond <= 0 {
		caps.CallsPerSecond = DefaultCaps.CallsPerSecond
	}
	if caps.Burst <= 0 {
		caps.Burst = DefaultCaps.Burst
	}
	return &Sandbox{
		caps:      caps,
		limiter:   rate.NewLimiter(rate.Limit(caps.CallsPerSecond), caps.Burst),
		startedMs: startMs,
	}
}

// Stopped reports the recorded stop reason, if any.
func (s *Sandbox) Stopped() StopReason { return s.stop }

// Calls reports how many calls were admitted.
func (s *Sandbox) Calls() int { return s.calls }

// Admit decides whether one more tool call may run at nowMs. Checks
// run in fixed priority order: total budget, call budget, rate limit.
// The first failing check records the stop reason and ends the run.
func (s *Sandbox) Admit(nowMs int64) (int64, StopReason) {
	if s.stop != StopNone {
		return 0, s.stop
	}
	if nowMs-s.startedMs >= s.caps.TotalBudgetMs {
		s.stop = StopTimeout
		return 0, s.stop
	}
	if s.calls >= s.caps.MaxCalls {
		s.stop = StopBudgetExhausted
		return 0, s.stop
	}
	if !s.limiter.AllowN(time.UnixMilli(nowMs), 1) {
		s.stop = StopRateLimited
		return 0, s.stop
	}
	s.calls++

	// The per-call deadline never extends past the total budget.
	deadline := s.caps.PerCallMs
	if remaining := s.caps.TotalBudgetMs - (nowMs - s.startedMs); remaining < deadline {
		deadline = remaining
	}
	return deadline, StopNone
}

// Settle records the outcome of an admitted call. A call that ran past
// its deadline counts as a timeout; a tool error is a sandbox
// violation. Either ends the run.
func (s *Sandbox) Settle(startedMs, finishedMs, deadlineMs int64, toolErr error) StopReason {
	if finishedMs-startedMs > deadlineMs {
		s.stop = StopTimeout
		return s.stop
	}
	if toolErr != nil {
		s.stop = StopSandboxViolation
		return s.stop
	}
	return StopNone
}
