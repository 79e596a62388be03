package model

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// FailureKind is the internal failure taxonomy of the invocation loop.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureProviderUnavailable FailureKind = "PROVIDER_UNAVAILABLE"
	FailureBudgetExceeded      FailureKind = "BUDGET_EXCEEDED"
	FailureTimeout             FailureKind = "TIMEOUT"
	FailureBadResponse         FailureKind = "PROVIDER_BAD_RESPONSE"
	FailureSafetyBlocked       FailureKind = "SAFETY_BLOCKED"
)

// RunContext carries the per-request invocation constraints.
type RunContext struct {
	RequestID        string
	BreakerOpen      bool
	BudgetBlocked    bool
	TotalTimeoutMs   int64
	PerAttemptMs     int64
	MaxAttempts      int
	ForceSafetyBlock bool
	ForceQualityFail bool
}

// Result is what the reliability loop hands back to the orchestrator.
type Result struct {
	OK           bool // a verified answer was produced
	Text         string
	Failure      FailureKind
	FailureWhere string // "total" | "provider" | ""
	Reason       string
	Attempts     int
	QualityFlag  bool // answer returned despite a quality issue
	ProviderFail bool // at least one classified provider failure occurred
}

// Attempt is one provider invocation under a per-attempt deadline.
type Attempt func(ctx context.Context, attempt int) (string, error)

// Engine drives the invocation attempts with deadlines and the safety
// and quality gates. The clock is injected for determinism.
type Engine struct {
	SafetyBlocklist []string
	Now             func() time.Time
	logger          *log.Logger
}

// NewEngine builds the reliability engine.
func NewEngine(safetyBlocklist []string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		SafetyBlocklist: safetyBlocklist,
		Now:             now,
		logger:          log.New(log.Writer(), "[RELIABILITY] ", log.LstdFlags),
	}
}

// Run executes the attempt loop. Safety blocks are terminal; quality
// issues are flagged but never block the answer.
func (e *Engine) Run(ctx context.Context, rc RunContext, attempt Attempt) Result {
	if rc.BreakerOpen {
		return Result{Failure: FailureProviderUnavailable, Reason: "breaker_open"}
	}
	if rc.BudgetBlocked {
		return Result{Failure: FailureBudgetExceeded, Reason: "budget_blocked"}
	}
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 1
	}

	started := e.Now()
	total := time.Duration(rc.TotalTimeoutMs) * time.Millisecond
	res := Result{}

	var lastFailure FailureKind = FailureBadResponse
	var lastWhere string

	for i := 0; i < rc.MaxAttempts; i++ {
		elapsed := e.Now().Sub(started)
		if elapsed >= total {
			return Result{
				Failure:      FailureTimeout,
				FailureWhere: "total",
				Reason:       "total deadline exhausted",
				Attempts:     res.Attempts,
				ProviderFail: res.ProviderFail,
			}
		}

		perAttempt := time.Duration(rc.PerAttemptMs) * time.Millisecond
		if remaining := total - elapsed; remaining < perAttempt {
			perAttempt = remaining
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		text, err := attempt(attemptCtx, i)
		cancel()
		res.Attempts = i + 1

		if err != nil {
			var ve *VerificationError
			if errors.As(err, &ve) {
				// A reply that failed verification is never re-requested;
				// the caller renders the deterministic fallback.
				e.logger.Printf("request=%s attempt=%d reply rejected: %s", rc.RequestID, i, ve.Reason)
				return Result{
					Failure:      FailureBadResponse,
					Reason:       "reply failed verification",
					Attempts:     res.Attempts,
					ProviderFail: res.ProviderFail,
				}
			}
			res.ProviderFail = true
			if errors.Is(err, context.DeadlineExceeded) {
				lastFailure, lastWhere = FailureTimeout, "provider"
				e.logger.Printf("request=%s attempt=%d provider timeout", rc.RequestID, i)
			} else {
				lastFailure, lastWhere = FailureBadResponse, ""
				e.logger.Printf("request=%s attempt=%d provider error: %v", rc.RequestID, i, err)
			}
			continue
		}

		if blocked, term := e.safetyGate(text, rc.ForceSafetyBlock); blocked {
			return Result{
				Failure:      FailureSafetyBlocked,
				Reason:       "safety gate: " + term,
				Attempts:     res.Attempts,
				ProviderFail: res.ProviderFail,
			}
		}

		res.OK = true
		res.Text = text
		res.QualityFlag = e.qualityGate(text, rc.ForceQualityFail)
		return res
	}

	return Result{
		Failure:      lastFailure,
		FailureWhere: lastWhere,
		Reason:       "attempts exhausted",
		Attempts:     res.Attempts,
		ProviderFail: res.ProviderFail,
	}
}

// safetyGate blocks on any configured keyword or a forced block flag.
func (e *Engine) safetyGate(text string, forced bool) (bool, string) {
	if forced {
		return true, "forced"
	}
	lower := strings.ToLower(text)
	for _, term := range e.SafetyBlocklist {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true, "blocklist"
		}
	}
	return false, ""
}

// qualityGate flags thin answers. Quality issues never block.
func (e *Engine) qualityGate(text string, forced bool) bool {
	if forced {
		return true
	}
	if len(strings.TrimSpace(text)) < 40 {
		return true
	}
	if strings.Contains(text, "[PLACEHOLDER]") {
		return true
	}
	return false
}
