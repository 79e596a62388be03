package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/cost"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/database"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/decision"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/identity"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/memory"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/model"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/policy"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/retrieval"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/runtime"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/waf"
)

// ChatHandler is the /api/chat orchestrator. Stages run in fixed
// order; the first denial is mapped to the public contract and the
// pipeline stops there.
type ChatHandler struct {
	RT *runtime.GovernanceRuntime
}

// reply carries everything the final write needs.
type reply struct {
	status      int
	resp        ChatResponse
	retryAfter  int
	quotaDenied bool
	blocked     bool
}

// ServeHTTP runs the governed pipeline for one request.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt := h.RT
	started := rt.Now()
	requestID := RequestID(r)
	securityHeaders(w, r)

	ic := rt.Identity.Resolve(r)
	if ic.SetCookie != nil {
		http.SetCookie(w, ic.SetCookie)
	}

	rep := h.pipeline(r, requestID, ic, started)

	finishHeaders(w, rt.Settings, rep.status, rep.resp, rep.retryAfter, rep.quotaDenied, rep.blocked, ic.SubjectID, requestID)
	writeChat(w, rep.status, rep.resp)

	rt.Metrics.RequestsTotal.WithLabelValues(string(rep.resp.Action), strconv.Itoa(rep.status)).Inc()
	rt.Metrics.RequestDuration.WithLabelValues(string(rep.resp.Action)).Observe(rt.Now().Sub(started).Seconds())
	h.record(r, requestID, ic, rep, started)
}

// pipeline runs the stages and returns the mapped outcome. It never
// panics outward; any programming error surfaces as a sanitized 500.
func (h *ChatHandler) pipeline(r *http.Request, requestID string, ic identity.Context, started time.Time) (rep reply) {
	rt := h.RT
	defer func() {
		if rec := recover(); rec != nil {
			rep = reply{
				status: http.StatusInternalServerError,
				resp:   failure(ActionFallback, FailureInternal, textInternal, "unexpected condition"),
			}
			rt.Audit.Append(rt.NowMs(), requestID, "orchestrator", "panic_recovered", nil)
		}
	}()

	now := rt.Now()

	// Admission: body shape first.
	body, err := io.ReadAll(io.LimitReader(r.Body, rt.Settings.WAF.MaxBodyBytes+1))
	if err != nil {
		return reply{status: http.StatusBadRequest, resp: failure(ActionRefuse, FailureSchemaInvalid, textSchemaReject, "body unreadable")}
	}
	userText, violation := rt.Guard.ValidatePayload(r.Header.Get("Content-Type"), r.ContentLength, body)
	if violation != nil {
		rt.Metrics.StageDenials.WithLabelValues("waf_payload", violation.Kind).Inc()
		return payloadReply(violation)
	}

	// Admission: rate ladder.
	verdict := rt.Guard.CheckRate(r.Context(), ic.IPHash, ic.SubjectID, now)
	if !verdict.Allowed {
		rt.Metrics.StageDenials.WithLabelValues("waf_rate", string(verdict.Scope)).Inc()
		return reply{
			status:     http.StatusTooManyRequests,
			resp:       success(ActionRefuse, textRateLimited),
			retryAfter: verdict.RetryAfterSecs,
		}
	}

	// Abuse scoring.
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	abuse := waf.ScoreAbuse(waf.AbuseSignals{
		UserAgent:       r.UserAgent(),
		AcceptHeader:    r.Header.Get("Accept"),
		ContentType:     r.Header.Get("Content-Type"),
		Method:          r.Method,
		Path:            r.URL.Path,
		IsAnonymous:     !ic.IsAuthenticated,
		SensitivePath:   rt.Guard.Enforced(r.URL.Path),
		LimiterFallback: verdict.StoreFallback,
		Scheme:          scheme,
		Host:            r.Host,
	})
	if abuse.Decision != waf.AbuseAllow {
		rt.Metrics.StageDenials.WithLabelValues("abuse", abuse.Reason).Inc()
		return reply{
			status:     http.StatusTooManyRequests,
			resp:       success(ActionRefuse, textBlocked),
			retryAfter: abuse.RetryAfterSecs,
			blocked:    abuse.Decision == waf.AbuseBlock,
		}
	}

	// Plan and quota.
	tier := rt.Plans.Resolve(ic.SubjectID)
	limits := rt.Plans.LimitsFor(tier)
	estIn := cost.EstimateTokens(userText)
	if estIn > int64(limits.MaxInputTokens) {
		rt.Metrics.StageDenials.WithLabelValues("plan", "input_tokens").Inc()
		return reply{status: http.StatusRequestEntityTooLarge, resp: failure(ActionRefuse, FailureTooLarge, textTooLarge, "input exceeds the plan's token limit")}
	}
	estOut := int64(limits.MaxOutputTokens)

	qd := rt.Quotas.Check(r.Context(), string(ic.SubjectType), ic.SubjectID, limits, estIn+estOut, now)
	if qd.StoreDegraded {
		rt.Metrics.QuotaDegraded.Inc()
	}
	if !qd.Allowed {
		rt.Metrics.StageDenials.WithLabelValues("quota", qd.Reason).Inc()
		return reply{
			status:      http.StatusTooManyRequests,
			resp:        success(ActionRefuse, textQuotaOver),
			retryAfter:  qd.RetryAfter,
			quotaDenied: true,
		}
	}

	// Cost policy.
	breakerKey := rt.BreakerKey()
	cd := rt.Cost.Precheck(breakerKey, ic.SubjectID, ic.IPHash, estIn, estOut, now)
	if !cd.Allowed {
		rt.Metrics.StageDenials.WithLabelValues("cost", string(cd.Scope)).Inc()
		switch cd.Scope {
		case cost.ScopeRequestCap:
			return reply{status: http.StatusRequestEntityTooLarge, resp: failure(ActionRefuse, FailureTooLarge, textTooLarge, cd.Reason)}
		default:
			return reply{
				status:     http.StatusServiceUnavailable,
				resp:       failure(ActionFallback, FailureModelFallback, textDegraded, cd.Reason),
				retryAfter: cd.RetryAfterSecs,
			}
		}
	}

	// Decision plans.
	state := decision.Classify(userText)
	cp, err := decision.BuildControlPlan(requestID, state)
	if err != nil {
		return reply{status: http.StatusInternalServerError, resp: failure(ActionFallback, FailurePipelineAborted, textInternal, "decision plan could not be built")}
	}
	op, err := decision.BuildOutputPlan(state, cp)
	if err != nil {
		return reply{status: http.StatusInternalServerError, resp: failure(ActionFallback, FailurePipelineAborted, textInternal, "output plan could not be built")}
	}

	// Policy-gated context.
	grant := policy.Gate(ic, tier, cp, state)
	prompt := userText
	if facts, deny := rt.Broker.ReadMemory(grant, ic.SubjectID, memory.TemplateGoalsAndWorkflow, rt.NowMs()); deny == policy.DenyNone && len(facts) > 0 {
		prompt = "Context about the user:\n" + memory.Render(facts) + "\n" + userText
	}
	var sources retrieval.RunResult
	if grant.Retrieval {
		rr, deny := rt.Broker.Retrieve(r.Context(), grant, userText)
		if deny == policy.DenyNone {
			sources = rr
			for _, ev := range rr.Events {
				rt.Metrics.SanitizeEvents.WithLabelValues(string(ev.Kind)).Inc()
			}
			if len(rr.Bundles) > 0 {
				prompt += "\n\nRetrieved sources:\n" + retrieval.RenderContext(rr.Bundles, rr.Grades)
			}
		}
	}

	// Model invocation under the reliability guards.
	inv := model.BuildInvocation(prompt, rt.Settings.Model.Name, state, cp, op, limits.MaxOutputTokens)
	var usage model.Usage
	res := rt.Engine.Run(r.Context(), model.RunContext{
		RequestID:        requestID,
		BreakerOpen:      cd.BreakerState == cost.BreakerOpen,
		BudgetBlocked:    rt.Settings.ForceBudgetBlock,
		TotalTimeoutMs:   rt.Settings.Model.TotalTimeoutMs,
		PerAttemptMs:     rt.Settings.Model.PerAttemptMs,
		MaxAttempts:      rt.Settings.Model.MaxAttempts,
		ForceSafetyBlock: rt.Settings.ForceSafetyBlock,
		ForceQualityFail: rt.Settings.ForceQualityFail,
	}, func(ctx context.Context, attempt int) (string, error) {
		if rt.Settings.ForceProviderTimeout {
			<-ctx.Done()
			return "", ctx.Err()
		}
		raw, u, err := rt.Provider.Call(ctx, inv.Request)
		if err != nil {
			rt.Cost.CommitProviderFailure(breakerKey, rt.Now())
			rt.Metrics.ProviderFailures.WithLabelValues("provider_error").Inc()
			return "", err
		}
		usage = u
		verified, err := model.Verify(inv, raw)
		if err != nil {
			// Verification failures are ours, not the provider's; they
			// do not feed the breaker.
			return "", err
		}
		return verified, nil
	})

	tokensUsed := usage.TotalTokens
	if tokensUsed == 0 {
		tokensUsed = estIn
	}

	if res.OK {
		rt.Cost.CommitSuccess(breakerKey, ic.SubjectID, ic.IPHash, tokensUsed, rt.Now())
		rt.Quotas.Commit(r.Context(), string(ic.SubjectType), ic.SubjectID, tokensUsed, rt.Now())

		// Retrieval-backed answers must ground their load-bearing
		// claims; an uncovered claim downgrades the answer.
		text := res.Text
		if cp.Action == decision.ActionAnswer && len(sources.Bundles) > 0 {
			bound := retrieval.Bind(retrieval.ExtractClaims(text), sources.Bundles, sources.Grades)
			switch bound.FinalMode {
			case retrieval.FinalAskClarify:
				rt.Metrics.ClaimDowngrades.WithLabelValues(string(bound.FinalMode)).Inc()
				return reply{status: http.StatusOK, resp: success(ActionAsk, bound.ClarifyQuestions[0])}
			case retrieval.FinalUnknown:
				rt.Metrics.ClaimDowngrades.WithLabelValues(string(bound.FinalMode)).Inc()
				text += " Unknown: parts of this could not be grounded in the retrieved sources."
			}
		}
		return reply{status: http.StatusOK, resp: success(publicAction(cp.Action), text)}
	}

	// Model path failed: render the deterministic fallback.
	fb := model.Fallback(state, cp, op)
	rt.Metrics.FallbacksRendered.WithLabelValues(string(res.Failure)).Inc()
	rt.Quotas.Commit(r.Context(), string(ic.SubjectType), ic.SubjectID, estIn, rt.Now())

	switch res.Failure {
	case model.FailureProviderUnavailable, model.FailureBudgetExceeded:
		return reply{
			status:     http.StatusServiceUnavailable,
			resp:       failure(ActionFallback, FailureModelFallback, textDegraded, res.Reason),
			retryAfter: rt.Settings.Cost.BreakerCooldownSecs,
		}
	case model.FailureTimeout:
		if fb == "" {
			return reply{status: http.StatusServiceUnavailable, resp: failure(ActionFallback, FailureTimeout, textDegraded, res.Reason)}
		}
		return reply{status: http.StatusOK, resp: failure(ActionFallback, FailureTimeout, fb, res.Reason)}
	default:
		return reply{status: http.StatusOK, resp: failure(ActionFallback, FailureModelFallback, fb, res.Reason)}
	}
}

// payloadReply maps a body-shape violation to the public contract.
func payloadReply(v *waf.PayloadViolation) reply {
	switch v.Kind {
	case "content_type":
		return reply{status: http.StatusUnsupportedMediaType, resp: failure(ActionRefuse, FailureSchemaInvalid, textSchemaReject, v.Detail)}
	case "too_large":
		return reply{status: http.StatusRequestEntityTooLarge, resp: failure(ActionRefuse, FailureTooLarge, textTooLarge, v.Detail)}
	case "empty":
		return reply{status: http.StatusBadRequest, resp: failure(ActionRefuse, FailureEmptyInput, textEmptyInput, v.Detail)}
	default:
		return reply{status: http.StatusBadRequest, resp: failure(ActionRefuse, FailureSchemaInvalid, textSchemaReject, v.Detail)}
	}
}

// publicAction maps the internal verb to the public one.
func publicAction(a decision.Action) ChatAction {
	switch a {
	case decision.ActionAskOneQuestion:
		return ActionAsk
	case decision.ActionRefuse:
		return ActionRefuse
	case decision.ActionClose:
		return ActionClose
	default:
		return ActionAnswer
	}
}

// record emits telemetry, audit and best-effort persisted logs after
// the response is written.
func (h *ChatHandler) record(r *http.Request, requestID string, ic identity.Context, rep reply, started time.Time) {
	rt := h.RT
	latency := rt.Now().Sub(started).Milliseconds()

	ft := ""
	if rep.resp.FailureType != nil {
		ft = string(*rep.resp.FailureType)
	}
	fields := map[string]interface{}{
		"route":        r.URL.Path,
		"status":       rep.status,
		"action":       string(rep.resp.Action),
		"failure_type": ft,
		"subject_type": string(ic.SubjectType),
		"latency_ms":   latency,
	}
	rt.Telemetry.Emit("chat_completed", requestID, "", rt.NowMs(), fields)
	rt.Audit.Append(rt.NowMs(), requestID, "orchestrator", string(rep.resp.Action), fields)
	rt.Metrics.StrippedFields.Add(0)

	rt.Usage.Record(cost.UsageRecord{
		TS:          started,
		RequestID:   requestID,
		Route:       r.URL.Path,
		SubjectHash: ic.SubjectID,
		IPHash:      ic.IPHash,
		Provider:    rt.Settings.Model.Provider,
		Model:       rt.Settings.Model.Name,
		Outcome:     string(rep.resp.Action),
		LatencyMs:   latency,
	})

	if ic.SetCookie != nil {
		anon := ic.AnonID
		sess := database.Session{
			ID:         requestID,
			AnonID:     &anon,
			CreatedAt:  started,
			LastSeenAt: started,
			ExpiresAt:  started.Add(time.Duration(rt.Settings.AnonSessionTTLDays) * 24 * time.Hour),
		}
		if rt.DB != nil {
			_ = rt.DB.RecordSession(r.Context(), sess)
		} else if rt.Sessions != nil {
			_ = rt.Sessions.RecordSession(sess)
		}
	}

	if rt.DB != nil {
		_ = rt.DB.InsertInvocationLog(r.Context(), database.InvocationLog{
			TS:            started,
			Route:         r.URL.Path,
			StatusCode:    rep.status,
			LatencyMs:     latency,
			ErrorCode:     ft,
			HashedSubject: ic.SubjectID,
			ModelUsed:     rt.Settings.Model.Name,
		})
	}
}
