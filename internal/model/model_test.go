package model

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/decision"
)

func answerPlans(t *testing.T, text string) (decision.State, decision.ControlPlan, decision.OutputPlan) {
	t.Helper()
	s := decision.Classify(text)
	cp, err := decision.BuildControlPlan("trace", s)
	require.NoError(t, err)
	op, err := decision.BuildOutputPlan(s, cp)
	require.NoError(t, err)
	return s, cp, op
}

func TestBuildInvocationAnswer(t *testing.T) {
	s, cp, op := answerPlans(t, "what is a good book about rivers")
	require.Equal(t, decision.ActionAnswer, cp.Action)

	inv := BuildInvocation("what is a good book about rivers", "m1", s, cp, op, 1000)
	assert.Equal(t, ClassAnswer, inv.Class)
	assert.Equal(t, FormatText, inv.Request.OutputFormat)
	assert.Equal(t, "m1", inv.Request.Model)
	assert.NotEmpty(t, inv.ForbiddenMarkers)
}

func TestBuildInvocationClarificationIsJSON(t *testing.T) {
	s, cp, op := answerPlans(t, "Tomorrow I will sell my house and move abroad")
	require.Equal(t, decision.ActionAskOneQuestion, cp.Action)

	inv := BuildInvocation("x", "m1", s, cp, op, 1000)
	assert.Equal(t, ClassClarification, inv.Class)
	assert.Equal(t, FormatJSON, inv.Request.OutputFormat)
	assert.Contains(t, inv.RequiredElements, "question")
}

func TestVerifyRejectsForbiddenMarkers(t *testing.T) {
	inv := InvocationRequest{
		Class:            ClassAnswer,
		Request:          Request{OutputFormat: FormatText},
		ForbiddenMarkers: forbiddenCapabilityMarkers,
	}
	_, err := Verify(inv, "Sure. I searched the web and found three options.")
	require.Error(t, err)

	_, err = Verify(inv, "")
	require.Error(t, err)

	out, err := Verify(inv, "A plain careful reply.")
	require.NoError(t, err)
	assert.Equal(t, "A plain careful reply.", out)
}

func TestVerifyRequiredElements(t *testing.T) {
	inv := InvocationRequest{
		Class:            ClassAnswer,
		Request:          Request{OutputFormat: FormatText},
		RequiredElements: []string{"Unknown:"},
	}
	_, err := Verify(inv, "An answer without disclosures.")
	require.Error(t, err)

	_, err = Verify(inv, "An answer. Unknown: the timeline.")
	assert.NoError(t, err)
}

func TestVerifyJSONQuestion(t *testing.T) {
	inv := InvocationRequest{
		Class:            ClassClarification,
		Request:          Request{OutputFormat: FormatJSON},
		RequiredElements: []string{"question"},
	}

	out, err := Verify(inv, `{"question":"What matters most here? And also what else? Plus one more?"}`)
	require.NoError(t, err)
	assert.Equal(t, "What matters most here?", out)
	assert.Equal(t, 1, strings.Count(out, "?"))

	_, err = Verify(inv, `{"question":{"nested":"no"}}`)
	assert.Error(t, err)

	_, err = Verify(inv, `{"other":"x"}`)
	assert.Error(t, err)

	_, err = Verify(inv, `not json`)
	assert.Error(t, err)
}

func TestFallbackQuestionBounds(t *testing.T) {
	_, cp, op := answerPlans(t, "Tomorrow I will sell my house and move abroad")
	s := decision.Classify("Tomorrow I will sell my house and move abroad")

	q := Fallback(s, cp, op)
	assert.LessOrEqual(t, len(q), 120)
	assert.Equal(t, 1, strings.Count(q, "?"))
	assert.NotContains(t, q, " and ")
}

func TestFallbackRefusalBounds(t *testing.T) {
	s, cp, op := answerPlans(t, "I am about to do this dangerous surgery on myself right now, it is irreversible")
	require.Equal(t, decision.ActionRefuse, cp.Action)

	text := Fallback(s, cp, op)
	assert.LessOrEqual(t, len(text), 220)
	assert.NotContains(t, text, "?")
	assert.NotEmpty(t, text)
}

func TestFallbackAnswerDisclosures(t *testing.T) {
	s, cp, op := answerPlans(t, "thinking about changing careers")
	require.Equal(t, decision.ActionAnswer, cp.Action)

	text := Fallback(s, cp, op)
	assert.NotEmpty(t, text)
	if op.UnknownDisclosure == decision.DisclosureExplicit {
		assert.Contains(t, text, "Unknown:")
	}
	if op.AssumptionSurfacing {
		assert.Contains(t, text, "Assumption:")
	}
}

func TestEngineBreakerAndBudgetShortCircuit(t *testing.T) {
	e := NewEngine(nil, time.Now)
	res := e.Run(context.Background(), RunContext{BreakerOpen: true}, nil)
	assert.Equal(t, FailureProviderUnavailable, res.Failure)

	res = e.Run(context.Background(), RunContext{BudgetBlocked: true}, nil)
	assert.Equal(t, FailureBudgetExceeded, res.Failure)
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	e := NewEngine(nil, time.Now)
	calls := 0
	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 5000,
		PerAttemptMs:   1000,
		MaxAttempts:    3,
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt == 0 {
			return "", errors.New("flaky upstream")
		}
		return "a sufficiently long verified answer for the quality gate", nil
	})
	require.True(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, calls)
	assert.True(t, res.ProviderFail)
	assert.False(t, res.QualityFlag)
}

func TestEngineVerificationFailureTerminal(t *testing.T) {
	e := NewEngine(nil, time.Now)
	calls := 0
	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 5000,
		PerAttemptMs:   1000,
		MaxAttempts:    3,
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", &VerificationError{Reason: "forbidden capability claim"}
	})

	// A rejected reply is never re-requested and never counts against
	// the provider.
	assert.False(t, res.OK)
	assert.Equal(t, FailureBadResponse, res.Failure)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.ProviderFail)
}

func TestEngineExhaustsAttempts(t *testing.T) {
	e := NewEngine(nil, time.Now)
	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 5000,
		PerAttemptMs:   1000,
		MaxAttempts:    2,
	}, func(ctx context.Context, attempt int) (string, error) {
		return "", errors.New("always down")
	})
	assert.False(t, res.OK)
	assert.Equal(t, FailureBadResponse, res.Failure)
	assert.Equal(t, 2, res.Attempts)
}

func TestEngineTotalDeadline(t *testing.T) {
	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	e := NewEngine(nil, func() time.Time { return clock })

	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 100,
		PerAttemptMs:   50,
		MaxAttempts:    5,
	}, func(ctx context.Context, attempt int) (string, error) {
		// Each attempt consumes more than the total budget.
		clock = clock.Add(200 * time.Millisecond)
		return "", errors.New("slow")
	})
	assert.Equal(t, FailureTimeout, res.Failure)
	assert.Equal(t, "total", res.FailureWhere)
	assert.Equal(t, 1, res.Attempts)
}

func TestEngineProviderTimeoutClassified(t *testing.T) {
	e := NewEngine(nil, time.Now)
	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 5000,
		PerAttemptMs:   10,
		MaxAttempts:    1,
	}, func(ctx context.Context, attempt int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.Equal(t, FailureTimeout, res.Failure)
	assert.Equal(t, "provider", res.FailureWhere)
}

func TestEngineSafetyGateTerminal(t *testing.T) {
	e := NewEngine([]string{"forbidden phrase"}, time.Now)
	calls := 0
	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 5000,
		PerAttemptMs:   1000,
		MaxAttempts:    3,
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "this contains a Forbidden Phrase inside", nil
	})
	assert.Equal(t, FailureSafetyBlocked, res.Failure)
	assert.Equal(t, 1, calls)
}

func TestEngineQualityGateNonBlocking(t *testing.T) {
	e := NewEngine(nil, time.Now)
	res := e.Run(context.Background(), RunContext{
		TotalTimeoutMs: 5000,
		PerAttemptMs:   1000,
		MaxAttempts:    1,
	}, func(ctx context.Context, attempt int) (string, error) {
		return "short", nil
	})
	require.True(t, res.OK)
	assert.True(t, res.QualityFlag)
	assert.Equal(t, "short", res.Text)
}

func TestStaticProvider(t *testing.T) {
	p := &StaticProvider{Reply: "hello from the stub provider with enough words"}
	text, usage, err := p.Call(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Positive(t, usage.TotalTokens)
}
