package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyImminentAlwaysHasUnknowns(t *testing.T) {
	inputs := []string{
		"I am about to sell my house right now",
		"Right now I will delete all production data, it's permanent",
		"I'm about to quit my job immediately, no going back, for decades",
	}
	for _, in := range inputs {
		s := Classify(in)
		require.Equal(t, ProximityImminent, s.Proximity, in)
		assert.NotEmpty(t, s.UnknownZone, "imminent state must carry unknowns: %q", in)
	}
}

func TestClassifyNeverEmptyRisksOrOutcomes(t *testing.T) {
	s := Classify("hello there")
	assert.NotEmpty(t, s.Risks)
	assert.NotEmpty(t, s.OutcomeClasses)
	assert.True(t, s.HasUnknown(UnknownRiskDomains))
}

func TestClassifyDetectsDomains(t *testing.T) {
	s := Classify("Should I invest my retirement savings in crypto this week?")
	assert.True(t, s.HasRisk(RiskFinancial))
	assert.Contains(t, s.OutcomeClasses, OutcomeFinancialLoss)
	assert.Equal(t, ProximityHigh, s.Proximity)
}

func TestClassifyTermination(t *testing.T) {
	assert.True(t, Classify("thanks, goodbye").TerminationIntent)
	assert.False(t, Classify("what should I do next").TerminationIntent)
}

func TestClassifyDeterministic(t *testing.T) {
	const in = "I'm planning to sue my doctor, permanent damage, my family is affected"
	first := Classify(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Classify(in))
	}
}

func TestControlPlanRefusesImminentIrreversibleCritical(t *testing.T) {
	s := Classify("I am about to do this dangerous surgery on myself right now, it is irreversible")
	require.Equal(t, ProximityImminent, s.Proximity)
	require.Equal(t, Irreversible, s.Reversibility)
	require.True(t, s.HasCriticalRisk())

	cp, err := BuildControlPlan("trace-1", s)
	require.NoError(t, err)
	assert.Equal(t, ActionRefuse, cp.Action)
	assert.Equal(t, FrictionStop, cp.Friction)
	assert.True(t, cp.RefusalRequired)
	assert.NotEqual(t, RefusalNone, cp.RefusalCategory)
}

func TestControlPlanQuestionBudgetCoupling(t *testing.T) {
	// High stakes with unknowns asks exactly one question.
	s := Classify("Should I sign this contract that is permanent? My family depends on it")
	cp, err := BuildControlPlan("trace-2", s)
	require.NoError(t, err)
	if cp.Action == ActionAskOneQuestion {
		assert.Equal(t, 1, cp.QuestionBudget)
	} else {
		assert.Zero(t, cp.QuestionBudget)
	}
}

func TestControlPlanCloseOnTermination(t *testing.T) {
	cp, err := BuildControlPlan("trace-3", Classify("that's all, goodbye"))
	require.NoError(t, err)
	assert.Equal(t, ActionClose, cp.Action)
	assert.Equal(t, ClosureClosing, cp.Closure)
	assert.False(t, cp.ClarificationRequired)
}

func TestControlPlanLowStakesAnswer(t *testing.T) {
	s := State{
		Proximity:      ProximityLow,
		Risks:          []RiskAssessment{{Domain: RiskEthical, Confidence: ConfidenceLow}},
		Reversibility:  ReversibleEasily,
		Horizon:        HorizonShort,
		Responsibility: SelfOnly,
		OutcomeClasses: []OutcomeClass{OutcomeGeneralSetback},
	}
	cp, err := BuildControlPlan("trace-4", s)
	require.NoError(t, err)
	assert.Equal(t, ActionAnswer, cp.Action)
	assert.Equal(t, RigorMinimal, cp.Rigor)
	assert.True(t, cp.InitiativeAllowed)
}

func TestStateIDStable(t *testing.T) {
	s := Classify("should I invest in stock for retirement")
	assert.Equal(t, StateID(s), StateID(s))
	assert.Len(t, StateID(s), 32)

	other := Classify("hello")
	assert.NotEqual(t, StateID(s), StateID(other))
}

func TestOutputPlanStopFriction(t *testing.T) {
	s := Classify("I am about to do this dangerous surgery on myself right now, it is irreversible")
	cp, err := BuildControlPlan("t", s)
	require.NoError(t, err)
	op, err := BuildOutputPlan(s, cp)
	require.NoError(t, err)

	assert.Equal(t, PostureConstrained, op.Posture)
	assert.Equal(t, VerbosityTerse, op.Verbosity)
	assert.Equal(t, DisclosureExplicit, op.UnknownDisclosure)
	require.NotNil(t, op.Refusal)
	assert.Equal(t, 220, op.Refusal.MaxChars)
}

func TestOutputPlanAskForbidsEnforced(t *testing.T) {
	cp := ControlPlan{
		Action:         ActionAskOneQuestion,
		Rigor:          RigorEnforced,
		QuestionBudget: 1,
		QuestionClass:  QuestionMissingFact,
	}
	_, err := BuildOutputPlan(State{}, cp)
	require.Error(t, err)
	var iv *InvariantViolation
	assert.ErrorAs(t, err, &iv)
}

func TestOutputPlanQuestionSpec(t *testing.T) {
	s := Classify("Tomorrow I will sell my house and move abroad")
	require.NotEmpty(t, s.UnknownZone)
	require.True(t, s.HighStakes())
	cp, err := BuildControlPlan("t", s)
	require.NoError(t, err)
	require.Equal(t, ActionAskOneQuestion, cp.Action)
	op, err := BuildOutputPlan(s, cp)
	require.NoError(t, err)
	require.NotNil(t, op.Question)
	assert.Equal(t, 120, op.Question.MaxChars)
	assert.NotEqual(t, VerbosityDetailed, op.Verbosity)
}

func TestOutputPlanUnknownCoupling(t *testing.T) {
	s := Classify("thinking about changing careers")
	require.NotEmpty(t, s.UnknownZone)
	cp, err := BuildControlPlan("t", s)
	require.NoError(t, err)
	op, err := BuildOutputPlan(s, cp)
	require.NoError(t, err)
	assert.True(t, op.AssumptionSurfacing)
	assert.NotEqual(t, DisclosureNone, op.UnknownDisclosure)
}
