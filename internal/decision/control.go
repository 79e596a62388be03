package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Action is the response verb the pipeline commits to.
type Action string

const (
	ActionAnswer         Action = "ANSWER"
	ActionAskOneQuestion Action = "ASK_ONE_QUESTION"
	ActionRefuse         Action = "REFUSE"
	ActionClose          Action = "CLOSE"
	ActionAbort          Action = "ABORT"
)

// RigorLevel is how carefully the answer must be framed.
type RigorLevel string

const (
	RigorMinimal    RigorLevel = "MINIMAL"
	RigorGuarded    RigorLevel = "GUARDED"
	RigorStructured RigorLevel = "STRUCTURED"
	RigorEnforced   RigorLevel = "ENFORCED"
)

// Friction is how much the response should slow the user down.
type Friction string

const (
	FrictionNone      Friction = "NONE"
	FrictionSoftPause Friction = "SOFT_PAUSE"
	FrictionHardPause Friction = "HARD_PAUSE"
	FrictionStop      Friction = "STOP"
)

// QuestionClass names what a clarification question is for.
type QuestionClass string

const (
	QuestionMissingFact    QuestionClass = "MISSING_FACT"
	QuestionStakesProbe    QuestionClass = "STAKES_PROBE"
	QuestionScopeNarrowing QuestionClass = "SCOPE_NARROWING"
)

// RefusalCategory names why a refusal is required.
type RefusalCategory string

const (
	RefusalNone       RefusalCategory = "NONE"
	RefusalRisk       RefusalCategory = "RISK_REFUSAL"
	RefusalCapability RefusalCategory = "CAPABILITY_REFUSAL"
)

// ClosureState tracks conversation closing.
type ClosureState string

const (
	ClosureOpen    ClosureState = "OPEN"
	ClosureClosing ClosureState = "CLOSING"
)

// ControlPlan is the internal decision about how to respond, made
// before any text exists.
type ControlPlan struct {
	ID                     string
	Action                 Action
	Rigor                  RigorLevel
	Friction               Friction
	ClarificationRequired  bool
	ClarificationReason    string
	QuestionBudget         int // 0 or 1
	QuestionClass          QuestionClass
	ConfidenceSignaling    bool
	UnknownDisclosureLevel int
	InitiativeAllowed      bool
	InitiativeBudget       int
	Closure                ClosureState
	RefusalRequired        bool
	RefusalCategory        RefusalCategory
}

// StateID deterministically fingerprints a decision state.
func StateID(s State) string {
	var b strings.Builder
	b.WriteString(string(s.Proximity))
	b.WriteByte('|')
	for _, r := range s.Risks {
		b.WriteString(string(r.Domain))
		b.WriteByte(':')
		b.WriteString(string(r.Confidence))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(string(s.Reversibility))
	b.WriteByte('|')
	b.WriteString(string(s.Horizon))
	b.WriteByte('|')
	b.WriteString(string(s.Responsibility))
	b.WriteByte('|')
	for _, o := range s.OutcomeClasses {
		b.WriteString(string(o))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	for _, u := range s.UnknownZone {
		b.WriteString(string(u))
		b.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// planID derives the control plan id from the trace, state and action.
func planID(traceID, stateID string, action Action) string {
	sum := sha256.Sum256([]byte(traceID + "|" + stateID + "|" + string(action)))
	return hex.EncodeToString(sum[:16])
}

// BuildControlPlan applies the fixed decision table. Rules are ordered;
// the first matching rule decides the action.
func BuildControlPlan(traceID string, s State) (ControlPlan, error) {
	stateID := StateID(s)
	cp := ControlPlan{
		Closure:         ClosureOpen,
		RefusalCategory: RefusalNone,
	}

	switch {
	case s.Proximity == ProximityImminent && s.Reversibility == Irreversible && s.HasCriticalRisk():
		cp.Action = ActionRefuse
		cp.Rigor = RigorEnforced
		cp.Friction = FrictionStop
		cp.RefusalRequired = true
		cp.RefusalCategory = RefusalRisk
		cp.ConfidenceSignaling = true
		cp.UnknownDisclosureLevel = 2

	case s.TerminationIntent:
		cp.Action = ActionClose
		cp.Rigor = RigorMinimal
		cp.Friction = FrictionNone
		cp.Closure = ClosureClosing

	case len(s.UnknownZone) > 0 && s.HighStakes():
		cp.Action = ActionAskOneQuestion
		cp.Rigor = RigorStructured
		cp.Friction = FrictionSoftPause
		cp.ClarificationRequired = true
		cp.ClarificationReason = "high-stakes decision with explicit unknowns"
		cp.QuestionBudget = 1
		cp.QuestionClass = classifyQuestion(s)
		cp.ConfidenceSignaling = true
		cp.UnknownDisclosureLevel = 2

	case len(s.UnknownZone) == 0 && !s.HighStakes():
		cp.Action = ActionAnswer
		cp.Rigor = RigorMinimal
		cp.Friction = FrictionNone
		cp.InitiativeAllowed = true
		cp.InitiativeBudget = 1

	default:
		cp.Action = ActionAnswer
		cp.Rigor = rigorLadder(s)
		cp.Friction = frictionFor(cp.Rigor)
		cp.ConfidenceSignaling = cp.Rigor != RigorMinimal
		cp.UnknownDisclosureLevel = len(s.UnknownZone)
		if cp.UnknownDisclosureLevel > 2 {
			cp.UnknownDisclosureLevel = 2
		}
	}

	cp.ID = planID(traceID, stateID, cp.Action)
	if err := cp.validate(); err != nil {
		return ControlPlan{}, err
	}
	return cp, nil
}

// rigorLadder maps proximity and responsibility scope to rigor.
func rigorLadder(s State) RigorLevel {
	switch {
	case s.Proximity == ProximityImminent || s.Responsibility == SystemicPublic:
		return RigorEnforced
	case s.Proximity == ProximityHigh || s.Responsibility == ThirdParty:
		return RigorStructured
	case s.Proximity == ProximityMedium || s.Responsibility == Shared:
		return RigorGuarded
	default:
		return RigorMinimal
	}
}

func frictionFor(r RigorLevel) Friction {
	switch r {
	case RigorEnforced:
		return FrictionHardPause
	case RigorStructured:
		return FrictionSoftPause
	default:
		return FrictionNone
	}
}

// classifyQuestion picks the clarification class from the dominant
// unknown axis.
func classifyQuestion(s State) QuestionClass {
	if s.HasUnknown(UnknownReversibility) || s.HasUnknown(UnknownOutcomeClasses) {
		return QuestionStakesProbe
	}
	if s.HasUnknown(UnknownResponsibility) || s.HasUnknown(UnknownHorizon) {
		return QuestionScopeNarrowing
	}
	return QuestionMissingFact
}

// validate enforces the construction invariants.
func (cp *ControlPlan) validate() error {
	if (cp.Action == ActionAskOneQuestion) != (cp.QuestionBudget == 1) {
		return fmt.Errorf("control plan: ASK_ONE_QUESTION requires question budget 1, got action=%s budget=%d", cp.Action, cp.QuestionBudget)
	}
	if cp.Action == ActionClose && cp.ClarificationRequired {
		return fmt.Errorf("control plan: CLOSE forbids clarification")
	}
	if cp.Action == ActionRefuse && (!cp.RefusalRequired || cp.RefusalCategory == RefusalNone) {
		return fmt.Errorf("control plan: REFUSE requires a refusal category")
	}
	if cp.Action == ActionAnswer && cp.RefusalRequired {
		return fmt.Errorf("control plan: ANSWER forbids refusal_required")
	}
	return nil
}
