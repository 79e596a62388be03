package decision

// Posture is the overall stance of the rendered text.
type Posture string

const (
	PostureBaseline    Posture = "BASELINE"
	PostureGuarded     Posture = "GUARDED"
	PostureConstrained Posture = "CONSTRAINED"
)

// VerbosityCap bounds how long the rendered text may be.
type VerbosityCap string

const (
	VerbosityTerse    VerbosityCap = "TERSE"
	VerbosityNormal   VerbosityCap = "NORMAL"
	VerbosityDetailed VerbosityCap = "DETAILED"
)

// DisclosureMode grades how explicitly limits are surfaced.
type DisclosureMode string

const (
	DisclosureNone     DisclosureMode = "NONE"
	DisclosureImplicit DisclosureMode = "IMPLICIT"
	DisclosureExplicit DisclosureMode = "EXPLICIT"
)

// RenderingMode for closures.
type RenderingMode string

const (
	RenderAcknowledge RenderingMode = "ACKNOWLEDGE"
	RenderSilence     RenderingMode = "SILENCE"
)

// QuestionSpec constrains a clarification question.
type QuestionSpec struct {
	Class    QuestionClass
	MaxChars int
}

// RefusalSpec constrains a refusal.
type RefusalSpec struct {
	Category RefusalCategory
	MaxChars int
}

// ClosureSpec constrains a close.
type ClosureSpec struct {
	Mode RenderingMode
}

// OutputPlan is the internal decision about what shape the text must
// have. Construction is fail-closed: invalid combinations surface as
// InvariantViolation, never as a silently invalid plan.
type OutputPlan struct {
	Posture             Posture
	RigorDisclosure     RigorLevel
	ConfidenceSignaling bool
	AssumptionSurfacing bool
	UnknownDisclosure   DisclosureMode
	Verbosity           VerbosityCap
	Question            *QuestionSpec
	Refusal             *RefusalSpec
	Closure             *ClosureSpec
}

// InvariantViolation reports an invalid output-plan combination. The
// orchestrator maps it to a sanitized internal error.
type InvariantViolation struct {
	Rule string
}

func (e *InvariantViolation) Error() string {
	return "output plan invariant violated: " + e.Rule
}

// BuildOutputPlan derives the output plan from the decision state and
// control plan. Rules apply in order: hard overrides, unknown
// coupling, high-stakes escalation, action compatibility.
func BuildOutputPlan(s State, cp ControlPlan) (OutputPlan, error) {
	op := OutputPlan{
		Posture:             PostureBaseline,
		RigorDisclosure:     cp.Rigor,
		ConfidenceSignaling: cp.ConfidenceSignaling,
		Verbosity:           VerbosityNormal,
		UnknownDisclosure:   DisclosureNone,
	}

	// Hard overrides.
	if cp.Friction == FrictionStop {
		op.Posture = PostureConstrained
		op.Verbosity = VerbosityTerse
		op.UnknownDisclosure = DisclosureExplicit
	}
	if cp.Rigor == RigorEnforced && op.UnknownDisclosure == DisclosureNone {
		op.UnknownDisclosure = DisclosureImplicit
	}

	// Unknown coupling.
	if len(s.UnknownZone) > 0 {
		op.AssumptionSurfacing = true
		if op.UnknownDisclosure == DisclosureNone {
			op.UnknownDisclosure = DisclosureImplicit
		}
		if cp.UnknownDisclosureLevel >= 2 {
			op.UnknownDisclosure = DisclosureExplicit
		}
	}

	// High-stakes escalation.
	if s.HighStakes() && op.Posture == PostureBaseline {
		op.Posture = PostureGuarded
		op.ConfidenceSignaling = true
	}

	// Action compatibility.
	switch cp.Action {
	case ActionAskOneQuestion:
		if cp.Rigor == RigorEnforced {
			return OutputPlan{}, &InvariantViolation{Rule: "ASK_ONE_QUESTION forbids ENFORCED rigor"}
		}
		if op.Verbosity == VerbosityDetailed {
			op.Verbosity = VerbosityNormal
		}
		op.Question = &QuestionSpec{Class: cp.QuestionClass, MaxChars: 120}
	case ActionRefuse:
		op.Posture = PostureConstrained
		if op.Verbosity == VerbosityDetailed {
			op.Verbosity = VerbosityNormal
		}
		op.Refusal = &RefusalSpec{Category: cp.RefusalCategory, MaxChars: 220}
	case ActionClose:
		mode := RenderAcknowledge
		if cp.Friction == FrictionStop {
			mode = RenderSilence
		}
		op.Closure = &ClosureSpec{Mode: mode}
	case ActionAnswer:
		if cp.Rigor == RigorMinimal && len(s.UnknownZone) == 0 {
			op.Verbosity = VerbosityDetailed
		}
	}

	if err := op.validate(cp); err != nil {
		return OutputPlan{}, err
	}
	return op, nil
}

// validate rejects plans that violate cross-field invariants.
func (op *OutputPlan) validate(cp ControlPlan) error {
	if cp.Action == ActionRefuse && op.Posture != PostureConstrained {
		return &InvariantViolation{Rule: "REFUSE requires CONSTRAINED posture"}
	}
	if cp.Action == ActionClose && op.Question != nil {
		return &InvariantViolation{Rule: "CLOSE forbids questions"}
	}
	if cp.Action == ActionAskOneQuestion && op.Question == nil {
		return &InvariantViolation{Rule: "ASK_ONE_QUESTION requires a question spec"}
	}
	if op.Refusal != nil && op.Verbosity == VerbosityDetailed {
		return &InvariantViolation{Rule: "refusals may not be DETAILED"}
	}
	if op.Question != nil && op.Verbosity == VerbosityDetailed {
		return &InvariantViolation{Rule: "questions may not be DETAILED"}
	}
	return nil
}
