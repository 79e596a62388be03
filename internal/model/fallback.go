package model

import (
	"strings"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/decision"
)

// Fallback renders the deterministic template response used whenever
// the model's reply failed verification or the pipeline cannot call
// the model at all. Bounded, neutral, reproducible.
func Fallback(s decision.State, cp decision.ControlPlan, op decision.OutputPlan) string {
	switch cp.Action {
	case decision.ActionAskOneQuestion:
		return fallbackQuestion(cp)
	case decision.ActionRefuse:
		return fallbackRefusal()
	case decision.ActionClose:
		if op.Closure != nil && op.Closure.Mode == decision.RenderSilence {
			return ""
		}
		return "Understood. Closing here."
	default:
		return fallbackAnswer(s, op)
	}
}

// fallbackAnswer is a short neutral sentence plus the disclosures the
// output plan requires, derived from the unknown markers.
func fallbackAnswer(s decision.State, op decision.OutputPlan) string {
	var b strings.Builder
	b.WriteString("Here is a careful starting point rather than a full answer.")

	if op.UnknownDisclosure == decision.DisclosureExplicit {
		for _, u := range s.UnknownZone {
			b.WriteString(" Unknown: ")
			b.WriteString(unknownPhrase(u))
			b.WriteString(".")
		}
	}
	if op.AssumptionSurfacing {
		b.WriteString(" Assumption: the decision has not been acted on yet.")
	}
	return b.String()
}

// unknownPhrase maps an unknown marker to neutral wording.
func unknownPhrase(u decision.UnknownSource) string {
	switch u {
	case decision.UnknownProximity:
		return "how soon this decision lands"
	case decision.UnknownRiskDomains:
		return "which risks dominate"
	case decision.UnknownReversibility:
		return "whether this can be undone"
	case decision.UnknownHorizon:
		return "how long the consequences run"
	case decision.UnknownResponsibility:
		return "who carries the consequences"
	default:
		return "what outcomes are in play"
	}
}

// fallbackQuestion is a single concise question: one "?", no " and ",
// at most 120 chars.
func fallbackQuestion(cp decision.ControlPlan) string {
	var q string
	switch cp.QuestionClass {
	case decision.QuestionStakesProbe:
		q = "What would it cost you if this went wrong?"
	case decision.QuestionScopeNarrowing:
		q = "Who else is affected by this decision?"
	default:
		q = "What is the one fact you are least sure about here?"
	}
	if len(q) > 120 {
		q = q[:119] + "?"
	}
	return q
}

// fallbackRefusal is a short bounded refusal in non-policy language:
// no "?", at most 220 chars.
func fallbackRefusal() string {
	text := "I can't help carry this one forward right now. " +
		"It reads as imminent and hard to undo, and that combination deserves a person, not a template. " +
		"If the situation changes, I'm glad to think it through with you."
	if len(text) > 220 {
		text = text[:220]
	}
	return text
}
