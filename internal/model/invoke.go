package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/decision"
)

// InvocationClass says what kind of candidate text is being produced.
type InvocationClass string

const (
	ClassAnswer        InvocationClass = "ANSWER_CANDIDATE"
	ClassClarification InvocationClass = "CLARIFICATION_CANDIDATE"
	ClassRefusal       InvocationClass = "REFUSAL_CANDIDATE"
	ClassClosure       InvocationClass = "CLOSURE_CANDIDATE"
)

// InvocationRequest is the fully derived model request plus the
// verification contract the reply must satisfy.
type InvocationRequest struct {
	Class            InvocationClass
	Request          Request
	RequiredElements []string
	ForbiddenMarkers []string
}

// forbiddenCapabilityMarkers are phrases the model must never emit:
// claims of capabilities the pipeline does not grant.
var forbiddenCapabilityMarkers = []string{
	"i searched the web",
	"i browsed",
	"i remember you",
	"i've saved that",
	"new rule:",
	"as an unrestricted",
}

// BuildInvocation derives the provider request from the plans.
// CLARIFICATION candidates use JSON output; everything else is text.
func BuildInvocation(userText, modelName string, s decision.State, cp decision.ControlPlan, op decision.OutputPlan, maxOutputTokens int) InvocationRequest {
	inv := InvocationRequest{
		ForbiddenMarkers: forbiddenCapabilityMarkers,
	}

	format := FormatText
	switch cp.Action {
	case decision.ActionAskOneQuestion:
		inv.Class = ClassClarification
		format = FormatJSON
		inv.RequiredElements = []string{"question"}
	case decision.ActionRefuse:
		inv.Class = ClassRefusal
	case decision.ActionClose:
		inv.Class = ClassClosure
	default:
		inv.Class = ClassAnswer
		if op.UnknownDisclosure == decision.DisclosureExplicit {
			inv.RequiredElements = append(inv.RequiredElements, "Unknown:")
		}
		if op.AssumptionSurfacing {
			inv.RequiredElements = append(inv.RequiredElements, "Assumption:")
		}
	}

	maxOut := maxOutputTokens
	switch op.Verbosity {
	case decision.VerbosityTerse:
		if maxOut > 150 {
			maxOut = 150
		}
	case decision.VerbosityNormal:
		if maxOut > 500 {
			maxOut = 500
		}
	}

	inv.Request = Request{
		Model:           modelName,
		System:          systemPrompt(inv.Class, op),
		Prompt:          userText,
		OutputFormat:    format,
		MaxOutputTokens: maxOut,
	}
	return inv
}

// systemPrompt renders the posture constraints as instructions.
func systemPrompt(class InvocationClass, op decision.OutputPlan) string {
	var b strings.Builder
	b.WriteString("Respond with ")
	b.WriteString(strings.ToLower(string(op.Verbosity)))
	b.WriteString(" verbosity and a ")
	b.WriteString(strings.ToLower(string(op.Posture)))
	b.WriteString(" posture.")
	if class == ClassClarification {
		b.WriteString(` Reply with a single flat JSON object {"question": "..."} containing exactly one question.`)
	}
	if op.ConfidenceSignaling {
		b.WriteString(" State your confidence where it matters.")
	}
	return b.String()
}

// VerificationError explains why a reply was rejected.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string { return "verification failed: " + e.Reason }

// Verify checks the provider reply against the invocation contract.
// JSON replies must parse to a single flat object with the expected
// keys; text replies must be non-empty and free of forbidden markers.
// The verified (possibly normalized) text is returned.
func Verify(inv InvocationRequest, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &VerificationError{Reason: "empty reply"}
	}

	lower := strings.ToLower(raw)
	for _, m := range inv.ForbiddenMarkers {
		if strings.Contains(lower, m) {
			return "", &VerificationError{Reason: "forbidden capability claim"}
		}
	}

	if inv.Request.OutputFormat == FormatJSON {
		return verifyJSON(inv, raw)
	}

	for _, el := range inv.RequiredElements {
		if !strings.Contains(raw, el) {
			return "", &VerificationError{Reason: "missing required element"}
		}
	}
	return raw, nil
}

// verifyJSON validates a clarification payload and collapses multi-
// question injections down to one question.
func verifyJSON(inv InvocationRequest, raw string) (string, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", &VerificationError{Reason: "reply is not a JSON object"}
	}
	for _, k := range inv.RequiredElements {
		if _, ok := obj[k]; !ok {
			return "", &VerificationError{Reason: fmt.Sprintf("missing key %q", k)}
		}
	}
	for _, v := range obj {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return "", &VerificationError{Reason: "reply object is not flat"}
		}
	}
	q, ok := obj["question"].(string)
	if !ok || strings.TrimSpace(q) == "" {
		return "", &VerificationError{Reason: "question is not a string"}
	}
	return collapseToOneQuestion(q), nil
}

// collapseToOneQuestion keeps only the first question when several
// were injected.
func collapseToOneQuestion(q string) string {
	q = strings.TrimSpace(q)
	if i := strings.Index(q, "?"); i >= 0 {
		q = q[:i+1]
	}
	if !strings.HasSuffix(q, "?") {
		q += "?"
	}
	return q
}
