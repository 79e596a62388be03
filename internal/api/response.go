// Package api is the request boundary: the orchestrator handler that
// composes the pipeline stages in fixed order, the public response
// contract, and the header policy.
package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// ChatAction is the public response verb.
type ChatAction string

const (
	ActionAnswer   ChatAction = "ANSWER"
	ActionAsk      ChatAction = "ASK_ONE_QUESTION"
	ActionRefuse   ChatAction = "REFUSE"
	ActionClose    ChatAction = "CLOSE"
	ActionFallback ChatAction = "FALLBACK"
)

// FailureType is the closed public failure taxonomy.
type FailureType string

const (
	FailureSchemaInvalid   FailureType = "REQUEST_SCHEMA_INVALID"
	FailureTooLarge        FailureType = "REQUEST_TOO_LARGE"
	FailureEmptyInput      FailureType = "EMPTY_INPUT"
	FailureModelFallback   FailureType = "MODEL_FAILED_FALLBACK_USED"
	FailurePipelineAborted FailureType = "GOVERNED_PIPELINE_ABORTED"
	FailureInternal        FailureType = "INTERNAL_ERROR_SANITIZED"
	FailureTimeout         FailureType = "TIMEOUT"
)

// ChatResponse is the only body shape /api/chat ever returns. The
// four keys are always present; failure fields are null on success.
type ChatResponse struct {
	Action        ChatAction   `json:"action"`
	RenderedText  string       `json:"rendered_text"`
	FailureType   *FailureType `json:"failure_type"`
	FailureReason *string      `json:"failure_reason"`
}

const maxReasonChars = 200

// Patterns that must never appear in a public reason: paths, stack
// frames, connection strings, internal hashes.
var reasonScrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(/[\w.\-]+){2,}`),
	regexp.MustCompile(`(?i)goroutine\s+\d+`),
	regexp.MustCompile(`(?i)(postgres|redis)://\S+`),
	regexp.MustCompile(`\b[0-9a-f]{32,}\b`),
}

// sanitizeReason bounds and scrubs a failure reason for the public
// surface.
func sanitizeReason(reason string) string {
	r := strings.TrimSpace(reason)
	for _, p := range reasonScrubPatterns {
		r = p.ReplaceAllString(r, "[redacted]")
	}
	if len(r) > maxReasonChars {
		r = r[:maxReasonChars]
	}
	return r
}

// success builds a non-failure response.
func success(action ChatAction, text string) ChatResponse {
	return ChatResponse{Action: action, RenderedText: text}
}

// failure builds a failure response with a sanitized reason.
func failure(action ChatAction, ft FailureType, text, reason string) ChatResponse {
	r := sanitizeReason(reason)
	return ChatResponse{
		Action:        action,
		RenderedText:  text,
		FailureType:   &ft,
		FailureReason: &r,
	}
}

// Bounded neutral templates for structured denials.
const (
	textSchemaReject = "The request body is not in the expected shape, so it was not processed."
	textTooLarge     = "The request is larger than this endpoint accepts, so it was not processed."
	textEmptyInput   = "There was no text to work with after trimming the input."
	textRateLimited  = "Requests are arriving too quickly. Please wait before trying again."
	textQuotaOver    = "Today's usage allowance for this plan has been reached. It resets at midnight UTC."
	textBlocked      = "This request was declined by the admission checks."
	textDegraded     = "The model is temporarily unavailable. A reduced response was produced instead."
	textInternal     = "Something went wrong while handling this request. Nothing was processed."
)

// writeChat serializes the response with the status and the already
// prepared headers.
func writeChat(w http.ResponseWriter, status int, resp ChatResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
