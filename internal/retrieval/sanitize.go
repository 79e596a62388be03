package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// InjectionKind classifies a sanitized pattern.
type InjectionKind string

const (
	InjectionOverride   InjectionKind = "INSTRUCTION_OVERRIDE"
	InjectionCredential InjectionKind = "CREDENTIAL_PROBE"
	InjectionExecution  InjectionKind = "EXECUTION_REQUEST"
	InjectionHidden     InjectionKind = "HIDDEN_CONTENT"
	InjectionBypass     InjectionKind = "POLICY_BYPASS"
	InjectionEncoded    InjectionKind = "ENCODED_PAYLOAD"
)

// SanitizeEvent records one neutralized pattern. Only structure is
// kept; the matched text never leaves this package.
type SanitizeEvent struct {
	SourceID     string        `json:"source_id"`
	SnippetIndex int           `json:"snippet_index"`
	Kind         InjectionKind `json:"kind"`
	Offset       int           `json:"offset"`
	Length       int           `json:"length"`
	Signature    string        `json:"signature"`
}

type injectionRule struct {
	kind InjectionKind
	re   *regexp.Regexp
}

var injectionRules = []injectionRule{
	{InjectionOverride, regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+instructions`)},
	{InjectionOverride, regexp.MustCompile(`(?i)you\s+are\s+now\s+(an?\s+)?\w+`)},
	{InjectionOverride, regexp.MustCompile(`(?i)new\s+(rule|instruction|directive)\s*:`)},
	{InjectionOverride, regexp.MustCompile(`(?i)system\s*prompt\s*:`)},
	{InjectionCredential, regexp.MustCompile(`(?i)(reveal|print|send|share)\s+(your\s+)?(api[\s_-]?key|token|password|secret|credential)s?`)},
	{InjectionExecution, regexp.MustCompile(`(?i)(run|execute|eval)\s+(this\s+)?(command|script|code|shell)`)},
	{InjectionHidden, regexp.MustCompile(`<!--[\s\S]*?-->`)},
	{InjectionHidden, regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}]+`)},
	{InjectionBypass, regexp.MustCompile(`(?i)(bypass|disable|turn\s+off)\s+(the\s+)?(safety|filter|guard|moderation|polic(y|ies))`)},
	{InjectionBypass, regexp.MustCompile(`(?i)do\s+anything\s+now`)},
	{InjectionEncoded, regexp.MustCompile(`(?i)(decode|base64)\s*[:(]\s*[A-Za-z0-9+/=]{24,}`)},
}

const neutralized = "[removed]"

const sanitizerVersion = "v1"

// passSignature hashes the structural shape of one sanitization pass:
// the flagged kinds, removed segment and char counts, input and output
// lengths, excerpt count and rule version. No matched text enters the
// hash, so identical injection shapes correlate across requests.
func passSignature(flags []InjectionKind, segments, removedChars, inputLen, outputLen, excerptCount int) string {
	kinds := make([]string, 0, len(flags))
	for _, f := range flags {
		kinds = append(kinds, string(f))
	}
	sort.Strings(kinds)
	tuple := fmt.Sprintf("%s|%d|%d|%d|%d|%d|%s",
		strings.Join(kinds, ","), segments, removedChars, inputLen, outputLen, excerptCount, sanitizerVersion)
	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:16])
}

// SanitizeBundle neutralizes injection patterns in every snippet and
// the title, returning the events in deterministic order (snippet
// index, then offset). The bundle is modified in place.
func SanitizeBundle(b *SourceBundle) []SanitizeEvent {
	var events []SanitizeEvent

	clean, evs := sanitizeText(b.SourceID, -1, b.Title, len(b.Snippets))
	b.Title = clean
	events = append(events, evs...)

	for i := range b.Snippets {
		clean, evs := sanitizeText(b.SourceID, i, b.Snippets[i].Text, len(b.Snippets))
		b.Snippets[i].Text = clean
		events = append(events, evs...)
	}
	return events
}

// sanitizeText applies the rules in declared order, rescanning after
// each replacement so nested payloads cannot survive. Every event of
// one pass carries the same structural signature.
func sanitizeText(sourceID string, snippetIndex int, text string, excerptCount int) (string, []SanitizeEvent) {
	inputLen := len(text)
	removedChars := 0
	var flags []InjectionKind
	flagged := make(map[InjectionKind]bool)

	var events []SanitizeEvent
	for _, rule := range injectionRules {
		for {
			loc := rule.re.FindStringIndex(text)
			if loc == nil {
				break
			}
			removedChars += loc[1] - loc[0]
			if !flagged[rule.kind] {
				flagged[rule.kind] = true
				flags = append(flags, rule.kind)
			}
			events = append(events, SanitizeEvent{
				SourceID:     sourceID,
				SnippetIndex: snippetIndex,
				Kind:         rule.kind,
				Offset:       loc[0],
				Length:       loc[1] - loc[0],
			})
			text = text[:loc[0]] + neutralized + text[loc[1]:]
		}
	}

	if len(events) > 0 {
		sig := passSignature(flags, len(events), removedChars, inputLen, len(text), excerptCount)
		for i := range events {
			events[i].Signature = sig
		}
	}
	return text, events
}

// SanitizeAll cleans every bundle and returns a flat event list.
func SanitizeAll(bundles []SourceBundle) []SanitizeEvent {
	var all []SanitizeEvent
	for i := range bundles {
		all = append(all, SanitizeBundle(&bundles[i])...)
	}
	return all
}

// DescribeEvent renders a structure-only log line for an event.
func DescribeEvent(e SanitizeEvent) string {
	where := "title"
	if e.SnippetIndex >= 0 {
		where = fmt.Sprintf("snippet[%d]", e.SnippetIndex)
	}
	return fmt.Sprintf("%s %s at %d len=%d sig=%s", e.Kind, where, e.Offset, e.Length, e.Signature)
}

// ContainsResidualInjection is a post-sanitization check used by tests
// and the policy chokepoint as a second line of defense.
func ContainsResidualInjection(text string) bool {
	for _, rule := range injectionRules {
		if rule.re.MatchString(strings.ReplaceAll(text, neutralized, "")) {
			return true
		}
	}
	return false
}
