package memory

import "regexp"

// RejectReason is the closed set of safety-filter verdicts, listed in
// priority order. When several rules match across a request, the
// highest-priority reason is reported.
type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectCredential   RejectReason = "CREDENTIAL_MATERIAL"
	RejectFinancial    RejectReason = "FINANCIAL_IDENTIFIER"
	RejectGovernmentID RejectReason = "GOVERNMENT_ID"
	RejectContact      RejectReason = "CONTACT_DETAIL"
	RejectThirdParty   RejectReason = "THIRD_PARTY_FACT"
)

type filterRule struct {
	reason RejectReason
	re     *regexp.Regexp
}

// Rules run in declaration order, which is also priority order.
var filterRules = []filterRule{
	{RejectCredential, regexp.MustCompile(`(?i)\b(password|passphrase|api[\s_-]?key|secret[\s_-]?key|private[\s_-]?key|bearer\s+token)\b`)},
	{RejectCredential, regexp.MustCompile(`(?i)\bsk-[A-Za-z0-9]{16,}\b`)},
	{RejectFinancial, regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)},
	{RejectFinancial, regexp.MustCompile(`(?i)\biban\b|\brouting\s+number\b`)},
	{RejectGovernmentID, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{RejectGovernmentID, regexp.MustCompile(`(?i)\b(ssn|passport\s+number|national\s+id)\b`)},
	{RejectContact, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{RejectContact, regexp.MustCompile(`(?i)\bhome\s+address\b`)},
	{RejectThirdParty, regexp.MustCompile(`(?i)\bmy\s+(boss|coworker|colleague|neighbor|ex)\b.*\b(is|has|was)\b`)},
}

var reasonPriority = map[RejectReason]int{
	RejectCredential:   0,
	RejectFinancial:    1,
	RejectGovernmentID: 2,
	RejectContact:      3,
	RejectThirdParty:   4,
}

// Filter scans every text carrier of every fact in a write request.
// One bad fact rejects the whole request; the reported reason is the
// highest-priority match across all facts, which keeps the verdict
// independent of fact order.
func Filter(facts []Fact) RejectReason {
	best := RejectNone
	for _, f := range facts {
		for _, carrier := range textCarriers(f) {
			for _, rule := range filterRules {
				if rule.re.MatchString(carrier) {
					if best == RejectNone || reasonPriority[rule.reason] < reasonPriority[best] {
						best = rule.reason
					}
					break
				}
			}
		}
	}
	return best
}
