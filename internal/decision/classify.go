package decision

import (
	"strings"
)

// keywordRule maps any of its markers to a value with a confidence.
type keywordRule[T comparable] struct {
	markers    []string
	value      T
	confidence Confidence
}

func firstMatch[T comparable](text string, rules []keywordRule[T], def T) (T, Confidence, bool) {
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(text, m) {
				return r.value, r.confidence, true
			}
		}
	}
	return def, ConfidenceLow, false
}

var proximityRules = []keywordRule[Proximity]{
	{[]string{"right now", "about to", "today i will", "tonight i will", "in the next hour", "immediately"}, ProximityImminent, ConfidenceHigh},
	{[]string{"this week", "tomorrow", "in a few days", "very soon"}, ProximityHigh, ConfidenceMedium},
	{[]string{"this month", "soon", "in a few weeks", "planning to"}, ProximityMedium, ConfidenceMedium},
	{[]string{"someday", "eventually", "thinking about", "considering", "wondering if"}, ProximityLow, ConfidenceMedium},
	{[]string{"hypothetically", "in theory", "curious", "what if"}, ProximityVeryLow, ConfidenceMedium},
}

var riskRules = []keywordRule[RiskDomain]{
	{[]string{"invest", "savings", "mortgage", "loan", "salary", "money", "retirement", "crypto", "stock"}, RiskFinancial, ConfidenceHigh},
	{[]string{"contract", "lawsuit", "sue", "lawyer", "court", "visa", "immigration", "divorce"}, RiskLegal, ConfidenceHigh},
	{[]string{"gray area", "grey area", "loophole", "technically legal", "without telling the irs"}, RiskLegalGrayZone, ConfidenceMedium},
	{[]string{"diagnos", "medication", "surgery", "doctor", "symptom", "treatment", "dosage", "diabetes"}, RiskMedical, ConfidenceHigh},
	{[]string{"climbing without", "free solo", "skydiv", "drive after drinking", "weapon", "dangerous"}, RiskPhysicalSafety, ConfidenceHigh},
	{[]string{"depress", "anxiety", "panic", "burnout", "therapy", "lonely", "grief"}, RiskPsychological, ConfidenceMedium},
	{[]string{"lie to", "cheat", "deceive", "cover up", "is it wrong", "morally"}, RiskEthical, ConfidenceMedium},
	{[]string{"reputation", "public apology", "go viral", "embarrass", "expose me"}, RiskReputational, ConfidenceMedium},
	{[]string{"production", "migration", "deploy", "outage", "database", "shut down the", "delete all"}, RiskOperational, ConfidenceHigh},
	{[]string{"end my life", "kill myself", "hurt myself", "self-harm", "never recover", "ruin my life forever"}, RiskIrreversibleHarm, ConfidenceHigh},
}

var reversibilityRules = []keywordRule[Reversibility]{
	{[]string{"permanent", "irreversible", "no going back", "can't undo", "cannot undo", "forever", "one-way"}, Irreversible, ConfidenceHigh},
	{[]string{"hard to undo", "expensive to reverse", "penalty", "burn bridges", "quit my job", "sell my house"}, ReversibleCostly, ConfidenceMedium},
	{[]string{"can always", "easily switch", "trial", "refundable", "reversible", "undo"}, ReversibleEasily, ConfidenceMedium},
}

var horizonRules = []keywordRule[Horizon]{
	{[]string{"for decades", "rest of my life", "long term", "long-term", "retirement", "10 years", "twenty years"}, HorizonLong, ConfidenceMedium},
	{[]string{"next year", "few months", "medium term", "this year"}, HorizonMedium, ConfidenceMedium},
	{[]string{"today", "this week", "short term", "short-term", "right away"}, HorizonShort, ConfidenceMedium},
}

var responsibilityRules = []keywordRule[Responsibility]{
	{[]string{"the public", "everyone", "our users", "the whole company", "the community", "thousands of"}, SystemicPublic, ConfidenceMedium},
	{[]string{"my team", "my family", "my kids", "my partner", "my patients", "my clients", "someone else", "my employee"}, ThirdParty, ConfidenceMedium},
	{[]string{"we are", "we're deciding", "together with", "my cofounder", "both of us"}, Shared, ConfidenceMedium},
	{[]string{"just me", "only me", "only affects me", "my own"}, SelfOnly, ConfidenceMedium},
}

var terminationMarkers = []string{"goodbye", "that's all", "we're done here", "end this conversation", "no more questions, thanks"}

// riskOutcome maps a detected risk domain to its default outcome class.
var riskOutcome = map[RiskDomain]OutcomeClass{
	RiskFinancial:        OutcomeFinancialLoss,
	RiskLegal:            OutcomeLegalExposure,
	RiskLegalGrayZone:    OutcomeLegalExposure,
	RiskMedical:          OutcomeHealthImpact,
	RiskPhysicalSafety:   OutcomeSafetyIncident,
	RiskPsychological:    OutcomeEmotionalHarm,
	RiskEthical:          OutcomeTrustDamage,
	RiskReputational:     OutcomeTrustDamage,
	RiskOperational:      OutcomeServiceOutage,
	RiskIrreversibleHarm: OutcomeSafetyIncident,
}

// Classify derives the full decision state from the user text. The
// classification is keyword-table driven and fully deterministic.
func Classify(userText string) State {
	text := strings.ToLower(userText)
	s := State{}

	var unknown []UnknownSource
	mark := func(src UnknownSource) {
		for _, u := range unknown {
			if u == src {
				return
			}
		}
		unknown = append(unknown, src)
	}

	// Proximity
	prox, _, hit := firstMatch(text, proximityRules, ProximityUnknown)
	s.Proximity = prox
	if !hit {
		s.Proximity = ProximityUnknown
		mark(UnknownProximity)
	}

	// Risk domains: collect every matching rule, first hit per domain.
	seen := map[RiskDomain]bool{}
	for _, r := range riskRules {
		if seen[r.value] || len(s.Risks) >= maxRiskAssessments {
			continue
		}
		for _, m := range r.markers {
			if strings.Contains(text, m) {
				s.Risks = append(s.Risks, RiskAssessment{Domain: r.value, Confidence: r.confidence})
				seen[r.value] = true
				break
			}
		}
	}
	if len(s.Risks) == 0 {
		// Risk set is never empty: unclassified requests carry a low-
		// confidence ethical baseline and an uncertainty marker.
		s.Risks = append(s.Risks, RiskAssessment{Domain: RiskEthical, Confidence: ConfidenceLow})
		mark(UnknownRiskDomains)
	}

	// Reversibility
	rev, _, hit := firstMatch(text, reversibilityRules, ReversibilityUnknown)
	s.Reversibility = rev
	if !hit {
		mark(UnknownReversibility)
	}

	// Horizon
	hor, _, hit := firstMatch(text, horizonRules, HorizonUnknown)
	s.Horizon = hor
	if !hit {
		mark(UnknownHorizon)
	}

	// Responsibility
	resp, _, hit := firstMatch(text, responsibilityRules, ResponsibilityUnknown)
	s.Responsibility = resp
	if !hit {
		mark(UnknownResponsibility)
	}

	// Outcome classes derived from risks, deduped and bounded.
	seenOut := map[OutcomeClass]bool{}
	for _, r := range s.Risks {
		oc, ok := riskOutcome[r.Domain]
		if !ok || seenOut[oc] || len(s.OutcomeClasses) >= maxOutcomeClasses {
			continue
		}
		s.OutcomeClasses = append(s.OutcomeClasses, oc)
		seenOut[oc] = true
	}
	if len(s.OutcomeClasses) == 0 {
		s.OutcomeClasses = append(s.OutcomeClasses, OutcomeGeneralSetback)
		mark(UnknownOutcomeClasses)
	}

	// Cross-field invariants.
	if s.Reversibility == Irreversible {
		mark(UnknownReversibility)
	}
	if s.Horizon == HorizonLong {
		mark(UnknownHorizon)
	}
	if s.Responsibility == SystemicPublic && s.Horizon == HorizonShort {
		mark(UnknownHorizon)
	}
	if s.HasRisk(RiskMedical) && !seenOut[OutcomeHealthImpact] {
		mark(UnknownOutcomeClasses)
	}
	if s.Proximity == ProximityImminent && len(unknown) == 0 {
		// Imminent decisions always carry explicit uncertainty about
		// what happens next.
		mark(UnknownOutcomeClasses)
	}

	for _, m := range terminationMarkers {
		if strings.Contains(text, m) {
			s.TerminationIntent = true
			break
		}
	}

	s.UnknownZone = unknown
	return s
}
