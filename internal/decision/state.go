// Package decision holds the deterministic engines that classify a
// user text (decision state), decide how to respond (control plan)
// and decide what shape the response text must have (output plan).
// Everything here is pure: same input, same output, no model calls.
package decision

// Proximity is how close the described decision is to being acted on.
type Proximity string

const (
	ProximityVeryLow  Proximity = "VERY_LOW"
	ProximityLow      Proximity = "LOW"
	ProximityMedium   Proximity = "MEDIUM"
	ProximityHigh     Proximity = "HIGH"
	ProximityImminent Proximity = "IMMINENT"
	ProximityUnknown  Proximity = "UNKNOWN"
)

// RiskDomain is one of the nine risk domains plus the legal-adjacent
// gray zone.
type RiskDomain string

const (
	RiskFinancial        RiskDomain = "FINANCIAL"
	RiskLegal            RiskDomain = "LEGAL"
	RiskMedical          RiskDomain = "MEDICAL"
	RiskPhysicalSafety   RiskDomain = "PHYSICAL_SAFETY"
	RiskPsychological    RiskDomain = "PSYCHOLOGICAL"
	RiskEthical          RiskDomain = "ETHICAL"
	RiskReputational     RiskDomain = "REPUTATIONAL"
	RiskOperational      RiskDomain = "OPERATIONAL"
	RiskIrreversibleHarm RiskDomain = "IRREVERSIBLE_PERSONAL_HARM"
	RiskLegalGrayZone    RiskDomain = "LEGAL_GRAY_ZONE"
)

// Confidence grades a classifier hit.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// RiskAssessment couples a domain with the classifier's confidence.
type RiskAssessment struct {
	Domain     RiskDomain
	Confidence Confidence
}

// Reversibility grades how undoable the decision is.
type Reversibility string

const (
	ReversibleEasily     Reversibility = "EASILY"
	ReversibleCostly     Reversibility = "COSTLY"
	Irreversible         Reversibility = "IRREVERSIBLE"
	ReversibilityUnknown Reversibility = "UNKNOWN"
)

// Horizon is the decision's time horizon.
type Horizon string

const (
	HorizonShort   Horizon = "SHORT"
	HorizonMedium  Horizon = "MEDIUM"
	HorizonLong    Horizon = "LONG"
	HorizonUnknown Horizon = "UNKNOWN"
)

// Responsibility is who carries the consequences.
type Responsibility string

const (
	SelfOnly              Responsibility = "SELF_ONLY"
	Shared                Responsibility = "SHARED"
	ThirdParty            Responsibility = "THIRD_PARTY"
	SystemicPublic        Responsibility = "SYSTEMIC_PUBLIC"
	ResponsibilityUnknown Responsibility = "UNKNOWN"
)

// OutcomeClass is a coarse outcome bucket.
type OutcomeClass string

const (
	OutcomeFinancialLoss  OutcomeClass = "FINANCIAL_LOSS"
	OutcomeLegalExposure  OutcomeClass = "LEGAL_EXPOSURE"
	OutcomeHealthImpact   OutcomeClass = "HEALTH_IMPACT"
	OutcomeSafetyIncident OutcomeClass = "SAFETY_INCIDENT"
	OutcomeEmotionalHarm  OutcomeClass = "EMOTIONAL_HARM"
	OutcomeTrustDamage    OutcomeClass = "TRUST_DAMAGE"
	OutcomeServiceOutage  OutcomeClass = "SERVICE_OUTAGE"
	OutcomeGeneralSetback OutcomeClass = "GENERAL_SETBACK"
)

// UnknownSource marks which axis contributed explicit uncertainty.
type UnknownSource string

const (
	UnknownProximity      UnknownSource = "PROXIMITY"
	UnknownRiskDomains    UnknownSource = "RISK_DOMAINS"
	UnknownReversibility  UnknownSource = "REVERSIBILITY"
	UnknownHorizon        UnknownSource = "HORIZON"
	UnknownResponsibility UnknownSource = "RESPONSIBILITY"
	UnknownOutcomeClasses UnknownSource = "OUTCOME_CLASSES"
)

// Bounds on derived sequences.
const (
	maxRiskAssessments = 6
	maxOutcomeClasses  = 6
)

// State is the immutable classification of one user text.
type State struct {
	Proximity         Proximity
	Risks             []RiskAssessment
	Reversibility     Reversibility
	Horizon           Horizon
	Responsibility    Responsibility
	OutcomeClasses    []OutcomeClass
	UnknownZone       []UnknownSource
	TerminationIntent bool
}

// HasUnknown reports whether the given axis contributed uncertainty.
func (s *State) HasUnknown(src UnknownSource) bool {
	for _, u := range s.UnknownZone {
		if u == src {
			return true
		}
	}
	return false
}

// HasRisk reports whether the domain was detected.
func (s *State) HasRisk(domain RiskDomain) bool {
	for _, r := range s.Risks {
		if r.Domain == domain {
			return true
		}
	}
	return false
}

// criticalDomains are the domains that, combined with imminent and
// irreversible decisions, force a refusal.
var criticalDomains = map[RiskDomain]bool{
	RiskMedical:          true,
	RiskPhysicalSafety:   true,
	RiskIrreversibleHarm: true,
}

// HasCriticalRisk reports whether any critical domain was detected.
func (s *State) HasCriticalRisk() bool {
	for _, r := range s.Risks {
		if criticalDomains[r.Domain] {
			return true
		}
	}
	return false
}

// HighStakes reports whether the state sits in the high-stakes zone:
// elevated proximity together with non-trivial reversibility or a
// critical domain.
func (s *State) HighStakes() bool {
	elevated := s.Proximity == ProximityHigh || s.Proximity == ProximityImminent
	hardToUndo := s.Reversibility == Irreversible || s.Reversibility == ReversibleCostly
	return (elevated && hardToUndo) || (elevated && s.HasCriticalRisk()) || s.Responsibility == SystemicPublic
}
