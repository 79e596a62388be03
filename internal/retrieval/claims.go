package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Bounds on claim extraction and binding.
const (
	MaxClaims       = 12
	MaxClaimChars   = 200
	MaxClaimTokens  = 12
	MaxCitationsPer = 3
	minTokenOverlap = 2
)

// Claim is one factual statement carved from a candidate answer. The
// id is a structural fingerprint of (index, tokens), stable across
// replays of the same text.
type Claim struct {
	ID       string
	Index    int
	Text     string
	Tokens   []string
	Required bool // load-bearing for the answer
}

// Citation binds a claim to one snippet of one graded source. It
// carries the source's reference fields but never snippet text.
type Citation struct {
	SourceID      string
	Domain        string
	URL           string
	Title         string
	Published     string // RFC3339 date when known
	SnippetIndex  int
	SnippetLength int
	Class         DomainClass
	Overlap       int
	Score         int
}

// Binding is the outcome for one claim.
type Binding struct {
	Claim     Claim
	Citations []Citation
	Covered   bool
}

// FinalMode is the verdict of a binding pass over the whole answer.
type FinalMode string

const (
	FinalAnswer     FinalMode = "ANSWER"
	FinalUnknown    FinalMode = "UNKNOWN"
	FinalAskClarify FinalMode = "ASK_CLARIFY"
)

// BindOutcome summarizes a binding pass. ClarifyQuestions is empty
// unless the mode is ASK_CLARIFY; it is never nil.
type BindOutcome struct {
	Bindings             []Binding
	UncoveredRequired    int
	UncoveredRequiredIDs []string
	FinalMode            FinalMode
	ClarifyQuestions     []string
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true,
	"will": true, "with": true, "not": true, "can": true,
}

// ExtractClaims splits the candidate text into bounded claim sentences.
// Sentences carrying hedges are advisory; declarative ones are
// required.
func ExtractClaims(text string) []Claim {
	sentences := splitSentences(text)
	claims := make([]Claim, 0, MaxClaims)
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasSuffix(s, "?") {
			continue
		}
		// Disclosure fragments declare uncertainty; they are not
		// factual claims and need no citation.
		if strings.HasPrefix(s, "Unknown:") || strings.HasPrefix(s, "Assumption:") {
			continue
		}
		if len(s) > MaxClaimChars {
			s = s[:MaxClaimChars]
		}
		c := Claim{
			Index:    len(claims),
			Text:     s,
			Tokens:   Tokenize(s),
			Required: !isHedged(s),
		}
		if len(c.Tokens) == 0 {
			continue
		}
		c.ID = claimID(c.Index, c.Tokens)
		claims = append(claims, c)
		if len(claims) == MaxClaims {
			break
		}
	}
	return claims
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

var hedgeMarkers = []string{
	"might", "may ", "could", "perhaps", "possibly", "i think",
	"it seems", "likely", "unclear",
}

func isHedged(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range hedgeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Tokenize lowercases, strips punctuation, drops stopwords and short
// tokens, dedups, and keeps at most MaxClaimTokens in first-seen order.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	seen := make(map[string]bool)
	out := make([]string, 0, MaxClaimTokens)
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == MaxClaimTokens {
			break
		}
	}
	return out
}

// claimID fingerprints a claim from its position and token structure.
func claimID(index int, tokens []string) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(index) + "|" + strings.Join(tokens, " ")))
	return "clm-" + hex.EncodeToString(sum[:6])
}

// clarifyMarkers flag claims whose subject is underspecified enough
// that one question back to the user could ground them.
var clarifyMarkers = map[string]bool{
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"recently": true, "currently": true, "latest": true, "soon": true,
	"now": true, "today": true, "here": true,
}

func clarifiable(c Claim) bool {
	words := strings.FieldsFunc(strings.ToLower(c.Text), func(r rune) bool {
		return r < 'a' || r > 'z'
	})
	for _, w := range words {
		if clarifyMarkers[w] {
			return true
		}
	}
	return false
}

// clarifyQuestion renders one bounded question for an uncovered claim:
// at most 120 chars, exactly one "?".
func clarifyQuestion(c Claim) string {
	text := strings.TrimRight(strings.TrimSpace(c.Text), ".!?")
	const prefix = "Which specific case do you mean by \""
	if room := 120 - len(prefix) - 2; len(text) > room {
		text = text[:room]
	}
	return prefix + text + "\"?"
}

// overlap counts claim tokens present in the snippet.
func overlap(tokens []string, snippet string) int {
	lower := strings.ToLower(snippet)
	n := 0
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// tieHash breaks exact citation ties deterministically.
func tieHash(claimIdx int, c Citation) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(claimIdx) + "|" + c.SourceID + "|" + c.URL + "|" + c.Domain))
	return hex.EncodeToString(sum[:8])
}

// Bind matches every claim against the graded bundles. Candidate
// citations for a claim sort by score desc, overlap desc, freshness
// desc, then domain, URL, snippet index and a tie hash so the result
// is a pure function of its inputs. Any uncovered required claim
// downgrades the final mode to UNKNOWN, or to ASK_CLARIFY when every
// uncovered claim can be grounded by one question back to the user.
func Bind(claims []Claim, bundles []SourceBundle, grades []Grade) BindOutcome {
	gradeBySource := make(map[string]Grade, len(grades))
	for _, g := range grades {
		gradeBySource[g.SourceID] = g
	}

	out := BindOutcome{
		Bindings:         make([]Binding, 0, len(claims)),
		FinalMode:        FinalAnswer,
		ClarifyQuestions: []string{},
	}
	var uncovered []Claim
	for _, cl := range claims {
		var cands []Citation
		for _, b := range bundles {
			g := gradeBySource[b.SourceID]
			for si, sn := range b.Snippets {
				ov := overlap(cl.Tokens, sn.Text)
				if ov < minTokenOverlap {
					continue
				}
				cands = append(cands, Citation{
					SourceID:      b.SourceID,
					Domain:        b.Domain,
					URL:           b.URL,
					Title:         b.Title,
					Published:     b.Published,
					SnippetIndex:  si,
					SnippetLength: len(sn.Text),
					Class:         g.Class,
					Overlap:       ov,
					Score:         g.Score,
				})
			}
		}

		sort.Slice(cands, func(i, j int) bool {
			a, b := cands[i], cands[j]
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			if a.Overlap != b.Overlap {
				return a.Overlap > b.Overlap
			}
			fa := gradeBySource[a.SourceID].Freshness
			fb := gradeBySource[b.SourceID].Freshness
			if fa != fb {
				return fa > fb
			}
			if a.Domain != b.Domain {
				return a.Domain < b.Domain
			}
			if a.URL != b.URL {
				return a.URL < b.URL
			}
			if a.SnippetIndex != b.SnippetIndex {
				return a.SnippetIndex < b.SnippetIndex
			}
			return tieHash(cl.Index, a) < tieHash(cl.Index, b)
		})

		if len(cands) > MaxCitationsPer {
			cands = cands[:MaxCitationsPer]
		}
		b := Binding{Claim: cl, Citations: cands, Covered: len(cands) > 0}
		if !b.Covered && cl.Required {
			out.UncoveredRequired++
			out.UncoveredRequiredIDs = append(out.UncoveredRequiredIDs, cl.ID)
			uncovered = append(uncovered, cl)
		}
		out.Bindings = append(out.Bindings, b)
	}

	if len(uncovered) > 0 {
		out.FinalMode = FinalUnknown
		allClarifiable := true
		for _, cl := range uncovered {
			if !clarifiable(cl) {
				allClarifiable = false
				break
			}
		}
		if allClarifiable {
			out.FinalMode = FinalAskClarify
			for _, cl := range uncovered {
				if len(out.ClarifyQuestions) == MaxCitationsPer {
					break
				}
				out.ClarifyQuestions = append(out.ClarifyQuestions, clarifyQuestion(cl))
			}
		}
	}
	return out
}
