package memory

import (
	"sort"
	"strings"
)

// Template names a bounded read projection over the folded view.
// Reads never return the raw log.
type Template string

const (
	TemplateGoalsAndWorkflow Template = "GOALS_AND_WORKFLOW"
	TemplatePreferences      Template = "PREFERENCES"
	TemplateConstraints      Template = "CONSTRAINTS"
	TemplateFullProfile      Template = "FULL_PROFILE"
)

// Categories each template projects, in render order.
var templateCategories = map[Template][]Category{
	TemplateGoalsAndWorkflow: {CategoryGoal, CategoryContext},
	TemplatePreferences:      {CategoryPreference},
	TemplateConstraints:      {CategoryConstraint},
	TemplateFullProfile:      {CategoryGoal, CategoryPreference, CategoryConstraint, CategoryContext},
}

// MaxTemplateFacts bounds every rendered projection.
const MaxTemplateFacts = 20

// Project selects and orders the view's facts for a template. Order
// is category (template order), then confidence descending, then
// created time, then fact id, so the projection is reproducible.
func Project(v View, t Template) []StoredFact {
	cats, ok := templateCategories[t]
	if !ok {
		cats = templateCategories[TemplateFullProfile]
	}
	rank := make(map[Category]int, len(cats))
	for i, c := range cats {
		rank[c] = i
	}

	var picked []StoredFact
	for _, f := range v.Facts {
		if _, ok := rank[f.Fact.Category]; ok {
			picked = append(picked, f)
		}
	}

	sort.Slice(picked, func(i, j int) bool {
		a, b := picked[i], picked[j]
		if ra, rb := rank[a.Fact.Category], rank[b.Fact.Category]; ra != rb {
			return ra < rb
		}
		if a.Fact.Confidence != b.Fact.Confidence {
			return a.Fact.Confidence > b.Fact.Confidence
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.Fact.FactID < b.Fact.FactID
	})

	if len(picked) > MaxTemplateFacts {
		picked = picked[:MaxTemplateFacts]
	}
	return picked
}

// Render flattens a projection into prompt context lines.
func Render(facts []StoredFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range facts {
		b.WriteString("- [")
		b.WriteString(string(f.Fact.Category))
		b.WriteString("] ")
		b.WriteString(f.Fact.Statement)
		b.WriteString("\n")
	}
	return b.String()
}
