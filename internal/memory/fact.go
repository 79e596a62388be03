// Package memory stores durable user facts behind a schema gate and a
// safety filter. Writes append to an event log; reads fold the log
// into the current view and render bounded templates.
package memory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Category buckets a fact.
type Category string

const (
	CategoryGoal       Category = "GOAL"
	CategoryPreference Category = "PREFERENCE"
	CategoryConstraint Category = "CONSTRAINT"
	CategoryContext    Category = "CONTEXT"
)

var validCategories = map[Category]bool{
	CategoryGoal: true, CategoryPreference: true,
	CategoryConstraint: true, CategoryContext: true,
}

// ValueType says how a fact's value is typed.
type ValueType string

const (
	ValueStr     ValueType = "STR"
	ValueNum     ValueType = "NUM"
	ValueBool    ValueType = "BOOL"
	ValueListStr ValueType = "LIST_STR"
)

// SourceType says where a fact came from.
type SourceType string

const (
	SourceUserExplicit   SourceType = "USER_EXPLICIT"
	SourceDerivedSummary SourceType = "DERIVED_SUMMARY"
	SourceToolCited      SourceType = "TOOL_CITED"
)

// Provenance records the origin of a fact.
type Provenance struct {
	SourceType    SourceType `json:"source_type"`
	SourceID      string     `json:"source_id,omitempty"`
	CollectedAtMs int64      `json:"collected_at_ms,omitempty"`
	CitationIDs   []string   `json:"citation_ids,omitempty"`
}

// Bounds on a single fact.
const (
	MaxFactChars   = 300
	MaxFactsPerReq = 5
	MaxListItems   = 8
	MaxTags        = 8
	MinConfidence  = 0.0
	MaxConfidence  = 1.0
)

// Fact is one structured statement about the user, never a transcript.
// Value holds a string, float64, bool or []string per ValueType; when
// a write carries no typed value, it defaults to STR with the
// statement as value.
type Fact struct {
	FactID     string      `json:"fact_id"`
	Category   Category    `json:"category"`
	Key        string      `json:"key,omitempty"`
	ValueType  ValueType   `json:"value_type"`
	Value      interface{} `json:"value"`
	Statement  string      `json:"statement"`
	Confidence float64     `json:"confidence"`
	Provenance Provenance  `json:"provenance"`
	Tags       []string    `json:"tags,omitempty"`
	TTLMs      int64       `json:"ttl_ms"`
}

const factSchemaJSON = `{
  "type": "object",
  "required": ["category", "statement", "confidence"],
  "additionalProperties": false,
  "properties": {
    "fact_id":    {"type": "string"},
    "category":   {"type": "string", "enum": ["GOAL", "PREFERENCE", "CONSTRAINT", "CONTEXT"]},
    "key":        {"type": "string", "maxLength": 100},
    "value_type": {"type": "string", "enum": ["STR", "NUM", "BOOL", "LIST_STR"]},
    "statement":  {"type": "string", "minLength": 3, "maxLength": 300},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "provenance": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "source_type":     {"type": "string", "enum": ["USER_EXPLICIT", "DERIVED_SUMMARY", "TOOL_CITED"]},
        "source_id":       {"type": "string", "maxLength": 64},
        "collected_at_ms": {"type": "integer", "minimum": 0},
        "citation_ids":    {"type": "array", "maxItems": 8, "items": {"type": "string", "maxLength": 64}}
      }
    },
    "tags":  {"type": "array", "maxItems": 8, "items": {"type": "string", "maxLength": 40}},
    "ttl_ms": {"type": "integer", "minimum": 0}
  },
  "allOf": [
    {"if": {"required": ["value_type"], "properties": {"value_type": {"const": "STR"}}},
     "then": {"required": ["value"], "properties": {"value": {"type": "string", "maxLength": 300}}}},
    {"if": {"required": ["value_type"], "properties": {"value_type": {"const": "NUM"}}},
     "then": {"required": ["value"], "properties": {"value": {"type": "number"}}}},
    {"if": {"required": ["value_type"], "properties": {"value_type": {"const": "BOOL"}}},
     "then": {"required": ["value"], "properties": {"value": {"type": "boolean"}}}},
    {"if": {"required": ["value_type"], "properties": {"value_type": {"const": "LIST_STR"}}},
     "then": {"required": ["value"], "properties": {"value": {"type": "array", "maxItems": 8, "items": {"type": "string", "maxLength": 300}}}}}
  ]
}`

var factSchema = jsonschema.MustCompileString("fact.json", factSchemaJSON)

// Patterns that mark a statement as a transcript fragment rather than
// a distilled fact.
var transcriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(the\s+)?user\s+said\s*:`),
	regexp.MustCompile(`(?i)^\s*(i|they|he|she)\s+said\s*:`),
	regexp.MustCompile(`(?i)\bverbatim\b`),
	regexp.MustCompile(`^\s*["“].{40,}["”]\s*$`),
	regexp.MustCompile(`(?i)^\s*quote\s*:`),
}

// GateError says why a fact failed the schema gate.
type GateError struct {
	Field  string
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("fact gate: %s: %s", e.Field, e.Reason)
}

// Gate validates one fact against the schema and the transcript
// patterns. Raw conversation text must never pass: the statement, the
// key and every string value are all checked.
func Gate(raw map[string]interface{}) (Fact, error) {
	if err := factSchema.Validate(raw); err != nil {
		return Fact{}, &GateError{Field: "schema", Reason: err.Error()}
	}

	f := Fact{
		Category:   Category(raw["category"].(string)),
		Statement:  strings.TrimSpace(raw["statement"].(string)),
		Confidence: toFloat(raw["confidence"]),
	}
	if id, ok := raw["fact_id"].(string); ok {
		f.FactID = id
	}
	if key, ok := raw["key"].(string); ok {
		f.Key = key
	}
	if ttl, ok := raw["ttl_ms"]; ok {
		f.TTLMs = int64(toFloat(ttl))
	}

	if vt, ok := raw["value_type"].(string); ok {
		f.ValueType = ValueType(vt)
		switch f.ValueType {
		case ValueStr:
			f.Value = raw["value"].(string)
		case ValueNum:
			f.Value = toFloat(raw["value"])
		case ValueBool:
			f.Value = raw["value"].(bool)
		case ValueListStr:
			items := raw["value"].([]interface{})
			list := make([]string, 0, len(items))
			for _, it := range items {
				list = append(list, it.(string))
			}
			f.Value = list
		}
	} else {
		f.ValueType = ValueStr
		f.Value = f.Statement
	}

	f.Provenance = Provenance{SourceType: SourceUserExplicit}
	if prov, ok := raw["provenance"].(map[string]interface{}); ok {
		if st, ok := prov["source_type"].(string); ok {
			f.Provenance.SourceType = SourceType(st)
		}
		if sid, ok := prov["source_id"].(string); ok {
			f.Provenance.SourceID = sid
		}
		if at, ok := prov["collected_at_ms"]; ok {
			f.Provenance.CollectedAtMs = int64(toFloat(at))
		}
		if ids, ok := prov["citation_ids"].([]interface{}); ok {
			for _, it := range ids {
				if s, ok := it.(string); ok {
					f.Provenance.CitationIDs = append(f.Provenance.CitationIDs, s)
				}
			}
		}
	}
	if tags, ok := raw["tags"].([]interface{}); ok {
		for _, it := range tags {
			if s, ok := it.(string); ok {
				f.Tags = append(f.Tags, s)
			}
		}
	}

	if !validCategories[f.Category] {
		return Fact{}, &GateError{Field: "category", Reason: "unknown category"}
	}
	if f.Statement == "" {
		return Fact{}, &GateError{Field: "statement", Reason: "empty after trim"}
	}
	for _, carrier := range textCarriers(f) {
		for _, p := range transcriptPatterns {
			if p.MatchString(carrier) {
				return Fact{}, &GateError{Field: "statement", Reason: "transcript fragment"}
			}
		}
	}
	return f, nil
}

// textCarriers lists every free-text field of a fact that the
// transcript patterns and the safety filter must scan.
func textCarriers(f Fact) []string {
	out := []string{f.Statement}
	if f.Key != "" {
		out = append(out, f.Key)
	}
	switch v := f.Value.(type) {
	case string:
		out = append(out, v)
	case []string:
		out = append(out, v...)
	}
	return append(out, f.Tags...)
}

// toFloat widens the numeric shapes a raw map can carry.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
