// Package plan maps subjects to plan tiers and enforces the per-day
// request and token quotas attached to each tier.
package plan

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

// Tier is the plan level.
type Tier string

const (
	Free Tier = "FREE"
	Pro  Tier = "PRO"
	Max  Tier = "MAX"
)

// Limits are the immutable caps per plan.
type Limits struct {
	RequestsPerDay    int64 `yaml:"requests_per_day"`
	TokenBudgetPerDay int64 `yaml:"token_budget_per_day"`
	MaxInputTokens    int   `yaml:"max_input_tokens"`
	MaxOutputTokens   int   `yaml:"max_output_tokens"`
}

var defaultLimits = map[Tier]Limits{
	Free: {RequestsPerDay: 200, TokenBudgetPerDay: 50_000, MaxInputTokens: 2000, MaxOutputTokens: 1000},
	Pro:  {RequestsPerDay: 2000, TokenBudgetPerDay: 500_000, MaxInputTokens: 4000, MaxOutputTokens: 2000},
	Max:  {RequestsPerDay: 10_000, TokenBudgetPerDay: 2_500_000, MaxInputTokens: 8000, MaxOutputTokens: 4000},
}

// Resolver decides the tier for a subject from the configured subject
// sets plus an optional override file.
type Resolver struct {
	defaultTier Tier
	pro         map[string]struct{}
	max         map[string]struct{}
	limits      map[Tier]Limits
}

// overrideFile is the optional YAML file replacing per-tier limits.
type overrideFile struct {
	Limits map[string]Limits `yaml:"limits"`
}

// NewResolver builds the resolver from settings. The override file,
// when present, replaces per-tier limits wholesale.
func NewResolver(cfg config.PlanSettings) (*Resolver, error) {
	r := &Resolver{
		defaultTier: parseTier(cfg.Default),
		pro:         toSet(cfg.ProSubjects),
		max:         toSet(cfg.MaxSubjects),
		limits:      make(map[Tier]Limits, len(defaultLimits)),
	}
	for t, l := range defaultLimits {
		r.limits[t] = l
	}

	if cfg.OverrideFile != "" {
		f, err := os.Open(cfg.OverrideFile)
		if err != nil {
			return nil, fmt.Errorf("open plan override file: %w", err)
		}
		defer f.Close()
		var of overrideFile
		if err := yaml.NewDecoder(f).Decode(&of); err != nil {
			return nil, fmt.Errorf("decode plan override file: %w", err)
		}
		for name, l := range of.Limits {
			t := parseTier(name)
			if l.RequestsPerDay > 0 {
				r.limits[t] = l
			}
		}
	}
	return r, nil
}

func parseTier(s string) Tier {
	switch Tier(s) {
	case Pro:
		return Pro
	case Max:
		return Max
	default:
		return Free
	}
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// Resolve returns the subject's tier.
func (r *Resolver) Resolve(subjectID string) Tier {
	if _, ok := r.max[subjectID]; ok {
		return Max
	}
	if _, ok := r.pro[subjectID]; ok {
		return Pro
	}
	return r.defaultTier
}

// LimitsFor returns the caps for a tier.
func (r *Resolver) LimitsFor(t Tier) Limits {
	if l, ok := r.limits[t]; ok {
		return l
	}
	return r.limits[Free]
}
