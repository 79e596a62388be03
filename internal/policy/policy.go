// Package policy is the capability chokepoint between the orchestrator
// and the retrieval and memory subsystems. Handlers never touch those
// subsystems directly; they are handed a grant derived from the
// subject's plan and the decision state, and every grant is
// deny-by-default.
package policy

import (
	"context"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/decision"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/identity"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/memory"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/plan"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/retrieval"
)

// DenyReason is the closed set of capability denials.
type DenyReason string

const (
	DenyNone             DenyReason = ""
	DenyActionForbids    DenyReason = "ACTION_FORBIDS"
	DenyAnonymousSubject DenyReason = "ANONYMOUS_SUBJECT"
	DenyPlanForbids      DenyReason = "PLAN_FORBIDS"
	DenyHighStakes       DenyReason = "HIGH_STAKES_STATE"
	DenySafetyFilter     DenyReason = "SAFETY_FILTER"
	DenySchemaGate       DenyReason = "SCHEMA_GATE"
	DenyBatchTooLarge    DenyReason = "BATCH_TOO_LARGE"
)

// Grant is what a request may do this turn. Zero value grants nothing.
type Grant struct {
	Retrieval       bool
	RetrievalCaps   retrieval.Caps
	MemoryRead      bool
	MemoryWrite     bool
	DeniedRetrieval DenyReason
	DeniedMemory    DenyReason
}

// Retrieval envelopes per tier. MAX gets a wider envelope, FREE a
// narrow one.
var retrievalCapsByTier = map[plan.Tier]retrieval.Caps{
	plan.Free: {MaxCalls: 2, TotalBudgetMs: 3000, PerCallMs: 1200, CallsPerSecond: 1, Burst: 1},
	plan.Pro:  {MaxCalls: 3, TotalBudgetMs: 4000, PerCallMs: 1500, CallsPerSecond: 2, Burst: 2},
	plan.Max:  {MaxCalls: 5, TotalBudgetMs: 6000, PerCallMs: 2000, CallsPerSecond: 3, Burst: 3},
}

// Gate derives the grant. Rules, in order:
//   - only ANSWER turns may retrieve or read memory
//   - anonymous subjects never touch memory
//   - high-stakes states suppress retrieval so the careful path stays
//     on first-party reasoning
func Gate(id identity.Context, tier plan.Tier, cp decision.ControlPlan, s decision.State) Grant {
	g := Grant{}

	switch {
	case cp.Action != decision.ActionAnswer:
		g.DeniedRetrieval = DenyActionForbids
	case s.HighStakes():
		g.DeniedRetrieval = DenyHighStakes
	default:
		g.Retrieval = true
		caps, ok := retrievalCapsByTier[tier]
		if !ok {
			caps = retrievalCapsByTier[plan.Free]
		}
		g.RetrievalCaps = caps
	}

	switch {
	case !id.IsAuthenticated:
		g.DeniedMemory = DenyAnonymousSubject
	case cp.Action == decision.ActionRefuse || cp.Action == decision.ActionClose:
		g.DeniedMemory = DenyActionForbids
	default:
		g.MemoryRead = true
		g.MemoryWrite = true
	}
	return g
}

// Broker executes granted operations. It owns the only references to
// the runner and the store.
type Broker struct {
	runner *retrieval.Runner
	store  *memory.Store
}

// NewBroker wires the chokepoint.
func NewBroker(runner *retrieval.Runner, store *memory.Store) *Broker {
	return &Broker{runner: runner, store: store}
}

// Retrieve runs a sandboxed retrieval under the grant's caps. A grant
// without retrieval returns an empty result and the deny reason.
func (b *Broker) Retrieve(ctx context.Context, g Grant, query string) (retrieval.RunResult, DenyReason) {
	if !g.Retrieval || b.runner == nil {
		reason := g.DeniedRetrieval
		if reason == DenyNone {
			reason = DenyPlanForbids
		}
		return retrieval.RunResult{}, reason
	}
	return b.runner.Retrieve(ctx, query, g.RetrievalCaps), DenyNone
}

// ReadMemory folds and projects the subject's view.
func (b *Broker) ReadMemory(g Grant, subjectID string, t memory.Template, nowMs int64) ([]memory.StoredFact, DenyReason) {
	if !g.MemoryRead || b.store == nil {
		reason := g.DeniedMemory
		if reason == DenyNone {
			reason = DenyPlanForbids
		}
		return nil, reason
	}
	view := b.store.Fold(subjectID, nowMs)
	return memory.Project(view, t), DenyNone
}

// WriteMemory gates, filters and appends candidate facts. The whole
// batch is rejected on the first gate failure or any filter match.
func (b *Broker) WriteMemory(g Grant, subjectID string, raw []map[string]interface{}, tier plan.Tier, nowMs int64) ([]memory.Event, DenyReason) {
	if !g.MemoryWrite || b.store == nil {
		reason := g.DeniedMemory
		if reason == DenyNone {
			reason = DenyPlanForbids
		}
		return nil, reason
	}
	if len(raw) > memory.MaxFactsPerReq {
		return nil, DenyBatchTooLarge
	}

	facts := make([]memory.Fact, 0, len(raw))
	for _, r := range raw {
		f, err := memory.Gate(r)
		if err != nil {
			return nil, DenySchemaGate
		}
		facts = append(facts, f)
	}
	if reason := memory.Filter(facts); reason != memory.RejectNone {
		return nil, DenySafetyFilter
	}
	return b.store.Append(subjectID, facts, tier, nowMs), DenyNone
}
