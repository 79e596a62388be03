package cost

import (
	"sync"
	"time"
)

// UsageRecord is one structure-only accounting entry. No text fields.
type UsageRecord struct {
	TS           time.Time    `json:"ts"`
	RequestID    string       `json:"request_id"`
	Route        string       `json:"route"`
	SubjectHash  string       `json:"subject_hash"`
	IPHash       string       `json:"ip_hash"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	InputTokens  int64        `json:"input_tokens"`
	OutputTokens int64        `json:"output_tokens"`
	CostUnits    int64        `json:"cost_units"`
	Outcome      string       `json:"outcome"`
	LatencyMs    int64        `json:"latency_ms"`
	BudgetScope  string       `json:"budget_scope,omitempty"`
	BreakerState BreakerState `json:"breaker_state"`
}

// UsageRing is a guarded fixed-capacity ring of recent usage records.
type UsageRing struct {
	mu   sync.Mutex
	buf  []UsageRecord
	next int
	full bool
}

// NewUsageRing allocates a ring with the given capacity.
func NewUsageRing(capacity int) *UsageRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &UsageRing{buf: make([]UsageRecord, capacity)}
}

// Record appends one entry, overwriting the oldest when full.
func (r *UsageRing) Record(rec UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the records oldest-first.
func (r *UsageRing) Snapshot() []UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]UsageRecord, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]UsageRecord, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Len reports how many records are held.
func (r *UsageRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
