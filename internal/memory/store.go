package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/plan"
)

// TTL bucketing granularity in milliseconds. Expiry timestamps are
// quantized so replays with slightly different clocks agree.
const TTLBucketMs int64 = 60000

// Plan caps on fact lifetime.
var ttlCapMs = map[plan.Tier]int64{
	plan.Free: 1 * 3600 * 1000,
	plan.Pro:  24 * 3600 * 1000,
	plan.Max:  240 * 3600 * 1000,
}

// EffectiveTTL clamps the requested lifetime to the plan cap. A zero
// request takes the full cap.
func EffectiveTTL(requestedMs int64, tier plan.Tier) int64 {
	cap, ok := ttlCapMs[tier]
	if !ok {
		cap = ttlCapMs[plan.Free]
	}
	if requestedMs <= 0 || requestedMs > cap {
		return cap
	}
	return requestedMs
}

// ExpiresAt quantizes the write time to a bucket boundary before
// adding the TTL.
func ExpiresAt(nowMs, ttlMs int64) int64 {
	return (nowMs/TTLBucketMs)*TTLBucketMs + ttlMs
}

// EventKind marks a log entry.
type EventKind string

const (
	EventWrite  EventKind = "WRITE"
	EventRevoke EventKind = "REVOKE"
)

// Event is one append-only log entry. Seq is monotonic per subject.
type Event struct {
	Seq       int64
	Kind      EventKind
	SubjectID string
	Fact      Fact
	CreatedAt int64 // unix ms
	ExpiresAt int64 // unix ms, WRITE only
}

// View is the folded current state for one subject.
type View struct {
	Facts []StoredFact
}

// StoredFact is a live fact plus its log provenance.
type StoredFact struct {
	Fact      Fact
	Seq       int64
	CreatedAt int64
	ExpiresAt int64
}

// Store is the in-process event log, guarded for concurrent handlers.
type Store struct {
	mu      sync.Mutex
	nextSeq int64
	events  map[string][]Event // subject id -> ordered log
}

// NewStore builds an empty log.
func NewStore() *Store {
	return &Store{nextSeq: 1, events: make(map[string][]Event)}
}

// Append writes gated, filtered facts for a subject. The caller has
// already run Gate and Filter; Append only assigns ids, seq numbers
// and expiry. Returns the appended events in order.
func (s *Store) Append(subjectID string, facts []Fact, tier plan.Tier, nowMs int64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(facts))
	for _, f := range facts {
		if f.FactID == "" {
			f.FactID = uuid.New().String()
		}
		ttl := EffectiveTTL(f.TTLMs, tier)
		f.TTLMs = ttl
		ev := Event{
			Seq:       s.nextSeq,
			Kind:      EventWrite,
			SubjectID: subjectID,
			Fact:      f,
			CreatedAt: nowMs,
			ExpiresAt: ExpiresAt(nowMs, ttl),
		}
		s.nextSeq++
		s.events[subjectID] = append(s.events[subjectID], ev)
		out = append(out, ev)
	}
	return out
}

// Revoke appends a tombstone for a fact id.
func (s *Store) Revoke(subjectID, factID string, nowMs int64) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		Seq:       s.nextSeq,
		Kind:      EventRevoke,
		SubjectID: subjectID,
		Fact:      Fact{FactID: factID},
		CreatedAt: nowMs,
	}
	s.nextSeq++
	s.events[subjectID] = append(s.events[subjectID], ev)
	return ev
}

// Fold replays the subject's log into the current view at nowMs.
// Later writes to the same fact id supersede earlier ones; revokes
// and expiry remove. The result is a pure function of (log, nowMs).
func (s *Store) Fold(subjectID string, nowMs int64) View {
	s.mu.Lock()
	log := append([]Event(nil), s.events[subjectID]...)
	s.mu.Unlock()

	live := make(map[string]StoredFact)
	for _, ev := range log {
		switch ev.Kind {
		case EventWrite:
			if ev.ExpiresAt <= nowMs {
				continue
			}
			live[ev.Fact.FactID] = StoredFact{
				Fact:      ev.Fact,
				Seq:       ev.Seq,
				CreatedAt: ev.CreatedAt,
				ExpiresAt: ev.ExpiresAt,
			}
		case EventRevoke:
			delete(live, ev.Fact.FactID)
		}
	}

	facts := make([]StoredFact, 0, len(live))
	for _, f := range live {
		facts = append(facts, f)
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].Seq < facts[j].Seq })
	return View{Facts: facts}
}

// EventCount reports the log length for a subject; used by the usage
// endpoint.
func (s *Store) EventCount(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[subjectID])
}
