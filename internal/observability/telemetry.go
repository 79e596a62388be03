// Package observability emits structure-only telemetry, keeps the
// append-only audit chain, and exports the service metrics. Nothing in
// this package ever records user text, prompts, or tool output.
package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"

	jcs "github.com/gowebpki/jcs"
)

// Keys that must never appear in an emitted event, at any depth.
var forbiddenKeys = map[string]bool{
	"user_text": true, "prompt": true, "content": true,
	"rendered_text": true, "snippet": true, "snippets": true,
	"excerpt": true, "excerpts": true, "answer": true, "claims": true,
	"title": true, "tool_output": true, "query": true, "statement": true,
	"system": true, "text": true,
}

// Event is one structure-only telemetry record.
type Event struct {
	Kind      string                 `json:"kind"`
	RequestID string                 `json:"request_id"`
	TraceID   string                 `json:"trace_id,omitempty"`
	AtMs      int64                  `json:"at_ms"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// StripForbidden removes forbidden keys recursively, counting how many
// were dropped. Maps and slices are walked; scalars pass through.
func StripForbidden(v interface{}) (interface{}, int) {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		dropped := 0
		for k, val := range t {
			if forbiddenKeys[k] {
				dropped++
				continue
			}
			clean, d := StripForbidden(val)
			dropped += d
			out[k] = clean
		}
		return out, dropped
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		dropped := 0
		for _, val := range t {
			clean, d := StripForbidden(val)
			dropped += d
			out = append(out, clean)
		}
		return out, dropped
	default:
		return v, 0
	}
}

// Sign canonicalizes the event body with RFC 8785 and hashes it. The
// signature covers everything except the signature field itself.
func Sign(ev Event) (string, error) {
	ev.Signature = ""
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sink receives finished events.
type Sink interface {
	Emit(ev Event)
}

// Telemetry builds, strips, signs and fans out events.
type Telemetry struct {
	mu      sync.Mutex
	sinks   []Sink
	dropped int64
	logger  *log.Logger
}

// NewTelemetry wires the emitter over the given sinks.
func NewTelemetry(sinks ...Sink) *Telemetry {
	return &Telemetry{
		sinks:  sinks,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
	}
}

// Emit strips forbidden keys from the fields, signs the event and
// hands it to every sink. Emission never fails the request.
func (t *Telemetry) Emit(kind, requestID, traceID string, atMs int64, fields map[string]interface{}) Event {
	clean, dropped := StripForbidden(normalize(fields))
	ev := Event{
		Kind:      kind,
		RequestID: requestID,
		TraceID:   traceID,
		AtMs:      atMs,
	}
	if m, ok := clean.(map[string]interface{}); ok {
		ev.Fields = m
	}
	if dropped > 0 {
		t.mu.Lock()
		t.dropped += int64(dropped)
		t.mu.Unlock()
		t.logger.Printf("kind=%s request=%s stripped %d forbidden fields", kind, requestID, dropped)
	}

	sig, err := Sign(ev)
	if err != nil {
		t.logger.Printf("kind=%s request=%s signing failed: %v", kind, requestID, err)
	} else {
		ev.Signature = sig
	}

	t.mu.Lock()
	sinks := append([]Sink(nil), t.sinks...)
	t.mu.Unlock()
	for _, s := range sinks {
		s.Emit(ev)
	}
	return ev
}

// DroppedFields reports how many forbidden fields were stripped since
// start.
func (t *Telemetry) DroppedFields() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// normalize round-trips fields through JSON so nested structs become
// maps the stripper can walk.
func normalize(fields map[string]interface{}) interface{} {
	if fields == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return map[string]interface{}{}
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// MemorySink retains the last events in a ring; used by tests and the
// usage endpoint.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

// NewMemorySink builds a bounded sink.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemorySink{cap: capacity}
}

// Emit appends, evicting the oldest past capacity.
func (m *MemorySink) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if len(m.events) > m.cap {
		m.events = m.events[len(m.events)-m.cap:]
	}
}

// Snapshot copies the retained events.
func (m *MemorySink) Snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
