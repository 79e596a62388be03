package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// AuditEntry is one link of the tamper-evident chain. Entries record
// decisions, never content.
type AuditEntry struct {
	Seq       int64                  `json:"seq"`
	AtMs      int64                  `json:"at_ms"`
	RequestID string                 `json:"request_id"`
	Stage     string                 `json:"stage"`
	Outcome   string                 `json:"outcome"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	PrevHash  string                 `json:"prev_hash"`
	Hash      string                 `json:"hash"`
}

// AuditChain is the append-only in-process chain. Each entry hashes
// its predecessor so any rewrite is detectable.
type AuditChain struct {
	mu       sync.Mutex
	entries  []AuditEntry
	lastHash string
	cap      int
}

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// NewAuditChain builds a chain bounded to capacity entries. The chain
// keeps its head hash even after old entries are evicted, so the
// verifiable tail stays linked.
func NewAuditChain(capacity int) *AuditChain {
	if capacity <= 0 {
		capacity = 4096
	}
	return &AuditChain{lastHash: genesisHash, cap: capacity}
}

func entryHash(e AuditEntry) string {
	e.Hash = ""
	raw, _ := json.Marshal(e)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Append links a new entry. Fields pass through the forbidden-key
// stripper before entering the chain.
func (c *AuditChain) Append(atMs int64, requestID, stage, outcome string, fields map[string]interface{}) AuditEntry {
	clean, _ := StripForbidden(normalize(fields))
	m, _ := clean.(map[string]interface{})

	c.mu.Lock()
	defer c.mu.Unlock()

	e := AuditEntry{
		Seq:       int64(len(c.entries)) + c.evictedBase(),
		AtMs:      atMs,
		RequestID: requestID,
		Stage:     stage,
		Outcome:   outcome,
		Fields:    m,
		PrevHash:  c.lastHash,
	}
	e.Hash = entryHash(e)
	c.lastHash = e.Hash

	c.entries = append(c.entries, e)
	if len(c.entries) > c.cap {
		c.entries = c.entries[len(c.entries)-c.cap:]
	}
	return e
}

// evictedBase recovers the absolute sequence base after eviction.
func (c *AuditChain) evictedBase() int64 {
	if len(c.entries) == 0 {
		return 1
	}
	return c.entries[0].Seq
}

// Verify walks the retained tail and checks every link. Returns the
// first broken sequence number, or 0 when intact.
func (c *AuditChain) Verify() (int64, error) {
	c.mu.Lock()
	entries := append([]AuditEntry(nil), c.entries...)
	c.mu.Unlock()

	for i, e := range entries {
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return e.Seq, fmt.Errorf("chain broken at seq %d: prev_hash mismatch", e.Seq)
		}
		if entryHash(e) != e.Hash {
			return e.Seq, fmt.Errorf("chain broken at seq %d: entry hash mismatch", e.Seq)
		}
	}
	return 0, nil
}

// Head returns the current chain head hash.
func (c *AuditChain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// Tail copies the most recent n entries.
func (c *AuditChain) Tail(n int) []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.entries) {
		n = len(c.entries)
	}
	return append([]AuditEntry(nil), c.entries[len(c.entries)-n:]...)
}
