package waf

import (
	"sync"
	"time"
)

// LocalWindows is the process-local bucket store used when the
// persisted store is unreachable. Same window semantics, no cross-
// process visibility.
type LocalWindows struct {
	mu      sync.Mutex
	buckets map[localKey]*localBucket
}

type localKey struct {
	subjectType string
	subjectID   string
	windowStart int64
	windowSecs  int
}

type localBucket struct {
	hits         int
	blockedUntil *time.Time
}

// NewLocalWindows creates an empty bucket store.
func NewLocalWindows() *LocalWindows {
	return &LocalWindows{buckets: make(map[localKey]*localBucket)}
}

// Bump increments the window and returns the new count plus any
// lockout. Expired buckets are pruned opportunistically.
func (l *LocalWindows) Bump(subjectType, subjectID string, windowStart time.Time, windowSecs int, now time.Time) (int, *time.Time) {
	key := localKey{subjectType, subjectID, windowStart.Unix(), windowSecs}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{}
		l.buckets[key] = b
	}
	b.hits++
	return b.hits, b.blockedUntil
}

// Block records a lockout on the window.
func (l *LocalWindows) Block(subjectType, subjectID string, windowStart time.Time, windowSecs int, until time.Time) {
	key := localKey{subjectType, subjectID, windowStart.Unix(), windowSecs}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{}
		l.buckets[key] = b
	}
	b.blockedUntil = &until
}

// pruneLocked drops buckets whose window plus lockout is fully in the
// past. Caller holds the lock.
func (l *LocalWindows) pruneLocked(now time.Time) {
	for k, b := range l.buckets {
		end := time.Unix(k.windowStart, 0).Add(2 * time.Duration(k.windowSecs) * time.Second)
		if b.blockedUntil != nil && b.blockedUntil.After(end) {
			end = *b.blockedUntil
		}
		if now.After(end) {
			delete(l.buckets, k)
		}
	}
}
