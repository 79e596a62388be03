package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Backend fetches raw bundles for a canonical query. Implementations
// must honor the context deadline.
type Backend interface {
	Tool() Tool
	Fetch(ctx context.Context, query string, maxResults int) ([]SourceBundle, error)
}

// RunResult is everything one retrieval run produced.
type RunResult struct {
	Query   string
	Bundles []SourceBundle
	Grades  []Grade
	Events  []SanitizeEvent
	Stop    StopReason
	Calls   int
}

// Runner drives the backends inside the sandbox and post-processes
// their output. The clock is injected for deterministic replays.
type Runner struct {
	backends   []Backend
	maxResults int
	nowMs      func() int64
	logger     *log.Logger
}

// NewRunner builds a runner over the given backends.
func NewRunner(backends []Backend, maxResults int, nowMs func() int64) *Runner {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	if maxResults <= 0 {
		maxResults = MaxSnippets
	}
	return &Runner{
		backends:   backends,
		maxResults: maxResults,
		nowMs:      nowMs,
		logger:     log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags),
	}
}

// Retrieve canonicalizes the query, runs each backend under the
// sandbox, then sanitizes, dedups and grades whatever was fetched
// before the run stopped. Partial results survive an early stop.
func (r *Runner) Retrieve(ctx context.Context, rawQuery string, caps Caps) RunResult {
	query := CanonicalQuery(rawQuery)
	sb := NewSandbox(caps, r.nowMs())
	res := RunResult{Query: query}

	var collected []SourceBundle
	for _, backend := range r.backends {
		deadlineMs, stop := sb.Admit(r.nowMs())
		if stop != StopNone {
			res.Stop = stop
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(deadlineMs)*time.Millisecond)
		startMs := r.nowMs()
		bundles, err := backend.Fetch(callCtx, query, r.maxResults)
		cancel()
		finishMs := r.nowMs()

		if stop := sb.Settle(startMs, finishMs, deadlineMs, err); stop != StopNone {
			r.logger.Printf("tool=%s stopped: %s", backend.Tool(), stop)
			res.Stop = stop
			break
		}

		for i := range bundles {
			bundles[i].Tool = backend.Tool()
			if err := Normalize(&bundles[i], finishMs); err != nil {
				continue
			}
			collected = append(collected, bundles[i])
		}
	}
	res.Calls = sb.Calls()

	res.Events = SanitizeAll(collected)
	res.Bundles = DedupBundles(collected)
	if len(res.Bundles) > r.maxResults {
		res.Bundles = res.Bundles[:r.maxResults]
	}
	res.Grades = GradeBundles(res.Bundles, r.nowMs())
	return res
}

// RenderContext flattens graded bundles into prompt context lines.
// Each source carries its domain class and score so the model can
// weigh it; snippets are already sanitized and bounded.
func RenderContext(bundles []SourceBundle, grades []Grade) string {
	gradeBySource := make(map[string]Grade, len(grades))
	for _, g := range grades {
		gradeBySource[g.SourceID] = g
	}

	var b strings.Builder
	for _, src := range bundles {
		g := gradeBySource[src.SourceID]
		fmt.Fprintf(&b, "[%s %d] %s (%s)\n", g.Class, g.Score, src.Title, src.Domain)
		for _, sn := range src.Snippets {
			b.WriteString("  ")
			b.WriteString(sn.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
