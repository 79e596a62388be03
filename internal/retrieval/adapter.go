// Package retrieval is the single chokepoint for tool calls: query and
// URL canonicalization, structure-only source ids, sandboxed budgets,
// deterministic dedup, credibility grading, claim-to-citation binding
// and tool-output sanitization.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Tool names the retrieval backends.
type Tool string

const (
	ToolWeb  Tool = "WEB"
	ToolDocs Tool = "DOCS"
)

// Bounds on bundle content.
const (
	MaxSnippets     = 5
	MaxSnippetChars = 500
	MaxMetadataKeys = 10
	MaxTitleChars   = 200
	MaxQueryChars   = 256
)

// Snippet is one bounded text excerpt from a source.
type Snippet struct {
	Text  string
	Start int
	End   int
}

// SourceBundle is one canonicalized retrieval result.
type SourceBundle struct {
	SourceID    string
	Tool        Tool
	URL         string // canonical
	Domain      string
	Title       string
	RetrievedAt int64 // unix ms
	Snippets    []Snippet
	Metadata    map[string]string // primitives only
	Published   string            // RFC3339 date when known
}

// trackingParams are stripped during URL canonicalization.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "gclid": true, "fbclid": true,
	"ref": true,
}

// CanonicalQuery trims, collapses whitespace, and bounds the query.
func CanonicalQuery(q string) string {
	fields := strings.Fields(q)
	out := strings.Join(fields, " ")
	if len(out) > MaxQueryChars {
		out = out[:MaxQueryChars]
	}
	return out
}

// CanonicalURL lowercases scheme and host, strips fragments, default
// ports and tracking params, and sorts remaining query params.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url missing scheme or host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = sb.String()
	return u.String(), nil
}

// DomainOf extracts the bare host from a canonical URL.
func DomainOf(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	host := u.Host
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

// SourceID hashes the bundle's structure only; no snippet or title
// text enters the hash.
func SourceID(tool Tool, canonicalURL, domain string, titleLen, snippetCount int, snippetLens []int, metadataKeys []string) string {
	var b strings.Builder
	b.WriteString(string(tool))
	b.WriteByte('|')
	b.WriteString(canonicalURL)
	b.WriteByte('|')
	b.WriteString(domain)
	fmt.Fprintf(&b, "|%d|%d|", titleLen, snippetCount)
	for _, l := range snippetLens {
		fmt.Fprintf(&b, "%d,", l)
	}
	b.WriteByte('|')
	sorted := append([]string(nil), metadataKeys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		b.WriteString(k)
		b.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Normalize bounds and canonicalizes a raw bundle in place, computing
// its canonical URL, domain and source id. Returns an error when the
// URL is unusable.
func Normalize(b *SourceBundle, nowMs int64) error {
	canonical, err := CanonicalURL(b.URL)
	if err != nil {
		return err
	}
	b.URL = canonical
	b.Domain = DomainOf(canonical)
	b.RetrievedAt = nowMs

	if len(b.Title) > MaxTitleChars {
		b.Title = b.Title[:MaxTitleChars]
	}
	if len(b.Snippets) > MaxSnippets {
		b.Snippets = b.Snippets[:MaxSnippets]
	}
	for i := range b.Snippets {
		if len(b.Snippets[i].Text) > MaxSnippetChars {
			b.Snippets[i].Text = b.Snippets[i].Text[:MaxSnippetChars]
		}
	}
	if len(b.Metadata) > MaxMetadataKeys {
		keys := make([]string, 0, len(b.Metadata))
		for k := range b.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		trimmed := make(map[string]string, MaxMetadataKeys)
		for _, k := range keys[:MaxMetadataKeys] {
			trimmed[k] = b.Metadata[k]
		}
		b.Metadata = trimmed
	}

	lens := make([]int, len(b.Snippets))
	for i, s := range b.Snippets {
		lens[i] = len(s.Text)
	}
	keys := make([]string, 0, len(b.Metadata))
	for k := range b.Metadata {
		keys = append(keys, k)
	}
	b.SourceID = SourceID(b.Tool, b.URL, b.Domain, len(b.Title), len(b.Snippets), lens, keys)
	return nil
}

// structuralKey is the last-resort dedup key.
func structuralKey(b SourceBundle) string {
	return fmt.Sprintf("%s|%s|%d|%d", b.Tool, b.Domain, len(b.Title), len(b.Snippets))
}

// richness orders duplicate candidates: more metadata, more snippets,
// more snippet text wins; ties break on canonical URL then source id.
func richness(b SourceBundle) (int, int, int) {
	total := 0
	for _, s := range b.Snippets {
		total += len(s.Text)
	}
	return len(b.Metadata), len(b.Snippets), total
}

func betterBundle(a, b SourceBundle) bool {
	am, as, at := richness(a)
	bm, bs, bt := richness(b)
	if am != bm {
		return am > bm
	}
	if as != bs {
		return as > bs
	}
	if at != bt {
		return at > bt
	}
	if a.URL != b.URL {
		return a.URL < b.URL
	}
	return a.SourceID < b.SourceID
}

// DedupBundles deterministically removes duplicates. Keying prefers
// (tool, canonical URL), then (tool, source id), then a structural
// fallback. Output order is stable regardless of input permutation.
func DedupBundles(bundles []SourceBundle) []SourceBundle {
	winners := make(map[string]SourceBundle)
	keyOf := func(b SourceBundle) string {
		if b.URL != "" {
			return "u|" + string(b.Tool) + "|" + b.URL
		}
		if b.SourceID != "" {
			return "s|" + string(b.Tool) + "|" + b.SourceID
		}
		return "f|" + structuralKey(b)
	}

	for _, b := range bundles {
		k := keyOf(b)
		cur, ok := winners[k]
		if !ok || betterBundle(b, cur) {
			winners[k] = b
		}
	}

	out := make([]SourceBundle, 0, len(winners))
	for _, b := range winners {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}
