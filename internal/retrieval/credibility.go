package retrieval

import (
	"strings"
	"time"
)

// DomainClass buckets a source's host for base credibility.
type DomainClass string

const (
	DomainGov        DomainClass = "GOV"
	DomainEdu        DomainClass = "EDU"
	DomainJournal    DomainClass = "JOURNAL"
	DomainOfficial   DomainClass = "OFFICIAL"
	DomainMajorMedia DomainClass = "MAJOR_MEDIA"
	DomainUGC        DomainClass = "UGC"
	DomainUnknown    DomainClass = "UNKNOWN"
)

// Base scores per domain class, on a 0..100 scale.
var classBase = map[DomainClass]int{
	DomainGov:        90,
	DomainEdu:        85,
	DomainJournal:    85,
	DomainOfficial:   75,
	DomainMajorMedia: 65,
	DomainUGC:        35,
	DomainUnknown:    45,
}

var journalHosts = map[string]bool{
	"nature.com": true, "sciencemag.org": true, "thelancet.com": true,
	"nejm.org": true, "arxiv.org": true, "acm.org": true, "ieee.org": true,
}

var majorMediaHosts = map[string]bool{
	"reuters.com": true, "apnews.com": true, "bbc.com": true, "bbc.co.uk": true,
	"nytimes.com": true, "wsj.com": true, "theguardian.com": true,
}

var ugcHosts = map[string]bool{
	"reddit.com": true, "twitter.com": true, "x.com": true,
	"facebook.com": true, "medium.com": true, "quora.com": true,
	"stackoverflow.com": true, "youtube.com": true, "tiktok.com": true,
}

var officialHosts = map[string]bool{
	"docs.python.org": true, "go.dev": true, "developer.mozilla.org": true,
	"kubernetes.io": true, "postgresql.org": true, "redis.io": true,
}

// ClassifyDomain maps a host to its class. Suffix checks handle
// country TLD variants like .gov.uk and .edu.au.
func ClassifyDomain(host string) DomainClass {
	h := strings.ToLower(strings.TrimPrefix(host, "www."))
	switch {
	case strings.HasSuffix(h, ".gov") || strings.Contains(h, ".gov."):
		return DomainGov
	case strings.HasSuffix(h, ".edu") || strings.Contains(h, ".edu."):
		return DomainEdu
	case lookupSuffix(h, journalHosts):
		return DomainJournal
	case lookupSuffix(h, officialHosts):
		return DomainOfficial
	case lookupSuffix(h, majorMediaHosts):
		return DomainMajorMedia
	case lookupSuffix(h, ugcHosts):
		return DomainUGC
	default:
		return DomainUnknown
	}
}

func lookupSuffix(host string, set map[string]bool) bool {
	if set[host] {
		return true
	}
	for h := range set {
		if strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Grade is the credibility verdict for one bundle.
type Grade struct {
	SourceID     string
	Class        DomainClass
	Score        int // 0..100 after all adjustments
	Freshness    int // 0..10 component
	Corroborated bool
}

// freshnessScore rewards recent publication dates. Undated sources
// score zero on this component.
func freshnessScore(published string, nowMs int64) int {
	if published == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, published)
	if err != nil {
		if t, err = time.Parse("2006-01-02", published); err != nil {
			return 0
		}
	}
	age := time.UnixMilli(nowMs).UTC().Sub(t.UTC())
	switch {
	case age < 0:
		return 0
	case age <= 30*24*time.Hour:
		return 10
	case age <= 365*24*time.Hour:
		return 6
	case age <= 3*365*24*time.Hour:
		return 3
	default:
		return 1
	}
}

// penalty deducts for thin or suspicious bundles: no title, a single
// tiny snippet, or a bare IP host.
func penalty(b SourceBundle) int {
	p := 0
	if strings.TrimSpace(b.Title) == "" {
		p += 5
	}
	total := 0
	for _, s := range b.Snippets {
		total += len(s.Text)
	}
	if total < 80 {
		p += 10
	}
	if b.Domain != "" && strings.IndexFunc(b.Domain, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	}) < 0 {
		p += 20
	}
	return p
}

// GradeBundles scores each bundle and marks corroboration: a bundle is
// corroborated when another bundle from a different domain survived
// dedup in the same run. Corroboration adds a flat bonus.
func GradeBundles(bundles []SourceBundle, nowMs int64) []Grade {
	domains := make(map[string]int)
	for _, b := range bundles {
		domains[b.Domain]++
	}

	grades := make([]Grade, len(bundles))
	for i, b := range bundles {
		class := ClassifyDomain(b.Domain)
		fresh := freshnessScore(b.Published, nowMs)
		score := classBase[class] + fresh - penalty(b)

		corroborated := len(domains) > 1
		if corroborated {
			score += 5
		}

		if score > 100 {
			score = 100
		}
		if score < 0 {
			score = 0
		}
		grades[i] = Grade{
			SourceID:     b.SourceID,
			Class:        class,
			Score:        score,
			Freshness:    fresh,
			Corroborated: corroborated,
		}
	}
	return grades
}
