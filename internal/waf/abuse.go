package waf

import (
	"strings"
)

// AbuseDecision is the scorer outcome.
type AbuseDecision string

const (
	AbuseAllow     AbuseDecision = "ALLOW"
	AbuseRateLimit AbuseDecision = "RATE_LIMIT"
	AbuseBlock     AbuseDecision = "BLOCK"
)

// AbuseSignals are the request features the scorer looks at. All
// pre-extracted so the scorer stays a pure function.
type AbuseSignals struct {
	UserAgent       string
	AcceptHeader    string
	ContentType     string
	Method          string
	Path            string
	IsAnonymous     bool
	SensitivePath   bool
	LimiterFallback bool
	Scheme          string
	Host            string
}

// AbuseResult carries the decision plus a bounded reason tag.
type AbuseResult struct {
	Decision       AbuseDecision
	Score          int
	Reason         string
	RetryAfterSecs int
}

var suspiciousAgentMarkers = []string{"curl/", "python-requests", "wget/", "scrapy", "httpclient", "go-http-client"}

// ScoreAbuse heuristically scores request signals. Deterministic:
// same signals, same result.
func ScoreAbuse(s AbuseSignals) AbuseResult {
	score := 0
	var tags []string

	add := func(points int, tag string) {
		score += points
		if len(tags) < 2 {
			tags = append(tags, tag)
		}
	}

	if s.UserAgent == "" {
		add(30, "no_ua")
	} else {
		ua := strings.ToLower(s.UserAgent)
		for _, m := range suspiciousAgentMarkers {
			if strings.Contains(ua, m) {
				add(10, "script_ua")
				break
			}
		}
	}
	if s.AcceptHeader == "" {
		add(15, "no_accept")
	}
	if s.Method == "POST" && !strings.HasPrefix(strings.ToLower(s.ContentType), "application/json") {
		add(15, "bad_content_type")
	}
	if s.Method != "GET" && s.Method != "POST" {
		add(10, "odd_method")
	}
	if s.IsAnonymous && s.SensitivePath {
		add(15, "anon_sensitive")
	}
	if s.LimiterFallback {
		add(10, "limiter_fallback")
	}
	if s.Scheme != "https" && !isLocalHost(s.Host) {
		add(10, "plain_http")
	}

	if score > 100 {
		score = 100
	}

	res := AbuseResult{Score: score, Reason: strings.Join(tags, "+")}
	switch {
	case score >= 90:
		res.Decision = AbuseBlock
		res.RetryAfterSecs = 600
	case score >= 70:
		res.Decision = AbuseRateLimit
		res.RetryAfterSecs = 60
	default:
		res.Decision = AbuseAllow
	}
	return res
}

func isLocalHost(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i > 0 {
		h = h[:i]
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1" || h == ""
}
