package api

import (
	"crypto/sha256"
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

// UXState is the coarse client-facing state header.
type UXState string

const (
	UXOK            UXState = "OK"
	UXNeedsInput    UXState = "NEEDS_INPUT"
	UXRateLimited   UXState = "RATE_LIMITED"
	UXQuotaExceeded UXState = "QUOTA_EXCEEDED"
	UXDegraded      UXState = "DEGRADED"
	UXBlocked       UXState = "BLOCKED"
	UXError         UXState = "ERROR"
)

// deriveUXState maps the final (status, action, failure) triple to the
// header value. quotaDenied and blocked disambiguate the 429 cases.
func deriveUXState(status int, action ChatAction, ft *FailureType, quotaDenied, blocked bool) UXState {
	switch {
	case status == http.StatusTooManyRequests && blocked:
		return UXBlocked
	case status == http.StatusTooManyRequests && quotaDenied:
		return UXQuotaExceeded
	case status == http.StatusTooManyRequests:
		return UXRateLimited
	case status == http.StatusServiceUnavailable:
		return UXDegraded
	case status == http.StatusInternalServerError:
		return UXError
	case action == ActionAsk:
		return UXNeedsInput
	case ft != nil && *ft == FailureEmptyInput:
		return UXNeedsInput
	case status >= 400:
		return UXError
	case ft != nil:
		return UXDegraded
	default:
		return UXOK
	}
}

// clampCooldown bounds a retry hint to [1, 86400] seconds.
func clampCooldown(secs int) int {
	if secs < 1 {
		return 1
	}
	if secs > 86400 {
		return 86400
	}
	return secs
}

// securityHeaders applies the fixed header set. HSTS only over HTTPS
// to a non-local host.
func securityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Permissions-Policy", "geolocation=(),microphone=(),camera=()")
	h.Set("Cache-Control", "no-store")

	if r.TLS != nil && !isLocalHost(r.Host) {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

func isLocalHost(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i > 0 {
		h = h[:i]
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1" || h == ""
}

// canaryBucket hashes the request id into 100 buckets.
func canaryBucket(requestID string) int {
	sum := sha256.Sum256([]byte(requestID))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

// inCanary decides canary membership from the allowlist or the bucket.
func inCanary(cfg config.CanarySettings, subjectID, requestID string) bool {
	if !cfg.Enabled {
		return false
	}
	for _, s := range cfg.Allowlist {
		if s == subjectID {
			return true
		}
	}
	return canaryBucket(requestID) < cfg.Percent
}

// finishHeaders stamps the UX state, cooldown, version and canary
// headers just before the body is written.
func finishHeaders(w http.ResponseWriter, cfg *config.Settings, status int, resp ChatResponse, retryAfter int, quotaDenied, blocked bool, subjectID, requestID string) {
	h := w.Header()
	h.Set("X-UX-State", string(deriveUXState(status, resp.Action, resp.FailureType, quotaDenied, blocked)))
	if retryAfter > 0 {
		cd := clampCooldown(retryAfter)
		h.Set("Retry-After", strconv.Itoa(cd))
		h.Set("X-Cooldown-Seconds", strconv.Itoa(cd))
	}
	if cfg.BuildVersion != "" {
		h.Set("X-Build-Version", cfg.BuildVersion)
	}
	if cfg.Canary.Enabled && cfg.Canary.Header {
		if inCanary(cfg.Canary, subjectID, requestID) {
			h.Set("X-Release-Track", "canary")
		} else {
			h.Set("X-Release-Track", "stable")
		}
	}
}
