// Package identity resolves who a request belongs to. A verified
// bearer token yields a user identity; everything else collapses to an
// anonymous cookie identity. Verification failures never raise; they
// degrade to anonymous.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

// SubjectType says what kind of subject the request is attributed to.
type SubjectType string

const (
	SubjectUser SubjectType = "user"
	SubjectAnon SubjectType = "anon"
	SubjectIP   SubjectType = "ip"
)

// Context is the immutable per-request identity. Built once at entry,
// read-only afterwards.
type Context struct {
	IsAuthenticated bool
	UserID          string
	AnonID          string
	SubjectType     SubjectType
	SubjectID       string
	IPHash          string
	UserAgentHash   string
	SetCookie       *http.Cookie // non-nil when a fresh anon cookie must be issued
}

const anonCookieName = "anon_id"

// Resolver builds identity contexts.
type Resolver struct {
	settings *config.Settings
	verifier *TokenVerifier
	logger   *log.Logger
}

// NewResolver wires the resolver; verifier may be nil when no issuer
// is configured.
func NewResolver(s *config.Settings, verifier *TokenVerifier) *Resolver {
	return &Resolver{
		settings: s,
		verifier: verifier,
		logger:   log.New(log.Writer(), "[IDENTITY] ", log.LstdFlags),
	}
}

// Resolve derives the identity context for a request. It never fails:
// any token problem degrades to an anonymous identity.
func (r *Resolver) Resolve(req *http.Request) Context {
	ic := Context{
		IPHash:        r.saltedHash(clientIP(req)),
		UserAgentHash: r.saltedHash(req.UserAgent()),
	}

	if sub, ok := r.verifyBearer(req); ok {
		ic.IsAuthenticated = true
		ic.UserID = sub
		ic.SubjectType = SubjectUser
		ic.SubjectID = sub
		return ic
	}

	anonID, fresh := r.anonID(req)
	ic.AnonID = anonID
	ic.SubjectType = SubjectAnon
	ic.SubjectID = anonID
	if fresh {
		ic.SetCookie = r.anonCookie(anonID)
	}
	if ic.SubjectID == "" {
		// No cookie and cookie issuing failed: fall back to the IP hash.
		ic.SubjectType = SubjectIP
		ic.SubjectID = ic.IPHash
	}
	return ic
}

// verifyBearer validates an Authorization bearer token if present and
// a verifier is configured.
func (r *Resolver) verifyBearer(req *http.Request) (string, bool) {
	if r.verifier == nil {
		return "", false
	}
	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	sub, err := r.verifier.Verify(req.Context(), token)
	if err != nil {
		r.logger.Printf("bearer rejected: %v", err)
		return "", false
	}
	return sub, true
}

// anonID reuses the anon cookie if valid, else mints a new UUID.
func (r *Resolver) anonID(req *http.Request) (id string, fresh bool) {
	if c, err := req.Cookie(anonCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value, false
		}
	}
	return uuid.NewString(), true
}

func (r *Resolver) anonCookie(id string) *http.Cookie {
	ttl := time.Duration(r.settings.AnonSessionTTLDays) * 24 * time.Hour
	return &http.Cookie{
		Name:     anonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.settings.AuthCookieSecure,
	}
}

// saltedHash returns hex(sha256(salt || value)). Raw IPs and user
// agents are never stored or logged.
func (r *Resolver) saltedHash(value string) string {
	h := sha256.Sum256([]byte(r.settings.IdentityHashSalt + value))
	return hex.EncodeToString(h[:])
}

// clientIP prefers the first X-Forwarded-For hop, then RemoteAddr.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
