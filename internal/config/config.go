// Package config builds the immutable Settings value the server runs
// with. Everything is read once at startup; handlers never touch the
// environment directly.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env is the deployment environment.
type Env string

const (
	EnvLocal      Env = "local"
	EnvStaging    Env = "staging"
	EnvProduction Env = "production"
)

// Settings is the full, immutable runtime configuration.
type Settings struct {
	AppEnv      Env
	Port        string
	DatabaseURL string
	DebugErrors bool

	// CORS / DB gates
	CORSOrigins     []string
	DBHostAllowlist []string

	// Identity
	IdentityHashSalt   string
	AnonSessionTTLDays int
	AuthCookieSecure   bool
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTAud     string
	SupabaseJWTIssuer  string

	WAF   WAFSettings
	Cost  CostSettings
	Model ModelSettings
	Plans PlanSettings

	// Chaos flags (deterministic overrides for drills and tests)
	ForceBreakerOpen     bool
	ForceBudgetBlock     bool
	ForceProviderTimeout bool
	ForceQualityFail     bool
	ForceSafetyBlock     bool

	Canary CanarySettings

	BuildVersion string
	RedisAddr    string
}

// WAFSettings tunes the admission guard.
type WAFSettings struct {
	MaxBodyBytes     int64
	MaxUserTextChars int

	IPBurstLimit         int
	IPBurstWindowSecs    int
	IPSustainLimit       int
	IPSustainWindowSecs  int
	SubBurstLimit        int
	SubBurstWindowSecs   int
	SubSustainLimit      int
	SubSustainWindowSecs int

	LockoutScheduleSecs []int
	LockoutCooldownSecs int
	EnforceRoutes       []string
}

// CostSettings tunes budgets and the provider circuit breaker.
type CostSettings struct {
	GlobalDailyTokenCap  int64
	ActorDailyTokenCap   int64
	IPWindowTokenCap     int64
	IPWindowSecs         int
	RequestMaxTokens     int
	RequestMaxOutTokens  int
	BreakerFailThreshold int
	BreakerWindowSecs    int
	BreakerCooldownSecs  int
	UsageRingSize        int
}

// ModelSettings wires the provider client.
type ModelSettings struct {
	Provider           string
	Name               string
	APIKey             string
	BaseURL            string
	TimeoutSecs        int
	ConnectTimeoutSecs int
	CallsEnabled       bool
	MaxAttempts        int
	TotalTimeoutMs     int64
	PerAttemptMs       int64
}

// PlanSettings routes subjects to plan tiers.
type PlanSettings struct {
	Default      string
	ProSubjects  []string
	MaxSubjects  []string
	OverrideFile string
}

// CanarySettings governs release canary bucketing.
type CanarySettings struct {
	Enabled   bool
	Percent   int
	Allowlist []string
	Header    bool
}

// Load reads the environment into Settings and applies the strict
// gates for non-local environments. It returns an error rather than a
// partially valid value.
func Load() (*Settings, error) {
	s := &Settings{
		AppEnv:             Env(envOr("APP_ENV", string(EnvLocal))),
		Port:               envOr("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DebugErrors:        envBool("DEBUG_ERRORS", false),
		CORSOrigins:        envCSV("CORS_ORIGINS"),
		IdentityHashSalt:   envOr("IDENTITY_HASH_SALT", "dev-salt"),
		AnonSessionTTLDays: envInt("ANON_SESSION_TTL_DAYS", 30),
		AuthCookieSecure:   envBool("AUTH_COOKIE_SECURE", false),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseJWTAud:     os.Getenv("SUPABASE_JWT_AUD"),
		SupabaseJWTIssuer:  os.Getenv("SUPABASE_JWT_ISSUER"),
		WAF: WAFSettings{
			MaxBodyBytes:         int64(envInt("WAF_MAX_BODY_BYTES", 16384)),
			MaxUserTextChars:     envInt("WAF_MAX_USER_TEXT_CHARS", 2000),
			IPBurstLimit:         envInt("WAF_IP_BURST_LIMIT", 10),
			IPBurstWindowSecs:    envInt("WAF_IP_BURST_WINDOW_SECONDS", 10),
			IPSustainLimit:       envInt("WAF_IP_SUSTAIN_LIMIT", 120),
			IPSustainWindowSecs:  envInt("WAF_IP_SUSTAIN_WINDOW_SECONDS", 3600),
			SubBurstLimit:        envInt("WAF_SUBJECT_BURST_LIMIT", 6),
			SubBurstWindowSecs:   envInt("WAF_SUBJECT_BURST_WINDOW_SECONDS", 10),
			SubSustainLimit:      envInt("WAF_SUBJECT_SUSTAIN_LIMIT", 60),
			SubSustainWindowSecs: envInt("WAF_SUBJECT_SUSTAIN_WINDOW_SECONDS", 3600),
			LockoutScheduleSecs:  envIntCSV("WAF_LOCKOUT_SCHEDULE_SECONDS", []int{30, 120, 600, 3600}),
			LockoutCooldownSecs:  envInt("WAF_LOCKOUT_COOLDOWN_SECONDS", 900),
			EnforceRoutes:        envCSVOr("WAF_ENFORCE_ROUTES", []string{"/api/chat"}),
		},
		Cost: CostSettings{
			GlobalDailyTokenCap:  envInt64("COST_GLOBAL_DAILY_TOKEN_CAP", 2_000_000),
			ActorDailyTokenCap:   envInt64("COST_ACTOR_DAILY_TOKEN_CAP", 0),
			IPWindowTokenCap:     envInt64("COST_IP_WINDOW_TOKEN_CAP", 60_000),
			IPWindowSecs:         envInt("COST_IP_WINDOW_SECONDS", 3600),
			RequestMaxTokens:     envInt("COST_REQUEST_MAX_TOKENS", 6000),
			RequestMaxOutTokens:  envInt("COST_REQUEST_MAX_OUTPUT_TOKENS", 2000),
			BreakerFailThreshold: envInt("MODEL_CIRCUIT_BREAKER_THRESHOLD", 5),
			BreakerWindowSecs:    envInt("MODEL_CIRCUIT_BREAKER_WINDOW_SECONDS", 60),
			BreakerCooldownSecs:  envInt("MODEL_CIRCUIT_BREAKER_COOLDOWN_SECONDS", 30),
			UsageRingSize:        envInt("COST_USAGE_RING_SIZE", 2048),
		},
		Model: ModelSettings{
			Provider:           envOr("MODEL_PROVIDER", "stub"),
			Name:               envOr("MODEL_NAME", "stub-model"),
			APIKey:             os.Getenv("MODEL_API_KEY"),
			BaseURL:            os.Getenv("MODEL_BASE_URL"),
			TimeoutSecs:        envInt("MODEL_TIMEOUT_SECONDS", 20),
			ConnectTimeoutSecs: envInt("MODEL_CONNECT_TIMEOUT_SECONDS", 5),
			CallsEnabled:       envBool("MODEL_CALLS_ENABLED", true),
			MaxAttempts:        envInt("MODEL_MAX_ATTEMPTS", 2),
			TotalTimeoutMs:     envInt64("MODEL_TOTAL_TIMEOUT_MS", 25_000),
			PerAttemptMs:       envInt64("MODEL_PER_ATTEMPT_TIMEOUT_MS", 15_000),
		},
		Plans: PlanSettings{
			Default:      envOr("PLAN_DEFAULT", "FREE"),
			ProSubjects:  envCSV("PRO_SUBJECTS"),
			MaxSubjects:  envCSV("MAX_SUBJECTS"),
			OverrideFile: os.Getenv("PLAN_OVERRIDE_FILE"),
		},
		ForceBreakerOpen:     envBool("FORCE_BREAKER_OPEN", false),
		ForceBudgetBlock:     envBool("FORCE_BUDGET_BLOCK", false),
		ForceProviderTimeout: envBool("FORCE_PROVIDER_TIMEOUT", false),
		ForceQualityFail:     envBool("FORCE_QUALITY_FAIL", false),
		ForceSafetyBlock:     envBool("FORCE_SAFETY_BLOCK", false),
		Canary: CanarySettings{
			Enabled:   envBool("RELEASE_CANARY_ENABLED", false),
			Percent:   envInt("RELEASE_CANARY_PERCENT", 0),
			Allowlist: envCSV("RELEASE_CANARY_ALLOWLIST"),
			Header:    envBool("RELEASE_CANARY_HEADER", true),
		},
		BuildVersion: os.Getenv("BUILD_VERSION"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
	}

	switch s.AppEnv {
	case EnvStaging:
		s.DBHostAllowlist = envCSV("DB_HOST_ALLOWLIST_STAGING")
	case EnvProduction:
		s.DBHostAllowlist = envCSV("DB_HOST_ALLOWLIST_PROD")
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// validate applies the strict gates outside the local environment.
func (s *Settings) validate() error {
	if s.AppEnv == EnvLocal {
		return nil
	}

	if s.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in %s", s.AppEnv)
	}
	if len(s.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must be non-empty in %s", s.AppEnv)
	}
	if s.AppEnv == EnvProduction {
		for _, o := range s.CORSOrigins {
			if o == "*" || strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") {
				return fmt.Errorf("CORS origin %q not allowed in production", o)
			}
		}
		if s.DebugErrors {
			return fmt.Errorf("DEBUG_ERRORS must be off in production")
		}
	}
	if len(s.DBHostAllowlist) > 0 {
		host, err := dbHost(s.DatabaseURL)
		if err != nil {
			return fmt.Errorf("DATABASE_URL unparsable: %w", err)
		}
		if !hostAllowed(host, s.DBHostAllowlist) {
			return fmt.Errorf("database host %q not in allowlist", host)
		}
	}
	return nil
}

// dbHost extracts host[:port] from a connection URL.
func dbHost(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// hostAllowed matches either host or host:port entries.
func hostAllowed(host string, allow []string) bool {
	bare := host
	if i := strings.LastIndex(host, ":"); i > 0 {
		bare = host[:i]
	}
	for _, a := range allow {
		if a == host || a == bare {
			return true
		}
	}
	return false
}

// ModelTimeout returns the per-call provider timeout as a duration.
func (s *Settings) ModelTimeout() time.Duration {
	return time.Duration(s.Model.TimeoutSecs) * time.Second
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func envCSVOr(key string, def []string) []string {
	if v := envCSV(key); len(v) > 0 {
		return v
	}
	return def
}

func envIntCSV(key string, def []int) []int {
	v := envCSV(key)
	if len(v) == 0 {
		return def
	}
	out := make([]int, 0, len(v))
	for _, p := range v {
		n, err := strconv.Atoi(p)
		if err != nil {
			return def
		}
		out = append(out, n)
	}
	return out
}
