// Package runtime assembles the long-lived server state. Every piece
// of shared mutable state (breaker map, counters, windows, rings, the
// audit chain) lives behind one GovernanceRuntime value that handlers
// receive explicitly. There are no package-level singletons.
package runtime

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/cost"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/database"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/identity"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/memory"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/model"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/observability"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/plan"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/policy"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/retrieval"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/waf"
)

// GovernanceRuntime owns the shared state of the server process.
type GovernanceRuntime struct {
	Settings *config.Settings

	Identity *identity.Resolver
	Guard    *waf.Guard
	Plans    *plan.Resolver
	Quotas   *plan.Quotas
	Cost     *cost.Policy
	Usage    *cost.UsageRing

	Provider model.Provider
	Engine   *model.Engine

	Memory *memory.Store
	Broker *policy.Broker

	Telemetry *observability.Telemetry
	Audit     *observability.AuditChain
	Metrics   *observability.Metrics

	DB       *database.Postgres
	Sessions *database.SupabaseSink

	Now   func() time.Time
	NowMs func() int64

	logger *log.Logger
}

// Deps are the injectable collaborators. Nil fields get production
// defaults; tests override what they need.
type Deps struct {
	DB         *database.Postgres
	Sessions   *database.SupabaseSink
	Provider   model.Provider
	Backends   []retrieval.Backend
	Sinks      []observability.Sink
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// New wires the runtime from settings and dependencies.
func New(cfg *config.Settings, deps Deps) (*GovernanceRuntime, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	nowMs := func() int64 { return now().UnixMilli() }

	verifier := identity.NewTokenVerifier(cfg.SupabaseURL, cfg.SupabaseJWTAud, cfg.SupabaseJWTIssuer)
	plans, err := plan.NewResolver(cfg.Plans)
	if err != nil {
		return nil, err
	}

	var windowStore waf.WindowStore
	var quotaStore plan.QuotaStore
	if deps.DB != nil {
		windowStore = deps.DB
		quotaStore = deps.DB
	}

	breaker := cost.NewBreaker(cost.BreakerConfig{
		FailureThreshold: cfg.Cost.BreakerFailThreshold,
		Window:           time.Duration(cfg.Cost.BreakerWindowSecs) * time.Second,
		Cooldown:         time.Duration(cfg.Cost.BreakerCooldownSecs) * time.Second,
	})

	provider := deps.Provider
	if provider == nil {
		if cfg.Model.CallsEnabled && cfg.Model.BaseURL != "" {
			provider = model.NewHTTPProvider(cfg.Model)
		} else {
			provider = &model.StaticProvider{Reply: "Model calls are disabled in this environment; this is a placeholder reply used for local development."}
		}
	}

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	store := memory.NewStore()
	runner := retrieval.NewRunner(deps.Backends, retrieval.MaxSnippets, nowMs)

	rt := &GovernanceRuntime{
		Settings:  cfg,
		Identity:  identity.NewResolver(cfg, verifier),
		Guard:     waf.NewGuard(cfg.WAF, windowStore),
		Plans:     plans,
		Quotas:    plan.NewQuotas(quotaStore),
		Cost:      cost.NewPolicy(cfg.Cost, breaker),
		Usage:     cost.NewUsageRing(cfg.Cost.UsageRingSize),
		Provider:  provider,
		Engine:    model.NewEngine(nil, now),
		Memory:    store,
		Broker:    policy.NewBroker(runner, store),
		Telemetry: observability.NewTelemetry(deps.Sinks...),
		Audit:     observability.NewAuditChain(4096),
		Metrics:   observability.NewMetrics(reg),
		DB:        deps.DB,
		Sessions:  deps.Sessions,
		Now:       now,
		NowMs:     nowMs,
		logger:    log.New(log.Writer(), "[RUNTIME] ", log.LstdFlags),
	}

	if cfg.ForceBreakerOpen {
		rt.Cost.Breaker().ForceOpen(rt.BreakerKey(), now())
		rt.logger.Printf("breaker forced open for %s", rt.BreakerKey())
	}
	return rt, nil
}

// BreakerKey is the single provider:model breaker key.
func (rt *GovernanceRuntime) BreakerKey() string {
	return rt.Settings.Model.Provider + ":" + rt.Settings.Model.Name
}
