// Package bootstrap wires the labeling queue's components together from a loaded Config: store,
// sample bridge, dispatcher, background workers, and the HTTP router. Both the serve and worker
// commands of cmd/labelqueue build a Runtime from the same config and share this assembly so the
// two processes never drift in how a component gets constructed.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klabs/labelqueue/internal/api"
	"github.com/klabs/labelqueue/internal/bridge"
	"github.com/klabs/labelqueue/internal/config"
	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/database"
	"github.com/klabs/labelqueue/internal/database/postgres"
	"github.com/klabs/labelqueue/internal/dispatcher"
	"github.com/klabs/labelqueue/internal/export"
	"github.com/klabs/labelqueue/internal/infrastructure/cache"
	"github.com/klabs/labelqueue/internal/policy"
	"github.com/klabs/labelqueue/internal/schema"
	"github.com/klabs/labelqueue/internal/store"
	"github.com/klabs/labelqueue/internal/telemetry"
	"github.com/klabs/labelqueue/internal/tenant"
	"github.com/klabs/labelqueue/internal/workers"

	"log/slog"
)

// Runtime holds every constructed component a serve or worker process needs.
type Runtime struct {
	Config     *config.Config
	Store      core.Store
	Bridge     core.SampleBridge
	Dispatcher *dispatcher.Dispatcher
	Exporter   *export.Exporter
	Access     tenant.Access
	Clock      core.Clock

	Timeout    *workers.TimeoutWorker
	Retention  *workers.RetentionWorker
	Agreement  *workers.AgreementWorker
	Hub        *api.Hub
	Telemetry  core.Telemetry
	URLSigner  *tenant.SignedURLSigner

	closeStore func()
}

// New constructs every component from cfg. Call Close when the process exits.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	st, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	telemetrySink := telemetry.NewPrometheus(nil, "labelqueue")

	sampleBridge, err := buildBridge(cfg, st, logger, telemetrySink)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("build sample bridge: %w", err)
	}

	clock := core.SystemClock{}
	schemas := schema.NewManager(st.Schemas(), clock)

	labelerExpertise := func(labelerID string) float64 {
		return 0 // resolved per-tenant at dispatch time; the Policy interface carries no tenant
	}

	disp := dispatcher.New(st, policy.Router{ExpertiseLookup: labelerExpertise}, schemas, clock, dispatcher.Config{
		PermissiveMode: cfg.App.DispatcherPermissiveSubmit,
		MaxCASRetries:  cfg.App.DispatcherMaxCASRetries,
		Telemetry:      telemetrySink,
	})

	var redisClient *redis.Client
	if cfg.RequiresRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
		})
	}

	hub := api.NewHub()

	rt := &Runtime{
		Config:     cfg,
		Store:      st,
		Bridge:     sampleBridge,
		Dispatcher: disp,
		Exporter:   export.New(st.Labels(), clock).WithTelemetry(telemetrySink).WithAssignments(st.Assignments()),
		Access:     tenant.New(),
		Clock:      clock,
		Timeout:    workers.NewTimeoutWorker(st, clock, cfg.App.TimeoutSweepInterval, cfg.App.TimeoutRequeueDelay, cfg.App.TimeoutMaxRequeues, logger),
		Retention:  workers.NewRetentionWorker(st, clock, cfg.App.RetentionSweepInterval, cfg.App.AuditRetention, logger),
		Agreement:  workers.NewAgreementWorker(st, auditAgreementStore{audit: st.Audit()}, redisClient, cfg.App.AgreementRecomputeInterval, 24*time.Hour, cfg.App.AgreementMinRaters, logger).WithTelemetry(telemetrySink),
		Hub:        hub,
		Telemetry:  telemetrySink,
		URLSigner:  tenant.NewSignedURLSigner([]byte(cfg.Pseudonym.Secret), clock),
		closeStore: closeStore,
	}
	return rt, nil
}

// Close releases the store connection. Workers must be stopped separately by the caller, since
// only the caller knows whether it started them.
func (r *Runtime) Close() {
	if r.closeStore != nil {
		r.closeStore()
	}
}

// StartWorkers starts all three background workers against ctx.
func (r *Runtime) StartWorkers(ctx context.Context) {
	r.Timeout.Start(ctx)
	r.Retention.Start(ctx)
	r.Agreement.Start(ctx)
}

// StopWorkers stops all three background workers.
func (r *Runtime) StopWorkers() {
	r.Timeout.Stop()
	r.Retention.Stop()
	r.Agreement.Stop()
}

// Router builds the HTTP router over this Runtime's components.
func (r *Runtime) Router(logger *slog.Logger) http.Handler {
	handlers := &api.Handlers{
		Store:      r.Store,
		Dispatcher: r.Dispatcher,
		Bridge:     r.Bridge,
		Exporter:   r.Exporter,
		Access:     r.Access,
		Clock:      r.Clock,
		Hub:        r.Hub,
		URLSigner:  r.URLSigner,
		SignedURLTTL: r.Config.Export.SignedURLTTL,
	}
	return api.NewRouter(api.DefaultRouterConfig(logger, handlers))
}

// auditAgreementStore satisfies workers.AgreementStore by recording each recomputed score as an
// audit log entry, since agreement results have no dedicated table of their own (§4.8).
type auditAgreementStore struct {
	audit core.AuditStore
}

func (a auditAgreementStore) RecordAgreement(ctx context.Context, tenant, queue, sampleID, metric string, value float64, at time.Time) error {
	return a.audit.Append(ctx, core.AuditLog{
		ID:         fmt.Sprintf("%s-%s-%s-%d", queue, sampleID, metric, at.UnixNano()),
		Tenant:     tenant,
		EntityType: "agreement",
		EntityID:   sampleID,
		Action:     core.AuditAction("agreement_recomputed"),
		Actor:      "agreement-worker",
		Metadata: map[string]interface{}{
			"queue":  queue,
			"metric": metric,
			"value":  value,
		},
		OccurredAt: at,
	})
}

// buildStore selects a Store implementation per the deployment profile (§2, §9 Open Question #1):
// lite uses embedded SQLite, standard uses Postgres.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Store, func(), error) {
	clock := core.SystemClock{}

	switch cfg.Storage.Backend {
	case config.StorageBackendFilesystem:
		s, err := store.OpenSQLiteStore(cfg.Storage.FilesystemPath, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorageBackendPostgres:
		pgCfg := postgres.LoadFromEnv()
		pool := postgres.NewPostgresPool(pgCfg, logger)
		if err := pool.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.RunMigrations(ctx, pool, logger); err != nil {
			logger.Warn("continuing without migrations - manual intervention may be required", "error", err)
		}
		s := store.NewPostgresStore(pool, clock)
		return s, func() { _ = s.Close(); _ = pool.Disconnect(ctx) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildBridge selects a SampleBridge implementation per cfg.Bridge.Mode (§4.2).
func buildBridge(cfg *config.Config, st core.Store, logger *slog.Logger, telemetrySink core.Telemetry) (core.SampleBridge, error) {
	switch cfg.Bridge.Mode {
	case "http":
		return bridge.NewHTTP(cfg.Bridge.BaseURL, &http.Client{Timeout: cfg.Bridge.Timeout}).WithTelemetry(telemetrySink), nil
	case "cached":
		if cfg.Bridge.BaseURL == "" {
			return nil, fmt.Errorf("bridge.base_url is required for cached mode")
		}
		inner := bridge.NewHTTP(cfg.Bridge.BaseURL, &http.Client{Timeout: cfg.Bridge.Timeout}).WithTelemetry(telemetrySink)
		redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		return bridge.NewCached(inner, redisCache, cfg.Bridge.CacheTTL, cfg.Bridge.LocalCacheSize, cfg.Bridge.WarmConcurrency, logger)
	default:
		return bridge.NewDirect(st.Samples(), nil), nil
	}
}
