package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/klabs/labelqueue/internal/api/middleware"
)

func promHandler() http.Handler { return promhttp.Handler() }

// RouterConfig holds router configuration (§6 HTTP surface).
type RouterConfig struct {
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	Logger *slog.Logger

	Handlers *Handlers
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig(logger *slog.Logger, h *Handlers) RouterConfig {
	return RouterConfig{
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
		CORSConfig:         middleware.DefaultCORSConfig(),
		Logger:             logger,
		Handlers:           h,
	}
}

// NewRouter creates the labeling-queue API router (§6).
//
// The middleware stack is applied in order:
//  1. RequestID (always)
//  2. Logging (always)
//  3. Metrics (if enabled)
//  4. CORS (if enabled)
//  5. Compression (if enabled)
//  6. Tenant extraction + validation (every /v1 route)
//  7. Route-specific: permission checks, body validation
//
// @title Labeling Queue API
// @version 1.0.0
// @description Multi-tenant human-labeling queue service
// @BasePath /v1
// @schemes http https
func NewRouter(config RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(config.Logger))

	if config.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if config.EnableCORS {
		router.Use(middleware.CORSMiddleware(config.CORSConfig))
	}
	if config.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}

	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promHandler()).Methods(http.MethodGet)
	router.PathPrefix("/swagger").Handler(httpSwagger.WrapHandler)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.TenantMiddleware)
	if config.EnableRateLimit {
		v1.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}
	v1.Use(middleware.ValidationMiddleware)

	setupV1Routes(v1, config)

	return router
}

func setupV1Routes(v1 *mux.Router, config RouterConfig) {
	h := config.Handlers
	access := h.Access

	manageQueue := middleware.RequirePermission(access.HasPermission, "manage_queue")
	requestAssignment := middleware.RequirePermission(access.HasPermission, "fetch_next")
	submitLabel := middleware.RequirePermission(access.HasPermission, "submit_label")
	skipAssignment := middleware.RequirePermission(access.HasPermission, "skip")
	viewLabels := middleware.RequirePermission(access.HasPermission, "view_labels")

	schemas := v1.PathPrefix("/schemas").Subrouter()
	schemas.Handle("", manageQueue(http.HandlerFunc(h.CreateSchema))).Methods(http.MethodPost)
	schemas.HandleFunc("/{id}", h.GetSchema).Methods(http.MethodGet)

	queues := v1.PathPrefix("/queues").Subrouter()
	queues.Handle("", manageQueue(http.HandlerFunc(h.CreateQueue))).Methods(http.MethodPost)
	queues.HandleFunc("/{id}", h.GetQueue).Methods(http.MethodGet)
	queues.Handle("/{queue_id}/assignments/next", requestAssignment(http.HandlerFunc(h.FetchNextAssignment))).Methods(http.MethodGet)
	queues.Handle("/{queue_id}/stats/feed", viewLabels(http.HandlerFunc(h.QueueStatsFeed))).Methods(http.MethodGet)

	samples := v1.PathPrefix("/samples").Subrouter()
	samples.Handle("", requestAssignment(http.HandlerFunc(h.CreateSample))).Methods(http.MethodPost)
	samples.HandleFunc("/{id}", h.GetSample).Methods(http.MethodGet)

	assignments := v1.PathPrefix("/assignments").Subrouter()
	assignments.Handle("/{id}/skip", skipAssignment(http.HandlerFunc(h.SkipAssignment))).Methods(http.MethodPost)

	labels := v1.PathPrefix("/labels").Subrouter()
	labels.Handle("", submitLabel(http.HandlerFunc(h.SubmitLabel))).Methods(http.MethodPost)

	datasets := v1.PathPrefix("/datasets").Subrouter()
	datasets.Handle("/{id}", viewLabels(http.HandlerFunc(h.GetDataset))).Methods(http.MethodGet)
	datasets.Handle("/{id}/slices/{name}", viewLabels(http.HandlerFunc(h.GetDatasetSlice))).Methods(http.MethodGet)
}
