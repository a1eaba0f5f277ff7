package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klabs/labelqueue/internal/agreement"
	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/infrastructure/lock"
	"github.com/klabs/labelqueue/internal/telemetry"
)

// AgreementStore persists computed agreement scores; kept narrow so tests can fake it without
// pulling in the full core.Store surface.
type AgreementStore interface {
	RecordAgreement(ctx context.Context, tenant, queue, sampleID, metric string, value float64, at time.Time) error
}

// AgreementWorker recomputes inter-rater agreement for samples that just crossed their
// redundancy threshold (§4.8). A Redis SETNX-backed lock makes the 24h-window enqueue idempotent
// across multiple worker replicas.
type AgreementWorker struct {
	store    core.Store
	results  AgreementStore
	redis    *redis.Client
	interval time.Duration
	window   time.Duration
	minRaters int
	logger    *slog.Logger
	stopCh    chan struct{}
	telemetry core.Telemetry
}

func NewAgreementWorker(store core.Store, results AgreementStore, redisClient *redis.Client, interval, window time.Duration, minRaters int, logger *slog.Logger) *AgreementWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgreementWorker{
		store: store, results: results, redis: redisClient, interval: interval,
		window: window, minRaters: minRaters, logger: logger, stopCh: make(chan struct{}),
		telemetry: telemetry.Noop{},
	}
}

// WithTelemetry attaches a measurement sink for agreement computation duration; returns w for
// chaining.
func (w *AgreementWorker) WithTelemetry(t core.Telemetry) *AgreementWorker {
	if t != nil {
		w.telemetry = t
	}
	return w
}

func (w *AgreementWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if err := w.RecomputeDueQueues(ctx); err != nil {
					w.logger.Error("agreement recompute failed", "error", err)
				}
			}
		}
	}()
}

func (w *AgreementWorker) Stop() { close(w.stopCh) }

// RecomputeDueQueues scans every active queue across every tenant and recomputes agreement for
// each (§4.8). A failure on one queue is logged and does not stop the sweep from reaching the
// rest.
func (w *AgreementWorker) RecomputeDueQueues(ctx context.Context) error {
	queues, err := w.store.Queues().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active queues: %w", err)
	}
	for _, q := range queues {
		if err := w.RecomputeQueue(ctx, q.Tenant, q.ID); err != nil {
			w.logger.Error("agreement recompute failed for queue", "tenant", q.Tenant, "queue", q.ID, "error", err)
		}
	}
	return nil
}

// RecomputeQueue recomputes agreement for every sample in queue with at least minRaters labels,
// guarded by an idempotent lock keyed by queue+day so concurrent worker replicas don't double
// count (§4.8 "24h idempotent enqueue window").
func (w *AgreementWorker) RecomputeQueue(ctx context.Context, tenant, queueID string) error {
	started := time.Now()
	processed := 0
	defer func() {
		w.telemetry.Record("agreement_recompute", map[string]float64{
			"duration_seconds": time.Since(started).Seconds(),
			"samples":          float64(processed),
		}, map[string]string{"queue": queueID})
	}()

	lockKey := fmt.Sprintf("agreement-recompute:%s:%s:%s", tenant, queueID, w.windowBucket())
	if w.redis != nil {
		dl := lock.NewDistributedLock(w.redis, lockKey, &lock.LockConfig{TTL: w.window}, w.logger)
		acquired, err := dl.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire agreement lock: %w", err)
		}
		if !acquired {
			w.logger.Debug("agreement recompute already enqueued this window", "queue", queueID)
			return nil
		}
	}

	sampleIDs, err := w.store.Labels().ListWithAtLeastNRaters(ctx, tenant, queueID, w.minRaters)
	if err != nil {
		return err
	}

	for _, sampleID := range sampleIDs {
		processed++
		labels, err := w.store.Labels().ListBySample(ctx, tenant, sampleID)
		if err != nil {
			return err
		}
		ratings := agreement.RatingSet{}
		for _, l := range labels {
			if v, ok := firstStringValue(l.Payload); ok {
				ratings[l.Labeler] = v
			}
		}
		metric, alpha, kappa, err := computeOne([]agreement.RatingSet{ratings})
		if err != nil {
			w.logger.Warn("agreement computation skipped", "sample_id", sampleID, "error", err)
			continue
		}
		value := alpha
		if metric != "krippendorff_alpha" {
			value = kappa
		}
		if w.results != nil {
			if err := w.results.RecordAgreement(ctx, tenant, queueID, sampleID, metric, value, time.Now().UTC()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *AgreementWorker) windowBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func computeOne(ratings []agreement.RatingSet) (metric string, alpha, kappa float64, err error) {
	metric, err = agreement.Select(ratings)
	if err != nil {
		return "", 0, 0, err
	}
	switch metric {
	case "krippendorff_alpha":
		v, err := agreement.KrippendorffAlpha(ratings, nil)
		return metric, v, 0, err
	case "fleiss_kappa":
		v, err := agreement.FleissKappa(ratings)
		return metric, 0, v, err
	case "cohen_kappa":
		var a, b string
		for _, rs := range ratings {
			for rater := range rs {
				if a == "" {
					a = rater
				} else if b == "" && rater != a {
					b = rater
				}
			}
		}
		v, err := agreement.CohenKappa(ratings, a, b)
		return metric, 0, v, err
	default:
		return metric, 0, 0, nil
	}
}

// firstStringValue picks the payload's string-valued field with the lexicographically smallest
// name, so every label of a multi-field payload contributes the same field to agreement.
func firstStringValue(payload map[string]interface{}) (string, bool) {
	keys := make([]string, 0, len(payload))
	for k, v := range payload {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)
	return payload[keys[0]].(string), true
}
