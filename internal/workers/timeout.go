// Package workers implements the background jobs of §4.6, §4.8, and §4.10: moving expired
// reservations to requeued, recomputing inter-rater agreement once enough labels land, and
// enforcing field-level retention. Each worker follows the teacher's periodic-ticker goroutine
// shape from internal/database/postgres/health.go.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/klabs/labelqueue/internal/core"
)

// TimeoutWorker requeues reservations whose deadline has passed (§4.6).
type TimeoutWorker struct {
	store         core.Store
	clock         core.Clock
	interval      time.Duration
	maxRequeues   int
	requeueDelay  time.Duration
	logger        *slog.Logger
	stopCh        chan struct{}
}

func NewTimeoutWorker(store core.Store, clock core.Clock, interval, requeueDelay time.Duration, maxRequeues int, logger *slog.Logger) *TimeoutWorker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutWorker{
		store: store, clock: clock, interval: interval, maxRequeues: maxRequeues,
		requeueDelay: requeueDelay, logger: logger, stopCh: make(chan struct{}),
	}
}

func (w *TimeoutWorker) Start(ctx context.Context) {
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
				if err := w.SweepOnce(ctx); err != nil {
					w.logger.Error("timeout sweep failed", "error", err)
				}
			}
		}
	}()
}

func (w *TimeoutWorker) Stop() { close(w.stopCh) }

// SweepOnce requeues every reservation whose deadline has passed. Assignments that have already
// exhausted maxRequeues are marked timed_out instead of being recycled (§4.6 edge case).
func (w *TimeoutWorker) SweepOnce(ctx context.Context) error {
	now := w.clock.Now()
	expired, err := w.store.Assignments().ListExpiredReservations(ctx, now)
	if err != nil {
		return err
	}
	for _, a := range expired {
		if a.RequeueAttempts >= w.maxRequeues {
			a.Status = core.AssignmentTimedOut
		} else {
			delay := now.Add(w.requeueDelay)
			a.Status = core.AssignmentRequeued
			a.Labeler = ""
			a.ReservedAt = nil
			a.Deadline = nil
			a.RequeueAttempts++
			a.RequeueDelayUntil = &delay
		}
		if _, err := w.store.Assignments().CompareAndSwap(ctx, a); err != nil {
			w.logger.Warn("requeue lost race, assignment already changed", "assignment_id", a.ID, "error", err)
			continue
		}
		w.store.Audit().Append(ctx, core.AuditLog{
			Tenant: a.Tenant, EntityType: "assignment", EntityID: a.ID,
			Action: core.AuditUpdated, Actor: "timeout_worker", OccurredAt: now,
		})
	}
	return nil
}
