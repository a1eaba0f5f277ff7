// Package dispatcher implements the labeling queue's core lease protocol of §4.5:
// fetch_next (lease a pending assignment), submit_label (complete a reserved lease), and skip.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/core/resilience"
	"github.com/klabs/labelqueue/internal/schema"
	"github.com/klabs/labelqueue/internal/telemetry"
)

// Config parametrizes dispatcher behavior (§9 Open Question #4).
type Config struct {
	// PermissiveMode allows submit_label against a `pending` assignment in addition to the
	// default `reserved`, per the decision recorded in DESIGN.md.
	PermissiveMode bool
	MaxCASRetries  int
	// Telemetry records fetch_next lease latency; nil is treated as a no-op sink.
	Telemetry core.Telemetry
}

func DefaultConfig() Config {
	return Config{MaxCASRetries: 5}
}

// staleVersionChecker retries fetch_next only on optimistic-lock conflicts, never on
// ErrNoSamples/ErrForbidden and the like, which are terminal outcomes rather than transient
// failures.
type staleVersionChecker struct{}

func (staleVersionChecker) IsRetryable(err error) bool {
	return err == core.ErrStaleVersion
}

// Dispatcher coordinates Store, Policy, and SchemaVersion freeze semantics to hand out and
// collect labels.
type Dispatcher struct {
	store   core.Store
	policy  core.Policy
	schemas *schema.Manager
	clock   core.Clock
	cfg     Config
}

func New(store core.Store, policy core.Policy, schemas *schema.Manager, clock core.Clock, cfg Config) *Dispatcher {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Noop{}
	}
	return &Dispatcher{store: store, policy: policy, schemas: schemas, clock: clock, cfg: cfg}
}

// FetchNext reserves one sample for labelerID in queueID, retrying on optimistic-lock conflicts
// up to cfg.MaxCASRetries before surfacing ErrNoSamples (§4.5, §8 property: bounded retry).
func (d *Dispatcher) FetchNext(ctx context.Context, tenant, queueID, labelerID string) (core.Assignment, error) {
	start := d.clock.Now()
	defer func() {
		d.cfg.Telemetry.Record("dispatcher_lease", map[string]float64{
			"latency_seconds": d.clock.Now().Sub(start).Seconds(),
		}, map[string]string{"queue": queueID})
	}()

	queue, err := d.store.Queues().Get(ctx, tenant, queueID)
	if err != nil {
		return core.Assignment{}, err
	}
	if queue.Status != core.QueueActive {
		return core.Assignment{}, core.ErrNoSamples
	}

	count, err := d.store.Labelers().CurrentAssignmentCount(ctx, tenant, labelerID)
	if err != nil {
		return core.Assignment{}, err
	}
	labeler, err := d.store.Labelers().Get(ctx, tenant, labelerID)
	if err != nil {
		return core.Assignment{}, err
	}
	if labeler.MaxConcurrentAssignments > 0 && count >= labeler.MaxConcurrentAssignments {
		return core.Assignment{}, core.ErrNoSamples
	}
	for _, blocked := range labeler.BlocklistedQueues {
		if blocked == queueID {
			return core.Assignment{}, core.ErrForbidden
		}
	}

	state, err := d.policy.Init(queue.Policy)
	if err != nil {
		return core.Assignment{}, err
	}

	retry := resilience.DefaultRetryPolicy()
	retry.MaxRetries = d.cfg.MaxCASRetries
	retry.ErrorChecker = staleVersionChecker{}

	assignment, err := resilience.WithRetryFunc(ctx, retry, func() (core.Assignment, error) {
		candidates, err := d.buildCandidates(ctx, tenant, queueID)
		if err != nil {
			return core.Assignment{}, err
		}
		result, err := d.policy.Next(state, labelerID, candidates)
		if err != nil {
			return core.Assignment{}, err
		}
		if result.NoSamples || result.Candidate == nil {
			return core.Assignment{}, core.ErrNoSamples
		}

		pending, err := d.store.Assignments().Get(ctx, tenant, result.Candidate.AssignmentID)
		if err != nil {
			return core.Assignment{}, err
		}
		now := d.clock.Now()
		deadline := now.Add(time.Duration(queue.TimeoutSeconds) * time.Second)
		pending.Labeler = labelerID
		pending.Status = core.AssignmentReserved
		pending.ReservedAt = &now
		pending.Deadline = &deadline

		reserved, err := d.store.Assignments().CompareAndSwap(ctx, pending)
		if err != nil {
			// ErrStaleVersion: another labeler won the race for this sample; the retry loop
			// rebuilds candidates and tries again.
			return core.Assignment{}, err
		}
		d.policy.Update(state, *result.Candidate)
		return reserved, nil
	})
	if errors.Is(err, core.ErrStaleVersion) {
		return core.Assignment{}, core.ErrNoSamples
	}
	return assignment, err
}

func (d *Dispatcher) buildCandidates(ctx context.Context, tenant, queueID string) ([]core.PolicyCandidate, error) {
	pending, err := d.store.Assignments().ListCandidates(ctx, tenant, queueID)
	if err != nil {
		return nil, err
	}
	out := make([]core.PolicyCandidate, 0, len(pending))
	for _, a := range pending {
		labels, err := d.store.Labels().ListBySample(ctx, tenant, a.SampleID)
		if err != nil {
			return nil, err
		}
		labeledBy := make([]string, 0, len(labels))
		for _, l := range labels {
			labeledBy = append(labeledBy, l.Labeler)
		}
		out = append(out, core.PolicyCandidate{
			AssignmentID: a.ID,
			SampleID:     a.SampleID,
			LabelCount:   len(labels),
			LabeledBy:    labeledBy,
		})
	}
	return out, nil
}

// SubmitLabel completes a reservation by persisting the labeler's payload and transitioning the
// assignment to completed (§4.5). It rejects payloads that don't validate against the queue's
// frozen schema version and enforces the reserved-vs-pending submission mode (§9 Open Question #4).
func (d *Dispatcher) SubmitLabel(ctx context.Context, tenant, assignmentID, labelerID string, payload map[string]interface{}) (core.Label, error) {
	a, err := d.store.Assignments().Get(ctx, tenant, assignmentID)
	if err != nil {
		return core.Label{}, err
	}
	if a.Labeler != labelerID {
		return core.Label{}, core.ErrAssignmentNotOwned
	}
	validStatus := a.Status == core.AssignmentReserved || (d.cfg.PermissiveMode && a.Status == core.AssignmentPending)
	if !validStatus {
		return core.Label{}, core.ErrInvalidState
	}
	if a.Deadline != nil && !a.Deadline.After(d.clock.Now()) {
		return core.Label{}, core.ErrExpired
	}

	queue, err := d.store.Queues().Get(ctx, tenant, a.Queue)
	if err != nil {
		return core.Label{}, err
	}
	version, err := d.store.Schemas().GetVersion(ctx, tenant, queue.SchemaVersion)
	if err != nil {
		return core.Label{}, err
	}
	if err := schema.ValidatePayload(version.Definition, payload); err != nil {
		return core.Label{}, err
	}

	a.Status = core.AssignmentCompleted
	if _, err := d.store.Assignments().CompareAndSwap(ctx, a); err != nil {
		return core.Label{}, err
	}

	label := core.Label{
		Tenant:        tenant,
		Assignment:    assignmentID,
		SampleID:      a.SampleID,
		Labeler:       labelerID,
		SchemaVersion: queue.SchemaVersion,
		Payload:       payload,
		SubmittedAt:   d.clock.Now(),
	}
	created, err := d.store.Labels().Create(ctx, label)
	if err != nil {
		return core.Label{}, err
	}
	if _, err := d.schemas.FreezeOnFirstWrite(ctx, tenant, queue.SchemaVersion); err != nil {
		return core.Label{}, fmt.Errorf("freeze schema version: %w", err)
	}
	return created, nil
}

// SeedAssignments creates one pending Assignment per sampleID in a queue, making them eligible
// for FetchNext. Each row yields at most one label: SubmitLabel moves it to completed, and
// completed rows are neither candidates nor recycled by the timeout worker (which only requeues
// expired reservations). A sample seeded once therefore collects one label whatever RedundancyK
// is; no duplicate rows are seeded.
func (d *Dispatcher) SeedAssignments(ctx context.Context, tenant, queueID string, sampleIDs []string) error {
	queue, err := d.store.Queues().Get(ctx, tenant, queueID)
	if err != nil {
		return err
	}
	for _, sampleID := range sampleIDs {
		_, err := d.store.Assignments().Create(ctx, core.Assignment{
			Tenant:         tenant,
			Queue:          queueID,
			SampleID:       sampleID,
			Status:         core.AssignmentPending,
			TimeoutSeconds: queue.TimeoutSeconds,
			Version:        1,
		})
		if err != nil {
			return fmt.Errorf("seed sample %q: %w", sampleID, err)
		}
	}
	return nil
}

// Skip releases a reservation without submitting a label, recording why (§4.5).
func (d *Dispatcher) Skip(ctx context.Context, tenant, assignmentID, labelerID, reason string) (core.Assignment, error) {
	a, err := d.store.Assignments().Get(ctx, tenant, assignmentID)
	if err != nil {
		return core.Assignment{}, err
	}
	if a.Labeler != labelerID {
		return core.Assignment{}, core.ErrAssignmentNotOwned
	}
	if a.Status != core.AssignmentReserved {
		return core.Assignment{}, core.ErrInvalidState
	}
	a.Status = core.AssignmentSkipped
	a.SkipReason = reason
	return d.store.Assignments().CompareAndSwap(ctx, a)
}
