// Package store implements the persistence contract described in §4.1: tenant-scoped CRUD with
// optimistic concurrency on Assignment.Version. MemoryStore is an in-process implementation used
// by unit tests and by the embedded single-binary deployment profile's test harness; PostgresStore
// and SQLiteStore back it with real SQL for production.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klabs/labelqueue/internal/core"
)

// MemoryStore is a goroutine-safe in-memory implementation of core.Store.
type MemoryStore struct {
	clock core.Clock

	mu          sync.RWMutex
	schemas     map[string]core.Schema
	versions    map[string]core.SchemaVersion
	queues      map[string]core.Queue
	samples     map[string]core.SampleRef
	labelers    map[string]core.Labeler
	assignments map[string]core.Assignment
	labels      map[string]core.Label
	audit       []core.AuditLog
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(clock core.Clock) *MemoryStore {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &MemoryStore{
		clock:       clock,
		schemas:     map[string]core.Schema{},
		versions:    map[string]core.SchemaVersion{},
		queues:      map[string]core.Queue{},
		samples:     map[string]core.SampleRef{},
		labelers:    map[string]core.Labeler{},
		assignments: map[string]core.Assignment{},
		labels:      map[string]core.Label{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Schemas() core.SchemaStore         { return schemaRepo{s} }
func (s *MemoryStore) Queues() core.QueueStore           { return queueRepo{s} }
func (s *MemoryStore) Samples() core.SampleStore         { return sampleRepo{s} }
func (s *MemoryStore) Labelers() core.LabelerStore       { return labelerRepo{s} }
func (s *MemoryStore) Assignments() core.AssignmentStore { return assignmentRepo{s} }
func (s *MemoryStore) Labels() core.LabelStore           { return labelRepo{s} }
func (s *MemoryStore) Audit() core.AuditStore            { return auditRepo{s} }

// --- schemas ---

type schemaRepo struct{ s *MemoryStore }

func (r schemaRepo) Get(_ context.Context, tenant, id string) (core.Schema, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.schemas[id]
	if !ok || v.Tenant != tenant {
		return core.Schema{}, core.ErrNotFound
	}
	return v, nil
}

func (r schemaRepo) Create(_ context.Context, e core.Schema) (core.Schema, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = r.s.clock.Now()
	r.s.schemas[e.ID] = e
	return e, nil
}

func (r schemaRepo) Update(_ context.Context, e core.Schema) (core.Schema, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.schemas[e.ID]
	if !ok {
		return core.Schema{}, core.ErrNotFound
	}
	if existing.Tenant != e.Tenant {
		return core.Schema{}, core.ErrTenantMismatch
	}
	r.s.schemas[e.ID] = e
	return e, nil
}

func (r schemaRepo) Delete(_ context.Context, tenant, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.schemas[id]
	if !ok {
		return core.ErrNotFound
	}
	if existing.Tenant != tenant {
		return core.ErrTenantMismatch
	}
	delete(r.s.schemas, id)
	return nil
}

func (r schemaRepo) List(_ context.Context, tenant string, opts core.ListOptions) ([]core.Schema, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Schema
	for _, v := range r.s.schemas {
		if v.Tenant == tenant {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r schemaRepo) CreateVersion(_ context.Context, v core.SchemaVersion) (core.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	r.s.versions[v.ID] = v
	return v, nil
}

func (r schemaRepo) GetVersion(_ context.Context, tenant, id string) (core.SchemaVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.versions[id]
	if !ok || v.Definition.Tenant != tenant {
		return core.SchemaVersion{}, core.ErrNotFound
	}
	return v, nil
}

func (r schemaRepo) FreezeVersion(_ context.Context, tenant, id string, at time.Time) (core.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.versions[id]
	if !ok || v.Definition.Tenant != tenant {
		return core.SchemaVersion{}, core.ErrNotFound
	}
	if v.FrozenAt != nil {
		return v, nil // freeze_first_write is idempotent (§4.3)
	}
	v.FrozenAt = &at
	r.s.versions[id] = v
	return v, nil
}

func (r schemaRepo) IncrementLabelCount(_ context.Context, tenant, id string) (core.SchemaVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.versions[id]
	if !ok || v.Definition.Tenant != tenant {
		return core.SchemaVersion{}, core.ErrNotFound
	}
	v.LabelCount++
	r.s.versions[id] = v
	return v, nil
}

// --- queues ---

type queueRepo struct{ s *MemoryStore }

func (r queueRepo) Get(_ context.Context, tenant, id string) (core.Queue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	q, ok := r.s.queues[id]
	if !ok || q.Tenant != tenant {
		return core.Queue{}, core.ErrNotFound
	}
	return q, nil
}

func (r queueRepo) Create(_ context.Context, q core.Queue) (core.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	r.s.queues[q.ID] = q
	return q, nil
}

func (r queueRepo) Update(_ context.Context, q core.Queue) (core.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.queues[q.ID]
	if !ok {
		return core.Queue{}, core.ErrNotFound
	}
	if existing.Tenant != q.Tenant {
		return core.Queue{}, core.ErrTenantMismatch
	}
	r.s.queues[q.ID] = q
	return q, nil
}

func (r queueRepo) Delete(_ context.Context, tenant, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.queues[id]
	if !ok {
		return core.ErrNotFound
	}
	if existing.Tenant != tenant {
		return core.ErrTenantMismatch
	}
	delete(r.s.queues, id)
	return nil
}

func (r queueRepo) List(_ context.Context, tenant string, opts core.ListOptions) ([]core.Queue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Queue
	for _, q := range r.s.queues {
		if q.Tenant == tenant {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r queueRepo) ListActive(_ context.Context) ([]core.Queue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Queue
	for _, q := range r.s.queues {
		if q.Status == core.QueueActive {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r queueRepo) Stats(_ context.Context, tenant, queue string) (core.QueueStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var total, labeled int
	for _, a := range r.s.assignments {
		if a.Tenant != tenant || a.Queue != queue {
			continue
		}
		total++
		if a.Status == core.AssignmentCompleted {
			labeled++
		}
	}
	remaining := total - labeled
	if remaining < 0 {
		remaining = 0
	}
	return core.QueueStats{TotalAssignments: total, Labeled: labeled, Remaining: remaining}, nil
}

// --- samples ---

type sampleRepo struct{ s *MemoryStore }

func (r sampleRepo) Get(_ context.Context, tenant, id string) (core.SampleRef, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.samples[id]
	if !ok || v.Tenant != tenant {
		return core.SampleRef{}, core.ErrNotFound
	}
	return v, nil
}

func (r sampleRepo) Create(_ context.Context, e core.SampleRef) (core.SampleRef, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.s.samples[e.ID] = e
	return e, nil
}

func (r sampleRepo) Update(_ context.Context, e core.SampleRef) (core.SampleRef, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.samples[e.ID]
	if !ok {
		return core.SampleRef{}, core.ErrNotFound
	}
	if existing.Tenant != e.Tenant {
		return core.SampleRef{}, core.ErrTenantMismatch
	}
	r.s.samples[e.ID] = e
	return e, nil
}

func (r sampleRepo) Delete(_ context.Context, tenant, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.samples[id]
	if !ok {
		return core.ErrNotFound
	}
	if existing.Tenant != tenant {
		return core.ErrTenantMismatch
	}
	delete(r.s.samples, id)
	return nil
}

func (r sampleRepo) List(_ context.Context, tenant string, opts core.ListOptions) ([]core.SampleRef, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.SampleRef
	for _, v := range r.s.samples {
		if v.Tenant == tenant {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

// --- labelers ---

type labelerRepo struct{ s *MemoryStore }

func (r labelerRepo) Get(_ context.Context, tenant, id string) (core.Labeler, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.labelers[id]
	if !ok || v.Tenant != tenant {
		return core.Labeler{}, core.ErrNotFound
	}
	return v, nil
}

func (r labelerRepo) Create(_ context.Context, e core.Labeler) (core.Labeler, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.s.labelers[e.ID] = e
	return e, nil
}

func (r labelerRepo) Update(_ context.Context, e core.Labeler) (core.Labeler, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.labelers[e.ID]
	if !ok {
		return core.Labeler{}, core.ErrNotFound
	}
	if existing.Tenant != e.Tenant {
		return core.Labeler{}, core.ErrTenantMismatch
	}
	r.s.labelers[e.ID] = e
	return e, nil
}

func (r labelerRepo) Delete(_ context.Context, tenant, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.labelers[id]
	if !ok {
		return core.ErrNotFound
	}
	if existing.Tenant != tenant {
		return core.ErrTenantMismatch
	}
	delete(r.s.labelers, id)
	return nil
}

func (r labelerRepo) List(_ context.Context, tenant string, opts core.ListOptions) ([]core.Labeler, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Labeler
	for _, v := range r.s.labelers {
		if v.Tenant == tenant {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r labelerRepo) CurrentAssignmentCount(_ context.Context, tenant, labeler string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	count := 0
	for _, a := range r.s.assignments {
		if a.Tenant == tenant && a.Labeler == labeler && a.Status == core.AssignmentReserved {
			count++
		}
	}
	return count, nil
}

// --- assignments ---

type assignmentRepo struct{ s *MemoryStore }

func (r assignmentRepo) Get(_ context.Context, tenant, id string) (core.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.assignments[id]
	if !ok || a.Tenant != tenant {
		return core.Assignment{}, core.ErrNotFound
	}
	return a, nil
}

func (r assignmentRepo) Create(_ context.Context, a core.Assignment) (core.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	r.s.assignments[a.ID] = a
	return a, nil
}

// CompareAndSwap implements the optimistic-concurrency contract of §3/§4.5/§4.6: the update is
// applied only if the stored Version matches a.Version, and the stored Version is incremented.
func (r assignmentRepo) CompareAndSwap(_ context.Context, a core.Assignment) (core.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.assignments[a.ID]
	if !ok {
		return core.Assignment{}, core.ErrNotFound
	}
	if existing.Tenant != a.Tenant {
		return core.Assignment{}, core.ErrTenantMismatch
	}
	if existing.Version != a.Version {
		return core.Assignment{}, core.ErrStaleVersion
	}
	a.Version = existing.Version + 1
	r.s.assignments[a.ID] = a
	return a, nil
}

func (r assignmentRepo) ListCandidates(_ context.Context, tenant, queue string) ([]core.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Assignment
	for _, a := range r.s.assignments {
		if a.Tenant == tenant && a.Queue == queue && (a.Status == core.AssignmentPending || a.Status == core.AssignmentRequeued) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out, nil
}

func (r assignmentRepo) ListExpiredReservations(_ context.Context, now time.Time) ([]core.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Assignment
	for _, a := range r.s.assignments {
		if a.Status == core.AssignmentReserved && a.Deadline != nil && a.Deadline.Before(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r assignmentRepo) ListByQueue(_ context.Context, tenant, queue string, opts core.ListOptions) ([]core.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Assignment
	for _, a := range r.s.assignments {
		if a.Tenant == tenant && a.Queue == queue {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

// --- labels ---

type labelRepo struct{ s *MemoryStore }

func (r labelRepo) Get(_ context.Context, tenant, id string) (core.Label, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.labels[id]
	if !ok || l.Tenant != tenant {
		return core.Label{}, core.ErrNotFound
	}
	return l, nil
}

func (r labelRepo) Create(_ context.Context, l core.Label) (core.Label, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.labels {
		if existing.Assignment == l.Assignment && existing.Labeler == l.Labeler && existing.DeletedAt == nil {
			return core.Label{}, core.ErrInvalidState
		}
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	r.s.labels[l.ID] = l
	return l, nil
}

func (r labelRepo) Update(_ context.Context, l core.Label) (core.Label, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.labels[l.ID]
	if !ok {
		return core.Label{}, core.ErrNotFound
	}
	if existing.Tenant != l.Tenant {
		return core.Label{}, core.ErrTenantMismatch
	}
	r.s.labels[l.ID] = l
	return l, nil
}

func (r labelRepo) Delete(_ context.Context, tenant, id string) error {
	return r.HardDelete(context.Background(), tenant, id)
}

func (r labelRepo) List(_ context.Context, tenant string, opts core.ListOptions) ([]core.Label, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Label
	for _, l := range r.s.labels {
		if l.Tenant == tenant {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r labelRepo) GetByAssignmentAndLabeler(_ context.Context, tenant, assignment, labeler string) (core.Label, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, l := range r.s.labels {
		if l.Tenant == tenant && l.Assignment == assignment && l.Labeler == labeler && l.DeletedAt == nil {
			return l, nil
		}
	}
	return core.Label{}, core.ErrNotFound
}

func (r labelRepo) ListBySample(_ context.Context, tenant, sampleID string) ([]core.Label, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Label
	for _, l := range r.s.labels {
		if l.Tenant == tenant && l.SampleID == sampleID && l.DeletedAt == nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Labeler < out[j].Labeler })
	return out, nil
}

func (r labelRepo) ListWithAtLeastNRaters(_ context.Context, tenant, queue string, n int) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := map[string]map[string]bool{}
	for _, l := range r.s.labels {
		if l.Tenant != tenant || l.DeletedAt != nil {
			continue
		}
		if queue != "" {
			a, ok := r.s.assignments[l.Assignment]
			if !ok || a.Queue != queue {
				continue
			}
		}
		if counts[l.SampleID] == nil {
			counts[l.SampleID] = map[string]bool{}
		}
		counts[l.SampleID][l.Labeler] = true
	}
	var out []string
	for sample, raters := range counts {
		if len(raters) >= n {
			out = append(out, sample)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r labelRepo) ListForExport(_ context.Context, tenant, queue, schemaVersion string, opts core.ListOptions) ([]core.Label, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Label
	for _, l := range r.s.labels {
		if l.Tenant != tenant || l.DeletedAt != nil {
			continue
		}
		if schemaVersion != "" && l.SchemaVersion != schemaVersion {
			continue
		}
		if queue != "" {
			a, ok := r.s.assignments[l.Assignment]
			if !ok || a.Queue != queue {
				continue
			}
		}
		out = append(out, l)
	}
	// Deterministic ordering required by §4.9: (sample_id, labeler_id, submitted_at) ascending.
	sort.Slice(out, func(i, j int) bool {
		if out[i].SampleID != out[j].SampleID {
			return out[i].SampleID < out[j].SampleID
		}
		if out[i].Labeler != out[j].Labeler {
			return out[i].Labeler < out[j].Labeler
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return paginate(out, opts), nil
}

func (r labelRepo) Redact(_ context.Context, tenant, id string, payload map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.labels[id]
	if !ok || l.Tenant != tenant {
		return core.ErrNotFound
	}
	l.Payload = payload
	r.s.labels[id] = l
	return nil
}

func (r labelRepo) SoftDelete(_ context.Context, tenant, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.labels[id]
	if !ok || l.Tenant != tenant {
		return core.ErrNotFound
	}
	now := r.s.clock.Now()
	l.DeletedAt = &now
	l.Payload = nil
	r.s.labels[id] = l
	return nil
}

func (r labelRepo) HardDelete(_ context.Context, tenant, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.labels[id]
	if !ok || l.Tenant != tenant {
		return core.ErrNotFound
	}
	delete(r.s.labels, id)
	return nil
}

// --- audit ---

type auditRepo struct{ s *MemoryStore }

func (r auditRepo) Append(_ context.Context, entry core.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.s.audit = append(r.s.audit, entry)
	return nil
}

func (r auditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.audit[:0]
	removed := 0
	for _, entry := range r.s.audit {
		if entry.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	r.s.audit = kept
	return removed, nil
}

func paginate[T any](items []T, opts core.ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
