package core

import (
	"context"
	"time"
)

// Clock abstracts time so every component can be driven deterministically in tests (§9 "Clock").
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Repository is a generic tenant-agnostic CRUD contract, mirrored from the teacher's own
// generic repository idiom and specialized per entity by the Store composition below.
type Repository[T any] interface {
	Get(ctx context.Context, tenant, id string) (T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, tenant, id string) error
	List(ctx context.Context, tenant string, opts ListOptions) ([]T, error)
}

// ListOptions bounds a List query (no example repo's list endpoints are unbounded either).
type ListOptions struct {
	Limit  int
	Offset int
	Queue  string // optional scoping filter, e.g. assignments/labels within one queue
}

// SchemaStore persists Schemas and SchemaVersions (§4.1, §4.3).
type SchemaStore interface {
	Repository[Schema]
	CreateVersion(ctx context.Context, v SchemaVersion) (SchemaVersion, error)
	GetVersion(ctx context.Context, tenant, id string) (SchemaVersion, error)
	FreezeVersion(ctx context.Context, tenant, id string, at time.Time) (SchemaVersion, error)
	IncrementLabelCount(ctx context.Context, tenant, id string) (SchemaVersion, error)
}

// QueueStore persists Queues (§4.1).
type QueueStore interface {
	Repository[Queue]
	Stats(ctx context.Context, tenant, queue string) (QueueStats, error)
	// ListActive returns every active queue across every tenant, for the agreement worker's
	// scheduled sweep (§4.8), which has no single tenant to scope to.
	ListActive(ctx context.Context) ([]Queue, error)
}

// SampleStore persists local SampleRefs (§4.1).
type SampleStore interface {
	Repository[SampleRef]
}

// LabelerStore persists Labelers (§4.1).
type LabelerStore interface {
	Repository[Labeler]
	CurrentAssignmentCount(ctx context.Context, tenant, labeler string) (int, error)
}

// AssignmentStore persists Assignments with optimistic concurrency on Version (§3, §4.1, §4.5).
type AssignmentStore interface {
	Get(ctx context.Context, tenant, id string) (Assignment, error)
	Create(ctx context.Context, a Assignment) (Assignment, error)
	// CompareAndSwap updates a only if the stored Version equals a.Version; on success the
	// returned Assignment carries Version+1. On mismatch it returns ErrStaleVersion.
	CompareAndSwap(ctx context.Context, a Assignment) (Assignment, error)
	ListCandidates(ctx context.Context, tenant, queue string) ([]Assignment, error)
	ListExpiredReservations(ctx context.Context, now time.Time) ([]Assignment, error)
	ListByQueue(ctx context.Context, tenant, queue string, opts ListOptions) ([]Assignment, error)
}

// LabelStore persists Labels (§4.1).
type LabelStore interface {
	Repository[Label]
	GetByAssignmentAndLabeler(ctx context.Context, tenant, assignment, labeler string) (Label, error)
	ListBySample(ctx context.Context, tenant, sampleID string) ([]Label, error)
	ListWithAtLeastNRaters(ctx context.Context, tenant, queue string, n int) ([]string, error)
	ListForExport(ctx context.Context, tenant, queue, schemaVersion string, opts ListOptions) ([]Label, error)
	Redact(ctx context.Context, tenant, id string, payload map[string]interface{}) error
	SoftDelete(ctx context.Context, tenant, id string) error
	HardDelete(ctx context.Context, tenant, id string) error
}

// AuditStore persists the append-only audit log (§3, §4.10).
type AuditStore interface {
	Append(ctx context.Context, entry AuditLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Store composes the full persistence contract (§4.1). Every read is tenant-scoped: records
// belonging to another tenant are indistinguishable from absent; writes whose resource tenant
// disagrees with the actor's fail with ErrTenantMismatch.
type Store interface {
	Schemas() SchemaStore
	Queues() QueueStore
	Samples() SampleStore
	Labelers() LabelerStore
	Assignments() AssignmentStore
	Labels() LabelStore
	Audit() AuditStore
	Close() error
}

// SampleBridge fetches sample content by id from the external sample store (§4.2). All three
// variants (direct, HTTP+circuit-breaker, cached) implement this same contract.
type SampleBridge interface {
	FetchSample(ctx context.Context, id string, opts FetchOptions) (SampleDTO, error)
	FetchSamples(ctx context.Context, ids []string, opts FetchOptions) ([]SampleDTO, error)
	VerifyExists(ctx context.Context, id string) (bool, error)
	FetchVersion(ctx context.Context, id string) (string, error)
}

// FetchOptions parametrizes a sample bridge fetch (§4.2 "bypass_cache").
type FetchOptions struct {
	BypassCache bool
}

// Policy is a pluggable, pure selection strategy over a candidate sample list (§4.4, §9).
type Policy interface {
	// Init returns a fresh, policy-specific state value from configuration.
	Init(config PolicyConfig) (interface{}, error)
	// Next selects a candidate for labeler among candidates given the current state.
	Next(state interface{}, labelerID string, candidates []PolicyCandidate) (PolicyResult, error)
	// Update folds the chosen candidate back into state, returning the new state.
	Update(state interface{}, chosen PolicyCandidate) interface{}
}

// PolicyCandidate is the minimal view of a sample a Policy needs to choose among (§4.4).
type PolicyCandidate struct {
	AssignmentID    string
	SampleID        string
	LabelCount      int
	LabeledBy       []string
	Difficulty      string // easy | medium | hard, or numeric via DifficultyScore
	DifficultyScore *float64
}

// PolicyResult is the outcome of Policy.Next: exactly one of Candidate set, NoSamples, or Err.
type PolicyResult struct {
	Candidate  *PolicyCandidate
	NoSamples  bool
	RejectedBy error
}

// Telemetry is a pluggable measurement sink (§9 "Telemetry") with no dependency on any specific
// observability library at the interface boundary.
type Telemetry interface {
	Record(name string, measurements map[string]float64, metadata map[string]string)
}

// TenantAccess enforces tenant isolation and the role/permission lattice (§4.11).
type TenantAccess interface {
	EnsureIsolation(resourceTenant, actorTenant string) error
	Permissions(role string) []string
	HasPermission(role, permission string) bool
	CanOverride(actorRole, targetRole string) bool
}
