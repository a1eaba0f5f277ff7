package core

import "time"

// FieldType enumerates the value shapes a Schema Field can take (§3, §4.3).
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldSelect      FieldType = "select"
	FieldMultiselect FieldType = "multiselect"
	FieldRange       FieldType = "range"
	FieldNumber      FieldType = "number"
	FieldBoolean     FieldType = "boolean"
	FieldDate        FieldType = "date"
	FieldDatetime    FieldType = "datetime"
)

// PIILevel classifies how sensitive a field's values are (§4.10).
type PIILevel string

const (
	PIINone     PIILevel = "none"
	PIIPossible PIILevel = "possible"
	PIILikely   PIILevel = "likely"
	PIIDefinite PIILevel = "definite"
)

// RedactionPolicy names a redaction transform applied at export time (§4.10).
type RedactionPolicy string

const (
	RedactPreserve     RedactionPolicy = "preserve"
	RedactStrip        RedactionPolicy = "strip"
	RedactTruncate     RedactionPolicy = "truncate"
	RedactHash         RedactionPolicy = "hash"
	RedactRegexRedact  RedactionPolicy = "regex_redact"
)

// RetentionAction names what the retention worker does to an expired label (§4.10).
type RetentionAction string

const (
	RetentionFieldRedaction RetentionAction = "field_redaction"
	RetentionSoftDelete     RetentionAction = "soft_delete"
	RetentionHardDelete     RetentionAction = "hard_delete"
)

// Field describes one entry in a Schema's ordered field list (§3).
type Field struct {
	Name          string          `json:"name"`
	Type          FieldType       `json:"type"`
	Required      bool            `json:"required"`
	Min           *float64        `json:"min,omitempty"`
	Max           *float64        `json:"max,omitempty"`
	Options       []string        `json:"options,omitempty"`
	Pattern       string          `json:"pattern,omitempty"`
	Default       interface{}     `json:"default,omitempty"`
	PII           PIILevel        `json:"pii,omitempty"`
	RetentionDays *int            `json:"retention_days,omitempty"` // nil == indefinite
	Redaction     RedactionPolicy `json:"redaction_policy,omitempty"`
}

// Schema is a tenant-scoped named collection of Fields (§3).
type Schema struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Name      string    `json:"name"`
	Fields    []Field   `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
}

// SchemaVersion is an immutable-once-used specification of a label's shape (§3, §4.3).
type SchemaVersion struct {
	ID                    string     `json:"id"`
	Queue                 string     `json:"queue"`
	VersionNumber         int        `json:"version_number"`
	Definition            Schema     `json:"definition"`
	TransformFromPrevious string     `json:"transform_from_previous,omitempty"`
	FrozenAt              *time.Time `json:"frozen_at,omitempty"`
	LabelCount            int        `json:"label_count"`
}

// Mutable reports whether the version can still be changed (§3 invariant).
func (v *SchemaVersion) Mutable() bool {
	return v.FrozenAt == nil && v.LabelCount == 0
}

// QueueStatus enumerates the lifecycle of a Queue (§3).
type QueueStatus string

const (
	QueueActive   QueueStatus = "active"
	QueuePaused   QueueStatus = "paused"
	QueueArchived QueueStatus = "archived"
)

// PolicyConfig configures the dispatcher's pluggable selection policy (§4.4).
type PolicyConfig struct {
	Kind               string         `json:"kind"` // round_robin | random | weighted_expertise | redundancy | composite
	RedundancyK        int            `json:"redundancy_k,omitempty"`
	AllowSameLabeler   bool           `json:"allow_same_labeler,omitempty"`
	MinExpertise       float64        `json:"min_expertise,omitempty"`
	DifficultyWeights  map[string]float64 `json:"difficulty_weights,omitempty"`
	Chain              []PolicyConfig `json:"chain,omitempty"`
}

// Queue is the unit of work distribution (§3).
type Queue struct {
	ID            string       `json:"id"`
	Tenant        string       `json:"tenant"`
	Name          string       `json:"name"`
	SchemaVersion string       `json:"schema_version"`
	Policy        PolicyConfig `json:"policy"`
	Status        QueueStatus  `json:"status"`
	ComponentModule string     `json:"component_module"`
	TimeoutSeconds int         `json:"timeout_seconds"`
}

// QueueStats summarizes a queue's progress (§4.1).
type QueueStats struct {
	TotalAssignments int `json:"total_assignments"`
	Labeled          int `json:"labeled"`
	Remaining        int `json:"remaining"`
}

// SampleRef is the core's local pointer to sample content living in an external store (§3).
type SampleRef struct {
	ID       string                 `json:"id"`
	Tenant   string                 `json:"tenant"`
	SampleID string                 `json:"sample_id"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Labeler is an identity submitting annotations (§3).
type Labeler struct {
	ID                       string             `json:"id"`
	Tenant                   string             `json:"tenant"`
	ExternalID               string             `json:"external_id"`
	Pseudonym                string             `json:"pseudonym,omitempty"`
	ExpertiseWeights         map[string]float64 `json:"expertise_weights,omitempty"`
	BlocklistedQueues        []string           `json:"blocklisted_queues,omitempty"`
	MaxConcurrentAssignments int                `json:"max_concurrent_assignments"`
}

// AssignmentStatus enumerates the lease state machine (§3).
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentReserved  AssignmentStatus = "reserved"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentTimedOut  AssignmentStatus = "timed_out"
	AssignmentSkipped   AssignmentStatus = "skipped"
	AssignmentRequeued  AssignmentStatus = "requeued"
)

// Assignment is a lease of one sample to one labeler for a bounded time (§3).
type Assignment struct {
	ID                string           `json:"id"`
	Tenant            string           `json:"tenant"`
	Queue             string           `json:"queue"`
	SampleID          string           `json:"sample_id"`
	Labeler           string           `json:"labeler"`
	Status            AssignmentStatus `json:"status"`
	ReservedAt        *time.Time       `json:"reserved_at,omitempty"`
	Deadline          *time.Time       `json:"deadline,omitempty"`
	TimeoutSeconds    int              `json:"timeout_seconds"`
	RequeueAttempts   int              `json:"requeue_attempts"`
	RequeueDelayUntil *time.Time       `json:"requeue_delay_until,omitempty"`
	SkipReason        string           `json:"skip_reason,omitempty"`
	Version           int              `json:"version"`
}

// Label is one labeler's annotation of one assignment (§3).
type Label struct {
	ID            string                 `json:"id"`
	Tenant        string                 `json:"tenant"`
	Assignment    string                 `json:"assignment"`
	SampleID      string                 `json:"sample_id"`
	Labeler       string                 `json:"labeler"`
	SchemaVersion string                 `json:"schema_version"`
	Payload       map[string]interface{} `json:"payload"`
	BlobPointer   string                 `json:"blob_pointer,omitempty"`
	SubmittedAt   time.Time              `json:"submitted_at"`
	DeletedAt     *time.Time             `json:"deleted_at,omitempty"`
}

// AuditAction enumerates the kinds of events recorded in the append-only audit log (§3).
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditUpdated  AuditAction = "updated"
	AuditDeleted  AuditAction = "deleted"
	AuditAccessed AuditAction = "accessed"
)

// AuditLog is an append-only record of an action on an entity (§3).
type AuditLog struct {
	ID         string                 `json:"id"`
	Tenant     string                 `json:"tenant"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     AuditAction            `json:"action"`
	Actor      string                 `json:"actor"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// SampleDTO is the sample bridge's uniform return shape across backends (§4.2).
type SampleDTO struct {
	ID        string                 `json:"id"`
	Content   interface{}            `json:"content"`
	Version   string                 `json:"version"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	AssetURLs []string               `json:"asset_urls,omitempty"`
	Source    string                 `json:"source,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Validate checks the required fields of a SampleDTO (§4.2).
func (s *SampleDTO) Validate() error {
	if s.ID == "" || s.Content == nil || s.Version == "" {
		return ErrInvalidType
	}
	return nil
}
