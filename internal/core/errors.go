package core

import "errors"

// Validation errors (§7 "Validation") — surfaced as 422 invalid_payload at the HTTP edge with
// the full per-field error list, never short-circuited.
var (
	ErrIsRequired      = errors.New("is_required")
	ErrInvalidType     = errors.New("invalid_type")
	ErrOutOfRange      = errors.New("out_of_range")
	ErrPatternMismatch = errors.New("pattern_mismatch")
	ErrInvalidOptions  = errors.New("invalid_options")
)

// Authorization errors (§7 "Authorization").
var (
	ErrTenantRequired           = errors.New("tenant_required")
	ErrTenantMismatch           = errors.New("tenant_mismatch")
	ErrForbiddenCrossTenant     = errors.New("forbidden_cross_tenant_access")
	ErrForbidden                = errors.New("forbidden")
	ErrLabelerBelowThreshold    = errors.New("labeler_below_threshold")
	ErrComponentModuleRequired  = errors.New("component_module_required")
)

// Existence errors (§7 "Existence").
var (
	ErrNotFound  = errors.New("not_found")
	ErrNoSamples = errors.New("no_samples")
)

// Concurrency errors (§7 "Concurrency") — stale_version is internal and retried with bounded
// attempts by the dispatcher before being mapped to ErrNoSamples or surfaced.
var (
	ErrStaleVersion = errors.New("stale_version")
)

// External dependency errors (§7 "External dependency") — surfaced by the sample bridge.
var (
	ErrForgeUnavailable = errors.New("forge_unavailable")
	ErrCircuitOpen      = errors.New("circuit_open")
)

// Signed URL errors (§4.12, §7 "Signed URL").
var (
	ErrMalformedURL    = errors.New("malformed_url")
	ErrExpired         = errors.New("expired")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// Policy engine errors (§4.4).
var (
	ErrNoSamplesAvailable = errors.New("no_samples_available")
	ErrRejectedWithReason = errors.New("rejected_with_reason")
)

// Agreement engine errors (§4.7).
var (
	ErrRequiresExactlyTwoRaters = errors.New("requires_exactly_two_raters")
	ErrNoCommonSamples          = errors.New("no_common_samples")
)

// Assignment/submission lifecycle errors (§4.5).
var (
	ErrAssignmentNotOwned = errors.New("assignment_not_owned_by_labeler")
	ErrInvalidState       = errors.New("invalid_assignment_state")
)

// Schema versioning errors (§4.3).
var (
	ErrAlreadyFrozen = errors.New("schema_version_already_frozen")
)

// PII/pseudonymization errors (§4.10).
var (
	ErrSecretTooShort = errors.New("secret_too_short")
)
