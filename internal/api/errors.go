package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/klabs/labelqueue/internal/api/middleware"
	"github.com/klabs/labelqueue/internal/core"
)

// writeError maps a domain sentinel error to the HTTP status/code pair from §7 and writes it as
// the standard JSON error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	requestID := middleware.GetRequestID(r.Context())

	errBody := map[string]interface{}{
		"code":       code,
		"message":    err.Error(),
		"request_id": requestID,
	}
	if fieldErrs, ok := err.(core.ValidationErrors); ok {
		details := make([]map[string]string, len(fieldErrs))
		for i, fe := range fieldErrs {
			details[i] = map[string]string{"field": fe.Field, "code": fe.Err.Error()}
		}
		errBody["errors"] = details
	}
	resp := map[string]interface{}{"error": errBody}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrTenantRequired):
		return http.StatusUnprocessableEntity, "tenant_required"
	case errors.Is(err, core.ErrTenantMismatch):
		return http.StatusForbidden, "tenant_mismatch"
	case errors.Is(err, core.ErrForbiddenCrossTenant), errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, core.ErrComponentModuleRequired):
		return http.StatusUnprocessableEntity, "component_module_required"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrNoSamples), errors.Is(err, core.ErrNoSamplesAvailable):
		return http.StatusNotFound, "no_samples"
	case errors.Is(err, core.ErrIsRequired), errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrOutOfRange), errors.Is(err, core.ErrPatternMismatch),
		errors.Is(err, core.ErrInvalidOptions):
		return http.StatusUnprocessableEntity, "invalid_payload"
	case errors.Is(err, core.ErrAssignmentNotOwned), errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict, "invalid_assignment_state"
	case errors.Is(err, core.ErrExpired):
		return http.StatusConflict, "expired"
	case errors.Is(err, core.ErrAlreadyFrozen):
		return http.StatusConflict, "schema_version_already_frozen"
	case errors.Is(err, core.ErrLabelerBelowThreshold):
		return http.StatusForbidden, "labeler_below_threshold"
	case errors.Is(err, core.ErrForgeUnavailable), errors.Is(err, core.ErrCircuitOpen):
		return http.StatusBadGateway, "forge_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
