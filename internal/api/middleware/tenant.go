package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// TenantMiddleware extracts X-Tenant-Id (required), X-User-Id and X-User-Role (both optional)
// from every request and stores them in context. A missing tenant fails the request with 422
// tenant_required before it ever reaches a handler (§6, §4.11).
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			writeTenantRequired(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), TenantContextKey, tenant)
		if userID := r.Header.Get(UserIDHeader); userID != "" {
			ctx = context.WithValue(ctx, UserIDContextKey, userID)
		}
		if role := r.Header.Get(RoleHeader); role != "" {
			ctx = context.WithValue(ctx, RoleContextKey, role)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects the request with 403 forbidden unless the caller's role (from
// X-User-Role) has the named permission in the tenant access lattice.
func RequirePermission(hasPermission func(role, permission string) bool, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := GetRole(r.Context())
			if !hasPermission(role, permission) {
				writeForbidden(w, r, "role lacks permission: "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetTenant extracts the requesting tenant from context.
func GetTenant(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TenantContextKey).(string)
	return v, ok
}

// GetUserID extracts the acting user id from context.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserIDContextKey).(string)
	return v, ok
}

// GetRole extracts the acting user's role from context.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(RoleContextKey).(string)
	return v, ok
}

func writeTenantRequired(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":       "tenant_required",
			"message":    "X-Tenant-Id header is required",
			"request_id": requestID,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(errorResponse)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	requestID := GetRequestID(r.Context())
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":       "forbidden",
			"message":    message,
			"request_id": requestID,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(errorResponse)
}
