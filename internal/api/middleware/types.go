package middleware

// Context keys for middleware data storage
type contextKey string

const (
	// RequestIDContextKey is the context key for request ID
	RequestIDContextKey contextKey = "request_id"

	// StartTimeContextKey is the context key for request start time
	StartTimeContextKey contextKey = "start_time"

	// TenantContextKey is the context key for the requesting tenant (X-Tenant-Id)
	TenantContextKey contextKey = "tenant_id"

	// UserIDContextKey is the context key for the acting user (X-User-Id)
	UserIDContextKey contextKey = "user_id"

	// RoleContextKey is the context key for the acting user's role (X-User-Role)
	RoleContextKey contextKey = "user_role"
)

// HTTP headers
const (
	// RequestIDHeader is the header name for request ID
	RequestIDHeader = "X-Request-ID"

	// AuthorizationHeader is the header name for authorization
	AuthorizationHeader = "Authorization"

	// RateLimitHeader prefix for rate limit headers
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"

	// Cache control headers
	CacheControlHeader = "Cache-Control"
	ETagHeader         = "ETag"
	IfNoneMatchHeader  = "If-None-Match"

	// API version header
	APIVersionHeader = "X-API-Version"

	// Tenant/actor headers (§6 "every request carries X-Tenant-Id ...")
	TenantHeader = "X-Tenant-Id"
	UserIDHeader = "X-User-Id"
	RoleHeader   = "X-User-Role"
)
