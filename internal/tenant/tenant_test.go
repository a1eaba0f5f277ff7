package tenant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klabs/labelqueue/internal/core"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestSignedURLSigner_VerifyAcceptsFreshlySignedURL(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now})

	signed, err := s.Sign("https://cdn.example.com/assets/sample-1.png", "acme", 15*time.Minute)
	require.NoError(t, err)

	assert.NoError(t, s.Verify(signed, "acme"))
}

func TestSignedURLSigner_VerifyRejectsExpiredURL(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now})

	signed, err := s.Sign("https://cdn.example.com/assets/sample-1.png", "acme", time.Minute)
	require.NoError(t, err)

	later := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now.Add(time.Hour)})
	assert.ErrorIs(t, later.Verify(signed, "acme"), core.ErrExpired)
}

func TestSignedURLSigner_VerifyExpiresExactlyAtDeadline(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now})

	signed, err := s.Sign("https://cdn.example.com/assets/sample-1.png", "acme", time.Minute)
	require.NoError(t, err)

	atDeadline := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now.Add(time.Minute)})
	assert.ErrorIs(t, atDeadline.Verify(signed, "acme"), core.ErrExpired, "now >= expires_at must count as expired")
}

func TestSignedURLSigner_VerifyRejectsTamperedSignature(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now})

	signed, err := s.Sign("https://cdn.example.com/assets/sample-1.png", "acme", 15*time.Minute)
	require.NoError(t, err)

	tampered := signed + "0"
	assert.ErrorIs(t, s.Verify(tampered, "acme"), core.ErrInvalidSignature)
}

func TestSignedURLSigner_VerifyRejectsDifferentSecret(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSignedURLSigner([]byte("secret-a"), fixedClock{at: now})
	verifier := NewSignedURLSigner([]byte("secret-b"), fixedClock{at: now})

	signed, err := signer.Sign("https://cdn.example.com/assets/sample-1.png", "acme", 15*time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, verifier.Verify(signed, "acme"), core.ErrInvalidSignature)
}

func TestSignedURLSigner_VerifyRejectsDifferentTenant(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now})

	signed, err := s.Sign("https://cdn.example.com/assets/sample-1.png", "acme", 15*time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Verify(signed, "globex"), core.ErrInvalidSignature)
}

func TestSignedURLSigner_VerifyRejectsDifferentResource(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: now})

	signed, err := s.Sign("https://cdn.example.com/assets/sample-1.png", "acme", 15*time.Minute)
	require.NoError(t, err)

	forged, err := s.Sign("https://cdn.example.com/assets/sample-2.png", "acme", 15*time.Minute)
	require.NoError(t, err)
	// Splice sample-2's query parameters onto sample-1's path to simulate a forged resource id.
	assert.ErrorIs(t, s.Verify(signed[:len("https://cdn.example.com/assets/sample-1.png")]+forged[len("https://cdn.example.com/assets/sample-2.png"):], "acme"), core.ErrInvalidSignature)
}

func TestSignedURLSigner_VerifyRejectsMissingParameters(t *testing.T) {
	s := NewSignedURLSigner([]byte("shared-secret"), fixedClock{at: time.Now()})
	assert.ErrorIs(t, s.Verify("https://cdn.example.com/assets/sample-1.png", "acme"), core.ErrMalformedURL)
}

func TestAccess_EnsureIsolationRequiresMatchingTenant(t *testing.T) {
	a := New()
	assert.NoError(t, a.EnsureIsolation("acme", "acme"))
	assert.ErrorIs(t, a.EnsureIsolation("acme", "globex"), core.ErrTenantMismatch)
	assert.ErrorIs(t, a.EnsureIsolation("", "acme"), core.ErrTenantRequired)
}

func TestAccess_HasPermissionFollowsRoleLattice(t *testing.T) {
	a := New()
	assert.True(t, a.HasPermission(RoleLabeler, "submit_label"))
	assert.False(t, a.HasPermission(RoleLabeler, "manage_queue"))
	assert.True(t, a.HasPermission(RoleAdmin, "manage_queue"))
}

func TestAccess_CanOverrideRequiresStrictlyHigherRank(t *testing.T) {
	a := New()
	assert.True(t, a.CanOverride(RoleAdjudicator, RoleLabeler))
	assert.False(t, a.CanOverride(RoleLabeler, RoleAdjudicator))
	assert.False(t, a.CanOverride(RoleLabeler, RoleLabeler))
	assert.False(t, a.CanOverride("unknown", RoleLabeler))
}
