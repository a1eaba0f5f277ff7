package pii

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klabs/labelqueue/internal/core"
)

func days(n int) *int { return &n }

func TestApplyRetention_NoActionBeforeRetentionWindowElapses(t *testing.T) {
	def := core.Schema{Fields: []core.Field{
		{Name: "comment", RetentionDays: days(30), Redaction: core.RedactHash},
	}}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	submitted := now.AddDate(0, 0, -10)

	action, payload := ApplyRetention(def, map[string]interface{}{"comment": "hi"}, submitted, now)
	assert.Equal(t, core.RetentionAction(""), action)
	assert.Nil(t, payload)
}

func TestApplyRetention_RedactsAgedOutFieldByPolicy(t *testing.T) {
	def := core.Schema{Fields: []core.Field{
		{Name: "comment", PII: core.PIINone, RetentionDays: days(30), Redaction: core.RedactHash},
	}}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	submitted := now.AddDate(0, 0, -31)

	action, payload := ApplyRetention(def, map[string]interface{}{"comment": "hi", "other": "kept"}, submitted, now)
	assert.Equal(t, core.RetentionFieldRedaction, action)
	assert.NotEqual(t, "hi", payload["comment"])
	assert.Equal(t, "kept", payload["other"])
}

func TestApplyRetention_HardDeletesOnDefinitePII(t *testing.T) {
	def := core.Schema{Fields: []core.Field{
		{Name: "email", PII: core.PIIDefinite, RetentionDays: days(7)},
	}}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	submitted := now.AddDate(0, 0, -8)

	action, payload := ApplyRetention(def, map[string]interface{}{"email": "a@b.com"}, submitted, now)
	assert.Equal(t, core.RetentionHardDelete, action)
	assert.Nil(t, payload)
}

func TestApplyRetention_SoftDeletesOnLikelyPII(t *testing.T) {
	def := core.Schema{Fields: []core.Field{
		{Name: "notes", PII: core.PIILikely, RetentionDays: days(7)},
	}}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	submitted := now.AddDate(0, 0, -8)

	action, payload := ApplyRetention(def, map[string]interface{}{"notes": "maybe a name"}, submitted, now)
	assert.Equal(t, core.RetentionSoftDelete, action)
	assert.Nil(t, payload)
}

func TestRedactValue_AppliesEachPolicy(t *testing.T) {
	assert.Equal(t, "hello", RedactValue(core.RedactPreserve, "hello"))
	assert.Nil(t, RedactValue(core.RedactStrip, "hello"))

	long := ""
	for i := 0; i < 150; i++ {
		long += "a"
	}
	truncated := RedactValue(core.RedactTruncate, long).(string)
	assert.Len(t, truncated, truncateMaxLength)
	assert.Equal(t, "short", RedactValue(core.RedactTruncate, "short"))

	assert.Equal(t, "contact [REDACTED] for help", RedactValue(core.RedactRegexRedact, "contact jane@example.com for help"))
	assert.Equal(t, "ssn [REDACTED] on file", RedactValue(core.RedactRegexRedact, "ssn 123-45-6789 on file"))

	hashed := RedactValue(core.RedactHash, "hello")
	assert.NotEqual(t, "hello", hashed)
	assert.Len(t, hashed.(string), 64)
}

func TestDefaultRedactionPolicy_MapsPIILevelToPolicy(t *testing.T) {
	assert.Equal(t, core.RedactPreserve, DefaultRedactionPolicy(core.PIINone))
	assert.Equal(t, core.RedactTruncate, DefaultRedactionPolicy(core.PIIPossible))
	assert.Equal(t, core.RedactStrip, DefaultRedactionPolicy(core.PIILikely))
	assert.Equal(t, core.RedactStrip, DefaultRedactionPolicy(core.PIIDefinite))
}

func TestPseudonymize_IsDeterministicAndSecretDependent(t *testing.T) {
	secretA := []byte("01234567890123456789012345678901")
	secretB := []byte("abcdefghijabcdefghijabcdefghijab")

	a, err := Pseudonymize(secretA, "user-1")
	require.NoError(t, err)
	b, err := Pseudonymize(secretA, "user-1")
	require.NoError(t, err)
	c, err := Pseudonymize(secretB, "user-1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^labeler_[0-9a-f]{16}$`, a)
}

func TestPseudonymize_RejectsShortSecret(t *testing.T) {
	_, err := Pseudonymize([]byte("too-short"), "user-1")
	assert.ErrorIs(t, err, core.ErrSecretTooShort)
}
