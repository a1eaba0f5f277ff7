package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/store"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func retentionDays(n int) *int { return &n }

func TestRetentionWorker_SweepOnce_RedactsAgedOutField(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	_, err := st.Assignments().Create(ctx, core.Assignment{
		ID: "a1", Tenant: "acme", Queue: "q1", SampleID: "s1", Status: core.AssignmentCompleted,
	})
	require.NoError(t, err)

	l, err := st.Labels().Create(ctx, core.Label{
		Tenant:        "acme",
		Assignment:    "a1",
		SampleID:      "s1",
		Labeler:       "labeler-1",
		SchemaVersion: "v1",
		Payload:       map[string]interface{}{"comment": "contains a name", "rating": "good"},
		SubmittedAt:   now.AddDate(0, 0, -40),
	})
	require.NoError(t, err)

	def := core.Schema{
		Fields: []core.Field{
			{Name: "comment", Type: core.FieldText, PII: core.PIINone, RetentionDays: retentionDays(30), Redaction: core.RedactHash},
			{Name: "rating", Type: core.FieldText, RetentionDays: nil},
		},
	}

	w := NewRetentionWorker(st, fixedClock{at: now}, time.Hour, 0, nil)
	err = w.SweepOnce(ctx, []schemaQueueVersion{{Tenant: "acme", Queue: "q1", VersionID: "v1", Definition: def}})
	require.NoError(t, err)

	got, err := st.Labels().Get(ctx, "acme", l.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "contains a name", got.Payload["comment"])
	assert.Equal(t, "good", got.Payload["rating"])
}

func TestRetentionWorker_SweepOnce_HardDeletesDefinitePII(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	_, err := st.Assignments().Create(ctx, core.Assignment{
		ID: "a1", Tenant: "acme", Queue: "q1", SampleID: "s1", Status: core.AssignmentCompleted,
	})
	require.NoError(t, err)

	l, err := st.Labels().Create(ctx, core.Label{
		Tenant:        "acme",
		Assignment:    "a1",
		SampleID:      "s1",
		Labeler:       "labeler-1",
		SchemaVersion: "v1",
		Payload:       map[string]interface{}{"email": "a@b.com"},
		SubmittedAt:   now.AddDate(0, 0, -10),
	})
	require.NoError(t, err)

	def := core.Schema{
		Fields: []core.Field{
			{Name: "email", Type: core.FieldText, PII: core.PIIDefinite, RetentionDays: retentionDays(7)},
		},
	}

	w := NewRetentionWorker(st, fixedClock{at: now}, time.Hour, 0, nil)
	err = w.SweepOnce(ctx, []schemaQueueVersion{{Tenant: "acme", Queue: "q1", VersionID: "v1", Definition: def}})
	require.NoError(t, err)

	_, err = st.Labels().Get(ctx, "acme", l.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRetentionWorker_SweepOnce_TrimsAuditLog(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	require.NoError(t, st.Audit().Append(ctx, core.AuditLog{
		ID: "old", Tenant: "acme", EntityType: "label", EntityID: "l1",
		Action: core.AuditCreated, OccurredAt: now.AddDate(0, 0, -100),
	}))
	require.NoError(t, st.Audit().Append(ctx, core.AuditLog{
		ID: "new", Tenant: "acme", EntityType: "label", EntityID: "l2",
		Action: core.AuditCreated, OccurredAt: now,
	}))

	w := NewRetentionWorker(st, fixedClock{at: now}, time.Hour, 90*24*time.Hour, nil)
	require.NoError(t, w.SweepOnce(ctx, nil))

	n, err := st.Audit().DeleteOlderThan(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the old entry should already have been trimmed by SweepOnce")
}
