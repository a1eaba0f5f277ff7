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

func TestTimeoutWorker_SweepOnce_RequeuesExpiredReservation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	reservedAt := now.Add(-time.Hour)
	deadline := now.Add(-time.Minute)
	created, err := st.Assignments().Create(ctx, core.Assignment{
		Tenant: "acme", Queue: "q1", SampleID: "s1", Labeler: "labeler-1",
		Status: core.AssignmentReserved, ReservedAt: &reservedAt, Deadline: &deadline,
	})
	require.NoError(t, err)

	w := NewTimeoutWorker(st, fixedClock{at: now}, time.Minute, 30*time.Second, 3, nil)
	require.NoError(t, w.SweepOnce(ctx))

	got, err := st.Assignments().Get(ctx, "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AssignmentRequeued, got.Status)
	assert.Equal(t, "", got.Labeler)
	assert.Nil(t, got.Deadline)
	assert.Equal(t, 1, got.RequeueAttempts)
}

func TestTimeoutWorker_SweepOnce_RequeuedAssignmentIsDispatchable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	deadline := now.Add(-time.Minute)
	created, err := st.Assignments().Create(ctx, core.Assignment{
		Tenant: "acme", Queue: "q1", SampleID: "s1", Labeler: "labeler-1",
		Status: core.AssignmentReserved, Deadline: &deadline,
	})
	require.NoError(t, err)

	w := NewTimeoutWorker(st, fixedClock{at: now}, time.Minute, 30*time.Second, 3, nil)
	require.NoError(t, w.SweepOnce(ctx))

	candidates, err := st.Assignments().ListCandidates(ctx, "acme", "q1")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, created.SampleID, candidates[0].SampleID)
}

func TestTimeoutWorker_SweepOnce_TimesOutAfterMaxRequeues(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	deadline := now.Add(-time.Minute)
	created, err := st.Assignments().Create(ctx, core.Assignment{
		Tenant: "acme", Queue: "q1", SampleID: "s1", Labeler: "labeler-1",
		Status: core.AssignmentReserved, Deadline: &deadline, RequeueAttempts: 3,
	})
	require.NoError(t, err)

	w := NewTimeoutWorker(st, fixedClock{at: now}, time.Minute, 30*time.Second, 3, nil)
	require.NoError(t, w.SweepOnce(ctx))

	got, err := st.Assignments().Get(ctx, "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AssignmentTimedOut, got.Status)
}
