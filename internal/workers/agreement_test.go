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

type fakeAgreementStore struct {
	recorded []agreementRecord
}

type agreementRecord struct {
	tenant, queue, sampleID, metric string
	value                           float64
}

func (f *fakeAgreementStore) RecordAgreement(_ context.Context, tenant, queue, sampleID, metric string, value float64, _ time.Time) error {
	f.recorded = append(f.recorded, agreementRecord{tenant, queue, sampleID, metric, value})
	return nil
}

func TestAgreementWorker_RecomputeQueue_RecordsScoreForEachSample(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	assignment, err := st.Assignments().Create(ctx, core.Assignment{
		Tenant: "acme", Queue: "q1", SampleID: "sample-1", Status: core.AssignmentCompleted,
	})
	require.NoError(t, err)

	for _, labelerID := range []string{"labeler-1", "labeler-2"} {
		_, err := st.Labels().Create(ctx, core.Label{
			Tenant: "acme", Assignment: assignment.ID, SampleID: "sample-1", Labeler: labelerID,
			SchemaVersion: "v1", Payload: map[string]interface{}{"verdict": "positive"}, SubmittedAt: now,
		})
		require.NoError(t, err)
	}

	results := &fakeAgreementStore{}
	w := NewAgreementWorker(st, results, nil, time.Hour, 24*time.Hour, 2, nil)

	require.NoError(t, w.RecomputeQueue(ctx, "acme", "q1"))

	require.Len(t, results.recorded, 1)
	assert.Equal(t, "sample-1", results.recorded[0].sampleID)
	assert.Equal(t, "q1", results.recorded[0].queue)
}

func TestAgreementWorker_RecomputeQueue_SkipsSamplesBelowMinRaters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	assignment, err := st.Assignments().Create(ctx, core.Assignment{
		Tenant: "acme", Queue: "q1", SampleID: "sample-1", Status: core.AssignmentCompleted,
	})
	require.NoError(t, err)

	_, err = st.Labels().Create(ctx, core.Label{
		Tenant: "acme", Assignment: assignment.ID, SampleID: "sample-1", Labeler: "labeler-1",
		SchemaVersion: "v1", Payload: map[string]interface{}{"verdict": "positive"}, SubmittedAt: now,
	})
	require.NoError(t, err)

	results := &fakeAgreementStore{}
	w := NewAgreementWorker(st, results, nil, time.Hour, 24*time.Hour, 2, nil)

	require.NoError(t, w.RecomputeQueue(ctx, "acme", "q1"))
	assert.Empty(t, results.recorded)
}

func TestAgreementWorker_RecomputeDueQueues_SweepsEveryActiveQueue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(fixedClock{at: now})

	_, err := st.Queues().Create(ctx, core.Queue{Tenant: "acme", ID: "q1", Status: core.QueueActive})
	require.NoError(t, err)
	_, err = st.Queues().Create(ctx, core.Queue{Tenant: "globex", ID: "q2", Status: core.QueueActive})
	require.NoError(t, err)
	_, err = st.Queues().Create(ctx, core.Queue{Tenant: "acme", ID: "q3", Status: core.QueuePaused})
	require.NoError(t, err)

	for _, q := range []struct{ tenant, queue string }{{"acme", "q1"}, {"globex", "q2"}} {
		assignment, err := st.Assignments().Create(ctx, core.Assignment{
			Tenant: q.tenant, Queue: q.queue, SampleID: "sample-1", Status: core.AssignmentCompleted,
		})
		require.NoError(t, err)
		for _, labelerID := range []string{"labeler-1", "labeler-2"} {
			_, err := st.Labels().Create(ctx, core.Label{
				Tenant: q.tenant, Assignment: assignment.ID, SampleID: "sample-1", Labeler: labelerID,
				SchemaVersion: "v1", Payload: map[string]interface{}{"verdict": "positive"}, SubmittedAt: now,
			})
			require.NoError(t, err)
		}
	}

	results := &fakeAgreementStore{}
	w := NewAgreementWorker(st, results, nil, time.Hour, 24*time.Hour, 2, nil)

	require.NoError(t, w.RecomputeDueQueues(ctx))

	require.Len(t, results.recorded, 2)
	queuesRecorded := map[string]bool{results.recorded[0].queue: true, results.recorded[1].queue: true}
	assert.True(t, queuesRecorded["q1"])
	assert.True(t, queuesRecorded["q2"])
}
