package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/store"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func seedLabels(t *testing.T, st *store.MemoryStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := st.Labels().Create(ctx, core.Label{
			Tenant:        "acme",
			Assignment:    "assignment-" + itoa(i),
			SampleID:      "sample-" + itoa(i),
			Labeler:       "labeler-1",
			SchemaVersion: "v1",
			Payload:       map[string]interface{}{"answer": "yes"},
			SubmittedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return len(b)
}

func TestExport_JSONL_WritesEveryRecordAndManifest(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)})
	seedLabels(t, st, 5)
	for i := 0; i < 5; i++ {
		_, err := st.Assignments().Create(context.Background(), core.Assignment{
			ID: "assignment-" + itoa(i), Tenant: "acme", Queue: "queue-1", SampleID: "sample-" + itoa(i),
			Status: core.AssignmentCompleted,
		})
		require.NoError(t, err)
	}

	exp := New(st.Labels(), fixedClock{time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)})

	dest := filepath.Join(t.TempDir(), "out.jsonl")
	manifest, err := exp.Export(context.Background(), "acme", "queue-1", "v1", dest, FormatJSONL, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, manifest.RowCount)
	assert.NotEmpty(t, manifest.SHA256)
	assert.Regexp(t, `^exp_[0-9a-f]{16}$`, manifest.ExportID)
	assert.Equal(t, dest, manifest.OutputPath)
	assert.NotEmpty(t, manifest.ImplementationVersion)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 5, lines)

	var row map[string]interface{}
	firstLine := data[:indexByte(data, '\n')]
	require.NoError(t, json.Unmarshal(firstLine, &row))
	assert.Equal(t, "sample-0", row["sample_id"])
	assert.Equal(t, "labeler-1", row["labeler_id"])
	assert.NotContains(t, row, "tenant")
	assert.NotContains(t, row, "schema_version")

	manifestBytes, err := os.ReadFile(dest + manifestSuffix)
	require.NoError(t, err)
	onDisk, err := FromJSON(manifestBytes)
	require.NoError(t, err)
	assert.Equal(t, manifest.ExportID, onDisk.ExportID)
	assert.Equal(t, manifest.SHA256, onDisk.SHA256)
}

func TestExport_NoPartialFileOnFailure(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	exp := New(st.Labels(), fixedClock{time.Now().UTC()})

	// Destination directory does not exist: CreateTemp must fail before anything is written,
	// and no stray temp file should be left behind in its parent.
	dest := filepath.Join(t.TempDir(), "missing-dir", "out.jsonl")
	_, err := exp.Export(context.Background(), "acme", "", "", dest, FormatJSONL, Options{})
	assert.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExport_RejectsUnknownFormat(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	exp := New(st.Labels(), fixedClock{time.Now().UTC()})

	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err := exp.Export(context.Background(), "acme", "", "", dest, Format("xml"), Options{})
	assert.ErrorIs(t, err, core.ErrInvalidType)
}

func TestExport_CSV_IncludesHeaderAndSortedPayloadColumns(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	seedLabels(t, st, 3)

	exp := New(st.Labels(), fixedClock{time.Now().UTC()})
	dest := filepath.Join(t.TempDir(), "out.csv")

	manifest, err := exp.Export(context.Background(), "acme", "", "", dest, FormatCSV, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.RowCount)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sample_id,labeler_id,answer")
	assert.NotContains(t, string(data), "schema_version")
}

func TestExport_CSV_IncludesMetadataColumnsWhenRequested(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	seedLabels(t, st, 1)

	exp := New(st.Labels(), fixedClock{time.Now().UTC()}).WithAssignments(st.Assignments())
	dest := filepath.Join(t.TempDir(), "out.csv")

	_, err := exp.Export(context.Background(), "acme", "", "", dest, FormatCSV, Options{IncludeMetadata: true})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "labeling_time_seconds,created_at,valid")
	assert.Contains(t, string(data), ",true")
}

func TestExport_AutomaticRedactionAppliesFieldPolicy(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	ctx := context.Background()
	_, err := st.Labels().Create(ctx, core.Label{
		Tenant:        "acme",
		Assignment:    "assignment-0",
		SampleID:      "sample-0",
		Labeler:       "labeler-1",
		SchemaVersion: "v1",
		Payload:       map[string]interface{}{"comment": "contact jane@example.com"},
		SubmittedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	schema := core.Schema{Fields: []core.Field{
		{Name: "comment", PII: core.PIILikely},
	}}

	exp := New(st.Labels(), fixedClock{time.Now().UTC()})
	dest := filepath.Join(t.TempDir(), "out.jsonl")
	_, err = exp.Export(ctx, "acme", "", "", dest, FormatJSONL, Options{
		RedactionMode:    RedactionAutomatic,
		SchemaDefinition: &schema,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var row map[string]interface{}
	require.NoError(t, json.Unmarshal(data[:indexByte(data, '\n')], &row))
	payload := row["payload"].(map[string]interface{})
	assert.Nil(t, payload["comment"], "PIILikely defaults to strip when the field declares no explicit policy")
}

func TestExport_PseudonymizesLabelerWhenRequested(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	seedLabels(t, st, 1)

	exp := New(st.Labels(), fixedClock{time.Now().UTC()})
	dest := filepath.Join(t.TempDir(), "out.jsonl")
	secret := []byte("01234567890123456789012345678901")
	_, err := exp.Export(context.Background(), "acme", "", "", dest, FormatJSONL, Options{
		UsePseudonyms:   true,
		PseudonymSecret: secret,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var row map[string]interface{}
	require.NoError(t, json.Unmarshal(data[:indexByte(data, '\n')], &row))
	assert.Regexp(t, `^labeler_[0-9a-f]{16}$`, row["labeler_id"])
}

func TestManifest_ToJSON_FromJSON_RoundTrips(t *testing.T) {
	m := Manifest{
		ExportID:              "exp_deadbeefcafebabe",
		Tenant:                "acme",
		Queue:                 "queue-1",
		SchemaVersionID:       "v1",
		Format:                FormatJSONL,
		OutputPath:            "/tmp/out.jsonl",
		RowCount:              5,
		SHA256:                "abc123",
		ExportedAt:            time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		ImplementationVersion: implementationVersion,
	}
	data, err := m.ToJSON()
	require.NoError(t, err)

	round, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, m.ExportID, round.ExportID)
	assert.Equal(t, m.SHA256, round.SHA256)
	assert.True(t, m.ExportedAt.Equal(round.ExportedAt))
}

func TestManifest_FromJSON_RejectsUnknownFormat(t *testing.T) {
	_, err := FromJSON([]byte(`{"export_id":"exp_1","format":"xml"}`))
	assert.ErrorIs(t, err, core.ErrInvalidType)
}

func TestManifest_ParametersExcludeSecretAndSchema(t *testing.T) {
	st := store.NewMemoryStore(fixedClock{time.Now().UTC()})
	seedLabels(t, st, 1)

	schema := core.Schema{Fields: []core.Field{{Name: "answer"}}}
	exp := New(st.Labels(), fixedClock{time.Now().UTC()})
	dest := filepath.Join(t.TempDir(), "out.jsonl")
	secret := []byte("01234567890123456789012345678901")
	manifest, err := exp.Export(context.Background(), "acme", "", "", dest, FormatJSONL, Options{
		UsePseudonyms:    true,
		PseudonymSecret:  secret,
		SchemaDefinition: &schema,
	})
	require.NoError(t, err)

	data, err := manifest.ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), string(secret))
	assert.NotContains(t, string(data), "\"answer\"")
}
