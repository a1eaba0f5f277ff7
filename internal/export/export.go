// Package export implements the streaming label export pipeline of §4.9: deterministic ordering,
// bounded batch size, a temp-file-plus-atomic-rename write path, redaction/pseudonymization, and a
// SHA-256 manifest written alongside the output file.
package export

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/pii"
	"github.com/klabs/labelqueue/internal/telemetry"
)

const (
	defaultBatchSize      = 1000
	implementationVersion = "1.0.0"
	manifestSuffix        = ".manifest.json"
)

// Format selects the export's on-disk encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

func (f Format) valid() bool {
	return f == FormatJSONL || f == FormatCSV
}

// RedactionMode selects how export rows are sanitized before being written (§4.9).
type RedactionMode string

const (
	RedactionNone       RedactionMode = "none"
	RedactionAutomatic  RedactionMode = "automatic"
	RedactionAggressive RedactionMode = "aggressive"
)

// Options parametrizes one Export call (§4.9). PseudonymSecret and SchemaDefinition are excluded
// from JSON so a manifest written to disk never carries the secret or the full schema blob.
type Options struct {
	SampleVersion    string        `json:"sample_version,omitempty"`
	Limit            int           `json:"limit,omitempty"`
	Offset           int           `json:"offset,omitempty"`
	RedactionMode    RedactionMode `json:"redaction_mode,omitempty"`
	UsePseudonyms    bool          `json:"use_pseudonyms,omitempty"`
	PseudonymSecret  []byte        `json:"-"`
	IncludeMetadata  bool          `json:"include_metadata,omitempty"`
	SchemaDefinition *core.Schema  `json:"-"`
}

// Manifest describes one completed export for integrity verification (§4.9).
type Manifest struct {
	ExportID              string    `json:"export_id"`
	Tenant                string    `json:"tenant"`
	Queue                 string    `json:"queue_id"`
	SchemaVersionID       string    `json:"schema_version_id"`
	SampleVersion         string    `json:"sample_version,omitempty"`
	Format                Format    `json:"format"`
	OutputPath            string    `json:"output_path"`
	RowCount              int       `json:"row_count"`
	SHA256                string    `json:"sha256_hash"`
	ExportedAt            time.Time `json:"exported_at"`
	Parameters            Options   `json:"parameters"`
	ImplementationVersion string    `json:"implementation_version"`
	SchemaDefinitionHash  string    `json:"schema_definition_hash,omitempty"`
}

// ToJSON renders the manifest as indented JSON, the shape written to <output>.manifest.json.
func (m Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON parses a manifest previously produced by ToJSON, rejecting an unknown Format so a
// corrupted or hand-edited manifest can't silently round-trip (§8 property 8).
func FromJSON(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	if !m.Format.valid() {
		return Manifest{}, fmt.Errorf("%w: unknown export format %q", core.ErrInvalidType, m.Format)
	}
	return m, nil
}

func newExportID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "exp_" + hex.EncodeToString(buf)
}

// Exporter streams Labels out of a LabelStore in deterministic order to a file, then writes a
// manifest alongside it.
type Exporter struct {
	labels    core.LabelStore
	assigns   core.AssignmentStore
	clock     core.Clock
	batchSize int
	telemetry core.Telemetry
}

func New(labels core.LabelStore, clock core.Clock) *Exporter {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Exporter{labels: labels, clock: clock, batchSize: defaultBatchSize, telemetry: telemetry.Noop{}}
}

// WithTelemetry attaches a measurement sink for export row throughput; returns e for chaining.
func (e *Exporter) WithTelemetry(t core.Telemetry) *Exporter {
	if t != nil {
		e.telemetry = t
	}
	return e
}

// WithAssignments supplies the assignment store used to compute labeling_time_seconds when
// Options.IncludeMetadata is set; returns e for chaining. Without it, that column is always zero.
func (e *Exporter) WithAssignments(a core.AssignmentStore) *Exporter {
	e.assigns = a
	return e
}

// Export streams every label for (tenant, queue, schemaVersion) to destPath using format, applying
// opts' redaction/pseudonymization to each row, then writes a Manifest to
// destPath+".manifest.json" (§4.9, §6). Writes go to a temp file in the same directory and rename
// atomically once complete so a reader never observes a partial file.
func (e *Exporter) Export(ctx context.Context, tenant, queue, schemaVersion, destPath string, format Format, opts Options) (Manifest, error) {
	if !format.valid() {
		return Manifest{}, fmt.Errorf("%w: unknown export format %q", core.ErrInvalidType, format)
	}

	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return Manifest{}, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	hasher := sha256.New()
	writer := io.MultiWriter(tmp, hasher)

	started := e.clock.Now()
	count, err := e.stream(ctx, writer, tenant, queue, schemaVersion, format, opts)
	closeErr := tmp.Close()
	if err != nil {
		return Manifest{}, err
	}
	if closeErr != nil {
		return Manifest{}, closeErr
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return Manifest{}, fmt.Errorf("atomic rename: %w", err)
	}

	elapsed := e.clock.Now().Sub(started).Seconds()
	rowsPerSecond := 0.0
	if elapsed > 0 {
		rowsPerSecond = float64(count) / elapsed
	}
	e.telemetry.Record("export_throughput", map[string]float64{
		"rows":            float64(count),
		"rows_per_second": rowsPerSecond,
	}, map[string]string{"queue": queue, "format": string(format)})

	manifest := Manifest{
		ExportID:              newExportID(),
		Tenant:                tenant,
		Queue:                 queue,
		SchemaVersionID:       schemaVersion,
		SampleVersion:         opts.SampleVersion,
		Format:                format,
		OutputPath:            destPath,
		RowCount:              count,
		SHA256:                hex.EncodeToString(hasher.Sum(nil)),
		ExportedAt:            e.clock.Now(),
		Parameters:            opts,
		ImplementationVersion: implementationVersion,
	}
	if opts.SchemaDefinition != nil {
		manifest.SchemaDefinitionHash = hashSchema(*opts.SchemaDefinition)
	}

	manifestBytes, err := manifest.ToJSON()
	if err != nil {
		return Manifest{}, err
	}
	if err := os.WriteFile(destPath+manifestSuffix, manifestBytes, 0o644); err != nil {
		return Manifest{}, err
	}

	return manifest, nil
}

func hashSchema(s core.Schema) string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *Exporter) stream(ctx context.Context, w io.Writer, tenant, queue, schemaVersion string, format Format, opts Options) (int, error) {
	switch format {
	case FormatCSV:
		return e.streamCSV(ctx, w, tenant, queue, schemaVersion, opts)
	default:
		return e.streamJSONL(ctx, w, tenant, queue, schemaVersion, opts)
	}
}

// exportRow is the sanitized view of one Label written to JSONL (§6): sample_id, labeler_id,
// payload, submitted_at only — none of Label's internal bookkeeping fields.
type exportRow struct {
	SampleID    string                 `json:"sample_id"`
	LabelerID   string                 `json:"labeler_id"`
	Payload     map[string]interface{} `json:"payload"`
	SubmittedAt time.Time              `json:"submitted_at"`
}

// sanitize applies opts' pseudonymization and redaction to one Label, producing the row that
// actually reaches the export file (§4.9, §4.10).
func (e *Exporter) sanitize(l core.Label, opts Options) (exportRow, error) {
	labelerID := l.Labeler
	if opts.UsePseudonyms {
		p, err := pii.Pseudonymize(opts.PseudonymSecret, l.Labeler)
		if err != nil {
			return exportRow{}, err
		}
		labelerID = p
	}

	payload := l.Payload
	if opts.RedactionMode != RedactionNone && opts.RedactionMode != "" && opts.SchemaDefinition != nil {
		redacted := make(map[string]interface{}, len(l.Payload))
		for k, v := range l.Payload {
			redacted[k] = v
		}
		for _, f := range opts.SchemaDefinition.Fields {
			v, ok := redacted[f.Name]
			if !ok {
				continue
			}
			switch opts.RedactionMode {
			case RedactionAggressive:
				if f.PII != core.PIINone {
					redacted[f.Name] = pii.RedactValue(core.RedactStrip, v)
				}
			case RedactionAutomatic:
				policy := f.Redaction
				if policy == "" {
					policy = pii.DefaultRedactionPolicy(f.PII)
				}
				redacted[f.Name] = pii.RedactValue(policy, v)
			}
		}
		payload = redacted
	}

	return exportRow{SampleID: l.SampleID, LabelerID: labelerID, Payload: payload, SubmittedAt: l.SubmittedAt}, nil
}

func (e *Exporter) streamJSONL(ctx context.Context, w io.Writer, tenant, queue, schemaVersion string, opts Options) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	offset := opts.Offset
	for {
		batch, err := e.labels.ListForExport(ctx, tenant, queue, schemaVersion, core.ListOptions{Limit: e.batchSize, Offset: offset})
		if err != nil {
			return count, err
		}
		if len(batch) == 0 {
			break
		}
		for _, l := range batch {
			row, err := e.sanitize(l, opts)
			if err != nil {
				return count, err
			}
			if err := enc.Encode(row); err != nil {
				return count, err
			}
			count++
		}
		offset += len(batch)
		if len(batch) < e.batchSize {
			break
		}
	}
	return count, nil
}

func (e *Exporter) streamCSV(ctx context.Context, w io.Writer, tenant, queue, schemaVersion string, opts Options) (int, error) {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	count := 0
	offset := opts.Offset
	var header []string
	var payloadFields []string

	for {
		batch, err := e.labels.ListForExport(ctx, tenant, queue, schemaVersion, core.ListOptions{Limit: e.batchSize, Offset: offset})
		if err != nil {
			return count, err
		}
		if len(batch) == 0 {
			break
		}
		for _, l := range batch {
			row, err := e.sanitize(l, opts)
			if err != nil {
				return count, err
			}
			if header == nil {
				payloadFields = sortedKeys(row.Payload)
				header = append([]string{"sample_id", "labeler_id"}, payloadFields...)
				if opts.IncludeMetadata {
					header = append(header, "labeling_time_seconds", "created_at", "valid")
				}
				if err := cw.Write(header); err != nil {
					return count, err
				}
			}
			record := make([]string, 0, len(header))
			record = append(record, row.SampleID, row.LabelerID)
			for _, field := range payloadFields {
				record = append(record, fmt.Sprintf("%v", row.Payload[field]))
			}
			if opts.IncludeMetadata {
				record = append(record, e.labelingTimeSeconds(ctx, tenant, l), row.SubmittedAt.Format(time.RFC3339), "true")
			}
			if err := cw.Write(record); err != nil {
				return count, err
			}
			count++
		}
		offset += len(batch)
		if len(batch) < e.batchSize {
			break
		}
	}
	return count, nil
}

// labelingTimeSeconds is the elapsed time between the originating assignment's reservation and
// this label's submission, or "0" if the assignment store wasn't wired or the assignment can't be
// found — every Label in the store was already validated against its SchemaVersion at submission
// time, so the accompanying "valid" column is always "true".
func (e *Exporter) labelingTimeSeconds(ctx context.Context, tenant string, l core.Label) string {
	if e.assigns == nil {
		return "0"
	}
	a, err := e.assigns.Get(ctx, tenant, l.Assignment)
	if err != nil || a.ReservedAt == nil {
		return "0"
	}
	return fmt.Sprintf("%.0f", l.SubmittedAt.Sub(*a.ReservedAt).Seconds())
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
