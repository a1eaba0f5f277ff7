package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/database/postgres"
)

// PostgresStore implements core.Store over the teacher-derived connection pool. Every method
// that reads a specific record filters by tenant in the WHERE clause so that a foreign tenant's
// row is indistinguishable from absent, per §4.1.
type PostgresStore struct {
	db    postgres.DatabaseConnection
	clock core.Clock
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(db postgres.DatabaseConnection, clock core.Clock) *PostgresStore {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &PostgresStore{db: db, clock: clock}
}

func (s *PostgresStore) Close() error { return s.db.Disconnect(context.Background()) }

func (s *PostgresStore) Schemas() core.SchemaStore         { return pgSchemaRepo{s} }
func (s *PostgresStore) Queues() core.QueueStore           { return pgQueueRepo{s} }
func (s *PostgresStore) Samples() core.SampleStore         { return pgSampleRepo{s} }
func (s *PostgresStore) Labelers() core.LabelerStore       { return pgLabelerRepo{s} }
func (s *PostgresStore) Assignments() core.AssignmentStore { return pgAssignmentRepo{s} }
func (s *PostgresStore) Labels() core.LabelStore           { return pgLabelRepo{s} }
func (s *PostgresStore) Audit() core.AuditStore            { return pgAuditRepo{s} }

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

// --- schemas ---

type pgSchemaRepo struct{ s *PostgresStore }

func (r pgSchemaRepo) Get(ctx context.Context, tenant, id string) (core.Schema, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT id, tenant, name, fields, created_at FROM schemas WHERE id = $1 AND tenant = $2`, id, tenant)
	return scanSchema(row)
}

func scanSchema(row pgx.Row) (core.Schema, error) {
	var sc core.Schema
	var fields []byte
	if err := row.Scan(&sc.ID, &sc.Tenant, &sc.Name, &fields, &sc.CreatedAt); err != nil {
		return core.Schema{}, wrapNotFound(err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &sc.Fields); err != nil {
			return core.Schema{}, err
		}
	}
	return sc, nil
}

func (r pgSchemaRepo) Create(ctx context.Context, e core.Schema) (core.Schema, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = r.s.clock.Now()
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return core.Schema{}, err
	}
	_, err = r.s.db.Exec(ctx,
		`INSERT INTO schemas (id, tenant, name, fields, created_at) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET name = $3, fields = $4`,
		e.ID, e.Tenant, e.Name, fields, e.CreatedAt)
	return e, err
}

func (r pgSchemaRepo) Update(ctx context.Context, e core.Schema) (core.Schema, error) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return core.Schema{}, err
	}
	tag, err := r.s.db.Exec(ctx,
		`UPDATE schemas SET name = $1, fields = $2 WHERE id = $3 AND tenant = $4`,
		e.Name, fields, e.ID, e.Tenant)
	if err != nil {
		return core.Schema{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.Schema{}, core.ErrNotFound
	}
	return e, nil
}

func (r pgSchemaRepo) Delete(ctx context.Context, tenant, id string) error {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM schemas WHERE id = $1 AND tenant = $2`, id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r pgSchemaRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Schema, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT id, tenant, name, fields, created_at FROM schemas WHERE tenant = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Schema
	for rows.Next() {
		sc, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r pgSchemaRepo) CreateVersion(ctx context.Context, v core.SchemaVersion) (core.SchemaVersion, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	def, err := json.Marshal(v.Definition)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	_, err = r.s.db.Exec(ctx,
		`INSERT INTO schema_versions (id, queue, version_number, definition, transform_from_previous, frozen_at, label_count)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		v.ID, v.Queue, v.VersionNumber, def, v.TransformFromPrevious, v.FrozenAt, v.LabelCount)
	return v, err
}

func (r pgSchemaRepo) GetVersion(ctx context.Context, tenant, id string) (core.SchemaVersion, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT sv.id, sv.queue, sv.version_number, sv.definition, sv.transform_from_previous, sv.frozen_at, sv.label_count
		 FROM schema_versions sv JOIN queues q ON q.id = sv.queue WHERE sv.id = $1 AND q.tenant = $2`, id, tenant)
	return scanVersion(row)
}

func scanVersion(row pgx.Row) (core.SchemaVersion, error) {
	var v core.SchemaVersion
	var def []byte
	if err := row.Scan(&v.ID, &v.Queue, &v.VersionNumber, &def, &v.TransformFromPrevious, &v.FrozenAt, &v.LabelCount); err != nil {
		return core.SchemaVersion{}, wrapNotFound(err)
	}
	if len(def) > 0 {
		_ = json.Unmarshal(def, &v.Definition)
	}
	return v, nil
}

func (r pgSchemaRepo) FreezeVersion(ctx context.Context, tenant, id string, at time.Time) (core.SchemaVersion, error) {
	_, err := r.s.db.Exec(ctx,
		`UPDATE schema_versions sv SET frozen_at = $1 FROM queues q
		 WHERE sv.id = $2 AND q.id = sv.queue AND q.tenant = $3 AND sv.frozen_at IS NULL`,
		at, id, tenant)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	return r.GetVersion(ctx, tenant, id)
}

func (r pgSchemaRepo) IncrementLabelCount(ctx context.Context, tenant, id string) (core.SchemaVersion, error) {
	_, err := r.s.db.Exec(ctx,
		`UPDATE schema_versions sv SET label_count = sv.label_count + 1 FROM queues q
		 WHERE sv.id = $1 AND q.id = sv.queue AND q.tenant = $2`, id, tenant)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	return r.GetVersion(ctx, tenant, id)
}

// --- queues ---

type pgQueueRepo struct{ s *PostgresStore }

func scanQueue(row pgx.Row) (core.Queue, error) {
	var q core.Queue
	var policy []byte
	if err := row.Scan(&q.ID, &q.Tenant, &q.Name, &q.SchemaVersion, &policy, &q.Status, &q.ComponentModule, &q.TimeoutSeconds); err != nil {
		return core.Queue{}, wrapNotFound(err)
	}
	_ = json.Unmarshal(policy, &q.Policy)
	return q, nil
}

func (r pgQueueRepo) Get(ctx context.Context, tenant, id string) (core.Queue, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT id, tenant, name, schema_version, policy, status, component_module, timeout_seconds FROM queues WHERE id = $1 AND tenant = $2`, id, tenant)
	return scanQueue(row)
}

func (r pgQueueRepo) Create(ctx context.Context, q core.Queue) (core.Queue, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	policy, err := json.Marshal(q.Policy)
	if err != nil {
		return core.Queue{}, err
	}
	_, err = r.s.db.Exec(ctx,
		`INSERT INTO queues (id, tenant, name, schema_version, policy, status, component_module, timeout_seconds)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.ID, q.Tenant, q.Name, q.SchemaVersion, policy, q.Status, q.ComponentModule, q.TimeoutSeconds)
	return q, err
}

func (r pgQueueRepo) Update(ctx context.Context, q core.Queue) (core.Queue, error) {
	policy, err := json.Marshal(q.Policy)
	if err != nil {
		return core.Queue{}, err
	}
	tag, err := r.s.db.Exec(ctx,
		`UPDATE queues SET name=$1, schema_version=$2, policy=$3, status=$4, component_module=$5, timeout_seconds=$6
		 WHERE id = $7 AND tenant = $8`,
		q.Name, q.SchemaVersion, policy, q.Status, q.ComponentModule, q.TimeoutSeconds, q.ID, q.Tenant)
	if err != nil {
		return core.Queue{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.Queue{}, core.ErrNotFound
	}
	return q, nil
}

func (r pgQueueRepo) Delete(ctx context.Context, tenant, id string) error {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM queues WHERE id = $1 AND tenant = $2`, id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r pgQueueRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Queue, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT id, tenant, name, schema_version, policy, status, component_module, timeout_seconds FROM queues
		 WHERE tenant = $1 ORDER BY id LIMIT $2 OFFSET $3`, tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r pgQueueRepo) ListActive(ctx context.Context) ([]core.Queue, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT id, tenant, name, schema_version, policy, status, component_module, timeout_seconds FROM queues
		 WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r pgQueueRepo) Stats(ctx context.Context, tenant, queue string) (core.QueueStats, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'completed') FROM assignments WHERE tenant = $1 AND queue = $2`,
		tenant, queue)
	var total, labeled int
	if err := row.Scan(&total, &labeled); err != nil {
		return core.QueueStats{}, wrapNotFound(err)
	}
	remaining := total - labeled
	if remaining < 0 {
		remaining = 0
	}
	return core.QueueStats{TotalAssignments: total, Labeled: labeled, Remaining: remaining}, nil
}

// --- samples ---

type pgSampleRepo struct{ s *PostgresStore }

func scanSample(row pgx.Row) (core.SampleRef, error) {
	var sr core.SampleRef
	var meta []byte
	if err := row.Scan(&sr.ID, &sr.Tenant, &sr.SampleID, &meta); err != nil {
		return core.SampleRef{}, wrapNotFound(err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &sr.Metadata)
	}
	return sr, nil
}

func (r pgSampleRepo) Get(ctx context.Context, tenant, id string) (core.SampleRef, error) {
	row := r.s.db.QueryRow(ctx, `SELECT id, tenant, sample_id, metadata FROM sample_refs WHERE id = $1 AND tenant = $2`, id, tenant)
	return scanSample(row)
}

func (r pgSampleRepo) Create(ctx context.Context, e core.SampleRef) (core.SampleRef, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return core.SampleRef{}, err
	}
	_, err = r.s.db.Exec(ctx, `INSERT INTO sample_refs (id, tenant, sample_id, metadata) VALUES ($1,$2,$3,$4)`,
		e.ID, e.Tenant, e.SampleID, meta)
	return e, err
}

func (r pgSampleRepo) Update(ctx context.Context, e core.SampleRef) (core.SampleRef, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return core.SampleRef{}, err
	}
	tag, err := r.s.db.Exec(ctx, `UPDATE sample_refs SET sample_id=$1, metadata=$2 WHERE id=$3 AND tenant=$4`,
		e.SampleID, meta, e.ID, e.Tenant)
	if err != nil {
		return core.SampleRef{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.SampleRef{}, core.ErrNotFound
	}
	return e, nil
}

func (r pgSampleRepo) Delete(ctx context.Context, tenant, id string) error {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM sample_refs WHERE id = $1 AND tenant = $2`, id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r pgSampleRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.SampleRef, error) {
	rows, err := r.s.db.Query(ctx, `SELECT id, tenant, sample_id, metadata FROM sample_refs WHERE tenant=$1 ORDER BY id LIMIT $2 OFFSET $3`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.SampleRef
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- labelers ---

type pgLabelerRepo struct{ s *PostgresStore }

func scanLabeler(row pgx.Row) (core.Labeler, error) {
	var l core.Labeler
	var weights, blocklist []byte
	if err := row.Scan(&l.ID, &l.Tenant, &l.ExternalID, &l.Pseudonym, &weights, &blocklist, &l.MaxConcurrentAssignments); err != nil {
		return core.Labeler{}, wrapNotFound(err)
	}
	_ = json.Unmarshal(weights, &l.ExpertiseWeights)
	_ = json.Unmarshal(blocklist, &l.BlocklistedQueues)
	return l, nil
}

func (r pgLabelerRepo) Get(ctx context.Context, tenant, id string) (core.Labeler, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT id, tenant, external_id, pseudonym, expertise_weights, blocklisted_queues, max_concurrent_assignments
		 FROM labelers WHERE id = $1 AND tenant = $2`, id, tenant)
	return scanLabeler(row)
}

func (r pgLabelerRepo) Create(ctx context.Context, e core.Labeler) (core.Labeler, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	weights, _ := json.Marshal(e.ExpertiseWeights)
	blocklist, _ := json.Marshal(e.BlocklistedQueues)
	_, err := r.s.db.Exec(ctx,
		`INSERT INTO labelers (id, tenant, external_id, pseudonym, expertise_weights, blocklisted_queues, max_concurrent_assignments)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Tenant, e.ExternalID, e.Pseudonym, weights, blocklist, e.MaxConcurrentAssignments)
	return e, err
}

func (r pgLabelerRepo) Update(ctx context.Context, e core.Labeler) (core.Labeler, error) {
	weights, _ := json.Marshal(e.ExpertiseWeights)
	blocklist, _ := json.Marshal(e.BlocklistedQueues)
	tag, err := r.s.db.Exec(ctx,
		`UPDATE labelers SET external_id=$1, pseudonym=$2, expertise_weights=$3, blocklisted_queues=$4, max_concurrent_assignments=$5
		 WHERE id=$6 AND tenant=$7`,
		e.ExternalID, e.Pseudonym, weights, blocklist, e.MaxConcurrentAssignments, e.ID, e.Tenant)
	if err != nil {
		return core.Labeler{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.Labeler{}, core.ErrNotFound
	}
	return e, nil
}

func (r pgLabelerRepo) Delete(ctx context.Context, tenant, id string) error {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM labelers WHERE id = $1 AND tenant = $2`, id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r pgLabelerRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Labeler, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT id, tenant, external_id, pseudonym, expertise_weights, blocklisted_queues, max_concurrent_assignments
		 FROM labelers WHERE tenant=$1 ORDER BY id LIMIT $2 OFFSET $3`, tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Labeler
	for rows.Next() {
		l, err := scanLabeler(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r pgLabelerRepo) CurrentAssignmentCount(ctx context.Context, tenant, labeler string) (int, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM assignments WHERE tenant=$1 AND labeler=$2 AND status='reserved'`, tenant, labeler)
	var count int
	err := row.Scan(&count)
	return count, err
}

// --- assignments ---

type pgAssignmentRepo struct{ s *PostgresStore }

func scanAssignment(row pgx.Row) (core.Assignment, error) {
	var a core.Assignment
	if err := row.Scan(&a.ID, &a.Tenant, &a.Queue, &a.SampleID, &a.Labeler, &a.Status, &a.ReservedAt, &a.Deadline,
		&a.TimeoutSeconds, &a.RequeueAttempts, &a.RequeueDelayUntil, &a.SkipReason, &a.Version); err != nil {
		return core.Assignment{}, wrapNotFound(err)
	}
	return a, nil
}

const assignmentColumns = `id, tenant, queue, sample_id, labeler, status, reserved_at, deadline, timeout_seconds, requeue_attempts, requeue_delay_until, skip_reason, version`

func (r pgAssignmentRepo) Get(ctx context.Context, tenant, id string) (core.Assignment, error) {
	row := r.s.db.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=$1 AND tenant=$2`, id, tenant)
	return scanAssignment(row)
}

func (r pgAssignmentRepo) Create(ctx context.Context, a core.Assignment) (core.Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := r.s.db.Exec(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.Tenant, a.Queue, a.SampleID, a.Labeler, a.Status, a.ReservedAt, a.Deadline,
		a.TimeoutSeconds, a.RequeueAttempts, a.RequeueDelayUntil, a.SkipReason, a.Version)
	return a, err
}

func (r pgAssignmentRepo) CompareAndSwap(ctx context.Context, a core.Assignment) (core.Assignment, error) {
	tag, err := r.s.db.Exec(ctx,
		`UPDATE assignments SET status=$1, reserved_at=$2, deadline=$3, requeue_attempts=$4,
		 requeue_delay_until=$5, skip_reason=$6, version=version+1, labeler=$7
		 WHERE id=$8 AND tenant=$9 AND version=$10`,
		a.Status, a.ReservedAt, a.Deadline, a.RequeueAttempts, a.RequeueDelayUntil, a.SkipReason,
		a.Labeler, a.ID, a.Tenant, a.Version)
	if err != nil {
		return core.Assignment{}, err
	}
	if tag.RowsAffected() == 0 {
		// distinguish stale-version from not-found to satisfy §3/§5's contract.
		if _, getErr := r.Get(ctx, a.Tenant, a.ID); getErr == nil {
			return core.Assignment{}, core.ErrStaleVersion
		}
		return core.Assignment{}, core.ErrNotFound
	}
	return r.Get(ctx, a.Tenant, a.ID)
}

func (r pgAssignmentRepo) ListCandidates(ctx context.Context, tenant, queue string) ([]core.Assignment, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE tenant=$1 AND queue=$2 AND status IN ('pending', 'requeued') ORDER BY sample_id`,
		tenant, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r pgAssignmentRepo) ListExpiredReservations(ctx context.Context, now time.Time) ([]core.Assignment, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE status='reserved' AND deadline < $1 ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r pgAssignmentRepo) ListByQueue(ctx context.Context, tenant, queue string, opts core.ListOptions) ([]core.Assignment, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE tenant=$1 AND queue=$2 ORDER BY id LIMIT $3 OFFSET $4`,
		tenant, queue, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- labels ---

type pgLabelRepo struct{ s *PostgresStore }

func scanLabel(row pgx.Row) (core.Label, error) {
	var l core.Label
	var payload []byte
	if err := row.Scan(&l.ID, &l.Tenant, &l.Assignment, &l.SampleID, &l.Labeler, &l.SchemaVersion, &payload,
		&l.BlobPointer, &l.SubmittedAt, &l.DeletedAt); err != nil {
		return core.Label{}, wrapNotFound(err)
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &l.Payload)
	}
	return l, nil
}

const labelColumns = `id, tenant, assignment, sample_id, labeler, schema_version, payload, blob_pointer, submitted_at, deleted_at`

func (r pgLabelRepo) Get(ctx context.Context, tenant, id string) (core.Label, error) {
	row := r.s.db.QueryRow(ctx, `SELECT `+labelColumns+` FROM labels WHERE id=$1 AND tenant=$2`, id, tenant)
	return scanLabel(row)
}

func (r pgLabelRepo) Create(ctx context.Context, l core.Label) (core.Label, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	payload, err := json.Marshal(l.Payload)
	if err != nil {
		return core.Label{}, err
	}
	// (assignment, labeler) uniqueness is a DB constraint — violation surfaces as a generic
	// error here and is mapped to core.ErrInvalidState by the dispatcher's submission path.
	_, err = r.s.db.Exec(ctx,
		`INSERT INTO labels (`+labelColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.Tenant, l.Assignment, l.SampleID, l.Labeler, l.SchemaVersion, payload, l.BlobPointer, l.SubmittedAt, l.DeletedAt)
	return l, err
}

func (r pgLabelRepo) Update(ctx context.Context, l core.Label) (core.Label, error) {
	payload, err := json.Marshal(l.Payload)
	if err != nil {
		return core.Label{}, err
	}
	tag, err := r.s.db.Exec(ctx, `UPDATE labels SET payload=$1, deleted_at=$2 WHERE id=$3 AND tenant=$4`,
		payload, l.DeletedAt, l.ID, l.Tenant)
	if err != nil {
		return core.Label{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.Label{}, core.ErrNotFound
	}
	return l, nil
}

func (r pgLabelRepo) Delete(ctx context.Context, tenant, id string) error {
	return r.HardDelete(ctx, tenant, id)
}

func (r pgLabelRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Label, error) {
	rows, err := r.s.db.Query(ctx, `SELECT `+labelColumns+` FROM labels WHERE tenant=$1 ORDER BY id LIMIT $2 OFFSET $3`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r pgLabelRepo) GetByAssignmentAndLabeler(ctx context.Context, tenant, assignment, labeler string) (core.Label, error) {
	row := r.s.db.QueryRow(ctx,
		`SELECT `+labelColumns+` FROM labels WHERE tenant=$1 AND assignment=$2 AND labeler=$3 AND deleted_at IS NULL`,
		tenant, assignment, labeler)
	return scanLabel(row)
}

func (r pgLabelRepo) ListBySample(ctx context.Context, tenant, sampleID string) ([]core.Label, error) {
	rows, err := r.s.db.Query(ctx,
		`SELECT `+labelColumns+` FROM labels WHERE tenant=$1 AND sample_id=$2 AND deleted_at IS NULL ORDER BY labeler`,
		tenant, sampleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r pgLabelRepo) ListWithAtLeastNRaters(ctx context.Context, tenant, queue string, n int) ([]string, error) {
	query := `SELECT l.sample_id FROM labels l`
	args := []interface{}{tenant, n}
	if queue != "" {
		query += ` JOIN assignments a ON a.id = l.assignment AND a.queue = $3`
		args = append(args, queue)
	}
	query += ` WHERE l.tenant = $1 AND l.deleted_at IS NULL GROUP BY l.sample_id HAVING COUNT(DISTINCT l.labeler) >= $2 ORDER BY l.sample_id`
	rows, err := r.s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r pgLabelRepo) ListForExport(ctx context.Context, tenant, queue, schemaVersion string, opts core.ListOptions) ([]core.Label, error) {
	query := `SELECT ` + labelColumns + ` FROM labels l WHERE l.tenant = $1 AND l.deleted_at IS NULL`
	args := []interface{}{tenant}
	if schemaVersion != "" {
		args = append(args, schemaVersion)
		query += ` AND l.schema_version = $` + itoa(len(args))
	}
	if queue != "" {
		args = append(args, queue)
		query += ` AND l.assignment IN (SELECT id FROM assignments WHERE queue = $` + itoa(len(args)) + `)`
	}
	// Deterministic ordering required by §4.9.
	query += ` ORDER BY l.sample_id ASC, l.labeler ASC, l.submitted_at ASC`
	args = append(args, limitOrAll(opts.Limit), opts.Offset)
	query += ` LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))
	rows, err := r.s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r pgLabelRepo) Redact(ctx context.Context, tenant, id string, payload map[string]interface{}) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tag, err := r.s.db.Exec(ctx, `UPDATE labels SET payload=$1 WHERE id=$2 AND tenant=$3`, p, id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r pgLabelRepo) SoftDelete(ctx context.Context, tenant, id string) error {
	tag, err := r.s.db.Exec(ctx, `UPDATE labels SET payload=NULL, deleted_at=$1 WHERE id=$2 AND tenant=$3`,
		r.s.clock.Now(), id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r pgLabelRepo) HardDelete(ctx context.Context, tenant, id string) error {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM labels WHERE id=$1 AND tenant=$2`, id, tenant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- audit ---

type pgAuditRepo struct{ s *PostgresStore }

func (r pgAuditRepo) Append(ctx context.Context, entry core.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = r.s.db.Exec(ctx,
		`INSERT INTO audit_log (id, tenant, entity_type, entity_id, action, actor, metadata, occurred_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.Tenant, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, meta, entry.OccurredAt)
	return err
}

func (r pgAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
