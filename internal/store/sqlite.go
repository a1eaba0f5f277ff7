package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/klabs/labelqueue/internal/core"
)

// SQLiteStore is the embedded, single-node deployment variant of core.Store, grounded on the
// same tenant-scoped CRUD contract as PostgresStore but driven through database/sql against
// modernc.org/sqlite (pure Go, no cgo, matching this module's static-binary deployment story).
type SQLiteStore struct {
	db    *sql.DB
	clock core.Clock
}

// OpenSQLiteStore opens (and does not migrate) a SQLite database file at path.
func OpenSQLiteStore(path string, clock core.Clock) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &SQLiteStore{db: db, clock: clock}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Schemas() core.SchemaStore         { return liteSchemaRepo{s} }
func (s *SQLiteStore) Queues() core.QueueStore           { return liteQueueRepo{s} }
func (s *SQLiteStore) Samples() core.SampleStore         { return liteSampleRepo{s} }
func (s *SQLiteStore) Labelers() core.LabelerStore       { return liteLabelerRepo{s} }
func (s *SQLiteStore) Assignments() core.AssignmentStore { return liteAssignmentRepo{s} }
func (s *SQLiteStore) Labels() core.LabelStore           { return liteLabelRepo{s} }
func (s *SQLiteStore) Audit() core.AuditStore            { return liteAuditRepo{s} }

func liteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- schemas ---

type liteSchemaRepo struct{ s *SQLiteStore }

func (r liteSchemaRepo) Get(ctx context.Context, tenant, id string) (core.Schema, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT id, tenant, name, fields, created_at FROM schemas WHERE id = ? AND tenant = ?`, id, tenant)
	return scanLiteSchema(row)
}

func scanLiteSchema(row *sql.Row) (core.Schema, error) {
	var sc core.Schema
	var fields string
	var created string
	if err := row.Scan(&sc.ID, &sc.Tenant, &sc.Name, &fields, &created); err != nil {
		return core.Schema{}, liteNotFound(err)
	}
	_ = json.Unmarshal([]byte(fields), &sc.Fields)
	t, _ := time.Parse(time.RFC3339Nano, created)
	sc.CreatedAt = t
	return sc, nil
}

func (r liteSchemaRepo) Create(ctx context.Context, e core.Schema) (core.Schema, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = r.s.clock.Now()
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return core.Schema{}, err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO schemas (id, tenant, name, fields, created_at) VALUES (?,?,?,?,?)`,
		e.ID, e.Tenant, e.Name, string(fields), e.CreatedAt.Format(time.RFC3339Nano))
	return e, err
}

func (r liteSchemaRepo) Update(ctx context.Context, e core.Schema) (core.Schema, error) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return core.Schema{}, err
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE schemas SET name = ?, fields = ? WHERE id = ? AND tenant = ?`,
		e.Name, string(fields), e.ID, e.Tenant)
	if err != nil {
		return core.Schema{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Schema{}, core.ErrNotFound
	}
	return e, nil
}

func (r liteSchemaRepo) Delete(ctx context.Context, tenant, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM schemas WHERE id = ? AND tenant = ?`, id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r liteSchemaRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Schema, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, tenant, name, fields, created_at FROM schemas WHERE tenant = ? ORDER BY id LIMIT ? OFFSET ?`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Schema
	for rows.Next() {
		var sc core.Schema
		var fields, created string
		if err := rows.Scan(&sc.ID, &sc.Tenant, &sc.Name, &fields, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(fields), &sc.Fields)
		sc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r liteSchemaRepo) CreateVersion(ctx context.Context, v core.SchemaVersion) (core.SchemaVersion, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	def, err := json.Marshal(v.Definition)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO schema_versions (id, queue, version_number, definition, transform_from_previous, frozen_at, label_count)
		 VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.Queue, v.VersionNumber, string(def), v.TransformFromPrevious, nullTime(v.FrozenAt), v.LabelCount)
	return v, err
}

func (r liteSchemaRepo) GetVersion(ctx context.Context, tenant, id string) (core.SchemaVersion, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT sv.id, sv.queue, sv.version_number, sv.definition, sv.transform_from_previous, sv.frozen_at, sv.label_count
		 FROM schema_versions sv JOIN queues q ON q.id = sv.queue WHERE sv.id = ? AND q.tenant = ?`, id, tenant)
	var v core.SchemaVersion
	var def, frozen sql.NullString
	if err := row.Scan(&v.ID, &v.Queue, &v.VersionNumber, &def, &v.TransformFromPrevious, &frozen, &v.LabelCount); err != nil {
		return core.SchemaVersion{}, liteNotFound(err)
	}
	if def.Valid {
		_ = json.Unmarshal([]byte(def.String), &v.Definition)
	}
	ft, err := parseNullTime(frozen)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	v.FrozenAt = ft
	return v, nil
}

func (r liteSchemaRepo) FreezeVersion(ctx context.Context, tenant, id string, at time.Time) (core.SchemaVersion, error) {
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE schema_versions SET frozen_at = ? WHERE id = ? AND frozen_at IS NULL
		 AND queue IN (SELECT id FROM queues WHERE tenant = ?)`,
		at.Format(time.RFC3339Nano), id, tenant)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	return r.GetVersion(ctx, tenant, id)
}

func (r liteSchemaRepo) IncrementLabelCount(ctx context.Context, tenant, id string) (core.SchemaVersion, error) {
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE schema_versions SET label_count = label_count + 1 WHERE id = ?
		 AND queue IN (SELECT id FROM queues WHERE tenant = ?)`, id, tenant)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	return r.GetVersion(ctx, tenant, id)
}

// --- queues ---

type liteQueueRepo struct{ s *SQLiteStore }

func (r liteQueueRepo) Get(ctx context.Context, tenant, id string) (core.Queue, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT id, tenant, name, schema_version, policy, status, component_module, timeout_seconds FROM queues WHERE id=? AND tenant=?`, id, tenant)
	return scanLiteQueue(row)
}

func scanLiteQueue(row *sql.Row) (core.Queue, error) {
	var q core.Queue
	var policy string
	if err := row.Scan(&q.ID, &q.Tenant, &q.Name, &q.SchemaVersion, &policy, &q.Status, &q.ComponentModule, &q.TimeoutSeconds); err != nil {
		return core.Queue{}, liteNotFound(err)
	}
	_ = json.Unmarshal([]byte(policy), &q.Policy)
	return q, nil
}

func (r liteQueueRepo) Create(ctx context.Context, q core.Queue) (core.Queue, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	policy, err := json.Marshal(q.Policy)
	if err != nil {
		return core.Queue{}, err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO queues (id, tenant, name, schema_version, policy, status, component_module, timeout_seconds) VALUES (?,?,?,?,?,?,?,?)`,
		q.ID, q.Tenant, q.Name, q.SchemaVersion, string(policy), q.Status, q.ComponentModule, q.TimeoutSeconds)
	return q, err
}

func (r liteQueueRepo) Update(ctx context.Context, q core.Queue) (core.Queue, error) {
	policy, err := json.Marshal(q.Policy)
	if err != nil {
		return core.Queue{}, err
	}
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE queues SET name=?, schema_version=?, policy=?, status=?, component_module=?, timeout_seconds=? WHERE id=? AND tenant=?`,
		q.Name, q.SchemaVersion, string(policy), q.Status, q.ComponentModule, q.TimeoutSeconds, q.ID, q.Tenant)
	if err != nil {
		return core.Queue{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Queue{}, core.ErrNotFound
	}
	return q, nil
}

func (r liteQueueRepo) Delete(ctx context.Context, tenant, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM queues WHERE id=? AND tenant=?`, id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r liteQueueRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Queue, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, tenant, name, schema_version, policy, status, component_module, timeout_seconds FROM queues WHERE tenant=? ORDER BY id LIMIT ? OFFSET ?`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Queue
	for rows.Next() {
		var q core.Queue
		var policy string
		if err := rows.Scan(&q.ID, &q.Tenant, &q.Name, &q.SchemaVersion, &policy, &q.Status, &q.ComponentModule, &q.TimeoutSeconds); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(policy), &q.Policy)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r liteQueueRepo) ListActive(ctx context.Context) ([]core.Queue, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, tenant, name, schema_version, policy, status, component_module, timeout_seconds FROM queues WHERE status='active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Queue
	for rows.Next() {
		var q core.Queue
		var policy string
		if err := rows.Scan(&q.ID, &q.Tenant, &q.Name, &q.SchemaVersion, &policy, &q.Status, &q.ComponentModule, &q.TimeoutSeconds); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(policy), &q.Policy)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r liteQueueRepo) Stats(ctx context.Context, tenant, queue string) (core.QueueStats, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(CASE WHEN status = 'completed' THEN 1 END) FROM assignments WHERE tenant = ? AND queue = ?`,
		tenant, queue)
	var total, labeled int
	if err := row.Scan(&total, &labeled); err != nil {
		return core.QueueStats{}, liteNotFound(err)
	}
	remaining := total - labeled
	if remaining < 0 {
		remaining = 0
	}
	return core.QueueStats{TotalAssignments: total, Labeled: labeled, Remaining: remaining}, nil
}

// --- samples ---

type liteSampleRepo struct{ s *SQLiteStore }

func (r liteSampleRepo) Get(ctx context.Context, tenant, id string) (core.SampleRef, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT id, tenant, sample_id, metadata FROM sample_refs WHERE id=? AND tenant=?`, id, tenant)
	return scanLiteSample(row)
}

func scanLiteSample(row *sql.Row) (core.SampleRef, error) {
	var sr core.SampleRef
	var meta sql.NullString
	if err := row.Scan(&sr.ID, &sr.Tenant, &sr.SampleID, &meta); err != nil {
		return core.SampleRef{}, liteNotFound(err)
	}
	if meta.Valid {
		_ = json.Unmarshal([]byte(meta.String), &sr.Metadata)
	}
	return sr, nil
}

func (r liteSampleRepo) Create(ctx context.Context, e core.SampleRef) (core.SampleRef, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return core.SampleRef{}, err
	}
	_, err = r.s.db.ExecContext(ctx, `INSERT INTO sample_refs (id, tenant, sample_id, metadata) VALUES (?,?,?,?)`,
		e.ID, e.Tenant, e.SampleID, string(meta))
	return e, err
}

func (r liteSampleRepo) Update(ctx context.Context, e core.SampleRef) (core.SampleRef, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return core.SampleRef{}, err
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE sample_refs SET sample_id=?, metadata=? WHERE id=? AND tenant=?`,
		e.SampleID, string(meta), e.ID, e.Tenant)
	if err != nil {
		return core.SampleRef{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.SampleRef{}, core.ErrNotFound
	}
	return e, nil
}

func (r liteSampleRepo) Delete(ctx context.Context, tenant, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM sample_refs WHERE id=? AND tenant=?`, id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r liteSampleRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.SampleRef, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT id, tenant, sample_id, metadata FROM sample_refs WHERE tenant=? ORDER BY id LIMIT ? OFFSET ?`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.SampleRef
	for rows.Next() {
		var sr core.SampleRef
		var meta sql.NullString
		if err := rows.Scan(&sr.ID, &sr.Tenant, &sr.SampleID, &meta); err != nil {
			return nil, err
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &sr.Metadata)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// --- labelers ---

type liteLabelerRepo struct{ s *SQLiteStore }

func (r liteLabelerRepo) Get(ctx context.Context, tenant, id string) (core.Labeler, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT id, tenant, external_id, pseudonym, expertise_weights, blocklisted_queues, max_concurrent_assignments
		 FROM labelers WHERE id=? AND tenant=?`, id, tenant)
	return scanLiteLabeler(row)
}

func scanLiteLabeler(row *sql.Row) (core.Labeler, error) {
	var l core.Labeler
	var weights, blocklist string
	if err := row.Scan(&l.ID, &l.Tenant, &l.ExternalID, &l.Pseudonym, &weights, &blocklist, &l.MaxConcurrentAssignments); err != nil {
		return core.Labeler{}, liteNotFound(err)
	}
	_ = json.Unmarshal([]byte(weights), &l.ExpertiseWeights)
	_ = json.Unmarshal([]byte(blocklist), &l.BlocklistedQueues)
	return l, nil
}

func (r liteLabelerRepo) Create(ctx context.Context, e core.Labeler) (core.Labeler, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	weights, _ := json.Marshal(e.ExpertiseWeights)
	blocklist, _ := json.Marshal(e.BlocklistedQueues)
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO labelers (id, tenant, external_id, pseudonym, expertise_weights, blocklisted_queues, max_concurrent_assignments) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.Tenant, e.ExternalID, e.Pseudonym, string(weights), string(blocklist), e.MaxConcurrentAssignments)
	return e, err
}

func (r liteLabelerRepo) Update(ctx context.Context, e core.Labeler) (core.Labeler, error) {
	weights, _ := json.Marshal(e.ExpertiseWeights)
	blocklist, _ := json.Marshal(e.BlocklistedQueues)
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE labelers SET external_id=?, pseudonym=?, expertise_weights=?, blocklisted_queues=?, max_concurrent_assignments=? WHERE id=? AND tenant=?`,
		e.ExternalID, e.Pseudonym, string(weights), string(blocklist), e.MaxConcurrentAssignments, e.ID, e.Tenant)
	if err != nil {
		return core.Labeler{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Labeler{}, core.ErrNotFound
	}
	return e, nil
}

func (r liteLabelerRepo) Delete(ctx context.Context, tenant, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM labelers WHERE id=? AND tenant=?`, id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r liteLabelerRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Labeler, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, tenant, external_id, pseudonym, expertise_weights, blocklisted_queues, max_concurrent_assignments
		 FROM labelers WHERE tenant=? ORDER BY id LIMIT ? OFFSET ?`, tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Labeler
	for rows.Next() {
		var l core.Labeler
		var weights, blocklist string
		if err := rows.Scan(&l.ID, &l.Tenant, &l.ExternalID, &l.Pseudonym, &weights, &blocklist, &l.MaxConcurrentAssignments); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(weights), &l.ExpertiseWeights)
		_ = json.Unmarshal([]byte(blocklist), &l.BlocklistedQueues)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r liteLabelerRepo) CurrentAssignmentCount(ctx context.Context, tenant, labeler string) (int, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE tenant=? AND labeler=? AND status='reserved'`, tenant, labeler)
	var count int
	err := row.Scan(&count)
	return count, err
}

// --- assignments ---

type liteAssignmentRepo struct{ s *SQLiteStore }

const liteAssignmentColumns = `id, tenant, queue, sample_id, labeler, status, reserved_at, deadline, timeout_seconds, requeue_attempts, requeue_delay_until, skip_reason, version`

func scanLiteAssignment(row interface {
	Scan(dest ...interface{}) error
}) (core.Assignment, error) {
	var a core.Assignment
	var reserved, deadline, requeueDelay sql.NullString
	if err := row.Scan(&a.ID, &a.Tenant, &a.Queue, &a.SampleID, &a.Labeler, &a.Status, &reserved, &deadline,
		&a.TimeoutSeconds, &a.RequeueAttempts, &requeueDelay, &a.SkipReason, &a.Version); err != nil {
		return core.Assignment{}, liteNotFound(err)
	}
	var err error
	if a.ReservedAt, err = parseNullTime(reserved); err != nil {
		return core.Assignment{}, err
	}
	if a.Deadline, err = parseNullTime(deadline); err != nil {
		return core.Assignment{}, err
	}
	if a.RequeueDelayUntil, err = parseNullTime(requeueDelay); err != nil {
		return core.Assignment{}, err
	}
	return a, nil
}

func (r liteAssignmentRepo) Get(ctx context.Context, tenant, id string) (core.Assignment, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+liteAssignmentColumns+` FROM assignments WHERE id=? AND tenant=?`, id, tenant)
	return scanLiteAssignment(row)
}

func (r liteAssignmentRepo) Create(ctx context.Context, a core.Assignment) (core.Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO assignments (`+liteAssignmentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Tenant, a.Queue, a.SampleID, a.Labeler, a.Status, nullTime(a.ReservedAt), nullTime(a.Deadline),
		a.TimeoutSeconds, a.RequeueAttempts, nullTime(a.RequeueDelayUntil), a.SkipReason, a.Version)
	return a, err
}

func (r liteAssignmentRepo) CompareAndSwap(ctx context.Context, a core.Assignment) (core.Assignment, error) {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE assignments SET status=?, reserved_at=?, deadline=?, requeue_attempts=?, requeue_delay_until=?, skip_reason=?,
		 version=version+1, labeler=? WHERE id=? AND tenant=? AND version=?`,
		a.Status, nullTime(a.ReservedAt), nullTime(a.Deadline), a.RequeueAttempts, nullTime(a.RequeueDelayUntil),
		a.SkipReason, a.Labeler, a.ID, a.Tenant, a.Version)
	if err != nil {
		return core.Assignment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.Get(ctx, a.Tenant, a.ID); getErr == nil {
			return core.Assignment{}, core.ErrStaleVersion
		}
		return core.Assignment{}, core.ErrNotFound
	}
	return r.Get(ctx, a.Tenant, a.ID)
}

func (r liteAssignmentRepo) ListCandidates(ctx context.Context, tenant, queue string) ([]core.Assignment, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+liteAssignmentColumns+` FROM assignments WHERE tenant=? AND queue=? AND status IN ('pending', 'requeued') ORDER BY sample_id`, tenant, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Assignment
	for rows.Next() {
		a, err := scanLiteAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r liteAssignmentRepo) ListExpiredReservations(ctx context.Context, now time.Time) ([]core.Assignment, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+liteAssignmentColumns+` FROM assignments WHERE status='reserved' AND deadline < ? ORDER BY id`,
		now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Assignment
	for rows.Next() {
		a, err := scanLiteAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r liteAssignmentRepo) ListByQueue(ctx context.Context, tenant, queue string, opts core.ListOptions) ([]core.Assignment, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+liteAssignmentColumns+` FROM assignments WHERE tenant=? AND queue=? ORDER BY id LIMIT ? OFFSET ?`,
		tenant, queue, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Assignment
	for rows.Next() {
		a, err := scanLiteAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- labels ---

type liteLabelRepo struct{ s *SQLiteStore }

const liteLabelColumns = `id, tenant, assignment, sample_id, labeler, schema_version, payload, blob_pointer, submitted_at, deleted_at`

func scanLiteLabel(row interface {
	Scan(dest ...interface{}) error
}) (core.Label, error) {
	var l core.Label
	var payload sql.NullString
	var submitted string
	var deleted sql.NullString
	if err := row.Scan(&l.ID, &l.Tenant, &l.Assignment, &l.SampleID, &l.Labeler, &l.SchemaVersion, &payload,
		&l.BlobPointer, &submitted, &deleted); err != nil {
		return core.Label{}, liteNotFound(err)
	}
	if payload.Valid {
		_ = json.Unmarshal([]byte(payload.String), &l.Payload)
	}
	t, err := time.Parse(time.RFC3339Nano, submitted)
	if err != nil {
		return core.Label{}, err
	}
	l.SubmittedAt = t
	if l.DeletedAt, err = parseNullTime(deleted); err != nil {
		return core.Label{}, err
	}
	return l, nil
}

func (r liteLabelRepo) Get(ctx context.Context, tenant, id string) (core.Label, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+liteLabelColumns+` FROM labels WHERE id=? AND tenant=?`, id, tenant)
	return scanLiteLabel(row)
}

func (r liteLabelRepo) Create(ctx context.Context, l core.Label) (core.Label, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	payload, err := json.Marshal(l.Payload)
	if err != nil {
		return core.Label{}, err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO labels (`+liteLabelColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Tenant, l.Assignment, l.SampleID, l.Labeler, l.SchemaVersion, string(payload), l.BlobPointer,
		l.SubmittedAt.Format(time.RFC3339Nano), nullTime(l.DeletedAt))
	return l, err
}

func (r liteLabelRepo) Update(ctx context.Context, l core.Label) (core.Label, error) {
	payload, err := json.Marshal(l.Payload)
	if err != nil {
		return core.Label{}, err
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE labels SET payload=?, deleted_at=? WHERE id=? AND tenant=?`,
		string(payload), nullTime(l.DeletedAt), l.ID, l.Tenant)
	if err != nil {
		return core.Label{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Label{}, core.ErrNotFound
	}
	return l, nil
}

func (r liteLabelRepo) Delete(ctx context.Context, tenant, id string) error {
	return r.HardDelete(ctx, tenant, id)
}

func (r liteLabelRepo) List(ctx context.Context, tenant string, opts core.ListOptions) ([]core.Label, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+liteLabelColumns+` FROM labels WHERE tenant=? ORDER BY id LIMIT ? OFFSET ?`,
		tenant, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Label
	for rows.Next() {
		l, err := scanLiteLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r liteLabelRepo) GetByAssignmentAndLabeler(ctx context.Context, tenant, assignment, labeler string) (core.Label, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+liteLabelColumns+` FROM labels WHERE tenant=? AND assignment=? AND labeler=? AND deleted_at IS NULL`,
		tenant, assignment, labeler)
	return scanLiteLabel(row)
}

func (r liteLabelRepo) ListBySample(ctx context.Context, tenant, sampleID string) ([]core.Label, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+liteLabelColumns+` FROM labels WHERE tenant=? AND sample_id=? AND deleted_at IS NULL ORDER BY labeler`, tenant, sampleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Label
	for rows.Next() {
		l, err := scanLiteLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r liteLabelRepo) ListWithAtLeastNRaters(ctx context.Context, tenant, queue string, n int) ([]string, error) {
	var query string
	var args []interface{}
	if queue != "" {
		query = `SELECT l.sample_id FROM labels l JOIN assignments a ON a.id = l.assignment AND a.queue = ?
		         WHERE l.tenant = ? AND l.deleted_at IS NULL GROUP BY l.sample_id HAVING COUNT(DISTINCT l.labeler) >= ? ORDER BY l.sample_id`
		args = []interface{}{queue, tenant, n}
	} else {
		query = `SELECT l.sample_id FROM labels l WHERE l.tenant = ? AND l.deleted_at IS NULL GROUP BY l.sample_id HAVING COUNT(DISTINCT l.labeler) >= ? ORDER BY l.sample_id`
		args = []interface{}{tenant, n}
	}
	rows, err := r.s.db.QueryContext(ctx, query, args...)
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

func (r liteLabelRepo) ListForExport(ctx context.Context, tenant, queue, schemaVersion string, opts core.ListOptions) ([]core.Label, error) {
	query := `SELECT ` + liteLabelColumns + ` FROM labels l WHERE l.tenant = ? AND l.deleted_at IS NULL`
	args := []interface{}{tenant}
	if schemaVersion != "" {
		query += ` AND l.schema_version = ?`
		args = append(args, schemaVersion)
	}
	if queue != "" {
		query += ` AND l.assignment IN (SELECT id FROM assignments WHERE queue = ?)`
		args = append(args, queue)
	}
	query += ` ORDER BY l.sample_id ASC, l.labeler ASC, l.submitted_at ASC LIMIT ? OFFSET ?`
	args = append(args, limitOrAll(opts.Limit), opts.Offset)
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Label
	for rows.Next() {
		l, err := scanLiteLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r liteLabelRepo) Redact(ctx context.Context, tenant, id string, payload map[string]interface{}) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE labels SET payload=? WHERE id=? AND tenant=?`, string(p), id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r liteLabelRepo) SoftDelete(ctx context.Context, tenant, id string) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE labels SET payload=NULL, deleted_at=? WHERE id=? AND tenant=?`,
		r.s.clock.Now().Format(time.RFC3339Nano), id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r liteLabelRepo) HardDelete(ctx context.Context, tenant, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM labels WHERE id=? AND tenant=?`, id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- audit ---

type liteAuditRepo struct{ s *SQLiteStore }

func (r liteAuditRepo) Append(ctx context.Context, entry core.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant, entity_type, entity_id, action, actor, metadata, occurred_at) VALUES (?,?,?,?,?,?,?,?)`,
		entry.ID, entry.Tenant, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, string(meta),
		entry.OccurredAt.Format(time.RFC3339Nano))
	return err
}

func (r liteAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE occurred_at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
