package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store wraps the Postgres connection used by every component.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

const (
	// Ingestion job kinds. One job per (document, kind).
	JobKindSummarize = "summarize"
	JobKindIndex     = "index"

	// Ingestion job states.
	JobStatePending   = "pending"
	JobStateRunning   = "running"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"

	// Per-path document sub-statuses. Summary and index progress
	// independently; neither collapses into the other.
	SummaryStatusNone    = "none"
	SummaryStatusPending = "pending"
	SummaryStatusReady   = "ready"
	SummaryStatusFailed  = "failed"

	IndexStatusNone    = "none"
	IndexStatusPending = "pending"
	IndexStatusIndexed = "indexed"
	IndexStatusFailed  = "failed"

	// Milestone statuses.
	MilestoneStatusPlanned    = "planned"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusCompleted  = "completed"
)

// TenantRecord is one row of the tenant registry.
type TenantRecord struct {
	ID              string
	DisplayName     string
	VectorNamespace string
	AllowedRoles    []string
	CreatedAt       time.Time
}

// UserRecord identifies a platform user. A user belongs to exactly one tenant.
type UserRecord struct {
	ID        string
	TenantID  string
	Email     string
	Role      string
	CreatedAt time.Time
}

// DocumentRecord tracks one uploaded document and its two ingestion sub-statuses.
type DocumentRecord struct {
	ID            string
	TenantID      string
	StorageKey    string
	Filename      string
	ContentType   string
	SummaryStatus string
	IndexStatus   string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MetadataExtracted reports whether the extraction step has run. A document
// with no metadata is a legal, observable state: the row exists from the
// moment an upload URL is issued, before any bytes arrive.
func (d DocumentRecord) MetadataExtracted() bool { return d.Metadata != nil }

// IngestionJobRecord is one asynchronous unit of work applied to one document.
type IngestionJobRecord struct {
	ID          string
	DocumentID  string
	Kind        string
	State       string
	Attempts    int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkRecord is a write-once unit of embedded, searchable text.
type ChunkRecord struct {
	TenantID   string
	DocumentID string
	ChunkID    string
	Ordinal    int
	Text       string
	Vector     []float32
}

// ChunkSearchResult is a nearest-neighbour hit within one tenant's namespace.
type ChunkSearchResult struct {
	TenantID   string
	DocumentID string
	ChunkID    string
	Ordinal    int
	Text       string
	Distance   float64
}

// SummaryRecord stores the summarizer output for a document.
type SummaryRecord struct {
	DocumentID string
	TenantID   string
	Summary    string
	Model      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CustomerRecord tracks one customer's implementation journey.
type CustomerRecord struct {
	ID            string
	TenantID      string
	Name          string
	CurrentStage  string
	StatusSummary string
	LastUpdated   time.Time
}

// MilestoneRecord is one journey milestone. Append-only except for
// status/completion updates.
type MilestoneRecord struct {
	ID             string
	CustomerID     string
	Name           string
	Status         string
	PlannedDate    *time.Time
	CompletionDate *time.Time
}

// SessionRecord correlates a sequence of chat turns for tracing. It carries
// no authority beyond the tenant/user it was opened under.
type SessionRecord struct {
	ID        string
	TenantID  string
	UserID    string
	TraceID   string
	CreatedAt time.Time
}

// NewWithDSN opens a Store for the given DSN and verifies connectivity.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// ---- tenants ----

// CreateTenant inserts a tenant. Namespaces are immutable after onboarding.
func (s *Store) CreateTenant(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return TenantRecord{}, fmt.Errorf("tenant id required")
	}
	if strings.TrimSpace(rec.VectorNamespace) == "" {
		rec.VectorNamespace = rec.ID
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO tenants (id, display_name, vector_namespace, allowed_roles)
VALUES ($1,$2,$3,$4)
RETURNING id, display_name, vector_namespace, allowed_roles, created_at
`, rec.ID, rec.DisplayName, rec.VectorNamespace, pq.Array(rec.AllowedRoles))
	var roles pq.StringArray
	if err := row.Scan(&rec.ID, &rec.DisplayName, &rec.VectorNamespace, &roles, &rec.CreatedAt); err != nil {
		return TenantRecord{}, err
	}
	rec.AllowedRoles = roles
	return rec, nil
}

// GetTenant fetches a tenant by identifier.
func (s *Store) GetTenant(ctx context.Context, id string) (TenantRecord, bool, error) {
	if strings.TrimSpace(id) == "" {
		return TenantRecord{}, false, fmt.Errorf("tenant id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id, display_name, vector_namespace, allowed_roles, created_at
FROM tenants
WHERE id=$1
`, id)
	var rec TenantRecord
	var roles pq.StringArray
	if err := row.Scan(&rec.ID, &rec.DisplayName, &rec.VectorNamespace, &roles, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TenantRecord{}, false, nil
		}
		return TenantRecord{}, false, err
	}
	rec.AllowedRoles = roles
	return rec, true, nil
}

// ---- users ----

// CreateUser inserts a user under a tenant with the given role.
func (s *Store) CreateUser(ctx context.Context, tenantID, email, passwordHash, role string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO users (tenant_id, email, password_hash, role)
VALUES ($1,$2,$3,$4)
RETURNING id
`, tenantID, email, passwordHash, role).Scan(&id)
	return id, err
}

// GetUser fetches a user by identifier.
func (s *Store) GetUser(ctx context.Context, id string) (UserRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, email, role, created_at FROM users WHERE id=$1
`, id)
	var rec UserRecord
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Email, &rec.Role, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, err
	}
	return rec, true, nil
}

// GetUserByEmail returns the identity and credential hash for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (UserRecord, string, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, email, role, password_hash, created_at FROM users WHERE email=$1
`, email)
	var rec UserRecord
	var hash string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Email, &rec.Role, &hash, &rec.CreatedAt); err != nil {
		return UserRecord{}, "", err
	}
	return rec, hash, nil
}

// ---- documents ----

// CreateDocument inserts a document shell in the uploaded state. Metadata
// stays NULL until extraction runs.
func (s *Store) CreateDocument(ctx context.Context, rec DocumentRecord) (DocumentRecord, error) {
	if strings.TrimSpace(rec.TenantID) == "" {
		return DocumentRecord{}, fmt.Errorf("tenant_id required")
	}
	if strings.TrimSpace(rec.StorageKey) == "" {
		return DocumentRecord{}, fmt.Errorf("storage_key required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (id, tenant_id, storage_key, filename, content_type, summary_status, index_status)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at, updated_at
`, rec.ID, rec.TenantID, rec.StorageKey, rec.Filename, nullableString(rec.ContentType), SummaryStatusNone, IndexStatusNone)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return DocumentRecord{}, err
	}
	rec.SummaryStatus = SummaryStatusNone
	rec.IndexStatus = IndexStatusNone
	return rec, nil
}

const documentColumns = `id, tenant_id, storage_key, filename, content_type, summary_status, index_status, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (DocumentRecord, error) {
	var rec DocumentRecord
	var contentType sql.NullString
	var metaBytes []byte
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.StorageKey, &rec.Filename, &contentType,
		&rec.SummaryStatus, &rec.IndexStatus, &metaBytes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return DocumentRecord{}, err
	}
	if contentType.Valid {
		rec.ContentType = contentType.String
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &rec.Metadata)
	}
	return rec, nil
}

// GetDocument fetches a document by identifier.
func (s *Store) GetDocument(ctx context.Context, id string) (DocumentRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	rec, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentRecord{}, false, nil
		}
		return DocumentRecord{}, false, err
	}
	return rec, true, nil
}

// GetDocumentByStorageKey fetches a document by its storage key.
func (s *Store) GetDocumentByStorageKey(ctx context.Context, key string) (DocumentRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE storage_key=$1`, key)
	rec, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentRecord{}, false, nil
		}
		return DocumentRecord{}, false, err
	}
	return rec, true, nil
}

// SetDocumentMetadata records the extraction output and content type.
func (s *Store) SetDocumentMetadata(ctx context.Context, id, contentType string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET content_type=$2, metadata=$3, updated_at=NOW() WHERE id=$1
`, id, nullableString(contentType), metaBytes)
	if err != nil {
		return err
	}
	return requireRow(res, "document", id)
}

// SetSummaryStatus advances the summary sub-state for a document.
func (s *Store) SetSummaryStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET summary_status=$2, updated_at=NOW() WHERE id=$1
`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res, "document", id)
}

// SetIndexStatus advances the index sub-state for a document.
func (s *Store) SetIndexStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET index_status=$2, updated_at=NOW() WHERE id=$1
`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res, "document", id)
}

// ---- ingestion jobs ----

const jobColumns = `id, document_id, kind, state, attempts, started_at, completed_at, error, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (IngestionJobRecord, error) {
	var rec IngestionJobRecord
	var started, completed sql.NullTime
	var jobErr sql.NullString
	if err := row.Scan(&rec.ID, &rec.DocumentID, &rec.Kind, &rec.State, &rec.Attempts,
		&started, &completed, &jobErr, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return IngestionJobRecord{}, err
	}
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	if jobErr.Valid {
		rec.Error = jobErr.String
	}
	return rec, nil
}

// EnsureIngestionJob creates the job for (document, kind) if absent and
// returns it. A second trigger on an existing job is a no-op returning the
// existing row, which is what makes redelivered storage events safe.
func (s *Store) EnsureIngestionJob(ctx context.Context, documentID, kind string) (IngestionJobRecord, bool, error) {
	if kind != JobKindSummarize && kind != JobKindIndex {
		return IngestionJobRecord{}, false, fmt.Errorf("unknown ingestion kind %q", kind)
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO ingestion_jobs (document_id, kind, state)
VALUES ($1,$2,$3)
ON CONFLICT (document_id, kind) DO NOTHING
`, documentID, kind, JobStatePending)
	if err != nil {
		return IngestionJobRecord{}, false, err
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}
	rec, found, err := s.GetIngestionJob(ctx, documentID, kind)
	if err != nil {
		return IngestionJobRecord{}, false, err
	}
	if !found {
		return IngestionJobRecord{}, false, fmt.Errorf("ingestion job missing after ensure: %s/%s", documentID, kind)
	}
	return rec, created, nil
}

// GetIngestionJob fetches the job for (document, kind).
func (s *Store) GetIngestionJob(ctx context.Context, documentID, kind string) (IngestionJobRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM ingestion_jobs WHERE document_id=$1 AND kind=$2
`, documentID, kind)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IngestionJobRecord{}, false, nil
		}
		return IngestionJobRecord{}, false, err
	}
	return rec, true, nil
}

// ListIngestionJobs returns all jobs for a document ordered by kind.
func (s *Store) ListIngestionJobs(ctx context.Context, documentID string) ([]IngestionJobRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+jobColumns+` FROM ingestion_jobs WHERE document_id=$1 ORDER BY kind
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IngestionJobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkJobRunning transitions a job to running and counts the attempt.
// Only pending or failed jobs may start; a concurrent worker that lost the
// race sees zero affected rows and backs off.
func (s *Store) MarkJobRunning(ctx context.Context, documentID, kind string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_jobs
SET state=$3, attempts=attempts+1, started_at=NOW(), error=NULL, updated_at=NOW()
WHERE document_id=$1 AND kind=$2 AND state IN ($4,$5)
`, documentID, kind, JobStateRunning, JobStatePending, JobStateFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkJobSucceeded finalizes a job successfully.
func (s *Store) MarkJobSucceeded(ctx context.Context, documentID, kind string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_jobs
SET state=$3, completed_at=NOW(), error=NULL, updated_at=NOW()
WHERE document_id=$1 AND kind=$2
`, documentID, kind, JobStateSucceeded)
	if err != nil {
		return err
	}
	return requireRow(res, "ingestion job", documentID+"/"+kind)
}

// MarkJobFailed finalizes a job with its last error.
func (s *Store) MarkJobFailed(ctx context.Context, documentID, kind, lastError string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_jobs
SET state=$3, completed_at=NOW(), error=$4, updated_at=NOW()
WHERE document_id=$1 AND kind=$2
`, documentID, kind, JobStateFailed, nullableString(lastError))
	if err != nil {
		return err
	}
	return requireRow(res, "ingestion job", documentID+"/"+kind)
}

// StuckJob identifies a job that has sat in a non-terminal state too long.
type StuckJob struct {
	DocumentID string
	TenantID   string
	StorageKey string
	Kind       string
	State      string
	Attempts   int
}

// ListStuckJobs returns pending/running jobs whose last update is older
// than the cutoff, joined with enough document context to re-dispatch them.
func (s *Store) ListStuckJobs(ctx context.Context, olderThan time.Duration) ([]StuckJob, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT j.document_id, d.tenant_id, d.storage_key, j.kind, j.state, j.attempts
FROM ingestion_jobs j
JOIN documents d ON d.id = j.document_id
WHERE j.state IN ($1,$2) AND j.updated_at < NOW() - ($3 * interval '1 second')
ORDER BY j.updated_at
`, JobStatePending, JobStateRunning, int64(olderThan/time.Second))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StuckJob
	for rows.Next() {
		var sj StuckJob
		if err := rows.Scan(&sj.DocumentID, &sj.TenantID, &sj.StorageKey, &sj.Kind, &sj.State, &sj.Attempts); err != nil {
			return nil, err
		}
		out = append(out, sj)
	}
	return out, rows.Err()
}

// ---- knowledge chunks ----

// ReplaceChunks atomically replaces all chunks for a document. Replaying an
// index job therefore never duplicates chunk rows.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, records []ChunkRecord) (err error) {
	if documentID == "" {
		return fmt.Errorf("document_id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO knowledge_chunks (tenant_id, document_id, chunk_id, ordinal, text, embedding)
VALUES ($1,$2,$3,$4,$5,$6::vector)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if rec.TenantID == "" {
			return fmt.Errorf("tenant_id required for chunk %d", rec.Ordinal)
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("embedding vector required for chunk %d", rec.Ordinal)
		}
		vectorLiteral, err := encodeVectorLiteral(rec.Vector)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rec.TenantID, documentID, rec.ChunkID, rec.Ordinal, rec.Text, vectorLiteral); err != nil {
			return err
		}
	}
	return nil
}

// SearchChunks returns the closest chunks for the supplied vector,
// restricted to one tenant. The tenant predicate is a hard filter: a chunk
// from another tenant can never satisfy this query.
func (s *Store) SearchChunks(ctx context.Context, tenantID string, vector []float32, topK int) ([]ChunkSearchResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant_id required")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT tenant_id, document_id, chunk_id, ordinal, text, embedding <=> $1::vector AS distance
FROM knowledge_chunks
WHERE tenant_id = $2
ORDER BY embedding <=> $1::vector, ordinal
LIMIT $3
`, vecLiteral, tenantID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ChunkSearchResult
	for rows.Next() {
		var res ChunkSearchResult
		if err := rows.Scan(&res.TenantID, &res.DocumentID, &res.ChunkID, &res.Ordinal, &res.Text, &res.Distance); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// CountChunks reports how many chunks a tenant has indexed. Zero is the
// "no content yet" signal, not an error.
func (s *Store) CountChunks(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM knowledge_chunks WHERE tenant_id=$1
`, tenantID).Scan(&n)
	return n, err
}

// ListChunksByTenant returns all of a tenant's chunks in ingestion order.
func (s *Store) ListChunksByTenant(ctx context.Context, tenantID string) ([]ChunkRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT tenant_id, document_id, chunk_id, ordinal, text
FROM knowledge_chunks
WHERE tenant_id=$1
ORDER BY document_id, ordinal
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		if err := rows.Scan(&rec.TenantID, &rec.DocumentID, &rec.ChunkID, &rec.Ordinal, &rec.Text); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- summaries ----

// UpsertSummary stores the summarizer output for a document.
func (s *Store) UpsertSummary(ctx context.Context, rec SummaryRecord) error {
	if rec.DocumentID == "" || rec.TenantID == "" {
		return fmt.Errorf("document_id and tenant_id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO document_summaries (document_id, tenant_id, summary, model)
VALUES ($1,$2,$3,$4)
ON CONFLICT (document_id) DO UPDATE SET
  summary = EXCLUDED.summary,
  model = EXCLUDED.model,
  updated_at = NOW();
`, rec.DocumentID, rec.TenantID, rec.Summary, nullableString(rec.Model))
	return err
}

// GetSummary fetches a stored summary scoped by tenant.
func (s *Store) GetSummary(ctx context.Context, tenantID, documentID string) (SummaryRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT document_id, tenant_id, summary, model, created_at, updated_at
FROM document_summaries
WHERE document_id=$1 AND tenant_id=$2
`, documentID, tenantID)
	var rec SummaryRecord
	var model sql.NullString
	if err := row.Scan(&rec.DocumentID, &rec.TenantID, &rec.Summary, &model, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SummaryRecord{}, false, nil
		}
		return SummaryRecord{}, false, err
	}
	if model.Valid {
		rec.Model = model.String
	}
	return rec, true, nil
}

// ---- customers & milestones ----

const customerColumns = `id, tenant_id, name, current_stage, status_summary, last_updated`

func scanCustomer(row interface{ Scan(...interface{}) error }) (CustomerRecord, error) {
	var rec CustomerRecord
	var summary sql.NullString
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.CurrentStage, &summary, &rec.LastUpdated); err != nil {
		return CustomerRecord{}, err
	}
	if summary.Valid {
		rec.StatusSummary = summary.String
	}
	return rec, nil
}

// CreateCustomer inserts a customer under a tenant.
func (s *Store) CreateCustomer(ctx context.Context, rec CustomerRecord) (CustomerRecord, error) {
	if strings.TrimSpace(rec.TenantID) == "" {
		return CustomerRecord{}, fmt.Errorf("tenant_id required")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return CustomerRecord{}, fmt.Errorf("customer name required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO customers (id, tenant_id, name, current_stage, status_summary)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+customerColumns+`
`, rec.ID, rec.TenantID, rec.Name, rec.CurrentStage, nullableString(rec.StatusSummary))
	return scanCustomer(row)
}

// GetCustomer fetches one customer scoped by tenant.
func (s *Store) GetCustomer(ctx context.Context, tenantID, customerID string) (CustomerRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+customerColumns+` FROM customers WHERE id=$1 AND tenant_id=$2
`, customerID, tenantID)
	rec, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CustomerRecord{}, false, nil
		}
		return CustomerRecord{}, false, err
	}
	return rec, true, nil
}

// ListCustomers returns all customers under a tenant.
func (s *Store) ListCustomers(ctx context.Context, tenantID string) ([]CustomerRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+customerColumns+` FROM customers WHERE tenant_id=$1 ORDER BY name
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CustomerRecord
	for rows.Next() {
		rec, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetCustomerStage moves a customer to a stage. Backward moves are allowed
// for corrections; ordering questions belong to the journey layer.
func (s *Store) SetCustomerStage(ctx context.Context, tenantID, customerID, stage, statusSummary string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE customers SET current_stage=$3, status_summary=COALESCE($4, status_summary), last_updated=NOW()
WHERE id=$1 AND tenant_id=$2
`, customerID, tenantID, stage, nullableString(statusSummary))
	if err != nil {
		return err
	}
	return requireRow(res, "customer", customerID)
}

const milestoneColumns = `id, customer_id, name, status, planned_date, completion_date`

func scanMilestone(row interface{ Scan(...interface{}) error }) (MilestoneRecord, error) {
	var rec MilestoneRecord
	var planned, completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.CustomerID, &rec.Name, &rec.Status, &planned, &completed); err != nil {
		return MilestoneRecord{}, err
	}
	if planned.Valid {
		t := planned.Time
		rec.PlannedDate = &t
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletionDate = &t
	}
	return rec, nil
}

// CreateMilestone appends a milestone to a customer.
func (s *Store) CreateMilestone(ctx context.Context, rec MilestoneRecord) (MilestoneRecord, error) {
	if strings.TrimSpace(rec.CustomerID) == "" {
		return MilestoneRecord{}, fmt.Errorf("customer_id required")
	}
	var planned sql.NullTime
	if rec.PlannedDate != nil {
		planned = sql.NullTime{Time: *rec.PlannedDate, Valid: true}
	}
	status := rec.Status
	if status == "" {
		status = MilestoneStatusPlanned
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO milestones (customer_id, name, status, planned_date)
VALUES ($1,$2,$3,$4)
RETURNING `+milestoneColumns+`
`, rec.CustomerID, rec.Name, status, planned)
	return scanMilestone(row)
}

// ListMilestones returns a customer's milestones in planned order.
func (s *Store) ListMilestones(ctx context.Context, customerID string) ([]MilestoneRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+milestoneColumns+` FROM milestones WHERE customer_id=$1 ORDER BY planned_date NULLS LAST, name
`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MilestoneRecord
	for rows.Next() {
		rec, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateMilestoneStatus updates a milestone's status. Completion sets
// completion_date in the same statement; a completed milestone can never
// exist without one.
func (s *Store) UpdateMilestoneStatus(ctx context.Context, milestoneID, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE milestones
SET status=$2,
    completion_date = CASE WHEN $2 = $3 THEN COALESCE(completion_date, NOW()) ELSE completion_date END
WHERE id=$1
`, milestoneID, status, MilestoneStatusCompleted)
	if err != nil {
		return err
	}
	return requireRow(res, "milestone", milestoneID)
}

// ---- sessions ----

// CreateSession opens a conversation session for tracing chat turns.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO conversation_sessions (tenant_id, user_id, trace_id)
VALUES ($1,$2,$3)
RETURNING id, created_at
`, rec.TenantID, rec.UserID, nullableString(rec.TraceID))
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// GetSession fetches a session scoped by tenant.
func (s *Store) GetSession(ctx context.Context, tenantID, id string) (SessionRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, user_id, trace_id, created_at
FROM conversation_sessions
WHERE id=$1 AND tenant_id=$2
`, id, tenantID)
	var rec SessionRecord
	var trace sql.NullString
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.UserID, &trace, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	if trace.Valid {
		rec.TraceID = trace.String
	}
	return rec, true, nil
}

// ---- idempotency ----

// ClaimIdempotency attempts to claim a unique (scope, key) pair and reports
// whether this caller won the claim. Redeliveries lose the claim and skip
// their side effects.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key required")
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO idempotency_claims (scope, key) VALUES ($1,$2)
ON CONFLICT (scope, key) DO NOTHING
`, scope, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- helpers ----

func nullableString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", what, id)
	}
	return nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
