package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func jobRows(documentID, kind, state string, attempts int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "document_id", "kind", "state", "attempts",
		"started_at", "completed_at", "error", "created_at", "updated_at",
	}).AddRow("job-1", documentID, kind, state, attempts, nil, nil, nil, now, now)
}

func TestEnsureIngestionJobCreates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	insert := regexp.QuoteMeta(`
INSERT INTO ingestion_jobs (document_id, kind, state)
VALUES ($1,$2,$3)
ON CONFLICT (document_id, kind) DO NOTHING
`)
	mock.ExpectExec(insert).
		WithArgs("doc-1", JobKindSummarize, JobStatePending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sel := regexp.QuoteMeta(`
SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE document_id=$1 AND kind=$2
`)
	mock.ExpectQuery(sel).
		WithArgs("doc-1", JobKindSummarize).
		WillReturnRows(jobRows("doc-1", JobKindSummarize, JobStatePending, 0))

	rec, created, err := st.EnsureIngestionJob(context.Background(), "doc-1", JobKindSummarize)
	if err != nil {
		t.Fatalf("EnsureIngestionJob: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first ensure")
	}
	if rec.State != JobStatePending {
		t.Fatalf("state = %q", rec.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureIngestionJobIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	insert := regexp.QuoteMeta(`
INSERT INTO ingestion_jobs (document_id, kind, state)
VALUES ($1,$2,$3)
ON CONFLICT (document_id, kind) DO NOTHING
`)
	// Conflict: zero rows affected, existing job returned unchanged.
	mock.ExpectExec(insert).
		WithArgs("doc-1", JobKindIndex, JobStatePending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sel := regexp.QuoteMeta(`
SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE document_id=$1 AND kind=$2
`)
	mock.ExpectQuery(sel).
		WithArgs("doc-1", JobKindIndex).
		WillReturnRows(jobRows("doc-1", JobKindIndex, JobStateSucceeded, 1))

	rec, created, err := st.EnsureIngestionJob(context.Background(), "doc-1", JobKindIndex)
	if err != nil {
		t.Fatalf("EnsureIngestionJob: %v", err)
	}
	if created {
		t.Fatal("second ensure must not create")
	}
	if rec.State != JobStateSucceeded {
		t.Fatalf("existing job state must survive re-trigger, got %q", rec.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureIngestionJobUnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}
	if _, _, err := st.EnsureIngestionJob(context.Background(), "doc-1", "transcode"); err == nil {
		t.Fatal("unknown kinds must be rejected")
	}
}

func TestMarkJobRunningLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	update := regexp.QuoteMeta(`
UPDATE ingestion_jobs
SET state=$3, attempts=attempts+1, started_at=NOW(), error=NULL, updated_at=NOW()
WHERE document_id=$1 AND kind=$2 AND state IN ($4,$5)
`)
	mock.ExpectExec(update).
		WithArgs("doc-1", JobKindIndex, JobStateRunning, JobStatePending, JobStateFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	started, err := st.MarkJobRunning(context.Background(), "doc-1", JobKindIndex)
	if err != nil {
		t.Fatalf("MarkJobRunning: %v", err)
	}
	if started {
		t.Fatal("zero affected rows means another worker holds the job")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimIdempotency(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	insert := regexp.QuoteMeta(`
INSERT INTO idempotency_claims (scope, key) VALUES ($1,$2)
ON CONFLICT (scope, key) DO NOTHING
`)
	mock.ExpectExec(insert).WithArgs("event", "evt-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("event", "evt-1").WillReturnResult(sqlmock.NewResult(0, 0))

	fresh, err := st.ClaimIdempotency(context.Background(), "event", "evt-1")
	if err != nil || !fresh {
		t.Fatalf("first claim: fresh=%v err=%v", fresh, err)
	}
	fresh, err = st.ClaimIdempotency(context.Background(), "event", "evt-1")
	if err != nil || fresh {
		t.Fatalf("second claim: fresh=%v err=%v", fresh, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
