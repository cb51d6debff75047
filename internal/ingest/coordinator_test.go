package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/blob"
	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

type coordStoreStub struct {
	docs        map[string]store.DocumentRecord // by id
	byKey       map[string]string               // storage key -> id
	jobs        map[string]store.IngestionJobRecord
	ensureCalls []string
}

func newCoordStore() *coordStoreStub {
	return &coordStoreStub{
		docs:  map[string]store.DocumentRecord{},
		byKey: map[string]string{},
		jobs:  map[string]store.IngestionJobRecord{},
	}
}

func (s *coordStoreStub) CreateDocument(_ context.Context, rec store.DocumentRecord) (store.DocumentRecord, error) {
	rec.SummaryStatus = store.SummaryStatusNone
	rec.IndexStatus = store.IndexStatusNone
	s.docs[rec.ID] = rec
	s.byKey[rec.StorageKey] = rec.ID
	return rec, nil
}

func (s *coordStoreStub) GetDocument(_ context.Context, id string) (store.DocumentRecord, bool, error) {
	rec, ok := s.docs[id]
	return rec, ok, nil
}

func (s *coordStoreStub) GetDocumentByStorageKey(_ context.Context, key string) (store.DocumentRecord, bool, error) {
	id, ok := s.byKey[key]
	if !ok {
		return store.DocumentRecord{}, false, nil
	}
	return s.docs[id], true, nil
}

func (s *coordStoreStub) EnsureIngestionJob(_ context.Context, documentID, kind string) (store.IngestionJobRecord, bool, error) {
	k := documentID + "/" + kind
	s.ensureCalls = append(s.ensureCalls, k)
	if job, ok := s.jobs[k]; ok {
		return job, false, nil
	}
	job := store.IngestionJobRecord{DocumentID: documentID, Kind: kind, State: store.JobStatePending}
	s.jobs[k] = job
	return job, true, nil
}

func (s *coordStoreStub) ListIngestionJobs(_ context.Context, documentID string) ([]store.IngestionJobRecord, error) {
	var out []store.IngestionJobRecord
	for _, job := range s.jobs {
		if job.DocumentID == documentID {
			out = append(out, job)
		}
	}
	return out, nil
}

type pubStub struct {
	published []streams.Envelope
}

func (p *pubStub) Publish(_ context.Context, _ string, env streams.Envelope, _ ...streams.PublishOption) (string, error) {
	p.published = append(p.published, env)
	return "1-0", nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *coordStoreStub, *pubStub) {
	t.Helper()
	bs, err := blob.New(t.TempDir(), []byte("secret"), time.Minute)
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	st := newCoordStore()
	pub := &pubStub{}
	c := NewCoordinator(nil, st, bs, pub, "document.uploaded", "https://api.example.com")
	return c, st, pub
}

func TestIssueUploadURLCreatesDocument(t *testing.T) {
	c, st, _ := newTestCoordinator(t)

	grant, err := c.IssueUploadURL(context.Background(), "acme", "../guide.html")
	if err != nil {
		t.Fatalf("IssueUploadURL: %v", err)
	}
	if grant.DocumentID == "" {
		t.Fatal("expected generated document id")
	}
	wantKey := "tenants/acme/documents/" + grant.DocumentID + "/guide.html"
	if grant.StorageKey != wantKey {
		t.Fatalf("storage key = %q, want %q", grant.StorageKey, wantKey)
	}
	if !strings.HasPrefix(grant.UploadURL, "https://api.example.com/api/kb/upload?key=") {
		t.Fatalf("unexpected upload URL %q", grant.UploadURL)
	}
	if grant.ExpiresAt.Before(time.Now()) {
		t.Fatal("upload URL must not be issued already expired")
	}

	doc, found, _ := st.GetDocument(context.Background(), grant.DocumentID)
	if !found {
		t.Fatal("document row must exist before any bytes arrive")
	}
	if doc.SummaryStatus != store.SummaryStatusNone || doc.IndexStatus != store.IndexStatusNone {
		t.Fatalf("fresh document has statuses %q/%q", doc.SummaryStatus, doc.IndexStatus)
	}
}

func TestAcceptUploadPublishesEvent(t *testing.T) {
	c, _, pub := newTestCoordinator(t)

	grant, err := c.IssueUploadURL(context.Background(), "acme", "notes.txt")
	if err != nil {
		t.Fatalf("IssueUploadURL: %v", err)
	}
	token := grant.UploadURL[strings.Index(grant.UploadURL, "&token=")+len("&token="):]

	err = c.AcceptUpload(context.Background(), grant.StorageKey, token, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("AcceptUpload: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.published))
	}
	env := pub.published[0]
	if env.EventType != EventDocumentUploaded {
		t.Fatalf("event type = %q", env.EventType)
	}
	var payload DocumentUploadedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.TenantID != "acme" || payload.DocumentID != grant.DocumentID || payload.StorageKey != grant.StorageKey {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAcceptUploadRejectsBadToken(t *testing.T) {
	c, _, pub := newTestCoordinator(t)

	grant, err := c.IssueUploadURL(context.Background(), "acme", "notes.txt")
	if err != nil {
		t.Fatalf("IssueUploadURL: %v", err)
	}
	err = c.AcceptUpload(context.Background(), grant.StorageKey, "12345.deadbeef", strings.NewReader("x"))
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("expected validation fault, got %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatal("rejected upload must not publish")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	c, st, pub := newTestCoordinator(t)

	grant, err := c.IssueUploadURL(context.Background(), "acme", "a.txt")
	if err != nil {
		t.Fatalf("IssueUploadURL: %v", err)
	}

	for i := 0; i < 2; i++ {
		status, err := c.Sync(context.Background(), "acme", grant.StorageKey)
		if err != nil {
			t.Fatalf("Sync #%d: %v", i+1, err)
		}
		if len(status.Jobs) != 2 {
			t.Fatalf("Sync #%d: %d jobs, want 2", i+1, len(status.Jobs))
		}
	}
	// Four ensure calls but only two distinct jobs.
	if len(st.ensureCalls) != 4 || len(st.jobs) != 2 {
		t.Fatalf("ensure calls=%d jobs=%d", len(st.ensureCalls), len(st.jobs))
	}
	if len(pub.published) != 2 {
		t.Fatalf("each sync republishes: got %d events", len(pub.published))
	}
}

func TestSyncTenantMismatch(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	grant, err := c.IssueUploadURL(context.Background(), "acme", "a.txt")
	if err != nil {
		t.Fatalf("IssueUploadURL: %v", err)
	}
	_, err = c.Sync(context.Background(), "globex", grant.StorageKey)
	if fault.KindOf(err) != fault.KindTenantMismatch {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
}

func TestSyncUnknownKey(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.Sync(context.Background(), "acme", "tenants/acme/documents/nope/a.txt")
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusScopedByTenant(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	grant, err := c.IssueUploadURL(context.Background(), "acme", "a.txt")
	if err != nil {
		t.Fatalf("IssueUploadURL: %v", err)
	}
	if _, err := c.Status(context.Background(), "globex", grant.DocumentID); fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("foreign tenant must see not-found, got %v", err)
	}
	status, err := c.Status(context.Background(), "acme", grant.DocumentID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Lifecycle != LifecycleUploaded {
		t.Fatalf("lifecycle = %q, want uploaded", status.Lifecycle)
	}
}
