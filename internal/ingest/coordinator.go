// Package ingest drives documents from upload through metadata extraction
// into the two parallel ingestion paths (summarize, index) and answers
// ingestion-status queries.
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CloudBridgeTechnologies/cloudable/internal/blob"
	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// EventDocumentUploaded is the storage-event type that starts ingestion.
const EventDocumentUploaded = "document.uploaded"

// Lifecycle values derived for clients from a document's sub-statuses.
const (
	LifecycleUploaded          = "uploaded"
	LifecycleMetadataExtracted = "metadata_extracted"
)

// DocumentUploadedPayload mirrors the JSON payload published on upload
// completion and manual sync.
type DocumentUploadedPayload struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
}

// StoreAPI captures the store methods the coordinator needs.
type StoreAPI interface {
	CreateDocument(ctx context.Context, rec store.DocumentRecord) (store.DocumentRecord, error)
	GetDocument(ctx context.Context, id string) (store.DocumentRecord, bool, error)
	GetDocumentByStorageKey(ctx context.Context, key string) (store.DocumentRecord, bool, error)
	EnsureIngestionJob(ctx context.Context, documentID, kind string) (store.IngestionJobRecord, bool, error)
	ListIngestionJobs(ctx context.Context, documentID string) ([]store.IngestionJobRecord, error)
}

// EventPublisher publishes storage events to the ingestion stream.
type EventPublisher interface {
	Publish(ctx context.Context, stream string, envelope streams.Envelope, opts ...streams.PublishOption) (string, error)
}

// UploadGrant is the result of issuing an upload URL: the document shell
// exists from this moment, before any bytes do.
type UploadGrant struct {
	DocumentID string    `json:"document_id"`
	StorageKey string    `json:"storage_key"`
	UploadURL  string    `json:"upload_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DocumentStatus is the polling view over a document and its jobs.
type DocumentStatus struct {
	Document  store.DocumentRecord
	Jobs      []store.IngestionJobRecord
	Lifecycle string
}

// Coordinator owns upload-URL issuance, ingestion triggering and status.
type Coordinator struct {
	logger    *log.Logger
	store     StoreAPI
	blob      *blob.Store
	publisher EventPublisher
	stream    string
	baseURL   string
}

// NewCoordinator constructs a Coordinator. baseURL is the public prefix
// upload URLs are formed under.
func NewCoordinator(logger *log.Logger, st StoreAPI, bs *blob.Store, pub EventPublisher, stream, baseURL string) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Coordinator{logger: logger, store: st, blob: bs, publisher: pub, stream: stream, baseURL: strings.TrimRight(baseURL, "/")}
}

// IssueUploadURL creates the document row in its uploaded state and returns
// a time-limited signed write URL for it.
func (c *Coordinator) IssueUploadURL(ctx context.Context, tenantID, filename string) (UploadGrant, error) {
	filename = SanitizeFilename(filename)
	docID := uuid.NewString()
	key := BuildStorageKey(tenantID, docID, filename)

	if _, err := c.store.CreateDocument(ctx, store.DocumentRecord{
		ID:         docID,
		TenantID:   tenantID,
		StorageKey: key,
		Filename:   filename,
	}); err != nil {
		return UploadGrant{}, fault.Wrap(fault.KindUpstream, "ingest.IssueUploadURL", err)
	}

	token, expires := c.blob.SignUploadToken(key)
	return UploadGrant{
		DocumentID: docID,
		StorageKey: key,
		UploadURL:  c.baseURL + "/api/kb/upload?key=" + key + "&token=" + token,
		ExpiresAt:  expires,
	}, nil
}

// AcceptUpload verifies a signed token, stores the bytes, and emits the
// storage event that starts ingestion.
func (c *Coordinator) AcceptUpload(ctx context.Context, storageKey, token string, body io.Reader) error {
	if err := c.blob.VerifyUploadToken(token, storageKey); err != nil {
		return err
	}
	doc, found, err := c.store.GetDocumentByStorageKey(ctx, storageKey)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "ingest.AcceptUpload", err)
	}
	if !found {
		return fault.Newf(fault.KindNotFound, "ingest.AcceptUpload", "no document for key %s", storageKey)
	}
	n, err := c.blob.Put(storageKey, body)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "ingest.AcceptUpload", err)
	}
	c.logger.Printf("stored %d bytes for document %s", n, doc.ID)
	return c.publishUploaded(ctx, doc.TenantID, doc.ID, storageKey)
}

// Sync manually (re-)triggers ingestion for a storage key. Both jobs are
// ensured idempotently; a second sync on succeeded or running jobs changes
// nothing and returns their current state.
func (c *Coordinator) Sync(ctx context.Context, tenantID, storageKey string) (DocumentStatus, error) {
	keyTenant, _, err := ParseStorageKey(storageKey)
	if err != nil {
		return DocumentStatus{}, fault.Wrap(fault.KindValidation, "ingest.Sync", err)
	}
	if keyTenant != tenantID {
		return DocumentStatus{}, fault.Newf(fault.KindTenantMismatch, "ingest.Sync",
			"storage key tenant %q does not match claimed tenant %q", keyTenant, tenantID)
	}
	doc, found, err := c.store.GetDocumentByStorageKey(ctx, storageKey)
	if err != nil {
		return DocumentStatus{}, fault.Wrap(fault.KindUpstream, "ingest.Sync", err)
	}
	if !found || doc.TenantID != tenantID {
		return DocumentStatus{}, fault.Newf(fault.KindNotFound, "ingest.Sync", "no document for key %s", storageKey)
	}

	for _, kind := range []string{store.JobKindSummarize, store.JobKindIndex} {
		if _, _, err := c.store.EnsureIngestionJob(ctx, doc.ID, kind); err != nil {
			return DocumentStatus{}, fault.Wrap(fault.KindUpstream, "ingest.Sync", err)
		}
	}
	if err := c.publishUploaded(ctx, tenantID, doc.ID, storageKey); err != nil {
		return DocumentStatus{}, err
	}
	return c.Status(ctx, tenantID, doc.ID)
}

// Status returns a document's derived lifecycle and both job states.
func (c *Coordinator) Status(ctx context.Context, tenantID, documentID string) (DocumentStatus, error) {
	doc, found, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentStatus{}, fault.Wrap(fault.KindUpstream, "ingest.Status", err)
	}
	if !found || doc.TenantID != tenantID {
		return DocumentStatus{}, fault.Newf(fault.KindNotFound, "ingest.Status", "document %s not found", documentID)
	}
	jobs, err := c.store.ListIngestionJobs(ctx, documentID)
	if err != nil {
		return DocumentStatus{}, fault.Wrap(fault.KindUpstream, "ingest.Status", err)
	}
	return DocumentStatus{Document: doc, Jobs: jobs, Lifecycle: Lifecycle(doc)}, nil
}

// Lifecycle derives the coarse document state from its sub-statuses. The
// two paths are reported separately; this value only answers "has anything
// happened yet".
func Lifecycle(doc store.DocumentRecord) string {
	if !doc.MetadataExtracted() {
		return LifecycleUploaded
	}
	return LifecycleMetadataExtracted
}

func (c *Coordinator) publishUploaded(ctx context.Context, tenantID, documentID, storageKey string) error {
	payload, err := json.Marshal(DocumentUploadedPayload{
		TenantID:   tenantID,
		DocumentID: documentID,
		StorageKey: storageKey,
	})
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "ingest.publishUploaded", err)
	}
	if _, err := c.publisher.Publish(ctx, c.stream, streams.Envelope{
		EventType: EventDocumentUploaded,
		Data:      payload,
	}); err != nil {
		return fault.Wrap(fault.KindUpstream, "ingest.publishUploaded", err)
	}
	return nil
}
