// Package worker consumes storage events and runs the two ingestion paths
// for each uploaded document: summarization and chunk indexing. The paths
// are independent; one failing never blocks the other.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/ingest"
	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// StoreAPI is the store surface the processor needs.
type StoreAPI interface {
	GetDocument(ctx context.Context, id string) (store.DocumentRecord, bool, error)
	SetDocumentMetadata(ctx context.Context, id, contentType string, metadata map[string]interface{}) error
	SetSummaryStatus(ctx context.Context, id, status string) error
	SetIndexStatus(ctx context.Context, id, status string) error
	EnsureIngestionJob(ctx context.Context, documentID, kind string) (store.IngestionJobRecord, bool, error)
	GetIngestionJob(ctx context.Context, documentID, kind string) (store.IngestionJobRecord, bool, error)
	MarkJobRunning(ctx context.Context, documentID, kind string) (bool, error)
	MarkJobSucceeded(ctx context.Context, documentID, kind string) error
	MarkJobFailed(ctx context.Context, documentID, kind, lastError string) error
	ReplaceChunks(ctx context.Context, documentID string, records []store.ChunkRecord) error
	UpsertSummary(ctx context.Context, rec store.SummaryRecord) error
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
}

// BlobReader fetches stored document bytes.
type BlobReader interface {
	Get(key string) (io.ReadCloser, error)
}

// Provider is the model surface the processor needs.
type Provider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	Summarize(ctx context.Context, text string) (string, error)
	Model() string
}

// KeywordIndexer mirrors chunk text into the keyword fallback index.
type KeywordIndexer interface {
	IndexChunks(tenantID string, chunks []store.ChunkRecord) error
}

// Processor handles one storage event end to end.
type Processor struct {
	logger     *log.Logger
	store      StoreAPI
	blob       BlobReader
	provider   Provider
	keyword    KeywordIndexer
	chunker    *ingest.Chunker
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewProcessor wires a Processor. keyword may be nil when the fallback
// index is disabled.
func NewProcessor(logger *log.Logger, st StoreAPI, blob BlobReader, prov Provider, keyword KeywordIndexer, chunker *ingest.Chunker, maxRetries int, backoff time.Duration) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Processor{
		logger:     logger,
		store:      st,
		blob:       blob,
		provider:   prov,
		keyword:    keyword,
		chunker:    chunker,
		maxRetries: maxRetries,
		backoff:    backoff,
		sleep:      sleepCtx,
	}
}

// Handle processes one envelope. Redelivery of an already-processed event
// is absorbed by the idempotency claim; redelivery after a partial failure
// re-runs only the jobs that have not succeeded.
func (p *Processor) Handle(ctx context.Context, env streams.Envelope) error {
	if env.EventType != ingest.EventDocumentUploaded {
		p.logger.Printf("ignoring event type %q", env.EventType)
		return nil
	}
	var payload ingest.DocumentUploadedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fault.Wrap(fault.KindValidation, "worker.Handle", err)
	}
	if payload.DocumentID == "" || payload.TenantID == "" || payload.StorageKey == "" {
		return fault.New(fault.KindValidation, "worker.Handle", "incomplete document.uploaded payload")
	}

	doc, found, err := p.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "worker.Handle", err)
	}
	if !found {
		p.logger.Printf("document %s gone, dropping event %s", payload.DocumentID, env.EventID)
		return nil
	}
	if doc.TenantID != payload.TenantID {
		return fault.Newf(fault.KindTenantMismatch, "worker.Handle",
			"event tenant %q does not match document tenant %q", payload.TenantID, doc.TenantID)
	}

	fresh, err := p.store.ClaimIdempotency(ctx, "event", env.EventID)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "worker.Handle", err)
	}
	if !fresh {
		p.logger.Printf("event %s already claimed, skipping", env.EventID)
		return nil
	}

	text, err := p.extract(ctx, doc)
	if err != nil {
		return err
	}

	for _, kind := range []string{store.JobKindSummarize, store.JobKindIndex} {
		if _, _, err := p.store.EnsureIngestionJob(ctx, doc.ID, kind); err != nil {
			return fault.Wrap(fault.KindUpstream, "worker.Handle", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.runJob(ctx, doc, store.JobKindSummarize, func(ctx context.Context) error {
			return p.summarize(ctx, doc, text)
		})
	}()
	go func() {
		defer wg.Done()
		p.runJob(ctx, doc, store.JobKindIndex, func(ctx context.Context) error {
			return p.index(ctx, doc, text)
		})
	}()
	wg.Wait()
	return nil
}

// extract pulls the stored bytes, extracts text and records metadata.
func (p *Processor) extract(ctx context.Context, doc store.DocumentRecord) (string, error) {
	rc, err := p.blob.Get(doc.StorageKey)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstream, "worker.extract", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstream, "worker.extract", err)
	}
	ex := ingest.ExtractText(doc.Filename, data)
	if err := p.store.SetDocumentMetadata(ctx, doc.ID, ex.ContentType, ex.Metadata); err != nil {
		return "", fault.Wrap(fault.KindUpstream, "worker.extract", err)
	}
	return ex.Text, nil
}

// runJob transitions the job through running and retries transient failures
// with exponential backoff. Succeeded jobs are never re-run.
func (p *Processor) runJob(ctx context.Context, doc store.DocumentRecord, kind string, fn func(context.Context) error) {
	job, found, err := p.store.GetIngestionJob(ctx, doc.ID, kind)
	if err != nil {
		p.logger.Printf("job %s/%s: load failed: %v", doc.ID, kind, err)
		return
	}
	if found && job.State == store.JobStateSucceeded {
		return
	}

	started, err := p.store.MarkJobRunning(ctx, doc.ID, kind)
	if err != nil {
		p.logger.Printf("job %s/%s: mark running failed: %v", doc.ID, kind, err)
		return
	}
	if !started {
		p.logger.Printf("job %s/%s: already running elsewhere", doc.ID, kind)
		return
	}
	p.setSubStatus(ctx, doc.ID, kind, pendingStatus(kind))

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if err := p.store.MarkJobSucceeded(ctx, doc.ID, kind); err != nil {
				p.logger.Printf("job %s/%s: mark succeeded failed: %v", doc.ID, kind, err)
			}
			p.setSubStatus(ctx, doc.ID, kind, successStatus(kind))
			return
		}
		if !fault.IsRetryable(lastErr) || attempt == p.maxRetries {
			break
		}
		delay := p.backoff * time.Duration(1<<(attempt-1))
		p.logger.Printf("job %s/%s: attempt %d failed, retrying in %s: %v", doc.ID, kind, attempt, delay, lastErr)
		if err := p.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	if err := p.store.MarkJobFailed(ctx, doc.ID, kind, lastErr.Error()); err != nil {
		p.logger.Printf("job %s/%s: mark failed failed: %v", doc.ID, kind, err)
	}
	p.setSubStatus(ctx, doc.ID, kind, failureStatus(kind))
	p.logger.Printf("job %s/%s: giving up: %v", doc.ID, kind, lastErr)
}

func (p *Processor) summarize(ctx context.Context, doc store.DocumentRecord, text string) error {
	if text == "" {
		text = fmt.Sprintf("Document %s (no extractable text).", doc.Filename)
	}
	summary, err := p.provider.Summarize(ctx, text)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "worker.summarize", err)
	}
	if err := p.store.UpsertSummary(ctx, store.SummaryRecord{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Summary:    summary,
		Model:      p.provider.Model(),
	}); err != nil {
		return fault.Wrap(fault.KindUpstream, "worker.summarize", err)
	}
	return nil
}

func (p *Processor) index(ctx context.Context, doc store.DocumentRecord, text string) error {
	pieces := p.chunker.Split(text)
	records := make([]store.ChunkRecord, 0, len(pieces))
	if len(pieces) > 0 {
		vecs, err := p.provider.CreateEmbedding(ctx, pieces)
		if err != nil {
			return fault.Wrap(fault.KindUpstream, "worker.index", err)
		}
		if len(vecs) != len(pieces) {
			return fault.Newf(fault.KindUpstream, "worker.index",
				"embedder returned %d vectors for %d chunks", len(vecs), len(pieces))
		}
		for i, piece := range pieces {
			records = append(records, store.ChunkRecord{
				TenantID:   doc.TenantID,
				DocumentID: doc.ID,
				ChunkID:    fmt.Sprintf("%s:%d", doc.ID, i),
				Ordinal:    i,
				Text:       piece,
				Vector:     vecs[i],
			})
		}
	}
	// Replace, never append: re-indexing the same document must not duplicate.
	if err := p.store.ReplaceChunks(ctx, doc.ID, records); err != nil {
		return fault.Wrap(fault.KindUpstream, "worker.index", err)
	}
	if p.keyword != nil {
		if err := p.keyword.IndexChunks(doc.TenantID, records); err != nil {
			p.logger.Printf("keyword index for %s: %v", doc.ID, err)
		}
	}
	return nil
}

func (p *Processor) setSubStatus(ctx context.Context, docID, kind, status string) {
	var err error
	if kind == store.JobKindSummarize {
		err = p.store.SetSummaryStatus(ctx, docID, status)
	} else {
		err = p.store.SetIndexStatus(ctx, docID, status)
	}
	if err != nil {
		p.logger.Printf("document %s: set %s status %s: %v", docID, kind, status, err)
	}
}

func pendingStatus(kind string) string {
	if kind == store.JobKindSummarize {
		return store.SummaryStatusPending
	}
	return store.IndexStatusPending
}

func successStatus(kind string) string {
	if kind == store.JobKindSummarize {
		return store.SummaryStatusReady
	}
	return store.IndexStatusIndexed
}

func failureStatus(kind string) string {
	if kind == store.JobKindSummarize {
		return store.SummaryStatusFailed
	}
	return store.IndexStatusFailed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
