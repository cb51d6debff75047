package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/CloudBridgeTechnologies/cloudable/internal/ingest"
	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// Reaper periodically re-publishes events for jobs stuck in running,
// recovering from worker crashes mid-job. A Redis lock keeps multiple
// replicas from double-firing.
type Reaper struct {
	Store  *store.Store
	Rdb    *redis.Client
	Pub    *streams.Publisher
	Stream string
	Cron   string
	After  time.Duration
	Stop   chan struct{}

	lastRun time.Time
}

func (r *Reaper) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-r.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if r.due() {
					r.tick()
				}
			}
		}
	}()
}

func (r *Reaper) due() bool {
	now := time.Now()
	expr, err := cronexpr.Parse(r.Cron)
	if err != nil {
		// Invalid cron expression: fall back to every ten minutes.
		if r.lastRun.IsZero() || now.Sub(r.lastRun) >= 10*time.Minute {
			r.lastRun = now
			return true
		}
		return false
	}
	if r.lastRun.IsZero() {
		r.lastRun = now
		return true
	}
	if !expr.Next(r.lastRun).After(now) {
		r.lastRun = now
		return true
	}
	return false
}

func (r *Reaper) tick() {
	ctx := context.Background()
	if r.Rdb != nil {
		ok, _ := r.Rdb.SetNX(ctx, "reaper:lock", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer r.Rdb.Del(ctx, "reaper:lock")
	}
	stuck, err := r.Store.ListStuckJobs(ctx, r.After)
	if err != nil {
		log.Printf("[REAPER] list stuck jobs: %v", err)
		return
	}
	for _, job := range stuck {
		payload, err := json.Marshal(ingest.DocumentUploadedPayload{
			TenantID:   job.TenantID,
			DocumentID: job.DocumentID,
			StorageKey: job.StorageKey,
		})
		if err != nil {
			continue
		}
		if err := r.Store.MarkJobFailed(ctx, job.DocumentID, job.Kind, "reaped: stuck in running"); err != nil {
			log.Printf("[REAPER] mark failed %s/%s: %v", job.DocumentID, job.Kind, err)
			continue
		}
		if _, err := r.Pub.Publish(ctx, r.Stream, streams.Envelope{
			EventType: ingest.EventDocumentUploaded,
			Data:      payload,
		}); err != nil {
			log.Printf("[REAPER] republish %s/%s: %v", job.DocumentID, job.Kind, err)
			continue
		}
		log.Printf("[REAPER] requeued stuck job %s/%s", job.DocumentID, job.Kind)
	}
}
