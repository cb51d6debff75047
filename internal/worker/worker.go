package worker

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
)

// Runner owns the consume loop: read a batch, hand each envelope to the
// processor, ack what was handled. Failed envelopes stay pending for the
// reaper to recover.
type Runner struct {
	logger    *log.Logger
	consumer  *streams.Consumer
	processor *Processor
	stream    string
	block     time.Duration
}

func NewRunner(logger *log.Logger, consumer *streams.Consumer, processor *Processor, stream string) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Runner{
		logger:    logger,
		consumer:  consumer,
		processor: processor,
		stream:    stream,
		block:     5 * time.Second,
	}
}

// EnsureGroup creates the consumer group for the runner's stream.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	return streams.EnsureGroup(ctx, client, stream, group)
}

// Run blocks consuming until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("consuming stream %s", r.stream)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msgs, err := r.consumer.Read(ctx, r.stream, streams.WithBlock(r.block), streams.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Printf("read: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			if err := r.processor.Handle(ctx, msg.Envelope); err != nil {
				r.logger.Printf("event %s: %v", msg.Envelope.EventID, err)
				continue
			}
			if err := r.consumer.Ack(ctx, r.stream, msg.ID); err != nil {
				r.logger.Printf("ack %s: %v", msg.ID, err)
			}
		}
	}
}
