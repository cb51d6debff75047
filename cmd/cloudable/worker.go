package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/CloudBridgeTechnologies/cloudable/config"
	"github.com/CloudBridgeTechnologies/cloudable/internal/blob"
	"github.com/CloudBridgeTechnologies/cloudable/internal/ingest"
	"github.com/CloudBridgeTechnologies/cloudable/internal/knowledge"
	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
	"github.com/CloudBridgeTechnologies/cloudable/internal/worker"
	"github.com/CloudBridgeTechnologies/cloudable/provider"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var consumerName string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the document ingestion worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := store.NewWithDSN(ctx, cfg.Databases.Postgres.DSN())
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Databases.Redis.Addr(),
				Password: cfg.Databases.Redis.Pass,
				DB:       cfg.Databases.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
			}

			prov, err := provider.New(cfg.Providers)
			if err != nil {
				return err
			}
			blobs, err := blob.New(cfg.Storage.DataDir, []byte(cfg.Storage.SigningSecret), cfg.Storage.UploadURLTTL)
			if err != nil {
				return err
			}

			chunker := ingest.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
			keyword := knowledge.NewKeywordIndex()
			processor := worker.NewProcessor(logger, st, blobs, prov, keyword, chunker,
				cfg.Ingestion.MaxRetries, cfg.Ingestion.RetryBackoff)

			if err := worker.EnsureGroup(ctx, rdb, cfg.Ingestion.Stream, cfg.Ingestion.ConsumerGroup); err != nil {
				return err
			}
			if consumerName == "" {
				host, _ := os.Hostname()
				consumerName = fmt.Sprintf("%s-%d", host, os.Getpid())
			}
			consumer := streams.NewConsumer(rdb, cfg.Ingestion.ConsumerGroup, consumerName)
			runner := worker.NewRunner(logger, consumer, processor, cfg.Ingestion.Stream)
			if err := runner.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&consumerName, "name", "", "consumer name within the group")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
