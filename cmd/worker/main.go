package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sealbox/sealbox/internal/blobstore"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/database"
	"github.com/sealbox/sealbox/internal/queue"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	store, err := blobstore.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatalf("ensure buckets: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// Enqueue an archival pass daily; the processor exports entries older
	// than the configured horizon without touching the source rows.
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			payload := queue.ArchivePayload{Cutoff: time.Now().UTC().Add(-cfg.ArchiveAfter)}
			if err := queue.EnqueueArchive(ctx, client, payload); err != nil {
				log.Printf("enqueue archive: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerPool,
	})
	processor := worker.NewProcessor(repository.NewAuditRepository(pool), store)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
