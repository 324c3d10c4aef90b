package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sealbox/sealbox/internal/api"
	"github.com/sealbox/sealbox/internal/audit"
	"github.com/sealbox/sealbox/internal/blobstore"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/database"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/seal"
	"github.com/sealbox/sealbox/internal/service"
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

	engine, err := seal.NewEngine(seal.StaticKey(cfg.MasterKey))
	if err != nil {
		log.Fatalf("init seal engine: %v", err)
	}

	docs := repository.NewDocumentRepository(pool)
	grants := repository.NewGrantRepository(pool)
	folders := repository.NewFolderRepository(pool)
	recorder := audit.NewRecorder(repository.NewAuditRepository(pool), cfg.AuditSecret)

	svc := service.New(docs, grants, folders, store, engine, recorder, service.Options{
		AuditFailOpen: cfg.AuditFailOpen,
		StoreRetries:  cfg.StoreRetries,
	})
	if cfg.AuditFailOpen {
		log.Printf("audit policy: fail-open (operator opt-in)")
	}

	srv := api.New(cfg, svc)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
