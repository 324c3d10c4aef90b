package worker

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sealbox/sealbox/internal/blobstore"
	"github.com/sealbox/sealbox/internal/queue"
	"github.com/sealbox/sealbox/internal/repository"
)

const defaultBatchLimit = 10000

// Processor is plugged into the asynq worker loop. It exports aged access
// log entries into gzip segments in the archive bucket for long-term
// forensic review. The source rows stay untouched.
type Processor struct {
	audit *repository.AuditRepository
	store *blobstore.Store
}

// NewProcessor constructs a worker processor.
func NewProcessor(audit *repository.AuditRepository, store *blobstore.Store) *Processor {
	return &Processor{audit: audit, store: store}
}

// Handler registers the archive job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ArchiveAuditTask, p.handleArchive)
	return mux
}

func (p *Processor) handleArchive(ctx context.Context, task *asynq.Task) error {
	var payload queue.ArchivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	entries, err := p.audit.ListOlderThan(ctx, payload.Cutoff, limit)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		log.Printf("audit archive: nothing older than %s", payload.Cutoff.Format(time.RFC3339))
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(entries); err != nil {
		return fmt.Errorf("encode segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	key := fmt.Sprintf("audit/%s-%d.json.gz", payload.Cutoff.UTC().Format("20060102T150405"), len(entries))
	if err := p.store.PutArchive(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("upload segment: %w", err)
	}
	log.Printf("audit archive: exported %d entries to %s", len(entries), key)
	return nil
}
