package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ArchiveAuditTask exports old access log entries to the archive bucket.
	ArchiveAuditTask = "audit:archive"
)

// ArchivePayload tells the worker which slice of the log to export. Archival
// copies entries out; the log rows themselves are never touched.
type ArchivePayload struct {
	Cutoff time.Time `json:"cutoff"`
	Limit  int       `json:"limit"`
}

// EnqueueArchive enqueues an audit archival job.
func EnqueueArchive(ctx context.Context, client *asynq.Client, payload ArchivePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ArchiveAuditTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue archive task: %w", err)
	}
	return nil
}
