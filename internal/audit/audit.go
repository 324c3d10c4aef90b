// Package audit records every access decision. The log is append-only:
// nothing in this package or anywhere else updates or deletes an entry once
// written.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sealbox/sealbox/internal/model"
)

// ErrUnavailable signals that the audit sink rejected the write. Callers must
// not proceed as if unaudited; the fail-open/fail-closed choice is made
// explicitly at the service layer.
var ErrUnavailable = errors.New("audit sink unavailable")

// Sink is the storage backend for access log entries.
type Sink interface {
	Append(ctx context.Context, e *model.AccessLogEntry) error
}

// Recorder signs and appends access log entries.
type Recorder struct {
	sink   Sink
	signer *EntrySigner
}

// NewRecorder constructs a Recorder. The secret feeds the per-entry HMAC so
// forensic review can detect tampering with the log.
func NewRecorder(sink Sink, secret []byte) *Recorder {
	return &Recorder{sink: sink, signer: NewEntrySigner(secret)}
}

// Record appends one entry for an access decision. Sink failures surface as
// ErrUnavailable, never silently.
func (r *Recorder) Record(ctx context.Context, documentID string, actor model.Actor, action model.AccessAction, success bool, accessCtx model.AccessContext) (*model.AccessLogEntry, error) {
	entry := &model.AccessLogEntry{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		ActorID:    actor.ID,
		Action:     action,
		Success:    success,
		Context:    accessCtx,
		CreatedAt:  time.Now().UTC(),
	}
	entry.Signature = r.signer.Sign(entry)
	if err := r.sink.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entry, nil
}

// Verify re-computes the signature for an entry read back from storage.
func (r *Recorder) Verify(entry *model.AccessLogEntry) bool {
	return r.signer.Verify(entry)
}
