// Package service orchestrates uploads, retrievals, and grant management:
// every operation runs through the same evaluate, seal/unseal, audit
// pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sealbox/sealbox/internal/audit"
	"github.com/sealbox/sealbox/internal/blobstore"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/policy"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/seal"
)

// DocumentStore is the metadata persistence the service depends on.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetActive(ctx context.Context, id string) (*model.Document, error)
	ListActive(ctx context.Context) ([]*model.Document, error)
	Touch(ctx context.Context, id string, download bool) error
	Deactivate(ctx context.Context, id string) error
}

// GrantStore persists user grants and role permissions.
type GrantStore interface {
	UserGrant(ctx context.Context, documentID, userID string) (*model.UserGrant, error)
	UpsertUserGrant(ctx context.Context, g *model.UserGrant) error
	DeleteUserGrant(ctx context.Context, documentID, userID string) error
	RolePermissions(ctx context.Context, documentID string) ([]model.RolePermission, error)
	UpsertRolePermission(ctx context.Context, p *model.RolePermission) error
}

// FolderStore persists the folder hierarchy.
type FolderStore interface {
	Create(ctx context.Context, f *model.Folder) error
	GetActive(ctx context.Context, id string) (*model.Folder, error)
	Path(ctx context.Context, id string) (string, error)
	Deactivate(ctx context.Context, id string) error
}

// BlobStore holds sealed payloads.
type BlobStore interface {
	Put(ctx context.Context, key string, ciphertext []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Options tune failure policy.
type Options struct {
	// AuditFailOpen lets requests proceed when the audit sink is down.
	// Default is fail-closed: an unauditable request is a denied request.
	AuditFailOpen bool
	// StoreRetries bounds local retries against the byte store.
	StoreRetries int
}

// Service is the document confidentiality core.
type Service struct {
	docs     DocumentStore
	grants   GrantStore
	folders  FolderStore
	blobs    BlobStore
	engine   *seal.Engine
	recorder *audit.Recorder
	opts     Options
}

// New wires the service together.
func New(docs DocumentStore, grants GrantStore, folders FolderStore, blobs BlobStore, engine *seal.Engine, recorder *audit.Recorder, opts Options) *Service {
	if opts.StoreRetries <= 0 {
		opts.StoreRetries = 3
	}
	return &Service{
		docs:     docs,
		grants:   grants,
		folders:  folders,
		blobs:    blobs,
		engine:   engine,
		recorder: recorder,
		opts:     opts,
	}
}

// UploadInput is the metadata accompanying a new payload.
type UploadInput struct {
	Name            string
	AccessLevel     model.AccessLevel
	Status          model.Status
	FolderID        *string
	ParentVersionID *string
	EffectiveDate   *time.Time
	ExpiryDate      *time.Time
}

// Upload seals the plaintext and persists ciphertext plus metadata. The
// plaintext slice is only touched inside the seal call; nothing writes it to
// disk or to the byte store.
func (s *Service) Upload(ctx context.Context, actor model.Actor, in UploadInput, plaintext []byte) (*model.Document, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrValidation)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: missing document name", ErrValidation)
	}
	if !in.AccessLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrValidation, in.AccessLevel)
	}
	if in.Status == "" {
		in.Status = model.StatusDraft
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrValidation)
	}
	if in.FolderID != nil {
		if _, err := s.folders.GetActive(ctx, *in.FolderID); err != nil {
			return nil, fmt.Errorf("%w: unknown folder", ErrValidation)
		}
	}

	version := 1
	if in.ParentVersionID != nil {
		parent, err := s.docs.GetActive(ctx, *in.ParentVersionID)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown parent version", ErrValidation)
		}
		if parent.OwnerID != actor.ID && !actor.Superuser {
			return nil, ErrDenied
		}
		version = parent.Version + 1
	}

	ciphertext, nonce, err := s.engine.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}

	doc := &model.Document{
		ID:              uuid.NewString(),
		OwnerID:         actor.ID,
		FolderID:        in.FolderID,
		Name:            in.Name,
		AccessLevel:     in.AccessLevel,
		Status:          in.Status,
		Sealed:          true,
		Nonce:           nonce,
		KeyVersion:      seal.KeyVersion,
		Version:         version,
		ParentVersionID: in.ParentVersionID,
		EffectiveDate:   in.EffectiveDate,
		ExpiryDate:      in.ExpiryDate,
	}
	doc.PayloadKey = fmt.Sprintf("sealed/%s/v%d", doc.ID, doc.Version)

	if err := s.putWithRetry(ctx, doc.PayloadKey, ciphertext); err != nil {
		return nil, err
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("persist document: %w", err)
	}
	return doc, nil
}

// Retrieve evaluates access, unseals the payload, and audits the outcome.
// Denials are audited and reported as ErrDenied; the transport maps that to
// not-found so the caller cannot distinguish a denied document from a
// missing one. No counter is touched on a denial or integrity failure.
func (s *Service) Retrieve(ctx context.Context, actor model.Actor, documentID string, capability model.Capability, accessCtx model.AccessContext) ([]byte, *model.Document, error) {
	if capability != model.CapRead && capability != model.CapDownload {
		return nil, nil, fmt.Errorf("%w: capability %q cannot retrieve content", ErrValidation, capability)
	}

	doc, err := s.docs.GetActive(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("load document: %w", err)
	}

	decision, err := s.evaluate(ctx, actor, doc, capability)
	if err != nil {
		return nil, nil, err
	}
	if decision != policy.Allow {
		if err := s.record(ctx, doc.ID, actor, model.ActionAccessDenied, false, withDetail(accessCtx, string(capability))); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrDenied
	}

	ciphertext, err := s.getWithRetry(ctx, doc.PayloadKey)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := s.engine.Unseal(ciphertext, doc.Nonce)
	if err != nil {
		// Tampered or corrupted ciphertext is an incident, not a policy
		// denial; it gets its own audit action and is never retried.
		if auditErr := s.record(ctx, doc.ID, actor, model.ActionIntegrityFailure, false, withDetail(accessCtx, string(capability))); auditErr != nil {
			log.Printf("audit integrity failure for %s: %v", doc.ID, auditErr)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	action := model.ActionView
	if capability == model.CapDownload {
		action = model.ActionDownload
	}
	if err := s.record(ctx, doc.ID, actor, action, true, accessCtx); err != nil {
		return nil, nil, err
	}
	if err := s.docs.Touch(ctx, doc.ID, capability == model.CapDownload); err != nil {
		// The counter is analytics, never a security input; losing one
		// update must not fail a request that was allowed and audited.
		log.Printf("touch document %s: %v", doc.ID, err)
	}
	return plaintext, doc, nil
}

// GetMetadata returns the document metadata after a read evaluation, without
// unsealing the payload.
func (s *Service) GetMetadata(ctx context.Context, actor model.Actor, documentID string, accessCtx model.AccessContext) (*model.Document, error) {
	doc, err := s.docs.GetActive(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	decision, err := s.evaluate(ctx, actor, doc, model.CapRead)
	if err != nil {
		return nil, err
	}
	if decision != policy.Allow {
		if err := s.record(ctx, doc.ID, actor, model.ActionAccessDenied, false, withDetail(accessCtx, "read")); err != nil {
			return nil, err
		}
		return nil, ErrDenied
	}
	if err := s.record(ctx, doc.ID, actor, model.ActionView, true, accessCtx); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListVisible returns the active documents the actor may read. Filtering
// applies the one canonical evaluator per candidate; there is no second,
// query-level reimplementation of the rules to drift out of sync.
func (s *Service) ListVisible(ctx context.Context, actor model.Actor) ([]*model.Document, error) {
	docs, err := s.docs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	visible := make([]*model.Document, 0, len(docs))
	for _, doc := range docs {
		decision, err := s.evaluate(ctx, actor, doc, model.CapRead)
		if err != nil {
			return nil, err
		}
		if decision == policy.Allow {
			visible = append(visible, doc)
		}
	}
	return visible, nil
}

// DeleteDocument soft-deletes after a delete evaluation. The sealed payload
// stays in the byte store; the row just goes inactive.
func (s *Service) DeleteDocument(ctx context.Context, actor model.Actor, documentID string, accessCtx model.AccessContext) error {
	doc, err := s.docs.GetActive(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load document: %w", err)
	}
	decision, err := s.evaluate(ctx, actor, doc, model.CapDelete)
	if err != nil {
		return err
	}
	if decision != policy.Allow {
		if err := s.record(ctx, doc.ID, actor, model.ActionAccessDenied, false, withDetail(accessCtx, "delete")); err != nil {
			return err
		}
		return ErrDenied
	}
	if err := s.docs.Deactivate(ctx, doc.ID); err != nil {
		return fmt.Errorf("deactivate document: %w", err)
	}
	return s.record(ctx, doc.ID, actor, model.ActionDelete, true, accessCtx)
}

// GrantUserAccess upserts a user grant, last write wins. Only the owner or a
// superuser may manage grants; anyone else gets an audited denial.
func (s *Service) GrantUserAccess(ctx context.Context, actor model.Actor, documentID, targetUser string, caps model.CapabilitySet, expiresAt *time.Time, accessCtx model.AccessContext) (*model.UserGrant, error) {
	if targetUser == "" {
		return nil, fmt.Errorf("%w: missing target user", ErrValidation)
	}
	doc, err := s.requireGrantAuthority(ctx, actor, documentID, accessCtx)
	if err != nil {
		return nil, err
	}
	grant := &model.UserGrant{
		DocumentID:   doc.ID,
		UserID:       targetUser,
		GrantedBy:    actor.ID,
		Capabilities: caps,
		ExpiresAt:    expiresAt,
	}
	if err := s.grants.UpsertUserGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("upsert grant: %w", err)
	}
	if err := s.record(ctx, doc.ID, actor, model.ActionShare, true, withDetail(accessCtx, "grant "+targetUser)); err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeUserAccess deletes the grant row outright.
func (s *Service) RevokeUserAccess(ctx context.Context, actor model.Actor, documentID, targetUser string, accessCtx model.AccessContext) error {
	if targetUser == "" {
		return fmt.Errorf("%w: missing target user", ErrValidation)
	}
	doc, err := s.requireGrantAuthority(ctx, actor, documentID, accessCtx)
	if err != nil {
		return err
	}
	if err := s.grants.DeleteUserGrant(ctx, doc.ID, targetUser); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return s.record(ctx, doc.ID, actor, model.ActionShare, true, withDetail(accessCtx, "revoke "+targetUser))
}

// SetRolePermission upserts the permission row for (document, role).
func (s *Service) SetRolePermission(ctx context.Context, actor model.Actor, documentID string, role model.Role, caps model.CapabilitySet, accessCtx model.AccessContext) (*model.RolePermission, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	doc, err := s.requireGrantAuthority(ctx, actor, documentID, accessCtx)
	if err != nil {
		return nil, err
	}
	perm := &model.RolePermission{
		DocumentID:   doc.ID,
		Role:         role,
		Capabilities: caps,
	}
	if err := s.grants.UpsertRolePermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("upsert role permission: %w", err)
	}
	if err := s.record(ctx, doc.ID, actor, model.ActionShare, true, withDetail(accessCtx, "role "+string(role))); err != nil {
		return nil, err
	}
	return perm, nil
}

// CreateFolder adds a folder under an existing parent.
func (s *Service) CreateFolder(ctx context.Context, actor model.Actor, name string, parentID *string, level model.AccessLevel) (*model.Folder, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrValidation)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: missing folder name", ErrValidation)
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrValidation, level)
	}
	if parentID != nil {
		if _, err := s.folders.GetActive(ctx, *parentID); err != nil {
			return nil, fmt.Errorf("%w: unknown parent folder", ErrValidation)
		}
	}
	folder := &model.Folder{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		OwnerID:     actor.ID,
		Name:        name,
		AccessLevel: level,
	}
	if err := s.folders.Create(ctx, folder); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return folder, nil
}

// GetFolder returns a folder together with its slash-joined path from root.
func (s *Service) GetFolder(ctx context.Context, actor model.Actor, folderID string) (*model.Folder, string, error) {
	folder, err := s.folders.GetActive(ctx, folderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("load folder: %w", err)
	}
	path, err := s.folders.Path(ctx, folderID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve folder path: %w", err)
	}
	return folder, path, nil
}

// DeleteFolder soft-deletes a folder. Only the folder owner or a superuser
// may delete; documents inside keep their folder_id and stay retrievable by
// id.
func (s *Service) DeleteFolder(ctx context.Context, actor model.Actor, folderID string) error {
	folder, err := s.folders.GetActive(ctx, folderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load folder: %w", err)
	}
	if actor.ID != folder.OwnerID && !actor.Superuser {
		return ErrDenied
	}
	if err := s.folders.Deactivate(ctx, folder.ID); err != nil {
		return fmt.Errorf("deactivate folder: %w", err)
	}
	return nil
}

// evaluate fetches the policy rows and runs the pure evaluator.
func (s *Service) evaluate(ctx context.Context, actor model.Actor, doc *model.Document, capability model.Capability) (policy.Decision, error) {
	grant, err := s.grants.UserGrant(ctx, doc.ID, actor.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return policy.Deny, fmt.Errorf("load user grant: %w", err)
	}
	perms, err := s.grants.RolePermissions(ctx, doc.ID)
	if err != nil {
		return policy.Deny, fmt.Errorf("load role permissions: %w", err)
	}
	in := policy.Input{
		Actor:     actor,
		Document:  doc,
		Grant:     grant,
		RolePerms: perms,
		Now:       time.Now().UTC(),
	}
	return policy.Evaluate(in, capability), nil
}

// requireGrantAuthority loads the document and checks that the actor is the
// owner or a superuser. Failed attempts are audited as denied shares.
func (s *Service) requireGrantAuthority(ctx context.Context, actor model.Actor, documentID string, accessCtx model.AccessContext) (*model.Document, error) {
	doc, err := s.docs.GetActive(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	if actor.ID != doc.OwnerID && !actor.Superuser {
		if err := s.record(ctx, doc.ID, actor, model.ActionAccessDenied, false, withDetail(accessCtx, "share")); err != nil {
			return nil, err
		}
		return nil, ErrDenied
	}
	return doc, nil
}

// record applies the audit failure policy: fail-closed by default, fail-open
// only when the operator opted in.
func (s *Service) record(ctx context.Context, documentID string, actor model.Actor, action model.AccessAction, success bool, accessCtx model.AccessContext) error {
	_, err := s.recorder.Record(ctx, documentID, actor, action, success, accessCtx)
	if err == nil {
		return nil
	}
	if s.opts.AuditFailOpen {
		log.Printf("audit write failed (fail-open): %v", err)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
}

func (s *Service) putWithRetry(ctx context.Context, key string, data []byte) error {
	var err error
	for attempt := 0; attempt < s.opts.StoreRetries; attempt++ {
		if err = s.blobs.Put(ctx, key, data); err == nil {
			return nil
		}
		if !errors.Is(err, blobstore.ErrUnavailable) {
			return fmt.Errorf("store payload: %w", err)
		}
		backoff(ctx, attempt)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *Service) getWithRetry(ctx context.Context, key string) ([]byte, error) {
	var err error
	for attempt := 0; attempt < s.opts.StoreRetries; attempt++ {
		var data []byte
		if data, err = s.blobs.Get(ctx, key); err == nil {
			return data, nil
		}
		if !errors.Is(err, blobstore.ErrUnavailable) {
			return nil, fmt.Errorf("fetch payload: %w", err)
		}
		backoff(ctx, attempt)
	}
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func backoff(ctx context.Context, attempt int) {
	delay := time.Duration(attempt+1) * 100 * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func withDetail(accessCtx model.AccessContext, detail string) model.AccessContext {
	if accessCtx.Detail == "" {
		accessCtx.Detail = detail
	} else {
		accessCtx.Detail += "; " + detail
	}
	return accessCtx
}
