// Package memstore contains in-memory implementations of the service's
// persistence interfaces, guarded by RWMutex and returning copies so callers
// cannot mutate internal state. They back the service tests and local
// development without Postgres or MinIO.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/repository"
)

type grantKey struct {
	documentID string
	subject    string
}

// Store keeps documents, folders, grants, permissions, blobs, and the access
// log in maps. A single mutex per concern gives the same
// at-most-one-writer-wins behavior per key that the SQL upserts provide.
type Store struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	folders   map[string]*model.Folder
	grants    map[grantKey]*model.UserGrant
	perms     map[grantKey]*model.RolePermission
	blobs     map[string][]byte
	log       []model.AccessLogEntry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		documents: make(map[string]*model.Document),
		folders:   make(map[string]*model.Folder),
		grants:    make(map[grantKey]*model.UserGrant),
		perms:     make(map[grantKey]*model.RolePermission),
		blobs:     make(map[string][]byte),
	}
}

// Create inserts a document row.
func (s *Store) Create(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Active = true
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

// GetActive returns an active document copy.
func (s *Store) GetActive(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok || !doc.Active {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// ListActive returns copies of all active documents, newest first.
func (s *Store) ListActive(ctx context.Context) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []*model.Document
	for _, doc := range s.documents {
		if !doc.Active {
			continue
		}
		cp := *doc
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// Touch updates last_accessed_at and optionally increments the download
// counter under the write lock, mirroring the atomic SQL UPDATE.
func (s *Store) Touch(ctx context.Context, id string, download bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok || !doc.Active {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	if download {
		doc.DownloadCount++
	}
	doc.LastAccessedAt = &now
	doc.UpdatedAt = now
	return nil
}

// Deactivate soft-deletes a document.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok || !doc.Active {
		return repository.ErrNotFound
	}
	doc.Active = false
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// UserGrant returns the grant for (document, user) or ErrNotFound.
func (s *Store) UserGrant(ctx context.Context, documentID, userID string) (*model.UserGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey{documentID, userID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// UpsertUserGrant replaces the grant for (document, user), last write wins.
func (s *Store) UpsertUserGrant(ctx context.Context, g *model.UserGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.UpdatedAt = time.Now().UTC()
	cp := *g
	s.grants[grantKey{g.DocumentID, g.UserID}] = &cp
	return nil
}

// DeleteUserGrant removes the grant row outright.
func (s *Store) DeleteUserGrant(ctx context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantKey{documentID, userID})
	return nil
}

// RolePermissions returns all permission rows for a document.
func (s *Store) RolePermissions(ctx context.Context, documentID string) ([]model.RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var perms []model.RolePermission
	for key, p := range s.perms {
		if key.documentID == documentID {
			perms = append(perms, *p)
		}
	}
	return perms, nil
}

// UpsertRolePermission replaces the row for (document, role).
func (s *Store) UpsertRolePermission(ctx context.Context, p *model.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	s.perms[grantKey{p.DocumentID, string(p.Role)}] = &cp
	return nil
}

// CreateFolder inserts a folder row.
func (s *Store) CreateFolder(ctx context.Context, f *model.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.Active = true
	cp := *f
	s.folders[f.ID] = &cp
	return nil
}

// GetActiveFolder returns an active folder copy.
func (s *Store) GetActiveFolder(ctx context.Context, id string) (*model.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok || !f.Active {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// FolderPath joins folder names from root to the given folder.
func (s *Store) FolderPath(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path := ""
	for id != "" {
		f, ok := s.folders[id]
		if !ok || !f.Active {
			return "", repository.ErrNotFound
		}
		if path == "" {
			path = f.Name
		} else {
			path = f.Name + "/" + path
		}
		if f.ParentID == nil {
			break
		}
		id = *f.ParentID
	}
	return "/" + path, nil
}

// DeactivateFolder soft-deletes a folder.
func (s *Store) DeactivateFolder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok || !f.Active {
		return repository.ErrNotFound
	}
	f.Active = false
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// Put stores a blob copy under key.
func (s *Store) Put(ctx context.Context, key string, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), ciphertext...)
	return nil
}

// Get returns a blob copy.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Append adds an access log entry. No removal method exists.
func (s *Store) Append(ctx context.Context, e *model.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, *e)
	return nil
}

// FolderView exposes the folder methods under the names the service's
// FolderStore interface expects.
type FolderView struct {
	s *Store
}

// Folders returns the folder-scoped view of the store.
func (s *Store) Folders() *FolderView {
	return &FolderView{s: s}
}

// Create inserts a folder row.
func (v *FolderView) Create(ctx context.Context, f *model.Folder) error {
	return v.s.CreateFolder(ctx, f)
}

// GetActive returns an active folder copy.
func (v *FolderView) GetActive(ctx context.Context, id string) (*model.Folder, error) {
	return v.s.GetActiveFolder(ctx, id)
}

// Path joins folder names from root to the given folder.
func (v *FolderView) Path(ctx context.Context, id string) (string, error) {
	return v.s.FolderPath(ctx, id)
}

// Deactivate soft-deletes a folder.
func (v *FolderView) Deactivate(ctx context.Context, id string) error {
	return v.s.DeactivateFolder(ctx, id)
}

// Entries returns a copy of the access log for assertions.
func (s *Store) Entries() []model.AccessLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AccessLogEntry(nil), s.log...)
}
