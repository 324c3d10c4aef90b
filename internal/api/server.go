// Package api exposes the HTTP surface. It translates requests into service
// calls and maps error kinds onto status codes; all policy lives below it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/service"
)

// Server exposes HTTP endpoints for uploads, retrievals, and grants.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, svc *service.Service) *Server {
	return &Server{cfg: cfg, svc: svc}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/documents", s.handleDocuments)
		mux.HandleFunc("/documents/", s.handleDocumentRoute)
		mux.HandleFunc("/folders", s.handleFolders)
		mux.HandleFunc("/folders/", s.handleFolderRoute)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: loggingMiddleware(mux),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleMetadata(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	switch parts[1] {
	case "content":
		s.handleContent(w, r, id)
	case "grants":
		target := ""
		if len(parts) > 2 {
			target = parts[2]
		}
		s.handleGrants(w, r, id, target)
	case "roles":
		role := ""
		if len(parts) > 2 {
			role = parts[2]
		}
		s.handleRolePermission(w, r, id, role)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFromRequest(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	// The payload is read straight into memory and handed to the seal
	// engine; it never touches a temp file.
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	plaintext, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file", http.StatusBadRequest)
		return
	}

	in := service.UploadInput{
		Name:        r.FormValue("name"),
		AccessLevel: model.AccessLevel(r.FormValue("access_level")),
		Status:      model.Status(r.FormValue("status")),
	}
	if v := r.FormValue("folder_id"); v != "" {
		in.FolderID = &v
	}
	if v := r.FormValue("parent_version_id"); v != "" {
		in.ParentVersionID = &v
	}
	if ts, ok := parseTime(r.FormValue("effective_date")); ok {
		in.EffectiveDate = &ts
	}
	if ts, ok := parseTime(r.FormValue("expiry_date")); ok {
		in.ExpiryDate = &ts
	}

	doc, err := s.svc.Upload(ctx, actor, in, plaintext)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.ListVisible(r.Context(), actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := s.svc.GetMetadata(r.Context(), actorFromRequest(r), id, accessContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	capability, err := model.ParseCapability(defaultString(r.URL.Query().Get("capability"), "download"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plaintext, doc, err := s.svc.Retrieve(r.Context(), actorFromRequest(r), id, capability, accessContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plaintext)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.svc.DeleteDocument(r.Context(), actorFromRequest(r), id, accessContext(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	UserID       string              `json:"userId"`
	Capabilities model.CapabilitySet `json:"capabilities"`
	ExpiresAt    *time.Time          `json:"expiresAt,omitempty"`
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request, id, target string) {
	actor := actorFromRequest(r)
	switch r.Method {
	case http.MethodPost:
		var req grantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		grant, err := s.svc.GrantUserAccess(r.Context(), actor, id, req.UserID, req.Capabilities, req.ExpiresAt, accessContext(r))
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, grant)
	case http.MethodDelete:
		if err := s.svc.RevokeUserAccess(r.Context(), actor, id, target, accessContext(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type rolePermissionRequest struct {
	Capabilities model.CapabilitySet `json:"capabilities"`
}

func (s *Server) handleRolePermission(w http.ResponseWriter, r *http.Request, id, role string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rolePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	perm, err := s.svc.SetRolePermission(r.Context(), actorFromRequest(r), id, model.Role(role), req.Capabilities, accessContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, perm)
}

type folderRequest struct {
	Name        string  `json:"name"`
	ParentID    *string `json:"parentId,omitempty"`
	AccessLevel string  `json:"accessLevel"`
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	folder, err := s.svc.CreateFolder(r.Context(), actorFromRequest(r), req.Name, req.ParentID, model.AccessLevel(req.AccessLevel))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, folder)
}

type folderResponse struct {
	*model.Folder
	Path string `json:"path"`
}

func (s *Server) handleFolderRoute(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/folders/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		folder, path, err := s.svc.GetFolder(r.Context(), actorFromRequest(r), id)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, folderResponse{Folder: folder, Path: path})
	case http.MethodDelete:
		if err := s.svc.DeleteFolder(r.Context(), actorFromRequest(r), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// actorFromRequest reads the identity the authenticating gateway attached.
// The service never authenticates; it trusts these headers at this boundary.
func actorFromRequest(r *http.Request) model.Actor {
	actor := model.Actor{
		ID:        r.Header.Get("X-Actor-Id"),
		Superuser: r.Header.Get("X-Actor-Superuser") == "true",
	}
	if raw := r.Header.Get("X-Actor-Groups"); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				actor.Groups = append(actor.Groups, g)
			}
		}
	}
	return actor
}

func accessContext(r *http.Request) model.AccessContext {
	return model.AccessContext{
		Origin: r.RemoteAddr,
		Client: r.UserAgent(),
	}
}

// writeError maps service error kinds to status codes. Denied and missing
// documents share one 404 response so callers cannot probe for existence.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrDenied), errors.Is(err, service.ErrNotFound):
		http.Error(w, "document not found", http.StatusNotFound)
	case errors.Is(err, service.ErrAuditUnavailable), errors.Is(err, service.ErrStoreUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, service.ErrIntegrity):
		http.Error(w, "payload unavailable", http.StatusInternalServerError)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
