package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sealbox/sealbox/internal/audit"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/memstore"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/seal"
	"github.com/sealbox/sealbox/internal/service"
)

func newTestServer(t *testing.T) (*Server, *model.Document) {
	t.Helper()
	key := make([]byte, seal.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	engine, err := seal.NewEngine(seal.StaticKey(key))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	store := memstore.New()
	recorder := audit.NewRecorder(store, []byte("audit-secret"))
	svc := service.New(store, store, store.Folders(), store, engine, recorder, service.Options{})

	doc, err := svc.Upload(context.Background(), model.Actor{ID: "alice"}, service.UploadInput{
		Name:        "report.pdf",
		AccessLevel: model.LevelConfidential,
	}, []byte("quarterly numbers"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	cfg := &config.Config{Address: ":0", MaxUploadBytes: 1 << 20}
	return New(cfg, svc), doc
}

func TestActorFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("X-Actor-Id", "carol")
	req.Header.Set("X-Actor-Superuser", "false")
	req.Header.Set("X-Actor-Groups", "hr, legal ,")
	actor := actorFromRequest(req)
	if actor.ID != "carol" || actor.Superuser {
		t.Fatalf("actor = %+v", actor)
	}
	if len(actor.Groups) != 2 || actor.Groups[0] != "hr" || actor.Groups[1] != "legal" {
		t.Fatalf("groups = %v", actor.Groups)
	}
}

func TestDeniedAndMissingAreIndistinguishable(t *testing.T) {
	srv, doc := newTestServer(t)

	get := func(id, actorID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/documents/"+id+"/content", nil)
		if actorID != "" {
			req.Header.Set("X-Actor-Id", actorID)
		}
		w := httptest.NewRecorder()
		srv.handleDocumentRoute(w, req)
		return w
	}

	denied := get(doc.ID, "bob")
	missing := get("no-such-document", "bob")
	if denied.Code != http.StatusNotFound || missing.Code != http.StatusNotFound {
		t.Fatalf("denied = %d, missing = %d, both should be 404", denied.Code, missing.Code)
	}
	if denied.Body.String() != missing.Body.String() {
		t.Fatal("denied and missing responses differ; existence is leaking")
	}

	allowed := get(doc.ID, "alice")
	if allowed.Code != http.StatusOK {
		t.Fatalf("owner download = %d, want 200", allowed.Code)
	}
	if !bytes.Equal(allowed.Body.Bytes(), []byte("quarterly numbers")) {
		t.Fatal("owner download returned wrong payload")
	}
}

func TestMalformedCapabilityRejected(t *testing.T) {
	srv, doc := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/documents/"+doc.ID+"/content?capability=steal", nil)
	req.Header.Set("X-Actor-Id", "alice")
	w := httptest.NewRecorder()
	srv.handleDocumentRoute(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
