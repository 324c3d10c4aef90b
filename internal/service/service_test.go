package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sealbox/sealbox/internal/audit"
	"github.com/sealbox/sealbox/internal/blobstore"
	"github.com/sealbox/sealbox/internal/memstore"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/seal"
)

var (
	owner    = model.Actor{ID: "alice"}
	stranger = model.Actor{ID: "bob"}
	hrActor  = model.Actor{ID: "carol", Groups: []string{"hr"}}
	rootUser = model.Actor{ID: "root", Superuser: true}
)

type fixture struct {
	svc    *Service
	store  *memstore.Store
	engine *seal.Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	engine := mustEngine(t)
	store := memstore.New()
	recorder := audit.NewRecorder(store, []byte("audit-secret"))
	svc := New(store, store, store.Folders(), store, engine, recorder, opts)
	return &fixture{svc: svc, store: store, engine: engine}
}

func (f *fixture) upload(t *testing.T, level model.AccessLevel, plaintext []byte) *model.Document {
	t.Helper()
	doc, err := f.svc.Upload(context.Background(), owner, UploadInput{
		Name:        "q3-budget.xlsx",
		AccessLevel: level,
	}, plaintext)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return doc
}

func lastEntry(t *testing.T, store *memstore.Store) model.AccessLogEntry {
	t.Helper()
	entries := store.Entries()
	if len(entries) == 0 {
		t.Fatal("expected at least one audit entry")
	}
	return entries[len(entries)-1]
}

func TestUploadSealsPayload(t *testing.T) {
	f := newFixture(t, Options{})
	plaintext := []byte("salary data")
	doc := f.upload(t, model.LevelConfidential, plaintext)

	if !doc.Sealed {
		t.Fatal("document not marked sealed")
	}
	if len(doc.Nonce) != seal.NonceSize {
		t.Fatalf("nonce length = %d, want %d", len(doc.Nonce), seal.NonceSize)
	}
	stored, err := f.store.Get(context.Background(), doc.PayloadKey)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	if bytes.Contains(stored, plaintext) {
		t.Fatal("plaintext leaked into the byte store")
	}

	got, _, err := f.svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("retrieved payload differs from upload")
	}
}

func TestConfidentialDenialIsAudited(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	_, _, err := f.svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{Origin: "10.0.0.9"})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	entry := lastEntry(t, f.store)
	if entry.Action != model.ActionAccessDenied || entry.Success {
		t.Fatalf("audit entry = %s success=%t, want access_denied success=false", entry.Action, entry.Success)
	}
	if entry.ActorID != stranger.ID || entry.Context.Origin != "10.0.0.9" {
		t.Fatalf("audit context not captured: %+v", entry)
	}
	got, err := f.store.GetActive(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if got.DownloadCount != 0 {
		t.Fatalf("download count = %d after denial, want 0", got.DownloadCount)
	}
}

func TestRolePermissionGrantsAccess(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	_, err := f.svc.SetRolePermission(context.Background(), owner, doc.ID, model.RoleHR,
		model.CapabilitySet{Read: true, Download: true}, model.AccessContext{})
	if err != nil {
		t.Fatalf("set role permission: %v", err)
	}
	if _, _, err := f.svc.Retrieve(context.Background(), hrActor, doc.ID, model.CapRead, model.AccessContext{}); err != nil {
		t.Fatalf("hr read after role grant: %v", err)
	}
	if _, _, err := f.svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{}); !errors.Is(err, ErrDenied) {
		t.Fatalf("stranger read = %v, want ErrDenied", err)
	}
}

func TestExpiredGrantDenies(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelRestricted, []byte("payload"))

	past := time.Now().Add(-time.Minute)
	if _, err := f.svc.GrantUserAccess(context.Background(), owner, doc.ID, stranger.ID,
		model.CapabilitySet{Read: true, Download: true}, &past, model.AccessContext{}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, _, err := f.svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{}); !errors.Is(err, ErrDenied) {
		t.Fatalf("retrieve with expired grant = %v, want ErrDenied", err)
	}
	// The row must survive expiry; only explicit revocation deletes it.
	if _, err := f.store.UserGrant(context.Background(), doc.ID, stranger.ID); err != nil {
		t.Fatalf("expired grant row missing: %v", err)
	}
}

func TestRevokeDeletesGrant(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelRestricted, []byte("payload"))

	if _, err := f.svc.GrantUserAccess(context.Background(), owner, doc.ID, stranger.ID,
		model.CapabilitySet{Read: true}, nil, model.AccessContext{}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, _, err := f.svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{}); err != nil {
		t.Fatalf("retrieve with grant: %v", err)
	}
	if err := f.svc.RevokeUserAccess(context.Background(), owner, doc.ID, stranger.ID, model.AccessContext{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.store.UserGrant(context.Background(), doc.ID, stranger.ID); err == nil {
		t.Fatal("grant row still present after revoke")
	}
	if _, _, err := f.svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{}); !errors.Is(err, ErrDenied) {
		t.Fatalf("retrieve after revoke = %v, want ErrDenied", err)
	}
}

func TestGrantManagementRequiresOwnerOrSuperuser(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	_, err := f.svc.GrantUserAccess(context.Background(), stranger, doc.ID, "dave",
		model.CapabilitySet{Read: true}, nil, model.AccessContext{})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("grant by non-owner = %v, want ErrDenied", err)
	}
	entry := lastEntry(t, f.store)
	if entry.Action != model.ActionAccessDenied {
		t.Fatalf("denied grant attempt audited as %s", entry.Action)
	}
	if _, err := f.svc.GrantUserAccess(context.Background(), rootUser, doc.ID, "dave",
		model.CapabilitySet{Read: true}, nil, model.AccessContext{}); err != nil {
		t.Fatalf("grant by superuser: %v", err)
	}
}

func TestConcurrentDownloadsCountExactly(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent retrieve: %v", err)
		}
	}
	got, err := f.store.GetActive(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if got.DownloadCount != n {
		t.Fatalf("download count = %d, want %d", got.DownloadCount, n)
	}
}

func TestTamperedPayloadIsIntegrityFailure(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	stored, err := f.store.Get(context.Background(), doc.PayloadKey)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	stored[0] ^= 0x01
	if err := f.store.Put(context.Background(), doc.PayloadKey, stored); err != nil {
		t.Fatalf("put tampered blob: %v", err)
	}

	_, _, err = f.svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
	entry := lastEntry(t, f.store)
	if entry.Action != model.ActionIntegrityFailure || entry.Success {
		t.Fatalf("audit entry = %s success=%t, want integrity_failure success=false", entry.Action, entry.Success)
	}
	got, err := f.store.GetActive(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if got.DownloadCount != 0 {
		t.Fatalf("download count = %d after integrity failure, want 0", got.DownloadCount)
	}
}

// brokenSink simulates an unreachable audit store.
type brokenSink struct{}

func (brokenSink) Append(ctx context.Context, e *model.AccessLogEntry) error {
	return errors.New("connection refused")
}

func newBrokenAuditFixture(t *testing.T, opts Options) (*Service, *model.Document) {
	t.Helper()
	engine := mustEngine(t)
	store := memstore.New()
	svc := New(store, store, store.Folders(), store, engine,
		audit.NewRecorder(brokenSink{}, []byte("audit-secret")), opts)
	doc, err := svc.Upload(context.Background(), owner, UploadInput{
		Name:        "q3-budget.xlsx",
		AccessLevel: model.LevelConfidential,
	}, []byte("payload"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return svc, doc
}

func TestAuditFailureClosedByDefault(t *testing.T) {
	svc, doc := newBrokenAuditFixture(t, Options{})

	// An allowed retrieval that cannot be audited must not release bytes.
	_, _, err := svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{})
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("allow with dead audit sink = %v, want ErrAuditUnavailable", err)
	}
	// Same for a denial.
	_, _, err = svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{})
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("deny with dead audit sink = %v, want ErrAuditUnavailable", err)
	}
}

func TestAuditFailureOpenWhenConfigured(t *testing.T) {
	svc, doc := newBrokenAuditFixture(t, Options{AuditFailOpen: true})

	got, _, err := svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{})
	if err != nil {
		t.Fatalf("fail-open retrieve = %v, want success", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Fatal("fail-open retrieve returned wrong payload")
	}
	// Fail-open changes the audit outcome, not the policy outcome.
	if _, _, err := svc.Retrieve(context.Background(), stranger, doc.ID, model.CapRead, model.AccessContext{}); !errors.Is(err, ErrDenied) {
		t.Fatalf("fail-open deny = %v, want ErrDenied", err)
	}
}

func mustEngine(t *testing.T) *seal.Engine {
	t.Helper()
	key := make([]byte, seal.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e, err := seal.NewEngine(seal.StaticKey(key))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestSoftDeleteHidesDocument(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	if err := f.svc.DeleteDocument(context.Background(), owner, doc.ID, model.AccessContext{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := f.svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retrieve after delete = %v, want ErrNotFound", err)
	}
	// The payload stays sealed in the store; only the row went inactive.
	if _, err := f.store.Get(context.Background(), doc.PayloadKey); err != nil {
		t.Fatalf("sealed payload removed on soft delete: %v", err)
	}
}

func TestListVisibleUsesEvaluator(t *testing.T) {
	f := newFixture(t, Options{})
	public := f.upload(t, model.LevelPublic, []byte("a"))
	secret := f.upload(t, model.LevelConfidential, []byte("b"))
	internal := f.upload(t, model.LevelInternal, []byte("c"))

	docs, err := f.svc.ListVisible(context.Background(), stranger)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make(map[string]bool, len(docs))
	for _, d := range docs {
		ids[d.ID] = true
	}
	if !ids[public.ID] || !ids[internal.ID] || ids[secret.ID] {
		t.Fatalf("visible set wrong: %v", ids)
	}

	all, err := f.svc.ListVisible(context.Background(), owner)
	if err != nil {
		t.Fatalf("list as owner: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("owner sees %d documents, want 3", len(all))
	}
}

func TestMalformedCapabilityFailsFast(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))
	before := len(f.store.Entries())

	_, _, err := f.svc.Retrieve(context.Background(), owner, doc.ID, model.Capability("exfiltrate"), model.AccessContext{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if got := len(f.store.Entries()); got != before {
		t.Fatalf("validation failure produced %d audit entries", got-before)
	}
}

func TestVersionChain(t *testing.T) {
	f := newFixture(t, Options{})
	v1 := f.upload(t, model.LevelConfidential, []byte("first draft"))

	v2, err := f.svc.Upload(context.Background(), owner, UploadInput{
		Name:            "q3-budget.xlsx",
		AccessLevel:     model.LevelConfidential,
		ParentVersionID: &v1.ID,
	}, []byte("second draft"))
	if err != nil {
		t.Fatalf("upload v2: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("version = %d, want 2", v2.Version)
	}
	if v2.ParentVersionID == nil || *v2.ParentVersionID != v1.ID {
		t.Fatal("parent version link missing")
	}

	// A non-owner cannot fork someone else's version chain.
	_, err = f.svc.Upload(context.Background(), stranger, UploadInput{
		Name:            "q3-budget.xlsx",
		AccessLevel:     model.LevelConfidential,
		ParentVersionID: &v1.ID,
	}, []byte("evil draft"))
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("fork by stranger = %v, want ErrDenied", err)
	}
}

func TestFolderLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	root, err := f.svc.CreateFolder(ctx, owner, "finance", nil, model.LevelConfidential)
	if err != nil {
		t.Fatalf("create root folder: %v", err)
	}
	child, err := f.svc.CreateFolder(ctx, owner, "2026", &root.ID, model.LevelConfidential)
	if err != nil {
		t.Fatalf("create child folder: %v", err)
	}

	_, path, err := f.svc.GetFolder(ctx, owner, child.ID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if path != "/finance/2026" {
		t.Fatalf("path = %q, want /finance/2026", path)
	}

	doc, err := f.svc.Upload(ctx, owner, UploadInput{
		Name:        "q3-budget.xlsx",
		AccessLevel: model.LevelConfidential,
		FolderID:    &child.ID,
	}, []byte("payload"))
	if err != nil {
		t.Fatalf("upload into folder: %v", err)
	}

	if err := f.svc.DeleteFolder(ctx, stranger, child.ID); !errors.Is(err, ErrDenied) {
		t.Fatalf("delete by non-owner = %v, want ErrDenied", err)
	}
	if err := f.svc.DeleteFolder(ctx, owner, child.ID); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	if _, _, err := f.svc.GetFolder(ctx, owner, child.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted folder = %v, want ErrNotFound", err)
	}
	// Documents inside survive the folder's soft delete.
	if _, _, err := f.svc.Retrieve(ctx, owner, doc.ID, model.CapDownload, model.AccessContext{}); err != nil {
		t.Fatalf("retrieve after folder delete: %v", err)
	}
}

func TestStoreRetrySucceedsAfterTransientFailure(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, model.LevelConfidential, []byte("payload"))

	recorder := audit.NewRecorder(f.store, []byte("audit-secret"))
	flaky := &flakyBlobs{inner: f.store, failures: 2}
	svc := New(f.store, f.store, f.store.Folders(), flaky, f.engine, recorder, Options{StoreRetries: 3})
	if _, _, err := svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{}); err != nil {
		t.Fatalf("retrieve with transient store failures: %v", err)
	}

	exhausted := &flakyBlobs{inner: f.store, failures: 10}
	svc = New(f.store, f.store, f.store.Folders(), exhausted, f.engine, recorder, Options{StoreRetries: 2})
	if _, _, err := svc.Retrieve(context.Background(), owner, doc.ID, model.CapDownload, model.AccessContext{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("retrieve with dead store = %v, want ErrStoreUnavailable", err)
	}
}

type flakyBlobs struct {
	mu       sync.Mutex
	inner    BlobStore
	failures int
}

func (f *flakyBlobs) Put(ctx context.Context, key string, ciphertext []byte) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Put(ctx, key, ciphertext)
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyBlobs) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return blobstore.ErrUnavailable
	}
	return nil
}
