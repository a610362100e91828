package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"holectl/internal/domain"
	"holectl/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAuth is an appliance /auth endpoint that counts logins.
type fakeAuth struct {
	logins atomic.Int32
	status int
	body   string
	delay  time.Duration
}

func (f *fakeAuth) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		f.logins.Add(1)
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		body := f.body
		if body == "" {
			body = `{"session":{"valid":true,"sid":"fresh-sid","validity":1800}}`
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, srv *httptest.Server, store domain.TokenStore) *Manager {
	t.Helper()
	client := transport.New(transport.Config{BaseURL: srv.URL + "/api", Logger: testLogger()})
	return NewManager(ManagerConfig{
		Store:     store,
		Client:    client,
		Password:  "hunter2",
		Freshness: 250 * time.Second,
		Logger:    testLogger(),
	})
}

// --- FileStore ---

func TestFileStore_MissingIsAbsent(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "sid"), 250*time.Second, testLogger())
	if _, ok := s.Load(context.Background()); ok {
		t.Fatal("expected absent for missing file")
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sid")
	s := NewFileStore(path, 250*time.Second, testLogger())
	ctx := context.Background()

	if err := s.Save(ctx, domain.SessionToken{Value: "vFA+EP4MQ5JJvJg+3Q2Jnw=", AcquiredAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tok, ok := s.Load(ctx)
	if !ok {
		t.Fatal("expected token after save")
	}
	if tok.Value != "vFA+EP4MQ5JJvJg+3Q2Jnw=" {
		t.Fatalf("unexpected value %q", tok.Value)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestFileStore_SaveOverwritesSingleSlot(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "sid"), 250*time.Second, testLogger())
	ctx := context.Background()
	s.Save(ctx, domain.SessionToken{Value: "first"})
	s.Save(ctx, domain.SessionToken{Value: "second"})

	tok, ok := s.Load(ctx)
	if !ok || tok.Value != "second" {
		t.Fatalf("expected second token, got %q ok=%v", tok.Value, ok)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the token file, found %v", names)
	}
}

func TestFileStore_StaleIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sid")
	s := NewFileStore(path, 250*time.Second, testLogger())
	ctx := context.Background()
	s.Save(ctx, domain.SessionToken{Value: "old-sid"})

	past := time.Now().Add(-251 * time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Load(ctx); ok {
		t.Fatal("expected token older than the window to be absent")
	}
}

func TestFileStore_ExactlyAtWindowIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sid")
	s := NewFileStore(path, 250*time.Second, testLogger())
	s.Save(context.Background(), domain.SessionToken{Value: "edge"})

	info, _ := os.Stat(path)
	s.now = func() time.Time { return info.ModTime().Add(250 * time.Second) }
	if _, ok := s.Load(context.Background()); ok {
		t.Fatal("age == window must not be reused")
	}
	s.now = func() time.Time { return info.ModTime().Add(249 * time.Second) }
	if _, ok := s.Load(context.Background()); !ok {
		t.Fatal("age < window should be reused")
	}
}

func TestFileStore_TornOrGarbageIsAbsent(t *testing.T) {
	for name, content := range map[string]string{
		"empty":      "",
		"whitespace": "  \n",
		"torn":       "abc\x00\x00",
		"two words":  "abc def",
		"binary":     "\xff\xfe\xfd",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sid")
			os.WriteFile(path, []byte(content), 0o600)
			s := NewFileStore(path, 250*time.Second, testLogger())
			if _, ok := s.Load(context.Background()); ok {
				t.Fatalf("expected %q to be treated as absent", content)
			}
		})
	}
}

func TestFileStore_DirectoryInPlaceIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sid")
	os.Mkdir(path, 0o700)
	s := NewFileStore(path, 250*time.Second, testLogger())
	if _, ok := s.Load(context.Background()); ok {
		t.Fatal("expected unreadable record to be absent")
	}
}

func TestFileStore_Clear(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "sid"), 250*time.Second, testLogger())
	ctx := context.Background()
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear on missing file: %v", err)
	}
	s.Save(ctx, domain.SessionToken{Value: "x"})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s.Load(ctx); ok {
		t.Fatal("expected absent after clear")
	}
}

// --- MemoryStore ---

func TestMemoryStore_Freshness(t *testing.T) {
	s := NewMemoryStore(250 * time.Second)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	if _, ok := s.Load(ctx); ok {
		t.Fatal("expected empty slot")
	}
	s.Save(ctx, domain.SessionToken{Value: "a", AcquiredAt: base})
	if _, ok := s.Load(ctx); !ok {
		t.Fatal("expected fresh token")
	}
	s.now = func() time.Time { return base.Add(250 * time.Second) }
	if _, ok := s.Load(ctx); ok {
		t.Fatal("expected stale token to be absent")
	}
}

// --- Manager ---

func TestEnsureSession_WarmCacheNoLogin(t *testing.T) {
	fa := &fakeAuth{}
	srv := fa.server(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "sid"), 250*time.Second, testLogger())
	store.Save(context.Background(), domain.SessionToken{Value: "cached-sid"})

	m := newTestManager(t, srv, store)
	tok, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if tok.Value != "cached-sid" {
		t.Fatalf("expected cached sid, got %q", tok.Value)
	}
	if n := fa.logins.Load(); n != 0 {
		t.Fatalf("expected 0 logins with warm cache, got %d", n)
	}
}

func TestEnsureSession_ColdCacheLogsInOnce(t *testing.T) {
	fa := &fakeAuth{}
	srv := fa.server(t)
	path := filepath.Join(t.TempDir(), "sid")
	store := NewFileStore(path, 250*time.Second, testLogger())

	m := newTestManager(t, srv, store)
	tok, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if tok.Value != "fresh-sid" {
		t.Fatalf("expected fresh sid, got %q", tok.Value)
	}
	if n := fa.logins.Load(); n != 1 {
		t.Fatalf("expected exactly 1 login, got %d", n)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "fresh-sid" {
		t.Fatalf("expected sid persisted, got %q", data)
	}

	// Second call in the same run reuses the persisted token.
	if _, err := m.EnsureSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := fa.logins.Load(); n != 1 {
		t.Fatalf("expected still 1 login, got %d", n)
	}
}

func TestEnsureSession_StaleCacheLogsInOnce(t *testing.T) {
	fa := &fakeAuth{}
	srv := fa.server(t)
	path := filepath.Join(t.TempDir(), "sid")
	store := NewFileStore(path, 250*time.Second, testLogger())
	store.Save(context.Background(), domain.SessionToken{Value: "old-sid"})
	past := time.Now().Add(-10 * time.Minute)
	os.Chtimes(path, past, past)

	m := newTestManager(t, srv, store)
	tok, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if tok.Value != "fresh-sid" {
		t.Fatalf("expected fresh sid, got %q", tok.Value)
	}
	if n := fa.logins.Load(); n != 1 {
		t.Fatalf("expected exactly 1 login, got %d", n)
	}
}

func TestEnsureSession_LoginRejected(t *testing.T) {
	fa := &fakeAuth{status: http.StatusUnauthorized, body: `{"session":{"valid":false,"sid":null,"message":"password incorrect"}}`}
	srv := fa.server(t)
	m := newTestManager(t, srv, NewMemoryStore(250*time.Second))

	_, err := m.EnsureSession(context.Background())
	var ae *domain.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if ae.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", ae.Status)
	}
}

func TestEnsureSession_MalformedLoginBody(t *testing.T) {
	fa := &fakeAuth{body: "<html>captive portal</html>"}
	srv := fa.server(t)
	m := newTestManager(t, srv, NewMemoryStore(250*time.Second))

	_, err := m.EnsureSession(context.Background())
	if domain.KindOf(err) != domain.KindAuth {
		t.Fatalf("expected auth error kind, got %v", err)
	}
}

func TestEnsureSession_MissingSID(t *testing.T) {
	fa := &fakeAuth{body: `{"session":{"valid":true,"sid":null,"message":"no password set"}}`}
	srv := fa.server(t)
	m := newTestManager(t, srv, NewMemoryStore(250*time.Second))

	if _, err := m.EnsureSession(context.Background()); err == nil {
		t.Fatal("expected error when the appliance issues no sid")
	}
}

func TestEnsureSession_UnreachableIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	m := newTestManager(t, srv, NewMemoryStore(250*time.Second))

	_, err := m.EnsureSession(context.Background())
	var ae *domain.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected wrapped TransportError, got %v", err)
	}
}

// failingStore can never persist.
type failingStore struct{ *MemoryStore }

func (f *failingStore) Save(ctx context.Context, tok domain.SessionToken) error {
	return errors.New("disk full")
}

func TestEnsureSession_SaveFailureStillReturnsToken(t *testing.T) {
	fa := &fakeAuth{}
	srv := fa.server(t)
	store := &failingStore{NewMemoryStore(250 * time.Second)}
	m := newTestManager(t, srv, store)

	tok, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("persistence failure must not fail the login: %v", err)
	}
	if tok.Value != "fresh-sid" {
		t.Fatalf("expected fresh sid, got %q", tok.Value)
	}
}

func TestEnsureSession_ConcurrentColdCallersShareOneLogin(t *testing.T) {
	fa := &fakeAuth{delay: 50 * time.Millisecond}
	srv := fa.server(t)
	m := newTestManager(t, srv, NewMemoryStore(250*time.Second))

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.EnsureSession(context.Background())
			if err == nil && tok.Value != "fresh-sid" {
				err = errors.New("unexpected sid " + tok.Value)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := fa.logins.Load(); n != 1 {
		t.Fatalf("expected exactly 1 login for concurrent callers, got %d", n)
	}
}

func TestEnsureSession_CancelledCallerDoesNotFailSharedLogin(t *testing.T) {
	var logins atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		once.Do(func() { close(started) })
		<-release
		io.WriteString(w, `{"session":{"valid":true,"sid":"shared-sid","validity":1800}}`)
	}))
	t.Cleanup(srv.Close)
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	store := NewMemoryStore(250 * time.Second)
	m := newTestManager(t, srv, store)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := m.EnsureSession(ctxA)
		errA <- err
	}()
	<-started

	type outcome struct {
		tok domain.SessionToken
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		tok, err := m.EnsureSession(context.Background())
		doneB <- outcome{tok, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
	}

	close(release)
	b := <-doneB
	if b.err != nil {
		t.Fatalf("live caller failed: %v", b.err)
	}
	if b.tok.Value != "shared-sid" {
		t.Fatalf("expected shared-sid, got %q", b.tok.Value)
	}
	if n := logins.Load(); n != 1 {
		t.Fatalf("expected 1 login, got %d", n)
	}
	if tok, ok := store.Load(context.Background()); !ok || tok.Value != "shared-sid" {
		t.Fatalf("expected the login to be cached, got %+v %v", tok, ok)
	}
}

func TestEnsureSession_LoginTimeoutBoundsDetachedLogin(t *testing.T) {
	fa := &fakeAuth{delay: 500 * time.Millisecond}
	srv := fa.server(t)
	client := transport.New(transport.Config{BaseURL: srv.URL + "/api", Logger: testLogger()})
	m := NewManager(ManagerConfig{
		Store:        NewMemoryStore(250 * time.Second),
		Client:       client,
		Password:     "hunter2",
		Freshness:    250 * time.Second,
		LoginTimeout: 50 * time.Millisecond,
		Logger:       testLogger(),
	})

	_, err := m.EnsureSession(context.Background())
	if domain.KindOf(err) != domain.KindAuth {
		t.Fatalf("expected auth error after login timeout, got %v", err)
	}
}

func TestInvalidate_OnlyClearsStaleToken(t *testing.T) {
	store := NewMemoryStore(250 * time.Second)
	m := NewManager(ManagerConfig{Store: store, Logger: testLogger()})
	ctx := context.Background()

	store.Save(ctx, domain.SessionToken{Value: "newer", AcquiredAt: time.Now()})
	m.Invalidate(ctx, domain.SessionToken{Value: "older"})
	if tok, ok := store.Load(ctx); !ok || tok.Value != "newer" {
		t.Fatal("invalidating an older token must keep the newer one")
	}

	m.Invalidate(ctx, domain.SessionToken{Value: "newer"})
	if _, ok := store.Load(ctx); ok {
		t.Fatal("expected slot cleared")
	}
}
