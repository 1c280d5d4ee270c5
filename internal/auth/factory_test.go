package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// flowFunc adapts a function to the Flow interface for tests.
type flowFunc func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

func (f flowFunc) Token(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	return f(ctx, cfg)
}

// writeSecretFile writes a desktop-app client secret descriptor whose token
// endpoint points at the given URL.
func writeSecretFile(t *testing.T, dir, tokenURL string) string {
	t.Helper()
	secret := fmt.Sprintf(`{
  "installed": {
    "client_id": "test-client",
    "client_secret": "test-secret",
    "auth_uri": "https://accounts.example.com/auth",
    "token_uri": %q,
    "redirect_uris": ["http://localhost"]
  }
}`, tokenURL)
	path := filepath.Join(dir, "client_secret.json")
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		t.Fatalf("write client secret: %v", err)
	}
	return path
}

func newTestFactory(t *testing.T, dir, tokenURL string, flow Flow) *Factory {
	t.Helper()
	f, err := New(Options{
		ClientSecretPath: writeSecretFile(t, dir, tokenURL),
		TokenPath:        filepath.Join(dir, ".oauth_token.json"),
		Scopes:           []string{"https://www.googleapis.com/auth/datastore"},
		SafetyMargin:     30 * time.Second,
		Timeout:          5 * time.Second,
		Flow:             flow,
		MaxRetries:       1,
		RetryInterval:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func noFlow(t *testing.T) Flow {
	return flowFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		t.Fatal("interactive flow must not run")
		return nil, nil
	})
}

func TestNewMissingSecretFile(t *testing.T) {
	_, err := New(Options{
		ClientSecretPath: filepath.Join(t.TempDir(), "absent.json"),
		TokenPath:        filepath.Join(t.TempDir(), "token.json"),
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewMalformedSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client_secret.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := New(Options{ClientSecretPath: path, TokenPath: filepath.Join(dir, "t.json")})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

// TestTokenCachedValid verifies the zero-network fast path: a cached token
// beyond the safety margin is reused without any endpoint call or write.
func TestTokenCachedValid(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, "unexpected call", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, noFlow(t))

	rec := &Record{
		AccessToken:  "A",
		RefreshToken: "R",
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       []string{"https://www.googleapis.com/auth/datastore"},
	}
	if err := f.Cache().Write(rec); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	before, err := os.Stat(f.Cache().Path())
	if err != nil {
		t.Fatalf("stat cache: %v", err)
	}

	tok, err := f.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "A" {
		t.Fatalf("expected cached token A, got %q", tok.AccessToken)
	}
	if n := atomic.LoadInt64(&hits); n != 0 {
		t.Fatalf("expected zero network calls, got %d", n)
	}
	after, err := os.Stat(f.Cache().Path())
	if err != nil {
		t.Fatalf("stat cache: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Fatal("cache file must not be rewritten on the fast path")
	}
}

// TestTokenRefreshExpired covers the silent refresh path: an expired access
// token with a refresh token yields exactly one token-endpoint call and a
// persisted, updated record.
func TestTokenRefreshExpired(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Form.Get("refresh_token"); got != "R" {
			t.Errorf("refresh_token = %q, want R", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"B","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, noFlow(t))

	seed := &Record{AccessToken: "A", RefreshToken: "R", Expiry: time.Now().Add(-10 * time.Second)}
	if err := f.Cache().Write(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	tok, err := f.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "B" {
		t.Fatalf("expected refreshed token B, got %q", tok.AccessToken)
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", n)
	}

	rec, err := f.Cache().Read()
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if rec.AccessToken != "B" {
		t.Fatalf("persisted access token = %q, want B", rec.AccessToken)
	}
	if rec.RefreshToken != "R" {
		t.Fatalf("refresh token must be preserved, got %q", rec.RefreshToken)
	}
	if !rec.Expiry.After(time.Now().Add(30 * time.Minute)) {
		t.Fatalf("persisted expiry too soon: %v", rec.Expiry)
	}
}

// TestTokenRefreshInsideMargin covers the not-yet-expired refresh path: a
// token whose expiry is in the future but inside the safety margin must be
// exchanged, not reused, with exactly one endpoint call.
func TestTokenRefreshInsideMargin(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"B","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, noFlow(t))

	// 15s of validity left against a 30s margin.
	seed := &Record{AccessToken: "A", RefreshToken: "R", Expiry: time.Now().Add(15 * time.Second)}
	if err := f.Cache().Write(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	tok, err := f.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "B" {
		t.Fatalf("expected refreshed token B, got %q", tok.AccessToken)
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", n)
	}

	rec, err := f.Cache().Read()
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if rec.AccessToken != "B" || rec.RefreshToken != "R" {
		t.Fatalf("persisted record = %+v, want refreshed B with R preserved", rec)
	}
	if !rec.ValidFor(30 * time.Second) {
		t.Fatalf("persisted expiry still inside the margin: %v", rec.Expiry)
	}
}

// TestTokenRevokedGrantFallsBack verifies that an invalid_grant rejection
// triggers the interactive flow instead of surfacing an error.
func TestTokenRevokedGrantFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	var flowCalls int64
	flow := flowFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		atomic.AddInt64(&flowCalls, 1)
		return &oauth2.Token{
			AccessToken:  "fresh",
			RefreshToken: "fresh-refresh",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	})

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, flow)
	seed := &Record{AccessToken: "A", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Minute)}
	if err := f.Cache().Write(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	tok, err := f.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Fatalf("expected flow token, got %q", tok.AccessToken)
	}
	if n := atomic.LoadInt64(&flowCalls); n != 1 {
		t.Fatalf("expected exactly one interactive flow, got %d", n)
	}
	rec, err := f.Cache().Read()
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if rec.AccessToken != "fresh" || rec.RefreshToken != "fresh-refresh" {
		t.Fatalf("flow token not persisted: %+v", rec)
	}
}

// TestTokenRefreshRejectedSurfaces verifies that provider rejections other
// than a revoked grant propagate as ErrRefresh without interactive fallback.
func TestTokenRefreshRejectedSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, noFlow(t))
	seed := &Record{AccessToken: "A", RefreshToken: "R", Expiry: time.Now().Add(-time.Minute)}
	if err := f.Cache().Write(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	_, err := f.Token(context.Background())
	if !errors.Is(err, ErrRefresh) {
		t.Fatalf("expected ErrRefresh, got %v", err)
	}

	// The prior record must survive the failed refresh untouched.
	rec, rerr := f.Cache().Read()
	if rerr != nil {
		t.Fatalf("read cache: %v", rerr)
	}
	if rec.AccessToken != "A" || rec.RefreshToken != "R" {
		t.Fatalf("cache modified by failed refresh: %+v", rec)
	}
}

// TestTokenRefreshRetriesTransient verifies bounded retries on 5xx before
// succeeding.
func TestTokenRefreshRetriesTransient(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"B","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, noFlow(t))
	seed := &Record{AccessToken: "A", RefreshToken: "R", Expiry: time.Now().Add(-time.Minute)}
	if err := f.Cache().Write(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	tok, err := f.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "B" {
		t.Fatalf("expected B after retry, got %q", tok.AccessToken)
	}
	if n := atomic.LoadInt64(&hits); n != 2 {
		t.Fatalf("expected 2 endpoint calls, got %d", n)
	}
}

// TestTokenNoRecordRunsFlowOnce verifies first-run behaviour: no cache file
// triggers exactly one interactive authorization, and subsequent calls hit
// the cache.
func TestTokenNoRecordRunsFlowOnce(t *testing.T) {
	var flowCalls int64
	flow := flowFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		atomic.AddInt64(&flowCalls, 1)
		return &oauth2.Token{
			AccessToken:  "first",
			RefreshToken: "first-refresh",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	})

	dir := t.TempDir()
	f := newTestFactory(t, dir, "https://oauth2.example.com/token", flow)

	for i := 0; i < 2; i++ {
		tok, err := f.Token(context.Background())
		if err != nil {
			t.Fatalf("Token call %d: %v", i, err)
		}
		if tok.AccessToken != "first" {
			t.Fatalf("call %d: token = %q", i, tok.AccessToken)
		}
	}
	if n := atomic.LoadInt64(&flowCalls); n != 1 {
		t.Fatalf("expected exactly one interactive flow, got %d", n)
	}
}

func TestTokenFlowFailure(t *testing.T) {
	flow := flowFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		return nil, fmt.Errorf("%w: user cancelled", ErrAuthorization)
	})
	dir := t.TempDir()
	f := newTestFactory(t, dir, "https://oauth2.example.com/token", flow)

	_, err := f.Token(context.Background())
	if !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if rec, _ := f.Cache().Read(); rec != nil {
		t.Fatalf("no record should be written on flow failure, got %+v", rec)
	}
}

func TestClientRequiresToken(t *testing.T) {
	dir := t.TempDir()
	f := newTestFactory(t, dir, "https://oauth2.example.com/token", flowFunc(
		func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
			return nil, fmt.Errorf("%w: no interactive surface", ErrAuthorization)
		}))

	if _, err := f.Client(context.Background()); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
}

func TestSharedKeyedBySecretAndScopes(t *testing.T) {
	dir := t.TempDir()
	secret := writeSecretFile(t, dir, "https://oauth2.example.com/token")

	a, err := Shared(Options{
		ClientSecretPath: secret,
		TokenPath:        filepath.Join(dir, "a.json"),
		Scopes:           []string{"scope-one"},
	})
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	b, err := Shared(Options{
		ClientSecretPath: secret,
		TokenPath:        filepath.Join(dir, "a.json"),
		Scopes:           []string{"scope-one"},
	})
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	if a != b {
		t.Fatal("same configuration must yield the same factory")
	}

	c, err := Shared(Options{
		ClientSecretPath: secret,
		TokenPath:        filepath.Join(dir, "c.json"),
		Scopes:           []string{"scope-two"},
	})
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	if a == c {
		t.Fatal("different scope sets must yield independent factories")
	}
}

func TestConcurrentTokenCallsKeepCacheParsable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"B","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFactory(t, dir, srv.URL, noFlow(t))
	seed := &Record{AccessToken: "A", RefreshToken: "R", Expiry: time.Now().Add(-time.Minute)}
	if err := f.Cache().Write(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := f.Token(context.Background())
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Token: %v", err)
		}
	}

	data, err := os.ReadFile(f.Cache().Path())
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("cache unparsable after concurrent calls: %v", err)
	}
	if rec.AccessToken != "B" {
		t.Fatalf("expected refreshed record, got %+v", rec)
	}
}
