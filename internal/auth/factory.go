// Package auth manages OAuth desktop-app credentials for the Firestore
// backend: a token cache on disk, silent refresh near expiry, and a
// device-code fallback when no usable credential exists.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultSafetyMargin is the minimum remaining validity required before
	// a cached access token is reused without refreshing.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultTimeout bounds one Token call end to end, including waiting
	// on the user during the device flow.
	DefaultTimeout = 5 * time.Minute

	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// errGrantRevoked marks a refresh rejection that warrants falling back to
// the interactive flow (revoked or expired refresh token).
var errGrantRevoked = errors.New("refresh grant revoked")

// Options configure a Factory.
type Options struct {
	// ClientSecretPath locates the OAuth "Desktop" client id/secret JSON
	// issued by the identity provider. Read-only.
	ClientSecretPath string

	// TokenPath locates the token cache file. Created on first
	// authorization; deleting it forces re-authorization.
	TokenPath string

	// Scopes the token must be authorized for.
	Scopes []string

	// SafetyMargin below which a cached token is refreshed rather than
	// reused. Defaults to DefaultSafetyMargin.
	SafetyMargin time.Duration

	// Timeout bounds a single Token call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Flow handles interactive authorization. Defaults to the device-code
	// flow, which does not require a local browser.
	Flow Flow

	// MaxRetries bounds retries of transient token-endpoint failures.
	MaxRetries int

	// RetryInterval is the initial backoff delay, doubled per attempt.
	RetryInterval time.Duration
}

// Factory produces valid OAuth tokens, transparently hiding whether that
// required a cache hit, a silent refresh or an interactive authorization.
type Factory struct {
	cfg    *oauth2.Config
	cache  *CacheFile
	flow   Flow
	scopes []string

	margin        time.Duration
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration

	mu sync.Mutex
}

// New builds a Factory from a client-secret descriptor. A missing or
// malformed descriptor fails with ErrConfiguration before any network use.
func New(opts Options) (*Factory, error) {
	if opts.ClientSecretPath == "" {
		return nil, fmt.Errorf("%w: client secret path is empty", ErrConfiguration)
	}
	if opts.TokenPath == "" {
		return nil, fmt.Errorf("%w: token cache path is empty", ErrConfiguration)
	}
	data, err := os.ReadFile(opts.ClientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, opts.ClientSecretPath, err)
	}
	cfg, err := google.ConfigFromJSON(data, opts.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, opts.ClientSecretPath, err)
	}
	// ConfigFromJSON carries only the auth and token URLs from the
	// descriptor; the device flow additionally needs the device endpoint.
	if cfg.Endpoint.DeviceAuthURL == "" {
		cfg.Endpoint.DeviceAuthURL = google.Endpoint.DeviceAuthURL
	}

	f := &Factory{
		cfg:           cfg,
		cache:         NewCacheFile(opts.TokenPath),
		flow:          opts.Flow,
		scopes:        opts.Scopes,
		margin:        opts.SafetyMargin,
		timeout:       opts.Timeout,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
	}
	if f.flow == nil {
		f.flow = NewDeviceFlow()
	}
	if f.margin <= 0 {
		f.margin = DefaultSafetyMargin
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.maxRetries <= 0 {
		f.maxRetries = defaultMaxRetries
	}
	if f.retryInterval <= 0 {
		f.retryInterval = defaultRetryInterval
	}
	return f, nil
}

// Cache exposes the underlying token cache, mainly so operators and tests
// can delete it to force re-authorization.
func (f *Factory) Cache() *CacheFile { return f.cache }

// Token returns an access token valid for at least the safety margin.
// The cache file is re-read on every call so refreshes done by another
// process are picked up. A cached, still-valid token costs no network
// calls and no cache writes.
func (f *Factory) Token(ctx context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	rec, err := f.cache.Read()
	if err != nil {
		return nil, err
	}
	if rec.ValidFor(f.margin) {
		return rec.Token(), nil
	}

	if rec != nil && rec.RefreshToken != "" {
		tok, err := f.refresh(ctx, rec)
		switch {
		case err == nil:
			if err := f.persist(tok); err != nil {
				return nil, err
			}
			return tok, nil
		case errors.Is(err, errGrantRevoked):
			log.Printf("auth: refresh token no longer usable, starting interactive authorization: %v", err)
		default:
			return nil, err
		}
	}

	return f.authorize(ctx)
}

// refresh exchanges the refresh token for a new access token. Transient
// failures (network errors, 5xx) are retried with exponential backoff;
// provider rejections surface immediately.
func (f *Factory) refresh(ctx context.Context, rec *Record) (*oauth2.Token, error) {
	delay := f.retryInterval
	var lastErr error

	// Seed the source with the refresh token alone. Seeding the cached
	// access token would let oauth2's reuse source hand it straight back
	// whenever its expiry is merely in the future, even inside our safety
	// margin, skipping the exchange this call exists to perform.
	seed := &oauth2.Token{RefreshToken: rec.RefreshToken}

	for attempt := 0; ; attempt++ {
		tok, err := f.cfg.TokenSource(ctx, seed).Token()
		if err == nil {
			// Providers often omit the refresh token on refresh responses.
			if tok.RefreshToken == "" {
				tok.RefreshToken = rec.RefreshToken
			}
			return tok, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: refresh: %v", ErrTimeout, err)
		}

		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			if rerr.ErrorCode == "invalid_grant" {
				return nil, fmt.Errorf("%w: %v", errGrantRevoked, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrRefresh, err)
		}

		lastErr = err
		if attempt >= f.maxRetries {
			return nil, fmt.Errorf("%w: %v", ErrRefresh, lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: refresh: %v", ErrTimeout, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// authorize runs the interactive flow, holding the cross-process lock so
// only one device-code prompt is active per cache path at a time.
func (f *Factory) authorize(ctx context.Context) (*oauth2.Token, error) {
	release, err := acquireFlowLock(ctx, f.cache.Path())
	if err != nil {
		return nil, err
	}
	defer release()

	// Another process may have finished authorizing while we waited.
	if rec, err := f.cache.Read(); err == nil && rec.ValidFor(f.margin) {
		return rec.Token(), nil
	}

	tok, err := f.flow.Token(ctx, f.cfg)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	if err := f.persist(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (f *Factory) persist(tok *oauth2.Token) error {
	return f.cache.Write(newRecord(tok, f.scopes))
}

// factoryTokenSource adapts a Factory to oauth2.TokenSource so downstream
// SDK clients can be built without coupling them to this package.
type factoryTokenSource struct {
	ctx context.Context
	f   *Factory
}

func (s factoryTokenSource) Token() (*oauth2.Token, error) {
	return s.f.Token(s.ctx)
}

// TokenSource returns an oauth2.TokenSource backed by this factory. Each
// Token call goes through the full cache/refresh/authorize decision.
func (f *Factory) TokenSource(ctx context.Context) oauth2.TokenSource {
	return factoryTokenSource{ctx: ctx, f: f}
}

// Client returns an HTTP client whose requests carry a currently-valid
// bearer token. It fails up front when no credential can be obtained.
func (f *Factory) Client(ctx context.Context) (*http.Client, error) {
	if _, err := f.Token(ctx); err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, f.TokenSource(ctx)), nil
}

var shared = struct {
	mu        sync.Mutex
	factories map[string]*Factory
}{factories: map[string]*Factory{}}

// Shared returns the process-wide factory for a (client secret, scope set)
// configuration, creating it on first use. Independent configurations get
// independent factories.
func Shared(opts Options) (*Factory, error) {
	key := opts.ClientSecretPath + "|" + strings.Join(opts.Scopes, " ")

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if f, ok := shared.factories[key]; ok {
		return f, nil
	}
	f, err := New(opts)
	if err != nil {
		return nil, err
	}
	shared.factories[key] = f
	return f, nil
}
