package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// Record is the persisted unit of token state: the most recently issued
// token for one (client secret, scope set) configuration.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// ValidFor reports whether the access token remains usable for at least
// the given safety margin.
func (r *Record) ValidFor(margin time.Duration) bool {
	if r == nil || r.AccessToken == "" {
		return false
	}
	if r.Expiry.IsZero() {
		return false
	}
	return time.Until(r.Expiry) > margin
}

// Token converts the record into an oauth2 token.
func (r *Record) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.Expiry,
	}
}

func newRecord(tok *oauth2.Token, scopes []string) *Record {
	return &Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       scopes,
	}
}

// CacheFile persists a single Record as JSON at a fixed path. Writes are
// atomic (temp file + rename) so a concurrent reader never observes a
// half-written record. Safe to delete to force re-authorization.
type CacheFile struct {
	path string
}

// NewCacheFile creates a cache bound to path. The file may not exist yet.
func NewCacheFile(path string) *CacheFile {
	return &CacheFile{path: path}
}

// Path returns the cache file location.
func (c *CacheFile) Path() string { return c.path }

// Read loads the persisted record. A missing file returns (nil, nil).
func (c *CacheFile) Read() (*Record, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token cache: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse token cache %s: %w", c.path, err)
	}
	return &rec, nil
}

// Write replaces the record atomically. Either the whole new record lands
// at the path or the prior content stays intact.
func (c *CacheFile) Write(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create token cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace token cache: %w", err)
	}
	return nil
}

// Delete removes the persisted record, forcing re-authorization on the
// next Token call. Removing an absent file is not an error.
func (c *CacheFile) Delete() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// staleLockAge is how old a leftover lock file must be before another
// process may steal it.
const staleLockAge = 5 * time.Minute

// lockPollInterval controls how often a waiter re-checks the lock file.
const lockPollInterval = 250 * time.Millisecond
