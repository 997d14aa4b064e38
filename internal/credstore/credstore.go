// Package credstore persists WorldCat API credentials between runs. The store
// is a small JSON key/value file holding the access token, its type and
// expiry, and (once granted) the refresh token and its expiry. It is read at
// startup and rewritten whenever the token lifecycle updates a field, so a
// later run can reuse a still-valid token instead of burning an exchange.
//
// This is a leaf package: both config/ and worldcat/ import it.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/araddon/dateparse"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credentials directory.
const DirPerms = 0o700

// expiryFormat is how expiry instants are written to disk. The WorldCat
// authorization server reports refresh-token expiry in this shape
// ("2021-09-30 22:43:07Z", ISO 8601 with a space in place of 'T'), so the
// store keeps the same form. Reads accept any parseable timestamp.
const expiryFormat = "2006-01-02 15:04:05Z"

// Credentials is the full credential state for the WorldCat Metadata API.
// The refresh token is absent until the first successful full exchange.
type Credentials struct {
	AccessToken     string
	TokenType       string
	AccessExpiresAt time.Time
	RefreshToken    string
	RefreshExpires  time.Time
}

// HasRefreshToken reports whether a refresh token has been granted.
func (c Credentials) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// file is the on-disk format. Expiries are stored as strings so the file
// stays hand-editable and tolerant of timestamps pasted from the OCLC
// developer console.
type file struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type,omitempty"`
	AccessExpiresAt string `json:"access_token_expires_at,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	RefreshExpires  string `json:"refresh_token_expires_at,omitempty"`
}

// Store reads and writes a credential file at a fixed path.
type Store struct {
	path string
}

// New returns a Store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the credential file.
func (s *Store) Path() string {
	return s.path
}

// Load reads saved credentials. Returns (zero, nil) if no file exists yet;
// the caller decides whether that means "login required".
func (s *Store) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, nil
	}

	if err != nil {
		return Credentials{}, fmt.Errorf("credstore: reading %s: %w", s.path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return Credentials{}, fmt.Errorf("credstore: decoding %s: %w", s.path, err)
	}

	creds := Credentials{
		AccessToken:  f.AccessToken,
		TokenType:    f.TokenType,
		RefreshToken: f.RefreshToken,
	}

	if creds.AccessExpiresAt, err = ParseExpiry(f.AccessExpiresAt); err != nil {
		return Credentials{}, fmt.Errorf("credstore: access_token_expires_at in %s: %w", s.path, err)
	}

	if creds.RefreshExpires, err = ParseExpiry(f.RefreshExpires); err != nil {
		return Credentials{}, fmt.Errorf("credstore: refresh_token_expires_at in %s: %w", s.path, err)
	}

	return creds, nil
}

// Save writes credentials atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func (s *Store) Save(creds Credentials) error {
	f := file{
		AccessToken:  creds.AccessToken,
		TokenType:    creds.TokenType,
		RefreshToken: creds.RefreshToken,
	}

	if !creds.AccessExpiresAt.IsZero() {
		f.AccessExpiresAt = creds.AccessExpiresAt.UTC().Format(expiryFormat)
	}

	if !creds.RefreshExpires.IsZero() {
		f.RefreshExpires = creds.RefreshExpires.UTC().Format(expiryFormat)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}

// ParseExpiry parses an expiry timestamp from the file. Timestamps are
// anchored to UTC: the refresh-vs-exchange decision compares this instant
// against the wall clock, so both must share the Unix epoch basis.
func ParseExpiry(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	// Canonical on-disk form first; dateparse covers timestamps pasted in
	// other shapes (RFC3339, Unix-date style, and so on).
	if t, err := time.Parse(expiryFormat, value); err == nil {
		return t.UTC(), nil
	}

	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", value, err)
	}

	return t.UTC(), nil
}
