// Package session persists the signed-in username and interprets the
// OAuth callback query string.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mailmind/internal/cache"
)

// StorageKey is the field the username is stored under.
const StorageKey = "mailmind_username"

var (
	ErrNoUsername    = errors.New("no username stored")
	ErrEmptyUsername = errors.New("username is empty")
)

// Store holds one username.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, username string) error
	Clear(ctx context.Context) error
}

// NormalizeUsername trims whitespace and rejects empty names.
func NormalizeUsername(username string) (string, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return "", ErrEmptyUsername
	}
	return u, nil
}

type record struct {
	Username string `json:"mailmind_username"`
}

// --- FileStore ---

// FileStore keeps the username in a JSON file, for the CLI.
type FileStore struct {
	path string
}

// NewFileStore stores the session in dir/session.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "session.json")}
}

// DefaultFileStore uses the user's config directory.
func DefaultFileStore() (*FileStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating config dir: %w", err)
	}
	return NewFileStore(filepath.Join(dir, "mailmind")), nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoUsername
	}
	if err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", fmt.Errorf("decoding session %s: %w", s.path, err)
	}
	if rec.Username == "" {
		return "", ErrNoUsername
	}
	return rec.Username, nil
}

func (s *FileStore) Save(_ context.Context, username string) error {
	u, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	b, err := json.Marshal(record{Username: u})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}

// --- CacheStore ---

// DefaultTTL is how long a service session lives without being saved again.
const DefaultTTL = 30 * 24 * time.Hour

// CacheStore keeps one session's username in the shared cache.
type CacheStore struct {
	cache cache.Cache
	id    string
	ttl   time.Duration
}

// NewSessionID returns a fresh opaque session id.
func NewSessionID() string {
	return uuid.NewString()
}

// NewCacheStore binds a store to session id. ttl <= 0 uses DefaultTTL.
func NewCacheStore(c cache.Cache, id string, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CacheStore{cache: c, id: id, ttl: ttl}
}

func (s *CacheStore) ID() string { return s.id }

func (s *CacheStore) Load(ctx context.Context) (string, error) {
	var rec record
	found, err := cache.GetJSON(ctx, s.cache, cache.SessionKey(s.id), &rec)
	if err != nil {
		return "", fmt.Errorf("loading session: %w", err)
	}
	if !found || rec.Username == "" {
		return "", ErrNoUsername
	}
	return rec.Username, nil
}

func (s *CacheStore) Save(ctx context.Context, username string) error {
	u, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	return cache.SetJSON(ctx, s.cache, cache.SessionKey(s.id), record{Username: u}, s.ttl)
}

func (s *CacheStore) Clear(ctx context.Context) error {
	return s.cache.Delete(ctx, cache.SessionKey(s.id))
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*CacheStore)(nil)
)
