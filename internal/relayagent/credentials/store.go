// Package credentials keeps the agent's device token on disk and renews it.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/domrelay/domrelay/pkg/log"
)

// Credentials authenticate one device against relay-server and its push backends.
type Credentials struct {
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token is set and not expired at now.
func (c Credentials) Valid(now time.Time) bool {
	return c.Token != "" && (c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt))
}

// Store holds the current credentials, mirrored to a file when a path is set.
// It implements client.TokenSource.
type Store struct {
	path   string
	mu     sync.RWMutex
	creds  Credentials
	logger log.Logger
}

// NewStore returns a store backed by path. An empty path keeps credentials in memory.
func NewStore(path string) *Store {
	if path != "" {
		path = filepath.Clean(path)
	}
	return &Store{path: path, logger: log.WithName("credentials")}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Current() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *Store) Token() string {
	return s.Current().Token
}

// Load reads the file into the store. A missing file returns an error
// matching fs.ErrNotExist.
func (s *Store) Load() (Credentials, error) {
	c, err := s.read()
	if err != nil {
		return Credentials{}, err
	}
	s.set(c)
	return c, nil
}

// Save replaces the current credentials and persists them.
func (s *Store) Save(c Credentials) error {
	s.set(c)
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	// Rename keeps readers and the watcher from seeing a partial file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

func (s *Store) set(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

func (s *Store) read() (Credentials, error) {
	var c Credentials
	if s.path == "" {
		return c, fmt.Errorf("credentials: %w", os.ErrNotExist)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse credentials %s: %w", s.path, err)
	}
	return c, nil
}
