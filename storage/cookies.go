package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CookieFileStore keeps one browser-cookie blob per source as a JSON file.
// Persistence is best-effort: a missing blob is normal on first run.
type CookieFileStore struct {
	mu  sync.Mutex
	dir string
}

// NewCookieFileStore creates the cookie directory if needed.
func NewCookieFileStore(dir string) (*CookieFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cookies: create dir %q: %w", dir, err)
	}
	return &CookieFileStore{dir: dir}, nil
}

func (cs *CookieFileStore) path(source string) string {
	return filepath.Join(cs.dir, source+"_cookies.json")
}

// Save writes the cookie blob for a source, replacing any previous one.
func (cs *CookieFileStore) Save(source string, data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := os.WriteFile(cs.path(source), data, 0o600); err != nil {
		return fmt.Errorf("cookies: save %s: %w", source, err)
	}
	return nil
}

// Load returns the stored blob for a source; ok is false when none exists.
func (cs *CookieFileStore) Load(source string) ([]byte, bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	data, err := os.ReadFile(cs.path(source))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cookies: load %s: %w", source, err)
	}
	return data, true, nil
}
