package classifier

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
)

// CredentialStore keeps the single user-supplied API key in a local file.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialStore uses path, or $XDG_CONFIG_HOME/<appName>/api_key when path is empty.
func NewCredentialStore(path string, appName string) *CredentialStore {
	if path == "" {
		path = filepath.Join(xdg.ConfigHome, appName, "api_key")
	}
	return &CredentialStore{path: path}
}

func (cs *CredentialStore) Path() string {
	return cs.path
}

// Load reads the key from disk on every call so an updated key applies to the next classification.
func (cs *CredentialStore) Load() (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	data, err := os.ReadFile(cs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMissingCredential
		}
		slog.Error("failed to read the credential file.", slog.String("path", cs.path),
			slog.String("err", err.Error()))
		return "", err
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", ErrMissingCredential
	}

	return key, nil
}

func (cs *CredentialStore) Save(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingCredential
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(cs.path, []byte(key), 0o600); err != nil {
		return err
	}
	slog.Info("credential saved.", slog.String("path", cs.path))

	return nil
}
