package file

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/Rrens/imagegen-studio/internal/security"
)

// fallbackPassphrase is used when no passphrase is configured. The key file
// is then obfuscated rather than protected.
const fallbackPassphrase = "imagegen-local"

type secretsDocument struct {
	Salt   string `json:"salt"`
	APIKey string `json:"api_key"`
}

// SecretStore keeps the provider API key encrypted on disk. A key supplied
// through the environment overrides the stored one.
type SecretStore struct {
	path       string
	envKey     string
	passphrase string
	mu         sync.RWMutex
}

// NewSecretStore creates a secret store backed by path
func NewSecretStore(path, envKey, passphrase string) *SecretStore {
	if passphrase == "" {
		passphrase = fallbackPassphrase
	}
	return &SecretStore{path: path, envKey: envKey, passphrase: passphrase}
}

// APIKey returns the configured key, or "" when none is set
func (s *SecretStore) APIKey() (string, error) {
	if s.envKey != "" {
		return s.envKey, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc secretsDocument
	if err := readJSON(s.path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if doc.APIKey == "" {
		return "", nil
	}

	salt, err := base64.StdEncoding.DecodeString(doc.Salt)
	if err != nil {
		return "", fmt.Errorf("failed to decode salt: %w", err)
	}
	enc, err := security.NewEncryptorFromPassphrase(s.passphrase, salt)
	if err != nil {
		return "", err
	}
	key, err := enc.DecryptString(doc.APIKey)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt api key: %w", err)
	}
	return key, nil
}

// Source reports where the active key comes from: "env", "file" or ""
func (s *SecretStore) Source() string {
	if s.envKey != "" {
		return "env"
	}
	if key, err := s.APIKey(); err == nil && key != "" {
		return "file"
	}
	return ""
}

// SetAPIKey encrypts and stores key with a fresh salt
func (s *SecretStore) SetAPIKey(key string) error {
	salt, err := security.GenerateSalt()
	if err != nil {
		return err
	}
	enc, err := security.NewEncryptorFromPassphrase(s.passphrase, salt)
	if err != nil {
		return err
	}
	sealed, err := enc.EncryptString(key)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc := secretsDocument{Salt: base64.StdEncoding.EncodeToString(salt), APIKey: sealed}
	return s.write(doc)
}

// RemoveAPIKey deletes the stored key. The environment key, if any, stays.
func (s *SecretStore) RemoveAPIKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove api key: %w", err)
	}
	return nil
}

func (s *SecretStore) write(doc secretsDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	return WriteFileAtomic(s.path, data, 0o600)
}
