package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

const (
	storeDirMode   = 0o700
	secretFileMode = 0o600
	secretSuffix   = ".secret"
)

// Store keeps one secret per file under root, readable only by the owner.
type Store struct {
	root string
	mu   sync.RWMutex
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	path, err := s.locate(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(path, []byte(value)); err != nil {
		return fmt.Errorf("write file secret %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	path, err := s.locate(ctx, key)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()

	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("file secret %q: %w", key, domain.ErrSecretNotFound)
	case err != nil:
		return "", fmt.Errorf("read file secret %q: %w", key, err)
	}
	return string(data), nil
}

// Delete removes the secret; a missing secret is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.locate(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file secret %q: %w", key, err)
	}
	return nil
}

// locate maps key to a file under root. Keys are slash-separated relative
// paths and no segment may start with a dot.
func (s *Store) locate(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("%w: secret key is empty", domain.ErrValidation)
	}

	cleaned := filepath.Clean(trimmed)
	if filepath.IsAbs(cleaned) || cleaned == "." {
		return "", fmt.Errorf("%w: invalid secret key %q", domain.ErrValidation, key)
	}
	for _, part := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("%w: invalid secret key %q", domain.ErrValidation, key)
		}
	}

	return filepath.Join(s.root, cleaned+secretSuffix), nil
}

// writeAtomic replaces path with data through a private temp file in the
// same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".secret-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(secretFileMode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
