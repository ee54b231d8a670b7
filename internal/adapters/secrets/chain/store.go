package chain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	filestore "github.com/bnema/forwarder/internal/adapters/secrets/file"
	passstore "github.com/bnema/forwarder/internal/adapters/secrets/pass"
	"github.com/bnema/forwarder/internal/ports"
)

// Store writes to primary and falls back to fallback when primary is
// unusable. Reads try primary first, deletes hit both backends so a secret
// that landed in the fallback does not survive removal.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
	logger   *zap.Logger
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore, logger *zap.Logger) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{primary: primary, fallback: fallback, logger: logger.Named("secrets")}, nil
}

func NewPassFirstWithFileFallback(fileRoot string, logger *zap.Logger) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(fileRoot), logger)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if !s.degrade("put", key, err) {
		return err
	}

	if fallbackErr := s.fallback.Put(ctx, key, value); fallbackErr != nil {
		return bothFailed("put", err, fallbackErr)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if !s.degrade("get", key, err) {
		return value, err
	}

	value, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr != nil {
		return "", bothFailed("get", err, fallbackErr)
	}
	return value, nil
}

// Delete succeeds when either backend no longer holds the key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if isContextError(err) {
		return err
	}
	if err != nil {
		s.logger.Warn("primary secret backend delete failed", zap.String("key", key), zap.Error(err))
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	if err != nil && fallbackErr != nil {
		return bothFailed("delete", err, fallbackErr)
	}
	return nil
}

// degrade reports whether op should be retried on the fallback after the
// primary returned err.
func (s *Store) degrade(op string, key string, err error) bool {
	if err == nil || isContextError(err) {
		return false
	}

	level := zap.WarnLevel
	if op == "get" {
		level = zap.DebugLevel
	}
	s.logger.Log(level, "primary secret backend failed, using fallback", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return true
}

func bothFailed(op string, primary error, fallback error) error {
	return fmt.Errorf("primary backend %s failed: %w; fallback backend %s failed: %w", op, primary, op, fallback)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
