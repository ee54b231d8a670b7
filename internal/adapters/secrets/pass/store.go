package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

var ErrUnavailable = errors.New("pass command unavailable")

// pass prints this on stderr for show and rm of an unknown entry.
const notInStoreMarker = "is not in the password store"

type runFunc func(ctx context.Context, input string, args ...string) (stdout string, stderr string, err error)

// Store keeps secrets in the user's pass(1) password store. Only the first
// line of an entry is the secret.
type Store struct {
	run runFunc
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{run: runPassCommand}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	_, err := s.exec(ctx, "put", key, value+"\n", "insert", "--multiline", "--force", key)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	stdout, err := s.exec(ctx, "get", key, "", "show", key)
	if err != nil {
		return "", err
	}

	secret, _, _ := strings.Cut(stdout, "\n")
	return strings.TrimSuffix(secret, "\r"), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.exec(ctx, "delete", key, "", "rm", "--force", key)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return nil
	}
	return err
}

// exec runs one pass subcommand and maps a missing entry to
// domain.ErrSecretNotFound.
func (s *Store) exec(ctx context.Context, op string, key string, input string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: pass %s: empty key", domain.ErrValidation, op)
	}

	stdout, stderr, err := s.run(ctx, input, args...)
	switch {
	case err == nil:
		return stdout, nil
	case strings.Contains(stderr, notInStoreMarker):
		return "", fmt.Errorf("pass secret %q: %w", key, domain.ErrSecretNotFound)
	case stderr != "":
		return "", fmt.Errorf("pass %s %q: %w: %s", op, key, err, stderr)
	default:
		return "", fmt.Errorf("pass %s %q: %w", op, key, err)
	}
}

func runPassCommand(ctx context.Context, input string, args ...string) (string, string, error) {
	path, err := exec.LookPath("pass")
	if errors.Is(err, exec.ErrNotFound) {
		return "", "", ErrUnavailable
	}
	if err != nil {
		return "", "", fmt.Errorf("locate pass command: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return stdout.String(), strings.TrimSpace(stderr.String()), err
	}
	return stdout.String(), strings.TrimSpace(stderr.String()), nil
}
