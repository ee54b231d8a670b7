package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrPoolExhausted        = errors.New("credential pool exhausted")
	ErrCredentialInUse      = errors.New("credential in use")
	ErrDuplicateCredential  = errors.New("duplicate credential")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyInProgress    = errors.New("login already in progress")
	ErrSessionExpired       = errors.New("login session expired")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidState         = errors.New("invalid state for operation")

	// ErrChallengeRejected is returned by a chat platform when a code or
	// second-factor secret does not match.
	ErrChallengeRejected = errors.New("challenge rejected by platform")

	ErrAccountNotFound    = fmt.Errorf("account %w", ErrNotFound)
	ErrCredentialNotFound = fmt.Errorf("credential %w", ErrNotFound)
	ErrSecretNotFound     = fmt.Errorf("secret %w", ErrNotFound)
)

// AuthenticationFailedError reports a rejected code or secret. Terminal means
// the attempt budget is spent and the handshake was torn down.
type AuthenticationFailedError struct {
	Account     AccountID
	Attempts    int
	MaxAttempts int
	Terminal    bool
}

func (e *AuthenticationFailedError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("authentication failed for %s: %d of %d attempts used, login aborted", e.Account, e.Attempts, e.MaxAttempts)
	}
	return fmt.Sprintf("authentication failed for %s: %d attempts left", e.Account, e.Remaining())
}

func (e *AuthenticationFailedError) Remaining() int {
	if left := e.MaxAttempts - e.Attempts; left > 0 {
		return left
	}
	return 0
}

func (e *AuthenticationFailedError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}
