package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type AccountID string

type AccountStatus string

const (
	AccountStatusPending      AccountStatus = "pending"
	AccountStatusActive       AccountStatus = "active"
	AccountStatusError        AccountStatus = "error"
	AccountStatusOffline      AccountStatus = "offline"
	AccountStatusUnauthorized AccountStatus = "unauthorized"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusPending, AccountStatusActive, AccountStatusError, AccountStatusOffline, AccountStatusUnauthorized:
		return true
	default:
		return false
	}
}

// ManagedAccount is an external chat identity under our control. An active
// account always carries the credential that backs it.
type ManagedAccount struct {
	ID         AccountID
	Status     AccountStatus
	Credential CredentialID
	ErrorCount int
	LastActive time.Time
	CreatedAt  time.Time
}

func (a ManagedAccount) HasCredential() bool {
	return a.Credential != ""
}

var (
	accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9+@._-]{1,64}$`)
	bareNumber       = regexp.MustCompile(`^[0-9]+$`)
)

// ParseAccountID trims raw input and checks it is a usable handle. A bare
// phone number gains its leading "+" so both spellings name one account.
func ParseAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if bareNumber.MatchString(trimmed) {
		trimmed = "+" + trimmed
	}
	if !accountIDPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: malformed account id %q", ErrValidation, trimmed)
	}

	return AccountID(trimmed), nil
}
