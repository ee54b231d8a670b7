package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

type CredentialID string

type CredentialStatus string

const (
	CredentialStatusActive   CredentialStatus = "active"
	CredentialStatusDisabled CredentialStatus = "disabled"
)

func (s CredentialStatus) Valid() bool {
	return s == CredentialStatusActive || s == CredentialStatusDisabled
}

// CredentialSlot is one API credential and the accounts it currently backs.
// The secret itself lives in a secret store; SecretRef points at it.
type CredentialSlot struct {
	ID          CredentialID
	SecretRef   string
	MaxCapacity int
	Assigned    []AccountID
	Status      CredentialStatus
	CreatedAt   time.Time
}

// Credential is the material handed to the chat platform when acting for an account.
type Credential struct {
	ID     CredentialID
	Secret string
}

var credentialIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ParseCredentialID trims raw input. Credential ids double as secret store
// keys, so path separators are rejected.
func ParseCredentialID(raw string) (CredentialID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: credential id is required", ErrValidation)
	}
	if !credentialIDPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: malformed credential id %q", ErrValidation, trimmed)
	}

	return CredentialID(trimmed), nil
}

func (s CredentialSlot) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return fmt.Errorf("%w: credential id is required", ErrValidation)
	}
	if s.MaxCapacity < 0 {
		return fmt.Errorf("%w: max capacity must not be negative", ErrValidation)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unsupported credential status %q", ErrValidation, s.Status)
	}
	if len(s.Assigned) > s.MaxCapacity {
		return fmt.Errorf("credential %s holds %d accounts over capacity %d", s.ID, len(s.Assigned), s.MaxCapacity)
	}

	return nil
}

func (s CredentialSlot) Used() int {
	return len(s.Assigned)
}

func (s CredentialSlot) HasSpare() bool {
	return s.Status == CredentialStatusActive && len(s.Assigned) < s.MaxCapacity
}

func (s CredentialSlot) Holds(id AccountID) bool {
	for _, assigned := range s.Assigned {
		if assigned == id {
			return true
		}
	}
	return false
}

// Clone returns a copy whose assignment list does not alias the receiver's.
func (s CredentialSlot) Clone() CredentialSlot {
	assigned := make([]AccountID, len(s.Assigned))
	copy(assigned, s.Assigned)
	s.Assigned = assigned
	return s
}

// NormalizeAssigned sorts and deduplicates the assignment list, dropping blanks.
func (s *CredentialSlot) NormalizeAssigned() {
	if s == nil {
		return
	}

	assigned := make([]AccountID, 0, len(s.Assigned))
	seen := make(map[AccountID]struct{}, len(s.Assigned))
	for _, member := range s.Assigned {
		trimmed := AccountID(strings.TrimSpace(string(member)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		assigned = append(assigned, trimmed)
	}

	sort.Slice(assigned, func(i, j int) bool { return assigned[i] < assigned[j] })
	s.Assigned = assigned
}
