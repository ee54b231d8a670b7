package toml

import (
	"fmt"
	"time"
)

const (
	currentAccountsSchemaVersion    = 1
	currentCredentialsSchemaVersion = 1
)

type accountsFileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *accountsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentAccountsSchemaVersion
	}
}

func (s accountsFileSchema) validateVersion() error {
	if s.Version > currentAccountsSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentAccountsSchemaVersion)
	}
	return nil
}

type accountSchema struct {
	ID         string `toml:"id"`
	Status     string `toml:"status"`
	Credential string `toml:"credential,omitempty"`
	ErrorCount int    `toml:"error_count"`
	LastActive string `toml:"last_active,omitempty"`
	CreatedAt  string `toml:"created_at,omitempty"`
}

type credentialsFileSchema struct {
	Version     int                `toml:"version"`
	Credentials []credentialSchema `toml:"credentials"`
}

func (s *credentialsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentCredentialsSchemaVersion
	}
}

func (s credentialsFileSchema) validateVersion() error {
	if s.Version > currentCredentialsSchemaVersion {
		return fmt.Errorf("unsupported credentials schema version %d (current %d)", s.Version, currentCredentialsSchemaVersion)
	}
	return nil
}

type credentialSchema struct {
	ID          string   `toml:"id"`
	SecretRef   string   `toml:"secret_ref"`
	MaxCapacity int      `toml:"max_capacity"`
	Status      string   `toml:"status"`
	Assigned    []string `toml:"assigned"`
	CreatedAt   string   `toml:"created_at,omitempty"`
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}
