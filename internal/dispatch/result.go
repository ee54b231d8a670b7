package dispatch

import (
	"errors"

	"github.com/bnema/forwarder/internal/domain"
)

type Status string

const (
	StatusSuccess              Status = "success"
	StatusFailure              Status = "failure"
	StatusValidation           Status = "validation_error"
	StatusUnauthorized         Status = "unauthorized"
	StatusNotFound             Status = "not_found"
	StatusPoolExhausted        Status = "pool_exhausted"
	StatusCredentialInUse      Status = "credential_in_use"
	StatusDuplicateCredential  Status = "duplicate_credential"
	StatusAlreadyInProgress    Status = "already_in_progress"
	StatusSessionExpired       Status = "session_expired"
	StatusAuthenticationFailed Status = "authentication_failed"
	StatusInvalidState         Status = "invalid_state"
)

// Result is the reply to every dispatched operation.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func success(message string, data any) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

var statusByError = []struct {
	target error
	status Status
}{
	{domain.ErrAuthenticationFailed, StatusAuthenticationFailed},
	{domain.ErrPoolExhausted, StatusPoolExhausted},
	{domain.ErrCredentialInUse, StatusCredentialInUse},
	{domain.ErrDuplicateCredential, StatusDuplicateCredential},
	{domain.ErrAlreadyInProgress, StatusAlreadyInProgress},
	{domain.ErrSessionExpired, StatusSessionExpired},
	{domain.ErrInvalidState, StatusInvalidState},
	{ErrUnauthorized, StatusUnauthorized},
	{domain.ErrValidation, StatusValidation},
	{domain.ErrNotFound, StatusNotFound},
}

// StatusFor classifies err. Errors outside the domain taxonomy are failures.
func StatusFor(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	for _, candidate := range statusByError {
		if errors.Is(err, candidate.target) {
			return candidate.status
		}
	}
	return StatusFailure
}
