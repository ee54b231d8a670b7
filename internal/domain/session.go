package domain

import "time"

type SessionState string

const (
	SessionStateIdle                 SessionState = "IDLE"
	SessionStateChallengeSent        SessionState = "CHALLENGE_SENT"
	SessionStateAwaitingSecondFactor SessionState = "AWAITING_SECOND_FACTOR"
	SessionStateAuthenticated        SessionState = "AUTHENTICATED"
	SessionStateFailed               SessionState = "FAILED"
)

// Terminal reports whether no session survives the state.
func (s SessionState) Terminal() bool {
	return s == SessionStateAuthenticated || s == SessionStateFailed
}

// ConversationSession tracks one in-flight login handshake.
type ConversationSession struct {
	ID         string
	AccountID  AccountID
	Credential CredentialID
	State      SessionState
	Attempts   int
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (s ConversationSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
