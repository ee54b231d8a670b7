package application

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

const DefaultSessionTTL = 5 * time.Minute

// SessionStore keeps in-flight login handshakes, at most one per account.
// Expiry is detected lazily on access; Sweep removes expired entries eagerly.
type SessionStore struct {
	clock ports.Clock

	mu       sync.Mutex
	ttl      time.Duration
	sessions map[domain.AccountID]domain.ConversationSession
}

func NewSessionStore(ttl time.Duration, clock ports.Clock) *SessionStore {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionStore{
		clock:    clock,
		ttl:      ttl,
		sessions: map[domain.AccountID]domain.ConversationSession{},
	}
}

// SetTTL applies to sessions created afterwards.
func (s *SessionStore) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *SessionStore) TTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl
}

// Create opens a session for account in state. It fails with
// ErrAlreadyInProgress while a live session exists; an expired one is replaced.
func (s *SessionStore) Create(account domain.AccountID, credential domain.CredentialID, state domain.SessionState) (domain.ConversationSession, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[account]; ok && !existing.Expired(now) {
		return domain.ConversationSession{}, fmt.Errorf("%w: %s", domain.ErrAlreadyInProgress, account)
	}

	session := domain.ConversationSession{
		ID:         uuid.NewString(),
		AccountID:  account,
		Credential: credential,
		State:      state,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.sessions[account] = session
	return session, nil
}

// Get returns the live session of account. A missing session and an expired
// one both yield ErrSessionExpired; the expired session is removed and
// returned alongside the error so the caller can undo its side effects.
func (s *SessionStore) Get(account domain.AccountID) (domain.ConversationSession, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[account]
	if !ok {
		return domain.ConversationSession{}, fmt.Errorf("%w: no open login for %s", domain.ErrSessionExpired, account)
	}
	if session.Expired(now) {
		delete(s.sessions, account)
		return session, fmt.Errorf("%w: login for %s timed out", domain.ErrSessionExpired, account)
	}

	return session, nil
}

// Update stores a mutated session. The session must still be open.
func (s *SessionStore) Update(session domain.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.AccountID]
	if !ok || current.ID != session.ID {
		return fmt.Errorf("%w: no open login for %s", domain.ErrSessionExpired, session.AccountID)
	}

	s.sessions[session.AccountID] = session
	return nil
}

func (s *SessionStore) Delete(account domain.AccountID) (domain.ConversationSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[account]
	if ok {
		delete(s.sessions, account)
	}
	return session, ok
}

// Expired lists accounts whose session has passed its deadline, without
// removing anything.
func (s *SessionStore) Expired(now time.Time) []domain.AccountID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AccountID
	for account, session := range s.sessions {
		if session.Expired(now) {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Drain removes and returns every session.
func (s *SessionStore) Drain() []domain.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ConversationSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.sessions = map[domain.AccountID]domain.ConversationSession{}

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Peek returns the stored session without expiry handling.
func (s *SessionStore) Peek(account domain.AccountID) (domain.ConversationSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[account]
	return session, ok
}
