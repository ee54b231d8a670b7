package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/forwarder/internal/domain"
)

func TestSessionStoreCreateRejectsLiveDuplicate(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	store := NewSessionStore(time.Minute, clock)

	session, err := store.Create("acct1", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, clock.Now().Add(time.Minute), session.ExpiresAt)

	_, err = store.Create("acct1", "api-1", domain.SessionStateChallengeSent)
	require.ErrorIs(t, err, domain.ErrAlreadyInProgress)

	clock.Advance(time.Minute)
	replaced, err := store.Create("acct1", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, replaced.ID)
}

func TestSessionStoreGetExpiresLazily(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	store := NewSessionStore(time.Minute, clock)

	_, err := store.Get("acct1")
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	created, err := store.Create("acct1", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)

	got, err := store.Get("acct1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	clock.Advance(2 * time.Minute)
	expired, err := store.Get("acct1")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, created.ID, expired.ID)
	assert.Zero(t, store.Len())
}

func TestSessionStoreUpdateRequiresSameSession(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(time.Minute, newManualClock())

	session, err := store.Create("acct1", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)

	session.Attempts = 2
	require.NoError(t, store.Update(session))
	got, ok := store.Peek("acct1")
	require.True(t, ok)
	assert.Equal(t, 2, got.Attempts)

	store.Delete("acct1")
	require.ErrorIs(t, store.Update(session), domain.ErrSessionExpired)
}

func TestSessionStoreExpiredAndDrain(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	store := NewSessionStore(time.Minute, clock)

	_, err := store.Create("b", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)
	_, err = store.Create("a", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)

	store.SetTTL(10 * time.Minute)
	_, err = store.Create("c", "api-1", domain.SessionStateChallengeSent)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Equal(t, []domain.AccountID{"a", "b"}, store.Expired(clock.Now()))
	assert.Equal(t, 3, store.Len())

	drained := store.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, domain.AccountID("a"), drained[0].AccountID)
	assert.Zero(t, store.Len())
}
