package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
	"github.com/bnema/forwarder/internal/ports/mocks"
)

type authFixture struct {
	auth     *Authenticator
	pool     *CredentialPool
	accounts *inMemoryAccountRepo
	clock    *manualClock
}

func newAuthFixture(t *testing.T, platform ports.ChallengePlatform, capacity int, opts ...AuthenticatorOption) authFixture {
	t.Helper()

	clock := newManualClock()
	pool := NewCredentialPool(newInMemoryCredentialRepo(), newInMemorySecretStore(), clock, nil)
	_, err := pool.AddCredential(context.Background(), "api-1", "hash-1", capacity)
	require.NoError(t, err)

	accounts := newInMemoryAccountRepo()
	opts = append([]AuthenticatorOption{WithAuthSettings(AuthSettings{MaxAttempts: 5, SessionTTL: 5 * time.Minute})}, opts...)
	auth := NewAuthenticator(pool, platform, accounts, clock, nil, opts...)

	return authFixture{auth: auth, pool: pool, accounts: accounts, clock: clock}
}

func TestAuthenticatorStartLoginPoolExhausted(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 0)

	_, err := f.auth.StartLogin(context.Background(), "acct1")
	require.ErrorIs(t, err, domain.ErrPoolExhausted)

	_, open := f.auth.Session("acct1")
	assert.False(t, open)
	_, saved := f.accounts.get("acct1")
	assert.False(t, saved)
}

func TestAuthenticatorStartLoginRejectsMalformedID(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1)

	_, err := f.auth.StartLogin(context.Background(), "acct 1")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.pool.Statistics().TotalUsed)
}

func TestAuthenticatorStartLoginSendsChallenge(t *testing.T) {
	t.Parallel()

	platform := newScriptedPlatform("1234", "")
	f := newAuthFixture(t, platform, 1)

	step, err := f.auth.StartLogin(context.Background(), " acct1 ")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateChallengeSent, step.State)
	assert.Equal(t, domain.CredentialID("api-1"), step.Credential)
	assert.Contains(t, step.Prompt, "verification code")

	assert.Equal(t, domain.Credential{ID: "api-1", Secret: "hash-1"}, platform.sent["acct1"])

	account, ok := f.accounts.get("acct1")
	require.True(t, ok)
	assert.Equal(t, domain.AccountStatusPending, account.Status)

	_, err = f.auth.StartLogin(context.Background(), "acct1")
	require.ErrorIs(t, err, domain.ErrAlreadyInProgress)
}

func TestAuthenticatorWrongCodeUntilTerminal(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)

	step, err := f.auth.SubmitChallengeResponse(ctx, "acct1", "0000")
	var failure *domain.AuthenticationFailedError
	require.ErrorAs(t, err, &failure)
	assert.False(t, failure.Terminal)
	assert.Equal(t, domain.SessionStateChallengeSent, step.State)
	assert.Equal(t, 1, step.Attempts)
	assert.Equal(t, 4, step.Remaining)

	for i := 2; i < 5; i++ {
		_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "0000")
		require.ErrorAs(t, err, &failure)
		assert.False(t, failure.Terminal)
	}

	step, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "0000")
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Terminal)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, domain.SessionStateFailed, step.State)

	_, open := f.auth.Session("acct1")
	assert.False(t, open)
	assert.Zero(t, f.pool.Statistics().TotalUsed)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusError, account.Status)
	assert.Equal(t, 1, account.ErrorCount)
	assert.False(t, account.HasCredential())

	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	step, err = f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateChallengeSent, step.State)
}

func TestAuthenticatorSecondFactorFlow(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", "pw"), 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)

	_, err = f.auth.SubmitSecondFactor(ctx, "acct1", "pw")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	step, err := f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAwaitingSecondFactor, step.State)

	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.auth.SubmitSecondFactor(ctx, "acct1", "wrong")
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	step, err = f.auth.SubmitSecondFactor(ctx, "acct1", "pw")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAuthenticated, step.State)

	_, open := f.auth.Session("acct1")
	assert.False(t, open)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.Equal(t, domain.CredentialID("api-1"), account.Credential)
	assert.Equal(t, f.clock.Now(), account.LastActive)

	assignment, err := f.pool.GetAssignment("acct1")
	require.NoError(t, err)
	assert.Equal(t, account.Credential, assignment.Credential)

	_, err = f.auth.StartLogin(ctx, "acct1")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAuthenticatorWrongSecondFactorUntilTerminal(t *testing.T) {
	t.Parallel()

	platform := newScriptedPlatform("1234", "pw")
	f := newAuthFixture(t, platform, 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "0000")
		require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	}

	step, err := f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAwaitingSecondFactor, step.State)
	assert.Zero(t, step.Attempts)
	assert.Equal(t, 5, step.Remaining)

	session, open := f.auth.Session("acct1")
	require.True(t, open)
	assert.Zero(t, session.Attempts)

	var failure *domain.AuthenticationFailedError
	for i := 1; i < 5; i++ {
		step, err = f.auth.SubmitSecondFactor(ctx, "acct1", "wrong")
		require.ErrorAs(t, err, &failure)
		assert.False(t, failure.Terminal)
		assert.Equal(t, domain.SessionStateAwaitingSecondFactor, step.State)
		assert.Equal(t, i, step.Attempts)
	}

	step, err = f.auth.SubmitSecondFactor(ctx, "acct1", "wrong")
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Terminal)
	assert.Equal(t, domain.SessionStateFailed, step.State)
	assert.Equal(t, []domain.AccountID{"acct1"}, platform.forgottenAccounts())

	_, open = f.auth.Session("acct1")
	assert.False(t, open)
	assert.Zero(t, f.pool.Statistics().TotalUsed)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusError, account.Status)
	assert.False(t, account.HasCredential())
}

func TestAuthenticatorBarePhoneNumberJoinsPrefixedLogin(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 2)
	ctx := context.Background()

	step, err := f.auth.StartLogin(ctx, "8613800138000")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountID("+8613800138000"), step.Account)

	_, err = f.auth.StartLogin(ctx, "+8613800138000")
	require.ErrorIs(t, err, domain.ErrAlreadyInProgress)

	step, err = f.auth.SubmitChallengeResponse(ctx, "+8613800138000", "1234")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAuthenticated, step.State)
	assert.Equal(t, 1, f.pool.Statistics().TotalUsed)
}

func TestAuthenticatorSecondFactorWithoutLoginIsInvalidState(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", "pw"), 1)
	ctx := context.Background()

	step, err := f.auth.SubmitSecondFactor(ctx, "acct1", "pw")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.SessionStateIdle, step.State)

	_, err = f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	_, err = f.auth.SubmitSecondFactor(ctx, "acct1", "pw")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Zero(t, f.pool.Statistics().TotalUsed)
}

func TestAuthenticatorCorrectCodeWithoutSecondFactor(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "0000")
	require.Error(t, err)

	step, err := f.auth.SubmitChallengeResponse(ctx, "acct1", " 1234 ")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAuthenticated, step.State)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.Zero(t, account.ErrorCount)
}

func TestAuthenticatorExpiredSessionReleasesCredential(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.pool.Statistics().TotalUsed)

	f.clock.Advance(6 * time.Minute)

	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Zero(t, f.pool.Statistics().TotalUsed)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusUnauthorized, account.Status)
}

func TestAuthenticatorSweepExpired(t *testing.T) {
	t.Parallel()

	platform := newScriptedPlatform("1234", "")
	f := newAuthFixture(t, platform, 2)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)
	_, err = f.auth.StartLogin(ctx, "acct2")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, f.auth.SweepExpired(ctx))
	assert.Equal(t, []domain.AccountID{"acct1"}, platform.forgottenAccounts())

	_, open := f.auth.Session("acct1")
	assert.False(t, open)
	_, open = f.auth.Session("acct2")
	assert.True(t, open)
	assert.Equal(t, 1, f.pool.Statistics().TotalUsed)
}

func TestAuthenticatorCancelLogin(t *testing.T) {
	t.Parallel()

	platform := newScriptedPlatform("1234", "")
	f := newAuthFixture(t, platform, 1)
	ctx := context.Background()

	err := f.auth.CancelLogin(ctx, "acct1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, platform.forgottenAccounts())

	_, err = f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	require.NoError(t, f.auth.CancelLogin(ctx, "acct1"))

	assert.Equal(t, []domain.AccountID{"acct1"}, platform.forgottenAccounts())
	assert.Zero(t, f.pool.Statistics().TotalUsed)
	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusUnauthorized, account.Status)
}

func TestAuthenticatorRemoveAccount(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1)
	ctx := context.Background()

	err := f.auth.RemoveAccount(ctx, "acct1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.NoError(t, err)

	require.NoError(t, f.auth.RemoveAccount(ctx, "acct1"))
	assert.Zero(t, f.pool.Statistics().TotalUsed)
	_, saved := f.accounts.get("acct1")
	assert.False(t, saved)

	err = f.auth.RemoveAccount(ctx, "acct1")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAuthenticatorRemoveAccountDropsOpenLogin(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	require.NoError(t, f.auth.RemoveAccount(ctx, "acct1"))

	_, open := f.auth.Session("acct1")
	assert.False(t, open)
	assert.Zero(t, f.pool.Statistics().TotalUsed)
}

func TestAuthenticatorSendChallengeFailureReleasesCredential(t *testing.T) {
	t.Parallel()

	platform := newScriptedPlatform("1234", "")
	platform.sendErr = errBoom
	f := newAuthFixture(t, platform, 1)

	_, err := f.auth.StartLogin(context.Background(), "acct1")
	require.ErrorIs(t, err, errBoom)

	_, open := f.auth.Session("acct1")
	assert.False(t, open)
	assert.Zero(t, f.pool.Statistics().TotalUsed)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusError, account.Status)
}

func TestAuthenticatorStartLoginSaveFailureReleasesCredential(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	pool := NewCredentialPool(newInMemoryCredentialRepo(), newInMemorySecretStore(), clock, nil)
	_, err := pool.AddCredential(context.Background(), "api-1", "hash-1", 1)
	require.NoError(t, err)

	repo := mocks.NewMockAccountRepository(t)
	repo.EXPECT().Save(mock.Anything, mock.MatchedBy(func(account domain.ManagedAccount) bool {
		return account.ID == "acct1" && account.Status == domain.AccountStatusPending
	})).Return(errBoom).Once()

	platform := newScriptedPlatform("1234", "")
	auth := NewAuthenticator(pool, platform, repo, clock, nil)

	_, err = auth.StartLogin(context.Background(), "acct1")
	require.ErrorIs(t, err, errBoom)
	assert.ErrorContains(t, err, "save account")

	assert.Zero(t, pool.Statistics().TotalUsed)
	assert.Empty(t, platform.sent)
	_, open := auth.Session("acct1")
	assert.False(t, open)
}

func TestAuthenticatorPlatformErrorIsTerminal(t *testing.T) {
	t.Parallel()

	platform := mocks.NewMockChallengePlatform(t)
	platform.EXPECT().SendChallenge(mock.Anything, domain.AccountID("acct1"), mock.Anything).Return(nil).Once()
	platform.EXPECT().VerifyChallenge(mock.Anything, domain.AccountID("acct1"), "1234").Return(ports.ChallengeResult{}, errBoom).Once()

	f := newAuthFixture(t, platform, 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)

	step, err := f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, domain.SessionStateFailed, step.State)
	assert.Zero(t, f.pool.Statistics().TotalUsed)

	account, err := f.auth.Account("acct1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusError, account.Status)
}

func TestAuthenticatorContextCancellationKeepsSession(t *testing.T) {
	t.Parallel()

	platform := mocks.NewMockChallengePlatform(t)
	platform.EXPECT().SendChallenge(mock.Anything, domain.AccountID("acct1"), mock.Anything).Return(nil).Once()
	platform.EXPECT().VerifyChallenge(mock.Anything, domain.AccountID("acct1"), "1234").Return(ports.ChallengeResult{}, context.Canceled).Once()

	f := newAuthFixture(t, platform, 1)
	ctx := context.Background()

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)

	step, err := f.auth.SubmitChallengeResponse(ctx, "acct1", "1234")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.SessionStateChallengeSent, step.State)
	assert.Zero(t, step.Attempts)

	session, open := f.auth.Session("acct1")
	require.True(t, open)
	assert.Zero(t, session.Attempts)
}

func TestAuthenticatorStatisticsAndList(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 3)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		_, err := f.auth.StartLogin(ctx, id)
		require.NoError(t, err)
	}
	_, err := f.auth.SubmitChallengeResponse(ctx, "a", "1234")
	require.NoError(t, err)

	stats := f.auth.GetStatistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.OpenLogins)
	assert.InDelta(t, 1.0/3.0, stats.UsageRate, 1e-9)

	list := f.auth.GetAccountList()
	require.Len(t, list, 3)
	assert.Equal(t, []domain.AccountID{"a", "b", "c"}, []domain.AccountID{list[0].ID, list[1].ID, list[2].ID})
}

func TestAuthenticatorReloadAppliesSettings(t *testing.T) {
	t.Parallel()

	settings := AuthSettings{MaxAttempts: 2, SessionTTL: time.Minute}
	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1, WithSettingsSource(func() AuthSettings { return settings }))
	ctx := context.Background()

	require.NoError(t, f.auth.Reload(ctx))
	assert.Equal(t, 2, f.auth.Settings().MaxAttempts)

	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)
	session, ok := f.auth.Session("acct1")
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(time.Minute), session.ExpiresAt)

	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "0")
	require.Error(t, err)
	_, err = f.auth.SubmitChallengeResponse(ctx, "acct1", "0")
	var failure *domain.AuthenticationFailedError
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Terminal)
}

func TestAuthenticatorStartReconcilesAccounts(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	credentials := newInMemoryCredentialRepo(domain.CredentialSlot{
		ID:          "api-1",
		MaxCapacity: 4,
		Status:      domain.CredentialStatusActive,
		Assigned:    []domain.AccountID{"active-ok", "pending", "orphan"},
	})
	pool := NewCredentialPool(credentials, newInMemorySecretStore(), clock, nil)
	require.NoError(t, pool.Start(context.Background()))

	accounts := newInMemoryAccountRepo(
		domain.ManagedAccount{ID: "active-ok", Status: domain.AccountStatusActive, Credential: "api-1"},
		domain.ManagedAccount{ID: "active-lost", Status: domain.AccountStatusActive, Credential: "api-2"},
		domain.ManagedAccount{ID: "pending", Status: domain.AccountStatusPending, Credential: "api-1"},
	)
	auth := NewAuthenticator(pool, newScriptedPlatform("1", ""), accounts, clock, nil, WithAuthSettings(AuthSettings{SweepInterval: time.Hour}))

	ctx := context.Background()
	require.NoError(t, auth.Start(ctx))
	t.Cleanup(func() { require.NoError(t, auth.Stop(context.Background())) })

	lost, _ := accounts.get("active-lost")
	assert.Equal(t, domain.AccountStatusOffline, lost.Status)
	assert.False(t, lost.HasCredential())

	pending, _ := accounts.get("pending")
	assert.Equal(t, domain.AccountStatusUnauthorized, pending.Status)

	assert.Equal(t, []domain.AccountID{"active-ok"}, credentials.get("api-1").Assigned)
}

func TestAuthenticatorStopAbandonsOpenLogins(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, newScriptedPlatform("1234", ""), 1, WithAuthSettings(AuthSettings{SweepInterval: time.Hour}))
	ctx := context.Background()

	require.NoError(t, f.auth.Start(ctx))
	_, err := f.auth.StartLogin(ctx, "acct1")
	require.NoError(t, err)

	require.NoError(t, f.auth.Stop(ctx))
	_, open := f.auth.Session("acct1")
	assert.False(t, open)
	assert.Zero(t, f.pool.Statistics().TotalUsed)

	stats, err := f.auth.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.(AccountStatistics).Unauthorized)
}
