package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/lifecycle"
	"github.com/bnema/forwarder/internal/ports"
)

const (
	AuthenticatorComponent = "account_authenticator"
	DefaultMaxAttempts     = 5
	DefaultSweepInterval   = 30 * time.Second
)

type AuthSettings struct {
	MaxAttempts   int
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

func (s AuthSettings) withDefaults() AuthSettings {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = DefaultSessionTTL
	}
	if s.SweepInterval < 0 {
		s.SweepInterval = 0
	}
	return s
}

// LoginStep describes where a handshake stands after an operation.
type LoginStep struct {
	Account    domain.AccountID    `json:"account_id"`
	State      domain.SessionState `json:"state"`
	Credential domain.CredentialID `json:"credential_id,omitempty"`
	Attempts   int                 `json:"attempts"`
	Remaining  int                 `json:"remaining"`
	ExpiresAt  time.Time           `json:"expires_at,omitempty"`
	Prompt     string              `json:"prompt"`
}

type AccountStatistics struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	Pending      int     `json:"pending"`
	Error        int     `json:"error"`
	Offline      int     `json:"offline"`
	Unauthorized int     `json:"unauthorized"`
	OpenLogins   int     `json:"open_logins"`
	UsageRate    float64 `json:"usage_rate"`
}

type AuthenticatorOption func(*Authenticator)

func WithAuthSettings(settings AuthSettings) AuthenticatorOption {
	return func(a *Authenticator) {
		a.settings = settings.withDefaults()
	}
}

// WithSettingsSource makes Reload pull fresh settings from source.
func WithSettingsSource(source func() AuthSettings) AuthenticatorOption {
	return func(a *Authenticator) {
		a.source = source
	}
}

// Authenticator drives the per-account login handshake. Operations on the
// same account are serialized; different accounts progress independently.
type Authenticator struct {
	pool     *CredentialPool
	sessions *SessionStore
	platform ports.ChallengePlatform
	repo     ports.AccountRepository
	clock    ports.Clock
	logger   *zap.Logger
	source   func() AuthSettings
	locks    *accountLocks

	settingsMu sync.RWMutex
	settings   AuthSettings

	mu       sync.RWMutex
	accounts map[domain.AccountID]domain.ManagedAccount

	loopMu sync.Mutex
	loop   *lifecycle.Background
}

func NewAuthenticator(pool *CredentialPool, platform ports.ChallengePlatform, repo ports.AccountRepository, clock ports.Clock, logger *zap.Logger, opts ...AuthenticatorOption) *Authenticator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Authenticator{
		pool:     pool,
		platform: platform,
		repo:     repo,
		clock:    clock,
		logger:   logger.Named(AuthenticatorComponent),
		locks:    newAccountLocks(),
		settings: AuthSettings{SweepInterval: DefaultSweepInterval}.withDefaults(),
		accounts: map[domain.AccountID]domain.ManagedAccount{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.sessions = NewSessionStore(a.settings.SessionTTL, clock)

	return a
}

func (a *Authenticator) Settings() AuthSettings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.settings
}

func (a *Authenticator) applySettings(settings AuthSettings) {
	settings = settings.withDefaults()

	a.settingsMu.Lock()
	a.settings = settings
	a.settingsMu.Unlock()

	a.sessions.SetTTL(settings.SessionTTL)
}

// Load replaces the in-memory account table with the persisted accounts.
func (a *Authenticator) Load(ctx context.Context) error {
	stored, err := a.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	accounts := make(map[domain.AccountID]domain.ManagedAccount, len(stored))
	for _, account := range stored {
		accounts[account.ID] = account
	}

	a.mu.Lock()
	a.accounts = accounts
	a.mu.Unlock()
	return nil
}

// StartLogin reserves a credential for account and sends it a challenge.
func (a *Authenticator) StartLogin(ctx context.Context, rawID string) (LoginStep, error) {
	id, err := domain.ParseAccountID(rawID)
	if err != nil {
		return LoginStep{}, err
	}

	unlock := a.locks.lock(id)
	defer unlock()

	if _, err := a.openSession(ctx, id); err == nil {
		return LoginStep{}, fmt.Errorf("%w: %s", domain.ErrAlreadyInProgress, id)
	} else if !errors.Is(err, domain.ErrSessionExpired) {
		return LoginStep{}, err
	}

	account, exists := a.account(id)
	if exists && account.Status == domain.AccountStatusActive {
		return LoginStep{}, fmt.Errorf("%w: account %s is already authenticated", domain.ErrInvalidState, id)
	}

	credentialID, err := a.pool.Allocate(ctx, id)
	if err != nil {
		return LoginStep{}, err
	}

	now := a.clock.Now().UTC()
	if !exists {
		account = domain.ManagedAccount{ID: id, CreatedAt: now}
	}
	account.Status = domain.AccountStatusPending
	account.Credential = credentialID
	if err := a.saveAccount(ctx, account); err != nil {
		return LoginStep{}, a.releaseOnError(ctx, id, err)
	}

	credential, err := a.pool.Credential(ctx, credentialID)
	if err == nil {
		err = a.platform.SendChallenge(ctx, id, credential)
	}
	if err != nil {
		status := domain.AccountStatusError
		if isContextError(err) {
			status = domain.AccountStatusUnauthorized
		}
		a.logger.Warn("challenge delivery failed", zap.String("account_id", string(id)), zap.Error(err))
		return LoginStep{}, errors.Join(fmt.Errorf("send challenge: %w", err), a.abandon(ctx, id, status))
	}

	session, err := a.sessions.Create(id, credentialID, domain.SessionStateChallengeSent)
	if err != nil {
		return LoginStep{}, errors.Join(err, a.abandon(ctx, id, domain.AccountStatusUnauthorized))
	}

	a.logger.Info("challenge sent", zap.String("account_id", string(id)), zap.String("credential_id", string(credentialID)))
	return a.step(session, fmt.Sprintf("verification code sent to %s, reply with the code", id)), nil
}

func (a *Authenticator) SubmitChallengeResponse(ctx context.Context, rawID string, code string) (LoginStep, error) {
	id, err := domain.ParseAccountID(rawID)
	if err != nil {
		return LoginStep{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return LoginStep{}, fmt.Errorf("%w: verification code is required", domain.ErrValidation)
	}

	unlock := a.locks.lock(id)
	defer unlock()

	session, err := a.openSession(ctx, id)
	if err != nil {
		return LoginStep{}, err
	}
	if session.State != domain.SessionStateChallengeSent {
		return a.step(session, "a second factor is expected"), fmt.Errorf("%w: verification code not expected in state %s", domain.ErrInvalidState, session.State)
	}

	result, err := a.platform.VerifyChallenge(ctx, id, code)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrChallengeRejected):
		return a.reject(ctx, session)
	case isContextError(err):
		return a.step(session, "verification interrupted, submit the code again"), err
	default:
		return a.fail(ctx, session, fmt.Errorf("verify challenge: %w", err))
	}

	if result.SecondFactorRequired {
		session.State = domain.SessionStateAwaitingSecondFactor
		session.Attempts = 0
		if err := a.sessions.Update(session); err != nil {
			return LoginStep{}, err
		}
		a.logger.Info("second factor required", zap.String("account_id", string(id)))
		return a.step(session, fmt.Sprintf("%s requires a second factor, reply with the password", id)), nil
	}

	return a.complete(ctx, session)
}

func (a *Authenticator) SubmitSecondFactor(ctx context.Context, rawID string, secret string) (LoginStep, error) {
	id, err := domain.ParseAccountID(rawID)
	if err != nil {
		return LoginStep{}, err
	}
	if secret == "" {
		return LoginStep{}, fmt.Errorf("%w: second factor is required", domain.ErrValidation)
	}

	unlock := a.locks.lock(id)
	defer unlock()

	if _, open := a.sessions.Peek(id); !open {
		idle := LoginStep{Account: id, State: domain.SessionStateIdle, Prompt: "start a login first"}
		return idle, fmt.Errorf("%w: second factor not expected without an open login for %s", domain.ErrInvalidState, id)
	}

	session, err := a.openSession(ctx, id)
	if err != nil {
		return LoginStep{}, err
	}
	if session.State != domain.SessionStateAwaitingSecondFactor {
		return a.step(session, "a verification code is expected"), fmt.Errorf("%w: second factor not expected in state %s", domain.ErrInvalidState, session.State)
	}

	err = a.platform.VerifySecondFactor(ctx, id, secret)
	switch {
	case err == nil:
		return a.complete(ctx, session)
	case errors.Is(err, domain.ErrChallengeRejected):
		return a.reject(ctx, session)
	case isContextError(err):
		return a.step(session, "verification interrupted, submit the second factor again"), err
	default:
		return a.fail(ctx, session, fmt.Errorf("verify second factor: %w", err))
	}
}

// CancelLogin tears down an open handshake. The account keeps no credential
// and is marked unauthorized.
func (a *Authenticator) CancelLogin(ctx context.Context, rawID string) error {
	id, err := domain.ParseAccountID(rawID)
	if err != nil {
		return err
	}

	unlock := a.locks.lock(id)
	defer unlock()

	if _, ok := a.sessions.Delete(id); !ok {
		return fmt.Errorf("no open login for %s: %w", id, domain.ErrNotFound)
	}

	a.logger.Info("login cancelled", zap.String("account_id", string(id)))
	return a.abandon(ctx, id, domain.AccountStatusUnauthorized)
}

// RemoveAccount releases the account's credential, drops any open login and
// deletes the record.
func (a *Authenticator) RemoveAccount(ctx context.Context, rawID string) error {
	id, err := domain.ParseAccountID(rawID)
	if err != nil {
		return err
	}

	unlock := a.locks.lock(id)
	defer unlock()

	if _, ok := a.account(id); !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}

	if err := a.pool.Release(ctx, id); err != nil {
		return fmt.Errorf("release credential: %w", err)
	}
	a.sessions.Delete(id)

	if err := a.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete account: %w", err)
	}

	a.mu.Lock()
	delete(a.accounts, id)
	a.mu.Unlock()

	a.logger.Info("account removed", zap.String("account_id", string(id)))
	return nil
}

// SweepExpired abandons every handshake past its deadline and reports how
// many were swept.
func (a *Authenticator) SweepExpired(ctx context.Context) int {
	swept := 0
	for _, id := range a.sessions.Expired(a.clock.Now().UTC()) {
		unlock := a.locks.lock(id)
		if session, ok := a.sessions.Peek(id); ok && session.Expired(a.clock.Now().UTC()) {
			if _, err := a.openSession(ctx, id); errors.Is(err, domain.ErrSessionExpired) {
				swept++
			}
		}
		unlock()
	}

	if swept > 0 {
		a.logger.Info("expired logins swept", zap.Int("count", swept))
	}
	return swept
}

func (a *Authenticator) GetStatistics() AccountStatistics {
	a.mu.RLock()
	stats := AccountStatistics{Total: len(a.accounts)}
	for _, account := range a.accounts {
		switch account.Status {
		case domain.AccountStatusActive:
			stats.Active++
		case domain.AccountStatusPending:
			stats.Pending++
		case domain.AccountStatusError:
			stats.Error++
		case domain.AccountStatusOffline:
			stats.Offline++
		case domain.AccountStatusUnauthorized:
			stats.Unauthorized++
		}
	}
	a.mu.RUnlock()

	stats.OpenLogins = a.sessions.Len()
	if stats.Total > 0 {
		stats.UsageRate = float64(stats.Active) / float64(stats.Total)
	}
	return stats
}

func (a *Authenticator) GetAccountList() []domain.ManagedAccount {
	a.mu.RLock()
	out := make([]domain.ManagedAccount, 0, len(a.accounts))
	for _, account := range a.accounts {
		out = append(out, account)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Authenticator) Account(rawID string) (domain.ManagedAccount, error) {
	id, err := domain.ParseAccountID(rawID)
	if err != nil {
		return domain.ManagedAccount{}, err
	}

	account, ok := a.account(id)
	if !ok {
		return domain.ManagedAccount{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return account, nil
}

// Session returns the open handshake of an account, if any.
func (a *Authenticator) Session(id domain.AccountID) (domain.ConversationSession, bool) {
	return a.sessions.Peek(id)
}

func (a *Authenticator) Name() string {
	return AuthenticatorComponent
}

// Start loads accounts, reconciles them with the pool and launches the
// expiry sweep.
func (a *Authenticator) Start(ctx context.Context) error {
	if err := a.Load(ctx); err != nil {
		return err
	}
	if err := a.Reconcile(ctx); err != nil {
		return err
	}

	interval := a.Settings().SweepInterval
	if interval <= 0 {
		return nil
	}

	a.loopMu.Lock()
	defer a.loopMu.Unlock()

	if a.loop == nil {
		a.loop = lifecycle.NewBackground(ctx)
		a.loop.Go(lifecycle.Every(interval, func(ctx context.Context) {
			a.SweepExpired(ctx)
		}))
	}
	return nil
}

// Stop ends the sweep loop and abandons every open handshake.
func (a *Authenticator) Stop(ctx context.Context) error {
	a.loopMu.Lock()
	loop := a.loop
	a.loop = nil
	a.loopMu.Unlock()

	var errs []error
	if loop != nil {
		if err := loop.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop sweep loop: %w", err))
		}
	}

	for _, session := range a.sessions.Drain() {
		unlock := a.locks.lock(session.AccountID)
		err := a.abandon(ctx, session.AccountID, domain.AccountStatusUnauthorized)
		unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *Authenticator) Reload(context.Context) error {
	if a.source == nil {
		return nil
	}

	settings := a.source()
	a.applySettings(settings)
	a.logger.Info("settings reloaded", zap.Int("max_attempts", a.Settings().MaxAttempts), zap.Duration("session_ttl", a.Settings().SessionTTL))
	return nil
}

func (a *Authenticator) Stats(context.Context) (any, error) {
	return a.GetStatistics(), nil
}

// Reconcile restores the invariant that an active account holds a credential
// listing it. Active accounts that lost their credential go offline;
// allocations held by accounts that are not active are released.
func (a *Authenticator) Reconcile(ctx context.Context) error {
	held := map[domain.AccountID]domain.CredentialID{}
	for _, assignment := range a.pool.ListAssignments() {
		held[assignment.Account] = assignment.Credential
	}

	var errs []error
	for _, account := range a.GetAccountList() {
		credential, ok := held[account.ID]
		delete(held, account.ID)

		switch {
		case account.Status == domain.AccountStatusActive && (!ok || credential != account.Credential):
			account.Status = domain.AccountStatusOffline
			account.Credential = ""
			a.logger.Warn("active account lost its credential", zap.String("account_id", string(account.ID)))
			if ok {
				if err := a.pool.Release(ctx, account.ID); err != nil {
					errs = append(errs, err)
					continue
				}
			}
		case account.Status != domain.AccountStatusActive && (ok || account.HasCredential()):
			if ok {
				if err := a.pool.Release(ctx, account.ID); err != nil {
					errs = append(errs, err)
					continue
				}
			}
			account.Credential = ""
			if account.Status == domain.AccountStatusPending {
				account.Status = domain.AccountStatusUnauthorized
			}
		default:
			continue
		}

		if err := a.saveAccount(ctx, account); err != nil {
			errs = append(errs, err)
		}
	}

	for orphan := range held {
		a.logger.Warn("releasing orphaned assignment", zap.String("account_id", string(orphan)))
		if err := a.pool.Release(ctx, orphan); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reconcile accounts: %w", err)
	}
	return nil
}

// openSession returns the live session for id. An expired session is torn
// down before ErrSessionExpired is returned.
func (a *Authenticator) openSession(ctx context.Context, id domain.AccountID) (domain.ConversationSession, error) {
	session, err := a.sessions.Get(id)
	if err == nil {
		return session, nil
	}
	if session.ID != "" {
		a.logger.Info("login expired", zap.String("account_id", string(id)))
		if abandonErr := a.abandon(ctx, id, domain.AccountStatusUnauthorized); abandonErr != nil {
			return domain.ConversationSession{}, errors.Join(err, abandonErr)
		}
	}
	return domain.ConversationSession{}, err
}

func (a *Authenticator) reject(ctx context.Context, session domain.ConversationSession) (LoginStep, error) {
	maxAttempts := a.Settings().MaxAttempts
	session.Attempts++

	failure := &domain.AuthenticationFailedError{
		Account:     session.AccountID,
		Attempts:    session.Attempts,
		MaxAttempts: maxAttempts,
	}

	if session.Attempts >= maxAttempts {
		failure.Terminal = true
		step, err := a.fail(ctx, session, failure)
		step.Prompt = fmt.Sprintf("too many wrong attempts, login for %s aborted", session.AccountID)
		return step, err
	}

	if err := a.sessions.Update(session); err != nil {
		return LoginStep{}, err
	}

	a.logger.Info("challenge rejected", zap.String("account_id", string(session.AccountID)), zap.Int("attempts", session.Attempts))
	return a.step(session, fmt.Sprintf("wrong code, %d attempts left", failure.Remaining())), failure
}

// fail moves the handshake to FAILED: the session is destroyed, the
// credential released and the account marked error.
func (a *Authenticator) fail(ctx context.Context, session domain.ConversationSession, cause error) (LoginStep, error) {
	a.sessions.Delete(session.AccountID)

	a.logger.Warn("login failed", zap.String("account_id", string(session.AccountID)), zap.Error(cause))

	step := a.step(session, fmt.Sprintf("login for %s failed", session.AccountID))
	step.State = domain.SessionStateFailed
	step.Remaining = 0
	return step, errors.Join(cause, a.abandonWith(ctx, session.AccountID, domain.AccountStatusError, 1))
}

func (a *Authenticator) complete(ctx context.Context, session domain.ConversationSession) (LoginStep, error) {
	account, ok := a.account(session.AccountID)
	if !ok {
		account = domain.ManagedAccount{ID: session.AccountID, CreatedAt: a.clock.Now().UTC()}
	}
	account.Status = domain.AccountStatusActive
	account.Credential = session.Credential
	account.ErrorCount = 0
	account.LastActive = a.clock.Now().UTC()

	if err := a.saveAccount(ctx, account); err != nil {
		return a.step(session, "could not record the login, submit again"), err
	}
	a.sessions.Delete(session.AccountID)

	a.logger.Info("account authenticated", zap.String("account_id", string(account.ID)), zap.String("credential_id", string(account.Credential)))

	step := a.step(session, fmt.Sprintf("%s is logged in", account.ID))
	step.State = domain.SessionStateAuthenticated
	return step, nil
}

// abandon releases the account's credential and records status. Callers
// hold the account lock and have already removed the session.
func (a *Authenticator) abandon(ctx context.Context, id domain.AccountID, status domain.AccountStatus) error {
	return a.abandonWith(ctx, id, status, 0)
}

func (a *Authenticator) abandonWith(ctx context.Context, id domain.AccountID, status domain.AccountStatus, errorDelta int) error {
	if forgetter, ok := a.platform.(ports.ChallengeForgetter); ok {
		forgetter.Forget(id)
	}

	var errs []error
	if err := a.pool.Release(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("release credential: %w", err))
	}

	if account, ok := a.account(id); ok {
		account.Status = status
		account.Credential = ""
		account.ErrorCount += errorDelta
		if err := a.saveAccount(ctx, account); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *Authenticator) releaseOnError(ctx context.Context, id domain.AccountID, cause error) error {
	if err := a.pool.Release(ctx, id); err != nil {
		return errors.Join(cause, fmt.Errorf("release credential: %w", err))
	}
	return cause
}

func (a *Authenticator) step(session domain.ConversationSession, prompt string) LoginStep {
	maxAttempts := a.Settings().MaxAttempts
	remaining := maxAttempts - session.Attempts
	if remaining < 0 {
		remaining = 0
	}

	return LoginStep{
		Account:    session.AccountID,
		State:      session.State,
		Credential: session.Credential,
		Attempts:   session.Attempts,
		Remaining:  remaining,
		ExpiresAt:  session.ExpiresAt,
		Prompt:     prompt,
	}
}

func (a *Authenticator) account(id domain.AccountID) (domain.ManagedAccount, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	account, ok := a.accounts[id]
	return account, ok
}

// saveAccount writes through to the repository before updating memory.
func (a *Authenticator) saveAccount(ctx context.Context, account domain.ManagedAccount) error {
	if err := a.repo.Save(ctx, account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	a.mu.Lock()
	a.accounts[account.ID] = account
	a.mu.Unlock()
	return nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
