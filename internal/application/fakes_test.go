package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

type inMemoryCredentialRepo struct {
	mu      sync.Mutex
	slots   map[domain.CredentialID]domain.CredentialSlot
	saveErr error
	saves   int
}

func newInMemoryCredentialRepo(slots ...domain.CredentialSlot) *inMemoryCredentialRepo {
	repo := &inMemoryCredentialRepo{slots: map[domain.CredentialID]domain.CredentialSlot{}}
	for _, slot := range slots {
		repo.slots[slot.ID] = slot
	}
	return repo
}

func (r *inMemoryCredentialRepo) List(context.Context) ([]domain.CredentialSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.CredentialSlot, 0, len(r.slots))
	for _, slot := range r.slots {
		out = append(out, slot.Clone())
	}
	return out, nil
}

func (r *inMemoryCredentialRepo) Save(_ context.Context, slot domain.CredentialSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.slots[slot.ID] = slot.Clone()
	return nil
}

func (r *inMemoryCredentialRepo) Delete(_ context.Context, id domain.CredentialID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.slots, id)
	return nil
}

func (r *inMemoryCredentialRepo) get(id domain.CredentialID) domain.CredentialSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id]
}

type inMemoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]domain.ManagedAccount
}

func newInMemoryAccountRepo(accounts ...domain.ManagedAccount) *inMemoryAccountRepo {
	repo := &inMemoryAccountRepo{accounts: map[domain.AccountID]domain.ManagedAccount{}}
	for _, account := range accounts {
		repo.accounts[account.ID] = account
	}
	return repo
}

func (r *inMemoryAccountRepo) GetByID(_ context.Context, id domain.AccountID) (domain.ManagedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return domain.ManagedAccount{}, domain.ErrAccountNotFound
	}
	return account, nil
}

func (r *inMemoryAccountRepo) List(context.Context) ([]domain.ManagedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ManagedAccount, 0, len(r.accounts))
	for _, account := range r.accounts {
		out = append(out, account)
	}
	return out, nil
}

func (r *inMemoryAccountRepo) Save(_ context.Context, account domain.ManagedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[account.ID] = account
	return nil
}

func (r *inMemoryAccountRepo) Delete(_ context.Context, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return domain.ErrAccountNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *inMemoryAccountRepo) get(id domain.AccountID) (domain.ManagedAccount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	return account, ok
}

type inMemorySecretStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newInMemorySecretStore() *inMemorySecretStore {
	return &inMemorySecretStore{values: map[string]string{}}
}

func (s *inMemorySecretStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", domain.ErrSecretNotFound
	}
	return value, nil
}

func (s *inMemorySecretStore) Put(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *inMemorySecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedPlatform accepts fixed codes and records challenge deliveries.
type scriptedPlatform struct {
	mu           sync.Mutex
	code         string
	secondFactor string
	sendErr      error
	verifyErr    error
	sent         map[domain.AccountID]domain.Credential
	forgotten    []domain.AccountID
}

func newScriptedPlatform(code string, secondFactor string) *scriptedPlatform {
	return &scriptedPlatform{code: code, secondFactor: secondFactor, sent: map[domain.AccountID]domain.Credential{}}
}

func (p *scriptedPlatform) SendChallenge(_ context.Context, account domain.AccountID, credential domain.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent[account] = credential
	return nil
}

func (p *scriptedPlatform) VerifyChallenge(_ context.Context, _ domain.AccountID, code string) (ports.ChallengeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verifyErr != nil {
		return ports.ChallengeResult{}, p.verifyErr
	}
	if code != p.code {
		return ports.ChallengeResult{}, domain.ErrChallengeRejected
	}
	return ports.ChallengeResult{SecondFactorRequired: p.secondFactor != ""}, nil
}

func (p *scriptedPlatform) VerifySecondFactor(_ context.Context, _ domain.AccountID, secret string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if secret != p.secondFactor {
		return domain.ErrChallengeRejected
	}
	return nil
}

func (p *scriptedPlatform) Forget(account domain.AccountID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.forgotten = append(p.forgotten, account)
}

func (p *scriptedPlatform) forgottenAccounts() []domain.AccountID {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]domain.AccountID(nil), p.forgotten...)
}

var errBoom = errors.New("boom")
