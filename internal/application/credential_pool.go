package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

const CredentialPoolComponent = "credential_pool"

// Assignment is the credential currently backing an account.
type Assignment struct {
	Account    domain.AccountID
	Credential domain.CredentialID
	Slot       domain.CredentialSlot
}

type SlotStatistics struct {
	ID          domain.CredentialID     `json:"id"`
	Status      domain.CredentialStatus `json:"status"`
	MaxCapacity int                     `json:"max_capacity"`
	Used        int                     `json:"used"`
	Accounts    []domain.AccountID      `json:"accounts"`
}

type PoolStatistics struct {
	TotalSlots    int              `json:"total_slots"`
	TotalCapacity int              `json:"total_capacity"`
	TotalUsed     int              `json:"total_used"`
	Available     int              `json:"available"`
	UsageRate     float64          `json:"usage_rate"`
	Slots         []SlotStatistics `json:"slots"`
}

// CredentialPool owns every credential slot. All mutation runs under a single
// mutex held across the capacity check, the assignment and the durable save.
// A repository that implements ports.RepositoryLocker extends that to other
// processes sharing the same state file.
type CredentialPool struct {
	repo    ports.CredentialRepository
	secrets ports.SecretStore
	clock   ports.Clock
	logger  *zap.Logger

	mu        sync.Mutex
	slots     map[domain.CredentialID]domain.CredentialSlot
	byAccount map[domain.AccountID]domain.CredentialID
}

func NewCredentialPool(repo ports.CredentialRepository, secrets ports.SecretStore, clock ports.Clock, logger *zap.Logger) *CredentialPool {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CredentialPool{
		repo:      repo,
		secrets:   secrets,
		clock:     clock,
		logger:    logger.Named(CredentialPoolComponent),
		slots:     map[domain.CredentialID]domain.CredentialSlot{},
		byAccount: map[domain.AccountID]domain.CredentialID{},
	}
}

// Load replaces the in-memory pool with the persisted slots.
func (p *CredentialPool) Load(ctx context.Context) error {
	slots, byAccount, err := p.read(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.slots = slots
	p.byAccount = byAccount
	p.mu.Unlock()

	p.logger.Debug("credential pool loaded", zap.Int("slots", len(slots)), zap.Int("assigned", len(byAccount)))
	return nil
}

func (p *CredentialPool) read(ctx context.Context) (map[domain.CredentialID]domain.CredentialSlot, map[domain.AccountID]domain.CredentialID, error) {
	stored, err := p.repo.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list credentials: %w", err)
	}

	sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })

	slots := make(map[domain.CredentialID]domain.CredentialSlot, len(stored))
	byAccount := map[domain.AccountID]domain.CredentialID{}
	for _, slot := range stored {
		slot.NormalizeAssigned()

		kept := slot.Assigned[:0]
		for _, account := range slot.Assigned {
			if holder, taken := byAccount[account]; taken {
				p.logger.Warn("dropping duplicate assignment",
					zap.String("account_id", string(account)),
					zap.String("credential_id", string(slot.ID)),
					zap.String("held_by", string(holder)),
				)
				continue
			}
			byAccount[account] = slot.ID
			kept = append(kept, account)
		}
		slot.Assigned = kept

		if err := slot.Validate(); err != nil {
			return nil, nil, fmt.Errorf("load credential %s: %w", slot.ID, err)
		}
		slots[slot.ID] = slot
	}
	return slots, byAccount, nil
}

// begin prepares a mutation with p.mu held. When the repository is shared
// with other processes it takes the repository lock and reloads the slots,
// so the write that follows starts from what is on disk.
func (p *CredentialPool) begin(ctx context.Context) (func(), error) {
	locker, ok := p.repo.(ports.RepositoryLocker)
	if !ok {
		return func() {}, nil
	}

	unlock, err := locker.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock credentials: %w", err)
	}
	done := func() {
		if err := unlock(); err != nil {
			p.logger.Warn("credential lock not released", zap.Error(err))
		}
	}

	slots, byAccount, err := p.read(ctx)
	if err != nil {
		done()
		return nil, err
	}
	p.slots = slots
	p.byAccount = byAccount
	return done, nil
}

func (p *CredentialPool) AddCredential(ctx context.Context, id domain.CredentialID, secret string, maxCapacity int) (domain.CredentialSlot, error) {
	id, err := domain.ParseCredentialID(string(id))
	if err != nil {
		return domain.CredentialSlot{}, err
	}
	if strings.TrimSpace(secret) == "" {
		return domain.CredentialSlot{}, fmt.Errorf("%w: credential secret is required", domain.ErrValidation)
	}

	slot := domain.CredentialSlot{
		ID:          id,
		SecretRef:   secretKey(id),
		MaxCapacity: maxCapacity,
		Status:      domain.CredentialStatusActive,
		CreatedAt:   p.clock.Now().UTC(),
	}
	if err := slot.Validate(); err != nil {
		return domain.CredentialSlot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done, err := p.begin(ctx)
	if err != nil {
		return domain.CredentialSlot{}, err
	}
	defer done()

	if _, exists := p.slots[id]; exists {
		return domain.CredentialSlot{}, fmt.Errorf("%w: %s", domain.ErrDuplicateCredential, id)
	}

	if err := p.secrets.Put(ctx, slot.SecretRef, secret); err != nil {
		return domain.CredentialSlot{}, fmt.Errorf("store credential secret: %w", err)
	}
	if err := p.repo.Save(ctx, slot); err != nil {
		saveErr := fmt.Errorf("save credential: %w", err)
		if deleteErr := p.secrets.Delete(ctx, slot.SecretRef); deleteErr != nil {
			return domain.CredentialSlot{}, errors.Join(saveErr, fmt.Errorf("rollback credential secret: %w", deleteErr))
		}
		return domain.CredentialSlot{}, saveErr
	}

	p.slots[id] = slot
	p.logger.Info("credential added", zap.String("credential_id", string(id)), zap.Int("max_capacity", maxCapacity))
	return slot.Clone(), nil
}

func (p *CredentialPool) RemoveCredential(ctx context.Context, id domain.CredentialID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	done, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	slot, ok := p.slots[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCredentialNotFound, id)
	}
	if slot.Used() > 0 {
		return fmt.Errorf("%w: %s backs %d accounts", domain.ErrCredentialInUse, id, slot.Used())
	}

	if err := p.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	delete(p.slots, id)

	if slot.SecretRef != "" {
		if err := p.secrets.Delete(ctx, slot.SecretRef); err != nil {
			p.logger.Warn("credential secret left behind", zap.String("credential_id", string(id)), zap.Error(err))
		}
	}

	p.logger.Info("credential removed", zap.String("credential_id", string(id)))
	return nil
}

// Allocate binds account to the active slot with the fewest assignments,
// breaking ties by ascending credential id. An account that already holds a
// credential gets it back unchanged.
func (p *CredentialPool) Allocate(ctx context.Context, account domain.AccountID) (domain.CredentialID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	done, err := p.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	if held, ok := p.byAccount[account]; ok {
		return held, nil
	}

	picked, ok := p.pickLocked()
	if !ok {
		return "", fmt.Errorf("%w: no credential has spare capacity for %s", domain.ErrPoolExhausted, account)
	}

	next := picked.Clone()
	next.Assigned = append(next.Assigned, account)
	next.NormalizeAssigned()
	if err := next.Validate(); err != nil {
		return "", err
	}
	if err := p.repo.Save(ctx, next); err != nil {
		return "", fmt.Errorf("save credential: %w", err)
	}

	p.slots[next.ID] = next
	p.byAccount[account] = next.ID
	p.logger.Debug("credential allocated", zap.String("account_id", string(account)), zap.String("credential_id", string(next.ID)))
	return next.ID, nil
}

func (p *CredentialPool) pickLocked() (domain.CredentialSlot, bool) {
	var (
		best  domain.CredentialSlot
		found bool
	)
	for _, slot := range p.slots {
		if !slot.HasSpare() {
			continue
		}
		if !found || slot.Used() < best.Used() || (slot.Used() == best.Used() && slot.ID < best.ID) {
			best = slot
			found = true
		}
	}
	return best, found
}

// Release unbinds account from whichever slot holds it. Releasing an
// unassigned account is a no-op.
func (p *CredentialPool) Release(ctx context.Context, account domain.AccountID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	done, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	id, ok := p.byAccount[account]
	if !ok {
		return nil
	}
	slot, ok := p.slots[id]
	if !ok {
		delete(p.byAccount, account)
		return nil
	}

	next := slot.Clone()
	kept := next.Assigned[:0]
	for _, assigned := range next.Assigned {
		if assigned != account {
			kept = append(kept, assigned)
		}
	}
	next.Assigned = kept

	if err := p.repo.Save(ctx, next); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	p.slots[id] = next
	delete(p.byAccount, account)
	p.logger.Debug("credential released", zap.String("account_id", string(account)), zap.String("credential_id", string(id)))
	return nil
}

func (p *CredentialPool) GetAssignment(account domain.AccountID) (Assignment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byAccount[account]
	if !ok {
		return Assignment{}, fmt.Errorf("no credential assigned to %s: %w", account, domain.ErrNotFound)
	}

	return Assignment{Account: account, Credential: id, Slot: p.slots[id].Clone()}, nil
}

// ListAssignments returns every assignment ordered by account id.
func (p *CredentialPool) ListAssignments() []Assignment {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Assignment, 0, len(p.byAccount))
	for account, id := range p.byAccount {
		out = append(out, Assignment{Account: account, Credential: id, Slot: p.slots[id].Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

func (p *CredentialPool) ListCredentials() []domain.CredentialSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sortedLocked()
}

func (p *CredentialPool) sortedLocked() []domain.CredentialSlot {
	out := make([]domain.CredentialSlot, 0, len(p.slots))
	for _, slot := range p.slots {
		out = append(out, slot.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Credential resolves the secret material of a slot for the chat platform.
func (p *CredentialPool) Credential(ctx context.Context, id domain.CredentialID) (domain.Credential, error) {
	p.mu.Lock()
	slot, ok := p.slots[id]
	p.mu.Unlock()
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: %s", domain.ErrCredentialNotFound, id)
	}

	secret, err := p.secrets.Get(ctx, slot.SecretRef)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("read credential secret: %w", err)
	}

	return domain.Credential{ID: id, Secret: secret}, nil
}

// SetCredentialStatus enables or disables a slot. Disabled slots keep their
// assignments but are skipped by Allocate.
func (p *CredentialPool) SetCredentialStatus(ctx context.Context, id domain.CredentialID, status domain.CredentialStatus) (domain.CredentialSlot, error) {
	if !status.Valid() {
		return domain.CredentialSlot{}, fmt.Errorf("%w: unsupported credential status %q", domain.ErrValidation, status)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done, err := p.begin(ctx)
	if err != nil {
		return domain.CredentialSlot{}, err
	}
	defer done()

	slot, ok := p.slots[id]
	if !ok {
		return domain.CredentialSlot{}, fmt.Errorf("%w: %s", domain.ErrCredentialNotFound, id)
	}
	if slot.Status == status {
		return slot.Clone(), nil
	}

	next := slot.Clone()
	next.Status = status
	if err := p.repo.Save(ctx, next); err != nil {
		return domain.CredentialSlot{}, fmt.Errorf("save credential: %w", err)
	}

	p.slots[id] = next
	p.logger.Info("credential status changed", zap.String("credential_id", string(id)), zap.String("status", string(status)))
	return next.Clone(), nil
}

func (p *CredentialPool) Statistics() PoolStatistics {
	p.mu.Lock()
	slots := p.sortedLocked()
	p.mu.Unlock()

	stats := PoolStatistics{TotalSlots: len(slots), Slots: make([]SlotStatistics, 0, len(slots))}
	for _, slot := range slots {
		stats.TotalCapacity += slot.MaxCapacity
		stats.TotalUsed += slot.Used()
		stats.Slots = append(stats.Slots, SlotStatistics{
			ID:          slot.ID,
			Status:      slot.Status,
			MaxCapacity: slot.MaxCapacity,
			Used:        slot.Used(),
			Accounts:    slot.Assigned,
		})
	}

	stats.Available = stats.TotalCapacity - stats.TotalUsed
	if stats.TotalCapacity > 0 {
		stats.UsageRate = float64(stats.TotalUsed) / float64(stats.TotalCapacity)
	}

	return stats
}

func (p *CredentialPool) Name() string {
	return CredentialPoolComponent
}

func (p *CredentialPool) Start(ctx context.Context) error {
	return p.Load(ctx)
}

// Stop is a no-op: every mutation is already durable.
func (p *CredentialPool) Stop(context.Context) error {
	return nil
}

func (p *CredentialPool) Stats(context.Context) (any, error) {
	return p.Statistics(), nil
}

func secretKey(id domain.CredentialID) string {
	return "forwarder/credentials/" + string(id)
}
