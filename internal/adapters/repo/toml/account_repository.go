package toml

import (
	"context"
	"sort"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

type AccountRepository struct {
	file stateFile
}

var _ ports.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(path string) (*AccountRepository, error) {
	file, err := newStateFile(path, "accounts")
	if err != nil {
		return nil, err
	}
	return &AccountRepository{file: file}, nil
}

// Save rewrites one account entry while holding accounts.toml against other
// processes, so concurrent logins never drop each other's records.
func (r *AccountRepository) Save(ctx context.Context, account domain.ManagedAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.file.exclusive(ctx, func() error {
		doc, err := r.readSchema()
		if err != nil {
			return err
		}

		encoded := toAccountSchema(account)
		updated := false
		for i := range doc.Accounts {
			if doc.Accounts[i].ID == encoded.ID {
				doc.Accounts[i] = encoded
				updated = true
				break
			}
		}
		if !updated {
			doc.Accounts = append(doc.Accounts, encoded)
		}
		sort.Slice(doc.Accounts, func(i, j int) bool { return doc.Accounts[i].ID < doc.Accounts[j].ID })

		if err := ctx.Err(); err != nil {
			return err
		}
		return r.file.write(doc)
	})
}

func (r *AccountRepository) GetByID(ctx context.Context, id domain.AccountID) (domain.ManagedAccount, error) {
	if err := ctx.Err(); err != nil {
		return domain.ManagedAccount{}, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	doc, err := r.readSchema()
	if err != nil {
		return domain.ManagedAccount{}, err
	}

	for _, entry := range doc.Accounts {
		if entry.ID == string(id) {
			return fromAccountSchema(entry), nil
		}
	}
	return domain.ManagedAccount{}, domain.ErrAccountNotFound
}

func (r *AccountRepository) List(ctx context.Context) ([]domain.ManagedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	doc, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.ManagedAccount, 0, len(doc.Accounts))
	for _, entry := range doc.Accounts {
		accounts = append(accounts, fromAccountSchema(entry))
	}
	return accounts, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.file.exclusive(ctx, func() error {
		doc, err := r.readSchema()
		if err != nil {
			return err
		}

		kept := doc.Accounts[:0]
		found := false
		for _, entry := range doc.Accounts {
			if entry.ID == string(id) {
				found = true
				continue
			}
			kept = append(kept, entry)
		}
		if !found {
			return domain.ErrAccountNotFound
		}
		doc.Accounts = kept

		return r.file.write(doc)
	})
}

func (r *AccountRepository) readSchema() (accountsFileSchema, error) {
	var doc accountsFileSchema
	if err := r.file.read(&doc); err != nil {
		return accountsFileSchema{}, err
	}
	if err := doc.validateVersion(); err != nil {
		return accountsFileSchema{}, err
	}
	doc.applyDefaults()
	return doc, nil
}

func toAccountSchema(account domain.ManagedAccount) accountSchema {
	return accountSchema{
		ID:         string(account.ID),
		Status:     string(account.Status),
		Credential: string(account.Credential),
		ErrorCount: account.ErrorCount,
		LastActive: formatTime(account.LastActive),
		CreatedAt:  formatTime(account.CreatedAt),
	}
}

func fromAccountSchema(entry accountSchema) domain.ManagedAccount {
	status := domain.AccountStatus(entry.Status)
	if !status.Valid() {
		status = domain.AccountStatusOffline
	}

	return domain.ManagedAccount{
		ID:         domain.AccountID(entry.ID),
		Status:     status,
		Credential: domain.CredentialID(entry.Credential),
		ErrorCount: entry.ErrorCount,
		LastActive: parseTime(entry.LastActive),
		CreatedAt:  parseTime(entry.CreatedAt),
	}
}
