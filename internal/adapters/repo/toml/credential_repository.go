package toml

import (
	"context"
	"sort"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

// CredentialRepository stores slot metadata and assignments. Secret material
// stays in the secret store; only its reference is written here.
type CredentialRepository struct {
	file stateFile
}

var (
	_ ports.CredentialRepository = (*CredentialRepository)(nil)
	_ ports.RepositoryLocker     = (*CredentialRepository)(nil)
)

func NewCredentialRepository(path string) (*CredentialRepository, error) {
	file, err := newStateFile(path, "credentials")
	if err != nil {
		return nil, err
	}
	return &CredentialRepository{file: file}, nil
}

// Lock holds credentials.toml against other processes until the returned
// func runs. Save and Delete do not take it themselves.
func (r *CredentialRepository) Lock(ctx context.Context) (func() error, error) {
	return r.file.lock(ctx)
}

func (r *CredentialRepository) Save(ctx context.Context, slot domain.CredentialSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toCredentialSchema(slot)
	updated := false
	for i := range doc.Credentials {
		if doc.Credentials[i].ID == encoded.ID {
			doc.Credentials[i] = encoded
			updated = true
			break
		}
	}
	if !updated {
		doc.Credentials = append(doc.Credentials, encoded)
	}
	sort.Slice(doc.Credentials, func(i, j int) bool { return doc.Credentials[i].ID < doc.Credentials[j].ID })

	if err := ctx.Err(); err != nil {
		return err
	}
	return r.file.write(doc)
}

func (r *CredentialRepository) List(ctx context.Context) ([]domain.CredentialSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	doc, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	slots := make([]domain.CredentialSlot, 0, len(doc.Credentials))
	for _, entry := range doc.Credentials {
		slots = append(slots, fromCredentialSchema(entry))
	}
	return slots, nil
}

func (r *CredentialRepository) Delete(ctx context.Context, id domain.CredentialID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	doc, err := r.readSchema()
	if err != nil {
		return err
	}

	kept := doc.Credentials[:0]
	found := false
	for _, entry := range doc.Credentials {
		if entry.ID == string(id) {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return domain.ErrCredentialNotFound
	}
	doc.Credentials = kept

	return r.file.write(doc)
}

func (r *CredentialRepository) readSchema() (credentialsFileSchema, error) {
	var doc credentialsFileSchema
	if err := r.file.read(&doc); err != nil {
		return credentialsFileSchema{}, err
	}
	if err := doc.validateVersion(); err != nil {
		return credentialsFileSchema{}, err
	}
	doc.applyDefaults()
	return doc, nil
}

func toCredentialSchema(slot domain.CredentialSlot) credentialSchema {
	assigned := make([]string, 0, len(slot.Assigned))
	for _, account := range slot.Assigned {
		assigned = append(assigned, string(account))
	}

	return credentialSchema{
		ID:          string(slot.ID),
		SecretRef:   slot.SecretRef,
		MaxCapacity: slot.MaxCapacity,
		Status:      string(slot.Status),
		Assigned:    assigned,
		CreatedAt:   formatTime(slot.CreatedAt),
	}
}

func fromCredentialSchema(entry credentialSchema) domain.CredentialSlot {
	assigned := make([]domain.AccountID, 0, len(entry.Assigned))
	for _, account := range entry.Assigned {
		assigned = append(assigned, domain.AccountID(account))
	}

	status := domain.CredentialStatus(entry.Status)
	if status == "" {
		status = domain.CredentialStatusActive
	}

	return domain.CredentialSlot{
		ID:          domain.CredentialID(entry.ID),
		SecretRef:   entry.SecretRef,
		MaxCapacity: entry.MaxCapacity,
		Status:      status,
		Assigned:    assigned,
		CreatedAt:   parseTime(entry.CreatedAt),
	}
}
