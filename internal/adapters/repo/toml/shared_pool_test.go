package toml

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/forwarder/internal/application"
	"github.com/bnema/forwarder/internal/domain"
)

func newSharedPool(t *testing.T, path string) *application.CredentialPool {
	t.Helper()

	repo, err := NewCredentialRepository(path)
	require.NoError(t, err)
	pool := application.NewCredentialPool(repo, nil, nil, nil)
	require.NoError(t, pool.Load(context.Background()))
	return pool
}

func seedCredential(t *testing.T, path string, slot domain.CredentialSlot) {
	t.Helper()

	repo, err := NewCredentialRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), slot))
}

func TestPoolsSharingStateKeepEachOthersAssignments(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.toml")
	seedCredential(t, path, domain.CredentialSlot{ID: "api-1", MaxCapacity: 2, Status: domain.CredentialStatusActive})

	first := newSharedPool(t, path)
	second := newSharedPool(t, path)
	ctx := context.Background()

	got, err := first.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialID("api-1"), got)
	got, err = second.Allocate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialID("api-1"), got)

	fresh := newSharedPool(t, path)
	stats := fresh.Statistics()
	require.Len(t, stats.Slots, 1)
	assert.Equal(t, []domain.AccountID{"alice", "bob"}, stats.Slots[0].Accounts)

	_, err = first.Allocate(ctx, "carol")
	require.ErrorIs(t, err, domain.ErrPoolExhausted)

	require.NoError(t, first.Release(ctx, "bob"))
	fresh = newSharedPool(t, path)
	assert.Equal(t, []domain.AccountID{"alice"}, fresh.Statistics().Slots[0].Accounts)

	require.ErrorIs(t, second.RemoveCredential(ctx, "api-1"), domain.ErrCredentialInUse)
}

func TestPoolsSharingStateNeverOverCommit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.toml")
	seedCredential(t, path, domain.CredentialSlot{ID: "api-1", MaxCapacity: 3, Status: domain.CredentialStatusActive})
	pools := []*application.CredentialPool{newSharedPool(t, path), newSharedPool(t, path)}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		allocated int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pools[i%2].Allocate(context.Background(), domain.AccountID(fmt.Sprintf("acct%d", i)))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrPoolExhausted)
				return
			}
			mu.Lock()
			allocated++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, allocated)
	assert.Len(t, newSharedPool(t, path).Statistics().Slots[0].Accounts, 3)
}

func TestCredentialRepositoryLockHonoursContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.toml")
	repo, err := NewCredentialRepository(path)
	require.NoError(t, err)

	unlock, err := repo.Lock(context.Background())
	require.NoError(t, err)

	waiting := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go func() {
		_, err := repo.Lock(ctx)
		waiting <- err
	}()

	err = <-waiting
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock())
	again, err := repo.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, again())
}
