package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ports"
)

// MemoryRepository is an in-memory implementation of the AccountRepository
// interface, intended for tests and single-instance deployments.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]core.Account
}

// NewMemoryRepository creates a new in-memory account repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]core.Account),
	}
}

var _ ports.AccountRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) FindOrCreate(ctx context.Context, address string) (*core.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.accounts[address]; ok {
		return &a, nil
	}
	a := core.Account{Address: address, CreatedAt: time.Now()}
	r.accounts[address] = a
	return &a, nil
}

func (r *MemoryRepository) Find(ctx context.Context, address string) (*core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[address]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) MarkVerified(ctx context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[address]
	if !ok {
		return core.ErrNotFound
	}
	a.Verified = true
	r.accounts[address] = a
	return nil
}

func (r *MemoryRepository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for address, a := range r.accounts {
		if !a.Verified && a.CreatedAt.Before(cutoff) {
			delete(r.accounts, address)
			deleted++
		}
	}
	return deleted, nil
}

// Put stores a record as-is. Test seeding helper.
func (r *MemoryRepository) Put(account core.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[account.Address] = account
}
