package storage

import (
	"context"
	"sync"
	"time"

	"ATX/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	lock "github.com/viney-shih/go-lock"
)

// memRow pairs an account with its own latch so that the compare-and-set on
// the lock slot never blocks on unrelated rows.
type memRow struct {
	latch lock.Mutex
	acct  *Account
}

// MemStore is the in-process account store used by tests and the benchmark.
// Semantics match the SQL store: every transition runs under the row latch
// with the lock-slot predicate re-checked inside.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]*memRow
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*memRow)}
}

func (c *MemStore) row(accountID string) (*memRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rows[accountID]
	return r, ok
}

func (c *MemStore) CreateAccount(_ context.Context, ownerID string, opening decimal.Decimal) (*Account, error) {
	if opening.IsNegative() {
		return nil, utils.ErrInvalidAmount
	}
	now := time.Now().UTC()
	acct := &Account{
		AccountID: uuid.New().String(),
		OwnerID:   ownerID,
		Balance:   Money(opening),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.rows[acct.AccountID] = &memRow{latch: lock.NewCASMutex(), acct: acct}
	c.mu.Unlock()
	return acct.clone(), nil
}

func (c *MemStore) GetAccount(_ context.Context, accountID string) (*Account, error) {
	r, ok := c.row(accountID)
	if !ok {
		return nil, utils.ErrAccountNotFound
	}
	r.latch.Lock()
	defer r.latch.Unlock()
	return r.acct.clone(), nil
}

func (c *MemStore) PrepareLock(_ context.Context, tid string, accountID string, delta decimal.Decimal) error {
	r, ok := c.row(accountID)
	if !ok {
		return utils.ErrAccountNotFound
	}
	r.latch.Lock()
	defer r.latch.Unlock()
	if r.acct.Locked() {
		return utils.ErrLockConflict
	}
	// Debit feasibility is checked under the same latch that grants the lock.
	if delta.IsNegative() && r.acct.Balance.Add(delta).IsNegative() {
		return utils.ErrInsufficientFunds
	}
	r.acct.LockHolder = tid
	r.acct.PendingDelta = Money(delta)
	r.acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *MemStore) CommitApply(_ context.Context, tid string, accountID string) (decimal.Decimal, error) {
	r, ok := c.row(accountID)
	if !ok {
		return decimal.Zero, utils.ErrAccountNotFound
	}
	r.latch.Lock()
	defer r.latch.Unlock()
	if r.acct.LockHolder != tid {
		return decimal.Zero, utils.ErrLockConflict
	}
	r.acct.Balance = Money(r.acct.Balance.Add(r.acct.PendingDelta))
	r.acct.LockHolder = ""
	r.acct.PendingDelta = decimal.Zero
	r.acct.UpdatedAt = time.Now().UTC()
	return r.acct.Balance, nil
}

func (c *MemStore) AbortRelease(_ context.Context, tid string, accountID string) (bool, error) {
	r, ok := c.row(accountID)
	if !ok {
		return false, nil
	}
	r.latch.Lock()
	defer r.latch.Unlock()
	if r.acct.LockHolder != tid {
		return false, nil
	}
	r.acct.LockHolder = ""
	r.acct.PendingDelta = decimal.Zero
	r.acct.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (c *MemStore) FindLock(_ context.Context, tid string) (*Account, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rows {
		r.latch.Lock()
		if r.acct.LockHolder == tid {
			cp := r.acct.clone()
			r.latch.Unlock()
			return cp, true, nil
		}
		r.latch.Unlock()
	}
	return nil, false, nil
}

func (c *MemStore) Close() {}
