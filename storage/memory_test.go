package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"ATX/utils"

	"github.com/magiconair/properties/assert"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testAccount(t *testing.T, s AccountStore, opening int64) *Account {
	acct, err := s.CreateAccount(context.Background(), "owner-1", decimal.NewFromInt(opening))
	require.NoError(t, err)
	return acct
}

func TestPrepareLockAcquire(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 100)
	ctx := context.Background()

	err := s.PrepareLock(ctx, "txn-1", acct.AccountID, decimal.NewFromInt(-40))
	require.NoError(t, err)

	got, err := s.GetAccount(ctx, acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, got.LockHolder, "txn-1")
	assert.Equal(t, got.PendingDelta.String(), "-40")
	assert.Equal(t, got.Balance.String(), "100")
	assert.Equal(t, got.EffectiveBalance().String(), "60")
}

func TestPrepareLockConflict(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 100)
	ctx := context.Background()

	require.NoError(t, s.PrepareLock(ctx, "txn-1", acct.AccountID, decimal.NewFromInt(-10)))
	err := s.PrepareLock(ctx, "txn-2", acct.AccountID, decimal.NewFromInt(-10))
	require.ErrorIs(t, err, utils.ErrLockConflict)
}

func TestPrepareLockInsufficientFunds(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 30)
	ctx := context.Background()

	err := s.PrepareLock(ctx, "txn-1", acct.AccountID, decimal.NewFromInt(-31))
	require.ErrorIs(t, err, utils.ErrInsufficientFunds)

	// The failed prepare must not leave a lock behind.
	got, err := s.GetAccount(ctx, acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, got.Locked(), false)
}

func TestPrepareLockUnknownAccount(t *testing.T) {
	s := NewMemStore()
	err := s.PrepareLock(context.Background(), "txn-1", "nope", decimal.NewFromInt(-1))
	require.ErrorIs(t, err, utils.ErrAccountNotFound)
}

func TestCommitApply(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 100)
	ctx := context.Background()

	require.NoError(t, s.PrepareLock(ctx, "txn-1", acct.AccountID, decimal.NewFromInt(-40)))
	balance, err := s.CommitApply(ctx, "txn-1", acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, balance.String(), "60")

	got, err := s.GetAccount(ctx, acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, got.Locked(), false)
	assert.Equal(t, got.PendingDelta.IsZero(), true)

	// A second commit no longer owns the lock.
	_, err = s.CommitApply(ctx, "txn-1", acct.AccountID)
	require.ErrorIs(t, err, utils.ErrLockConflict)
}

func TestAbortRelease(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 100)
	ctx := context.Background()

	require.NoError(t, s.PrepareLock(ctx, "txn-1", acct.AccountID, decimal.NewFromInt(25)))
	released, err := s.AbortRelease(ctx, "txn-1", acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, released, true)

	got, err := s.GetAccount(ctx, acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, got.Balance.String(), "100")
	assert.Equal(t, got.Locked(), false)

	// Repeats are harmless.
	released, err = s.AbortRelease(ctx, "txn-1", acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, released, false)

	released, err = s.AbortRelease(ctx, "txn-1", "nope")
	require.NoError(t, err)
	assert.Equal(t, released, false)
}

func TestFindLock(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 100)
	ctx := context.Background()

	_, held, err := s.FindLock(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, held, false)

	require.NoError(t, s.PrepareLock(ctx, "txn-1", acct.AccountID, decimal.NewFromInt(5)))
	found, held, err := s.FindLock(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, held, true)
	assert.Equal(t, found.AccountID, acct.AccountID)
}

// Ten goroutines race for the same lock slot each round; exactly one prepare
// per round may win while the lock is held.
func TestConcurrentPrepareSingleWinner(t *testing.T) {
	s := NewMemStore()
	acct := testAccount(t, s, 1000)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		var wins int64
		var winner atomic.Value
		wg := sync.WaitGroup{}
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tid := "txn-" + string(rune('a'+i))
				if err := s.PrepareLock(ctx, tid, acct.AccountID, decimal.NewFromInt(-1)); err == nil {
					atomic.AddInt64(&wins, 1)
					winner.Store(tid)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, int64(1), wins)
		_, err := s.CommitApply(ctx, winner.Load().(string), acct.AccountID)
		require.NoError(t, err)
	}

	got, err := s.GetAccount(ctx, acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, got.Balance.String(), "980")
}
