package participant

import (
	"context"
	"testing"

	"ATX/configs"
	"ATX/network"
	"ATX/storage"
	"ATX/utils"

	"github.com/magiconair/properties/assert"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*Manager, *storage.Account, *storage.Account) {
	ctx := context.Background()
	store := storage.NewMemStore()
	m := NewManager(ctx, store, storage.NewLogManager(ctx, "test", t.TempDir()))
	src, err := store.CreateAccount(ctx, "alice", decimal.NewFromInt(100))
	require.NoError(t, err)
	dst, err := store.CreateAccount(ctx, "bob", decimal.NewFromInt(50))
	require.NoError(t, err)
	return m, src, dst
}

func prepareReq(tid, accountID string, amount int64, op string) *network.PrepareRequest {
	return &network.PrepareRequest{
		TransactionID: tid,
		AccountID:     accountID,
		Amount:        decimal.NewFromInt(amount),
		Operation:     op,
	}
}

func TestPrepareVotesCommit(t *testing.T) {
	m, src, dst := testManager(t)
	ctx := context.Background()

	details, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	assert.Equal(t, details.PendingChange.String(), "-40")
	assert.Equal(t, details.CurrentBalance.String(), "100")

	details, err = m.Prepare(ctx, prepareReq("txn-1", dst.AccountID, 40, configs.OpCredit))
	require.NoError(t, err)
	assert.Equal(t, details.PendingChange.String(), "40")
}

func TestPrepareRejectsSignMismatch(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, 40, configs.OpDebit))
	require.ErrorIs(t, err, utils.ErrInvalidAmount)
	_, err = m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpCredit))
	require.ErrorIs(t, err, utils.ErrInvalidAmount)
	_, err = m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, "withdraw"))
	require.ErrorIs(t, err, utils.ErrInvalidAmount)
}

func TestPrepareInsufficientFunds(t *testing.T) {
	m, src, _ := testManager(t)
	_, err := m.Prepare(context.Background(), prepareReq("txn-1", src.AccountID, -101, configs.OpDebit))
	require.ErrorIs(t, err, utils.ErrInsufficientFunds)
}

func TestPrepareLockCollision(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -10, configs.OpDebit))
	require.NoError(t, err)
	_, err = m.Prepare(ctx, prepareReq("txn-2", src.AccountID, -10, configs.OpDebit))
	require.ErrorIs(t, err, utils.ErrLockConflict)
}

// A coordinator retry re-sends the same prepare; the vote repeats and the
// state is untouched. A different delta under the same transaction is
// rejected.
func TestPrepareIdempotent(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	first, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	second, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	assert.Equal(t, second.PendingChange.String(), first.PendingChange.String())
	assert.Equal(t, second.CurrentBalance.String(), first.CurrentBalance.String())

	_, err = m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -41, configs.OpDebit))
	require.ErrorIs(t, err, utils.ErrDeltaMismatch)
}

func TestCommitAppliesDelta(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	details, err := m.Commit(ctx, &network.CommitRequest{TransactionID: "txn-1", AccountID: src.AccountID})
	require.NoError(t, err)
	assert.Equal(t, details.NewBalance.String(), "60")

	// The decision table answers the duplicated commit.
	details, err = m.Commit(ctx, &network.CommitRequest{TransactionID: "txn-1", AccountID: src.AccountID})
	require.NoError(t, err)
	assert.Equal(t, details.NewBalance.String(), "60")
}

func TestCommitWithoutLock(t *testing.T) {
	m, src, _ := testManager(t)
	_, err := m.Commit(context.Background(), &network.CommitRequest{TransactionID: "txn-9", AccountID: src.AccountID})
	require.ErrorIs(t, err, utils.ErrLockConflict)
}

func TestAbortIdempotent(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Abort(ctx, &network.AbortRequest{TransactionID: "txn-1", AccountID: src.AccountID}))
	}
	acct, err := m.GetAccount(ctx, src.AccountID)
	require.NoError(t, err)
	assert.Equal(t, acct.Balance.String(), "100")
	assert.Equal(t, acct.Locked(), false)
}

// An abort returns the account to AVAILABLE with no quarantine on the
// transaction identifier: the coordinator retries with the same one, and the
// re-prepare must win a fresh lock.
func TestPrepareAfterAbortReacquires(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	require.NoError(t, m.Abort(ctx, &network.AbortRequest{TransactionID: "txn-1", AccountID: src.AccountID}))

	details, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	assert.Equal(t, details.PendingChange.String(), "-40")

	d, err := m.Commit(ctx, &network.CommitRequest{TransactionID: "txn-1", AccountID: src.AccountID})
	require.NoError(t, err)
	assert.Equal(t, d.NewBalance.String(), "60")
}

// A prepare arriving after the same transaction already committed here must
// not lock anything again.
func TestPrepareAfterCommitRejected(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	_, err = m.Commit(ctx, &network.CommitRequest{TransactionID: "txn-1", AccountID: src.AccountID})
	require.NoError(t, err)

	_, err = m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.ErrorIs(t, err, utils.ErrLockConflict)
}

func TestLockStatus(t *testing.T) {
	m, src, _ := testManager(t)
	ctx := context.Background()

	status, err := m.LockStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, status.Held, false)

	_, err = m.Prepare(ctx, prepareReq("txn-1", src.AccountID, -40, configs.OpDebit))
	require.NoError(t, err)
	status, err = m.LockStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, status.Held, true)
	assert.Equal(t, status.AccountID, src.AccountID)

	_, err = m.Commit(ctx, &network.CommitRequest{TransactionID: "txn-1", AccountID: src.AccountID})
	require.NoError(t, err)
	status, err = m.LockStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, status.Held, false)
	assert.Equal(t, status.Decision, configs.TxnCommitted)
}
