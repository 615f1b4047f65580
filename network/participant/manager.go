package participant

import (
	"context"
	"errors"

	"ATX/configs"
	"ATX/network"
	"ATX/storage"
	"ATX/utils"

	"github.com/shopspring/decimal"
)

// Manager owns the account ledger of one participant and answers the three
// protocol verbs. Every balance transition goes through the store's predicate
// operations; the manager only adds vote semantics and the decision log.
type Manager struct {
	ctx   context.Context
	store storage.AccountStore
	log   *storage.LogManager
}

func NewManager(ctx context.Context, store storage.AccountStore, log *storage.LogManager) *Manager {
	return &Manager{ctx: ctx, store: store, log: log}
}

// signedDelta validates the operation/sign agreement of a prepare request and
// returns the delta to reserve.
func signedDelta(req *network.PrepareRequest) (decimal.Decimal, error) {
	if req.AccountID == "" {
		return decimal.Zero, utils.ErrMissingAccount
	}
	if req.TransactionID == "" {
		return decimal.Zero, utils.ErrInvalidAmount
	}
	switch req.Operation {
	case configs.OpDebit:
		if !req.Amount.IsNegative() {
			return decimal.Zero, utils.ErrInvalidAmount
		}
	case configs.OpCredit:
		if !req.Amount.IsPositive() {
			return decimal.Zero, utils.ErrInvalidAmount
		}
	default:
		return decimal.Zero, utils.ErrInvalidAmount
	}
	return storage.Money(req.Amount), nil
}

// Prepare reserves the requested delta. The vote is commit only when the lock
// was acquired, or when the same transaction already holds it with the same
// delta (coordinator retry after a lost response).
func (c *Manager) Prepare(ctx context.Context, req *network.PrepareRequest) (*network.PrepareDetails, error) {
	tid := req.TransactionID
	delta, err := signedDelta(req)
	if err != nil {
		return nil, err
	}
	if state, ok := c.log.LookupDecision(tid); ok && state == configs.TxnCommitted {
		// A late prepare for an already applied transaction must not
		// re-acquire anything. An aborted attempt leaves the account
		// AVAILABLE, so the same identifier may prepare again on retry.
		configs.TxnPrint(tid, "prepare after commit rejected")
		return nil, utils.ErrLockConflict
	}
	err = c.store.PrepareLock(ctx, tid, req.AccountID, delta)
	if errors.Is(err, utils.ErrLockConflict) {
		acct, gerr := c.store.GetAccount(ctx, req.AccountID)
		if gerr != nil {
			return nil, gerr
		}
		if acct.LockHolder == tid {
			if !acct.PendingDelta.Equal(delta) {
				configs.TxnPrint(tid, "re-prepare with mismatched delta %v (stored %v)", delta, acct.PendingDelta)
				return nil, utils.ErrDeltaMismatch
			}
			configs.TxnPrint(tid, "idempotent re-prepare on %v", req.AccountID)
			return prepareDetails(acct, req.Operation), nil
		}
		return nil, utils.ErrLockConflict
	}
	if err != nil {
		return nil, err
	}
	c.log.WritePrepare(tid, req.AccountID, delta.String())
	acct, err := c.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	configs.TxnPrint(tid, "locked %v with pending %v", req.AccountID, delta)
	return prepareDetails(acct, req.Operation), nil
}

func prepareDetails(acct *storage.Account, op string) *network.PrepareDetails {
	return &network.PrepareDetails{
		AccountID:      acct.AccountID,
		CurrentBalance: acct.Balance,
		PendingChange:  acct.PendingDelta,
		Operation:      op,
	}
}

// Commit folds the reserved delta into the balance. A commit for a
// transaction the decision log already remembers as committed is answered
// with the current balance instead of a conflict.
func (c *Manager) Commit(ctx context.Context, req *network.CommitRequest) (*network.CommitDetails, error) {
	tid := req.TransactionID
	balance, err := c.store.CommitApply(ctx, tid, req.AccountID)
	if errors.Is(err, utils.ErrLockConflict) {
		if state, ok := c.log.LookupDecision(tid); ok && state == configs.TxnCommitted {
			acct, gerr := c.store.GetAccount(ctx, req.AccountID)
			if gerr != nil {
				return nil, gerr
			}
			configs.TxnPrint(tid, "idempotent commit on %v", req.AccountID)
			return &network.CommitDetails{AccountID: acct.AccountID, NewBalance: acct.Balance}, nil
		}
		return nil, utils.ErrLockConflict
	}
	if err != nil {
		return nil, err
	}
	c.log.WriteDecision(tid, configs.TxnCommitted)
	configs.TxnPrint(tid, "committed on %v, new balance %v", req.AccountID, balance)
	return &network.CommitDetails{AccountID: req.AccountID, NewBalance: balance}, nil
}

// Abort releases the lock if this transaction holds it. Always succeeds;
// repeated aborts are no-ops.
func (c *Manager) Abort(ctx context.Context, req *network.AbortRequest) error {
	tid := req.TransactionID
	released, err := c.store.AbortRelease(ctx, tid, req.AccountID)
	if err != nil {
		return err
	}
	if state, ok := c.log.LookupDecision(tid); !ok || state != configs.TxnCommitted {
		c.log.WriteDecision(tid, configs.TxnAborted)
	}
	if released {
		configs.TxnPrint(tid, "aborted, released lock on %v", req.AccountID)
	}
	return nil
}

// LockStatus reports whether tid still holds a lock here, and any remembered
// terminal decision. The coordinator's sweeper drives this.
func (c *Manager) LockStatus(ctx context.Context, tid string) (*network.LockStatus, error) {
	res := &network.LockStatus{TransactionID: tid}
	if state, ok := c.log.LookupDecision(tid); ok {
		res.Decision = state
	}
	acct, held, err := c.store.FindLock(ctx, tid)
	if err != nil {
		return nil, err
	}
	if held {
		res.Held = true
		res.AccountID = acct.AccountID
	}
	return res, nil
}

// CreateAccount provisions a ledger row with an opening balance.
func (c *Manager) CreateAccount(ctx context.Context, req *network.CreateAccountRequest) (*storage.Account, error) {
	if req.OpeningBalance.IsNegative() {
		return nil, utils.ErrInvalidAmount
	}
	return c.store.CreateAccount(ctx, req.OwnerID, req.OpeningBalance)
}

// GetAccount returns one ledger row.
func (c *Manager) GetAccount(ctx context.Context, accountID string) (*storage.Account, error) {
	return c.store.GetAccount(ctx, accountID)
}

// Close releases the store and flushes the decision log.
func (c *Manager) Close() {
	c.log.Close()
	c.store.Close()
}
