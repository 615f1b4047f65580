package coordinator

import (
	"context"
	"time"

	"ATX/configs"
	"ATX/network"
	"ATX/utils"

	"github.com/google/uuid"
)

// validate rejects malformed transfers before any side effect.
func validate(req *network.TransferRequest) error {
	if req.SourceAccountID == "" || req.DestinationAccountID == "" {
		return utils.ErrMissingAccount
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return utils.ErrSameAccount
	}
	if !req.Amount.IsPositive() {
		return utils.ErrInvalidAmount
	}
	return nil
}

// begin persists the pending row, reusing a client-supplied identifier. When
// the row already reached a terminal status the recorded outcome is returned
// instead of a new transaction.
func (c *Manager) begin(ctx context.Context, req *network.TransferRequest) (*Transaction, *network.TransferResult, error) {
	tid := req.TransactionID
	if tid == "" {
		tid = uuid.New().String()
	} else if prev, err := c.txns.Get(ctx, tid); err == nil && prev.Terminal() {
		// A replay resolves in one logical attempt: the lookup.
		configs.TxnPrint(tid, "replayed terminal outcome %v", prev.Status)
		return nil, resultOf(prev, 1, 1), nil
	}
	now := time.Now().UTC()
	txn := &Transaction{
		TransactionID:        tid,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Status:               configs.TxnPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := c.txns.Insert(ctx, txn); err != nil {
		return nil, nil, err
	}
	return txn, nil, nil
}

func resultOf(txn *Transaction, attempt, total int) *network.TransferResult {
	return &network.TransferResult{
		TransactionID:        txn.TransactionID,
		Status:               txn.Status,
		SourceAccountID:      txn.SourceAccountID,
		DestinationAccountID: txn.DestinationAccountID,
		Amount:               txn.Amount,
		RetryAttempt:         attempt,
		TotalAttempts:        total,
		AbortReason:          txn.AbortReason,
	}
}

// attempt runs one full round of the protocol and records the outcome on the
// in-memory row. The durable row is finalized once per transfer, after the
// last attempt, so its status moves to a terminal value exactly once.
func (c *Manager) attempt(txn *Transaction, info *utils.Info) {
	handler := c.createIfNotExistTxnHandler(txn.TransactionID)
	defer c.clearTxnHandler(txn.TransactionID)
	info.BeginAttempt()
	defer info.EndAttempt()

	handler.transit(None, Preparing)
	ok, code := c.PreparePhase(txn, handler, info)
	if ok {
		handler.transit(Preparing, Committing)
		acked := c.DecidePhase(txn, handler, true, info)
		handler.transit(Committing, DoneCommit)
		txn.Status = configs.TxnCommitted
		txn.AbortReason = ""
		info.IsCommit = true
		if !acked {
			// Both voted commit, so the decision stands even though an
			// acknowledgement is missing; one side may have applied already.
			info.Failure = true
			utils.CriticalOutcomes.Inc()
			configs.Critical(txn.TransactionID, txn.SourceAccountID,
				"commit acknowledgement lost; participants may need reconciliation")
		}
	} else {
		handler.transit(Preparing, Aborting)
		c.DecidePhase(txn, handler, false, info)
		handler.transit(Aborting, DoneAbort)
		txn.Status = configs.TxnAborted
		txn.AbortReason = code
		info.AbortCode = code
	}
}

func (c *Manager) finalize(ctx context.Context, txn *Transaction) {
	err := c.txns.Finalize(ctx, txn.TransactionID, txn.Status, txn.AbortReason)
	configs.Warn(err == nil, "finalize failed for "+txn.TransactionID)
	utils.TransfersTotal.WithLabelValues(txn.Status).Inc()
}

// Transfer runs a single attempt of the protocol.
func (c *Manager) Transfer(ctx context.Context, req *network.TransferRequest) (*network.TransferResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	txn, replay, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}
	info := utils.NewInfo(txn.TransactionID)
	c.attempt(txn, info)
	c.finalize(ctx, txn)
	return resultOf(txn, 1, 1), nil
}

// TransferWithRetry re-runs the full protocol with the same transaction
// identifier until it commits or the retry cap is reached. The stable
// identifier lets a participant that still holds the lock from a previous
// attempt recognize the re-prepare.
func (c *Manager) TransferWithRetry(ctx context.Context, req *network.TransferRequest) (*network.TransferResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	txn, replay, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}
	info := utils.NewInfo(txn.TransactionID)
	attempts := 0
	for i := 1; i <= c.conf.MaxRetries; i++ {
		if i > 1 {
			utils.TransferRetries.Inc()
			select {
			case <-time.After(c.conf.RetryDelay):
			case <-ctx.Done():
				c.finalize(ctx, txn)
				return resultOf(txn, attempts, c.conf.MaxRetries), ctx.Err()
			}
		}
		attempts = i
		c.attempt(txn, info)
		if txn.Status == configs.TxnCommitted {
			break
		}
		configs.TxnPrint(txn.TransactionID, "attempt %v aborted with %v", i, txn.AbortReason)
	}
	c.finalize(ctx, txn)
	return resultOf(txn, attempts, c.conf.MaxRetries), nil
}

// Status returns the coordinator's view of a transaction row.
func (c *Manager) Status(ctx context.Context, tid string) (*Transaction, error) {
	return c.txns.Get(ctx, tid)
}

// History lists transfers touching the account on either side, newest first.
func (c *Manager) History(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return c.txns.History(ctx, accountID, limit, offset)
}
