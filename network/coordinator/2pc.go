package coordinator

import (
	"time"

	"ATX/configs"
	"ATX/network"
	"ATX/utils"
)

// phaseGrace covers envelope decoding and scheduling on top of the per-call
// timeout already enforced inside the client.
const phaseGrace = 500 * time.Millisecond

// PreparePhase sends both prepares concurrently and joins the votes. It
// returns the global decision; any missing or non-commit vote decides abort.
func (c *Manager) PreparePhase(txn *Transaction, handler *txnHandler, info *utils.Info) (bool, string) {
	begin := time.Now()
	defer func() {
		elapsed := time.Since(begin)
		info.PrepareTime += elapsed
		utils.PhaseLatency.WithLabelValues("prepare").Observe(elapsed.Seconds())
	}()
	epoch := handler.resetPhase()
	c.wal.WriteDecision(txn.TransactionID, configs.TxnPending)

	branches := []*network.PrepareRequest{
		{
			TransactionID: txn.TransactionID,
			AccountID:     txn.SourceAccountID,
			Amount:        txn.Amount.Neg(),
			Operation:     configs.OpDebit,
		},
		{
			TransactionID: txn.TransactionID,
			AccountID:     txn.DestinationAccountID,
			Amount:        txn.Amount,
			Operation:     configs.OpCredit,
		},
	}
	for _, req := range branches {
		go func(req *network.PrepareRequest) {
			res, err := c.client.Prepare(c.ctx, req, c.conf.PrepareTimeout)
			vote, code := voteOf(res, err)
			if err != nil {
				configs.TxnPrint(txn.TransactionID, "prepare transport failure on %v: %v", req.AccountID, err)
				info.Failure = true
			}
			handler.deliver(epoch, branchVote{accountID: req.AccountID, vote: vote, code: code})
		}(req)
	}

	select {
	case <-time.After(c.conf.PrepareTimeout + phaseGrace):
		configs.TxnPrint(txn.TransactionID, "prepare phase timed out with %v votes", handler.MsgCount)
		info.Failure = true
		return false, utils.CodeTransport
	case <-c.ctx.Done():
		info.Failure = true
		return false, utils.CodeTransport
	case <-handler.finish:
		return handler.canCommitWithAllVotes()
	}
}

// DecidePhase delivers the decision to both participants concurrently and
// waits for the acknowledgements. The outcome of the transfer is already
// fixed when this is called; the return value only reports whether both
// acknowledgements arrived.
func (c *Manager) DecidePhase(txn *Transaction, handler *txnHandler, isCommit bool, info *utils.Info) bool {
	begin := time.Now()
	defer func() {
		elapsed := time.Since(begin)
		info.DecideTime += elapsed
		utils.PhaseLatency.WithLabelValues("decide").Observe(elapsed.Seconds())
	}()
	epoch := handler.resetPhase()
	if isCommit {
		c.wal.WriteDecision(txn.TransactionID, configs.TxnCommitted)
	} else {
		c.wal.WriteDecision(txn.TransactionID, configs.TxnAborted)
	}

	for _, accountID := range []string{txn.SourceAccountID, txn.DestinationAccountID} {
		go func(accountID string) {
			var err error
			if isCommit {
				var res *network.APIResponse
				res, err = c.client.Commit(c.ctx, &network.CommitRequest{
					TransactionID: txn.TransactionID, AccountID: accountID,
				}, c.conf.CommitTimeout)
				if err == nil && !res.Success {
					err = utils.ErrLockConflict
				}
			} else {
				_, err = c.client.Abort(c.ctx, &network.AbortRequest{
					TransactionID: txn.TransactionID, AccountID: accountID,
				}, c.conf.CommitTimeout)
			}
			if err != nil {
				configs.TxnPrint(txn.TransactionID, "decide delivery failed on %v: %v", accountID, err)
			}
			handler.deliver(epoch, branchVote{accountID: accountID, ack: err == nil})
		}(accountID)
	}

	select {
	case <-time.After(c.conf.CommitTimeout + phaseGrace):
		configs.TxnPrint(txn.TransactionID, "decide phase timed out with %v ACKs", handler.MsgCount)
		return false
	case <-c.ctx.Done():
		return false
	case <-handler.finish:
		return handler.allACKCollected()
	}
}
