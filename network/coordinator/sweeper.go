package coordinator

import (
	"context"
	"time"

	"ATX/configs"
	"ATX/network"
	"ATX/utils"
)

// Sweeper reaps transactions that stayed pending past the advisory
// transaction timeout, typically because the coordinator crashed between
// begin and finalize. It consults the participant's decision record before
// choosing an outcome: a remembered commit is honored, everything else is
// aborted and any surviving lock released.
type Sweeper struct {
	manager *Manager
}

func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{manager: manager}
}

// Run blocks until ctx is done.
func (c *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(configs.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.manager.conf.TransactionTimeout)
	dangling, err := c.manager.txns.Pending(ctx, cutoff)
	if !configs.Warn(err == nil, "sweeper could not list pending transactions") {
		return
	}
	for _, txn := range dangling {
		c.resolve(ctx, txn)
	}
}

func (c *Sweeper) resolve(ctx context.Context, txn *Transaction) {
	tid := txn.TransactionID
	status, err := c.manager.client.LockStatus(ctx, tid, c.manager.conf.CommitTimeout)
	if err != nil {
		configs.TxnPrint(tid, "sweeper could not query lock status: %v", err)
		return
	}
	if status.Decision == configs.TxnCommitted {
		// The participant applied the commit; only the coordinator row is
		// stale.
		configs.Warn(false, "sweeper found committed participant state for pending txn "+tid)
		_ = c.manager.txns.Finalize(ctx, tid, configs.TxnCommitted, "")
		return
	}
	for _, accountID := range []string{txn.SourceAccountID, txn.DestinationAccountID} {
		_, aerr := c.manager.client.Abort(ctx, &network.AbortRequest{
			TransactionID: tid,
			AccountID:     accountID,
			Reason:        "transaction timeout",
		}, c.manager.conf.CommitTimeout)
		configs.Warn(aerr == nil, "sweeper abort delivery failed for "+tid)
	}
	if err = c.manager.txns.Finalize(ctx, tid, configs.TxnAborted, utils.CodeTransport); err == nil {
		utils.SweeperAborts.Inc()
		configs.TxnPrint(tid, "sweeper aborted dangling transaction")
	}
}
