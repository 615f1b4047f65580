package coordinator

import (
	"context"
	"sync"

	"ATX/configs"
	"ATX/storage"
)

// Coordinator-side transfer states.
const (
	None       = uint8(0)
	Preparing  = uint8(1)
	Committing = uint8(2)
	Aborting   = uint8(3)
	DoneCommit = uint8(4)
	DoneAbort  = uint8(5)
)

// Manager drives the commit protocol for transfers. It owns the durable
// transaction log, the write-ahead state log, and one client per participant
// role. In the two-node deployment both roles resolve to the same base URL.
type Manager struct {
	ctx     context.Context
	conf    *configs.Config
	txns    TxnLogStore
	wal     *storage.LogManager
	client  *Client
	TxnPool *sync.Map
}

func NewManager(ctx context.Context, conf *configs.Config, txns TxnLogStore) (*Manager, error) {
	client, err := NewClient(conf.ParticipantURL, conf.TokenSecret)
	if err != nil {
		return nil, err
	}
	return &Manager{
		ctx:     ctx,
		conf:    conf,
		txns:    txns,
		wal:     storage.NewLogManager(ctx, "coordinator", conf.WALDir),
		client:  client,
		TxnPool: &sync.Map{},
	}, nil
}

// Close flushes the state log. The transaction log store is owned by the
// caller (the server shares it with the sweeper).
func (c *Manager) Close() {
	c.wal.Close()
}

// branchVote is one participant's answer to a phase message.
type branchVote struct {
	accountID string
	vote      string
	code      string
	ack       bool
}

// txnHandler joins the two branch responses of one phase. The phase driver
// blocks on finish; deliveries count messages under the latch.
type txnHandler struct {
	latch    sync.Mutex
	State    uint8
	TID      string
	MsgPool  []branchVote
	MsgCount int
	epoch    int
	finish   chan struct{}
}

func newTxnHandler(tid string) *txnHandler {
	return &txnHandler{
		TID:    tid,
		State:  None,
		finish: make(chan struct{}, 1),
	}
}

func (c *txnHandler) transit(from, to uint8) {
	c.latch.Lock()
	defer c.latch.Unlock()
	configs.Assert(c.State == from, "invalid transfer state transition")
	c.State = to
}

// resetPhase arms the handler for the next pair of branch messages and
// returns the phase epoch. Deliveries stamped with an older epoch are late
// responses from a timed-out phase and are dropped.
func (c *txnHandler) resetPhase() int {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.MsgPool = make([]branchVote, 0, 2)
	c.MsgCount = 0
	c.epoch++
	select {
	case <-c.finish:
	default:
	}
	return c.epoch
}

func (c *txnHandler) deliver(epoch int, v branchVote) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if epoch != c.epoch {
		return
	}
	c.MsgPool = append(c.MsgPool, v)
	c.MsgCount++
	if c.MsgCount == 2 {
		c.finish <- struct{}{}
	}
}

// canCommitWithAllVotes reports whether both branches voted commit, and the
// first abort code otherwise.
func (c *txnHandler) canCommitWithAllVotes() (bool, string) {
	c.latch.Lock()
	defer c.latch.Unlock()
	code := ""
	ok := len(c.MsgPool) == 2
	for _, v := range c.MsgPool {
		if v.vote != configs.VoteCommit {
			ok = false
			if code == "" {
				code = v.code
			}
		}
	}
	return ok, code
}

// allACKCollected reports whether both branches acknowledged the decision.
func (c *txnHandler) allACKCollected() bool {
	c.latch.Lock()
	defer c.latch.Unlock()
	if len(c.MsgPool) != 2 {
		return false
	}
	for _, v := range c.MsgPool {
		if !v.ack {
			return false
		}
	}
	return true
}

func (c *Manager) createIfNotExistTxnHandler(tid string) *txnHandler {
	tx, ok := c.TxnPool.Load(tid)
	if !ok {
		configs.TxnPrint(tid, "transfer handler created on coordinator")
		tx, _ = c.TxnPool.LoadOrStore(tid, newTxnHandler(tid))
	}
	return tx.(*txnHandler)
}

func (c *Manager) clearTxnHandler(tid string) {
	c.TxnPool.Delete(tid)
}
