package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ATX/configs"

	json "github.com/goccy/go-json"
	"github.com/tidwall/wal"
)

// LogManager is the participant's durable record of 2PC outcomes. Each entry
// is appended to a write-ahead log and mirrored in a bounded in-memory table
// so that a replayed commit or abort can be acknowledged without touching the
// account row again.
type LogManager struct {
	latch  sync.Mutex
	lsn    uint64
	logs   *wal.Log
	buffer *wal.Batch
	ctx    context.Context

	decisions map[string]string
	order     []string
}

// DecisionLogEntry is one log record: a prepared lock or a terminal outcome.
type DecisionLogEntry struct {
	TID       string `json:"tid"`
	State     string `json:"state"`
	AccountID string `json:"account_id,omitempty"`
	Delta     string `json:"delta,omitempty"`
}

func NewLogManager(ctx context.Context, shardID string, walDir string) *LogManager {
	res := &LogManager{
		ctx:       ctx,
		decisions: make(map[string]string),
		order:     make([]string, 0, configs.RecentDecisionCap),
	}
	if !configs.UseWAL {
		return res
	}
	log, err := wal.Open(fmt.Sprintf("%s/%s", walDir, shardID), nil)
	if err != nil {
		panic(err)
	}
	res.logs = log
	res.lsn, err = log.LastIndex()
	if err != nil {
		panic(err)
	}
	res.buffer = &wal.Batch{}
	res.replay()
	go res.localBatchSyncLogger(ctx, res.lsn)
	return res
}

// replay rebuilds the decision table from the tail of the log so that
// duplicated commit/abort calls after a restart stay idempotent.
func (c *LogManager) replay() {
	first, err := c.logs.FirstIndex()
	if err != nil || c.lsn == 0 {
		return
	}
	for idx := first; idx <= c.lsn; idx++ {
		data, err := c.logs.Read(idx)
		if err != nil {
			continue
		}
		entry := DecisionLogEntry{}
		if err = json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if entry.State == configs.TxnCommitted || entry.State == configs.TxnAborted {
			c.remember(entry.TID, entry.State)
		}
	}
}

func (c *LogManager) append(entry *DecisionLogEntry) {
	if !configs.UseWAL {
		return
	}
	data, err := json.Marshal(entry)
	configs.CheckError(err)
	c.lsn++
	c.buffer.Write(c.lsn, data)
}

// WritePrepare records the lock grant before the vote is sent back.
func (c *LogManager) WritePrepare(tid string, accountID string, delta string) {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.append(&DecisionLogEntry{TID: tid, State: configs.TxnPending, AccountID: accountID, Delta: delta})
}

// WriteDecision records the terminal outcome and enters it into the
// recent-decision table.
func (c *LogManager) WriteDecision(tid string, state string) {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.append(&DecisionLogEntry{TID: tid, State: state})
	c.remember(tid, state)
}

func (c *LogManager) remember(tid string, state string) {
	if _, ok := c.decisions[tid]; !ok {
		c.order = append(c.order, tid)
		if len(c.order) > configs.RecentDecisionCap {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.decisions, evict)
		}
	}
	c.decisions[tid] = state
}

// LookupDecision reports the remembered terminal state of tid, if any.
func (c *LogManager) LookupDecision(tid string) (string, bool) {
	c.latch.Lock()
	defer c.latch.Unlock()
	state, ok := c.decisions[tid]
	return state, ok
}

func (c *LogManager) localBatchSyncLogger(ctx context.Context, initLSN uint64) {
	lastLSN := initLSN
	for {
		select {
		case <-time.After(configs.LogBatchInterval):
			c.latch.Lock()
			if c.lsn == lastLSN || c.buffer == nil {
				c.latch.Unlock()
			} else {
				err := c.logs.WriteBatch(c.buffer)
				if err != nil {
					panic(err)
				}
				c.buffer.Clear()
				lastLSN = c.lsn
				c.latch.Unlock()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes buffered entries and releases the log.
func (c *LogManager) Close() {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.logs == nil {
		return
	}
	if c.buffer != nil {
		_ = c.logs.WriteBatch(c.buffer)
		c.buffer.Clear()
	}
	_ = c.logs.Close()
}
