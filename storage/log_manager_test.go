package storage

import (
	"context"
	"strconv"
	"testing"

	"ATX/configs"

	"github.com/magiconair/properties/assert"
)

func TestDecisionTableRemembers(t *testing.T) {
	log := NewLogManager(context.Background(), "shard-a", t.TempDir())
	log.WritePrepare("t1", "acct-1", "-10")
	_, ok := log.LookupDecision("t1")
	assert.Equal(t, ok, false)

	log.WriteDecision("t1", configs.TxnCommitted)
	state, ok := log.LookupDecision("t1")
	assert.Equal(t, ok, true)
	assert.Equal(t, state, configs.TxnCommitted)

	log.WriteDecision("t2", configs.TxnAborted)
	state, _ = log.LookupDecision("t2")
	assert.Equal(t, state, configs.TxnAborted)
}

func TestDecisionTableBounded(t *testing.T) {
	log := NewLogManager(context.Background(), "shard-b", t.TempDir())
	for i := 0; i < configs.RecentDecisionCap+10; i++ {
		log.WriteDecision("t"+strconv.Itoa(i), configs.TxnCommitted)
	}
	// The oldest entries fell out of the window; the newest survive.
	_, ok := log.LookupDecision("t0")
	assert.Equal(t, ok, false)
	_, ok = log.LookupDecision("t" + strconv.Itoa(configs.RecentDecisionCap+9))
	assert.Equal(t, ok, true)
}

func TestWALReplayRestoresDecisions(t *testing.T) {
	configs.UseWAL = true
	defer func() { configs.UseWAL = false }()
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	log := NewLogManager(ctx, "shard-c", dir)
	log.WritePrepare("t1", "acct-1", "-10")
	log.WriteDecision("t1", configs.TxnCommitted)
	log.WriteDecision("t2", configs.TxnAborted)
	cancel()
	log.Close()

	restored := NewLogManager(context.Background(), "shard-c", dir)
	defer restored.Close()
	state, ok := restored.LookupDecision("t1")
	assert.Equal(t, ok, true)
	assert.Equal(t, state, configs.TxnCommitted)
	state, ok = restored.LookupDecision("t2")
	assert.Equal(t, ok, true)
	assert.Equal(t, state, configs.TxnAborted)
}
