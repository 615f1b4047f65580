package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ATX/configs"
	"ATX/utils"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// Transaction is one row of the coordinator's durable log.
type Transaction struct {
	TransactionID        string          `json:"transaction_id"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Status               string          `json:"status"`
	AbortReason          string          `json:"abort_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Terminal reports whether the row reached a sink status.
func (c *Transaction) Terminal() bool {
	return c.Status == configs.TxnCommitted || c.Status == configs.TxnAborted
}

// TxnLogStore persists transactions. Insert on begin, one terminal update on
// finalize; the status automaton never leaves committed or aborted.
type TxnLogStore interface {
	Insert(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, tid string) (*Transaction, error)

	// Finalize moves tid from pending to status. Finalizing an already
	// terminal row is a no-op so duplicated attempts stay harmless.
	Finalize(ctx context.Context, tid string, status string, reason string) error

	// History lists transactions touching accountID on either side, newest
	// first, paginated.
	History(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)

	// Pending lists rows that have been pending since before the cutoff.
	Pending(ctx context.Context, cutoff time.Time) ([]*Transaction, error)

	Close()
}

// NewTxnLogStore dispatches on the configured backend. Mongo deployments keep
// the coordinator log in PostgreSQL too; only the participant ledger moves.
func NewTxnLogStore(ctx context.Context, conf *configs.Config) (TxnLogStore, error) {
	switch conf.StorageBackend {
	case configs.PostgreSQL, configs.MongoDB:
		return NewSQLTxnLog(ctx, conf.PostgresDSN)
	case configs.MemoryStorage:
		return NewMemTxnLog(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", conf.StorageBackend)
	}
}

// MemTxnLog is the in-process log used by tests and the benchmark.
type MemTxnLog struct {
	latch sync.RWMutex
	rows  map[string]*Transaction
}

func NewMemTxnLog() *MemTxnLog {
	return &MemTxnLog{rows: make(map[string]*Transaction)}
}

func (c *MemTxnLog) Insert(_ context.Context, txn *Transaction) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if prev, ok := c.rows[txn.TransactionID]; ok {
		// Re-insert on retry keeps the original row.
		if prev.Terminal() {
			return utils.ErrTxnFinalized
		}
		return nil
	}
	cp := *txn
	c.rows[txn.TransactionID] = &cp
	return nil
}

func (c *MemTxnLog) Get(_ context.Context, tid string) (*Transaction, error) {
	c.latch.RLock()
	defer c.latch.RUnlock()
	row, ok := c.rows[tid]
	if !ok {
		return nil, utils.ErrTxnNotFound
	}
	cp := *row
	return &cp, nil
}

func (c *MemTxnLog) Finalize(_ context.Context, tid string, status string, reason string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	row, ok := c.rows[tid]
	if !ok {
		return utils.ErrTxnNotFound
	}
	if row.Terminal() {
		return nil
	}
	row.Status = status
	row.AbortReason = reason
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *MemTxnLog) History(_ context.Context, accountID string, limit, offset int) ([]*Transaction, error) {
	c.latch.RLock()
	res := make([]*Transaction, 0)
	for _, row := range c.rows {
		if row.SourceAccountID == accountID || row.DestinationAccountID == accountID {
			cp := *row
			res = append(res, &cp)
		}
	}
	c.latch.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if offset >= len(res) {
		return []*Transaction{}, nil
	}
	res = res[offset:]
	if limit > 0 && limit < len(res) {
		res = res[:limit]
	}
	return res, nil
}

func (c *MemTxnLog) Pending(_ context.Context, cutoff time.Time) ([]*Transaction, error) {
	c.latch.RLock()
	defer c.latch.RUnlock()
	res := make([]*Transaction, 0)
	for _, row := range c.rows {
		if row.Status == configs.TxnPending && row.CreatedAt.Before(cutoff) {
			cp := *row
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (c *MemTxnLog) Close() {}

// SQLTxnLog keeps the transaction table in PostgreSQL.
type SQLTxnLog struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

func NewSQLTxnLog(ctx context.Context, dsn string) (*SQLTxnLog, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	c := &SQLTxnLog{ctx: ctx, pool: pool}
	if err = c.initSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLTxnLog) initSchema() error {
	_, err := c.pool.Exec(c.ctx, `CREATE TABLE IF NOT EXISTS transactions (
		transaction_id         VARCHAR(64) PRIMARY KEY,
		source_account_id      VARCHAR(64) NOT NULL,
		destination_account_id VARCHAR(64) NOT NULL,
		amount                 DECIMAL(19,4) NOT NULL,
		status                 VARCHAR(16) NOT NULL,
		abort_reason           VARCHAR(64) NOT NULL DEFAULT '',
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL)`)
	if err != nil {
		return err
	}
	for _, ddl := range []string{
		"CREATE INDEX IF NOT EXISTS transactions_status ON transactions (status)",
		"CREATE INDEX IF NOT EXISTS transactions_src ON transactions (source_account_id)",
		"CREATE INDEX IF NOT EXISTS transactions_dst ON transactions (destination_account_id)",
	} {
		if _, err = c.pool.Exec(c.ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

const txnColumns = `transaction_id, source_account_id, destination_account_id,
	amount, status, abort_reason, created_at, updated_at`

func (c *SQLTxnLog) scanTxn(row pgx.Row) (*Transaction, error) {
	txn := &Transaction{}
	var amount string
	err := row.Scan(&txn.TransactionID, &txn.SourceAccountID, &txn.DestinationAccountID,
		&amount, &txn.Status, &txn.AbortReason, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrTxnNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.Amount, err = decimal.NewFromString(amount)
	return txn, err
}

func (c *SQLTxnLog) Insert(ctx context.Context, txn *Transaction) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, '', $6, $6)
		ON CONFLICT (transaction_id) DO NOTHING`,
		txn.TransactionID, txn.SourceAccountID, txn.DestinationAccountID,
		txn.Amount.String(), txn.Status, txn.CreatedAt)
	return err
}

func (c *SQLTxnLog) Get(ctx context.Context, tid string) (*Transaction, error) {
	return c.scanTxn(c.pool.QueryRow(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE transaction_id = $1", tid))
}

func (c *SQLTxnLog) Finalize(ctx context.Context, tid string, status string, reason string) error {
	tag, err := c.pool.Exec(ctx, `UPDATE transactions
		SET status = $1, abort_reason = $2, updated_at = now()
		WHERE transaction_id = $3 AND status = $4`,
		status, reason, tid, configs.TxnPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// 0 rows: either unknown or already terminal. Terminal is fine.
	if _, err = c.Get(ctx, tid); err != nil {
		return err
	}
	return nil
}

func (c *SQLTxnLog) History(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+txnColumns+` FROM transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*Transaction, 0)
	for rows.Next() {
		txn, err := c.scanTxn(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, txn)
	}
	return res, rows.Err()
}

func (c *SQLTxnLog) Pending(ctx context.Context, cutoff time.Time) ([]*Transaction, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+txnColumns+` FROM transactions
		WHERE status = $1 AND created_at < $2`, configs.TxnPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*Transaction, 0)
	for rows.Next() {
		txn, err := c.scanTxn(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, txn)
	}
	return res, rows.Err()
}

func (c *SQLTxnLog) Close() {
	c.pool.Close()
}
