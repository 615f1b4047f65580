package storage

import (
	"context"
	"errors"
	"time"

	"ATX/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// SQLStore keeps accounts in PostgreSQL. The lock slot transitions are single
// predicate UPDATEs, so two concurrent prepares on the same row can never both
// win regardless of connection interleaving.
type SQLStore struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 64
	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	c := &SQLStore{ctx: ctx, pool: pool}
	if err = c.initSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLStore) initSchema() error {
	_, err := c.pool.Exec(c.ctx, `CREATE TABLE IF NOT EXISTS accounts (
		account_id    VARCHAR(64) PRIMARY KEY,
		owner_id      VARCHAR(64) NOT NULL,
		balance       DECIMAL(19,4) NOT NULL,
		lock_holder   VARCHAR(64),
		pending_delta DECIMAL(19,4) NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL)`)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(c.ctx,
		"CREATE INDEX IF NOT EXISTS accounts_lock_holder ON accounts (lock_holder) WHERE lock_holder IS NOT NULL")
	return err
}

func (c *SQLStore) scanAccount(row pgx.Row) (*Account, error) {
	acct := &Account{}
	var balance, pending string
	var holder *string
	err := row.Scan(&acct.AccountID, &acct.OwnerID, &balance, &holder, &pending,
		&acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if holder != nil {
		acct.LockHolder = *holder
	}
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	if acct.PendingDelta, err = decimal.NewFromString(pending); err != nil {
		return nil, err
	}
	return acct, nil
}

const accountColumns = "account_id, owner_id, balance, lock_holder, pending_delta, created_at, updated_at"

func (c *SQLStore) CreateAccount(ctx context.Context, ownerID string, opening decimal.Decimal) (*Account, error) {
	if opening.IsNegative() {
		return nil, utils.ErrInvalidAmount
	}
	now := time.Now().UTC()
	acct := &Account{
		AccountID: uuid.New().String(),
		OwnerID:   ownerID,
		Balance:   Money(opening),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := c.pool.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, NULL, 0, $4, $4)`,
		acct.AccountID, acct.OwnerID, acct.Balance.String(), now)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (c *SQLStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return c.scanAccount(c.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE account_id = $1", accountID))
}

func (c *SQLStore) PrepareLock(ctx context.Context, tid string, accountID string, delta decimal.Decimal) error {
	tag, err := c.pool.Exec(ctx, `UPDATE accounts
		SET lock_holder = $1, pending_delta = $2, updated_at = now()
		WHERE account_id = $3 AND lock_holder IS NULL
		  AND ($2::DECIMAL >= 0 OR balance >= -($2::DECIMAL))`,
		tid, Money(delta).String(), accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// The predicate failed; read the row back to name the reason.
	acct, err := c.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Locked() {
		return utils.ErrLockConflict
	}
	return utils.ErrInsufficientFunds
}

func (c *SQLStore) CommitApply(ctx context.Context, tid string, accountID string) (decimal.Decimal, error) {
	var balance string
	err := c.pool.QueryRow(ctx, `UPDATE accounts
		SET balance = balance + pending_delta, lock_holder = NULL,
		    pending_delta = 0, updated_at = now()
		WHERE account_id = $1 AND lock_holder = $2
		RETURNING balance`, accountID, tid).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := c.GetAccount(ctx, accountID); gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, utils.ErrLockConflict
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (c *SQLStore) AbortRelease(ctx context.Context, tid string, accountID string) (bool, error) {
	tag, err := c.pool.Exec(ctx, `UPDATE accounts
		SET lock_holder = NULL, pending_delta = 0, updated_at = now()
		WHERE account_id = $1 AND lock_holder = $2`, accountID, tid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (c *SQLStore) FindLock(ctx context.Context, tid string) (*Account, bool, error) {
	acct, err := c.scanAccount(c.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE lock_holder = $1", tid))
	if errors.Is(err, utils.ErrAccountNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return acct, true, nil
}

func (c *SQLStore) Close() {
	c.pool.Close()
}
