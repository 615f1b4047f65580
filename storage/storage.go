package storage

import (
	"context"
	"fmt"

	"ATX/configs"

	"github.com/shopspring/decimal"
)

// AccountStore is the participant's view of its ledger. Every mutating call
// is realized by a single predicate-based operation on the backing store so
// that lock acquisition and release are race-free under concurrent prepares.
//
// PrepareLock applies the sign convention of the protocol: delta < 0 is a
// debit and must satisfy balance >= -delta at the moment the lock is taken.
type AccountStore interface {
	CreateAccount(ctx context.Context, ownerID string, opening decimal.Decimal) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// PrepareLock sets lock_holder = tid and pending_delta = delta if and only
	// if the account exists, is unlocked, and the debit feasibility check
	// passes. Errors: utils.ErrAccountNotFound, utils.ErrLockConflict,
	// utils.ErrInsufficientFunds.
	PrepareLock(ctx context.Context, tid string, accountID string, delta decimal.Decimal) error

	// CommitApply folds pending_delta into balance and clears the lock slot,
	// if and only if lock_holder == tid. Returns the new balance.
	CommitApply(ctx context.Context, tid string, accountID string) (decimal.Decimal, error)

	// AbortRelease clears the lock slot if lock_holder == tid. Released
	// reports whether a lock was actually cleared; a missing or differently
	// locked account is not an error, abort is idempotent.
	AbortRelease(ctx context.Context, tid string, accountID string) (released bool, err error)

	// FindLock returns the account currently locked by tid, if any. Used by
	// the coordinator-side sweeper through the status endpoint.
	FindLock(ctx context.Context, tid string) (*Account, bool, error)

	Close()
}

// NewAccountStore builds the store selected by the config, mirroring the
// backend dispatch the deployment scripts use.
func NewAccountStore(ctx context.Context, conf *configs.Config) (AccountStore, error) {
	switch conf.StorageBackend {
	case configs.PostgreSQL:
		return NewSQLStore(ctx, conf.PostgresDSN)
	case configs.MongoDB:
		return NewMongoStore(ctx, conf.MongoDSN)
	case configs.MemoryStorage:
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", conf.StorageBackend)
	}
}
