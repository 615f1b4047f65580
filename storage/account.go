package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one ledger row owned by a participant. The lock slot
// (LockHolder + PendingDelta) is the 2PC reservation: both fields are set
// together at prepare and cleared together at commit/abort.
type Account struct {
	AccountID    string          `json:"account_id"`
	OwnerID      string          `json:"owner_id"`
	Balance      decimal.Decimal `json:"balance"`
	LockHolder   string          `json:"lock_holder,omitempty"`
	PendingDelta decimal.Decimal `json:"pending_delta"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Locked reports whether the account carries a 2PC reservation.
func (c *Account) Locked() bool {
	return c.LockHolder != ""
}

// EffectiveBalance is the balance the lock holder would observe after commit.
func (c *Account) EffectiveBalance() decimal.Decimal {
	if !c.Locked() {
		return c.Balance
	}
	return c.Balance.Add(c.PendingDelta)
}

func (c *Account) clone() *Account {
	cp := *c
	return &cp
}

// Fixed-point scale for all monetary values: DECIMAL(19,4).
const moneyScale = 4

// Money rounds v to the ledger scale.
func Money(v decimal.Decimal) decimal.Decimal {
	return v.Round(moneyScale)
}
