package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one signed amount posted to an account. An entry whose
// TransactionID is zero has been soft-deleted and no longer counts
// towards its account's balance.
type Entry struct {
	ID            int64
	AccountID     int64
	TransactionID int64
	Date          time.Time
	Amount        decimal.Decimal
	Fee           bool
	Ignored       bool
	Adjustment    bool
	Synced        bool
	Manual        bool

	// Computed by the balance updater. A null Balance marks the entry stale.
	Negative bool
	Balance  decimal.NullDecimal
}

// Linked reports whether the entry still belongs to a transaction.
func (e Entry) Linked() bool {
	return e.TransactionID != 0
}

// Stale reports whether the entry's running balance needs recomputing.
func (e Entry) Stale() bool {
	return !e.Balance.Valid
}
