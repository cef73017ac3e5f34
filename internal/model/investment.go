package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Subtype refines the meaning of an Investment.
type Subtype string

const (
	SubtypeNone           Subtype = ""
	SubtypeFailed         Subtype = "failed"
	SubtypeWashSale       Subtype = "wash_sale"
	SubtypeExternal       Subtype = "external"
	SubtypeFee            Subtype = "fee"
	SubtypeAmountOnlyFee  Subtype = "amount_only_fee"
	SubtypeOwnTransfer    Subtype = "own_transfer"
	SubtypeOwnTransferFee Subtype = "own_transfer_fee"
)

// IsFee reports whether s marks a fee extraction.
func (s Subtype) IsFee() bool {
	return s == SubtypeFee || s == SubtypeAmountOnlyFee || s == SubtypeOwnTransferFee
}

// Investment is either a lot (Deposit=true) or an extraction drawn from a lot.
type Investment struct {
	ID            int64
	UserID        int64
	TransactionID int64
	AccountID     int64
	Currency      string
	Date          time.Time
	Deposit       bool

	// Amount is positive for lots and negative for extractions.
	Amount decimal.Decimal
	Value  decimal.Decimal
	Gain   decimal.NullDecimal

	// Cumulative draw-down, lots only.
	ExtractedAmount decimal.Decimal
	ExtractedValue  decimal.Decimal

	// FromID references the lot an extraction drew from. It is a lookup,
	// not ownership. DrawnValue is the cost taken from that lot; Value can
	// be higher when a fee was folded into the extraction.
	FromID     int64
	FromDate   time.Time
	DrawnValue decimal.Decimal

	Subtype  Subtype
	PoolName string
	LongTerm bool
	Deleted  bool

	// WashedAmount is the part of a losing extraction already matched
	// against replacement lots.
	WashedAmount decimal.Decimal
}

// Extractable reports whether a lot still has amount and value to draw.
func (inv Investment) Extractable() bool {
	return inv.Deposit && !inv.Deleted && inv.RemainingAmount().IsPositive()
}

// RemainingAmount is the undrawn amount of a lot.
func (inv Investment) RemainingAmount() decimal.Decimal {
	return inv.Amount.Abs().Sub(inv.ExtractedAmount)
}

// RemainingValue is the undrawn cost basis of a lot.
func (inv Investment) RemainingValue() decimal.Decimal {
	return inv.Value.Sub(inv.ExtractedValue)
}

// IsLink reports whether inv is a bookkeeping record excluded from sums.
func (inv Investment) IsLink() bool {
	return !inv.Deposit && inv.Subtype == SubtypeWashSale && inv.Amount.IsZero()
}

// PoolKey scopes lot matching to either one currency or one account.
// Exactly one field is set.
type PoolKey struct {
	Currency  string
	AccountID int64
}

// CurrencyPool returns a pool keyed by currency.
func CurrencyPool(currency string) PoolKey {
	return PoolKey{Currency: currency}
}

// AccountPool returns a pool keyed by account.
func AccountPool(accountID int64) PoolKey {
	return PoolKey{AccountID: accountID}
}

// Validate rejects keys with neither or both fields set.
func (k PoolKey) Validate() error {
	switch {
	case k.Currency != "" && k.AccountID != 0:
		return &InvariantError{Invariant: "pool-key", Description: fmt.Sprintf("pool key sets both currency %s and account %d", k.Currency, k.AccountID)}
	case k.Currency == "" && k.AccountID == 0:
		return &InvariantError{Invariant: "pool-key", Description: "pool key is empty"}
	}
	return nil
}

// String returns the pool name stored on investments.
func (k PoolKey) String() string {
	if k.AccountID != 0 {
		return fmt.Sprintf("account:%d", k.AccountID)
	}
	return "currency:" + k.Currency
}

// ParsePoolName is the inverse of PoolKey.String.
func ParsePoolName(name string) (PoolKey, error) {
	switch {
	case strings.HasPrefix(name, "account:"):
		n, err := strconv.ParseInt(strings.TrimPrefix(name, "account:"), 10, 64)
		if err != nil {
			return PoolKey{}, fmt.Errorf("invalid pool name %q: %w", name, err)
		}
		return AccountPool(n), nil
	case strings.HasPrefix(name, "currency:"):
		return CurrencyPool(strings.TrimPrefix(name, "currency:")), nil
	default:
		return PoolKey{}, fmt.Errorf("invalid pool name %q", name)
	}
}
