package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TypeBuy              TransactionType = "buy"
	TypeSell             TransactionType = "sell"
	TypeExchange         TransactionType = "exchange"
	TypeTransfer         TransactionType = "transfer"
	TypeFiatDeposit      TransactionType = "fiat_deposit"
	TypeFiatWithdrawal   TransactionType = "fiat_withdrawal"
	TypeCryptoDeposit    TransactionType = "crypto_deposit"
	TypeCryptoWithdrawal TransactionType = "crypto_withdrawal"
)

// typePriority orders same-timestamp transactions so that inflows are
// processed before outflows.
var typePriority = map[TransactionType]int{
	TypeFiatDeposit:      0,
	TypeCryptoDeposit:    1,
	TypeBuy:              2,
	TypeExchange:         3,
	TypeTransfer:         4,
	TypeSell:             5,
	TypeCryptoWithdrawal: 6,
	TypeFiatWithdrawal:   7,
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	_, ok := typePriority[t]
	return ok
}

// Priority returns the tie-break rank of t for same-timestamp ordering.
func (t TransactionType) Priority() int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return len(typePriority)
}

// Label annotates the economic meaning of a transaction.
type Label string

const (
	LabelNone         Label = ""
	LabelAirdrop      Label = "airdrop"
	LabelFork         Label = "fork"
	LabelMining       Label = "mining"
	LabelStaking      Label = "staking"
	LabelIncome       Label = "income"
	LabelGift         Label = "gift"
	LabelLost         Label = "lost"
	LabelDonation     Label = "donation"
	LabelCost         Label = "cost"
	LabelRealizedGain Label = "realized_gain"
)

// SkipsGain reports whether disposals with this label realize no gain.
func (l Label) SkipsGain() bool {
	return l == LabelGift || l == LabelLost || l == LabelDonation
}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	switch l {
	case LabelNone, LabelAirdrop, LabelFork, LabelMining, LabelStaking, LabelIncome,
		LabelGift, LabelLost, LabelDonation, LabelCost, LabelRealizedGain:
		return true
	}
	return false
}

// Leg is one side of a transaction. A leg with an empty Currency is absent.
// Amount is always a non-negative magnitude; direction comes from the leg's role.
type Leg struct {
	Amount    decimal.Decimal
	Currency  string
	AccountID int64
}

// Present reports whether the leg is set.
func (l Leg) Present() bool {
	return l.Currency != "" && !l.Amount.IsZero()
}

// Transaction is one logical ledger operation.
type Transaction struct {
	ID        int64
	UserID    int64
	Type      TransactionType
	Date      time.Time
	SortIndex int
	Label     Label
	From      Leg
	To        Leg
	Fee       Leg
	NetValue  decimal.NullDecimal
	FeeValue  decimal.NullDecimal
	Ignored   bool

	// Metadata used by the transfer matcher.
	TxHash      string
	Importer    string
	SrcAddress  string
	DestAddress string
	Description string

	// Derived by the cost-basis engine. A null Gain on a non-ignored
	// transaction marks it as pending.
	Gain             decimal.NullDecimal
	FromCostBasis    decimal.NullDecimal
	ToCostBasis      decimal.NullDecimal
	MissingCostBasis decimal.NullDecimal

	// Derived by the balance updater.
	NegativeBalances bool
}

// Pending reports whether the transaction's gain needs (re)computing.
func (t Transaction) Pending() bool {
	return !t.Ignored && !t.Gain.Valid
}

// ClearGains nulls every derived tax field, queueing the transaction for
// recomputation.
func (t *Transaction) ClearGains() {
	t.Gain = decimal.NullDecimal{}
	t.FromCostBasis = decimal.NullDecimal{}
	t.ToCostBasis = decimal.NullDecimal{}
	t.MissingCostBasis = decimal.NullDecimal{}
}

// AccountingChanged reports whether any field that affects cost-basis
// accounting differs between t and other.
func (t Transaction) AccountingChanged(other Transaction) bool {
	return t.Type != other.Type ||
		!t.Date.Equal(other.Date) ||
		t.Label != other.Label ||
		t.Ignored != other.Ignored ||
		t.SortIndex != other.SortIndex ||
		!legEqual(t.From, other.From) ||
		!legEqual(t.To, other.To) ||
		!legEqual(t.Fee, other.Fee) ||
		!nullEqual(t.NetValue, other.NetValue) ||
		!nullEqual(t.FeeValue, other.FeeValue)
}

func legEqual(a, b Leg) bool {
	return a.Currency == b.Currency && a.AccountID == b.AccountID && a.Amount.Equal(b.Amount)
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// Less is the total ledger ordering: date, then type priority, then
// explicit sort index, then insertion id.
func Less(a, b Transaction) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if pa, pb := a.Type.Priority(), b.Type.Priority(); pa != pb {
		return pa < pb
	}
	if a.SortIndex != b.SortIndex {
		return a.SortIndex < b.SortIndex
	}
	return a.ID < b.ID
}
