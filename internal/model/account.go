package model

import "github.com/shopspring/decimal"

// Method names a cost-basis accounting method.
type Method string

const (
	MethodFifo         Method = "fifo"
	MethodLifo         Method = "lifo"
	MethodLowestCost   Method = "lowest_cost"
	MethodHighestCost  Method = "highest_cost"
	MethodAverageCost  Method = "average_cost"
	MethodFifoWashSale Method = "fifo_wash_sale"
)

// User holds the per-user accounting settings.
type User struct {
	ID           int64
	Name         string
	BaseCurrency string
	Method       Method
	// AccountBasedCostBasis pools lots per account instead of per currency.
	AccountBasedCostBasis bool
	RealizeExchangeGains  bool
}

// Wallet is one exchange account or on-chain wallet owned by a user.
type Wallet struct {
	ID     int64
	UserID int64
	Name   string
}

// Account tracks the running balance of one (wallet, currency) pair.
// Balance is recomputed from entries and never edited by hand.
type Account struct {
	ID       int64
	UserID   int64
	WalletID int64
	Currency string
	Balance  decimal.Decimal
}
