package transfer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

// candidate is one side of a possible transfer: a deposit or a withdrawal
// with a single leg.
type candidate struct {
	tx       model.Transaction
	leg      model.Leg
	walletID int64
	deposit  bool
	hash     string
}

func (c candidate) amount() decimal.Decimal {
	return c.leg.Amount.Abs()
}

// pair is a withdrawal and deposit under consideration.
type pair struct {
	withdrawal candidate
	deposit    candidate
}

// delta is how long after the withdrawal the deposit arrived.
func (p pair) delta() time.Duration {
	return p.deposit.tx.Date.Sub(p.withdrawal.tx.Date)
}

// fee is the amount lost between the two sides.
func (p pair) fee() decimal.Decimal {
	return p.withdrawal.amount().Sub(p.deposit.amount()).Abs()
}

func (p pair) hashMatch() bool {
	return p.withdrawal.hash != "" && p.withdrawal.hash == p.deposit.hash
}

// NormalizeHash canonicalizes an external transaction hash: lower case,
// no 0x prefix and no output index suffix.
func NormalizeHash(hash string) string {
	h := strings.ToLower(strings.TrimSpace(hash))
	h = strings.TrimPrefix(h, "0x")
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	return h
}

// UniqueAmount reports whether an amount has enough non-zero significant
// digits that a coincidental match within a week is unlikely.
func UniqueAmount(amount decimal.Decimal) bool {
	n := 0
	for _, r := range amount.Abs().String() {
		if r >= '1' && r <= '9' {
			n++
		}
	}
	return n >= 4
}

func within(d, lo, hi time.Duration) bool {
	return d >= lo && d <= hi
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
