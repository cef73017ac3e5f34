package balance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func entry(id int64, d time.Time, amount string) model.Entry {
	return model.Entry{ID: id, AccountID: 1, TransactionID: id, Date: d, Amount: dec(amount)}
}

func balances(entries []model.Entry) map[int64]string {
	out := make(map[int64]string)
	for _, e := range entries {
		out[e.ID] = e.Balance.Decimal.String()
	}
	return out
}

func TestReprocess_NewLowOnly(t *testing.T) {
	entries := []model.Entry{
		entry(1, date(2024, 1, 1), "10"),
		entry(2, date(2024, 1, 2), "-15"),
		entry(3, date(2024, 1, 3), "3"),
	}
	changed, final, ok := Reprocess(entries)
	require.True(t, ok)
	require.Len(t, changed, 3)

	assert.Equal(t, map[int64]string{1: "10", 2: "-5", 3: "-2"}, balances(changed))
	assert.False(t, changed[0].Negative)
	assert.True(t, changed[1].Negative)
	assert.False(t, changed[2].Negative, "still negative but not a new low")
	assert.True(t, final.Equal(dec("-2")))
}

func TestReprocess_DeeperLowFlaggedAgain(t *testing.T) {
	entries := []model.Entry{
		entry(1, date(2024, 1, 1), "-5"),
		entry(2, date(2024, 1, 2), "2"),
		entry(3, date(2024, 1, 3), "-4"),
	}
	changed, _, ok := Reprocess(entries)
	require.True(t, ok)
	assert.True(t, changed[0].Negative)
	assert.False(t, changed[1].Negative)
	assert.True(t, changed[2].Negative, "-7 is below the earlier low of -5")
}

func TestReprocess_SameDateDepositsFirst(t *testing.T) {
	d := date(2024, 1, 1)
	entries := []model.Entry{
		entry(1, d, "-5"),
		entry(2, d, "5"),
	}
	changed, final, ok := Reprocess(entries)
	require.True(t, ok)
	for _, e := range changed {
		assert.False(t, e.Negative)
	}
	assert.True(t, final.IsZero())
}

func TestReprocess_IgnoredAndUnlinked(t *testing.T) {
	ignored := entry(2, date(2024, 1, 2), "-100")
	ignored.Ignored = true
	unlinked := entry(3, date(2024, 1, 3), "-50")
	unlinked.TransactionID = 0

	changed, final, ok := Reprocess([]model.Entry{entry(1, date(2024, 1, 1), "1"), ignored, unlinked})
	require.True(t, ok)
	assert.Equal(t, map[int64]string{1: "1", 2: "0", 3: "0"}, balances(changed))
	assert.True(t, final.Equal(dec("1")))
}

func TestReprocess_StartsAtEarliestStale(t *testing.T) {
	first := entry(1, date(2024, 1, 1), "10")
	first.Balance = model.Null(dec("10"))
	second := entry(2, date(2024, 1, 2), "-12")
	second.Balance = model.Null(dec("-2"))
	second.Negative = true
	third := entry(3, date(2024, 1, 3), "1")

	changed, final, ok := Reprocess([]model.Entry{first, second, third})
	require.True(t, ok)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(3), changed[0].ID)
	assert.True(t, changed[0].Balance.Decimal.Equal(dec("-1")))
	assert.False(t, changed[0].Negative)
	assert.True(t, final.Equal(dec("-1")))
}

func TestReprocess_NothingStale(t *testing.T) {
	e := entry(1, date(2024, 1, 1), "1")
	e.Balance = model.Null(dec("1"))
	_, _, ok := Reprocess([]model.Entry{e})
	assert.False(t, ok)
}

func TestUpdater_Run(t *testing.T) {
	store := ledger.New()
	u, err := store.AddUser(model.User{})
	require.NoError(t, err)
	w, err := store.EnsureWallet(u.ID, "cold")
	require.NoError(t, err)
	btc, err := store.EnsureAccount(u.ID, w.ID, "BTC")
	require.NoError(t, err)
	usd, err := store.EnsureAccount(u.ID, w.ID, "USD")
	require.NoError(t, err)

	deposit, err := store.AddTransaction(model.Transaction{UserID: u.ID, Type: model.TypeCryptoDeposit, Date: date(2024, 1, 1),
		To: model.Leg{Amount: dec("1"), AccountID: btc.ID}})
	require.NoError(t, err)
	sell, err := store.AddTransaction(model.Transaction{UserID: u.ID, Type: model.TypeSell, Date: date(2024, 1, 2),
		From: model.Leg{Amount: dec("3"), AccountID: btc.ID}, To: model.Leg{Amount: dec("100"), AccountID: usd.ID}})
	require.NoError(t, err)
	overdraw, err := store.AddTransaction(model.Transaction{UserID: u.ID, Type: model.TypeFiatWithdrawal, Date: date(2024, 1, 3),
		From: model.Leg{Amount: dec("500"), AccountID: usd.ID}})
	require.NoError(t, err)

	res, err := NewUpdater(store, nil).Run(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accounts)
	assert.Equal(t, 4, res.Entries)
	assert.Equal(t, 1, res.Negative)

	got, err := store.Transaction(sell.ID)
	require.NoError(t, err)
	assert.True(t, got.NegativeBalances)

	got, err = store.Transaction(overdraw.ID)
	require.NoError(t, err)
	assert.False(t, got.NegativeBalances, "fiat entries do not flag the transaction")

	got, err = store.Transaction(deposit.ID)
	require.NoError(t, err)
	assert.False(t, got.NegativeBalances)

	acct, err := store.Account(btc.ID)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("-2")))

	again, err := NewUpdater(store, nil).Run(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Accounts)
}
