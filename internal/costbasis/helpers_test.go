package costbasis

import (
	"context"
	"fmt"
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

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// book builds a one-user ledger for engine tests.
type book struct {
	t       *testing.T
	store   *ledger.Store
	user    model.User
	opts    Options
	wallets map[string]model.Wallet
}

func newBook(t *testing.T, method model.Method, configure ...func(*model.User)) *book {
	t.Helper()
	store := ledger.New()
	u := model.User{Method: method, RealizeExchangeGains: true}
	for _, c := range configure {
		c(&u)
	}
	u, err := store.AddUser(u)
	require.NoError(t, err)
	return &book{t: t, store: store, user: u, opts: DefaultOptions(), wallets: make(map[string]model.Wallet)}
}

func accountBased(u *model.User) { u.AccountBasedCostBasis = true }

func noExchangeGains(u *model.User) { u.RealizeExchangeGains = false }

func (b *book) account(wallet, currency string) model.Account {
	b.t.Helper()
	w, ok := b.wallets[wallet]
	if !ok {
		var err error
		w, err = b.store.EnsureWallet(b.user.ID, wallet)
		require.NoError(b.t, err)
		b.wallets[wallet] = w
	}
	a, err := b.store.EnsureAccount(b.user.ID, w.ID, currency)
	require.NoError(b.t, err)
	return a
}

func (b *book) leg(wallet, currency, amount string) model.Leg {
	return model.Leg{Amount: dec(amount), AccountID: b.account(wallet, currency).ID}
}

func (b *book) add(tx model.Transaction) model.Transaction {
	b.t.Helper()
	tx.UserID = b.user.ID
	got, err := b.store.AddTransaction(tx)
	require.NoError(b.t, err)
	return got
}

func (b *book) buy(d time.Time, amount, currency, cost string) model.Transaction {
	return b.add(model.Transaction{
		Type:     model.TypeBuy,
		Date:     d,
		From:     b.leg("exchange", "USD", cost),
		To:       b.leg("exchange", currency, amount),
		NetValue: model.Null(dec(cost)),
	})
}

func (b *book) sell(d time.Time, amount, currency, proceeds string) model.Transaction {
	return b.add(model.Transaction{
		Type:     model.TypeSell,
		Date:     d,
		From:     b.leg("exchange", currency, amount),
		To:       b.leg("exchange", "USD", proceeds),
		NetValue: model.Null(dec(proceeds)),
	})
}

func (b *book) engine() *Engine {
	return NewEngine(b.store, b.opts, nil)
}

func (b *book) run() Result {
	b.t.Helper()
	res, err := b.engine().Run(context.Background(), b.user.ID)
	require.NoError(b.t, err)
	return res
}

func (b *book) tx(txID int64) model.Transaction {
	b.t.Helper()
	tx, err := b.store.Transaction(txID)
	require.NoError(b.t, err)
	return tx
}

func (b *book) investments(txID int64) []model.Investment {
	return b.store.InvestmentsForTransaction(txID)
}

func (b *book) lots(txID int64) []model.Investment {
	var out []model.Investment
	for _, inv := range b.investments(txID) {
		if inv.Deposit {
			out = append(out, inv)
		}
	}
	return out
}

func (b *book) extractions(txID int64) []model.Investment {
	var out []model.Investment
	for _, inv := range b.investments(txID) {
		if !inv.Deposit {
			out = append(out, inv)
		}
	}
	return out
}

func (b *book) audit() {
	b.t.Helper()
	pooled := b.user.Method == model.MethodAverageCost
	assert.Empty(b.t, auditLots(b.store.Investments(b.user.ID), pooled))
}

// auditLots checks the lot bookkeeping of a user's live investments and returns
// every violation found.
func auditLots(invs []model.Investment, pooled bool) []error {
	byID := make(map[int64]model.Investment, len(invs))
	drawn := make(map[int64]decimal.Decimal)
	drawnValue := make(map[int64]decimal.Decimal)
	for _, inv := range invs {
		if inv.Deleted {
			continue
		}
		byID[inv.ID] = inv
	}

	var errs []error
	fail := func(inv model.Investment, format string, args ...any) {
		errs = append(errs, &model.InvariantError{
			Invariant:     "lot-bookkeeping",
			TransactionID: inv.TransactionID,
			Description:   fmt.Sprintf("investment %d: ", inv.ID) + fmt.Sprintf(format, args...),
		})
	}

	for _, inv := range byID {
		if inv.Deposit {
			if inv.ExtractedAmount.GreaterThan(inv.Amount.Abs()) {
				fail(inv, "extracted amount %s exceeds lot amount %s", inv.ExtractedAmount, inv.Amount)
			}
			if inv.ExtractedValue.GreaterThan(inv.Value) {
				fail(inv, "extracted value %s exceeds lot value %s", inv.ExtractedValue, inv.Value)
			}
			continue
		}
		if inv.IsLink() {
			if _, ok := byID[inv.FromID]; !ok {
				fail(inv, "wash sale link references missing extraction %d", inv.FromID)
			}
			continue
		}
		if inv.FromID == 0 {
			if inv.Subtype != model.SubtypeFailed && inv.Subtype != model.SubtypeExternal && !pooled {
				fail(inv, "extraction has no source lot")
			}
			continue
		}
		lot, ok := byID[inv.FromID]
		if !ok || !lot.Deposit {
			fail(inv, "source lot %d is missing", inv.FromID)
			continue
		}
		drawn[lot.ID] = drawn[lot.ID].Add(inv.Amount.Abs())
		drawnValue[lot.ID] = drawnValue[lot.ID].Add(inv.DrawnValue)
	}

	for lotID, total := range drawn {
		lot := byID[lotID]
		if !total.Equal(lot.ExtractedAmount) {
			fail(lot, "extractions draw %s but lot records %s", total, lot.ExtractedAmount)
		}
		if value := drawnValue[lotID]; !value.Equal(lot.ExtractedValue) {
			fail(lot, "extractions draw value %s but lot records %s", value, lot.ExtractedValue)
		}
	}
	return errs
}
