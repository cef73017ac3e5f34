package balance

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/model"
)

// NegativeThreshold is the running balance at or below which an entry
// counts as negative.
var NegativeThreshold = decimal.New(-1, -7)

// Result summarises one balance run.
type Result struct {
	Accounts int
	Entries  int
	Negative int
}

// Updater recomputes running balances for accounts with stale entries.
type Updater struct {
	store  *ledger.Store
	logger *slog.Logger
}

// NewUpdater creates an Updater.
func NewUpdater(store *ledger.Store, logger *slog.Logger) *Updater {
	return &Updater{store: store, logger: logging.OrDiscard(logger)}
}

// Run rebalances every account of the user holding at least one stale
// entry, then refreshes the negative-balance flag of affected transactions.
func (u *Updater) Run(ctx context.Context, userID int64) (Result, error) {
	var res Result
	currencies := make(map[int64]string)
	touched := make(map[int64]bool)

	for _, acct := range u.store.Accounts(userID) {
		currencies[acct.ID] = acct.Currency
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entries := u.store.Entries(acct.ID)
		changed, balance, ok := Reprocess(entries)
		if !ok {
			continue
		}
		res.Accounts++
		res.Entries += len(changed)
		u.store.UpsertEntries(changed...)
		if !acct.Balance.Equal(balance) {
			acct.Balance = balance
			u.store.UpsertAccounts(acct)
		}
		for _, e := range entries {
			if e.Linked() {
				touched[e.TransactionID] = true
			}
		}
	}

	flags := make(map[int64]bool, len(touched))
	for txID := range touched {
		negative := false
		for _, e := range u.store.EntriesForTransaction(txID) {
			if e.Negative && !model.IsFiat(currencies[e.AccountID]) {
				negative = true
				break
			}
		}
		flags[txID] = negative
		if negative {
			res.Negative++
		}
	}
	u.store.SetNegativeBalances(flags)

	u.logger.Info("balances recomputed",
		"user_id", userID,
		"accounts", res.Accounts,
		"entries", res.Entries,
		"negative_transactions", res.Negative,
	)
	return res, nil
}

// Reprocess recomputes the running balance of one account's entries from
// the earliest stale date onward. It returns the entries whose stored
// balance or negative flag changed, the final account balance, and false
// when no entry was stale.
func Reprocess(entries []model.Entry) (changed []model.Entry, balance decimal.Decimal, ok bool) {
	var earliest model.Entry
	for _, e := range entries {
		if e.Stale() && (!ok || e.Date.Before(earliest.Date)) {
			earliest, ok = e, true
		}
	}
	if !ok {
		return nil, decimal.Zero, false
	}

	sorted := make([]model.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.ID < b.ID
	})

	running := decimal.Zero
	lowest := decimal.Zero
	for _, e := range sorted {
		counted := e.Linked() && !e.Ignored

		if e.Date.Before(earliest.Date) {
			if counted && e.Balance.Valid {
				running = e.Balance.Decimal
				if running.LessThanOrEqual(NegativeThreshold) && running.LessThan(lowest) {
					lowest = running
				}
			}
			continue
		}

		next := e
		if !counted {
			next.Balance = model.Null(decimal.Zero)
			next.Negative = false
		} else {
			running = running.Add(e.Amount)
			next.Balance = model.Null(running)
			next.Negative = running.LessThanOrEqual(NegativeThreshold) && running.LessThan(lowest)
			if next.Negative {
				lowest = running
			}
		}
		if e.Stale() || !e.Balance.Decimal.Equal(next.Balance.Decimal) || e.Negative != next.Negative {
			changed = append(changed, next)
		}
	}
	return changed, running, true
}
