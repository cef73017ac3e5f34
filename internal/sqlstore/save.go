package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

const (
	upsertUser = `
		INSERT INTO users (id, name, base_currency, method, account_based_cost_basis, realize_exchange_gains)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_currency = excluded.base_currency,
			method = excluded.method,
			account_based_cost_basis = excluded.account_based_cost_basis,
			realize_exchange_gains = excluded.realize_exchange_gains`

	upsertWallet = `
		INSERT INTO wallets (id, user_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`

	upsertAccount = `
		INSERT INTO accounts (id, user_id, wallet_id, currency, balance) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			wallet_id = excluded.wallet_id,
			currency = excluded.currency,
			balance = excluded.balance`

	upsertTransaction = `
		INSERT INTO transactions (
			id, user_id, type, date, sort_index, label,
			from_amount, from_currency, from_account_id,
			to_amount, to_currency, to_account_id,
			fee_amount, fee_currency, fee_account_id,
			net_value, fee_value, ignored,
			tx_hash, importer, src_address, dest_address, description,
			gain, from_cost_basis, to_cost_basis, missing_cost_basis, negative_balances)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			date = excluded.date,
			sort_index = excluded.sort_index,
			label = excluded.label,
			from_amount = excluded.from_amount,
			from_currency = excluded.from_currency,
			from_account_id = excluded.from_account_id,
			to_amount = excluded.to_amount,
			to_currency = excluded.to_currency,
			to_account_id = excluded.to_account_id,
			fee_amount = excluded.fee_amount,
			fee_currency = excluded.fee_currency,
			fee_account_id = excluded.fee_account_id,
			net_value = excluded.net_value,
			fee_value = excluded.fee_value,
			ignored = excluded.ignored,
			tx_hash = excluded.tx_hash,
			importer = excluded.importer,
			src_address = excluded.src_address,
			dest_address = excluded.dest_address,
			description = excluded.description,
			gain = excluded.gain,
			from_cost_basis = excluded.from_cost_basis,
			to_cost_basis = excluded.to_cost_basis,
			missing_cost_basis = excluded.missing_cost_basis,
			negative_balances = excluded.negative_balances`

	upsertEntry = `
		INSERT INTO entries (
			id, user_id, account_id, transaction_id, date, amount,
			fee, ignored, adjustment, synced, manual, negative, balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			transaction_id = excluded.transaction_id,
			date = excluded.date,
			amount = excluded.amount,
			fee = excluded.fee,
			ignored = excluded.ignored,
			adjustment = excluded.adjustment,
			synced = excluded.synced,
			manual = excluded.manual,
			negative = excluded.negative,
			balance = excluded.balance`

	upsertInvestment = `
		INSERT INTO investments (
			id, user_id, transaction_id, account_id, currency, date, deposit,
			amount, value, gain, extracted_amount, extracted_value,
			from_id, from_date, drawn_value, subtype, pool_name, long_term, deleted, washed_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transaction_id = excluded.transaction_id,
			account_id = excluded.account_id,
			currency = excluded.currency,
			date = excluded.date,
			deposit = excluded.deposit,
			amount = excluded.amount,
			value = excluded.value,
			gain = excluded.gain,
			extracted_amount = excluded.extracted_amount,
			extracted_value = excluded.extracted_value,
			from_id = excluded.from_id,
			from_date = excluded.from_date,
			drawn_value = excluded.drawn_value,
			subtype = excluded.subtype,
			pool_name = excluded.pool_name,
			long_term = excluded.long_term,
			deleted = excluded.deleted,
			washed_amount = excluded.washed_amount`
)

// Save writes one user's ledger in a single SQL transaction. Rows of the
// user that are no longer in the snapshot are removed.
func (db *DB) Save(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	u := snap.User
	if _, err := tx.ExecContext(ctx, upsertUser,
		u.ID, u.Name, u.BaseCurrency, string(u.Method), u.AccountBasedCostBasis, u.RealizeExchangeGains,
	); err != nil {
		return fmt.Errorf("saving user %d: %w", u.ID, err)
	}

	if err := upsertAll(ctx, tx, upsertWallet, snap.Wallets, func(w model.Wallet) []any {
		return []any{w.ID, w.UserID, w.Name}
	}); err != nil {
		return fmt.Errorf("saving wallets: %w", err)
	}
	if err := upsertAll(ctx, tx, upsertAccount, snap.Accounts, func(a model.Account) []any {
		return []any{a.ID, a.UserID, a.WalletID, a.Currency, a.Balance}
	}); err != nil {
		return fmt.Errorf("saving accounts: %w", err)
	}
	if err := upsertAll(ctx, tx, upsertTransaction, snap.Transactions, func(t model.Transaction) []any {
		return []any{
			t.ID, t.UserID, string(t.Type), formatTime(t.Date), t.SortIndex, string(t.Label),
			t.From.Amount, t.From.Currency, t.From.AccountID,
			t.To.Amount, t.To.Currency, t.To.AccountID,
			t.Fee.Amount, t.Fee.Currency, t.Fee.AccountID,
			t.NetValue, t.FeeValue, t.Ignored,
			t.TxHash, t.Importer, t.SrcAddress, t.DestAddress, t.Description,
			t.Gain, t.FromCostBasis, t.ToCostBasis, t.MissingCostBasis, t.NegativeBalances,
		}
	}); err != nil {
		return fmt.Errorf("saving transactions: %w", err)
	}
	if err := upsertAll(ctx, tx, upsertEntry, snap.Entries, func(e model.Entry) []any {
		return []any{
			e.ID, u.ID, e.AccountID, e.TransactionID, formatTime(e.Date), e.Amount,
			e.Fee, e.Ignored, e.Adjustment, e.Synced, e.Manual, e.Negative, e.Balance,
		}
	}); err != nil {
		return fmt.Errorf("saving entries: %w", err)
	}
	if err := upsertAll(ctx, tx, upsertInvestment, snap.Investments, func(inv model.Investment) []any {
		return []any{
			inv.ID, inv.UserID, inv.TransactionID, inv.AccountID, inv.Currency, formatTime(inv.Date), inv.Deposit,
			inv.Amount, inv.Value, inv.Gain, inv.ExtractedAmount, inv.ExtractedValue,
			inv.FromID, formatTime(inv.FromDate), inv.DrawnValue, string(inv.Subtype), inv.PoolName,
			inv.LongTerm, inv.Deleted, inv.WashedAmount,
		}
	}); err != nil {
		return fmt.Errorf("saving investments: %w", err)
	}

	// Children before parents so foreign keys hold.
	prunes := []struct {
		table string
		keep  []int64
	}{
		{"investments", ids(snap.Investments, func(inv model.Investment) int64 { return inv.ID })},
		{"entries", ids(snap.Entries, func(e model.Entry) int64 { return e.ID })},
		{"transactions", ids(snap.Transactions, func(t model.Transaction) int64 { return t.ID })},
		{"accounts", ids(snap.Accounts, func(a model.Account) int64 { return a.ID })},
		{"wallets", ids(snap.Wallets, func(w model.Wallet) int64 { return w.ID })},
	}
	removed := 0
	for _, p := range prunes {
		n, err := prune(ctx, tx, p.table, u.ID, p.keep)
		if err != nil {
			return fmt.Errorf("pruning %s: %w", p.table, err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	db.logger.Debug("ledger saved",
		"user_id", u.ID,
		"transactions", len(snap.Transactions),
		"entries", len(snap.Entries),
		"investments", len(snap.Investments),
		"removed", removed,
	)
	return nil
}

// SaveAll saves every user in store.
func (db *DB) SaveAll(ctx context.Context, store *ledger.Store) error {
	for _, u := range store.Users() {
		snap, err := store.Snapshot(u.ID)
		if err != nil {
			return err
		}
		if err := db.Save(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func upsertAll[T any](ctx context.Context, tx *sql.Tx, query string, rows []T, args func(T) []any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, args(r)...); err != nil {
			return err
		}
	}
	return nil
}

func prune(ctx context.Context, tx *sql.Tx, table string, userID int64, keep []int64) (int, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM "+table+" WHERE user_id = ?", userID)
	if err != nil {
		return 0, err
	}
	kept := make(map[int64]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	var stale []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return 0, err
		}
		if !kept[rowID] {
			stale = append(stale, rowID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, rowID := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", rowID); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func ids[T any](rows []T, key func(T) int64) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = key(r)
	}
	return out
}
