package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

// Users returns every stored user ordered by ID.
func (db *DB) Users(ctx context.Context) ([]model.User, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, base_currency, method, account_based_cost_basis, realize_exchange_gains
		FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		var method string
		if err := rows.Scan(&u.ID, &u.Name, &u.BaseCurrency, &method, &u.AccountBasedCostBasis, &u.RealizeExchangeGains); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Method = model.Method(method)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Load reads one user's ledger.
func (db *DB) Load(ctx context.Context, userID int64) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	var method string
	err := db.db.QueryRowContext(ctx, `
		SELECT id, name, base_currency, method, account_based_cost_basis, realize_exchange_gains
		FROM users WHERE id = ?`, userID).
		Scan(&snap.User.ID, &snap.User.Name, &snap.User.BaseCurrency, &method,
			&snap.User.AccountBasedCostBasis, &snap.User.RealizeExchangeGains)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("loading user %d: %w", userID, err)
	}
	snap.User.Method = model.Method(method)

	if snap.Wallets, err = db.wallets(ctx, userID); err != nil {
		return snap, err
	}
	if snap.Accounts, err = db.accounts(ctx, userID); err != nil {
		return snap, err
	}
	if snap.Transactions, err = db.transactions(ctx, userID); err != nil {
		return snap, err
	}
	if snap.Entries, err = db.entries(ctx, userID); err != nil {
		return snap, err
	}
	if snap.Investments, err = db.investments(ctx, userID); err != nil {
		return snap, err
	}
	return snap, nil
}

// LoadAll restores every stored user into a fresh ledger store.
func (db *DB) LoadAll(ctx context.Context) (*ledger.Store, error) {
	users, err := db.Users(ctx)
	if err != nil {
		return nil, err
	}
	store := ledger.New()
	for _, u := range users {
		snap, err := db.Load(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		store.Restore(snap)
	}
	return store, nil
}

func (db *DB) wallets(ctx context.Context, userID int64) ([]model.Wallet, error) {
	return query(ctx, db.db, "wallets", `SELECT id, user_id, name FROM wallets WHERE user_id = ? ORDER BY id`, userID,
		func(rows *sql.Rows) (model.Wallet, error) {
			var w model.Wallet
			err := rows.Scan(&w.ID, &w.UserID, &w.Name)
			return w, err
		})
}

func (db *DB) accounts(ctx context.Context, userID int64) ([]model.Account, error) {
	return query(ctx, db.db, "accounts", `SELECT id, user_id, wallet_id, currency, balance FROM accounts WHERE user_id = ? ORDER BY id`, userID,
		func(rows *sql.Rows) (model.Account, error) {
			var a model.Account
			err := rows.Scan(&a.ID, &a.UserID, &a.WalletID, &a.Currency, &a.Balance)
			return a, err
		})
}

func (db *DB) transactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return query(ctx, db.db, "transactions", `
		SELECT id, user_id, type, date, sort_index, label,
			from_amount, from_currency, from_account_id,
			to_amount, to_currency, to_account_id,
			fee_amount, fee_currency, fee_account_id,
			net_value, fee_value, ignored,
			tx_hash, importer, src_address, dest_address, description,
			gain, from_cost_basis, to_cost_basis, missing_cost_basis, negative_balances
		FROM transactions WHERE user_id = ? ORDER BY id`, userID,
		func(rows *sql.Rows) (model.Transaction, error) {
			var t model.Transaction
			var typ, date, label string
			err := rows.Scan(&t.ID, &t.UserID, &typ, &date, &t.SortIndex, &label,
				&t.From.Amount, &t.From.Currency, &t.From.AccountID,
				&t.To.Amount, &t.To.Currency, &t.To.AccountID,
				&t.Fee.Amount, &t.Fee.Currency, &t.Fee.AccountID,
				&t.NetValue, &t.FeeValue, &t.Ignored,
				&t.TxHash, &t.Importer, &t.SrcAddress, &t.DestAddress, &t.Description,
				&t.Gain, &t.FromCostBasis, &t.ToCostBasis, &t.MissingCostBasis, &t.NegativeBalances)
			if err != nil {
				return t, err
			}
			t.Type, t.Label = model.TransactionType(typ), model.Label(label)
			t.Date, err = parseTime(date)
			return t, err
		})
}

func (db *DB) entries(ctx context.Context, userID int64) ([]model.Entry, error) {
	return query(ctx, db.db, "entries", `
		SELECT id, account_id, transaction_id, date, amount,
			fee, ignored, adjustment, synced, manual, negative, balance
		FROM entries WHERE user_id = ? ORDER BY id`, userID,
		func(rows *sql.Rows) (model.Entry, error) {
			var e model.Entry
			var date string
			err := rows.Scan(&e.ID, &e.AccountID, &e.TransactionID, &date, &e.Amount,
				&e.Fee, &e.Ignored, &e.Adjustment, &e.Synced, &e.Manual, &e.Negative, &e.Balance)
			if err != nil {
				return e, err
			}
			e.Date, err = parseTime(date)
			return e, err
		})
}

func (db *DB) investments(ctx context.Context, userID int64) ([]model.Investment, error) {
	return query(ctx, db.db, "investments", `
		SELECT id, user_id, transaction_id, account_id, currency, date, deposit,
			amount, value, gain, extracted_amount, extracted_value,
			from_id, from_date, drawn_value, subtype, pool_name, long_term, deleted, washed_amount
		FROM investments WHERE user_id = ? ORDER BY id`, userID,
		func(rows *sql.Rows) (model.Investment, error) {
			var inv model.Investment
			var date, fromDate, subtype string
			err := rows.Scan(&inv.ID, &inv.UserID, &inv.TransactionID, &inv.AccountID, &inv.Currency, &date, &inv.Deposit,
				&inv.Amount, &inv.Value, &inv.Gain, &inv.ExtractedAmount, &inv.ExtractedValue,
				&inv.FromID, &fromDate, &inv.DrawnValue, &subtype, &inv.PoolName, &inv.LongTerm, &inv.Deleted, &inv.WashedAmount)
			if err != nil {
				return inv, err
			}
			inv.Subtype = model.Subtype(subtype)
			if inv.Date, err = parseTime(date); err != nil {
				return inv, err
			}
			inv.FromDate, err = parseTime(fromDate)
			return inv, err
		})
}

func query[T any](ctx context.Context, db *sql.DB, table, q string, userID int64, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("querying %s of user %d: %w", table, userID, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s of user %d: %w", table, userID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
