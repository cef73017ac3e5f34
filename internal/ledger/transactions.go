package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

// Gains carries the derived tax fields of one transaction.
type Gains struct {
	TransactionID    int64
	Gain             decimal.NullDecimal
	FromCostBasis    decimal.NullDecimal
	ToCostBasis      decimal.NullDecimal
	MissingCostBasis decimal.NullDecimal
}

// AddTransaction validates tx, stores it as pending and posts one entry
// per present leg.
func (s *Store) AddTransaction(tx model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == 0 {
		tx.ID = s.txSeq.Next()
	} else if _, exists := s.transactions.get(tx.ID); exists {
		return model.Transaction{}, fmt.Errorf("transaction %d already exists", tx.ID)
	}
	if err := s.checkTransaction(&tx); err != nil {
		return model.Transaction{}, err
	}
	s.txSeq.Observe(tx.ID)
	tx.ClearGains()
	if tx.Ignored {
		tx.NegativeBalances = false
	}
	s.transactions.put(tx.ID, tx)
	s.deriveEntries(tx)
	return tx, nil
}

// UpdateTransaction replaces a transaction. When any field that affects
// accounting changed, its gain is nulled, its investments are soft-deleted
// and its entries are re-derived from the new legs.
func (s *Store) UpdateTransaction(tx model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.transactions.get(tx.ID)
	if !ok {
		return model.Transaction{}, fmt.Errorf("transaction %d: %w", tx.ID, model.ErrNotFound)
	}
	if err := s.checkTransaction(&tx); err != nil {
		return model.Transaction{}, err
	}
	if !old.AccountingChanged(tx) {
		s.transactions.put(tx.ID, tx)
		return tx, nil
	}

	tx.ClearGains()
	s.transactions.put(tx.ID, tx)
	s.softDeleteFor(tx.ID)
	s.unlinkEntries(tx.ID)
	s.deriveEntries(tx)
	return tx, nil
}

// DeleteTransaction removes a transaction, unlinking its entries and
// soft-deleting its investments.
func (s *Store) DeleteTransaction(txID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTransaction(txID)
}

func (s *Store) deleteTransaction(txID int64) error {
	if _, ok := s.transactions.get(txID); !ok {
		return fmt.Errorf("transaction %d: %w", txID, model.ErrNotFound)
	}
	s.softDeleteFor(txID)
	s.unlinkEntries(txID)
	s.transactions.remove(txID)
	return nil
}

// Transaction returns a transaction by ID.
func (s *Store) Transaction(txID int64) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transaction(txID)
}

func (s *Store) transaction(txID int64) (model.Transaction, error) {
	tx, ok := s.transactions.get(txID)
	if !ok {
		return model.Transaction{}, fmt.Errorf("transaction %d: %w", txID, model.ErrNotFound)
	}
	return tx, nil
}

// Transactions returns the user's transactions in ledger order.
func (s *Store) Transactions(userID int64) []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Transaction
	for _, tx := range s.transactions.rows {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return out
}

// SetGains writes derived tax fields. A missing transaction yields
// model.ErrTransactionVanished and nothing is written.
func (s *Store) SetGains(gains ...Gains) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range gains {
		if _, ok := s.transactions.get(g.TransactionID); !ok {
			return fmt.Errorf("transaction %d: %w", g.TransactionID, model.ErrTransactionVanished)
		}
	}
	for _, g := range gains {
		tx, _ := s.transactions.get(g.TransactionID)
		tx.Gain = g.Gain
		tx.FromCostBasis = g.FromCostBasis
		tx.ToCostBasis = g.ToCostBasis
		tx.MissingCostBasis = g.MissingCostBasis
		s.transactions.put(tx.ID, tx)
	}
	return nil
}

// ClearGains nulls the derived tax fields of the given transactions,
// queueing them for recomputation. Missing IDs are skipped.
func (s *Store) ClearGains(txIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txID := range txIDs {
		tx, ok := s.transactions.get(txID)
		if !ok {
			continue
		}
		tx.ClearGains()
		s.transactions.put(txID, tx)
	}
}

// SetNegativeBalances updates the negative-balance flag of transactions.
func (s *Store) SetNegativeBalances(flags map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for txID, negative := range flags {
		tx, ok := s.transactions.get(txID)
		if !ok || tx.NegativeBalances == negative {
			continue
		}
		tx.NegativeBalances = negative
		s.transactions.put(txID, tx)
	}
}

// checkTransaction validates tx against stored users and accounts and
// fills leg currencies from their accounts.
func (s *Store) checkTransaction(tx *model.Transaction) error {
	if _, ok := s.users.get(tx.UserID); !ok {
		return fmt.Errorf("transaction %d: user %d: %w", tx.ID, tx.UserID, model.ErrNotFound)
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("transaction %d: unknown type %q", tx.ID, tx.Type)
	}
	if tx.Date.IsZero() {
		return fmt.Errorf("transaction %d: date is required", tx.ID)
	}
	legs := []struct {
		name string
		leg  *model.Leg
	}{
		{"from", &tx.From},
		{"to", &tx.To},
		{"fee", &tx.Fee},
	}
	for _, l := range legs {
		if l.leg.AccountID == 0 {
			if l.leg.Currency != "" && !l.leg.Amount.IsZero() {
				return fmt.Errorf("transaction %d: %s leg has no account", tx.ID, l.name)
			}
			continue
		}
		if l.leg.Amount.IsNegative() {
			return fmt.Errorf("transaction %d: %s leg amount must not be negative", tx.ID, l.name)
		}
		acct, ok := s.accounts.get(l.leg.AccountID)
		if !ok || acct.UserID != tx.UserID {
			return fmt.Errorf("transaction %d: %s leg: account %d: %w", tx.ID, l.name, l.leg.AccountID, model.ErrNotFound)
		}
		if l.leg.Currency == "" {
			l.leg.Currency = acct.Currency
		} else if l.leg.Currency != acct.Currency {
			return fmt.Errorf("transaction %d: %s leg currency %s does not match account %d (%s)",
				tx.ID, l.name, l.leg.Currency, acct.ID, acct.Currency)
		}
	}
	return nil
}

func (s *Store) deriveEntries(tx model.Transaction) {
	post := func(leg model.Leg, amount decimal.Decimal, fee bool) {
		if !leg.Present() {
			return
		}
		e := model.Entry{
			ID:            s.entrySeq.Next(),
			AccountID:     leg.AccountID,
			TransactionID: tx.ID,
			Date:          tx.Date,
			Amount:        amount,
			Fee:           fee,
			Ignored:       tx.Ignored,
		}
		s.entries.put(e.ID, e)
	}
	post(tx.From, tx.From.Amount.Neg(), false)
	post(tx.To, tx.To.Amount, false)
	post(tx.Fee, tx.Fee.Amount.Neg(), true)
}

// unlinkEntries soft-deletes the entries of a transaction and marks them
// stale so their accounts get rebalanced.
func (s *Store) unlinkEntries(txID int64) {
	for entryID, e := range s.entries.rows {
		if e.TransactionID != txID {
			continue
		}
		e.TransactionID = 0
		e.Balance = decimal.NullDecimal{}
		e.Negative = false
		s.entries.put(entryID, e)
	}
}

// InvalidateTransactions nulls the gain of each transaction and tombstones
// all of its live investments. Missing IDs are skipped.
func (s *Store) InvalidateTransactions(txIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txID := range txIDs {
		tx, ok := s.transactions.get(txID)
		if !ok {
			continue
		}
		tx.ClearGains()
		s.transactions.put(txID, tx)
		s.softDeleteFor(txID)
	}
}
