package ledger

import (
	"github.com/cleared-dev/basis/internal/model"
)

// Tx is the view of a Store inside an atomic unit. It must not be used
// after the unit returns.
type Tx struct {
	s *Store
}

// Transaction returns a transaction by ID.
func (t *Tx) Transaction(txID int64) (model.Transaction, error) {
	return t.s.transaction(txID)
}

// EntriesForTransaction returns the linked entries of a transaction.
func (t *Tx) EntriesForTransaction(txID int64) []model.Entry {
	return t.s.entriesForTransaction(txID)
}

// ReplaceTransaction stores tx without re-deriving its entries. A change
// to accounting fields still nulls its gain and tombstones its investments.
func (t *Tx) ReplaceTransaction(tx model.Transaction) (model.Transaction, error) {
	old, err := t.s.transaction(tx.ID)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := t.s.checkTransaction(&tx); err != nil {
		return model.Transaction{}, err
	}
	if old.AccountingChanged(tx) {
		tx.ClearGains()
		t.s.softDeleteFor(tx.ID)
	}
	t.s.transactions.put(tx.ID, tx)
	return tx, nil
}

// UpsertEntries writes entries back.
func (t *Tx) UpsertEntries(entries ...model.Entry) {
	t.s.upsertEntries(entries)
}

// DeleteTransaction removes a transaction like Store.DeleteTransaction.
func (t *Tx) DeleteTransaction(txID int64) error {
	return t.s.deleteTransaction(txID)
}
