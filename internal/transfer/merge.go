package transfer

import (
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

// merge turns the withdrawal into a transfer that also carries the
// deposit's leg and entries, then deletes the deposit. It runs as one
// atomic unit.
func (m *Matcher) merge(p pair) error {
	return m.store.Atomic(func(tx *ledger.Tx) error {
		w, err := tx.Transaction(p.withdrawal.tx.ID)
		if err != nil {
			return err
		}
		d, err := tx.Transaction(p.deposit.tx.ID)
		if err != nil {
			return err
		}

		w.Type = model.TypeTransfer
		w.To = d.To
		if w.Description == "" {
			w.Description = d.Description
		}
		if !w.NetValue.Valid {
			w.NetValue = d.NetValue
		}
		if !w.FeeValue.Valid {
			w.FeeValue = d.FeeValue
		}
		if w.TxHash == "" {
			w.TxHash = d.TxHash
		}
		if w.DestAddress == "" {
			w.DestAddress = d.DestAddress
		}

		entries := append(tx.EntriesForTransaction(w.ID), tx.EntriesForTransaction(d.ID)...)
		for i := range entries {
			entries[i].TransactionID = w.ID
			entries[i].Synced = false
			entries[i].Manual = true
			entries[i].Balance = decimal.NullDecimal{}
		}

		// Units lost in flight become the transfer's fee.
		lost := w.From.Amount.Sub(d.To.Amount)
		if !w.Fee.Present() && lost.IsPositive() {
			w.Fee = model.Leg{Amount: lost, AccountID: w.From.AccountID, Currency: w.From.Currency}
			w.From.Amount = d.To.Amount
			entries = splitFee(entries, w, lost)
		}

		tx.UpsertEntries(entries...)
		if _, err := tx.ReplaceTransaction(w); err != nil {
			return err
		}
		return tx.DeleteTransaction(d.ID)
	})
}

// splitFee moves lost units of the withdrawal entry into a fee entry.
func splitFee(entries []model.Entry, w model.Transaction, lost decimal.Decimal) []model.Entry {
	for i, e := range entries {
		if e.Fee || e.AccountID != w.From.AccountID || !e.Amount.IsNegative() {
			continue
		}
		entries[i].Amount = e.Amount.Add(lost)
		fee := e
		fee.ID = 0
		fee.Amount = lost.Neg()
		fee.Fee = true
		return append(entries, fee)
	}
	return entries
}
