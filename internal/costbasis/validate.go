package costbasis

import (
	"fmt"

	"github.com/cleared-dev/basis/internal/model"
)

// ValidateTransaction checks the structural rules the engine relies on:
// fee entries in one currency, and transfers moving units in opposite
// directions.
func ValidateTransaction(tx model.Transaction, entries []model.Entry, currencyOf func(accountID int64) string) error {
	feeCurrencies := make(map[string]bool)
	var in, out int
	for _, e := range entries {
		if e.Fee {
			feeCurrencies[currencyOf(e.AccountID)] = true
			continue
		}
		switch e.Amount.Sign() {
		case 1:
			in++
		case -1:
			out++
		}
	}
	if len(feeCurrencies) > 1 {
		return &model.InvariantError{
			Invariant:     "fee-currency",
			TransactionID: tx.ID,
			Description:   fmt.Sprintf("fee entries span %d currencies", len(feeCurrencies)),
		}
	}
	if tx.Type == model.TypeTransfer && in+out >= 2 && (in == 0 || out == 0) {
		return &model.InvariantError{
			Invariant:     "transfer-direction",
			TransactionID: tx.ID,
			Description:   "both transfer legs point the same direction",
		}
	}
	return nil
}
