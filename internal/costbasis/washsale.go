package costbasis

import (
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

// washSale defers losses realized within the strategy's window before the
// new lot onto that lot's cost basis. Each deferral adds the loss to the
// lot's value, raises the losing extraction's gain by the same amount and
// records a zero-amount link investment dated at the loss.
func (r *run) washSale(lotID int64) error {
	rule, ok := r.strategy.(WashSaleRule)
	if !ok {
		return nil
	}
	lot, err := r.buf.investment(lotID)
	if err != nil {
		return err
	}
	if err := r.buf.beforeQuery(lot.PoolName); err != nil {
		return err
	}
	key, err := model.ParsePoolName(lot.PoolName)
	if err != nil {
		return err
	}
	invs, err := r.e.store.PoolInvestments(r.user.ID, key)
	if err != nil {
		return err
	}

	windowStart := lot.Date.Add(-rule.WashSaleWindow())
	replacement := lot.Amount
	affected := make(map[int64]bool)

	for _, loss := range invs {
		if !replacement.IsPositive() {
			break
		}
		if !isWashable(loss, lot) || loss.Date.Before(windowStart) {
			continue
		}
		open := loss.Amount.Abs().Sub(loss.WashedAmount)
		q := decimal.Min(replacement, open)

		disallowed := loss.Gain.Decimal.Neg()
		if !q.Equal(open) {
			disallowed = disallowed.Mul(q).Div(open)
		}

		loss.Gain = model.Null(loss.Gain.Decimal.Add(disallowed))
		loss.WashedAmount = loss.WashedAmount.Add(q)
		loss.Subtype = model.SubtypeWashSale
		if err := r.buf.putInvestment(loss); err != nil {
			return err
		}

		if lot, err = r.buf.investment(lotID); err != nil {
			return err
		}
		lot.Value = lot.Value.Add(disallowed)
		if err := r.buf.putInvestment(lot); err != nil {
			return err
		}

		link := model.Investment{
			ID:            r.e.store.NextInvestmentID(),
			UserID:        r.user.ID,
			TransactionID: lot.TransactionID,
			AccountID:     lot.AccountID,
			Currency:      lot.Currency,
			Date:          loss.Date,
			Amount:        decimal.Zero,
			Value:         disallowed,
			FromID:        loss.ID,
			FromDate:      loss.Date,
			Subtype:       model.SubtypeWashSale,
			PoolName:      lot.PoolName,
		}
		if err := r.add(link); err != nil {
			return err
		}
		replacement = replacement.Sub(q)
		affected[loss.TransactionID] = true
	}

	if len(affected) == 0 {
		return nil
	}
	if err := r.buf.flush(); err != nil {
		return err
	}
	for txID := range affected {
		if err := r.buf.putGains(Summarize(txID, r.e.store.InvestmentsForTransaction(txID))); err != nil {
			return err
		}
	}
	return nil
}

// isWashable reports whether loss is a realized loss on an earlier
// disposal that a replacement lot can still absorb.
func isWashable(loss, lot model.Investment) bool {
	if loss.Deposit || loss.IsLink() || loss.TransactionID == lot.TransactionID {
		return false
	}
	if loss.Subtype != model.SubtypeNone && loss.Subtype != model.SubtypeWashSale {
		return false
	}
	if !loss.Gain.Valid || !loss.Gain.Decimal.IsNegative() {
		return false
	}
	if loss.Date.After(lot.Date) {
		return false
	}
	return loss.Amount.Abs().Sub(loss.WashedAmount).IsPositive()
}
