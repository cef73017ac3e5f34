package costbasis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

// draw is one piece of a withdrawal matched against a lot, the pool
// average, or nothing at all when failed.
type draw struct {
	lotID    int64
	amount   decimal.Decimal
	value    decimal.Decimal
	fee      decimal.Decimal
	fromDate time.Time
	failed   bool
}

// draw matches amount of leg's units against its pool. Any shortfall is
// returned as a trailing failed draw with zero cost basis.
func (r *run) draw(tx model.Transaction, leg model.Leg, amount decimal.Decimal) ([]draw, error) {
	key := r.pool(leg)
	if err := r.buf.beforeQuery(key.String()); err != nil {
		return nil, err
	}

	var draws []draw
	var err error
	switch s := r.strategy.(type) {
	case LotOrdering:
		draws, err = r.drawLots(tx, key, amount, s)
	case AverageCost:
		draws, err = r.drawAverage(tx, key, amount)
	default:
		return nil, &model.InvariantError{Invariant: "strategy", TransactionID: tx.ID, Description: "strategy cannot match withdrawals"}
	}
	if err != nil {
		return nil, err
	}

	drawn := decimal.Zero
	for _, d := range draws {
		drawn = drawn.Add(d.amount)
	}
	if short := amount.Sub(drawn); short.IsPositive() {
		draws = append(draws, draw{amount: short, value: decimal.Zero, fromDate: tx.Date, failed: true})
		r.res.Failed++
	}
	return draws, nil
}

func (r *run) drawLots(tx model.Transaction, key model.PoolKey, amount decimal.Decimal, order LotOrdering) ([]draw, error) {
	lots, err := r.e.store.DepositsOrderedBy(r.user.ID, key, tx.Date, order.Less)
	if err != nil {
		return nil, err
	}

	var draws []draw
	remaining := amount
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		d, updated := drawFromLot(lot, remaining)
		if err := r.buf.putInvestment(updated); err != nil {
			return nil, err
		}
		draws = append(draws, d)
		remaining = remaining.Sub(d.amount)
	}
	return draws, nil
}

// drawFromLot takes up to want units from lot. The value drawn is
// proportional to the lot's cost, except that emptying a lot takes its
// exact remaining value.
func drawFromLot(lot model.Investment, want decimal.Decimal) (draw, model.Investment) {
	available := lot.RemainingAmount()
	take := decimal.Min(want, available)

	var value decimal.Decimal
	if take.Equal(available) {
		value = lot.RemainingValue()
	} else {
		value = decimal.Min(lot.Value.Mul(take).Div(lot.Amount.Abs()), lot.RemainingValue())
	}
	value = decimal.Max(value, decimal.Zero)

	lot.ExtractedAmount = lot.ExtractedAmount.Add(take)
	lot.ExtractedValue = lot.ExtractedValue.Add(value)

	fromDate := lot.FromDate
	if fromDate.IsZero() {
		fromDate = lot.Date
	}
	return draw{lotID: lot.ID, amount: take, value: value, fromDate: fromDate}, lot
}

func (r *run) drawAverage(tx model.Transaction, key model.PoolKey, amount decimal.Decimal) ([]draw, error) {
	invs, err := r.e.store.PoolInvestments(r.user.ID, key)
	if err != nil {
		return nil, err
	}
	var prior []model.Investment
	for _, inv := range invs {
		if !inv.Date.After(tx.Date) {
			prior = append(prior, inv)
		}
	}

	availValue, availAmount := PoolHoldings(prior)
	take := decimal.Min(amount, availAmount)
	if !take.IsPositive() {
		return nil, nil
	}
	var value decimal.Decimal
	if take.Equal(availAmount) {
		value = availValue
	} else {
		value = decimal.Min(take.Mul(availValue).Div(availAmount), availValue)
	}
	return []draw{{amount: take, value: value}}, nil
}

// PoolHoldings returns the cost basis and amount still held in a pool,
// each floored at zero. Extractions count the cost they drew, not the
// cost folded onto them from fee draws.
func PoolHoldings(invs []model.Investment) (value, amount decimal.Decimal) {
	depValue, depAmount := decimal.Zero, decimal.Zero
	outValue, outAmount := decimal.Zero, decimal.Zero
	for _, inv := range invs {
		switch {
		case inv.Deleted || inv.IsLink():
		case inv.Deposit:
			depValue = depValue.Add(inv.Value)
			depAmount = depAmount.Add(inv.Amount)
		case inv.Subtype == model.SubtypeFailed || inv.Subtype == model.SubtypeExternal:
		default:
			outValue = outValue.Add(inv.DrawnValue)
			outAmount = outAmount.Add(inv.Amount.Abs())
		}
	}
	return decimal.Max(depValue.Sub(outValue), decimal.Zero), decimal.Max(depAmount.Sub(outAmount), decimal.Zero)
}

// split divides total across weights proportionally; the last piece takes
// the remainder so the pieces always sum to total.
func split(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	pieces := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return pieces
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	assigned := decimal.Zero
	for i, w := range weights {
		if i == len(weights)-1 {
			pieces[i] = total.Sub(assigned)
			break
		}
		if sum.IsZero() {
			pieces[i] = decimal.Zero
			continue
		}
		pieces[i] = total.Mul(w).Div(sum)
		assigned = assigned.Add(pieces[i])
	}
	return pieces
}

func drawAmounts(draws []draw) []decimal.Decimal {
	out := make([]decimal.Decimal, len(draws))
	for i, d := range draws {
		out[i] = d.amount
	}
	return out
}

// Summarize derives a transaction's tax fields from its investments.
// Wash-sale link records are not counted.
func Summarize(txID int64, invs []model.Investment) ledger.Gains {
	gain, from, to, missing := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, inv := range invs {
		if inv.Deleted || inv.IsLink() {
			continue
		}
		if inv.Gain.Valid {
			gain = gain.Add(inv.Gain.Decimal)
		}
		switch {
		case inv.Deposit:
			to = to.Add(inv.Value)
		case inv.Subtype.IsFee() || inv.Subtype == model.SubtypeExternal:
		default:
			from = from.Add(inv.Value)
		}
		if inv.Subtype == model.SubtypeFailed && inv.Gain.Valid && inv.Gain.Decimal.IsPositive() {
			missing = missing.Add(inv.Gain.Decimal)
		}
	}

	g := ledger.Gains{
		TransactionID: txID,
		Gain:          model.Null(model.Clamp(gain)),
		FromCostBasis: model.Null(model.Clamp(from)),
		ToCostBasis:   model.Null(model.Clamp(to)),
	}
	if !missing.IsZero() {
		g.MissingCostBasis = model.Null(model.Clamp(missing))
	}
	return g
}
