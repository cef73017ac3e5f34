package costbasis

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

type kind int

const (
	kindNone kind = iota
	kindAcquisition
	kindDisposal
	kindExchange
	kindTransfer
	kindFeeOnly
)

// classify decides which investments a transaction produces from the
// legs that carry cost basis.
func (r *run) classify(tx model.Transaction) kind {
	from, to, fee := r.tracked(tx.From), r.tracked(tx.To), r.cryptoFee(tx)
	switch {
	case tx.Type == model.TypeTransfer:
		if !r.user.AccountBasedCostBasis {
			if fee {
				return kindTransfer
			}
			return kindNone
		}
		if from || to || fee {
			return kindTransfer
		}
	case from && to:
		return kindExchange
	case to:
		return kindAcquisition
	case from:
		return kindDisposal
	case fee:
		return kindFeeOnly
	}
	return kindNone
}

func (r *run) process(tx model.Transaction) error {
	switch r.classify(tx) {
	case kindAcquisition:
		return r.acquire(tx)
	case kindDisposal:
		return r.dispose(tx)
	case kindExchange:
		return r.exchange(tx)
	case kindTransfer:
		return r.transfer(tx)
	case kindFeeOnly:
		_, err := r.feeExtraction(tx, model.SubtypeFee)
		return err
	}
	return nil
}

// value is the transaction's worth in the base currency.
func (r *run) value(tx model.Transaction) decimal.Decimal {
	switch {
	case tx.NetValue.Valid:
		return decimal.Max(tx.NetValue.Decimal, decimal.Zero)
	case r.isBase(tx.From):
		return tx.From.Amount
	case r.isBase(tx.To):
		return tx.To.Amount
	}
	return decimal.Zero
}

// fiatFee is the base-currency value of a fee paid in fiat.
func (r *run) fiatFee(tx model.Transaction) decimal.Decimal {
	if !tx.Fee.Present() || r.cryptoFee(tx) {
		return decimal.Zero
	}
	if tx.FeeValue.Valid {
		return decimal.Max(tx.FeeValue.Decimal, decimal.Zero)
	}
	if r.isBase(tx.Fee) {
		return tx.Fee.Amount
	}
	return decimal.Zero
}

// cryptoFee reports whether the fee leg must be drawn from lots.
func (r *run) cryptoFee(tx model.Transaction) bool {
	return r.tracked(tx.Fee) && !model.IsFiat(tx.Fee.Currency)
}

func (r *run) isBase(leg model.Leg) bool {
	return leg.Present() && strings.EqualFold(leg.Currency, r.user.BaseCurrency)
}

func (r *run) acquire(tx model.Transaction) error {
	if tx.Label == model.LabelRealizedGain {
		net := r.value(tx)
		lot := r.newLot(tx, tx.To, tx.To.Amount, net, tx.Date)
		if err := r.add(lot); err != nil {
			return err
		}
		ext := r.newExtraction(tx, tx.To, draw{}, model.SubtypeExternal)
		ext.Gain = model.Null(net)
		if err := r.add(ext); err != nil {
			return err
		}
		return r.foldFee(tx, tx.To, []int64{lot.ID}, model.SubtypeFee)
	}

	lot := r.newLot(tx, tx.To, tx.To.Amount, r.value(tx).Add(r.fiatFee(tx)), tx.Date)
	if err := r.add(lot); err != nil {
		return err
	}
	if err := r.foldFee(tx, tx.To, []int64{lot.ID}, model.SubtypeFee); err != nil {
		return err
	}
	return r.washSale(lot.ID)
}

func (r *run) dispose(tx model.Transaction) error {
	draws, err := r.draw(tx, tx.From, tx.From.Amount)
	if err != nil {
		return err
	}
	amounts := drawAmounts(draws)

	if r.cryptoFee(tx) {
		fees, err := r.feeExtraction(tx, model.SubtypeFee)
		if err != nil {
			return err
		}
		for i, piece := range split(fees, amounts) {
			draws[i].fee = piece
		}
	}

	proceeds := decimal.Max(r.value(tx).Sub(r.fiatFee(tx)), decimal.Zero)
	pieces := split(proceeds, amounts)
	for i, d := range draws {
		ext := r.newExtraction(tx, tx.From, d, model.SubtypeNone)
		switch {
		case tx.Label.SkipsGain():
		case tx.Label == model.LabelRealizedGain:
			ext.Gain = model.Null(decimal.Zero)
		default:
			ext.Gain = model.Null(pieces[i].Sub(ext.Value))
		}
		if err := r.add(ext); err != nil {
			return err
		}
	}

	if tx.Label == model.LabelRealizedGain {
		ext := r.newExtraction(tx, tx.From, draw{}, model.SubtypeExternal)
		ext.Gain = model.Null(r.value(tx).Neg())
		return r.add(ext)
	}
	return nil
}

func (r *run) exchange(tx model.Transaction) error {
	draws, err := r.draw(tx, tx.From, tx.From.Amount)
	if err != nil {
		return err
	}
	realize := r.user.RealizeExchangeGains && !tx.Label.SkipsGain()
	proceeds := r.value(tx)
	pieces := split(proceeds, drawAmounts(draws))
	for i, d := range draws {
		ext := r.newExtraction(tx, tx.From, d, model.SubtypeNone)
		if realize {
			ext.Gain = model.Null(pieces[i].Sub(d.value))
		}
		if err := r.add(ext); err != nil {
			return err
		}
	}

	if realize {
		lot := r.newLot(tx, tx.To, tx.To.Amount, proceeds.Add(r.fiatFee(tx)), tx.Date)
		if err := r.add(lot); err != nil {
			return err
		}
		if err := r.foldFee(tx, tx.To, []int64{lot.ID}, model.SubtypeFee); err != nil {
			return err
		}
		return r.washSale(lot.ID)
	}

	lots, err := r.carryLots(tx, tx.To, draws, r.fiatFee(tx))
	if err != nil {
		return err
	}
	return r.foldFee(tx, tx.To, lots, model.SubtypeFee)
}

func (r *run) transfer(tx model.Transaction) error {
	if !r.user.AccountBasedCostBasis {
		_, err := r.feeExtraction(tx, model.SubtypeOwnTransferFee)
		return err
	}

	var draws []draw
	if r.tracked(tx.From) {
		var err error
		if draws, err = r.draw(tx, tx.From, tx.From.Amount); err != nil {
			return err
		}
		for _, d := range draws {
			if err := r.add(r.newExtraction(tx, tx.From, d, model.SubtypeOwnTransfer)); err != nil {
				return err
			}
		}
	}

	if !r.tracked(tx.To) {
		_, err := r.feeExtraction(tx, model.SubtypeOwnTransferFee)
		return err
	}
	var lots []int64
	if len(draws) == 0 {
		lot := r.newLot(tx, tx.To, tx.To.Amount, r.value(tx).Add(r.fiatFee(tx)), tx.Date)
		if err := r.add(lot); err != nil {
			return err
		}
		lots = []int64{lot.ID}
	} else {
		var err error
		if lots, err = r.carryLots(tx, tx.To, draws, r.fiatFee(tx)); err != nil {
			return err
		}
	}
	return r.foldFee(tx, tx.To, lots, model.SubtypeOwnTransferFee)
}

// carryLots creates destination lots that keep the cost basis of draws.
// With holding periods tracked there is one lot per draw so each keeps
// its source holding start.
func (r *run) carryLots(tx model.Transaction, leg model.Leg, draws []draw, extra decimal.Decimal) ([]int64, error) {
	if len(draws) == 0 {
		draws = []draw{{fromDate: tx.Date}}
	}
	if !r.e.opts.TrackHoldingPeriods || len(draws) == 1 {
		value := extra
		for _, d := range draws {
			value = value.Add(d.value)
		}
		fromDate := tx.Date
		if r.e.opts.TrackHoldingPeriods && !draws[0].fromDate.IsZero() {
			fromDate = draws[0].fromDate
		}
		lot := r.newLot(tx, leg, leg.Amount, value, fromDate)
		return []int64{lot.ID}, r.add(lot)
	}

	weights := drawAmounts(draws)
	amounts := split(leg.Amount, weights)
	extras := split(extra, weights)
	ids := make([]int64, 0, len(draws))
	for i, d := range draws {
		fromDate := d.fromDate
		if fromDate.IsZero() {
			fromDate = tx.Date
		}
		lot := r.newLot(tx, leg, amounts[i], d.value.Add(extras[i]), fromDate)
		if err := r.add(lot); err != nil {
			return nil, err
		}
		ids = append(ids, lot.ID)
	}
	return ids, nil
}

// feeExtraction draws a crypto fee and returns the cost basis it consumed.
// Fee extractions realize no gain.
func (r *run) feeExtraction(tx model.Transaction, subtype model.Subtype) (decimal.Decimal, error) {
	if !r.cryptoFee(tx) {
		return decimal.Zero, nil
	}
	draws, err := r.draw(tx, tx.Fee, tx.Fee.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	cost := decimal.Zero
	for _, d := range draws {
		if err := r.add(r.newExtraction(tx, tx.Fee, d, subtype)); err != nil {
			return decimal.Zero, err
		}
		cost = cost.Add(d.value)
	}
	return cost, nil
}

// foldFee draws a crypto fee and adds its cost onto the given lots. A fee
// paid from the pool the lots just joined only reduces their amount.
func (r *run) foldFee(tx model.Transaction, lotLeg model.Leg, lotIDs []int64, subtype model.Subtype) error {
	if !r.cryptoFee(tx) {
		return nil
	}
	if subtype == model.SubtypeFee && r.pool(tx.Fee) == r.pool(lotLeg) {
		subtype = model.SubtypeAmountOnlyFee
	}
	cost, err := r.feeExtraction(tx, subtype)
	if err != nil {
		return err
	}
	if len(lotIDs) == 0 || cost.IsZero() {
		return nil
	}

	lots := make([]model.Investment, 0, len(lotIDs))
	weights := make([]decimal.Decimal, 0, len(lotIDs))
	for _, lotID := range lotIDs {
		lot, err := r.buf.investment(lotID)
		if err != nil {
			return err
		}
		lots = append(lots, lot)
		weights = append(weights, lot.Amount)
	}
	for i, piece := range split(cost, weights) {
		lot := lots[i]
		lot.Value = lot.Value.Add(piece)
		if err := r.buf.putInvestment(lot); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) newLot(tx model.Transaction, leg model.Leg, amount, value decimal.Decimal, fromDate time.Time) model.Investment {
	return model.Investment{
		ID:            r.e.store.NextInvestmentID(),
		UserID:        r.user.ID,
		TransactionID: tx.ID,
		AccountID:     leg.AccountID,
		Currency:      leg.Currency,
		Date:          tx.Date,
		Deposit:       true,
		Amount:        amount,
		Value:         value,
		FromDate:      fromDate,
		PoolName:      r.pool(leg).String(),
	}
}

func (r *run) newExtraction(tx model.Transaction, leg model.Leg, d draw, subtype model.Subtype) model.Investment {
	if d.failed {
		subtype = model.SubtypeFailed
	}
	inv := model.Investment{
		ID:            r.e.store.NextInvestmentID(),
		UserID:        r.user.ID,
		TransactionID: tx.ID,
		AccountID:     leg.AccountID,
		Currency:      leg.Currency,
		Date:          tx.Date,
		Amount:        d.amount.Neg(),
		Value:         d.value.Add(d.fee),
		FromID:        d.lotID,
		FromDate:      d.fromDate,
		DrawnValue:    d.value,
		Subtype:       subtype,
		PoolName:      r.pool(leg).String(),
	}
	if !d.fromDate.IsZero() {
		inv.LongTerm = IsLongTerm(d.fromDate, tx.Date, r.e.opts.LongTermDays)
	}
	return inv
}

// IsLongTerm reports whether units held from acquired until disposed
// qualify as a long-term holding.
func IsLongTerm(acquired, disposed time.Time, days int) bool {
	return disposed.Sub(acquired) >= time.Duration(days)*24*time.Hour
}
