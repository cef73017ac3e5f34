package costbasis

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/basis/internal/model"
)

func lot(id int64, d time.Time, amount, value string) model.Investment {
	return model.Investment{ID: id, Date: d, Deposit: true, Amount: dec(amount), Value: dec(value)}
}

func order(lots []model.Investment, less func(a, b model.Investment) bool) []int64 {
	sorted := append([]model.Investment(nil), lots...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return investmentIDs(sorted)
}

func TestStrategy_Ordering(t *testing.T) {
	lots := []model.Investment{
		lot(1, date(2024, 1, 2), "1", "50"),
		lot(2, date(2024, 1, 1), "1", "30"),
		lot(3, date(2024, 1, 1), "2", "10"),
		lot(4, date(2024, 1, 3), "1", "30"),
	}

	tests := []struct {
		name     string
		strategy LotOrdering
		want     []int64
	}{
		{"fifo", Fifo{}, []int64{3, 2, 1, 4}},
		{"lifo", Lifo{}, []int64{4, 1, 3, 2}},
		{"lowest cost", LowestCost{}, []int64{3, 2, 4, 1}},
		{"highest cost", HighestCost{}, []int64{1, 2, 4, 3}},
		{"fifo wash sale", FifoWashSale{Window: DefaultWashSaleWindow}, []int64{3, 2, 1, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, order(lots, tt.strategy.Less))
		})
	}
}

func TestStrategyFor(t *testing.T) {
	for _, m := range []model.Method{
		model.MethodFifo, model.MethodLifo, model.MethodLowestCost,
		model.MethodHighestCost, model.MethodAverageCost, model.MethodFifoWashSale,
	} {
		s, err := StrategyFor(m, 0)
		require.NoError(t, err, m)
		assert.Equal(t, m, s.Method())
	}

	s, err := StrategyFor(model.MethodFifoWashSale, 10)
	require.NoError(t, err)
	rule, ok := s.(WashSaleRule)
	require.True(t, ok)
	assert.Equal(t, 10*24*time.Hour, rule.WashSaleWindow())

	s, err = StrategyFor(model.MethodFifoWashSale, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultWashSaleWindow, s.(WashSaleRule).WashSaleWindow())

	_, isRule := Strategy(Fifo{}).(WashSaleRule)
	assert.False(t, isRule)

	_, err = StrategyFor("hifo", 0)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	pieces := split(dec("10"), []decimal.Decimal{dec("1"), dec("1"), dec("1")})
	require.Len(t, pieces, 3)
	sum := decimal.Zero
	for _, p := range pieces {
		sum = sum.Add(p)
	}
	assertDec(t, "10", sum)

	pieces = split(dec("9"), []decimal.Decimal{dec("0"), dec("0")})
	assertDec(t, "0", pieces[0])
	assertDec(t, "9", pieces[1])

	assert.Empty(t, split(dec("5"), nil))
}

func TestDrawFromLot(t *testing.T) {
	l := lot(1, date(2024, 1, 1), "3", "10")

	d, l := drawFromLot(l, dec("1"))
	assertDec(t, "1", d.amount)
	assert.True(t, d.value.Sub(dec("3.3333")).Abs().LessThan(dec("0.001")))
	assert.Equal(t, date(2024, 1, 1), d.fromDate)

	d, l = drawFromLot(l, dec("5"))
	assertDec(t, "2", d.amount)
	assertDec(t, "3", l.ExtractedAmount)
	assertDec(t, "10", l.ExtractedValue)
	assert.True(t, l.RemainingValue().IsZero())
}

func TestPoolHoldings(t *testing.T) {
	invs := []model.Investment{
		lot(1, date(2024, 1, 1), "1", "10"),
		lot(2, date(2024, 1, 2), "1", "20"),
		{ID: 3, Amount: dec("-0.5"), Value: dec("8.5"), DrawnValue: dec("7.5")},
		{ID: 4, Amount: dec("-1"), Value: dec("0"), Subtype: model.SubtypeFailed},
		{ID: 5, Amount: dec("0"), Value: dec("4"), Subtype: model.SubtypeWashSale},
		{ID: 6, Deposit: true, Amount: dec("9"), Value: dec("9"), Deleted: true},
	}
	value, amount := PoolHoldings(invs)
	assertDec(t, "22.5", value)
	assertDec(t, "1.5", amount)
}

func TestSummarize(t *testing.T) {
	invs := []model.Investment{
		{ID: 1, Amount: dec("-1"), Value: dec("10"), Gain: model.Null(dec("5"))},
		{ID: 2, Amount: dec("-1"), Value: dec("0"), Gain: model.Null(dec("15")), Subtype: model.SubtypeFailed},
		{ID: 3, Amount: dec("-0.1"), Value: dec("1"), Subtype: model.SubtypeFee},
		{ID: 4, Deposit: true, Amount: dec("2"), Value: dec("30")},
		{ID: 5, Amount: dec("0"), Value: dec("4"), Subtype: model.SubtypeWashSale},
	}
	g := Summarize(7, invs)
	assert.Equal(t, int64(7), g.TransactionID)
	assertDec(t, "20", g.Gain.Decimal)
	assertDec(t, "10", g.FromCostBasis.Decimal)
	assertDec(t, "30", g.ToCostBasis.Decimal)
	assertDec(t, "15", g.MissingCostBasis.Decimal)

	empty := Summarize(8, nil)
	assert.True(t, empty.Gain.Valid)
	assert.True(t, empty.Gain.Decimal.IsZero())
	assert.False(t, empty.MissingCostBasis.Valid)

	huge := Summarize(9, []model.Investment{{ID: 1, Amount: dec("-1"), Gain: model.Null(dec("1e12"))}})
	assertDec(t, "1e9", huge.Gain.Decimal)
}

func TestValidateTransaction(t *testing.T) {
	currencies := map[int64]string{1: "BTC", 2: "USD", 3: "ETH"}
	currencyOf := func(id int64) string { return currencies[id] }

	transfer := model.Transaction{ID: 1, Type: model.TypeTransfer}
	ok := []model.Entry{{AccountID: 1, Amount: dec("-1")}, {AccountID: 3, Amount: dec("1")}}
	assert.NoError(t, ValidateTransaction(transfer, ok, currencyOf))

	same := []model.Entry{{AccountID: 1, Amount: dec("1")}, {AccountID: 3, Amount: dec("1")}}
	assert.ErrorIs(t, ValidateTransaction(transfer, same, currencyOf), model.ErrStructural)

	sell := model.Transaction{ID: 2, Type: model.TypeSell}
	fees := []model.Entry{
		{AccountID: 1, Amount: dec("-1")},
		{AccountID: 1, Amount: dec("-0.1"), Fee: true},
		{AccountID: 2, Amount: dec("-1"), Fee: true},
	}
	assert.ErrorIs(t, ValidateTransaction(sell, fees, currencyOf), model.ErrStructural)
	assert.NoError(t, ValidateTransaction(sell, fees[:2], currencyOf))
}

func TestAuditLots(t *testing.T) {
	good := []model.Investment{
		{ID: 1, Deposit: true, Amount: dec("2"), Value: dec("20"), ExtractedAmount: dec("1"), ExtractedValue: dec("10")},
		{ID: 2, Amount: dec("-1"), Value: dec("12"), DrawnValue: dec("10"), FromID: 1},
		{ID: 3, Amount: dec("-1"), Subtype: model.SubtypeFailed},
	}
	assert.Empty(t, auditLots(good, false))

	orphan := append([]model.Investment(nil), good...)
	orphan[0].Deleted = true
	assert.NotEmpty(t, auditLots(orphan, false))

	mismatch := append([]model.Investment(nil), good...)
	mismatch[0].ExtractedAmount = dec("1.5")
	assert.Len(t, auditLots(mismatch, false), 1)

	unsourced := []model.Investment{{ID: 1, Amount: dec("-1"), Value: dec("5")}}
	assert.Len(t, auditLots(unsourced, false), 1)
	assert.Empty(t, auditLots(unsourced, true))
}
