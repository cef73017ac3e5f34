package transfer

import "github.com/shopspring/decimal"

// DefaultFeeCeilings returns the largest network fee expected per currency.
// A hash-matched pair may differ by at most this much.
func DefaultFeeCeilings() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BTC":   decimal.RequireFromString("0.005"),
		"BCH":   decimal.RequireFromString("0.01"),
		"LTC":   decimal.RequireFromString("0.01"),
		"DOGE":  decimal.RequireFromString("20"),
		"ETH":   decimal.RequireFromString("0.05"),
		"ETC":   decimal.RequireFromString("0.05"),
		"BNB":   decimal.RequireFromString("0.01"),
		"SOL":   decimal.RequireFromString("0.05"),
		"ADA":   decimal.RequireFromString("5"),
		"DOT":   decimal.RequireFromString("1"),
		"XRP":   decimal.RequireFromString("1"),
		"XLM":   decimal.RequireFromString("1"),
		"TRX":   decimal.RequireFromString("20"),
		"ATOM":  decimal.RequireFromString("0.1"),
		"MATIC": decimal.RequireFromString("1"),
		"USDT":  decimal.RequireFromString("30"),
		"USDC":  decimal.RequireFromString("30"),
		"DAI":   decimal.RequireFromString("30"),
	}
}

// DefaultSpecialHashes are synthetic hashes importers assign to paired
// exchange-internal flows. They only ever match exactly and within an hour.
func DefaultSpecialHashes() []string {
	return []string{"internal", "off-chain", "coinbase-pro"}
}
