package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

var fiatCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CHF": true, "CAD": true,
	"AUD": true, "JPY": true, "NZD": true, "SEK": true, "NOK": true,
	"DKK": true, "PLN": true, "SGD": true, "HKD": true, "KRW": true,
	"INR": true, "BRL": true, "MXN": true, "ZAR": true, "TRY": true,
}

// IsFiat reports whether currency is a government-issued currency.
func IsFiat(currency string) bool {
	return fiatCurrencies[strings.ToUpper(currency)]
}

// ClampBound limits stored gain and cost-basis sums.
var ClampBound = decimal.New(1, 9)

// Clamp limits d to [-ClampBound, ClampBound].
func Clamp(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(ClampBound) {
		return ClampBound
	}
	if neg := ClampBound.Neg(); d.LessThan(neg) {
		return neg
	}
	return d
}

// Null wraps d as a valid NullDecimal.
func Null(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
