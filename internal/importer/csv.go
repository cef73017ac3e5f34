package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

// Amount is a non-negative quantity of one currency.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// Present reports whether the amount is set.
func (a Amount) Present() bool {
	return a.Currency != "" && !a.Value.IsZero()
}

// Record is one normalised ledger row.
type Record struct {
	Row         int
	Date        time.Time
	Type        model.TransactionType
	Label       model.Label
	FromWallet  string
	ToWallet    string
	From        Amount
	To          Amount
	Fee         Amount
	NetValue    decimal.NullDecimal
	FeeValue    decimal.NullDecimal
	TxHash      string
	SrcAddress  string
	DestAddress string
	Description string
	Ignored     bool
}

// Columns of the normalised format. Only date and type are required;
// wallet sets both from_wallet and to_wallet when those are empty.
const (
	colDate        = "date"
	colType        = "type"
	colLabel       = "label"
	colWallet      = "wallet"
	colFromWallet  = "from_wallet"
	colToWallet    = "to_wallet"
	colFromAmount  = "from_amount"
	colFromCurr    = "from_currency"
	colToAmount    = "to_amount"
	colToCurr      = "to_currency"
	colFeeAmount   = "fee_amount"
	colFeeCurr     = "fee_currency"
	colNetValue    = "net_value"
	colFeeValue    = "fee_value"
	colTxHash      = "tx_hash"
	colSrcAddress  = "src_address"
	colDestAddress = "dest_address"
	colDescription = "description"
	colIgnored     = "ignored"
)

// Header lists the columns of the format in their usual order.
var Header = []string{
	colDate, colType, colLabel, colFromWallet, colToWallet,
	colFromAmount, colFromCurr, colToAmount, colToCurr, colFeeAmount, colFeeCurr,
	colNetValue, colFeeValue, colTxHash, colSrcAddress, colDestAddress, colDescription, colIgnored,
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// CSVParser reads the normalised ledger CSV format.
type CSVParser struct{}

// Format returns the parser name.
func (p *CSVParser) Format() string { return "basis" }

// Parse reads a normalised CSV with a header row.
func (p *CSVParser) Parse(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{colDate, colType} {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("missing required column %q", req)
		}
	}
	cr.FieldsPerRecord = len(header)

	var recs []Record
	for row := 2; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		rec, err := parseRow(cols, fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		rec.Row = row
		recs = append(recs, rec)
	}
	return recs, nil
}

func parseRow(cols map[string]int, fields []string) (Record, error) {
	get := func(name string) string {
		if i, ok := cols[name]; ok {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}

	var rec Record
	var err error
	if rec.Date, err = parseDate(get(colDate)); err != nil {
		return rec, err
	}
	rec.Type = model.TransactionType(strings.ToLower(get(colType)))
	if !rec.Type.Valid() {
		return rec, fmt.Errorf("unknown type %q", get(colType))
	}
	rec.Label = model.Label(strings.ToLower(get(colLabel)))
	if !rec.Label.Valid() {
		return rec, fmt.Errorf("unknown label %q", get(colLabel))
	}

	wallet := get(colWallet)
	rec.FromWallet, rec.ToWallet = or(get(colFromWallet), wallet), or(get(colToWallet), wallet)

	if rec.From, err = parseAmount(colFromAmount, get(colFromAmount), get(colFromCurr)); err != nil {
		return rec, err
	}
	if rec.To, err = parseAmount(colToAmount, get(colToAmount), get(colToCurr)); err != nil {
		return rec, err
	}
	if rec.Fee, err = parseAmount(colFeeAmount, get(colFeeAmount), get(colFeeCurr)); err != nil {
		return rec, err
	}
	if rec.NetValue, err = parseNull(colNetValue, get(colNetValue)); err != nil {
		return rec, err
	}
	if rec.FeeValue, err = parseNull(colFeeValue, get(colFeeValue)); err != nil {
		return rec, err
	}
	if s := get(colIgnored); s != "" {
		if rec.Ignored, err = strconv.ParseBool(s); err != nil {
			return rec, fmt.Errorf("parsing %s %q: %w", colIgnored, s, err)
		}
	}

	rec.TxHash = get(colTxHash)
	rec.SrcAddress = get(colSrcAddress)
	rec.DestAddress = get(colDestAddress)
	rec.Description = get(colDescription)
	return rec, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing date %q", s)
}

func parseAmount(col, value, currency string) (Amount, error) {
	if value == "" {
		return Amount{Currency: strings.ToUpper(currency)}, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("parsing %s %q: %w", col, value, err)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("parsing %s %q: amount must not be negative", col, value)
	}
	if !d.IsZero() && currency == "" {
		return Amount{}, fmt.Errorf("%s %s has no currency", col, value)
	}
	return Amount{Value: d, Currency: strings.ToUpper(currency)}, nil
}

func parseNull(col, value string) (decimal.NullDecimal, error) {
	if value == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parsing %s %q: %w", col, value, err)
	}
	return model.Null(d), nil
}

func or(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
