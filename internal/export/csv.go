// Package export writes computed lots, extractions and gains as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

// InvestmentHeader is the CSV header for investments.csv.
const InvestmentHeader = "investment_id,transaction_id,date,pool,currency,account_id,kind,subtype,amount,value,gain,extracted_amount,extracted_value,from_id,from_date,long_term,washed_amount"

// GainHeader is the CSV header for gains.csv.
const GainHeader = "transaction_id,date,type,label,from_amount,from_currency,to_amount,to_currency,gain,from_cost_basis,to_cost_basis,missing_cost_basis"

const (
	numInvFields = 17
	dateFormat   = "2006-01-02T15:04:05Z07:00"

	kindLot        = "lot"
	kindExtraction = "extraction"
)

const (
	colInvID = iota
	colTxID
	colDate
	colPool
	colCurrency
	colAccountID
	colKind
	colSubtype
	colAmount
	colValue
	colGain
	colExtAmount
	colExtValue
	colFromID
	colFromDate
	colLongTerm
	colWashed
)

// WriteInvestments writes live investments in ID order, including header.
// Tombstoned records are skipped.
func WriteInvestments(w io.Writer, invs []model.Investment) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(InvestmentHeader, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	row := 2
	for _, inv := range invs {
		if inv.Deleted {
			continue
		}
		if err := cw.Write(MarshalInvestment(inv)); err != nil {
			return fmt.Errorf("writing row %d: %w", row, err)
		}
		row++
	}
	cw.Flush()
	return cw.Error()
}

// ReadInvestments reads an investments.csv written by WriteInvestments.
func ReadInvestments(r io.Reader) ([]model.Investment, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numInvFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading investments CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var invs []model.Investment
	for i, rec := range records[1:] {
		inv, err := UnmarshalInvestment(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		invs = append(invs, inv)
	}
	return invs, nil
}

// MarshalInvestment converts an Investment to a CSV row.
func MarshalInvestment(inv model.Investment) []string {
	row := make([]string, numInvFields)
	row[colInvID] = strconv.FormatInt(inv.ID, 10)
	row[colTxID] = strconv.FormatInt(inv.TransactionID, 10)
	row[colDate] = inv.Date.Format(dateFormat)
	row[colPool] = inv.PoolName
	row[colCurrency] = inv.Currency
	if inv.AccountID != 0 {
		row[colAccountID] = strconv.FormatInt(inv.AccountID, 10)
	}
	row[colKind] = kindExtraction
	if inv.Deposit {
		row[colKind] = kindLot
	}
	row[colSubtype] = string(inv.Subtype)
	row[colAmount] = inv.Amount.String()
	row[colValue] = inv.Value.String()
	if inv.Gain.Valid {
		row[colGain] = inv.Gain.Decimal.String()
	}
	if inv.Deposit {
		row[colExtAmount] = inv.ExtractedAmount.String()
		row[colExtValue] = inv.ExtractedValue.String()
	}
	if inv.FromID != 0 {
		row[colFromID] = strconv.FormatInt(inv.FromID, 10)
	}
	if !inv.FromDate.IsZero() {
		row[colFromDate] = inv.FromDate.Format(dateFormat)
	}
	row[colLongTerm] = strconv.FormatBool(inv.LongTerm)
	if !inv.WashedAmount.IsZero() {
		row[colWashed] = inv.WashedAmount.String()
	}
	return row
}

// UnmarshalInvestment converts a CSV row to an Investment.
func UnmarshalInvestment(record []string) (model.Investment, error) {
	if len(record) != numInvFields {
		return model.Investment{}, fmt.Errorf("expected %d fields, got %d", numInvFields, len(record))
	}

	var inv model.Investment
	var err error
	if inv.ID, err = parseID("investment_id", record[colInvID]); err != nil {
		return inv, err
	}
	if inv.TransactionID, err = parseID("transaction_id", record[colTxID]); err != nil {
		return inv, err
	}
	if inv.AccountID, err = parseID("account_id", record[colAccountID]); err != nil {
		return inv, err
	}
	if inv.FromID, err = parseID("from_id", record[colFromID]); err != nil {
		return inv, err
	}
	if inv.Date, err = parseDate("date", record[colDate]); err != nil {
		return inv, err
	}
	if inv.FromDate, err = parseDate("from_date", record[colFromDate]); err != nil {
		return inv, err
	}

	switch record[colKind] {
	case kindLot:
		inv.Deposit = true
	case kindExtraction:
	default:
		return inv, fmt.Errorf("unknown kind %q", record[colKind])
	}

	inv.PoolName = record[colPool]
	inv.Currency = record[colCurrency]
	inv.Subtype = model.Subtype(record[colSubtype])

	decimals := []struct {
		name string
		s    string
		dst  *decimal.Decimal
	}{
		{"amount", record[colAmount], &inv.Amount},
		{"value", record[colValue], &inv.Value},
		{"extracted_amount", record[colExtAmount], &inv.ExtractedAmount},
		{"extracted_value", record[colExtValue], &inv.ExtractedValue},
		{"washed_amount", record[colWashed], &inv.WashedAmount},
	}
	for _, d := range decimals {
		if d.s == "" {
			continue
		}
		if *d.dst, err = decimal.NewFromString(d.s); err != nil {
			return inv, fmt.Errorf("parsing %s %q: %w", d.name, d.s, err)
		}
	}
	if s := record[colGain]; s != "" {
		g, err := decimal.NewFromString(s)
		if err != nil {
			return inv, fmt.Errorf("parsing gain %q: %w", s, err)
		}
		inv.Gain = model.Null(g)
	}
	if inv.LongTerm, err = strconv.ParseBool(record[colLongTerm]); err != nil {
		return inv, fmt.Errorf("parsing long_term %q: %w", record[colLongTerm], err)
	}
	return inv, nil
}

// WriteGains writes one row per computed transaction, including header.
// Pending and ignored transactions are skipped.
func WriteGains(w io.Writer, txs []model.Transaction) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(GainHeader, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	row := 2
	for _, tx := range txs {
		if tx.Ignored || !tx.Gain.Valid {
			continue
		}
		rec := []string{
			strconv.FormatInt(tx.ID, 10),
			tx.Date.Format(dateFormat),
			string(tx.Type),
			string(tx.Label),
			legAmount(tx.From), tx.From.Currency,
			legAmount(tx.To), tx.To.Currency,
			nullString(tx.Gain),
			nullString(tx.FromCostBasis),
			nullString(tx.ToCostBasis),
			nullString(tx.MissingCostBasis),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing row %d: %w", row, err)
		}
		row++
	}
	cw.Flush()
	return cw.Error()
}

func legAmount(l model.Leg) string {
	if !l.Present() {
		return ""
	}
	return l.Amount.String()
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseID(name, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, s, err)
	}
	return n, nil
}

func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s %q: %w", name, s, err)
	}
	return t, nil
}
