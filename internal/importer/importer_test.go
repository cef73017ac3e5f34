package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

const header = "date,type,from_amount,from_currency,to_amount,to_currency,wallet\n"

func parseTestdata(t *testing.T) []Record {
	t.Helper()
	recs, err := ParseFile(&CSVParser{}, filepath.Join("testdata", "ledger.csv"))
	require.NoError(t, err)
	return recs
}

func TestCSVParser_Parse(t *testing.T) {
	recs := parseTestdata(t)
	require.Len(t, recs, 6)

	buy := recs[1]
	assert.Equal(t, 3, buy.Row)
	assert.Equal(t, model.TypeBuy, buy.Type)
	assert.Equal(t, time.Date(2023, time.January, 2, 10, 0, 0, 0, time.UTC), buy.Date)
	assert.Equal(t, "coinbase", buy.FromWallet)
	assert.Equal(t, "coinbase", buy.ToWallet)
	assert.Equal(t, "0.05", buy.To.Value.String())
	assert.Equal(t, "BTC", buy.To.Currency)
	assert.Equal(t, "USD", buy.Fee.Currency)
	assert.True(t, buy.NetValue.Valid)
	assert.Equal(t, "first buy", buy.Description)

	withdrawal := recs[2]
	assert.Equal(t, "coinbase", withdrawal.FromWallet)
	assert.Empty(t, withdrawal.ToWallet)
	assert.Equal(t, "0xabc123", withdrawal.TxHash)
	assert.Equal(t, "bc1qcold", withdrawal.DestAddress)
	assert.False(t, withdrawal.To.Present())

	assert.Equal(t, model.LabelStaking, recs[4].Label)
	assert.False(t, recs[5].Ignored)
	assert.False(t, recs[0].FeeValue.Valid)
}

func TestCSVParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want string
	}{
		{"bad date", header + "NOTADATE,buy,10,USD,1,BTC,x\n", `row 2: parsing date "NOTADATE"`},
		{"bad amount", header + "2023-01-01,buy,ten,USD,1,BTC,x\n", `row 2: parsing from_amount "ten"`},
		{"negative amount", header + "2023-01-01,buy,10,USD,-1,BTC,x\n", "row 2: parsing to_amount"},
		{"amount without currency", header + "2023-01-01,buy,10,,1,BTC,x\n", "row 2: from_amount 10 has no currency"},
		{"unknown type", header + "2023-01-01,swap,10,USD,1,BTC,x\n", `row 2: unknown type "swap"`},
		{"second row", header + "2023-01-01,buy,10,USD,1,BTC,x\n2023-01-02,sell,1,BTC,,USD,x\n", ""},
		{"missing column", "type,amount\nbuy,1\n", `missing required column "date"`},
		{"ragged row", header + "2023-01-01,buy\n", "row 2:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&CSVParser{}).Parse(strings.NewReader(tt.csv))
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCSVParser_UnknownLabel(t *testing.T) {
	csv := "date,type,label\n2023-01-01,crypto_deposit,bribe\n"
	_, err := (&CSVParser{}).Parse(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown label "bribe"`)
}

func TestCSVParser_EmptyFile(t *testing.T) {
	recs, err := (&CSVParser{}).Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, recs)

	recs, err = (&CSVParser{}).Parse(strings.NewReader(header))
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestImporter_Apply(t *testing.T) {
	store := ledger.New()
	u, err := store.AddUser(model.User{})
	require.NoError(t, err)

	txs, err := New(store, nil).Apply(u.ID, "basis", parseTestdata(t))
	require.NoError(t, err)
	require.Len(t, txs, 6)

	for _, tx := range txs {
		assert.True(t, tx.Pending())
		assert.Equal(t, "basis", tx.Importer)
	}

	buy := txs[1]
	assert.Equal(t, "BTC", buy.To.Currency)
	assert.Equal(t, "USD", buy.Fee.Currency)
	assert.Equal(t, buy.From.AccountID, buy.Fee.AccountID)

	withdrawal, deposit := txs[2], txs[3]
	wAcct, err := store.Account(withdrawal.From.AccountID)
	require.NoError(t, err)
	dAcct, err := store.Account(deposit.To.AccountID)
	require.NoError(t, err)
	assert.NotEqual(t, wAcct.WalletID, dAcct.WalletID)

	names := make(map[string]bool)
	for _, w := range store.Wallets(u.ID) {
		names[w.Name] = true
	}
	assert.Equal(t, map[string]bool{"coinbase": true, "ledger": true, "kraken": true}, names)

	// One entry per present leg.
	assert.Len(t, store.EntriesForTransaction(buy.ID), 3)
	assert.True(t, decimal.RequireFromString("-1000").Equal(store.EntriesForTransaction(buy.ID)[0].Amount))
}

func TestImporter_UnknownUser(t *testing.T) {
	_, err := New(ledger.New(), nil).Apply(9, "basis", parseTestdata(t))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestImporter_DefaultWallet(t *testing.T) {
	store := ledger.New()
	u, err := store.AddUser(model.User{})
	require.NoError(t, err)

	recs, err := (&CSVParser{}).Parse(strings.NewReader("date,type,to_amount,to_currency\n2023-01-01,fiat_deposit,10,usd\n"))
	require.NoError(t, err)
	_, err = New(store, nil).Apply(u.ID, "manual", recs)
	require.NoError(t, err)

	wallets := store.Wallets(u.ID)
	require.Len(t, wallets, 1)
	assert.Equal(t, "default", wallets[0].Name)
	accts := store.Accounts(u.ID)
	require.Len(t, accts, 1)
	assert.Equal(t, "USD", accts[0].Currency)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("nonexistent"))
}

func TestRegistry_CaseInsensitive(t *testing.T) {
	r := DefaultRegistry()
	assert.NotNil(t, r.Get("basis"))
	assert.NotNil(t, r.Get("BASIS"))
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := DefaultRegistry()
	assert.Panics(t, func() { r.Register(&CSVParser{}) })
}

func TestScan_FindsCSVs(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(filepath.Join(importDir, "processed"), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(importDir, "ledger.csv"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "notes.txt"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "processed", "old.csv"), []byte("data"), 0o644))

	files, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ledger.csv", files[0].Name)
	assert.Equal(t, int64(4), files[0].Size)
}

func TestScan_MissingDir(t *testing.T) {
	files, err := Scan(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "ledger.csv"), []byte("data"), 0o644))

	require.NoError(t, MarkProcessed(dir, "ledger.csv"))

	_, err := os.Stat(filepath.Join(importDir, "ledger.csv"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(importDir, "processed", "ledger.csv"))
	assert.NoError(t, err)
}
