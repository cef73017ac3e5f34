package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/basis/internal/model"
)

func TestRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.CostBasis.Method = string(model.MethodLifo)
	cfg.Transfers.FeeCeilings = map[string]string{"BTC": "0.001"}
	cfg.Rates = map[string]map[string]string{"USD": {"BTC": "30000"}}

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, "fifo", cfg.CostBasis.Method)
	assert.True(t, cfg.CostBasis.RealizeExchangeGains)
	assert.True(t, cfg.CostBasis.TrackHoldingPeriods)
	assert.Equal(t, 365, cfg.CostBasis.LongTermDays)
	assert.Equal(t, 30, cfg.CostBasis.WashSaleDays)
	assert.Equal(t, 500, cfg.CostBasis.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, "basis.db", cfg.Database.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("cost_basis:\n  method: average_cost\nlock:\n  ttl: 2m\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "average_cost", cfg.CostBasis.Method)
	assert.Equal(t, 2*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 365, cfg.CostBasis.LongTermDays)
	assert.Equal(t, "100", cfg.Transfers.FeeCollisionUSD)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown method", "cost_basis:\n  method: hifo\n", "cost_basis.method"},
		{"bad collision limit", "transfers:\n  fee_collision_usd: lots\n", "transfers.fee_collision_usd"},
		{"bad ceiling", "transfers:\n  fee_ceilings:\n    BTC: x\n", "transfers.fee_ceilings.BTC"},
		{"bad rate", "rates:\n  USD:\n    BTC: cheap\n", "rates.USD.BTC"},
		{"zero ttl", "lock:\n  ttl: 0s\n", "lock.ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, Default()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "base_currency: USD")
	assert.Contains(t, contents, "method: fifo")
	assert.Contains(t, contents, "ttl: 10m0s")
	assert.Contains(t, contents, "path: basis.db")
	assert.NotContains(t, contents, "rates:")
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BASIS_LOG_LEVEL=debug\n"), 0o644))
	t.Setenv(EnvDatabase, "/tmp/other.db")
	t.Setenv(EnvLogLevel, "")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(dir))
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/other.db", cfg.DatabasePath(dir))
}

func TestApplyEnv_NoDotEnv(t *testing.T) {
	t.Setenv(EnvDatabase, "")
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(t.TempDir()))
	assert.Equal(t, "basis.db", cfg.Database.Path)
}

func TestDatabasePath_Relative(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv/books", "basis.db"), Default().DatabasePath("/srv/books"))
}

func TestNewUser(t *testing.T) {
	cfg := Default()
	cfg.BaseCurrency = "eur"
	cfg.CostBasis.AccountBased = true

	u := cfg.NewUser("alice")
	assert.Equal(t, "alice", u.Name)
	assert.Equal(t, "EUR", u.BaseCurrency)
	assert.Equal(t, model.MethodFifo, u.Method)
	assert.True(t, u.AccountBasedCostBasis)
	assert.True(t, u.RealizeExchangeGains)
}

func TestTransferOptions(t *testing.T) {
	cfg := Default()
	cfg.Transfers.FeeCollisionUSD = "250"
	cfg.Transfers.FeeCeilings = map[string]string{"btc": "0.01", "XMR": "0.02"}

	opts, err := cfg.TransferOptions()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(opts.FeeCollisionLimit))
	assert.True(t, decimal.RequireFromString("0.01").Equal(opts.FeeCeilings["BTC"]))
	assert.True(t, decimal.RequireFromString("0.02").Equal(opts.FeeCeilings["XMR"]))
	assert.Contains(t, opts.FeeCeilings, "ETH")
}

func TestRateSource(t *testing.T) {
	src, err := Default().RateSource()
	require.NoError(t, err)
	assert.Nil(t, src)

	cfg := Default()
	cfg.Rates = map[string]map[string]string{"USD": {"BTC": "30000"}}
	src, err = cfg.RateSource()
	require.NoError(t, err)
	rate, err := src.Rate(context.Background(), "BTC", "USD", time.Now())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30000).Equal(rate))
}
