package recompute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/basis/internal/costbasis"
	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/lock"
	"github.com/cleared-dev/basis/internal/model"
	"github.com/cleared-dev/basis/internal/runlog"
	"github.com/cleared-dev/basis/internal/transfer"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
}

type memSaver struct {
	mu    sync.Mutex
	saved map[int64]ledger.Snapshot
}

func (m *memSaver) Save(_ context.Context, snap ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[int64]ledger.Snapshot)
	}
	m.saved[snap.User.ID] = snap
	return nil
}

func (m *memSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type harness struct {
	t      *testing.T
	store  *ledger.Store
	locker *lock.Memory
	saver  *memSaver
	log    *runlog.Log
	svc    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  ledger.New(),
		locker: lock.NewMemory(),
		saver:  &memSaver{},
		log:    runlog.Open(t.TempDir()),
	}
	h.locker.PollInterval = time.Millisecond
	h.svc = NewService(Options{
		Store:     h.store,
		Locker:    h.locker,
		CostBasis: costbasis.DefaultOptions(),
		Transfers: transfer.DefaultOptions(),
		LockTTL:   time.Minute,
		Saver:     h.saver,
		Recorder:  h.log,
	})
	return h
}

func (h *harness) user() model.User {
	h.t.Helper()
	u, err := h.store.AddUser(model.User{Method: model.MethodFifo, RealizeExchangeGains: true})
	require.NoError(h.t, err)
	return u
}

func (h *harness) account(u model.User, wallet, currency string) int64 {
	h.t.Helper()
	w, err := h.store.EnsureWallet(u.ID, wallet)
	require.NoError(h.t, err)
	a, err := h.store.EnsureAccount(u.ID, w.ID, currency)
	require.NoError(h.t, err)
	return a.ID
}

func (h *harness) add(u model.User, tx model.Transaction) model.Transaction {
	h.t.Helper()
	tx.UserID = u.ID
	got, err := h.store.AddTransaction(tx)
	require.NoError(h.t, err)
	return got
}

// ledgerWithTransfer buys 1 BTC, moves it to a hardware wallet as an
// unmatched withdrawal/deposit pair and sells half of it.
func (h *harness) ledgerWithTransfer(u model.User) (withdrawal, deposit, sell model.Transaction) {
	h.add(u, model.Transaction{
		Type:     model.TypeBuy,
		Date:     day(1),
		From:     model.Leg{Amount: dec("10000"), AccountID: h.account(u, "coinbase", "USD")},
		To:       model.Leg{Amount: dec("1"), AccountID: h.account(u, "coinbase", "BTC")},
		NetValue: model.Null(dec("10000")),
	})
	withdrawal = h.add(u, model.Transaction{
		Type:   model.TypeCryptoWithdrawal,
		Date:   day(10),
		From:   model.Leg{Amount: dec("1"), AccountID: h.account(u, "coinbase", "BTC")},
		TxHash: "0xFEED",
	})
	deposit = h.add(u, model.Transaction{
		Type:   model.TypeCryptoDeposit,
		Date:   day(10).Add(20 * time.Minute),
		To:     model.Leg{Amount: dec("0.9995"), AccountID: h.account(u, "ledger", "BTC")},
		TxHash: "feed",
	})
	sell = h.add(u, model.Transaction{
		Type:     model.TypeSell,
		Date:     day(20),
		From:     model.Leg{Amount: dec("0.5"), AccountID: h.account(u, "ledger", "BTC")},
		To:       model.Leg{Amount: dec("15000"), AccountID: h.account(u, "ledger", "USD")},
		NetValue: model.Null(dec("15000")),
	})
	return withdrawal, deposit, sell
}

func TestRecomputeAll(t *testing.T) {
	h := newHarness(t)
	u := h.user()
	withdrawal, deposit, sell := h.ledgerWithTransfer(u)

	sum, err := h.svc.RecomputeAll(context.Background(), u.ID)
	require.NoError(t, err)

	require.Len(t, sum.Transfers.Merges, 1)
	assert.Equal(t, transfer.Merge{WithdrawalID: withdrawal.ID, DepositID: deposit.ID, Tier: 1}, sum.Transfers.Merges[0])
	assert.Positive(t, sum.Balances.Accounts)
	assert.Zero(t, sum.Balances.Negative)
	assert.Equal(t, 3, sum.Gains.Processed)
	assert.Zero(t, sum.Gains.Failed)

	_, err = h.store.Transaction(deposit.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	moved, err := h.store.Transaction(withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TypeTransfer, moved.Type)
	assert.True(t, dec("0.0005").Equal(moved.Fee.Amount))

	sold, err := h.store.Transaction(sell.ID)
	require.NoError(t, err)
	require.True(t, sold.Gain.Valid)
	assert.True(t, dec("10000").Equal(sold.Gain.Decimal), "gain %s", sold.Gain.Decimal)

	assert.Equal(t, 1, h.saver.count())
	entries, err := h.log.ForUser(u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	ops := []string{entries[2].Operation, entries[1].Operation, entries[0].Operation}
	assert.Equal(t, []string{OpTransfers, OpBalances, OpGains}, ops)
	for _, e := range entries {
		assert.Equal(t, sum.RunID, e.RunID)
	}
}

func TestRecomputeAll_Idempotent(t *testing.T) {
	h := newHarness(t)
	u := h.user()
	h.ledgerWithTransfer(u)
	ctx := context.Background()

	_, err := h.svc.RecomputeAll(ctx, u.ID)
	require.NoError(t, err)
	before, err := h.store.Snapshot(u.ID)
	require.NoError(t, err)

	sum, err := h.svc.RecomputeAll(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, sum.Transfers.Merges)
	assert.Zero(t, sum.Gains.Processed)
	assert.Zero(t, sum.Gains.Created)

	after, err := h.store.Snapshot(u.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEntryPoints_SeparateRunIDs(t *testing.T) {
	h := newHarness(t)
	u := h.user()
	h.ledgerWithTransfer(u)
	ctx := context.Background()

	tr, err := h.svc.MatchTransfers(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, tr.Merges, 1)
	_, err = h.svc.RecomputeBalances(ctx, u.ID)
	require.NoError(t, err)
	gains, err := h.svc.RecomputeGains(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gains.Processed)

	entries, err := h.log.Read()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.NotEqual(t, entries[0].RunID, entries[1].RunID)
	assert.NotEqual(t, entries[1].RunID, entries[2].RunID)
	assert.Equal(t, 1, h.saver.count())
}

func TestRecomputeGains_WaitsForLock(t *testing.T) {
	h := newHarness(t)
	u := h.user()
	ctx := context.Background()

	lease, err := h.locker.Acquire(ctx, lock.UserLock(u.ID), time.Minute)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = h.svc.RecomputeGains(short, u.ID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, h.saver.count())

	require.NoError(t, h.locker.Release(ctx, lease))
	_, err = h.svc.RecomputeGains(ctx, u.ID)
	require.NoError(t, err)
}

func TestRecomputeGains_StructuralErrorReleasesLock(t *testing.T) {
	h := newHarness(t)
	u := h.user()
	move := h.add(u, model.Transaction{
		Type: model.TypeTransfer,
		Date: day(2),
		From: model.Leg{Amount: dec("1"), AccountID: h.account(u, "coinbase", "BTC")},
		To:   model.Leg{Amount: dec("1"), AccountID: h.account(u, "ledger", "BTC")},
	})
	entries := h.store.EntriesForTransaction(move.ID)
	for i := range entries {
		entries[i].Amount = entries[i].Amount.Abs()
	}
	h.store.UpsertEntries(entries...)

	_, err := h.svc.RecomputeGains(context.Background(), u.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStructural))
	assert.Zero(t, h.saver.count())

	short, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := h.locker.Acquire(short, lock.UserLock(u.ID), time.Minute)
	require.NoError(t, err, "lock must be released after a failed run")
	require.NoError(t, h.locker.Release(short, lease))
}

func TestEntryPoints_UnknownUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RecomputeAll(context.Background(), 99)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = h.svc.MatchTransfers(context.Background(), 99)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Options{Store: ledger.New()})
	assert.Equal(t, DefaultLockTTL, svc.ttl)
	assert.NotNil(t, svc.locker)
}

func TestRunner_RunAll(t *testing.T) {
	h := newHarness(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		u := h.user()
		h.ledgerWithTransfer(u)
		ids = append(ids, u.ID)
	}

	require.NoError(t, NewRunner(h.svc, 2).RunAll(context.Background(), ids))
	assert.Equal(t, 5, h.saver.count())
	for _, userID := range ids {
		txs := h.store.Transactions(userID)
		require.Len(t, txs, 3)
		for _, tx := range txs {
			assert.False(t, tx.Pending(), "transaction %d of user %d", tx.ID, userID)
		}
	}
}

func TestRunner_ReportsFailingUser(t *testing.T) {
	h := newHarness(t)
	good := h.user()
	bad := h.user()
	bad.Method = "random"
	require.NoError(t, h.store.UpdateUser(bad))

	err := NewRunner(h.svc, 0).RunAll(context.Background(), []int64{good.ID, bad.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user 2")
}
