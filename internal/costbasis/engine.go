package costbasis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/model"
)

// Options tunes an Engine. Zero values fall back to the defaults.
type Options struct {
	// TrackHoldingPeriods makes carried lots keep the holding start of
	// the lots they came from.
	TrackHoldingPeriods bool
	LongTermDays        int
	WashSaleDays        int
	BatchSize           int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		TrackHoldingPeriods: true,
		LongTermDays:        365,
		WashSaleDays:        30,
		BatchSize:           DefaultBatchSize,
	}
}

// Result summarises one gains run.
type Result struct {
	Processed  int
	Created    int
	Deleted    int
	Failed     int
	Iterations int
}

// Engine computes lots, extractions and realized gains for one user at a
// time.
type Engine struct {
	store  *ledger.Store
	opts   Options
	logger *slog.Logger

	// beforeTransaction is called with each pending ID before it is loaded.
	beforeTransaction func(txID int64)
}

// NewEngine creates an Engine over store.
func NewEngine(store *ledger.Store, opts Options, logger *slog.Logger) *Engine {
	if opts.LongTermDays <= 0 {
		opts.LongTermDays = 365
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Engine{store: store, opts: opts, logger: logging.OrDiscard(logger)}
}

// run is the state of one Engine.Run call.
type run struct {
	ctx      context.Context
	e        *Engine
	user     model.User
	strategy Strategy
	buf      *buffer
	res      Result

	// IDs of the investments created for the transaction being processed.
	current []int64
}

// Run invalidates stale investments and regenerates every pending
// transaction of the user in ledger order. Structural problems and
// transactions vanishing mid-run abort the run with an error; missing
// cost basis is recorded on the affected records instead.
func (e *Engine) Run(ctx context.Context, userID int64) (Result, error) {
	user, err := e.store.User(userID)
	if err != nil {
		return Result{}, err
	}
	strategy, err := StrategyFor(user.Method, e.opts.WashSaleDays)
	if err != nil {
		return Result{}, fmt.Errorf("user %d: %w", userID, err)
	}

	r := &run{
		ctx:      ctx,
		e:        e,
		user:     user,
		strategy: strategy,
		buf:      newBuffer(e.store, e.opts.BatchSize),
	}
	start := time.Now()

	r.cleanup()
	if err := r.invalidate(); err != nil {
		return r.res, err
	}
	purged := e.store.PurgeInvestments(userID)
	if err := r.generate(); err != nil {
		return r.res, err
	}
	if err := r.buf.flush(); err != nil {
		return r.res, err
	}

	e.logger.Info("gains recomputed",
		"user_id", userID,
		"method", string(user.Method),
		"processed", r.res.Processed,
		"created", r.res.Created,
		"deleted", r.res.Deleted,
		"purged", purged,
		"failed", r.res.Failed,
		"iterations", r.res.Iterations,
		"flushes", r.buf.flushes,
		"duration", time.Since(start).String(),
	)
	return r.res, nil
}

// cleanup clears ignored transactions and re-queues computed transactions
// whose investments went missing.
func (r *run) cleanup() {
	store := r.e.store
	for _, tx := range store.Transactions(r.user.ID) {
		live := store.InvestmentsForTransaction(tx.ID)
		if tx.Ignored {
			if len(live) > 0 {
				store.SoftDeleteInvestments(investmentIDs(live)...)
			}
			if tx.Gain.Valid || tx.FromCostBasis.Valid || tx.ToCostBasis.Valid || tx.MissingCostBasis.Valid {
				store.ClearGains(tx.ID)
			}
			continue
		}
		if tx.Gain.Valid && len(live) == 0 && r.classify(tx) != kindNone {
			store.ClearGains(tx.ID)
		}
	}
}

// invalidate tombstones every investment dated at or after the earliest
// touched date of its pool, repeating until nothing more is deleted.
func (r *run) invalidate() error {
	store := r.e.store
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		r.res.Iterations++

		earliest := make(map[string]time.Time)
		note := func(pool string, d time.Time) {
			if cur, ok := earliest[pool]; !ok || d.Before(cur) {
				earliest[pool] = d
			}
		}
		for _, tx := range store.Transactions(r.user.ID) {
			if !tx.Pending() {
				continue
			}
			for _, key := range r.touchedPools(tx) {
				note(key.String(), tx.Date)
			}
		}
		for _, inv := range store.DeletedInvestments(r.user.ID) {
			note(inv.PoolName, inv.Date)
		}

		deleted := 0
		for name, from := range earliest {
			key, err := model.ParsePoolName(name)
			if err != nil {
				return &model.InvariantError{Invariant: "pool-key", Description: err.Error()}
			}
			live, err := store.PoolInvestments(r.user.ID, key)
			if err != nil {
				return err
			}
			var stale []int64
			owners := make(map[int64]bool)
			for _, inv := range live {
				if inv.Date.Before(from) {
					continue
				}
				stale = append(stale, inv.ID)
				owners[inv.TransactionID] = true
			}
			store.SoftDeleteInvestments(stale...)
			for txID := range owners {
				store.InvalidateTransactions(txID)
			}
			deleted += len(stale)
		}
		r.res.Deleted += deleted

		r.e.logger.Debug("cascade iteration",
			"user_id", r.user.ID,
			"iteration", r.res.Iterations,
			"pools", len(earliest),
			"deleted", deleted,
		)
		if deleted == 0 {
			break
		}
	}

	for _, tx := range store.Transactions(r.user.ID) {
		if tx.Pending() && len(store.InvestmentsForTransaction(tx.ID)) > 0 {
			return &model.InvariantError{
				Invariant:     "pending-with-investments",
				TransactionID: tx.ID,
				Description:   "pending transaction still has live investments",
			}
		}
	}
	return nil
}

// generate processes pending transactions in ledger order.
func (r *run) generate() error {
	store := r.e.store
	var pending []int64
	for _, tx := range store.Transactions(r.user.ID) {
		if tx.Pending() {
			pending = append(pending, tx.ID)
		}
	}

	for _, txID := range pending {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if r.e.beforeTransaction != nil {
			r.e.beforeTransaction(txID)
		}
		tx, err := store.Transaction(txID)
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("transaction %d: %w", txID, model.ErrTransactionVanished)
		}
		if err != nil {
			return err
		}
		if !tx.Pending() {
			continue
		}
		if err := ValidateTransaction(tx, store.EntriesForTransaction(tx.ID), r.currencyOf); err != nil {
			return err
		}

		r.current = r.current[:0]
		if err := r.process(tx); err != nil {
			return fmt.Errorf("processing transaction %d: %w", tx.ID, err)
		}
		invs := make([]model.Investment, 0, len(r.current))
		for _, invID := range r.current {
			inv, err := r.buf.investment(invID)
			if err != nil {
				return err
			}
			invs = append(invs, inv)
		}
		if err := r.buf.putGains(Summarize(tx.ID, invs)); err != nil {
			return err
		}
		r.res.Processed++
	}
	return nil
}

func (r *run) currencyOf(accountID int64) string {
	acct, err := r.e.store.Account(accountID)
	if err != nil {
		return ""
	}
	return acct.Currency
}

// tracked reports whether a leg moves units that carry cost basis.
func (r *run) tracked(leg model.Leg) bool {
	return leg.Present() && !strings.EqualFold(leg.Currency, r.user.BaseCurrency)
}

// pool returns the pool key a leg's units belong to.
func (r *run) pool(leg model.Leg) model.PoolKey {
	if r.user.AccountBasedCostBasis {
		return model.AccountPool(leg.AccountID)
	}
	return model.CurrencyPool(leg.Currency)
}

func (r *run) touchedPools(tx model.Transaction) []model.PoolKey {
	var keys []model.PoolKey
	for _, leg := range []model.Leg{tx.From, tx.To, tx.Fee} {
		if r.tracked(leg) {
			keys = append(keys, r.pool(leg))
		}
	}
	return keys
}

func (r *run) add(inv model.Investment) error {
	r.current = append(r.current, inv.ID)
	r.res.Created++
	return r.buf.putInvestment(inv)
}

func investmentIDs(invs []model.Investment) []int64 {
	ids := make([]int64, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ID
	}
	return ids
}
