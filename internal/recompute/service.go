// Package recompute runs transfer matching, balance updates and gain
// calculation for a user while holding that user's lock.
package recompute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleared-dev/basis/internal/balance"
	"github.com/cleared-dev/basis/internal/costbasis"
	"github.com/cleared-dev/basis/internal/id"
	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/lock"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/rates"
	"github.com/cleared-dev/basis/internal/runlog"
	"github.com/cleared-dev/basis/internal/transfer"
)

// Operation names as recorded in the run log.
const (
	OpTransfers = "transfers"
	OpBalances  = "balances"
	OpGains     = "gains"
)

// DefaultLockTTL bounds how long a crashed holder can block a user.
const DefaultLockTTL = 10 * time.Minute

// Saver persists one user's ledger after a run.
type Saver interface {
	Save(ctx context.Context, snap ledger.Snapshot) error
}

// Recorder receives one run log entry per completed operation.
type Recorder interface {
	Append(entries ...runlog.Entry) error
}

// Options wires a Service. Only Store is required.
type Options struct {
	Store     *ledger.Store
	Locker    lock.Locker
	Rates     rates.Source
	CostBasis costbasis.Options
	Transfers transfer.Options
	LockTTL   time.Duration
	Saver     Saver
	Recorder  Recorder
	Logger    *slog.Logger
}

// Summary collects the results of RecomputeAll.
type Summary struct {
	RunID     string
	Transfers transfer.Result
	Balances  balance.Result
	Gains     costbasis.Result
}

// Service exposes the idempotent recompute entry points.
type Service struct {
	store    *ledger.Store
	locker   lock.Locker
	ttl      time.Duration
	gains    *costbasis.Engine
	balances *balance.Updater
	matcher  *transfer.Matcher
	saver    Saver
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. Without a Locker, an in-process one is used.
func NewService(opts Options) *Service {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Locker == nil {
		opts.Locker = lock.NewMemory()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &Service{
		store:    opts.Store,
		locker:   opts.Locker,
		ttl:      opts.LockTTL,
		gains:    costbasis.NewEngine(opts.Store, opts.CostBasis, logger),
		balances: balance.NewUpdater(opts.Store, logger),
		matcher:  transfer.NewMatcher(opts.Store, opts.Rates, opts.Transfers, logger),
		saver:    opts.Saver,
		recorder: opts.Recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// RecomputeGains regenerates lots, extractions and gains.
func (s *Service) RecomputeGains(ctx context.Context, userID int64) (costbasis.Result, error) {
	var res costbasis.Result
	err := s.locked(ctx, userID, func(ctx context.Context, runID string) (err error) {
		res, err = s.runGains(ctx, userID, runID)
		return err
	})
	return res, err
}

// RecomputeBalances refreshes running balances and negative-balance flags.
func (s *Service) RecomputeBalances(ctx context.Context, userID int64) (balance.Result, error) {
	var res balance.Result
	err := s.locked(ctx, userID, func(ctx context.Context, runID string) (err error) {
		res, err = s.runBalances(ctx, userID, runID)
		return err
	})
	return res, err
}

// MatchTransfers folds matching deposit/withdrawal pairs into transfers.
func (s *Service) MatchTransfers(ctx context.Context, userID int64) (transfer.Result, error) {
	var res transfer.Result
	err := s.locked(ctx, userID, func(ctx context.Context, runID string) (err error) {
		res, err = s.runTransfers(ctx, userID, runID)
		return err
	})
	return res, err
}

// RecomputeAll matches transfers, then updates balances, then recomputes
// gains, all under one lock. A failing step stops the later ones.
func (s *Service) RecomputeAll(ctx context.Context, userID int64) (Summary, error) {
	var sum Summary
	err := s.locked(ctx, userID, func(ctx context.Context, runID string) (err error) {
		sum.RunID = runID
		if sum.Transfers, err = s.runTransfers(ctx, userID, runID); err != nil {
			return err
		}
		if sum.Balances, err = s.runBalances(ctx, userID, runID); err != nil {
			return err
		}
		sum.Gains, err = s.runGains(ctx, userID, runID)
		return err
	})
	return sum, err
}

// locked runs fn under the user's lock and saves the ledger when fn
// succeeds.
func (s *Service) locked(ctx context.Context, userID int64, fn func(ctx context.Context, runID string) error) error {
	if _, err := s.store.User(userID); err != nil {
		return err
	}
	runID := id.NewToken()
	ctx = logging.ToContext(ctx, s.logger.With("user_id", userID, "run_id", runID))
	return lock.With(ctx, s.locker, lock.UserLock(userID), s.ttl, func(ctx context.Context) error {
		if err := fn(ctx, runID); err != nil {
			return err
		}
		return s.save(ctx, userID)
	})
}

func (s *Service) save(ctx context.Context, userID int64) error {
	if s.saver == nil {
		return nil
	}
	snap, err := s.store.Snapshot(userID)
	if err != nil {
		return err
	}
	if err := s.saver.Save(ctx, snap); err != nil {
		return fmt.Errorf("saving user %d: %w", userID, err)
	}
	return nil
}

func (s *Service) runTransfers(ctx context.Context, userID int64, runID string) (transfer.Result, error) {
	start := s.now()
	res, err := s.matcher.Run(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("matching transfers: %w", err)
	}
	s.record(ctx, userID, OpTransfers, runID, start,
		fmt.Sprintf("candidates=%d merged=%d", res.Candidates, len(res.Merges)))
	return res, nil
}

func (s *Service) runBalances(ctx context.Context, userID int64, runID string) (balance.Result, error) {
	start := s.now()
	res, err := s.balances.Run(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("updating balances: %w", err)
	}
	s.record(ctx, userID, OpBalances, runID, start,
		fmt.Sprintf("accounts=%d entries=%d negative=%d", res.Accounts, res.Entries, res.Negative))
	return res, nil
}

func (s *Service) runGains(ctx context.Context, userID int64, runID string) (costbasis.Result, error) {
	start := s.now()
	res, err := s.gains.Run(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("recomputing gains: %w", err)
	}
	s.record(ctx, userID, OpGains, runID, start,
		fmt.Sprintf("processed=%d created=%d deleted=%d failed=%d", res.Processed, res.Created, res.Deleted, res.Failed))
	return res, nil
}

// record appends to the run log. A log failure is reported but does not
// fail the run.
func (s *Service) record(ctx context.Context, userID int64, op, runID string, start time.Time, details string) {
	if s.recorder == nil {
		return
	}
	end := s.now()
	err := s.recorder.Append(runlog.Entry{
		Timestamp: end,
		UserID:    userID,
		Operation: op,
		Details:   details,
		RunID:     runID,
		Duration:  end.Sub(start),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("run log append failed", "operation", op, "error", err)
	}
}
