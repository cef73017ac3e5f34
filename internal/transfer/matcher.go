package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/model"
	"github.com/cleared-dev/basis/internal/rates"
)

// Options tunes a Matcher.
type Options struct {
	// FeeCeilings bounds the implied fee of a hash match per currency.
	FeeCeilings map[string]decimal.Decimal
	// FeeCollisionLimit rejects hash matches whose implied fee is worth
	// more than this in CollisionCurrency.
	FeeCollisionLimit decimal.Decimal
	CollisionCurrency string
	SpecialHashes     []string
}

// DefaultOptions returns the matcher defaults.
func DefaultOptions() Options {
	return Options{
		FeeCeilings:       DefaultFeeCeilings(),
		FeeCollisionLimit: decimal.NewFromInt(100),
		CollisionCurrency: "USD",
		SpecialHashes:     DefaultSpecialHashes(),
	}
}

// Merge records one pair folded into a transfer.
type Merge struct {
	WithdrawalID int64
	DepositID    int64
	Tier         int
}

// Result summarises one matcher run.
type Result struct {
	Candidates int
	Merges     []Merge
}

// Matcher recognizes a user's own transfers between wallets and folds the
// deposit into the withdrawal as one transfer transaction.
type Matcher struct {
	store  *ledger.Store
	rates  rates.Source
	opts   Options
	logger *slog.Logger
}

// NewMatcher creates a Matcher. A nil rate source disables the fee
// collision check.
func NewMatcher(store *ledger.Store, src rates.Source, opts Options, logger *slog.Logger) *Matcher {
	if opts.FeeCeilings == nil {
		opts.FeeCeilings = DefaultFeeCeilings()
	}
	if opts.CollisionCurrency == "" {
		opts.CollisionCurrency = "USD"
	}
	return &Matcher{store: store, rates: src, opts: opts, logger: logging.OrDiscard(logger)}
}

// Run matches every unlabeled deposit and withdrawal of the user.
func (m *Matcher) Run(ctx context.Context, userID int64) (Result, error) {
	if _, err := m.store.User(userID); err != nil {
		return Result{}, err
	}
	cands, err := m.candidates(userID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Candidates: len(cands)}

	merged := make(map[int64]bool)
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if merged[c.tx.ID] {
			continue
		}
		var open []candidate
		for _, o := range cands {
			if !merged[o.tx.ID] {
				open = append(open, o)
			}
		}
		p, tier, ok := m.find(ctx, c, open)
		if !ok {
			continue
		}
		if err := m.merge(p); err != nil {
			return res, fmt.Errorf("merging transactions %d and %d: %w", p.withdrawal.tx.ID, p.deposit.tx.ID, err)
		}
		merged[p.withdrawal.tx.ID] = true
		merged[p.deposit.tx.ID] = true
		res.Merges = append(res.Merges, Merge{WithdrawalID: p.withdrawal.tx.ID, DepositID: p.deposit.tx.ID, Tier: tier})
		m.logger.Info("transfer matched",
			"user_id", userID,
			"withdrawal_id", p.withdrawal.tx.ID,
			"deposit_id", p.deposit.tx.ID,
			"tier", tier,
		)
	}
	return res, nil
}

func (m *Matcher) candidates(userID int64) ([]candidate, error) {
	var out []candidate
	for _, tx := range m.store.Transactions(userID) {
		if tx.Ignored || tx.Label != model.LabelNone {
			continue
		}
		var c candidate
		switch {
		case (tx.Type == model.TypeCryptoDeposit || tx.Type == model.TypeFiatDeposit) && tx.To.Present() && !tx.From.Present():
			c = candidate{tx: tx, leg: tx.To, deposit: true}
		case (tx.Type == model.TypeCryptoWithdrawal || tx.Type == model.TypeFiatWithdrawal) && tx.From.Present() && !tx.To.Present():
			c = candidate{tx: tx, leg: tx.From}
		default:
			continue
		}
		acct, err := m.store.Account(c.leg.AccountID)
		if err != nil {
			return nil, err
		}
		c.walletID = acct.WalletID
		c.hash = NormalizeHash(tx.TxHash)
		out = append(out, c)
	}
	return out, nil
}

// find returns the best counterpart of c, trying each tier in turn.
func (m *Matcher) find(ctx context.Context, c candidate, open []candidate) (pair, int, bool) {
	var pairs []pair
	for _, o := range open {
		if o.deposit == c.deposit || o.walletID == c.walletID || o.tx.ID == c.tx.ID {
			continue
		}
		if !strings.EqualFold(o.leg.Currency, c.leg.Currency) {
			continue
		}
		p := pair{withdrawal: c, deposit: o}
		if c.deposit {
			p = pair{withdrawal: o, deposit: c}
		}
		if m.rejected(ctx, p) {
			continue
		}
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		return pair{}, 0, false
	}

	for tier, accept := range m.tiers() {
		var hits []pair
		for _, p := range pairs {
			if m.special(p.withdrawal.tx.TxHash) || m.special(p.deposit.tx.TxHash) {
				if tier > 0 || !strings.EqualFold(p.withdrawal.tx.TxHash, p.deposit.tx.TxHash) {
					continue
				}
			}
			if accept(p) {
				hits = append(hits, p)
			}
		}
		if best, ok := rank(hits, tier < 2); ok {
			return best, tier + 1, true
		}
	}
	return pair{}, 0, false
}

func (m *Matcher) tiers() []func(pair) bool {
	return []func(pair) bool{
		func(p pair) bool {
			return p.hashMatch() && abs(p.delta()) <= time.Hour
		},
		func(p pair) bool {
			return p.hashMatch() && abs(p.delta()) <= 7*24*time.Hour && !p.fee().GreaterThan(m.maxFee(p))
		},
		func(p pair) bool {
			if p.withdrawal.hash != "" && p.deposit.hash != "" {
				return false
			}
			hi := 24 * time.Hour
			if UniqueAmount(p.withdrawal.amount()) {
				hi = 7 * 24 * time.Hour
			}
			return within(p.delta(), -10*time.Minute, hi) && deviates(p, "0.15")
		},
		func(p pair) bool {
			return abs(p.delta()) <= time.Hour && deviates(p, "0.05")
		},
	}
}

// maxFee is the allowed deviation of a hash match.
func (m *Matcher) maxFee(p pair) decimal.Decimal {
	limit := p.withdrawal.amount().Mul(decimal.RequireFromString("0.95"))
	if ceiling, ok := m.opts.FeeCeilings[strings.ToUpper(p.withdrawal.leg.Currency)]; ok {
		limit = decimal.Min(limit, ceiling)
	}
	return limit
}

func deviates(p pair, fraction string) bool {
	return !p.fee().GreaterThan(p.withdrawal.amount().Mul(decimal.RequireFromString(fraction)))
}

func (m *Matcher) special(hash string) bool {
	for _, h := range m.opts.SpecialHashes {
		if hash != "" && strings.EqualFold(h, hash) {
			return true
		}
	}
	return false
}

// rejected filters pairs that cannot be the same transfer.
func (m *Matcher) rejected(ctx context.Context, p pair) bool {
	w, d := p.withdrawal.tx, p.deposit.tx
	if w.Importer != "" && w.Importer == d.Importer &&
		p.withdrawal.hash != "" && p.deposit.hash != "" && p.withdrawal.hash != p.deposit.hash {
		return true
	}
	if differ(w.SrcAddress, d.SrcAddress) || differ(w.DestAddress, d.DestAddress) {
		return true
	}
	if p.hashMatch() && m.rates != nil && m.opts.FeeCollisionLimit.IsPositive() {
		worth, err := m.worth(ctx, p.fee(), p.withdrawal.leg.Currency, w.Date)
		if err == nil && worth.GreaterThan(m.opts.FeeCollisionLimit) {
			return true
		}
	}
	return false
}

func (m *Matcher) worth(ctx context.Context, amount decimal.Decimal, currency string, at time.Time) (decimal.Decimal, error) {
	if strings.EqualFold(currency, m.opts.CollisionCurrency) {
		return amount, nil
	}
	return rates.Convert(ctx, m.rates, amount, strings.ToUpper(currency), m.opts.CollisionCurrency, at)
}

func differ(a, b string) bool {
	return a != "" && b != "" && !strings.EqualFold(a, b)
}

// rank orders hits by the first non-empty preference: closest amount for
// hash tiers, then arrival within 2h after, within 10 minutes before,
// later, and finally earlier.
func rank(hits []pair, byAmount bool) (pair, bool) {
	if len(hits) == 0 {
		return pair{}, false
	}
	if byAmount {
		sort.SliceStable(hits, func(i, j int) bool {
			a, b := hits[i].fee(), hits[j].fee()
			if !a.Equal(b) {
				return a.LessThan(b)
			}
			return abs(hits[i].delta()) < abs(hits[j].delta())
		})
		return hits[0], true
	}

	buckets := []func(time.Duration) bool{
		func(d time.Duration) bool { return within(d, 0, 2*time.Hour) },
		func(d time.Duration) bool { return within(d, -10*time.Minute, -1) },
		func(d time.Duration) bool { return d > 2*time.Hour },
		func(d time.Duration) bool { return d < -10*time.Minute },
	}
	for _, in := range buckets {
		var pick []pair
		for _, p := range hits {
			if in(p.delta()) {
				pick = append(pick, p)
			}
		}
		if len(pick) == 0 {
			continue
		}
		sort.SliceStable(pick, func(i, j int) bool {
			return abs(pick[i].delta()) < abs(pick[j].delta())
		})
		return pick[0], true
	}
	return pair{}, false
}
