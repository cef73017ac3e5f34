package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/basis/internal/model"
)

// NextInvestmentID reserves an investment ID so extractions can reference
// lots before they are written.
func (s *Store) NextInvestmentID() int64 {
	return s.invSeq.Next()
}

// UpsertInvestments writes investments, inserting those with a zero ID.
func (s *Store) UpsertInvestments(invs ...model.Investment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range invs {
		if inv.ID == 0 {
			inv.ID = s.invSeq.Next()
		}
		s.invSeq.Observe(inv.ID)
		s.investments.put(inv.ID, inv)
	}
}

// Investment returns an investment by ID, tombstoned or not.
func (s *Store) Investment(invID int64) (model.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments.get(invID)
	if !ok {
		return model.Investment{}, fmt.Errorf("investment %d: %w", invID, model.ErrNotFound)
	}
	return inv, nil
}

// Investments returns all of the user's investments including tombstones,
// ordered by date then ID.
func (s *Store) Investments(userID int64) []model.Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectInvestments(func(inv model.Investment) bool { return inv.UserID == userID })
}

// InvestmentsForTransaction returns the live investments owned by a
// transaction.
func (s *Store) InvestmentsForTransaction(txID int64) []model.Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectInvestments(func(inv model.Investment) bool {
		return inv.TransactionID == txID && !inv.Deleted
	})
}

// DeletedInvestments returns the user's tombstoned investments awaiting
// cascade processing.
func (s *Store) DeletedInvestments(userID int64) []model.Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectInvestments(func(inv model.Investment) bool {
		return inv.UserID == userID && inv.Deleted
	})
}

// PoolInvestments returns the live investments of one pool ordered by
// date then ID.
func (s *Store) PoolInvestments(userID int64, key model.PoolKey) ([]model.Investment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	name := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectInvestments(func(inv model.Investment) bool {
		return inv.UserID == userID && !inv.Deleted && inv.PoolName == name
	}), nil
}

// DepositsOrderedBy returns the extractable lots of a pool dated at or
// before upTo, ordered by less.
func (s *Store) DepositsOrderedBy(userID int64, key model.PoolKey, upTo time.Time, less func(a, b model.Investment) bool) ([]model.Investment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	name := key.String()

	s.mu.Lock()
	lots := s.selectInvestments(func(inv model.Investment) bool {
		return inv.UserID == userID && inv.PoolName == name && inv.Extractable() && !inv.Date.After(upTo)
	})
	s.mu.Unlock()

	sort.SliceStable(lots, func(i, j int) bool { return less(lots[i], lots[j]) })
	return lots, nil
}

// SoftDeleteInvestments tombstones investments by ID.
func (s *Store) SoftDeleteInvestments(invIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, invID := range invIDs {
		s.tombstone(invID)
	}
}

// PurgeInvestments physically removes the user's tombstones that no live
// investment references, returning how many were removed.
func (s *Store) PurgeInvestments(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[int64]bool)
	for _, inv := range s.investments.rows {
		if !inv.Deleted && inv.FromID != 0 {
			referenced[inv.FromID] = true
		}
	}
	n := 0
	for invID, inv := range s.investments.rows {
		if inv.UserID == userID && inv.Deleted && !referenced[invID] {
			s.investments.remove(invID)
			n++
		}
	}
	return n
}

func (s *Store) softDeleteFor(txID int64) {
	var owned []int64
	for invID, inv := range s.investments.rows {
		if inv.TransactionID == txID {
			owned = append(owned, invID)
		}
	}
	for _, invID := range owned {
		s.tombstone(invID)
	}
}

// tombstone marks inv deleted and returns what it drew to its live lot.
func (s *Store) tombstone(invID int64) {
	inv, ok := s.investments.get(invID)
	if !ok || inv.Deleted {
		return
	}
	inv.Deleted = true
	s.investments.put(inv.ID, inv)

	if inv.Deposit || inv.FromID == 0 {
		return
	}
	lot, ok := s.investments.get(inv.FromID)
	if !ok || !lot.Deposit || lot.Deleted {
		return
	}
	lot.ExtractedAmount = lot.ExtractedAmount.Sub(inv.Amount.Abs())
	lot.ExtractedValue = lot.ExtractedValue.Sub(inv.DrawnValue)
	if lot.ExtractedAmount.IsNegative() {
		lot.ExtractedAmount = decimal.Zero
	}
	if lot.ExtractedValue.IsNegative() {
		lot.ExtractedValue = decimal.Zero
	}
	s.investments.put(lot.ID, lot)
}

func (s *Store) selectInvestments(keep func(model.Investment) bool) []model.Investment {
	var out []model.Investment
	for _, inv := range s.investments.rows {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
