package ledger

import (
	"github.com/cleared-dev/basis/internal/model"
)

// Snapshot is a flat copy of one user's ledger, used by persistence.
type Snapshot struct {
	User         model.User
	Wallets      []model.Wallet
	Accounts     []model.Account
	Entries      []model.Entry
	Transactions []model.Transaction
	Investments  []model.Investment
}

// Snapshot copies every record of a user, including unlinked entries and
// tombstoned investments.
func (s *Store) Snapshot(userID int64) (Snapshot, error) {
	u, err := s.User(userID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		User:         u,
		Wallets:      s.Wallets(userID),
		Accounts:     s.Accounts(userID),
		Transactions: s.Transactions(userID),
		Investments:  s.Investments(userID),
	}
	for _, a := range snap.Accounts {
		snap.Entries = append(snap.Entries, s.Entries(a.ID)...)
	}
	return snap, nil
}

// Restore loads a snapshot into the store, keeping the stored IDs.
// Existing records with the same IDs are replaced.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userSeq.Observe(snap.User.ID)
	s.users.put(snap.User.ID, snap.User)
	for _, w := range snap.Wallets {
		s.walletSeq.Observe(w.ID)
		s.wallets.put(w.ID, w)
	}
	for _, a := range snap.Accounts {
		s.accountSeq.Observe(a.ID)
		s.accounts.put(a.ID, a)
	}
	for _, e := range snap.Entries {
		s.entrySeq.Observe(e.ID)
		s.entries.put(e.ID, e)
	}
	for _, tx := range snap.Transactions {
		s.txSeq.Observe(tx.ID)
		s.transactions.put(tx.ID, tx)
	}
	for _, inv := range snap.Investments {
		s.invSeq.Observe(inv.ID)
		s.investments.put(inv.ID, inv)
	}
}
