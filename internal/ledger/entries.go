package ledger

import (
	"github.com/cleared-dev/basis/internal/model"
)

// Entries returns every entry posted to an account, linked or not,
// ordered by ID.
func (s *Store) Entries(accountID int64) []model.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := sortedByID(s.entries.rows, func(e model.Entry) int64 { return e.ID })
	return filter(all, func(e model.Entry) bool { return e.AccountID == accountID })
}

// EntriesForTransaction returns the linked entries of a transaction.
func (s *Store) EntriesForTransaction(txID int64) []model.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesForTransaction(txID)
}

func (s *Store) entriesForTransaction(txID int64) []model.Entry {
	all := sortedByID(s.entries.rows, func(e model.Entry) int64 { return e.ID })
	return filter(all, func(e model.Entry) bool { return e.TransactionID == txID })
}

// UpsertEntries writes entries back, inserting those with a zero ID.
func (s *Store) UpsertEntries(entries ...model.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertEntries(entries)
}

func (s *Store) upsertEntries(entries []model.Entry) {
	for _, e := range entries {
		if e.ID == 0 {
			e.ID = s.entrySeq.Next()
		}
		s.entrySeq.Observe(e.ID)
		s.entries.put(e.ID, e)
	}
}
