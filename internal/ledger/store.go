package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cleared-dev/basis/internal/id"
	"github.com/cleared-dev/basis/internal/model"
)

// Store is the in-memory ledger for any number of users. Records are
// returned by value; callers write changes back through the Store.
type Store struct {
	mu           sync.Mutex
	users        table[model.User]
	wallets      table[model.Wallet]
	accounts     table[model.Account]
	entries      table[model.Entry]
	transactions table[model.Transaction]
	investments  table[model.Investment]

	userSeq, walletSeq, accountSeq id.Sequence
	entrySeq, txSeq, invSeq        id.Sequence
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:        newTable[model.User](),
		wallets:      newTable[model.Wallet](),
		accounts:     newTable[model.Account](),
		entries:      newTable[model.Entry](),
		transactions: newTable[model.Transaction](),
		investments:  newTable[model.Investment](),
	}
}

// AddUser stores a user, assigning an ID when none is set.
func (s *Store) AddUser(u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.userSeq.Next()
	} else if _, exists := s.users.get(u.ID); exists {
		return model.User{}, fmt.Errorf("user %d already exists", u.ID)
	}
	s.userSeq.Observe(u.ID)
	if u.BaseCurrency == "" {
		u.BaseCurrency = "USD"
	}
	if u.Method == "" {
		u.Method = model.MethodFifo
	}
	s.users.put(u.ID, u)
	return u, nil
}

// UpdateUser replaces a user's settings. Changing how lots are pooled or
// ordered invalidates every computed gain of that user.
func (s *Store) UpdateUser(u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users.get(u.ID)
	if !ok {
		return fmt.Errorf("user %d: %w", u.ID, model.ErrNotFound)
	}
	s.users.put(u.ID, u)

	if old.Method == u.Method &&
		old.AccountBasedCostBasis == u.AccountBasedCostBasis &&
		old.RealizeExchangeGains == u.RealizeExchangeGains &&
		old.BaseCurrency == u.BaseCurrency {
		return nil
	}
	for txID, tx := range s.transactions.rows {
		if tx.UserID != u.ID {
			continue
		}
		tx.ClearGains()
		s.transactions.put(txID, tx)
		s.softDeleteFor(txID)
	}
	return nil
}

// User returns a user by ID.
func (s *Store) User(userID int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users.get(userID)
	if !ok {
		return model.User{}, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	return u, nil
}

// Users returns all users ordered by ID.
func (s *Store) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByID(s.users.rows, func(u model.User) int64 { return u.ID })
}

// EnsureWallet returns the user's wallet with the given name, creating it
// when missing.
func (s *Store) EnsureWallet(userID int64, name string) (model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users.get(userID); !ok {
		return model.Wallet{}, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Wallet{}, fmt.Errorf("wallet name is required")
	}
	for _, w := range s.wallets.rows {
		if w.UserID == userID && strings.EqualFold(w.Name, name) {
			return w, nil
		}
	}
	w := model.Wallet{ID: s.walletSeq.Next(), UserID: userID, Name: name}
	s.wallets.put(w.ID, w)
	return w, nil
}

// Wallet returns a wallet by ID.
func (s *Store) Wallet(walletID int64) (model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets.get(walletID)
	if !ok {
		return model.Wallet{}, fmt.Errorf("wallet %d: %w", walletID, model.ErrNotFound)
	}
	return w, nil
}

// Wallets returns the user's wallets ordered by ID.
func (s *Store) Wallets(userID int64) []model.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := sortedByID(s.wallets.rows, func(w model.Wallet) int64 { return w.ID })
	return filter(all, func(w model.Wallet) bool { return w.UserID == userID })
}

// EnsureAccount returns the account for (wallet, currency), creating it
// lazily on first reference.
func (s *Store) EnsureAccount(userID, walletID int64, currency string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets.get(walletID)
	if !ok || w.UserID != userID {
		return model.Account{}, fmt.Errorf("wallet %d of user %d: %w", walletID, userID, model.ErrNotFound)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return model.Account{}, fmt.Errorf("currency is required")
	}
	for _, a := range s.accounts.rows {
		if a.WalletID == walletID && a.Currency == currency {
			return a, nil
		}
	}
	a := model.Account{ID: s.accountSeq.Next(), UserID: userID, WalletID: walletID, Currency: currency}
	s.accounts.put(a.ID, a)
	return a, nil
}

// Account returns an account by ID.
func (s *Store) Account(accountID int64) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts.get(accountID)
	if !ok {
		return model.Account{}, fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
	}
	return a, nil
}

// Accounts returns the user's accounts ordered by ID.
func (s *Store) Accounts(userID int64) []model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := sortedByID(s.accounts.rows, func(a model.Account) int64 { return a.ID })
	return filter(all, func(a model.Account) bool { return a.UserID == userID })
}

// UpsertAccounts writes accounts back, typically after a balance update.
func (s *Store) UpsertAccounts(accounts ...model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.accountSeq.Observe(a.ID)
		s.accounts.put(a.ID, a)
	}
}

// Atomic runs fn as one unit: if fn returns an error every change it made
// through tx is undone. Other Store calls wait until the unit finishes.
func (s *Store) Atomic(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.begin()
	if err := fn(&Tx{s: s}); err != nil {
		s.rollback()
		return err
	}
	s.commit()
	return nil
}

func (s *Store) begin() {
	s.users.begin()
	s.wallets.begin()
	s.accounts.begin()
	s.entries.begin()
	s.transactions.begin()
	s.investments.begin()
}

func (s *Store) commit() {
	s.users.commit()
	s.wallets.commit()
	s.accounts.commit()
	s.entries.commit()
	s.transactions.commit()
	s.investments.commit()
}

func (s *Store) rollback() {
	s.users.rollback()
	s.wallets.rollback()
	s.accounts.rollback()
	s.entries.rollback()
	s.transactions.rollback()
	s.investments.rollback()
}

func sortedByID[T any](rows map[int64]T, key func(T) int64) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

func filter[T any](rows []T, keep func(T) bool) []T {
	out := rows[:0]
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
