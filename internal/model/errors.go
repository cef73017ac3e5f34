package model

import (
	"errors"
	"fmt"
)

var (
	// ErrStructural marks an invariant violation that aborts a whole run.
	ErrStructural = errors.New("structural invariant violated")
	// ErrTransactionVanished means a transaction disappeared mid-run; retry later.
	ErrTransactionVanished = errors.New("transaction vanished during run")
	// ErrNotFound is returned by lookups of missing records.
	ErrNotFound = errors.New("not found")
)

// InvariantError describes a structural violation.
type InvariantError struct {
	Invariant     string
	TransactionID int64
	Description   string
}

func (e *InvariantError) Error() string {
	if e.TransactionID != 0 {
		return fmt.Sprintf("%s: transaction %d: %s", e.Invariant, e.TransactionID, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Invariant, e.Description)
}

func (e *InvariantError) Unwrap() error {
	return ErrStructural
}
