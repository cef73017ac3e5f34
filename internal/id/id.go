package id

import (
	"sync"

	"github.com/google/uuid"
)

// Sequence hands out increasing int64 IDs. The zero value starts at 1.
type Sequence struct {
	mu   sync.Mutex
	last int64
}

// Next returns the next unused ID.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Observe records an ID assigned elsewhere so Next never reuses it.
func (s *Sequence) Observe(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last {
		s.last = id
	}
}

// NewToken returns a random opaque token, used for lock owners and run IDs.
func NewToken() string {
	return uuid.NewString()
}
