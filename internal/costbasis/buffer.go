package costbasis

import (
	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/model"
)

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 500

// buffer collects investment and gain writes and flushes them in batches.
// A pool with buffered writes is flushed before it is queried again.
type buffer struct {
	store *ledger.Store
	size  int

	invs  map[int64]model.Investment
	order []int64
	gains []ledger.Gains
	dirty map[string]bool

	flushes int
}

func newBuffer(store *ledger.Store, size int) *buffer {
	if size <= 0 {
		size = DefaultBatchSize
	}
	b := &buffer{store: store, size: size}
	b.reset()
	return b
}

func (b *buffer) reset() {
	b.invs = make(map[int64]model.Investment)
	b.order = nil
	b.gains = nil
	b.dirty = make(map[string]bool)
}

func (b *buffer) putInvestment(inv model.Investment) error {
	if _, seen := b.invs[inv.ID]; !seen {
		b.order = append(b.order, inv.ID)
	}
	b.invs[inv.ID] = inv
	b.dirty[inv.PoolName] = true
	return b.maybeFlush()
}

func (b *buffer) putGains(g ledger.Gains) error {
	b.gains = append(b.gains, g)
	return b.maybeFlush()
}

// investment returns the latest version of an investment, buffered or stored.
func (b *buffer) investment(invID int64) (model.Investment, error) {
	if inv, ok := b.invs[invID]; ok {
		return inv, nil
	}
	return b.store.Investment(invID)
}

// beforeQuery flushes when the pool has unwritten changes.
func (b *buffer) beforeQuery(pool string) error {
	if b.dirty[pool] {
		return b.flush()
	}
	return nil
}

func (b *buffer) maybeFlush() error {
	if len(b.order)+len(b.gains) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *buffer) flush() error {
	if len(b.order) == 0 && len(b.gains) == 0 {
		return nil
	}
	invs := make([]model.Investment, 0, len(b.order))
	for _, invID := range b.order {
		invs = append(invs, b.invs[invID])
	}
	b.store.UpsertInvestments(invs...)
	if err := b.store.SetGains(b.gains...); err != nil {
		return err
	}
	b.flushes++
	b.reset()
	return nil
}
