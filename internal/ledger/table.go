package ledger

// table is an id-keyed record set. While an atomic unit is open it keeps
// the first prior version of every touched row so the unit can be undone.
type table[T any] struct {
	rows map[int64]T
	undo map[int64]prior[T]
}

type prior[T any] struct {
	row     T
	existed bool
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[int64]T)}
}

func (t *table[T]) get(id int64) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) put(id int64, row T) {
	t.save(id)
	t.rows[id] = row
}

func (t *table[T]) remove(id int64) {
	t.save(id)
	delete(t.rows, id)
}

func (t *table[T]) save(id int64) {
	if t.undo == nil {
		return
	}
	if _, seen := t.undo[id]; seen {
		return
	}
	row, ok := t.rows[id]
	t.undo[id] = prior[T]{row: row, existed: ok}
}

func (t *table[T]) begin() {
	t.undo = make(map[int64]prior[T])
}

func (t *table[T]) commit() {
	t.undo = nil
}

func (t *table[T]) rollback() {
	for id, p := range t.undo {
		if p.existed {
			t.rows[id] = p.row
		} else {
			delete(t.rows, id)
		}
	}
	t.undo = nil
}
