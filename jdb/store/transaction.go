package store

import (
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
	"github.com/nimiq-network/jungle-db/jdb/memdb"
)

// Transaction is a snapshot-isolated, optimistic mutation layer over a
// parent: the object store's committed state, or another open transaction
// for nested transactions. Writes stay in the transaction's buffer until a
// successful commit; reads overlay the buffer on the parent's view, which
// is fixed at creation time.
type Transaction struct {
	jdb.ReaderOps

	id    uint64
	store *ObjectStore

	// parentTx is set for nested transactions; parentCommitted points into
	// the store's committed chain and is nil when the parent is the
	// backend itself. Reparenting on flush updates parentCommitted.
	parentTx        *Transaction
	parentCommitted *Transaction
	baseStateID     uint64

	buffer    *memdb.Backend // modified records with their index entries
	removed   map[string]struct{}
	originals map[string]interface{} // parent-visible value at first touch
	truncated bool

	state      State
	dependency *CombinedTransaction

	// nestedOpen counts open children; localStateID bumps whenever a child
	// merges, so sibling children commit optimistically like root siblings.
	nestedOpen   int
	localStateID uint64
}

var _ jdb.Reader = (*Transaction)(nil)

func newTransaction(s *ObjectStore, parentTx, parentCommitted *Transaction, baseStateID uint64) *Transaction {
	t := &Transaction{
		id:              s.nextTxID(),
		store:           s,
		parentTx:        parentTx,
		parentCommitted: parentCommitted,
		baseStateID:     baseStateID,
		buffer:          memdb.New(),
		removed:         make(map[string]struct{}),
		originals:       make(map[string]interface{}),
		state:           StateOpen,
	}
	t.ReaderOps = jdb.ReaderOps{Source: t}
	for _, name := range s.backend.IndexNames() {
		ix, err := s.backend.Index(name)
		if err != nil {
			continue
		}
		_ = t.buffer.CreateIndex(ix.Definition())
	}
	return t
}

// State returns the transaction's lifecycle state.
func (t *Transaction) State() State {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.state
}

// parentView resolves the view the transaction overlays.
func (t *Transaction) parentView() jdb.Reader {
	if t.parentTx != nil {
		return t.parentTx
	}
	if t.parentCommitted != nil {
		return t.parentCommitted
	}
	return t.store.backend
}

/*
 * Reads
 */

// Get returns the record visible at this level: the buffer first, then the
// parent unless the key is removed or the transaction truncated.
func (t *Transaction) Get(key string) (interface{}, error) {
	if v, ok := t.buffer.GetOK(key); ok {
		return v, nil
	}
	if t.truncated {
		return nil, nil
	}
	if _, gone := t.removed[key]; gone {
		return nil, nil
	}
	return t.parentView().Get(key)
}

// GetSync resolves key from in-memory state alone and never touches the
// persistent backend. The second result reports whether the answer could
// be decided; false means only the backend knows.
func (t *Transaction) GetSync(key string) (interface{}, bool) {
	level := t
	for {
		if v, ok := level.buffer.GetOK(key); ok {
			return v, true
		}
		if level.truncated {
			return nil, true
		}
		if _, gone := level.removed[key]; gone {
			return nil, true
		}
		switch {
		case level.parentTx != nil:
			level = level.parentTx
		case level.parentCommitted != nil:
			level = level.parentCommitted
		default:
			if mem, ok := t.store.backend.(interface {
				GetOK(key string) (interface{}, bool)
			}); ok {
				v, _ := mem.GetOK(key)
				return v, true
			}
			return nil, false
		}
	}
}

// NewIterator iterates the merged view: buffer entries overlaid on the
// parent's entries minus removals, or the buffer alone after a truncate.
func (t *Transaction) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.EntryIterator {
	own := t.buffer.NewIterator(ascending, r)
	if t.truncated {
		return own
	}
	return newMergedEntryIterator(own, t.parentView().NewIterator(ascending, r), t.hides, ascending)
}

// hides reports whether a parent entry under key must not shine through.
func (t *Transaction) hides(key string) bool {
	if t.truncated {
		return true
	}
	if _, gone := t.removed[key]; gone {
		return true
	}
	_, modified := t.buffer.GetOK(key)
	return modified
}

// Index returns the overlay view of the named index.
func (t *Transaction) Index(name string) (jdb.Index, error) {
	local, err := t.buffer.Index(name)
	if err != nil {
		return nil, err
	}
	return newTransactionIndex(t, name, local), nil
}

// IndexNames lists the indices available on this transaction.
func (t *Transaction) IndexNames() []string {
	return t.buffer.IndexNames()
}

// Snapshot returns an abortable read view of the transaction's current
// state, unaffected by later writes to or the closing of the transaction.
func (t *Transaction) Snapshot() *Snapshot {
	return t.store.snapshotOf(t)
}

/*
 * Writes
 */

// Put stores value under key. Unique indices are validated against the
// full visible state including the persistent backend; a violation leaves
// the transaction open and must be answered with Abort.
func (t *Transaction) Put(key string, value interface{}) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen {
		return jdb.ErrNotOpen
	}
	if err := t.checkUniqueAgainstChain(key, value); err != nil {
		return err
	}
	return t.putLocked(key, value, true)
}

// PutSync stores value under key without consulting the persistent
// backend. Unique indices are enforced against the in-memory buffer only;
// conflicts with stored state surface when the transaction flushes.
func (t *Transaction) PutSync(key string, value interface{}) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen {
		return jdb.ErrNotOpen
	}
	return t.putLocked(key, value, false)
}

func (t *Transaction) putLocked(key string, value interface{}, captureOriginal bool) error {
	if _, touched := t.originals[key]; !touched {
		if captureOriginal {
			original, err := t.parentView().Get(key)
			if err != nil {
				return err
			}
			t.originals[key] = original
		} else {
			t.originals[key] = nil
		}
	}
	if err := t.buffer.Put(key, value); err != nil {
		return err
	}
	delete(t.removed, key)
	return nil
}

// Remove deletes the record under key.
func (t *Transaction) Remove(key string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen {
		return jdb.ErrNotOpen
	}
	return t.removeLocked(key, true)
}

// RemoveSync deletes the record under key without consulting the
// persistent backend.
func (t *Transaction) RemoveSync(key string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen {
		return jdb.ErrNotOpen
	}
	return t.removeLocked(key, false)
}

func (t *Transaction) removeLocked(key string, captureOriginal bool) error {
	if _, touched := t.originals[key]; !touched {
		if captureOriginal {
			original, err := t.parentView().Get(key)
			if err != nil {
				return err
			}
			t.originals[key] = original
		} else {
			t.originals[key] = nil
		}
	}
	_ = t.buffer.Remove(key)
	if !t.truncated {
		t.removed[key] = struct{}{}
	}
	return nil
}

// Truncate empties the visible state of the transaction.
func (t *Transaction) Truncate() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen {
		return jdb.ErrNotOpen
	}
	t.truncated = true
	_ = t.buffer.Truncate()
	t.removed = make(map[string]struct{})
	t.originals = make(map[string]interface{})
	return nil
}

// checkUniqueAgainstChain validates that storing value under key keeps
// every unique index single-valued across the whole visible chain.
func (t *Transaction) checkUniqueAgainstChain(key string, value interface{}) error {
	for _, name := range t.buffer.IndexNames() {
		local, err := t.buffer.Index(name)
		if err != nil {
			return err
		}
		def := local.Definition()
		if !def.Unique {
			continue
		}
		view := newTransactionIndex(t, name, local)
		for _, sec := range jdb.SecondaryKeys(def, value) {
			holder, ok, err := indexHolder(view, sec)
			if err != nil {
				return err
			}
			if ok && holder != key {
				return newUniquenessViolation(def.Name, sec, key, holder)
			}
		}
	}
	return nil
}

/*
 * Nesting
 */

// Transaction opens a child transaction layered on this one. The parent
// stops accepting direct writes until every child closed.
func (t *Transaction) Transaction(enableWatchdog ...bool) (*Transaction, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen && t.state != StateNested {
		return nil, jdb.ErrNotOpen
	}
	child := newTransaction(t.store, t, nil, t.localStateID)
	t.nestedOpen++
	t.state = StateNested
	return child, nil
}

func (t *Transaction) childClosed() {
	t.nestedOpen--
	if t.nestedOpen == 0 && t.state == StateNested {
		t.state = StateOpen
	}
}

// mergeChild folds a committing child's deltas into this transaction.
func (t *Transaction) mergeChild(child *Transaction) error {
	if child.truncated {
		t.truncated = true
		_ = t.buffer.Truncate()
		t.removed = make(map[string]struct{})
	}
	for key := range child.removed {
		if _, touched := t.originals[key]; !touched {
			t.originals[key] = child.originals[key]
		}
		_ = t.buffer.Remove(key)
		if !t.truncated {
			t.removed[key] = struct{}{}
		}
	}
	it := child.buffer.NewIterator(true, nil)
	defer it.Release()
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			return err
		}
		key := it.Key()
		if _, touched := t.originals[key]; !touched {
			t.originals[key] = child.originals[key]
		}
		if err := t.buffer.Put(key, value); err != nil {
			return err
		}
		delete(t.removed, key)
	}
	t.localStateID++
	return nil
}

/*
 * Closing
 */

// Commit publishes the transaction. It returns false and flips the state
// to CONFLICTED when a sibling already advanced the parent; the buffered
// changes are discarded in that case.
func (t *Transaction) Commit() (bool, error) {
	if t.parentTx != nil {
		return t.commitNested()
	}
	return t.store.commit(t)
}

func (t *Transaction) commitNested() (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.state != StateOpen {
		return false, jdb.ErrNotOpen
	}
	parent := t.parentTx
	if parent.localStateID != t.baseStateID {
		t.state = StateConflicted
		parent.childClosed()
		return false, nil
	}
	if err := parent.mergeChild(t); err != nil {
		return false, err
	}
	t.state = StateCommitted
	parent.childClosed()
	return true, nil
}

// Abort discards the buffer and releases the transaction.
func (t *Transaction) Abort() error {
	if t.parentTx != nil {
		t.store.mu.Lock()
		if t.state != StateOpen {
			t.store.mu.Unlock()
			return jdb.ErrNotOpen
		}
		t.state = StateAborted
		t.parentTx.childClosed()
		t.store.mu.Unlock()
		return nil
	}
	return t.store.abort(t)
}

// changeSet captures the transaction's net effect for backend application.
func (t *Transaction) changeSet() (*jdb.ChangeSet, error) {
	cs := &jdb.ChangeSet{
		Truncated: t.truncated,
		Modified:  make(map[string]interface{}),
		Removed:   make(map[string]struct{}, len(t.removed)),
	}
	for key := range t.removed {
		cs.Removed[key] = struct{}{}
	}
	it := t.buffer.NewIterator(true, nil)
	defer it.Release()
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			return nil, err
		}
		cs.Modified[it.Key()] = value
	}
	return cs, nil
}
