package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nimiq-network/jungle-db/jdb"
)

// CombinedTransaction coordinates the atomic commit of transactions from
// distinct object stores of one database. Every input commits against its
// own store but is held back from flushing; once each of them reached the
// bottom of its chain unpinned, the coordinator validates all of them and
// applies every change set under a single backend batch. Any failure rolls
// every input back: all or none is observable.
type CombinedTransaction struct {
	mu        sync.Mutex
	txs       []*Transaction
	flushable map[*Transaction]bool
	done      bool
}

func newCombinedTransaction(txs []*Transaction) *CombinedTransaction {
	return &CombinedTransaction{
		txs:       txs,
		flushable: make(map[*Transaction]bool, len(txs)),
	}
}

// markFlushable records that tx reached the bottom of its store's chain.
// It reports whether every input is now flushable.
func (ct *CombinedTransaction) markFlushable(tx *Transaction) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.flushable[tx] = true
	return len(ct.flushable) == len(ct.txs) && !ct.done
}

func (ct *CombinedTransaction) allReady() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.flushable) == len(ct.txs) && !ct.done
}

// lane returns the flush lane the combined apply serializes on: the lane
// of the first store with a persistent backend, or the first store's lane.
func (ct *CombinedTransaction) lane() interface{ Push(func() error) error } {
	for _, t := range ct.txs {
		if _, ok := t.store.backend.(jdb.PersistentBackend); ok {
			return t.store.lane
		}
	}
	return ct.txs[0].store.lane
}

// Flush runs the combined apply on the flush lane.
func (ct *CombinedTransaction) Flush() error {
	return ct.lane().Push(ct.flushInLane)
}

// flushInLane performs the cross-store atomic apply. It must only run on
// the flush lane.
func (ct *CombinedTransaction) flushInLane() error {
	ct.mu.Lock()
	if ct.done {
		ct.mu.Unlock()
		return nil
	}
	ct.done = true
	ct.mu.Unlock()

	// preprocessing: capture change sets and validate unique indices
	// against every backend before anything is written
	sets := make([]*jdb.ChangeSet, len(ct.txs))
	for i, t := range ct.txs {
		cs, err := t.changeSet()
		if err != nil {
			ct.rollbackAll(StateAborted)
			return err
		}
		if err := validateUnique(t.store.backend, cs); err != nil {
			ct.rollbackAll(StateAborted)
			return err
		}
		sets[i] = cs
	}

	// one batch covers every persistent backend of the shared scope
	var scope jdb.AtomicScope
	var batch jdb.Batch
	for _, t := range ct.txs {
		if pb, ok := t.store.backend.(jdb.PersistentBackend); ok {
			scope = pb.Scope()
			break
		}
	}
	flushID := uuid.New()
	if scope != nil {
		if err := scope.BeginFlush(flushID[:]); err != nil {
			ct.rollbackAll(StateConflicted)
			return &jdb.BackendError{Op: "combined flush", Err: err, Retryable: true}
		}
		batch = scope.NewBatch()
		defer batch.Reset()
	}
	for i, t := range ct.txs {
		pb, ok := t.store.backend.(jdb.PersistentBackend)
		if !ok {
			continue
		}
		if err := pb.ApplyCombined(sets[i], batch); err != nil {
			if jdb.IsUniquenessViolation(err) {
				ct.rollbackAll(StateAborted)
				return err
			}
			ct.rollbackAll(StateConflicted)
			return &jdb.BackendError{Op: "combined flush", Err: err, Retryable: true}
		}
	}
	if batch != nil {
		if err := batch.Write(); err != nil {
			ct.rollbackAll(StateConflicted)
			return &jdb.BackendError{Op: "combined flush", Err: err, Retryable: true}
		}
	}
	if scope != nil {
		if err := scope.EndFlush(flushID[:]); err != nil {
			return &jdb.BackendError{Op: "combined flush", Err: err, Retryable: false}
		}
	}

	// volatile stores apply after the persistent batch landed
	for i, t := range ct.txs {
		if _, ok := t.store.backend.(jdb.PersistentBackend); ok {
			continue
		}
		if err := t.store.backend.Apply(sets[i]); err != nil {
			return err
		}
	}

	// prune every store's chain and let it continue flushing
	for _, t := range ct.txs {
		next, err := t.store.popFlushed(t)
		if err != nil {
			return err
		}
		if next != nil {
			if err := next.flushInLane(); err != nil {
				return err
			}
		}
	}
	return nil
}

// rollbackAll rolls every committed input back out of its store's chain.
func (ct *CombinedTransaction) rollbackAll(state State) {
	for _, t := range ct.txs {
		if t.State() == StateCommitted {
			t.store.rollbackCommitted(t, state)
		}
	}
}

// CommitCombined atomically commits transactions of distinct object stores
// belonging to one database; volatile stores belong to any. It returns
// false without an error when an optimistic conflict aborted the group.
func CommitCombined(txs ...*Transaction) (bool, error) {
	if len(txs) == 0 {
		return true, nil
	}
	seen := make(map[*ObjectStore]struct{}, len(txs))
	var scopeID uint64
	var hasScope bool
	for _, t := range txs {
		if t.parentTx != nil {
			return false, jdb.ErrTxNested
		}
		if t.State() != StateOpen {
			return false, jdb.ErrNotOpen
		}
		if _, dup := seen[t.store]; dup {
			return false, jdb.ErrDuplicateStore
		}
		seen[t.store] = struct{}{}
		if pb, ok := t.store.backend.(jdb.PersistentBackend); ok {
			sid := pb.Scope().ScopeID()
			if hasScope && sid != scopeID {
				return false, jdb.ErrCrossDatabase
			}
			scopeID, hasScope = sid, true
		}
	}

	ct := newCombinedTransaction(txs)
	for _, t := range txs {
		t.dependency = ct
	}

	var commitErr error
	conflicted := false
	for _, t := range txs {
		ok, err := t.Commit()
		if err != nil {
			commitErr = err
			break
		}
		if !ok {
			conflicted = true
			break
		}
	}
	if commitErr != nil || conflicted {
		for _, t := range txs {
			switch t.State() {
			case StateOpen:
				_ = t.Abort()
			case StateCommitted:
				t.store.rollbackCommitted(t, StateAborted)
			}
		}
		return false, commitErr
	}

	if ct.allReady() {
		if err := ct.Flush(); err != nil {
			return false, err
		}
	}
	return true, nil
}
