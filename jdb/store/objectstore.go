package store

import (
	"sync"
	"sync/atomic"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/keypath"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
	"github.com/nimiq-network/jungle-db/jdb/memdb"
	"github.com/nimiq-network/jungle-db/jdb/synchronizer"
)

// UpgradeCondition decides whether a structural change applies on a
// version bump. nil applies a store deletion on any bump, and installs
// missing stores and indices without rebuilding existing ones; Always
// forces the change on a bump, Never suppresses it.
type UpgradeCondition func(oldVersion, newVersion uint64) bool

// Always forces a structural change on any version bump.
func Always(oldVersion, newVersion uint64) bool { return true }

// Never suppresses a structural change.
func Never(oldVersion, newVersion uint64) bool { return false }

// IndexOptions carries the optional properties of CreateIndex.
type IndexOptions struct {
	MultiEntry       bool
	Unique           bool
	UpgradeCondition UpgradeCondition
}

// IndexDecl is a declared index awaiting installation on connect.
type IndexDecl struct {
	Def              jdb.IndexDef
	UpgradeCondition UpgradeCondition
}

// ObjectStore is the user-facing store over one backend. It owns the open
// transactions, the chain of committed-but-unflushed transactions, assigns
// parents, detects commit conflicts and drives flushes once the bottom of
// the chain has no outstanding reader.
type ObjectStore struct {
	jdb.ReaderOps

	name    string
	backend jdb.Backend
	lane    *synchronizer.Synchronizer

	mu        sync.RWMutex
	stateID   uint64
	txCounter uint64
	stack     []*Transaction          // committed, unflushed, oldest first
	readers   map[uint64]*Transaction // open transactions and snapshot views

	decls  []IndexDecl
	closed bool
}

var _ jdb.Reader = (*ObjectStore)(nil)

// New creates an unbound store; Bind attaches the backend on connect.
func New(name string) *ObjectStore {
	s := &ObjectStore{
		name:    name,
		readers: make(map[uint64]*Transaction),
	}
	s.ReaderOps = jdb.ReaderOps{Source: s}
	return s
}

// NewVolatile creates a store bound to a fresh in-memory backend. It
// belongs to no particular database and may join any combined commit.
func NewVolatile() *ObjectStore {
	s := New("")
	s.Bind(memdb.New(), synchronizer.New())
	return s
}

// Bind attaches the backend and the database's flush lane.
func (s *ObjectStore) Bind(b jdb.Backend, lane *synchronizer.Synchronizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
	s.lane = lane
}

// Name returns the store name.
func (s *ObjectStore) Name() string { return s.name }

// Backend exposes the bound backend, nil before connect.
func (s *ObjectStore) Backend() jdb.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func (s *ObjectStore) nextTxID() uint64 {
	return atomic.AddUint64(&s.txCounter, 1)
}

// currentView resolves the committed state reads go through: the top of
// the committed chain, or the backend itself.
func (s *ObjectStore) currentView() jdb.Reader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentViewLocked()
}

func (s *ObjectStore) currentViewLocked() jdb.Reader {
	if n := len(s.stack); n > 0 {
		return s.stack[n-1]
	}
	return s.backend
}

/*
 * Reads
 */

func (s *ObjectStore) Get(key string) (interface{}, error) {
	if s.Backend() == nil {
		return nil, jdb.ErrNotConnected
	}
	return s.currentView().Get(key)
}

func (s *ObjectStore) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.EntryIterator {
	if s.Backend() == nil {
		return jdb.NewErrEntryIterator(jdb.ErrNotConnected)
	}
	return s.currentView().NewIterator(ascending, r)
}

func (s *ObjectStore) Index(name string) (jdb.Index, error) {
	if s.Backend() == nil {
		return nil, jdb.ErrNotConnected
	}
	return s.currentView().Index(name)
}

func (s *ObjectStore) IndexNames() []string {
	b := s.Backend()
	if b == nil {
		names := make([]string, 0, len(s.decls))
		for _, d := range s.decls {
			names = append(names, d.Def.Name)
		}
		return names
	}
	return b.IndexNames()
}

/*
 * Transactions
 */

// Transaction opens a transaction whose view is fixed to the store's
// current committed state. The watchdog flag is accepted for interface
// compatibility and has no effect.
func (s *ObjectStore) Transaction(enableWatchdog ...bool) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil, jdb.ErrNotConnected
	}
	if s.closed {
		return nil, jdb.ErrClosed
	}
	var parent *Transaction
	if n := len(s.stack); n > 0 {
		parent = s.stack[n-1]
	}
	t := newTransaction(s, nil, parent, s.stateID)
	s.readers[t.id] = t
	return t, nil
}

// Snapshot returns an abortable read view pinned to the current committed
// state. Until aborted it keeps that state's transactions in memory.
func (s *ObjectStore) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil, jdb.ErrNotConnected
	}
	var parent *Transaction
	if n := len(s.stack); n > 0 {
		parent = s.stack[n-1]
	}
	t := newTransaction(s, nil, parent, s.stateID)
	s.readers[t.id] = t
	return &Snapshot{inner: t}, nil
}

// snapshotOf captures a transaction's current view into an independent
// snapshot: the buffered deltas are copied, the parent reference shared.
func (s *ObjectStore) snapshotOf(src *Transaction) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTransaction(s, nil, src.parentCommitted, src.baseStateID)
	t.truncated = src.truncated
	for key := range src.removed {
		t.removed[key] = struct{}{}
	}
	it := src.buffer.NewIterator(true, nil)
	defer it.Release()
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			continue
		}
		if err := t.buffer.Put(it.Key(), value); err != nil {
			panic(err) // copying a consistent buffer cannot violate an index
		}
	}
	s.readers[t.id] = t
	return &Snapshot{inner: t}
}

/*
 * Commit protocol
 */

func (s *ObjectStore) commit(t *Transaction) (bool, error) {
	s.mu.Lock()
	if t.state != StateOpen {
		s.mu.Unlock()
		return false, jdb.ErrNotOpen
	}
	if t.baseStateID != s.stateID {
		t.state = StateConflicted
		delete(s.readers, t.id)
		s.mu.Unlock()
		// the conflicted reader may have pinned the chain
		_ = s.maybeFlush()
		return false, nil
	}
	t.state = StateCommitted
	s.stateID++
	delete(s.readers, t.id)
	s.stack = append(s.stack, t)
	s.mu.Unlock()

	err := s.maybeFlush()
	ok := t.State() == StateCommitted || t.State() == StateFlushed
	return ok, err
}

func (s *ObjectStore) abort(t *Transaction) error {
	s.mu.Lock()
	if t.state != StateOpen {
		s.mu.Unlock()
		return jdb.ErrNotOpen
	}
	t.state = StateAborted
	delete(s.readers, t.id)
	s.mu.Unlock()
	return s.maybeFlush()
}

// maybeFlush drains the committed chain on the database's flush lane. A
// combined transaction that became complete is flushed after the lane op.
func (s *ObjectStore) maybeFlush() error {
	var ready *CombinedTransaction
	err := s.lane.Push(func() error {
		var err error
		ready, err = s.flushChain()
		return err
	})
	if ready != nil {
		if ferr := ready.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

// flushChain flushes committed transactions bottom-up until the chain is
// empty, the bottom is pinned by a reader, or the bottom belongs to a
// combined transaction that is not complete yet.
func (s *ObjectStore) flushChain() (*CombinedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushChainLocked()
}

func (s *ObjectStore) flushChainLocked() (*CombinedTransaction, error) {
	for len(s.stack) > 0 {
		if s.pinnedLocked() {
			return nil, nil
		}
		bottom := s.stack[0]
		if bottom.dependency != nil {
			if bottom.dependency.markFlushable(bottom) {
				return bottom.dependency, nil
			}
			return nil, nil
		}
		cs, err := bottom.changeSet()
		if err != nil {
			return nil, err
		}
		if err := validateUnique(s.backend, cs); err != nil {
			s.rollbackChainLocked(StateAborted)
			return nil, err
		}
		if err := s.applyLocked(cs); err != nil {
			if jdb.IsUniquenessViolation(err) {
				s.rollbackChainLocked(StateAborted)
				return nil, err
			}
			s.rollbackChainLocked(StateConflicted)
			return nil, &jdb.BackendError{Op: "flush", Err: err, Retryable: true}
		}
		bottom.state = StateFlushed
		s.stack = s.stack[1:]
		s.reparentLocked(bottom)
	}
	return nil, nil
}

// pinnedLocked reports whether any open reader still observes the backend
// state below the chain's bottom.
func (s *ObjectStore) pinnedLocked() bool {
	for _, r := range s.readers {
		if r.parentCommitted == nil {
			return true
		}
	}
	return false
}

// applyLocked writes a change set to the backend, atomically.
func (s *ObjectStore) applyLocked(cs *jdb.ChangeSet) error {
	if pb, ok := s.backend.(jdb.PersistentBackend); ok {
		batch := pb.Scope().NewBatch()
		defer batch.Reset()
		if err := pb.ApplyCombined(cs, batch); err != nil {
			return err
		}
		return batch.Write()
	}
	return s.backend.Apply(cs)
}

// reparentLocked reattaches everything parented on a flushed transaction
// to the backend, whose state now includes it.
func (s *ObjectStore) reparentLocked(flushed *Transaction) {
	for _, r := range s.readers {
		if r.parentCommitted == flushed {
			r.parentCommitted = nil
		}
	}
	for _, c := range s.stack {
		if c.parentCommitted == flushed {
			c.parentCommitted = nil
		}
	}
}

// rollbackChainLocked discards the whole committed chain after a flush
// failure. The bottom takes the given state, everything layered above it
// conflicts, and every outstanding commit is poisoned.
func (s *ObjectStore) rollbackChainLocked(bottomState State) {
	for i, t := range s.stack {
		if i == 0 {
			t.state = bottomState
		} else {
			t.state = StateConflicted
		}
	}
	s.stack = nil
	s.stateID++
}

// rollbackCommitted rolls one committed transaction (and everything
// layered above it) back out of the chain, for combined-commit failures.
func (s *ObjectStore) rollbackCommitted(t *Transaction, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := -1
	for i, c := range s.stack {
		if c == t {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	t.state = state
	for _, c := range s.stack[pos+1:] {
		c.state = StateConflicted
	}
	s.stack = s.stack[:pos]
	s.stateID++
}

// popFlushed removes a combined transaction's bottom after the
// coordinator applied it, then continues the chain.
func (s *ObjectStore) popFlushed(t *Transaction) (*CombinedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stack) == 0 || s.stack[0] != t {
		return nil, nil
	}
	t.state = StateFlushed
	s.stack = s.stack[1:]
	s.reparentLocked(t)
	return s.flushChainLocked()
}

/*
 * Direct operations
 */

// Put stores value under key through an implicit transaction.
func (s *ObjectStore) Put(key string, value interface{}) error {
	for {
		t, err := s.Transaction()
		if err != nil {
			return err
		}
		if err := t.Put(key, value); err != nil {
			_ = t.Abort()
			return err
		}
		ok, err := t.Commit()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Remove deletes the record under key through an implicit transaction.
func (s *ObjectStore) Remove(key string) error {
	for {
		t, err := s.Transaction()
		if err != nil {
			return err
		}
		if err := t.Remove(key); err != nil {
			_ = t.Abort()
			return err
		}
		ok, err := t.Commit()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Truncate removes every record through an implicit transaction.
func (s *ObjectStore) Truncate() error {
	for {
		t, err := s.Transaction()
		if err != nil {
			return err
		}
		if err := t.Truncate(); err != nil {
			_ = t.Abort()
			return err
		}
		ok, err := t.Commit()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

/*
 * Schema
 */

// CreateIndex declares a secondary index. On a volatile store it installs
// immediately; on a persistent store the database applies it on connect,
// honoring the upgrade condition.
func (s *ObjectStore) CreateIndex(name string, kp keypath.KeyPath, opts IndexOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def := jdb.IndexDef{
		Name:       name,
		KeyPath:    kp,
		MultiEntry: opts.MultiEntry,
		Unique:     opts.Unique,
	}
	if s.backend != nil {
		if _, persistent := s.backend.(jdb.PersistentBackend); persistent {
			return jdb.ErrConnected
		}
		return s.backend.CreateIndex(def)
	}
	s.decls = append(s.decls, IndexDecl{Def: def, UpgradeCondition: opts.UpgradeCondition})
	return nil
}

// Decls returns the declared indices awaiting connect.
func (s *ObjectStore) Decls() []IndexDecl {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decls
}

// Close marks the store unusable for new transactions.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}
