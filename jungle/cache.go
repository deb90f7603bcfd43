package jungle

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/nimiq-network/jungle-db/jdb"
)

// cachedBackend interposes an LRU over a backend's primary-key reads.
// Entries are invalidated when a change set lands and on truncation.
type cachedBackend struct {
	jdb.Backend
	cache *lru.Cache
}

// cachedPersistentBackend additionally forwards the combined-commit
// surface of a persistent backend.
type cachedPersistentBackend struct {
	cachedBackend
	inner jdb.PersistentBackend
}

func newCachedBackend(b jdb.Backend, size int) (jdb.Backend, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	cached := cachedBackend{Backend: b, cache: cache}
	if pb, ok := b.(jdb.PersistentBackend); ok {
		return &cachedPersistentBackend{cachedBackend: cached, inner: pb}, nil
	}
	return &cached, nil
}

func (c *cachedBackend) Get(key string) (interface{}, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.Backend.Get(key)
	if err != nil {
		return nil, err
	}
	if v != nil {
		c.cache.Add(key, v)
	}
	return v, nil
}

func (c *cachedBackend) invalidate(cs *jdb.ChangeSet) {
	if cs.Truncated {
		c.cache.Purge()
		return
	}
	for key := range cs.Removed {
		c.cache.Remove(key)
	}
	for key := range cs.Modified {
		c.cache.Remove(key)
	}
}

func (c *cachedBackend) Apply(cs *jdb.ChangeSet) error {
	c.invalidate(cs)
	return c.Backend.Apply(cs)
}

func (c *cachedBackend) Truncate() error {
	c.cache.Purge()
	return c.Backend.Truncate()
}

func (c *cachedPersistentBackend) Scope() jdb.AtomicScope { return c.inner.Scope() }

func (c *cachedPersistentBackend) ApplyCombined(cs *jdb.ChangeSet, batch jdb.Batch) error {
	c.invalidate(cs)
	return c.inner.ApplyCombined(cs, batch)
}

func (c *cachedPersistentBackend) Init(oldVersion, newVersion uint64) error {
	return c.inner.Init(oldVersion, newVersion)
}
