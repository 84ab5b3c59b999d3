package hashsmith

import (
	"iter"
	"sync/atomic"
)

// minRobinHoodCapacity keeps computeMaxLoad below the slot count.
const minRobinHoodCapacity = 2

// RobinHoodMap is a single-threaded open-addressing hash map using
// Robin-Hood probing and backward-shift deletion.
//
// Every slot records its displacement: 0 for an empty slot, d+1 for an
// entry d steps past its home slot (hash & mask). All probe sequences
// share the successor idx -> idx+step of the table's probe cycle, so an
// entry's distance to its home is well defined and deletion can shift the
// following chain back by one step without leaving tombstones.
//
// The concurrency model matches SwissMap: racing readers never crash or
// spin, and must validate what they read.
type RobinHoodMap[K comparable, V any] struct {
	_ noCopy
	tableBase[K, V]
	table atomic.Pointer[robinHoodTable[K, V]]
}

type robinHoodTable[K comparable, V any] struct {
	dist    []atomic.Uint32
	slots   []atomic.Pointer[entry[K, V]]
	cycle   probeCycle
	maxLoad int
}

func newRobinHoodTable[K comparable, V any](capacity int, lf float64) *robinHoodTable[K, V] {
	return &robinHoodTable[K, V]{
		dist:    make([]atomic.Uint32, capacity),
		slots:   make([]atomic.Pointer[entry[K, V]], capacity),
		cycle:   newProbeCycle(capacity),
		maxLoad: computeMaxLoad(capacity, lf),
	}
}

// NewRobinHoodMap creates a RobinHoodMap. It accepts the same options as
// NewSwissMap; WithScanStrategy has no effect.
func NewRobinHoodMap[K comparable, V any](options ...func(*MapConfig)) (*RobinHoodMap[K, V], error) {
	return newRobinHoodMapFromConfig[K, V](newMapConfig(options), nil)
}

func newRobinHoodMapFromConfig[K comparable, V any](cfg *MapConfig, hasher *keyHasher[K]) (*RobinHoodMap[K, V], error) {
	base, err := newTableBase[K, V](cfg, hasher)
	if err != nil {
		return nil, err
	}
	m := &RobinHoodMap[K, V]{tableBase: base}
	capacity := ceilingPowerOfTwo(max(cfg.capacity, minRobinHoodCapacity))
	m.table.Store(newRobinHoodTable[K, V](capacity, m.loadFactor))
	return m, nil
}

// Capacity returns the current slot count.
func (m *RobinHoodMap[K, V]) Capacity() int {
	return len(m.table.Load().slots)
}

// Get returns the value stored for key.
func (m *RobinHoodMap[K, V]) Get(key K) (value V, ok bool) {
	return m.GetWithHash(key, m.Hash(key))
}

// GetWithHash is Get with a hash precomputed by Hash.
func (m *RobinHoodMap[K, V]) GetWithHash(key K, hash uint32) (value V, ok bool) {
	if _, e := m.find(m.table.Load(), key, hash); e != nil {
		return e.value, true
	}
	return
}

// ContainsKey reports whether key is present.
func (m *RobinHoodMap[K, V]) ContainsKey(key K) bool {
	return m.ContainsKeyWithHash(key, m.Hash(key))
}

// ContainsKeyWithHash is ContainsKey with a precomputed hash.
func (m *RobinHoodMap[K, V]) ContainsKeyWithHash(key K, hash uint32) bool {
	_, e := m.find(m.table.Load(), key, hash)
	return e != nil
}

// Put maps key to value and returns the value it replaced, if any.
func (m *RobinHoodMap[K, V]) Put(key K, value V) (previous V, loaded bool) {
	return m.PutWithHash(key, value, m.Hash(key))
}

// PutWithHash is Put with a precomputed hash.
func (m *RobinHoodMap[K, V]) PutWithHash(key K, value V, hash uint32) (previous V, loaded bool) {
	t := m.table.Load()
	if idx, e := m.find(t, key, hash); e != nil {
		t.slots[idx].Store(&entry[K, V]{key: key, value: value})
		return e.value, true
	}
	if m.size+1 > t.maxLoad {
		t = m.grow(t)
	}
	t.insertNew(&entry[K, V]{key: key, value: value}, hash)
	m.size++
	return
}

// Remove deletes key and returns the value it held, if any.
func (m *RobinHoodMap[K, V]) Remove(key K) (previous V, removed bool) {
	return m.RemoveWithHash(key, m.Hash(key))
}

// RemoveWithHash is Remove with a precomputed hash.
func (m *RobinHoodMap[K, V]) RemoveWithHash(key K, hash uint32) (previous V, removed bool) {
	t := m.table.Load()
	idx, e := m.find(t, key, hash)
	if e == nil {
		return
	}
	// Backward shift: pull each successor one step closer to its home until
	// the chain ends at an empty slot or an entry already at home.
	cur := idx
	for {
		next := t.cycle.next(cur)
		d := t.dist[next].Load()
		if d <= 1 {
			break
		}
		t.slots[cur].Store(t.slots[next].Load())
		t.dist[cur].Store(d - 1)
		cur = next
	}
	t.dist[cur].Store(0)
	t.slots[cur].Store(nil)
	m.size--
	return e.value, true
}

// ContainsValue reports whether any key maps to value. It scans every slot.
func (m *RobinHoodMap[K, V]) ContainsValue(value V) bool {
	t := m.table.Load()
	for i := range t.slots {
		if e := t.slots[i].Load(); e != nil && m.valEqual(e.value, value) {
			return true
		}
	}
	return false
}

// Clear removes every mapping and keeps the current capacity.
func (m *RobinHoodMap[K, V]) Clear() {
	t := m.table.Load()
	m.table.Store(newRobinHoodTable[K, V](len(t.slots), m.loadFactor))
	m.size = 0
}

// Range calls yield for each mapping until it returns false.
func (m *RobinHoodMap[K, V]) Range(yield func(key K, value V) bool) {
	t := m.table.Load()
	for i := range len(t.slots) {
		if e := t.slots[t.cycle.indexAt(i)].Load(); e != nil {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// All returns an iterator over every mapping.
func (m *RobinHoodMap[K, V]) All() iter.Seq2[K, V] {
	return all(m.Range)
}

// MaxDisplacement returns the largest distance between an entry and its
// home slot. No lookup probes further than this.
func (m *RobinHoodMap[K, V]) MaxDisplacement() int {
	return m.table.Load().maxDisplacement()
}

// Stats returns a diagnostic snapshot of the table.
func (m *RobinHoodMap[K, V]) Stats() TableStats {
	t := m.table.Load()
	return TableStats{
		Capacity:        len(t.slots),
		Size:            m.size,
		MaxLoad:         t.maxLoad,
		Growths:         m.growths,
		MaxDisplacement: t.maxDisplacement(),
	}
}

// find walks the probe sequence from the home slot. It stops at an empty
// slot, or at an entry closer to its home than the probe is to key's home:
// by the Robin-Hood ordering key would have displaced it.
func (m *RobinHoodMap[K, V]) find(t *robinHoodTable[K, V], key K, hash uint32) (int, *entry[K, V]) {
	idx := int(hash & t.cycle.mask)
	for d := range uint32(len(t.slots)) {
		sd := t.dist[idx].Load()
		if sd == 0 || sd-1 < d {
			break
		}
		if e := t.slots[idx].Load(); e != nil && e.key == key {
			return idx, e
		}
		idx = t.cycle.next(idx)
	}
	return -1, nil
}

// insertNew places e, whose key is absent, stealing slots from entries
// closer to their home and carrying each evicted entry forward.
func (t *robinHoodTable[K, V]) insertNew(e *entry[K, V], hash uint32) {
	idx := int(hash & t.cycle.mask)
	var d uint32
	for range len(t.slots) {
		sd := t.dist[idx].Load()
		if sd == 0 {
			t.slots[idx].Store(e)
			t.dist[idx].Store(d + 1)
			return
		}
		if sd-1 < d {
			evicted := t.slots[idx].Load()
			t.slots[idx].Store(e)
			t.dist[idx].Store(d + 1)
			e, d = evicted, sd-1
		}
		idx = t.cycle.next(idx)
		d++
	}
	panic("hashsmith: robin hood table has no free slot")
}

func (t *robinHoodTable[K, V]) maxDisplacement() int {
	var mx uint32
	for i := range t.dist {
		if d := t.dist[i].Load(); d > mx {
			mx = d
		}
	}
	if mx == 0 {
		return 0
	}
	return int(mx - 1)
}

func (m *RobinHoodMap[K, V]) grow(old *robinHoodTable[K, V]) *robinHoodTable[K, V] {
	capacity := len(old.slots)
	if capacity >= maxCapacity {
		panic("hashsmith: robin hood table exceeds maximum capacity")
	}
	t := newRobinHoodTable[K, V](capacity*2, m.loadFactor)
	for i := range old.slots {
		if e := old.slots[i].Load(); e != nil {
			t.insertNew(e, m.hasher.hashNullable(e.key))
		}
	}
	m.table.Store(t)
	m.growths++
	m.logGrowth("robinhood", capacity, capacity*2, 0)
	return t
}
