package hashsmith

import (
	"iter"
	"sync/atomic"
)

// SwissMap is a single-threaded open-addressing hash map with per-slot
// control bytes.
//
// Layout:
//   - Slots are grouped by 16. Each group has two packed control words
//     (little-endian, lane j of a word in bits [8j, 8j+8)) describing its
//     slots as empty, deleted, or occupied with the 7-bit tag H2.
//   - H1 = hash>>7 picks the home group; groups are visited along the
//     table's probe cycle.
//   - A lookup stops after the first group holding an empty slot.
//     Deleted slots never stop it; they are reused by insertions and
//     dropped at the next growth.
//
// Concurrency model:
//   - Not safe for concurrent mutation. Readers racing a single writer never
//     crash or spin: the table is published through one atomic pointer, each
//     slot holds an immutable entry, and probes are bounded by the group
//     count. Such a reader may observe a stale answer and must validate it
//     externally, as ShardedMap does with its stamped locks.
type SwissMap[K comparable, V any] struct {
	_ noCopy
	tableBase[K, V]
	table atomic.Pointer[swissTable[K, V]]
	scan  ScanStrategy
}

type swissTable[K comparable, V any] struct {
	ctrl       []atomic.Uint64
	slots      []atomic.Pointer[entry[K, V]]
	cycle      probeCycle // over groups
	maxLoad    int
	tombstones int
}

func newSwissTable[K comparable, V any](capacity int, lf float64) *swissTable[K, V] {
	groups := capacity / groupSize
	t := &swissTable[K, V]{
		ctrl:    make([]atomic.Uint64, groups*groupWords),
		slots:   make([]atomic.Pointer[entry[K, V]], capacity),
		cycle:   newProbeCycle(groups),
		maxLoad: computeMaxLoad(capacity, lf),
	}
	empty := broadcast(ctrlEmpty)
	for i := range t.ctrl {
		t.ctrl[i].Store(empty)
	}
	return t
}

// NewSwissMap creates a SwissMap.
//
// Configuration options:
//   - WithCapacity(n): initial slot count, rounded up to a power of two and
//     to at least one group of 16.
//   - WithLoadFactor(lf): occupancy ratio in (0,1) that triggers doubling.
//   - WithScanStrategy(s): scalar or vector group matching.
//   - WithNullKeys(): accept one nil key.
//   - WithKeyHasher / WithStringHasher / WithValueEqual / WithLogger.
//
// Example:
//
//	m, err := NewSwissMap[string, int](WithCapacity(1024))
//	if err != nil {
//		return err
//	}
//	m.Put("a", 1)
//	v, ok := m.Get("a")
func NewSwissMap[K comparable, V any](options ...func(*MapConfig)) (*SwissMap[K, V], error) {
	return newSwissMapFromConfig[K, V](newMapConfig(options), nil)
}

func newSwissMapFromConfig[K comparable, V any](cfg *MapConfig, hasher *keyHasher[K]) (*SwissMap[K, V], error) {
	base, err := newTableBase[K, V](cfg, hasher)
	if err != nil {
		return nil, err
	}
	m := &SwissMap[K, V]{tableBase: base, scan: cfg.resolvedScan()}
	capacity := ceilingPowerOfTwo(max(cfg.capacity, groupSize))
	m.table.Store(newSwissTable[K, V](capacity, m.loadFactor))
	return m, nil
}

// Capacity returns the current slot count.
func (m *SwissMap[K, V]) Capacity() int {
	return len(m.table.Load().slots)
}

// ScanStrategy returns the resolved group scan in use.
func (m *SwissMap[K, V]) ScanStrategy() ScanStrategy {
	return m.scan
}

// Get returns the value stored for key.
func (m *SwissMap[K, V]) Get(key K) (value V, ok bool) {
	return m.GetWithHash(key, m.Hash(key))
}

// GetWithHash is Get with a hash precomputed by Hash.
func (m *SwissMap[K, V]) GetWithHash(key K, hash uint32) (value V, ok bool) {
	if _, e := m.find(m.table.Load(), key, hash); e != nil {
		return e.value, true
	}
	return
}

// ContainsKey reports whether key is present.
func (m *SwissMap[K, V]) ContainsKey(key K) bool {
	return m.ContainsKeyWithHash(key, m.Hash(key))
}

// ContainsKeyWithHash is ContainsKey with a precomputed hash.
func (m *SwissMap[K, V]) ContainsKeyWithHash(key K, hash uint32) bool {
	_, e := m.find(m.table.Load(), key, hash)
	return e != nil
}

// Put maps key to value and returns the value it replaced, if any.
func (m *SwissMap[K, V]) Put(key K, value V) (previous V, loaded bool) {
	return m.PutWithHash(key, value, m.Hash(key))
}

// PutWithHash is Put with a precomputed hash.
func (m *SwissMap[K, V]) PutWithHash(key K, value V, hash uint32) (previous V, loaded bool) {
	t := m.table.Load()
	if idx, e := m.find(t, key, hash); e != nil {
		t.slots[idx].Store(&entry[K, V]{key: key, value: value})
		return e.value, true
	}
	if m.size+1 > t.maxLoad {
		t = m.grow(t)
	}
	m.insertNew(t, &entry[K, V]{key: key, value: value}, hash)
	m.size++
	return
}

// Remove deletes key and returns the value it held, if any.
func (m *SwissMap[K, V]) Remove(key K) (previous V, removed bool) {
	return m.RemoveWithHash(key, m.Hash(key))
}

// RemoveWithHash is Remove with a precomputed hash.
func (m *SwissMap[K, V]) RemoveWithHash(key K, hash uint32) (previous V, removed bool) {
	t := m.table.Load()
	idx, e := m.find(t, key, hash)
	if e == nil {
		return
	}
	t.setCtrl(idx, ctrlDeleted)
	t.slots[idx].Store(nil)
	t.tombstones++
	m.size--
	return e.value, true
}

// ContainsValue reports whether any key maps to value. It scans every slot.
func (m *SwissMap[K, V]) ContainsValue(value V) bool {
	t := m.table.Load()
	for i := range t.slots {
		if e := t.slots[i].Load(); e != nil && m.valEqual(e.value, value) {
			return true
		}
	}
	return false
}

// Clear removes every mapping and keeps the current capacity.
func (m *SwissMap[K, V]) Clear() {
	t := m.table.Load()
	m.table.Store(newSwissTable[K, V](len(t.slots), m.loadFactor))
	m.size = 0
}

// Range calls yield for each mapping until it returns false. Slots are
// visited in the table's probe-cycle order, which changes with every growth.
func (m *SwissMap[K, V]) Range(yield func(key K, value V) bool) {
	t := m.table.Load()
	for i := range len(t.slots) / groupSize {
		base := t.cycle.indexAt(i) * groupSize
		for j := range groupSize {
			if e := t.slots[base+j].Load(); e != nil {
				if !yield(e.key, e.value) {
					return
				}
			}
		}
	}
}

// All returns an iterator over every mapping.
func (m *SwissMap[K, V]) All() iter.Seq2[K, V] {
	return all(m.Range)
}

// Stats returns a diagnostic snapshot of the table.
func (m *SwissMap[K, V]) Stats() TableStats {
	t := m.table.Load()
	return TableStats{
		Capacity:   len(t.slots),
		Size:       m.size,
		MaxLoad:    t.maxLoad,
		Tombstones: t.tombstones,
		Growths:    m.growths,
	}
}

// find probes t for key and returns the slot index and entry, or a nil
// entry when key is absent. It only reads t through atomics, and visits at
// most every group once.
func (m *SwissMap[K, V]) find(t *swissTable[K, V], key K, hash uint32) (int, *entry[K, V]) {
	tag := tagOf(hash)
	home := int(groupOf(hash) & t.cycle.mask)
	groups := int(t.cycle.mask) + 1
	for i := range groups {
		g := t.cycle.probe(home, i)
		lo, hi := t.ctrl[g*groupWords].Load(), t.ctrl[g*groupWords+1].Load()
		for match := m.scan.matchTag(lo, hi, tag); match != 0; match &= match - 1 {
			idx := g*groupSize + firstLane(match)
			if e := t.slots[idx].Load(); e != nil && e.key == key {
				return idx, e
			}
		}
		if m.scan.matchEmpty(lo, hi) != 0 {
			break
		}
	}
	return -1, nil
}

// insertNew places e at the first free slot on its probe sequence. The key
// must be absent and t must have a free slot.
func (m *SwissMap[K, V]) insertNew(t *swissTable[K, V], e *entry[K, V], hash uint32) {
	home := int(groupOf(hash) & t.cycle.mask)
	groups := int(t.cycle.mask) + 1
	for i := range groups {
		g := t.cycle.probe(home, i)
		lo, hi := t.ctrl[g*groupWords].Load(), t.ctrl[g*groupWords+1].Load()
		if free := m.scan.matchFree(lo, hi); free != 0 {
			lane := firstLane(free)
			idx := g*groupSize + lane
			if t.ctrlAt(idx) == ctrlDeleted {
				t.tombstones--
			}
			// Payload before tag: a reader matching the tag then loads a
			// published entry.
			t.slots[idx].Store(e)
			t.setCtrl(idx, tagOf(hash))
			return
		}
	}
	panic("hashsmith: swiss table has no free slot")
}

// grow rehashes every live entry into a table of twice the capacity with a
// fresh probe cycle, drops tombstones, and publishes the result.
func (m *SwissMap[K, V]) grow(old *swissTable[K, V]) *swissTable[K, V] {
	capacity := len(old.slots)
	if capacity >= maxCapacity {
		panic("hashsmith: swiss table exceeds maximum capacity")
	}
	t := newSwissTable[K, V](capacity*2, m.loadFactor)
	for i := range old.slots {
		if e := old.slots[i].Load(); e != nil {
			m.insertNew(t, e, m.hasher.hashNullable(e.key))
		}
	}
	m.table.Store(t)
	m.growths++
	m.logGrowth("swiss", capacity, capacity*2, old.tombstones)
	return t
}

func (t *swissTable[K, V]) ctrlAt(idx int) uint8 {
	return byteAt(t.ctrl[idx>>3].Load(), idx&7)
}

// setCtrl rewrites the control byte of slot idx. Only the single writer
// calls it, so load-then-store cannot lose an update.
func (t *swissTable[K, V]) setCtrl(idx int, b uint8) {
	w := &t.ctrl[idx>>3]
	w.Store(setByte(w.Load(), b, idx&7))
}
