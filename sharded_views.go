package hashsmith

import "iter"

// Iterator walks a snapshot of a ShardedMap.
//
// Usage:
//
//	it := m.Entries().Iterator()
//	for it.Next() {
//		if it.Value() < 0 {
//			_ = it.Remove()
//		}
//	}
type Iterator[K comparable, V any] struct {
	m    *ShardedMap[K, V]
	snap []Entry[K, V]
	pos  int
	// last is the index of the entry Remove would delete, or -1.
	last int
}

func newIterator[K comparable, V any](m *ShardedMap[K, V]) *Iterator[K, V] {
	return &Iterator[K, V]{m: m, snap: m.snapshot(), last: -1}
}

// Next advances to the next snapshot entry and reports whether there is
// one.
func (it *Iterator[K, V]) Next() bool {
	if it.pos >= len(it.snap) {
		it.last = -1
		return false
	}
	it.last = it.pos
	it.pos++
	return true
}

// Key returns the current key. It must follow a Next that returned true.
func (it *Iterator[K, V]) Key() K {
	return it.snap[it.pos-1].key
}

// Value returns the current value as of the snapshot.
func (it *Iterator[K, V]) Value() V {
	return it.snap[it.pos-1].value
}

// Entry returns the current entry. SetValue on it writes through to the
// map.
func (it *Iterator[K, V]) Entry() *Entry[K, V] {
	return &it.snap[it.pos-1]
}

// Remove deletes the current key from the live map. It returns
// ErrIllegalIteratorState unless Next returned true since the last Remove.
func (it *Iterator[K, V]) Remove() error {
	if it.last < 0 {
		return ErrIllegalIteratorState
	}
	it.m.Remove(it.snap[it.last].key)
	it.last = -1
	return nil
}

// KeySet is a live view of the keys of a ShardedMap. Iteration uses a
// snapshot.
type KeySet[K comparable, V any] struct {
	m *ShardedMap[K, V]
}

// Keys returns the key view.
func (m *ShardedMap[K, V]) Keys() KeySet[K, V] {
	return KeySet[K, V]{m: m}
}

// Size returns the number of keys.
func (s KeySet[K, V]) Size() int {
	return s.m.Size()
}

// IsEmpty reports whether the map has no keys.
func (s KeySet[K, V]) IsEmpty() bool {
	return s.m.IsEmpty()
}

// Clear removes every mapping from the map.
func (s KeySet[K, V]) Clear() {
	s.m.Clear()
}

// Contains reports whether key is present.
func (s KeySet[K, V]) Contains(key K) bool {
	return s.m.ContainsKey(key)
}

// Iterator returns an iterator over a snapshot of the map. Its Remove
// deletes the current key from the live map.
func (s KeySet[K, V]) Iterator() *Iterator[K, V] {
	return newIterator(s.m)
}

// Remove deletes key and reports whether it was present.
func (s KeySet[K, V]) Remove(key K) bool {
	_, removed := s.m.Remove(key)
	return removed
}

// All returns an iterator over a snapshot of the keys.
func (s KeySet[K, V]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for _, e := range s.m.snapshot() {
			if !yield(e.key) {
				return
			}
		}
	}
}

// ValueCollection is a live view of the values of a ShardedMap.
type ValueCollection[K comparable, V any] struct {
	m *ShardedMap[K, V]
}

// Values returns the value view.
func (m *ShardedMap[K, V]) Values() ValueCollection[K, V] {
	return ValueCollection[K, V]{m: m}
}

// Size returns the number of values, duplicates included.
func (c ValueCollection[K, V]) Size() int {
	return c.m.Size()
}

// IsEmpty reports whether the map has no values.
func (c ValueCollection[K, V]) IsEmpty() bool {
	return c.m.IsEmpty()
}

// Clear removes every mapping from the map.
func (c ValueCollection[K, V]) Clear() {
	c.m.Clear()
}

// Contains reports whether any key maps to value. It scans every shard.
func (c ValueCollection[K, V]) Contains(value V) bool {
	return c.m.ContainsValue(value)
}

// Iterator returns an iterator over a snapshot of the map.
func (c ValueCollection[K, V]) Iterator() *Iterator[K, V] {
	return newIterator(c.m)
}

// Remove deletes one mapping whose value equals value, searching the
// shards in index order, and reports whether one was found.
func (c ValueCollection[K, V]) Remove(value V) bool {
	m := c.m
	for i := range m.shards {
		removed := false
		m.withShard(i, func(e tableEngine[K, V]) {
			var (
				victim K
				found  bool
			)
			e.Range(func(k K, v V) bool {
				if m.valEqual(v, value) {
					victim, found = k, true
					return false
				}
				return true
			})
			if found {
				_, removed = e.RemoveWithHash(victim, m.hasher.hash(victim))
			}
		})
		if removed {
			return true
		}
	}
	return false
}

// All returns an iterator over a snapshot of the values.
func (c ValueCollection[K, V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, e := range c.m.snapshot() {
			if !yield(e.value) {
				return
			}
		}
	}
}

// EntrySet is a live view of the mappings of a ShardedMap.
type EntrySet[K comparable, V any] struct {
	m *ShardedMap[K, V]
}

// Entries returns the entry view.
func (m *ShardedMap[K, V]) Entries() EntrySet[K, V] {
	return EntrySet[K, V]{m: m}
}

// Size returns the number of mappings.
func (s EntrySet[K, V]) Size() int {
	return s.m.Size()
}

// IsEmpty reports whether the map has no mappings.
func (s EntrySet[K, V]) IsEmpty() bool {
	return s.m.IsEmpty()
}

// Clear removes every mapping from the map.
func (s EntrySet[K, V]) Clear() {
	s.m.Clear()
}

// Iterator returns an iterator over a snapshot of the map. Entry on it
// yields entries whose SetValue writes through.
func (s EntrySet[K, V]) Iterator() *Iterator[K, V] {
	return newIterator(s.m)
}

// Contains reports whether key currently maps to a value equal to value.
func (s EntrySet[K, V]) Contains(key K, value V) bool {
	v, ok := s.m.Get(key)
	return ok && s.m.valEqual(v, value)
}

// Remove deletes key only if it maps to a value equal to value.
func (s EntrySet[K, V]) Remove(key K, value V) bool {
	return s.m.CompareAndDelete(key, value)
}

// All returns an iterator over a snapshot of the entries.
func (s EntrySet[K, V]) All() iter.Seq[*Entry[K, V]] {
	return func(yield func(*Entry[K, V]) bool) {
		snap := s.m.snapshot()
		for i := range snap {
			if !yield(&snap[i]) {
				return
			}
		}
	}
}
