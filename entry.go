package hashsmith

import "fmt"

// Entry is a key/value pair copied out of a ShardedMap by a snapshot.
//
// WARNING:
//   - Reading an Entry never touches the map; it shows the value at
//     snapshot time, or the last value given to SetValue.
//   - Not safe across goroutines.
type Entry[K comparable, V any] struct {
	key   K
	value V
	m     *ShardedMap[K, V]
}

// Key returns the entry's key.
func (e *Entry[K, V]) Key() K {
	return e.key
}

// Value returns the entry's value.
func (e *Entry[K, V]) Value() V {
	return e.value
}

// SetValue stores value for the entry's key in the live map and in the
// entry itself. It returns the value the live map held, which may differ
// from Value if the map changed since the snapshot. The key is re-inserted
// if it was removed meanwhile.
func (e *Entry[K, V]) SetValue(value V) (previous V, loaded bool) {
	previous, loaded = e.m.Put(e.key, value)
	e.value = value
	return previous, loaded
}

// String renders the entry as key=value.
func (e *Entry[K, V]) String() string {
	return fmt.Sprintf("%v=%v", e.key, e.value)
}
