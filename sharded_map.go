package hashsmith

import (
	"fmt"
	"hash/maphash"
	"iter"
	"math/bits"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	. "github.com/llxisdsh/hashsmith/internal/opt" // nolint:staticcheck
)

// maxShardBits leaves the low 7 bits of the hash to the SwissMap tag, so
// shard routing and in-table tags never draw on the same bits.
const maxShardBits = 32 - 7

// ShardedMap is a concurrent hash map built from independently locked
// single-threaded tables.
//
// Concurrency model:
//   - A key's dispersed hash is computed once. Its top shardBits bits pick
//     the shard; the full hash is handed to the shard's engine.
//   - Readers (Get, ContainsKey) run optimistically under the shard's
//     StampedLock and validate the stamp; when a writer overlapped they
//     retry once under the shared lock.
//   - Writers take one shard's exclusive lock. Multi-shard operations
//     (Clear, Size, ContainsValue, snapshots) visit the shards in index
//     order, one lock at a time, so their result is weakly consistent.
//   - Callbacks given to Compute*, Merge and ReplaceAll run under the
//     shard's exclusive lock and must not call back into the same map.
//
// Notes:
//   - nil keys are rejected with a panic carrying ErrNullKey.
//   - Iteration works on a snapshot; see Entries, Keys and Values.
type ShardedMap[K comparable, V any] struct {
	_         noCopy
	shards    []shard[K, V]
	shardBits int
	hasher    *keyHasher[K]
	valEqual  func(a, b V) bool
	engine    EngineKind
	logger    *zap.Logger
}

// shard pairs a lock with the engine it guards. The engine is fixed at
// construction.
type shard[K comparable, V any] struct {
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		lock      StampedLock
		engine    any
		fallbacks atomic.Uint64
	}{})%CacheLineSize_) % CacheLineSize_ * PaddingMult_]byte
	lock      StampedLock
	engine    tableEngine[K, V]
	fallbacks atomic.Uint64 // optimistic reads retried under the shared lock
}

// NewShardedMap creates a ShardedMap.
//
// Configuration options:
//   - WithShardCount(n): shard count, rounded up to a power of two. The
//     default is 4*GOMAXPROCS. More than 1<<25 shards is rejected.
//   - WithCapacity(n): total initial capacity, split evenly across shards.
//   - WithEngine(kind): SwissMap (default) or RobinHoodMap shards.
//   - WithLoadFactor, WithScanStrategy, WithKeyHasher, WithStringHasher,
//     WithValueEqual, WithLogger: forwarded to every shard.
//   - WithNullKeys is rejected.
//
// Example:
//
//	m, err := NewShardedMap[string, int](WithShardCount(64))
//	if err != nil {
//		return err
//	}
//	m.Put("a", 1)
//	v, ok := m.Get("a")
func NewShardedMap[K comparable, V any](options ...func(*MapConfig)) (*ShardedMap[K, V], error) {
	cfg := newMapConfig(options)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.nullKeys {
		return nil, fmt.Errorf("%w: ShardedMap does not accept nil keys", ErrInvalidConfiguration)
	}
	requested := cfg.shardCount
	if !cfg.shardSet {
		requested = 4 * runtime.GOMAXPROCS(0)
	}
	if requested > 1<<maxShardBits {
		return nil, fmt.Errorf("%w: shard count %d needs more than %d hash bits",
			ErrInvalidConfiguration, requested, maxShardBits)
	}
	shardCount := ceilingPowerOfTwo(requested)
	hasher, err := newKeyHasher[K](cfg)
	if err != nil {
		return nil, err
	}

	m := &ShardedMap[K, V]{
		shards:    make([]shard[K, V], shardCount),
		shardBits: bits.TrailingZeros(uint(shardCount)),
		hasher:    hasher,
		valEqual:  newValueEqual[V](cfg),
		engine:    cfg.engine,
		logger:    cfg.logger,
	}
	perShard := *cfg
	perShard.capacity = max(1, (max(defaultCapacity, cfg.capacity)+shardCount-1)/shardCount)
	for i := range m.shards {
		perShard.logger = cfg.logger.With(zap.Int("shard", i))
		e, err := newEngine[K, V](&perShard, hasher)
		if err != nil {
			return nil, err
		}
		m.shards[i].engine = e
	}
	m.logger.Debug("hashsmith: sharded map created",
		zap.Stringer("engine", cfg.engine),
		zap.Int("shards", shardCount),
		zap.Int("shardBits", m.shardBits),
		zap.Int("shardCapacity", perShard.capacity),
	)
	return m, nil
}

func newEngine[K comparable, V any](cfg *MapConfig, hasher *keyHasher[K]) (tableEngine[K, V], error) {
	switch cfg.engine {
	case EngineRobinHood:
		return newRobinHoodMapFromConfig[K, V](cfg, hasher)
	default:
		return newSwissMapFromConfig[K, V](cfg, hasher)
	}
}

// Hash returns the dispersed hash of key. It panics with ErrNullKey for a
// nil key.
func (m *ShardedMap[K, V]) Hash(key K) uint32 {
	return m.hasher.hash(key)
}

// ShardCount returns the number of shards.
func (m *ShardedMap[K, V]) ShardCount() int {
	return len(m.shards)
}

// shardIndex returns the top shardBits bits of hash. A shift by 32 yields
// zero, which covers the single-shard case.
//
//go:nosplit
func (m *ShardedMap[K, V]) shardIndex(hash uint32) int {
	return int(hash >> (32 - m.shardBits))
}

func (m *ShardedMap[K, V]) shardFor(hash uint32) *shard[K, V] {
	return &m.shards[m.shardIndex(hash)]
}

// Get returns the value stored for key.
func (m *ShardedMap[K, V]) Get(key K) (value V, ok bool) {
	hash := m.hasher.hash(key)
	s := m.shardFor(hash)
	if stamp, free := s.lock.TryOptimisticRead(); free {
		value, ok = s.engine.GetWithHash(key, hash)
		if s.lock.Validate(stamp) {
			return value, ok
		}
	}
	s.fallbacks.Add(1)
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.engine.GetWithHash(key, hash)
}

// ContainsKey reports whether key is present.
func (m *ShardedMap[K, V]) ContainsKey(key K) bool {
	hash := m.hasher.hash(key)
	s := m.shardFor(hash)
	if stamp, free := s.lock.TryOptimisticRead(); free {
		found := s.engine.ContainsKeyWithHash(key, hash)
		if s.lock.Validate(stamp) {
			return found
		}
	}
	s.fallbacks.Add(1)
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.engine.ContainsKeyWithHash(key, hash)
}

// locked runs fn with the exclusive lock of key's shard.
func (m *ShardedMap[K, V]) locked(key K, fn func(e tableEngine[K, V], hash uint32)) {
	hash := m.hasher.hash(key)
	s := m.shardFor(hash)
	s.lock.Lock()
	defer s.lock.Unlock()
	fn(s.engine, hash)
}

// Put maps key to value and returns the value it replaced, if any.
func (m *ShardedMap[K, V]) Put(key K, value V) (previous V, loaded bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		previous, loaded = e.PutWithHash(key, value, hash)
	})
	return
}

// Remove deletes key and returns the value it held, if any.
func (m *ShardedMap[K, V]) Remove(key K) (previous V, removed bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		previous, removed = e.RemoveWithHash(key, hash)
	})
	return
}

// PutIfAbsent stores value only if key is absent. It returns the existing
// value and true when key was present.
func (m *ShardedMap[K, V]) PutIfAbsent(key K, value V) (previous V, loaded bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		if previous, loaded = e.GetWithHash(key, hash); !loaded {
			e.PutWithHash(key, value, hash)
		}
	})
	return
}

// CompareAndDelete removes key only if it maps to a value equal to old.
func (m *ShardedMap[K, V]) CompareAndDelete(key K, old V) (deleted bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		if cur, ok := e.GetWithHash(key, hash); ok && m.valEqual(cur, old) {
			_, deleted = e.RemoveWithHash(key, hash)
		}
	})
	return
}

// CompareAndSwap replaces the value of key with new only if it currently
// maps to a value equal to old.
func (m *ShardedMap[K, V]) CompareAndSwap(key K, old, new V) (swapped bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		if cur, ok := e.GetWithHash(key, hash); ok && m.valEqual(cur, old) {
			e.PutWithHash(key, new, hash)
			swapped = true
		}
	})
	return
}

// Replace stores value only if key is present, and returns the value it
// replaced.
func (m *ShardedMap[K, V]) Replace(key K, value V) (previous V, replaced bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		if previous, replaced = e.GetWithHash(key, hash); replaced {
			e.PutWithHash(key, value, hash)
		}
	})
	return
}

// ComputeIfAbsent returns the value of key, or, when key is absent, calls
// fn and stores its result unless fn reports keep == false.
func (m *ShardedMap[K, V]) ComputeIfAbsent(
	key K,
	fn func(key K) (value V, keep bool),
) (value V, ok bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		if value, ok = e.GetWithHash(key, hash); ok {
			return
		}
		if value, ok = fn(key); ok {
			e.PutWithHash(key, value, hash)
		} else {
			value = *new(V)
		}
	})
	return
}

// ComputeIfPresent calls fn with the current value of a present key and
// stores its result, or removes the key when fn reports keep == false.
// It returns the new value and whether key is now present.
func (m *ShardedMap[K, V]) ComputeIfPresent(
	key K,
	fn func(key K, old V) (value V, keep bool),
) (value V, ok bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		old, loaded := e.GetWithHash(key, hash)
		if !loaded {
			return
		}
		if value, ok = fn(key, old); ok {
			e.PutWithHash(key, value, hash)
		} else {
			value = *new(V)
			e.RemoveWithHash(key, hash)
		}
	})
	return
}

// Compute calls fn with the current mapping of key (loaded reports its
// presence) and stores the result, or removes the key when fn reports
// keep == false. It returns the new value and whether key is now present.
func (m *ShardedMap[K, V]) Compute(
	key K,
	fn func(key K, old V, loaded bool) (value V, keep bool),
) (value V, ok bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		old, loaded := e.GetWithHash(key, hash)
		if value, ok = fn(key, old, loaded); ok {
			e.PutWithHash(key, value, hash)
			return
		}
		value = *new(V)
		if loaded {
			e.RemoveWithHash(key, hash)
		}
	})
	return
}

// Merge stores value for an absent key. For a present key it stores
// fn(old, value), or removes the key when fn reports keep == false.
// It returns the new value and whether key is now present.
func (m *ShardedMap[K, V]) Merge(
	key K,
	value V,
	fn func(old, value V) (merged V, keep bool),
) (merged V, ok bool) {
	m.locked(key, func(e tableEngine[K, V], hash uint32) {
		old, loaded := e.GetWithHash(key, hash)
		if !loaded {
			e.PutWithHash(key, value, hash)
			merged, ok = value, true
			return
		}
		if merged, ok = fn(old, value); ok {
			e.PutWithHash(key, merged, hash)
		} else {
			merged = *new(V)
			e.RemoveWithHash(key, hash)
		}
	})
	return
}

// pendingPut is one entry of a batch, routed to its shard.
type pendingPut[K comparable, V any] struct {
	key   K
	value V
	hash  uint32
}

// PutAll copies every mapping of src. Entries are grouped by shard first,
// so each shard is locked at most once.
func (m *ShardedMap[K, V]) PutAll(src map[K]V) {
	if len(src) == 0 {
		return
	}
	m.PutAllSeq(func(yield func(K, V) bool) {
		for k, v := range src {
			if !yield(k, v) {
				return
			}
		}
	})
}

// PutAllSeq is PutAll over an iterator. Later pairs for the same key win.
func (m *ShardedMap[K, V]) PutAllSeq(seq iter.Seq2[K, V]) {
	batches := make([][]pendingPut[K, V], len(m.shards))
	for k, v := range seq {
		hash := m.hasher.hash(k)
		i := m.shardIndex(hash)
		batches[i] = append(batches[i], pendingPut[K, V]{key: k, value: v, hash: hash})
	}
	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		m.withShard(i, func(e tableEngine[K, V]) {
			for _, p := range batch {
				e.PutWithHash(p.key, p.value, p.hash)
			}
		})
	}
}

func (m *ShardedMap[K, V]) withShard(i int, fn func(e tableEngine[K, V])) {
	s := &m.shards[i]
	s.lock.Lock()
	defer s.lock.Unlock()
	fn(s.engine)
}

func (m *ShardedMap[K, V]) readShard(i int, fn func(e tableEngine[K, V])) {
	s := &m.shards[i]
	s.lock.RLock()
	defer s.lock.RUnlock()
	fn(s.engine)
}

// Clear removes every mapping, one shard at a time.
func (m *ShardedMap[K, V]) Clear() {
	for i := range m.shards {
		m.withShard(i, func(e tableEngine[K, V]) {
			e.Clear()
		})
	}
}

// Size returns the number of mappings, saturating at the maximum int.
func (m *ShardedMap[K, V]) Size() int {
	total := 0
	for i := range m.shards {
		var n int
		m.readShard(i, func(e tableEngine[K, V]) {
			n = e.Size()
		})
		if total > maxInt-n {
			return maxInt
		}
		total += n
	}
	return total
}

// IsEmpty reports whether every shard is empty.
func (m *ShardedMap[K, V]) IsEmpty() bool {
	for i := range m.shards {
		empty := true
		m.readShard(i, func(e tableEngine[K, V]) {
			empty = e.Size() == 0
		})
		if !empty {
			return false
		}
	}
	return true
}

// ContainsValue reports whether any key maps to value. It scans every
// shard.
func (m *ShardedMap[K, V]) ContainsValue(value V) bool {
	for i := range m.shards {
		found := false
		m.readShard(i, func(e tableEngine[K, V]) {
			found = e.ContainsValue(value)
		})
		if found {
			return true
		}
	}
	return false
}

// snapshot copies every mapping out, one shard at a time under its shared
// lock. The result is owned by the caller.
func (m *ShardedMap[K, V]) snapshot() []Entry[K, V] {
	var out []Entry[K, V]
	for i := range m.shards {
		m.readShard(i, func(e tableEngine[K, V]) {
			out = slices.Grow(out, e.Size())
			e.Range(func(k K, v V) bool {
				out = append(out, Entry[K, V]{key: k, value: v, m: m})
				return true
			})
		})
	}
	return out
}

// ForEach calls fn for every mapping of a snapshot. fn runs without any
// lock held and may modify the map.
func (m *ShardedMap[K, V]) ForEach(fn func(key K, value V)) {
	for _, e := range m.snapshot() {
		fn(e.key, e.value)
	}
}

// All returns an iterator over a snapshot taken when iteration starts.
func (m *ShardedMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, e := range m.snapshot() {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// ReplaceAll replaces every value with fn(key, value). Each shard is
// processed under its exclusive lock; its keys are collected before any
// value is rewritten.
func (m *ShardedMap[K, V]) ReplaceAll(fn func(key K, value V) V) {
	var keys []K
	for i := range m.shards {
		m.withShard(i, func(e tableEngine[K, V]) {
			keys = keys[:0]
			e.Range(func(k K, _ V) bool {
				keys = append(keys, k)
				return true
			})
			for _, k := range keys {
				hash := m.hasher.hash(k)
				old, _ := e.GetWithHash(k, hash)
				e.PutWithHash(k, fn(k, old), hash)
			}
		})
	}
}

// Lookup is the read-only view Equal compares against. SwissMap,
// RobinHoodMap and ShardedMap implement it.
type Lookup[K comparable, V any] interface {
	Size() int
	Get(key K) (V, bool)
}

// Equal reports whether other holds the same mappings. Values are compared
// with the map's value equality. Concurrent writers make the answer weakly
// consistent.
func (m *ShardedMap[K, V]) Equal(other Lookup[K, V]) bool {
	if o, ok := other.(*ShardedMap[K, V]); ok && o == m {
		return true
	}
	if other == nil || other.Size() != m.Size() {
		return false
	}
	for _, e := range m.snapshot() {
		v, ok := other.Get(e.key)
		if !ok || !m.valEqual(e.value, v) {
			return false
		}
	}
	return true
}

// EqualMap reports whether other holds the same mappings.
func (m *ShardedMap[K, V]) EqualMap(other map[K]V) bool {
	if len(other) != m.Size() {
		return false
	}
	for _, e := range m.snapshot() {
		v, ok := other[e.key]
		if !ok || !m.valEqual(e.value, v) {
			return false
		}
	}
	return true
}

// hashCodeSeed is shared by every map of the process so that equal maps
// report equal hash codes.
var hashCodeSeed = maphash.MakeSeed()

// HashCode returns the sum over all mappings of hash(key) ^ hash(value).
// It is order independent and equal for maps holding equal comparable
// contents. A value contributes only if it is comparable at run time: a
// non-comparable V, or an interface value holding a slice, map or func,
// adds nothing.
func (m *ShardedMap[K, V]) HashCode() uint64 {
	hashValues := reflect.TypeFor[V]().Comparable()
	var h uint64
	for _, e := range m.snapshot() {
		eh := maphash.Comparable(hashCodeSeed, e.key)
		if hashValues && reflect.ValueOf(&e.value).Elem().Comparable() {
			eh ^= maphash.Comparable[any](hashCodeSeed, e.value)
		}
		h += eh
	}
	return h
}

// String renders the map as {k1=v1, k2=v2} in snapshot order.
func (m *ShardedMap[K, V]) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range m.snapshot() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// MapStats is a diagnostic snapshot of a ShardedMap, aggregated over its
// shards. Shards are read one at a time.
type MapStats struct {
	Engine          EngineKind
	Shards          int
	Size            int
	Capacity        int
	Tombstones      int
	Growths         int
	MaxDisplacement int
	// OptimisticFallbacks counts Get and ContainsKey calls whose optimistic
	// read was invalidated and retried under the shared lock.
	OptimisticFallbacks uint64
	ShardSizes          []int
}

// String returns a human-readable summary.
func (s *MapStats) String() string {
	return fmt.Sprintf("MapStats{engine=%v shards=%d size=%d capacity=%d tombstones=%d growths=%d maxDisplacement=%d fallbacks=%d}",
		s.Engine, s.Shards, s.Size, s.Capacity, s.Tombstones, s.Growths, s.MaxDisplacement, s.OptimisticFallbacks)
}

// Stats collects MapStats.
func (m *ShardedMap[K, V]) Stats() *MapStats {
	stats := &MapStats{
		Engine:     m.engine,
		Shards:     len(m.shards),
		ShardSizes: make([]int, len(m.shards)),
	}
	for i := range m.shards {
		var ts TableStats
		m.readShard(i, func(e tableEngine[K, V]) {
			ts = e.Stats()
		})
		stats.Size += ts.Size
		stats.Capacity += ts.Capacity
		stats.Tombstones += ts.Tombstones
		stats.Growths += ts.Growths
		stats.MaxDisplacement = max(stats.MaxDisplacement, ts.MaxDisplacement)
		stats.OptimisticFallbacks += m.shards[i].fallbacks.Load()
		stats.ShardSizes[i] = ts.Size
	}
	return stats
}
