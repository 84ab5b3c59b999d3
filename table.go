package hashsmith

import (
	"iter"
	"math/rand/v2"

	"go.uber.org/zap"
)

// entry is the immutable payload of an occupied slot. Slots publish entries
// through atomic pointers; an update stores a new entry instead of writing
// into the old one, so a reader holding a stale pointer still sees a
// consistent key/value pair.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// tableEngine is the capability the sharded wrapper drives. The set of
// implementations is closed: *SwissMap and *RobinHoodMap.
type tableEngine[K comparable, V any] interface {
	GetWithHash(key K, hash uint32) (value V, ok bool)
	PutWithHash(key K, value V, hash uint32) (previous V, loaded bool)
	RemoveWithHash(key K, hash uint32) (previous V, removed bool)
	ContainsKeyWithHash(key K, hash uint32) bool
	ContainsValue(value V) bool
	Range(yield func(key K, value V) bool)
	Size() int
	Clear()
	Stats() TableStats
}

var (
	_ tableEngine[int, int] = (*SwissMap[int, int])(nil)
	_ tableEngine[int, int] = (*RobinHoodMap[int, int])(nil)
)

// TableStats is a diagnostic snapshot of one table.
//
// Notes:
//   - intended for diagnostics, not for production decisions; fields may
//     change between minor releases.
type TableStats struct {
	// Capacity is the number of slots.
	Capacity int
	// Size is the number of occupied slots.
	Size int
	// MaxLoad is the size at which the next insertion doubles Capacity.
	MaxLoad int
	// Tombstones is the number of deleted slots awaiting the next growth.
	// Always zero for RobinHoodMap.
	Tombstones int
	// Growths counts capacity doublings since construction.
	Growths int
	// MaxDisplacement is the longest distance between a key's home slot
	// and its actual slot. Only tracked by RobinHoodMap.
	MaxDisplacement int
}

// computeMaxLoad returns clamp(floor(capacity*lf), 1, capacity-1). At least
// one slot always stays free so that every probe terminates.
func computeMaxLoad(capacity int, lf float64) int {
	return max(1, min(int(float64(capacity)*lf), capacity-1))
}

// probeCycle is a (start, step) generator over a power-of-two table. The
// step is odd, hence coprime with the table size, so start, start+step,
// start+2*step, ... visits every slot exactly once before repeating.
//
// A cycle is drawn for every new set of table arrays (construction, growth,
// clear) so probe order differs across instances and resizes.
type probeCycle struct {
	start uint32
	step  uint32
	mask  uint32
}

func newProbeCycle(capacity int) probeCycle {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("hashsmith: capacity must be a power of two")
	}
	mask := uint32(capacity - 1)
	return probeCycle{
		start: rand.Uint32() & mask,
		step:  rand.Uint32() | 1,
		mask:  mask,
	}
}

// indexAt returns the i-th slot of the cycle from its random start.
//
//go:nosplit
func (c probeCycle) indexAt(i int) int {
	return int((c.start + uint32(i)*c.step) & c.mask)
}

// probe returns the i-th slot of the cycle anchored at home.
//
//go:nosplit
func (c probeCycle) probe(home, i int) int {
	return int((uint32(home) + uint32(i)*c.step) & c.mask)
}

// next returns the slot following idx on every probe sequence of the table.
//
//go:nosplit
func (c probeCycle) next(idx int) int {
	return int((uint32(idx) + c.step) & c.mask)
}

// tableBase holds the state shared by both engines. Fields other than size
// and growths are fixed at construction.
type tableBase[K comparable, V any] struct {
	hasher     *keyHasher[K]
	valEqual   func(a, b V) bool
	loadFactor float64
	logger     *zap.Logger
	size       int
	growths    int
}

// newTableBase validates cfg and resolves the hashing. A nil hasher builds
// one from cfg; ShardedMap passes its own so that every shard rehashes with
// the hash the wrapper routes by.
func newTableBase[K comparable, V any](cfg *MapConfig, hasher *keyHasher[K]) (tableBase[K, V], error) {
	if err := cfg.validate(); err != nil {
		return tableBase[K, V]{}, err
	}
	if hasher == nil {
		var err error
		if hasher, err = newKeyHasher[K](cfg); err != nil {
			return tableBase[K, V]{}, err
		}
	}
	return tableBase[K, V]{
		hasher:     hasher,
		valEqual:   newValueEqual[V](cfg),
		loadFactor: cfg.loadFactor,
		logger:     cfg.logger,
	}, nil
}

// Hash returns the dispersed hash of key as used by the *WithHash methods.
// It panics with ErrNullKey for a nil key unless the table accepts one.
func (b *tableBase[K, V]) Hash(key K) uint32 {
	return b.hasher.hash(key)
}

// Size returns the number of mappings.
func (b *tableBase[K, V]) Size() int {
	return b.size
}

// IsEmpty reports whether the table holds no mappings.
func (b *tableBase[K, V]) IsEmpty() bool {
	return b.size == 0
}

// LoadFactor returns the configured maximum occupancy ratio.
func (b *tableBase[K, V]) LoadFactor() float64 {
	return b.loadFactor
}

func (b *tableBase[K, V]) logGrowth(engine string, from, to, tombstones int) {
	if ce := b.logger.Check(zap.DebugLevel, "hashsmith: table grown"); ce != nil {
		ce.Write(
			zap.String("engine", engine),
			zap.Int("from", from),
			zap.Int("to", to),
			zap.Int("size", b.size),
			zap.Int("tombstones", tombstones),
		)
	}
}

// all adapts a Range method to an iterator.
func all[K comparable, V any](rangeFn func(yield func(K, V) bool)) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		rangeFn(yield)
	}
}
