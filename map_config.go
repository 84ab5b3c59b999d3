package hashsmith

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	// defaultCapacity is the slot count used when WithCapacity is omitted.
	defaultCapacity = 16
	// defaultLoadFactor is the occupancy ratio that triggers growth.
	defaultLoadFactor = 0.875
)

// EngineKind selects the open-addressing engine behind each shard of a
// ShardedMap.
type EngineKind uint8

const (
	// EngineSwiss uses SwissMap: control bytes and group scans.
	EngineSwiss EngineKind = iota
	// EngineRobinHood uses RobinHoodMap: displacement-ordered probing with
	// backward-shift deletion.
	EngineRobinHood
)

func (k EngineKind) String() string {
	switch k {
	case EngineSwiss:
		return "swiss"
	case EngineRobinHood:
		return "robinhood"
	default:
		return fmt.Sprintf("EngineKind(%d)", uint8(k))
	}
}

// ScanStrategy selects how SwissMap matches a group of control bytes.
type ScanStrategy uint8

const (
	// ScanAuto picks ScanVector on 64-bit platforms and ScanScalar elsewhere.
	ScanAuto ScanStrategy = iota
	// ScanScalar compares control bytes one at a time.
	ScanScalar
	// ScanVector compares a whole group against a broadcast tag using
	// SWAR word operations and yields a lane bitmask.
	ScanVector
)

func (s ScanStrategy) String() string {
	switch s {
	case ScanAuto:
		return "auto"
	case ScanScalar:
		return "scalar"
	case ScanVector:
		return "vector"
	default:
		return fmt.Sprintf("ScanStrategy(%d)", uint8(s))
	}
}

// StringHash names a built-in hash function for string-kinded keys.
type StringHash uint8

const (
	// StringHashMaphash uses hash/maphash with a per-table seed (default).
	StringHashMaphash StringHash = iota
	// StringHashMurmur3 uses 64-bit MurmurHash3.
	StringHashMurmur3
	// StringHashXXH64 uses xxHash64.
	StringHashXXH64
)

func (h StringHash) String() string {
	switch h {
	case StringHashMaphash:
		return "maphash"
	case StringHashMurmur3:
		return "murmur3"
	case StringHashXXH64:
		return "xxh64"
	default:
		return fmt.Sprintf("StringHash(%d)", uint8(h))
	}
}

// MapConfig defines configurable options for table and ShardedMap
// initialization. Options are applied in order; validation happens in the
// constructor, which reports ErrInvalidConfiguration.
type MapConfig struct {
	// keyHash specifies a custom hash function for keys.
	// If nil, the built-in hash function will be used.
	keyHash HashFunc

	// valEqual specifies a custom equality function for values.
	// If nil, the built-in equality comparison will be used.
	// Note: Using value comparing operations with non-comparable value
	// types will panic if valEqual is nil.
	valEqual EqualFunc

	// capacity is the requested initial slot count, rounded up to a power
	// of two. For a ShardedMap it is split across shards.
	capacity int

	// loadFactor is the maximum occupancy ratio, in the open interval (0,1).
	loadFactor float64

	// shardCount is the requested number of shards; zero means derived from
	// GOMAXPROCS. shardSet records an explicit request.
	shardCount int
	shardSet   bool

	engine     EngineKind
	scan       ScanStrategy
	stringHash StringHash
	stringSet  bool

	// nullKeys lets single-threaded tables store one nil key.
	nullKeys bool

	logger *zap.Logger
}

func newMapConfig(options []func(*MapConfig)) *MapConfig {
	cfg := &MapConfig{
		capacity:   defaultCapacity,
		loadFactor: defaultLoadFactor,
	}
	for _, o := range options {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return cfg
}

func (c *MapConfig) validate() error {
	if err := validateLoadFactor(c.loadFactor); err != nil {
		return err
	}
	if c.capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0, got %d", ErrInvalidConfiguration, c.capacity)
	}
	if c.capacity > maxCapacity {
		return fmt.Errorf("%w: capacity %d exceeds %d", ErrInvalidConfiguration, c.capacity, maxCapacity)
	}
	if c.shardSet && c.shardCount <= 0 {
		return fmt.Errorf("%w: shard count must be > 0, got %d", ErrInvalidConfiguration, c.shardCount)
	}
	switch c.engine {
	case EngineSwiss, EngineRobinHood:
	default:
		return fmt.Errorf("%w: unknown engine %v", ErrInvalidConfiguration, c.engine)
	}
	switch c.scan {
	case ScanAuto, ScanScalar, ScanVector:
	default:
		return fmt.Errorf("%w: unknown scan strategy %v", ErrInvalidConfiguration, c.scan)
	}
	return nil
}

// validateLoadFactor fails unless 0 < lf < 1. NaN is rejected.
func validateLoadFactor(lf float64) error {
	if !(lf > 0 && lf < 1) {
		return fmt.Errorf("%w: load factor must be in (0,1), got %v", ErrInvalidConfiguration, lf)
	}
	return nil
}

// resolvedScan turns ScanAuto into a concrete strategy.
func (c *MapConfig) resolvedScan() ScanStrategy {
	if c.scan != ScanAuto {
		return c.scan
	}
	if intSize == 64 {
		return ScanVector
	}
	return ScanScalar
}

// WithCapacity configures the initial slot count. The value is rounded up to
// a power of two; zero or negative values make the constructor fail.
func WithCapacity(cap int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.capacity = cap
	}
}

// WithLoadFactor sets the maximum occupancy ratio before the table doubles.
// It must lie in the open interval (0,1); the default is 0.875.
func WithLoadFactor(lf float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.loadFactor = lf
	}
}

// WithShardCount sets the number of shards of a ShardedMap. The value is
// rounded up to a power of two. Single-threaded tables ignore it.
func WithShardCount(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.shardCount = n
		c.shardSet = true
	}
}

// WithEngine selects the table engine used by every shard of a ShardedMap.
func WithEngine(kind EngineKind) func(*MapConfig) {
	return func(c *MapConfig) {
		c.engine = kind
	}
}

// WithScanStrategy selects the SwissMap group scan. RobinHoodMap ignores it.
func WithScanStrategy(s ScanStrategy) func(*MapConfig) {
	return func(c *MapConfig) {
		c.scan = s
	}
}

// WithNullKeys allows a single-threaded table to store a nil key (nil
// pointer, interface or channel). The nil key uses a reserved sentinel
// hash. ShardedMap rejects this option.
func WithNullKeys() func(*MapConfig) {
	return func(c *MapConfig) {
		c.nullKeys = true
	}
}

// WithLogger sets the logger used for growth and layout diagnostics.
// Messages are emitted at debug level; the default logger discards them.
func WithLogger(logger *zap.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = logger
	}
}

// WithKeyHasher sets a custom key hashing function for the map.
// The returned value is the key's native hash; the table disperses it
// before use, so a weak function only costs probe length, not correctness.
//
// Usage:
//
//	m, err := NewSwissMap[string, int](WithKeyHasher(func(k string, seed uintptr) uintptr {
//		return uintptr(len(k)) ^ seed
//	}))
func WithKeyHasher[K comparable](
	keyHash func(key K, seed uintptr) uintptr,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if keyHash != nil {
			c.keyHash = func(pointer unsafe.Pointer, u uintptr) uintptr {
				return keyHash(*(*K)(pointer), u)
			}
		}
	}
}

// WithKeyHasherUnsafe sets a low-level unsafe key hashing function.
// The pointer points to the key data in memory; you must cast it to the
// actual key type.
func WithKeyHasherUnsafe(hs HashFunc) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = hs
	}
}

// WithStringHasher selects a built-in hash function for keys whose
// underlying type is string. Other key types make the constructor fail.
func WithStringHasher(h StringHash) func(*MapConfig) {
	return func(c *MapConfig) {
		c.stringHash = h
		c.stringSet = true
	}
}

// WithValueEqual sets a custom value equality function for the map.
// This is required by ContainsValue, CompareAndSwap, CompareAndDelete and
// the other value comparing operations when V is not comparable.
//
// Usage:
//
//	eq := func(a, b MyStruct) bool {
//		return a.ID == b.ID && a.Name == b.Name
//	}
//	m, err := NewShardedMap[string, MyStruct](WithValueEqual(eq))
func WithValueEqual[V any](
	valEqual func(val, val2 V) bool,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if valEqual != nil {
			c.valEqual = func(val unsafe.Pointer, val2 unsafe.Pointer) bool {
				return valEqual(*(*V)(val), *(*V)(val2))
			}
		}
	}
}

// WithValueEqualUnsafe sets a low-level unsafe value equality function.
// Both pointers point to value data in memory.
func WithValueEqualUnsafe(eq EqualFunc) func(*MapConfig) {
	return func(c *MapConfig) {
		c.valEqual = eq
	}
}

// IHashFunc defines a custom hash function interface for key types.
// Key types implementing this interface can provide their own hash
// computation, serving as an alternative to WithKeyHasher.
//
// It is detected during initialization, takes precedence over the built-in
// hasher and is overridden by an explicit WithKeyHasher.
//
// Usage:
//
//	type UserID struct {
//		ID     int64
//		Tenant string
//	}
//
//	func (u *UserID) HashFunc(seed uintptr) uintptr {
//		return uintptr(u.ID) ^ seed
//	}
type IHashFunc interface {
	HashFunc(seed uintptr) uintptr
}

// IEqualFunc defines a custom equality comparison interface for value
// types, serving as an alternative to WithValueEqual.
//
// Usage:
//
//	type UserProfile struct {
//		Name string
//		Tags []string // slice makes this non-comparable
//	}
//
//	func (u *UserProfile) EqualFunc(other UserProfile) bool {
//		return u.Name == other.Name && slices.Equal(u.Tags, other.Tags)
//	}
type IEqualFunc[T any] interface {
	EqualFunc(other T) bool
}

func parseKeyInterface[K comparable]() (keyHash HashFunc) {
	var k *K
	if _, ok := any(k).(IHashFunc); ok {
		keyHash = func(ptr unsafe.Pointer, seed uintptr) uintptr {
			return any((*K)(ptr)).(IHashFunc).HashFunc(seed)
		}
	}
	return
}

func parseValueInterface[V any]() (valEqual EqualFunc) {
	var v *V
	if _, ok := any(v).(IEqualFunc[V]); ok {
		valEqual = func(ptr unsafe.Pointer, other unsafe.Pointer) bool {
			return any((*V)(ptr)).(IEqualFunc[V]).EqualFunc(*(*V)(other))
		}
	}
	return
}
