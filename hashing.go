package hashsmith

import (
	"fmt"
	"hash/maphash"
	"math/bits"
	"math/rand/v2"
	"reflect"
	"unsafe"
)

// ============================================================================
// Hash Utilities
// ============================================================================

type (
	// HashFunc is the function to hash a value of type K. It returns the
	// key's native hash, which is dispersed before use.
	HashFunc func(ptr unsafe.Pointer, seed uintptr) uintptr
	// EqualFunc is the function to compare two values of type V.
	EqualFunc func(ptr unsafe.Pointer, other unsafe.Pointer) bool
)

const (
	smearC1 uint32 = 0xcc9e2d51
	smearC2 uint32 = 0x1b873593

	// nullKeyHash is the reserved dispersed hash of the nil key.
	nullKeyHash uint32 = 0
)

// smear disperses a native hash with the MurmurHash3 mixing constants so
// that keys whose hash functions only vary in a few bits still spread over
// every bucket and shard.
//
//go:nosplit
func smear(h uint32) uint32 {
	return smearC2 * bits.RotateLeft32(h*smearC1, 15)
}

// fold reduces a native word hash to 32 bits without discarding the high
// half on 64-bit platforms.
//
//go:nosplit
func fold(h uintptr) uint32 {
	return uint32(h) ^ uint32(uint64(h)>>32)
}

// keyHasher turns keys into dispersed 32-bit hashes. One keyHasher is shared
// by every table of a ShardedMap so the hash computed by the wrapper is the
// one each shard would compute itself.
type keyHasher[K comparable] struct {
	keyHash  HashFunc
	seed     uintptr
	nilable  bool
	nullKeys bool
}

func newKeyHasher[K comparable](cfg *MapConfig) (*keyHasher[K], error) {
	h := &keyHasher[K]{
		seed:     uintptr(rand.Uint64()),
		nullKeys: cfg.nullKeys,
	}
	kType := reflect.TypeFor[K]()
	switch kType.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Chan, reflect.UnsafePointer:
		h.nilable = true
	default:
	}

	// Priority: explicit option, then key interface, then built-in.
	switch {
	case cfg.keyHash != nil:
		h.keyHash = cfg.keyHash
	case cfg.stringSet:
		if kType.Kind() != reflect.String {
			return nil, fmt.Errorf("%w: string hasher requires a string key type, got %v",
				ErrInvalidConfiguration, kType)
		}
		h.keyHash = stringHasher(cfg.stringHash)
		if h.keyHash == nil {
			return nil, fmt.Errorf("%w: unknown string hash %v", ErrInvalidConfiguration, cfg.stringHash)
		}
	default:
		if h.keyHash = parseKeyInterface[K](); h.keyHash == nil {
			h.keyHash = defaultHasher[K]()
		}
	}
	return h, nil
}

// isNil reports whether key is the nil value of a nilable key type.
func (h *keyHasher[K]) isNil(key K) bool {
	return h.nilable && key == *new(K)
}

// hash returns the dispersed hash of key. A nil key panics with ErrNullKey
// unless the table accepts nil keys, in which case it hashes to
// nullKeyHash.
func (h *keyHasher[K]) hash(key K) uint32 {
	if h.isNil(key) {
		if h.nullKeys {
			return nullKeyHash
		}
		panic(ErrNullKey)
	}
	return smear(fold(h.keyHash(noescape(unsafe.Pointer(&key)), h.seed)))
}

// hashNullable is used when rehashing keys already admitted into a table;
// it never rejects the nil key.
func (h *keyHasher[K]) hashNullable(key K) uint32 {
	if h.isNil(key) {
		return nullKeyHash
	}
	return smear(fold(h.keyHash(noescape(unsafe.Pointer(&key)), h.seed)))
}

// defaultHasher selects the native hash for K. Integer kinds hash to their
// own value, the way a native hashCode would; the dispersion step mixes
// them. Strings and every other comparable type go through hash/maphash
// with a seed drawn per hasher.
func defaultHasher[K comparable]() HashFunc {
	kType := reflect.TypeFor[K]()
	switch kType.Kind() {
	case reflect.Uint, reflect.Int, reflect.Uintptr:
		return hashUintptr
	case reflect.Int64, reflect.Uint64:
		return hashUint64
	case reflect.Int32, reflect.Uint32:
		return hashUint32
	case reflect.Int16, reflect.Uint16:
		return hashUint16
	case reflect.Int8, reflect.Uint8:
		return hashUint8
	case reflect.String:
		seed := maphash.MakeSeed()
		return func(ptr unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(maphash.String(seed, *(*string)(ptr)))
		}
	default:
		seed := maphash.MakeSeed()
		return func(ptr unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(maphash.Comparable(seed, *(*K)(ptr)))
		}
	}
}

//go:nosplit
func hashUintptr(ptr unsafe.Pointer, _ uintptr) uintptr {
	return *(*uintptr)(ptr)
}

//go:nosplit
func hashUint64(ptr unsafe.Pointer, _ uintptr) uintptr {
	v := *(*uint64)(ptr)
	if intSize == 64 {
		return uintptr(v)
	}
	return uintptr(v) ^ uintptr(v>>32)
}

//go:nosplit
func hashUint32(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint32)(ptr))
}

//go:nosplit
func hashUint16(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint16)(ptr))
}

//go:nosplit
func hashUint8(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint8)(ptr))
}

// newValueEqual resolves the value comparison used by ContainsValue and the
// compare-and-* operations. Priority: explicit option, value interface,
// built-in == for comparable types. For non-comparable V without either,
// the returned function panics on use.
func newValueEqual[V any](cfg *MapConfig) func(a, b V) bool {
	eq := cfg.valEqual
	if eq == nil {
		eq = parseValueInterface[V]()
	}
	if eq != nil {
		return func(a, b V) bool {
			return eq(noescape(unsafe.Pointer(&a)), noescape(unsafe.Pointer(&b)))
		}
	}
	if vType := reflect.TypeFor[V](); vType == nil || vType.Comparable() {
		return func(a, b V) bool {
			return any(a) == any(b)
		}
	}
	return func(a, b V) bool {
		panic(fmt.Sprintf("hashsmith: value type %v is not comparable, use WithValueEqual",
			reflect.TypeFor[V]()))
	}
}
