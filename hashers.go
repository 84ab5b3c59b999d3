package hashsmith

import (
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// stringHasher returns the native hash for string-kinded keys, or nil for
// an unknown algorithm. The pointer must point to a value whose underlying
// type is string.
func stringHasher(alg StringHash) HashFunc {
	switch alg {
	case StringHashMaphash:
		seed := maphash.MakeSeed()
		return func(ptr unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(maphash.String(seed, *(*string)(ptr)))
		}
	case StringHashMurmur3:
		return hashMurmur3
	case StringHashXXH64:
		return hashXXH64
	default:
		return nil
	}
}

func hashMurmur3(ptr unsafe.Pointer, seed uintptr) uintptr {
	s := *(*string)(ptr)
	return uintptr(murmur3.Sum64WithSeed(unsafe.Slice(unsafe.StringData(s), len(s)), uint32(seed)))
}

func hashXXH64(ptr unsafe.Pointer, seed uintptr) uintptr {
	var d xxhash.Digest
	d.ResetWithSeed(uint64(seed))
	_, _ = d.WriteString(*(*string)(ptr))
	return uintptr(d.Sum64())
}
