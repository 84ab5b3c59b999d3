package hashsmith

import (
	"math/bits"
	"unsafe"
)

// ============================================================================
// Private Constants
// ============================================================================

const (
	intSize = 32 << (^uint(0) >> 63) // 32 or 64
	maxInt  = 1<<(intSize-1) - 1     // MaxInt32 or MaxInt64 depending on intSize.

	// maxCapacity bounds the slot count of a single table so that slot
	// indexes and probe arithmetic stay within uint32.
	maxCapacity = 1 << 30
)

// SWAR constants. A control word packs eight control bytes little-endian,
// slot j of the word lives in bits [8j, 8j+8).
const (
	loBits   uint64 = 0x0101010101010101
	lowSeven uint64 = 0x7f7f7f7f7f7f7f7f
	hiBits   uint64 = 0x8080808080808080
	// packMul gathers the top bit of every byte into the top byte of the
	// product: byte k of the multiplier is 1<<(7-k).
	packMul uint64 = 0x0102040810204080
)

// ============================================================================
// Utility Functions
// ============================================================================

// ceilingPowerOfTwo calculates the smallest power of 2 that is greater than
// or equal to n. It returns 1 for n <= 1.
// Compatible with both 32-bit and 64-bit systems.
//
//go:nosplit
func ceilingPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	if intSize == 64 {
		v |= v >> 32
	}
	return v + 1
}

// noescape hides a pointer from escape analysis. noescape is
// the identity function, but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	//nolint:all
	//goland:noinspection ALL
	return unsafe.Pointer(x ^ 0)
}

// ============================================================================
// SWAR Utilities
// ============================================================================

// broadcast replicates a byte value across all bytes of an uint64.
//
//go:nosplit
func broadcast(b uint8) uint64 {
	return loBits * uint64(b)
}

// markZeroBytes implements SWAR (SIMD Within A Register) byte search.
// Returns an uint64 with the most significant bit of each byte set if
// that byte is zero.
//
// Notes:
//   - Unlike the borrow-based (w - 0x01..01) & ^w variant, the carry-free
//     form never reports false positives, so a control group can be matched
//     without re-checking each byte.
//   - (w & 0x7f..7f) + 0x7f..7f sets the top bit of every byte whose low
//     seven bits are non-zero; OR-ing w adds bytes whose top bit is set.
//     The complement leaves exactly the zero bytes marked.
//
//go:nosplit
func markZeroBytes(w uint64) uint64 {
	return ^((w&lowSeven + lowSeven) | w) & hiBits
}

// packMarks compresses the per-byte top-bit markers of w into an 8-bit lane
// mask, lane j set when byte j is marked.
//
//go:nosplit
func packMarks(w uint64) uint32 {
	return uint32(((w >> 7) * packMul) >> 56)
}

// byteAt returns byte idx of w.
//
//go:nosplit
func byteAt(w uint64, idx int) uint8 {
	return uint8(w >> (idx << 3))
}

// setByte sets the byte at index idx in the uint64 w to the value b.
// Returns the modified uint64 value.
//
//go:nosplit
func setByte(w uint64, b uint8, idx int) uint64 {
	shift := idx << 3
	return (w &^ (0xff << shift)) | (uint64(b) << shift)
}

// firstLane returns the index of the lowest set lane of a match mask.
//
//go:nosplit
func firstLane(m uint32) int {
	return bits.TrailingZeros32(m)
}

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
