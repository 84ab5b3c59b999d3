//go:build hashsmith_enable_padding || (!(amd64 || 386 || arm || mips || mipsle || wasm) && !hashsmith_disable_padding)

package opt

// PaddingMult_ enables cache-line padding between shards.
// Padding is automatically enabled for architectures that are NOT:
// - amd64 (x86_64): Hardware optimizations often make padding less critical
// - 32-bit architectures (386, arm, mips, mipsle, wasm): Smaller cache lines/memory constraints
//
// Force it on with -tags=hashsmith_enable_padding.
const PaddingMult_ = 1
