//go:build !hashsmith_enable_padding && (amd64 || 386 || arm || mips || mipsle || wasm || hashsmith_disable_padding)

package opt

// PaddingMult_ disables cache-line padding between shards.
// Force it off with -tags=hashsmith_disable_padding.
const PaddingMult_ = 0
