//go:build race

package opt

// Race_ reports whether the binary was built with the race detector.
// Tests use it to scale down stress loops.
const Race_ = true
