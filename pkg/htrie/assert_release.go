//go:build !htrie_debug

package htrie

// assertf is a no-op in production builds: invariant violations it would
// have caught are reported through the normal error path instead (or, if
// they reach here at all, indicate memory corruption no assertion would
// have helped diagnose anyway). See assert.go for the htrie_debug build
// that panics.
func assertf(cond bool, format string, args ...any) {}
