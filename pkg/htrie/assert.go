//go:build htrie_debug

package htrie

import "fmt"

// assert.go's checks only compile in with the htrie_debug build tag; they
// walk structures that are safe to skip in production but worth paying
// for while developing or running the test suite with -tags htrie_debug.

// assertf panics with a formatted message if cond is false.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("htrie: assertion failed: "+format, args...))
	}
}

// checkNodeSlot verifies a decoded slot's tag is one of the three known
// values.
func checkNodeSlot(tag uint8) {
	assertf(tag == slotTagEmpty || tag == slotTagBucket || tag == slotTagChild, "bad slot tag %d", tag)
}
