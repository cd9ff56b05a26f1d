package htrie

import (
	"sync/atomic"
	"unsafe"
)

// offset is a byte offset into the mapped file. An offset of zero is the
// reserved "null" value; no real allocation ever begins at byte zero
// because the header occupies it.
type offset uint64

const nullOffset offset = 0

// ptr returns an unsafe pointer into b at the given offset, for use with
// the atomic package's pointer-based load/store/CAS. Every field reached
// this way is stored in native CPU byte order, not little-endian wire
// format, which is why [Open] refuses to run on anything but a 64-bit
// little-endian platform: the file format and the CPU's atomic word
// order must agree or a reopen on different hardware would silently
// misread counters.
func ptr(b []byte, at offset) unsafe.Pointer {
	return unsafe.Pointer(&b[at])
}

// The helpers below read and write fixed-width fields directly against the
// mapped byte slice using the atomic package's pointer-cast idiom, matching
// the load/store helpers slotcache used for lock-free header and slot
// access. Every multi-byte field the trie mutates concurrently goes
// through one of these, never a plain slice write, so that concurrent
// readers never observe a torn value.

func loadU32(b []byte, at offset) uint32 {
	p := (*uint32)(ptr(b, at))
	return atomic.LoadUint32(p)
}

func storeU32(b []byte, at offset, v uint32) {
	p := (*uint32)(ptr(b, at))
	atomic.StoreUint32(p, v)
}

func casU32(b []byte, at offset, old, new uint32) bool {
	p := (*uint32)(ptr(b, at))
	return atomic.CompareAndSwapUint32(p, old, new)
}

func addU32(b []byte, at offset, delta uint32) uint32 {
	p := (*uint32)(ptr(b, at))
	return atomic.AddUint32(p, delta)
}

func loadU64(b []byte, at offset) uint64 {
	p := (*uint64)(ptr(b, at))
	return atomic.LoadUint64(p)
}

func storeU64(b []byte, at offset, v uint64) {
	p := (*uint64)(ptr(b, at))
	atomic.StoreUint64(p, v)
}

func casU64(b []byte, at offset, old, new uint64) bool {
	p := (*uint64)(ptr(b, at))
	return atomic.CompareAndSwapUint64(p, old, new)
}

func addU64(b []byte, at offset, delta uint64) uint64 {
	p := (*uint64)(ptr(b, at))
	return atomic.AddUint64(p, delta)
}

func loadI32(b []byte, at offset) int32 {
	p := (*int32)(ptr(b, at))
	return atomic.LoadInt32(p)
}

func addI32(b []byte, at offset, delta int32) int32 {
	p := (*int32)(ptr(b, at))
	return atomic.AddInt32(p, delta)
}

func casI32(b []byte, at offset, old, new int32) bool {
	p := (*int32)(ptr(b, at))
	return atomic.CompareAndSwapInt32(p, old, new)
}

// loadOffset and storeOffset adapt the uint64 atomics above to the
// offset type; every trie slot, bucket link and free-list head is one of
// these.
func loadOffset(b []byte, at offset) offset {
	return offset(loadU64(b, at))
}

func storeOffset(b []byte, at offset, v offset) {
	storeU64(b, at, uint64(v))
}

func casOffset(b []byte, at offset, old, new offset) bool {
	return casU64(b, at, uint64(old), uint64(new))
}
