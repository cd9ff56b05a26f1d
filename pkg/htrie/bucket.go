package htrie

// A bucket is a leaf container: a spinlock-guarded header with a small
// number of inline record-offset slots, plus an overflow-chain link to
// another bucket block when those slots fill up.
//
//	0x00  lockWord     uint32  CAS spinlock, head bucket only
//	0x04  version      uint32  seqlock counter: odd while being mutated
//	0x08  overflow     uint64  offset of next bucket in the chain, or 0
//	0x10  count        uint32  informational record count
//	0x14  _pad         uint32
//	0x18  slots[8]     uint64  inline record offsets, 0 = empty
//	0x58  retireEpoch  uint64
//
// Only the head bucket of a chain (the one a trie slot points at) ever
// has its lock word taken; that single lock serializes every writer
// touching any bucket in the chain. Each physical bucket still carries
// its own version counter so lock-free readers can validate the node
// they are actually scanning without caring which lock protected the
// write.
const (
	bucketLockOff     = 0x00
	bucketVersionOff  = 0x04
	bucketOverflowOff = 0x08
	bucketCountOff    = 0x10
	// bucketRetiredOff reuses the header's alignment padding to flag a
	// head bucket that has been swapped out of the trie by a split. A
	// goroutine that navigated to this offset before the split, then
	// blocked on the lock until the split released it, checks this flag
	// immediately after acquiring the lock and retries navigation from
	// the parent instead of mutating orphaned memory.
	bucketRetiredOff = 0x14
	bucketSlotsOff   = 0x18
	bucketEpochOff    = bucketSlotsOff + bucketInlineSlots*8
	bucketBlockBytes  = bucketEpochOff + 8

	// bucketSplitThreshold is the overflow chain length (bucket blocks
	// beyond the head) that, once an insert leaves the chain longer than
	// it, converts the slot holding this bucket chain into a child trie
	// node instead of growing the chain further.
	bucketSplitThreshold = 2
)

func bucketSlotOffset(bucketOff offset, idx int) offset {
	return bucketOff + bucketSlotsOff + offset(idx*8)
}

// bucketInit zeroes every field of a bucket block, whether it was freshly
// carved or recycled off a free list.
func bucketInit(b []byte, bucketOff offset) {
	storeU32(b, bucketOff+bucketLockOff, bucketUnlocked)
	storeU32(b, bucketOff+bucketVersionOff, 0)
	storeOffset(b, bucketOff+bucketOverflowOff, nullOffset)
	storeU32(b, bucketOff+bucketCountOff, 0)
	storeU32(b, bucketOff+bucketRetiredOff, 0)
	for i := 0; i < bucketInlineSlots; i++ {
		storeOffset(b, bucketSlotOffset(bucketOff, i), nullOffset)
	}
	storeU64(b, bucketOff+bucketEpochOff, 0)
}

func bucketBumpVersionOdd(b []byte, bucketOff offset) uint32 {
	v := loadU32(b, bucketOff+bucketVersionOff)
	storeU32(b, bucketOff+bucketVersionOff, v+1)
	return v
}

func bucketBumpVersionEven(b []byte, bucketOff offset, prev uint32) {
	storeU32(b, bucketOff+bucketVersionOff, prev+2)
}

// bucketScanCursor marks a resumable position within a collision chain:
// the physical bucket block currently being examined and the next
// inline slot index inside it to check. Its zero value means "not yet
// started"; [bucketScanStart] produces the cursor a fresh scan begins
// from, and [Store.bucketScanAdvance] both consumes and produces one so
// a caller can pick a scan back up across several calls instead of
// re-walking the chain from the head every time (RecGet/RecNext depend
// on this: a collision chain has to be walkable one match at a time).
type bucketScanCursor struct {
	node offset
	idx  int
}

func bucketScanStart(headOff offset) bucketScanCursor {
	return bucketScanCursor{node: headOff, idx: 0}
}

// bucketScanAdvance resumes an optimistic, lock-free scan for key from
// cur, returning the next matching record with its refcount already
// incremented. retry tells the caller a writer mutated a node mid-scan;
// the caller should restart from [bucketScanStart] of the chain's head,
// not from cur, since cur's bucket may have just been reorganized.
func (s *Store) bucketScanAdvance(cur bucketScanCursor, key uint64) (recOff offset, next bucketScanCursor, found bool, retry bool) {
	node := cur.node
	idx := cur.idx
	for node != nullOffset {
		v1 := loadU32(s.data, node+bucketVersionOff)
		if v1&1 == 1 {
			return nullOffset, bucketScanCursor{}, false, true
		}

		for i := idx; i < bucketInlineSlots; i++ {
			ro := loadOffset(s.data, bucketSlotOffset(node, i))
			if ro == nullOffset {
				continue
			}
			k, tomb, complete := s.recordKeyState(ro)
			if k != key || !complete || tomb {
				continue
			}
			if !s.recordAcquireLive(ro) {
				continue // tombstoned between the key check above and the acquire
			}

			v2 := loadU32(s.data, node+bucketVersionOff)
			if v1 != v2 {
				s.recordRelease(ro)
				return nullOffset, bucketScanCursor{}, false, true
			}
			return ro, bucketScanCursor{node: node, idx: i + 1}, true, false
		}

		nextNode := loadOffset(s.data, node+bucketOverflowOff)
		v2 := loadU32(s.data, node+bucketVersionOff)
		if v1 != v2 {
			return nullOffset, bucketScanCursor{}, false, true
		}

		node = nextNode
		idx = 0
	}
	return nullOffset, bucketScanCursor{}, false, false
}

// bucketFindMatchLocked scans the chain rooted at headOff, already held
// under its writer lock, for the first complete non-tombstoned record
// with the given key that eq accepts. A nil eq matches every record with
// that key, which is what [Store.RecGetAlloc]'s default (no caller
// predicate) and a plain key-only removal both want.
func (s *Store) bucketFindMatchLocked(headOff offset, key uint64, eq EqualFunc, ctx any) (offset, bool) {
	cur := headOff
	for cur != nullOffset {
		for i := 0; i < bucketInlineSlots; i++ {
			ro := loadOffset(s.data, bucketSlotOffset(cur, i))
			if ro == nullOffset {
				continue
			}
			k, tomb, complete := s.recordKeyState(ro)
			if k != key || !complete || tomb {
				continue
			}
			if eq == nil || eq(RecordView{s: s, rec: ro}, ctx) {
				return ro, true
			}
		}
		cur = loadOffset(s.data, cur+bucketOverflowOff)
	}
	return nullOffset, false
}

// bucketTombstoneMatchingLocked tombstones, unlinks and drops the trie's
// own refcount share on every record in the chain rooted at headOff
// whose key matches and that eq accepts (nil matches all of them). It is
// [Store.EntryAllocUnique]'s half of the replace-unique protocol: every
// record the caller's predicate says is superseded goes away before the
// fresh one is installed in bucketInsertLocked.
func (s *Store) bucketTombstoneMatchingLocked(headOff offset, key uint64, eq EqualFunc, ctx any) {
	var matches []offset
	cur := headOff
	for cur != nullOffset {
		for i := 0; i < bucketInlineSlots; i++ {
			ro := loadOffset(s.data, bucketSlotOffset(cur, i))
			if ro == nullOffset {
				continue
			}
			k, tomb, complete := s.recordKeyState(ro)
			if k != key || !complete || tomb {
				continue
			}
			if eq == nil || eq(RecordView{s: s, rec: ro}, ctx) {
				matches = append(matches, ro)
			}
		}
		cur = loadOffset(s.data, cur+bucketOverflowOff)
	}

	for _, ro := range matches {
		s.recordMarkTombstone(ro)
		s.bucketRemoveLocked(headOff, ro)
		if s.recordRelease(ro) <= 0 {
			s.retireRecordIfSafe(ro)
		}
	}
}

// bucketChainLen counts overflow links beyond the head (0 means the head
// alone). Callers already hold the head's lock, so no concurrent writer
// can be extending the chain underneath this walk.
func (s *Store) bucketChainLen(headOff offset) int {
	n := 0
	cur := loadOffset(s.data, headOff+bucketOverflowOff)
	for cur != nullOffset {
		n++
		cur = loadOffset(s.data, cur+bucketOverflowOff)
	}
	return n
}

func (s *Store) bucketIsRetired(headOff offset) bool {
	return loadU32(s.data, headOff+bucketRetiredOff) != 0
}

func (s *Store) bucketMarkRetired(headOff offset) {
	storeU32(s.data, headOff+bucketRetiredOff, 1)
}

// bucketInsertLocked adds recOff to the bucket chain rooted at headOff.
// The caller must already hold headOff's spinlock (see route.go's
// lockLiveHead). Returns true if, after the insert, the chain is longer
// than [bucketSplitThreshold], a signal to the caller that it should consider
// splitting this slot into a child node before unlocking.
func (s *Store) bucketInsertLocked(headOff offset, recOff offset) (overflowed bool, err error) {
	cur := headOff
	for {
		for i := 0; i < bucketInlineSlots; i++ {
			slotOff := bucketSlotOffset(cur, i)
			if loadOffset(s.data, slotOff) == nullOffset {
				prev := bucketBumpVersionOdd(s.data, cur)
				storeOffset(s.data, slotOff, recOff)
				addU32(s.data, cur+bucketCountOff, 1)
				bucketBumpVersionEven(s.data, cur, prev)
				return s.bucketChainLen(headOff) > bucketSplitThreshold, nil
			}
		}

		next := loadOffset(s.data, cur+bucketOverflowOff)
		if next == nullOffset {
			newOff, allocErr := s.allocFragmentBlock()
			if allocErr != nil {
				return false, allocErr
			}
			bucketInit(s.data, newOff)

			prev := bucketBumpVersionOdd(s.data, cur)
			storeOffset(s.data, cur+bucketOverflowOff, newOff)
			bucketBumpVersionEven(s.data, cur, prev)

			cur = newOff
			continue
		}
		cur = next
	}
}

// bucketRemoveLocked unlinks recOff from the chain rooted at headOff,
// returning true if it was found. The caller must already hold headOff's
// spinlock. The record itself is not freed here; lifecycle.go decides
// when a record's storage can actually be reclaimed based on its
// refcount.
func (s *Store) bucketRemoveLocked(headOff offset, recOff offset) bool {
	cur := headOff
	for cur != nullOffset {
		for i := 0; i < bucketInlineSlots; i++ {
			slotOff := bucketSlotOffset(cur, i)
			if loadOffset(s.data, slotOff) == recOff {
				prev := bucketBumpVersionOdd(s.data, cur)
				storeOffset(s.data, slotOff, nullOffset)
				addU32(s.data, cur+bucketCountOff, ^uint32(0))
				bucketBumpVersionEven(s.data, cur, prev)
				return true
			}
		}
		cur = loadOffset(s.data, cur+bucketOverflowOff)
	}
	return false
}

// bucketAllOffsets collects every non-empty record slot across the chain
// rooted at headOff, for use by split and walk, both of which already
// hold (or don't need) the head lock and want a simple snapshot.
func (s *Store) bucketAllOffsets(headOff offset) []offset {
	var out []offset
	cur := headOff
	for cur != nullOffset {
		for i := 0; i < bucketInlineSlots; i++ {
			ro := loadOffset(s.data, bucketSlotOffset(cur, i))
			if ro != nullOffset {
				out = append(out, ro)
			}
		}
		cur = loadOffset(s.data, cur+bucketOverflowOff)
	}
	return out
}

// bucketChainBlocks returns every physical block offset in the chain,
// head first, for retirement after a split.
func (s *Store) bucketChainBlocks(headOff offset) []offset {
	var out []offset
	cur := headOff
	for cur != nullOffset {
		out = append(out, cur)
		cur = loadOffset(s.data, cur+bucketOverflowOff)
	}
	return out
}
