package htrie

import "fmt"

// Both record shapes share a common prefix so a reader can inspect key,
// flags and refcount without first deciding which shape it is looking
// at:
//
//	0x00  key        uint64
//	0x08  flags      uint32  complete | tombstone | variable
//	0x0C  refcount   int32   atomic
//
// Small (fixed) record: the whole payload lives in this one block,
// allocated from the small class. [Store.EntryCreate] publishes it complete
// in the same call; [Store.EntryAlloc], [Store.RecGetAlloc] and
// [Store.EntryAllocUnique] can also hand out a small record that stays
// incomplete until it is marked complete.
//
//	0x10  length     uint32
//	0x14  _pad       uint32
//	0x18  payload    [...]byte
//
// Variable record: a header (fragment class) referencing a chain of
// fragment blocks (also fragment class) holding the payload.
//
//	0x10  totalLen       uint64
//	0x18  firstFragment  uint64
//	0x20  tailFragment   uint64
//
// Fragment block:
//
//	0x00  length     uint32  valid bytes in this fragment ("chop tail":
//	                         bytes beyond length are never read, even
//	                         though the block may be larger)
//	0x04  _pad       uint32
//	0x08  next       uint64  offset of next fragment, 0 = tail
//	0x10  payload    [...]byte
const (
	recKeyOff      = 0x00
	recFlagsOff    = 0x08
	recRefcountOff = 0x0C

	smallLengthOff  = 0x10
	smallPayloadOff = 0x18

	varTotalLenOff      = 0x10
	varFirstFragOff     = 0x18
	varTailFragOff      = 0x20
	varHeaderBlockBytes = 0x28

	fragLengthOff  = 0x00
	fragNextOff    = 0x08
	fragPayloadOff = 0x10
)

// smallCapacity returns the largest payload that fits a single small
// block.
func (s *Store) smallCapacity() int {
	return int(s.smallSize) - smallPayloadOff
}

// fragCapacity returns the payload bytes one fragment block holds.
func (s *Store) fragCapacity() int {
	return int(s.fragSize) - fragPayloadOff
}

// recordKeyState reads the shared-prefix fields of a record without
// regard to shape. flags are loaded atomically; key is written once at
// allocation and never mutated, so a plain indexed load is safe.
func (s *Store) recordKeyState(recOff offset) (key uint64, tombstone bool, complete bool) {
	key = loadU64(s.data, recOff+recKeyOff)
	flags := loadU32(s.data, recOff+recFlagsOff)
	return key, flags&recordFlagTombstone != 0, flags&recordFlagComplete != 0
}

func (s *Store) recordIsVariable(recOff offset) bool {
	flags := loadU32(s.data, recOff+recFlagsOff)
	return flags&recordFlagVariable != 0
}

// recordAllocSmall carves a small block, writes its header and payload,
// and returns its offset. The record is born complete (unlike
// recordAllocSmallCapacity, which leaves its small record incomplete).
func (s *Store) recordAllocSmall(key uint64, payload []byte) (offset, error) {
	if len(payload) > s.smallCapacity() {
		return 0, fmt.Errorf("payload %d exceeds small capacity %d: %w", len(payload), s.smallCapacity(), ErrBadInput)
	}

	recOff, err := s.allocSmallBlock()
	if err != nil {
		return 0, err
	}

	storeU64(s.data, recOff+recKeyOff, key)
	storeU32(s.data, recOff+recRefcountOff, 1) // bit pattern of int32(1)
	storeU32(s.data, recOff+smallLengthOff, uint32(len(payload)))
	copy(s.data[recOff+smallPayloadOff:], payload)
	storeU32(s.data, recOff+recFlagsOff, recordFlagComplete)

	return recOff, nil
}

// recordAllocVariableCapacity allocates a variable record header plus
// enough fragment blocks to hold capacity bytes, but leaves it marked
// incomplete with zero bytes written; EntryAdd fills it and
// EntryMarkComplete publishes it.
func (s *Store) recordAllocVariableCapacity(key uint64, capacity int) (offset, error) {
	hdrOff, err := s.allocFragmentBlock()
	if err != nil {
		return 0, err
	}

	storeU64(s.data, hdrOff+recKeyOff, key)
	storeU32(s.data, hdrOff+recRefcountOff, 1) // bit pattern of int32(1)
	storeU64(s.data, hdrOff+varTotalLenOff, 0)
	storeOffset(s.data, hdrOff+varFirstFragOff, nullOffset)
	storeOffset(s.data, hdrOff+varTailFragOff, nullOffset)
	storeU32(s.data, hdrOff+recFlagsOff, recordFlagVariable)

	remaining := capacity
	tail := nullOffset
	for remaining > 0 {
		fragOff, allocErr := s.allocFragmentBlock()
		if allocErr != nil {
			return 0, allocErr
		}
		storeU32(s.data, fragOff+fragLengthOff, 0)
		storeOffset(s.data, fragOff+fragNextOff, nullOffset)

		if tail == nullOffset {
			storeOffset(s.data, hdrOff+varFirstFragOff, fragOff)
		} else {
			storeOffset(s.data, tail+fragNextOff, fragOff)
		}
		tail = fragOff
		storeOffset(s.data, hdrOff+varTailFragOff, tail)

		remaining -= s.fragCapacity()
	}

	return hdrOff, nil
}

// recordAppend writes data at the current write cursor (the sum of
// already-valid fragment lengths) of an incomplete variable record,
// failing if it would exceed the capacity reserved at allocation time.
func (s *Store) recordAppend(hdrOff offset, data []byte) (int, error) {
	written := int(loadU64(s.data, hdrOff+varTotalLenOff))

	cur := loadOffset(s.data, hdrOff+varFirstFragOff)
	skip := written
	for cur != nullOffset {
		cap := s.fragCapacity()
		if skip < cap {
			break
		}
		skip -= cap
		cur = loadOffset(s.data, cur+fragNextOff)
	}

	remaining := data
	for len(remaining) > 0 {
		if cur == nullOffset {
			return written, fmt.Errorf("append exceeds reserved capacity: %w", ErrBadInput)
		}
		cap := s.fragCapacity()
		curLen := int(loadU32(s.data, cur+fragLengthOff))
		room := cap - curLen
		if room <= 0 {
			cur = loadOffset(s.data, cur+fragNextOff)
			continue
		}
		n := len(remaining)
		if n > room {
			n = room
		}
		copy(s.data[cur+fragPayloadOff+offset(curLen):], remaining[:n])
		storeU32(s.data, cur+fragLengthOff, uint32(curLen+n))
		remaining = remaining[n:]
		written += n
	}

	storeU64(s.data, hdrOff+varTotalLenOff, uint64(written))
	return written, nil
}

// recordMarkComplete publishes a record by setting its complete flag
// with a release store: any reader that subsequently observes the flag
// also observes every payload byte written before this call, because
// every write above happened-before this atomic store, and readers pair
// it with an acquire load of the same word.
func (s *Store) recordMarkComplete(recOff offset) {
	flags := loadU32(s.data, recOff+recFlagsOff)
	storeU32(s.data, recOff+recFlagsOff, flags|recordFlagComplete)
}

func (s *Store) recordMarkTombstone(recOff offset) {
	flags := loadU32(s.data, recOff+recFlagsOff)
	storeU32(s.data, recOff+recFlagsOff, flags|recordFlagTombstone)
}

// recordRead assembles the full payload of a record, following its
// fragment chain if variable. Only the bytes each fragment reports as
// valid (its chopped length) are read, so a record still being appended
// to never exposes uninitialized tail bytes even if read concurrently --
// though ordinary callers only reach here after confirming recordFlagComplete.
func (s *Store) recordRead(recOff offset) []byte {
	if !s.recordIsVariable(recOff) {
		n := loadU32(s.data, recOff+smallLengthOff)
		out := make([]byte, n)
		copy(out, s.data[recOff+smallPayloadOff:recOff+smallPayloadOff+offset(n)])
		return out
	}

	total := loadU64(s.data, recOff+varTotalLenOff)
	out := make([]byte, 0, total)
	cur := loadOffset(s.data, recOff+varFirstFragOff)
	for cur != nullOffset && uint64(len(out)) < total {
		n := loadU32(s.data, cur+fragLengthOff)
		out = append(out, s.data[cur+fragPayloadOff:cur+fragPayloadOff+offset(n)]...)
		cur = loadOffset(s.data, cur+fragNextOff)
	}
	return out
}

// recordBlocks returns every physical block backing a record (its header
// plus, for a variable record, every fragment), for use by lifecycle.go
// when a record becomes safe to free.
func (s *Store) recordBlocks(recOff offset) (class uint32, blocks []offset) {
	if !s.recordIsVariable(recOff) {
		return blockClassSmall, []offset{recOff}
	}

	blocks = append(blocks, recOff)
	cur := loadOffset(s.data, recOff+varFirstFragOff)
	for cur != nullOffset {
		next := loadOffset(s.data, cur+fragNextOff)
		blocks = append(blocks, cur)
		cur = next
	}
	return blockClassFragment, blocks
}
