package htrie

import "fmt"

// route.go walks the trie from the root to the bucket responsible for a
// key, lazily creating buckets and splitting overflowing ones into child
// nodes. Every mutating entry point in api.go funnels through
// lockLiveHead so the split race described on [bucketRetiredOff] is
// handled in exactly one place.

// navigateRead descends from the root following only existing slots,
// never creating anything. Returns found=false if no bucket has ever
// been installed for this key's path.
func (s *Store) navigateRead(key uint64) (headOff offset, found bool) {
	nodeOff := s.rootOffset()
	for level := 0; level < maxTrieDepth; level++ {
		idx := keyIndex(key, level)
		tag, target := nodeLoadSlot(s.data, nodeOff, idx)
		switch tag {
		case slotTagBucket:
			return target, true
		case slotTagChild:
			nodeOff = target
		default:
			return 0, false
		}
	}
	return 0, false
}

// navigateEnsure descends from the root, installing a fresh empty bucket
// at the first empty slot it finds, and returns enough context
// (parentNodeOff, slotIdx, level) for a later split to CAS that exact
// slot.
func (s *Store) navigateEnsure(key uint64) (headOff, parentNodeOff offset, slotIdx, level int, err error) {
	nodeOff := s.rootOffset()

	for lvl := 0; lvl < maxTrieDepth; lvl++ {
		idx := keyIndex(key, lvl)

		for {
			tag, target := nodeLoadSlot(s.data, nodeOff, idx)
			switch tag {
			case slotTagBucket:
				return target, nodeOff, idx, lvl, nil
			case slotTagChild:
				nodeOff = target
			case slotTagEmpty:
				newBucketOff, allocErr := s.allocFragmentBlock()
				if allocErr != nil {
					return 0, 0, 0, 0, allocErr
				}
				bucketInit(s.data, newBucketOff)

				if nodeCASSlot(s.data, nodeOff, idx, slotTagEmpty, nullOffset, slotTagBucket, newBucketOff) {
					return newBucketOff, nodeOff, idx, lvl, nil
				}
				s.freeFragmentBlock(newBucketOff)
			default:
				return 0, 0, 0, 0, fmt.Errorf("corrupt trie slot tag %d: %w", tag, ErrCorrupted)
			}
			if tag == slotTagChild {
				break
			}
		}
	}

	return 0, 0, 0, 0, fmt.Errorf("trie exhausted at max depth: %w", ErrCorrupted)
}

// lockLiveHead navigates to (creating if needed) the bucket responsible
// for key, locks it, and verifies a concurrent split has not retired it
// out from under the caller. If it has, the whole navigation is retried.
func (s *Store) lockLiveHead(key uint64, create bool) (headOff, parentNodeOff offset, slotIdx, level int, err error) {
	for {
		if create {
			headOff, parentNodeOff, slotIdx, level, err = s.navigateEnsure(key)
		} else {
			var found bool
			headOff, found = s.navigateRead(key)
			if !found {
				return 0, 0, 0, 0, ErrKeyAbsent
			}
		}
		if err != nil {
			return 0, 0, 0, 0, err
		}

		spinLock(s.data, headOff+bucketLockOff)
		if !s.bucketIsRetired(headOff) {
			return headOff, parentNodeOff, slotIdx, level, nil
		}
		spinUnlock(s.data, headOff+bucketLockOff)
	}
}

// insertRecord links recOff into the trie under key, splitting the
// target bucket chain into a child node if it has grown past
// [bucketSplitThreshold].
func (s *Store) insertRecord(key uint64, recOff offset) error {
	headOff, parentNodeOff, slotIdx, level, err := s.lockLiveHead(key, true)
	if err != nil {
		return err
	}
	defer spinUnlock(s.data, headOff+bucketLockOff)

	overflowed, err := s.bucketInsertLocked(headOff, recOff)
	if err != nil {
		return err
	}

	if overflowed && level+1 < maxTrieDepth {
		s.splitBucketLocked(parentNodeOff, slotIdx, level, headOff)
	}

	return nil
}

// splitBucketLocked redistributes every record in the chain rooted at
// headOff into a freshly allocated child node at level+1, then swaps the
// parent slot to point at the child. The caller must hold headOff's
// lock and continues to hold it after this returns; the old chain is
// simply marked retired and left for the epoch reclaimer.
//
// If the parent slot CAS loses a race (observed only when another split
// targets the same slot concurrently, which the head lock otherwise
// prevents), the split is abandoned rather than retried, since the old
// chain is still perfectly valid and reachable in that case; the new
// child and its buckets stay allocated but unreachable, and nothing frees
// them.
func (s *Store) splitBucketLocked(parentNodeOff offset, slotIdx, level int, headOff offset) {
	records := s.bucketAllOffsets(headOff)

	childOff, err := s.allocFragmentBlock()
	if err != nil {
		return // out of space: leave the chain as-is, just don't split
	}
	nodeInitEmpty(s.data, childOff)

	for _, recOff := range records {
		key, _, _ := s.recordKeyState(recOff)
		idx := keyIndex(key, level+1)
		s.insertIntoNode(childOff, idx, level+1, recOff)
	}

	if !nodeCASSlot(s.data, parentNodeOff, slotIdx, slotTagBucket, headOff, slotTagChild, childOff) {
		return
	}

	s.bucketMarkRetired(headOff)
	for _, blk := range s.bucketChainBlocks(headOff) {
		s.retire(blockClassFragment, blk)
	}
}

// insertIntoNode inserts recOff into the bucket reachable from nodeOff's
// slot idx, creating that bucket if needed, and recursively splitting
// again if the redistribution itself overflows (rare, but possible when
// many keys still share bits at the next level too).
func (s *Store) insertIntoNode(nodeOff offset, idx, level int, recOff offset) {
	var headOff offset
	for {
		tag, target := nodeLoadSlot(s.data, nodeOff, idx)
		if tag == slotTagBucket {
			headOff = target
			break
		}
		newBucketOff, err := s.allocFragmentBlock()
		if err != nil {
			return
		}
		bucketInit(s.data, newBucketOff)
		if nodeCASSlot(s.data, nodeOff, idx, slotTagEmpty, nullOffset, slotTagBucket, newBucketOff) {
			headOff = newBucketOff
			break
		}
		s.freeFragmentBlock(newBucketOff)
	}

	spinLock(s.data, headOff+bucketLockOff)
	overflowed, err := s.bucketInsertLocked(headOff, recOff)
	if err == nil && overflowed && level+1 < maxTrieDepth {
		s.splitBucketLocked(nodeOff, idx, level, headOff)
	}
	spinUnlock(s.data, headOff+bucketLockOff)
}

// removeRecord locates key, tombstones its record, unlinks it from its
// bucket, drops the trie's own reference, and retires its storage if
// nothing else still holds it.
func (s *Store) removeRecord(key uint64) error {
	headOff, _, _, _, err := s.lockLiveHead(key, false)
	if err != nil {
		return err
	}
	defer spinUnlock(s.data, headOff+bucketLockOff)

	recOff, found := s.bucketFindMatchLocked(headOff, key, nil, nil)
	if !found {
		return ErrKeyAbsent
	}

	s.recordMarkTombstone(recOff)
	s.bucketRemoveLocked(headOff, recOff)

	if s.recordRelease(recOff) <= 0 {
		s.retireRecordIfSafe(recOff)
	}

	return nil
}
