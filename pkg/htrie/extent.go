package htrie

import "fmt"

// The extent allocator carves the backing file into fixed-size extents
// (see [Options.ExtentSize]) and dedicates each one to a single block
// class for its whole lifetime: once an extent is created as "small" or
// "fragment", every block carved from it is that size. Growing the file
// means appending one more extent, never resizing an existing one, so
// every offset ever handed out stays valid forever.

// allocBlock returns the offset of a free block of the given class,
// growing the file if the class's current extent is exhausted.
func (s *Store) allocBlock(class uint32) (offset, error) {
	for {
		s.mu.RLock()
		extOff := loadOffset(s.data, currentExtentOffsetField(class))
		blk, ok := s.tryCarveFromExtent(extOff, class)
		s.mu.RUnlock()

		if ok {
			return blk, nil
		}

		if err := s.growNewExtent(class); err != nil {
			return 0, err
		}
	}
}

// extentDescOffset returns the absolute offset of the allocator
// descriptor for the extent based at extBase. Extent 0 is special: its
// descriptor sits after the file header, not at byte 0.
func (s *Store) extentDescOffset(extBase offset) offset {
	idx := uint64(extBase) / uint64(s.extentSize)
	return extBase + extentDescStart(idx)
}

// tryCarveFromExtent attempts to satisfy one allocation of class from
// the extent based at extOff: first from its free list, then by bumping
// its carve cursor. Must be called with s.mu held for read (it only
// touches already-mapped bytes).
func (s *Store) tryCarveFromExtent(extOff offset, class uint32) (offset, bool) {
	descOff := s.extentDescOffset(extOff)
	freeHeadField := descOff + offExtentFreeHead

	for {
		head := loadOffset(s.data, freeHeadField)
		if head == nullOffset {
			break
		}
		next := loadOffset(s.data, head) // freed blocks link via their first 8 bytes
		if casOffset(s.data, freeHeadField, head, next) {
			return head, true
		}
	}

	blockSize := s.blockSizeFor(class)
	bumpField := descOff + offExtentBump
	extentEnd := extOff + offset(s.extentSize)

	for {
		cur := loadOffset(s.data, bumpField)
		next := cur + offset(blockSize)
		if next > extentEnd {
			return 0, false
		}
		if casOffset(s.data, bumpField, cur, next) {
			return cur, true
		}
	}
}

// growNewExtent appends one new extent dedicated to class and publishes
// it as that class's current extent. Safe to call when another goroutine
// has concurrently already grown the file for the same class: the
// re-check under the write lock then finds room in the current extent
// and returns without appending another one. The file truncate always
// succeeds before the header pointer is updated.
func (s *Store) growNewExtent(class uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Someone may have grown the file for this class while we waited for
	// the write lock; re-check before paying for another extent.
	extOff := loadOffset(s.data, currentExtentOffsetField(class))
	if _, ok := s.tryCarveFromExtent(extOff, class); ok {
		return nil
	}

	oldSize := loadU64(s.data, offFileSize)
	newSize := oldSize + uint64(s.extentSize)

	if s.maxSize != 0 && newSize > s.maxSize {
		return ErrNoSpace
	}

	if err := s.f.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("htrie: growing file: %w", err)
	}

	if err := s.mp.Remap(s.f.Fd(), int(newSize)); err != nil {
		return fmt.Errorf("htrie: remapping after growth: %w", err)
	}
	s.data = s.mp.Bytes

	newExtOff := offset(oldSize)
	descOff := s.extentDescOffset(newExtOff)
	storeU32(s.data, descOff+offExtentClass, class)
	storeOffset(s.data, descOff+offExtentBump, newExtOff+extentUsableStart(1))
	storeOffset(s.data, descOff+offExtentFreeHead, nullOffset)

	storeU64(s.data, offFileSize, newSize)
	addU64(s.data, offExtentCount, 1)
	storeOffset(s.data, currentExtentOffsetField(class), newExtOff)

	return nil
}

// freeBlock returns a block to its extent's free list via a Treiber
// stack push: the freed block's first 8 bytes become the next pointer.
func (s *Store) freeBlock(class uint32, blk offset) {
	extOff := (blk / offset(s.extentSize)) * offset(s.extentSize)
	freeHeadField := s.extentDescOffset(extOff) + offExtentFreeHead

	for {
		head := loadOffset(s.data, freeHeadField)
		storeOffset(s.data, blk, head)
		if casOffset(s.data, freeHeadField, head, blk) {
			return
		}
	}
}
