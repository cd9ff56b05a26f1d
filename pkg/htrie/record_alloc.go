package htrie

// recordAllocSmallCapacity carves a small block for key but leaves it
// incomplete with zero bytes written, for streaming writers that will
// follow up with EntryAdd/EntryMarkComplete.
func (s *Store) recordAllocSmallCapacity(key uint64, capacity int) (offset, error) {
	if capacity > s.smallCapacity() {
		return 0, ErrBadInput
	}

	recOff, err := s.allocSmallBlock()
	if err != nil {
		return 0, err
	}

	storeU64(s.data, recOff+recKeyOff, key)
	storeU32(s.data, recOff+recRefcountOff, 1)
	storeU32(s.data, recOff+smallLengthOff, 0)
	storeU32(s.data, recOff+recFlagsOff, 0) // incomplete until EntryMarkComplete

	return recOff, nil
}

// recordCapacity returns the total payload capacity reserved for a
// record, as opposed to how much of it has been written so far.
func (s *Store) recordCapacity(recOff offset) int {
	if !s.recordIsVariable(recOff) {
		return s.smallCapacity()
	}

	total := 0
	cur := loadOffset(s.data, recOff+varFirstFragOff)
	for cur != nullOffset {
		total += s.fragCapacity()
		cur = loadOffset(s.data, cur+fragNextOff)
	}
	return total
}

// recordWritten returns how many payload bytes have been written so far.
func (s *Store) recordWritten(recOff offset) int {
	if !s.recordIsVariable(recOff) {
		return int(loadU32(s.data, recOff+smallLengthOff))
	}
	return int(loadU64(s.data, recOff+varTotalLenOff))
}

// recordAppendSmall writes data at the current write cursor of an
// incomplete small record.
func (s *Store) recordAppendSmall(recOff offset, data []byte) (int, error) {
	written := int(loadU32(s.data, recOff+smallLengthOff))
	if written+len(data) > s.smallCapacity() {
		return written, ErrBadInput
	}
	copy(s.data[recOff+smallPayloadOff+offset(written):], data)
	storeU32(s.data, recOff+smallLengthOff, uint32(written+len(data)))
	return written + len(data), nil
}
