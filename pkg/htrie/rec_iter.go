package htrie

// rec_iter.go implements the refcounted collision-chain walk: rec_get,
// rec_next, rec_put and rec_keep. A key may have more than one live
// record (§3's collision chaining); [Store.RecGet] returns an [Iter]
// positioned on the first of them with its refcount already held, and
// [Store.RecNext] walks the rest one at a time. The refcount held at any
// position is exactly what keeps that record's blocks from being handed
// back to the allocator out from under a caller still reading it (see
// lifecycle.go); it is the caller's job to release it with
// [Store.RecPut].

// Iter is a cursor positioned on one record of a key's collision chain,
// returned by [Store.RecGet]. It pins the epoch reclaimer for its whole
// lifetime (released once the chain is exhausted, the iterator errors,
// or it is explicitly put), so a caller must drive it to one of those
// outcomes rather than abandoning it mid-walk.
type Iter struct {
	s       *Store
	key     uint64
	headOff offset
	cursor  bucketScanCursor

	cur      offset // record currently held; nullOffset once exhausted
	released bool   // whether the caller (or exhaustion) already released cur

	pin    pin
	pinned bool
}

// Key returns the key this iterator was opened for.
func (it *Iter) Key() uint64 { return it.key }

// Ref returns a handle to the record the iterator is currently
// positioned on.
func (it *Iter) Ref() Ref { return Ref(it.cur) }

// Data returns the payload of the record the iterator is currently
// positioned on.
func (it *Iter) Data() []byte {
	it.s.mu.RLock()
	defer it.s.mu.RUnlock()
	return it.s.recordRead(it.cur)
}

func (it *Iter) releasePin() {
	if it.pinned {
		it.s.epoch.releasePin(it.pin)
		it.pinned = false
	}
}

// advance scans forward from the iterator's cursor for the next record
// matching its key, restarting the chain walk from the head whenever it
// observes a writer mid-mutation. it.cur is left at nullOffset once the
// chain is exhausted.
func (it *Iter) advance(start bucketScanCursor) error {
	cur := start
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		recOff, next, found, retry := it.s.bucketScanAdvance(cur, it.key)
		if retry {
			cur = bucketScanStart(it.headOff)
			continue
		}
		if !found {
			it.cur = nullOffset
			return nil
		}
		it.cur = recOff
		it.cursor = next
		it.released = false
		return nil
	}
	return ErrTransient
}

// RecGet returns an [Iter] positioned on the first record matching key,
// its refcount already incremented, or [ErrKeyAbsent] if no complete,
// non-tombstoned record exists for it. Like every other read in this
// package it is lock-free, retrying internally up to a bounded budget
// and surfacing [ErrTransient] only if it could not complete a
// consistent scan within that budget.
func (s *Store) RecGet(key uint64) (*Iter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	p := s.epoch.acquirePin()

	headOff, found := s.navigateRead(key)
	if !found {
		s.epoch.releasePin(p)
		return nil, ErrKeyAbsent
	}

	it := &Iter{s: s, key: key, headOff: headOff, pin: p, pinned: true, released: true}
	if err := it.advance(bucketScanStart(headOff)); err != nil {
		it.releasePin()
		return nil, err
	}
	if it.cur == nullOffset {
		it.releasePin()
		return nil, ErrKeyAbsent
	}
	return it, nil
}

// RecNext releases the record it is currently positioned on, unless the
// caller already released it with [Store.RecPut], and advances to the
// next record sharing it.Key() in the collision chain. It reports false
// once the chain is exhausted; a false result needs no further RecPut,
// since the iterator is no longer holding anything.
func (s *Store) RecNext(it *Iter) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return false, ErrClosed
	}

	if !it.released && it.cur != nullOffset {
		s.recordRelease(it.cur)
		it.released = true
	}

	if !it.pinned {
		// RecPut released the pin; walking on needs a fresh one.
		it.pin = s.epoch.acquirePin()
		it.pinned = true
	}

	if err := it.advance(it.cursor); err != nil {
		it.releasePin()
		return false, err
	}
	if it.cur == nullOffset {
		it.releasePin()
		return false, nil
	}
	return true, nil
}

// RecPut releases the refcount hold an [Iter] is currently positioned
// on. It is safe to call at most once per position reached via RecGet or
// RecNext; a second call without an intervening advance is a caller bug.
// In htrie_debug builds that bug is caught by an assertion; in
// production builds the extra call is a silent no-op, so a misbehaving
// caller corrupts nothing: the refcount stays exactly as the first put
// left it (property 3: a double put must be detectable and must not
// corrupt the count). RecPut also releases the iterator's epoch pin; a
// later [Store.RecNext] on the same iterator takes a new one.
func (s *Store) RecPut(it *Iter) {
	if it == nil {
		return
	}
	if it.released || it.cur == nullOffset {
		assertf(false, "htrie: double RecPut on iterator for key %d", it.key)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	it.released = true
	if s.recordRelease(it.cur) <= 0 {
		s.retireRecordIfSafe(it.cur)
	}
	it.releasePin()
}

// RecKeep grants an additional, independently releasable refcount share
// on the record an [Iter] is currently positioned on. The returned Ref
// may outlive the iterator itself (e.g. to hand to another goroutine);
// release it with [Store.RecPutRef], separately from whatever RecPut the
// iterator itself still owes.
func (s *Store) RecKeep(it *Iter) Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.recordAcquire(it.cur)
	return Ref(it.cur)
}

// RecPutRef releases one refcount share obtained from [Store.RecKeep]. It
// is keyed by Ref rather than by iterator position because a kept share
// is meant to outlive the iterator that produced it.
func (s *Store) RecPutRef(ref Ref) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recOff := offset(ref)
	if s.recordRelease(recOff) <= 0 {
		s.retireRecordIfSafe(recOff)
	}
}
