package htrie

// Ref is an opaque handle to a record returned by the allocation
// operations. It is only meaningful for the [Store] that produced it and
// only until that record is removed; it is not a stable identifier
// across a reopen.
type Ref uint64

const nilRef Ref = 0

// RecordView is the read-only snapshot handed to [EqualFunc] and
// [InitFunc]: enough to inspect a record's key and payload without
// handing the callback the refcount/mutation surface a full iterator
// would have. Callbacks receiving one must not call back into the
// [Store] that produced it.
type RecordView struct {
	s   *Store
	rec offset
}

// Key returns the record's key.
func (v RecordView) Key() uint64 {
	k, _, _ := v.s.recordKeyState(v.rec)
	return k
}

// Data returns the record's current payload.
func (v RecordView) Data() []byte {
	return v.s.recordRead(v.rec)
}

// Ref returns the record's handle, for a callback that wants to retain
// it beyond the callback's own invocation (e.g. to pass to [Store.RecKeep]
// via a later [Store.RecGet]).
func (v RecordView) Ref() Ref {
	return Ref(v.rec)
}

// EqualFunc is the equality predicate threaded through [Store.RecGetAlloc]
// and [Store.EntryAllocUnique]: it decides which record among those
// sharing a key counts as "the same one" the caller means. It must be
// pure and side-effect-free, must not call back into the [Store], and
// must tolerate being asked about a record it cannot yet fully judge; a
// nil EqualFunc matches every record sharing the key.
type EqualFunc func(rec RecordView, ctx any) bool

// InitFunc populates a freshly allocated, still-incomplete record while
// [Store.RecGetAlloc] holds the owning bucket's lock. It must be bounded
// work: no blocking I/O, no calls back into the Store. If it returns an
// error, RecGetAlloc aborts and surfaces that error; the half-allocated
// record is never linked into the trie.
type InitFunc func(ref Ref, ctx any) error

// PrecreateFunc runs immediately before [Store.RecGetAlloc] allocates a
// new record (i.e. only on the miss path, never when an existing record
// already satisfies [EqualFunc]). Returning a non-nil error vetoes the
// allocation and that error becomes RecGetAlloc's return value.
type PrecreateFunc func(ctx any) error

// GetAllocCtx carries [Store.RecGetAlloc]'s callback set, its opaque
// context value, and the capacity to reserve on a miss. Ctx is passed to
// Eq, Precreate and Init unmodified; any of the three callbacks may be
// left nil to skip that behavior (Eq nil matches any record for the
// key, Precreate nil never vetoes, Init nil leaves a newly allocated
// record incomplete for the caller to stream into with [Store.EntryAdd]
// and publish with [Store.EntryMarkComplete], exactly as [Store.EntryAlloc]
// would).
type GetAllocCtx struct {
	Eq        EqualFunc
	Precreate PrecreateFunc
	Init      InitFunc
	Ctx       any
	MaxLen    int
}

// EntryCreate allocates a record for key holding the full contents of
// payload and publishes it in one step. The record is always born
// complete: [RecGet] can observe it the instant this call returns.
func (s *Store) EntryCreate(key uint64, payload []byte) (Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nilRef, ErrClosed
	}

	ref, err := s.entryAllocLocked(key, len(payload))
	if err != nil {
		return nilRef, err
	}

	if _, err := s.entryAddLocked(ref, payload); err != nil {
		return nilRef, err
	}

	s.recordMarkComplete(offset(ref))
	return ref, nil
}

// EntryAlloc reserves a record for key with capacity maxLen bytes, not
// yet marked complete, and links it into the trie. Callers stream data
// into it with [Store.EntryAdd] and publish it with
// [Store.EntryMarkComplete]. It does not check for an existing record
// under key; callers that need get-or-allocate semantics want
// [Store.RecGetAlloc] instead.
func (s *Store) EntryAlloc(key uint64, maxLen int) (Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nilRef, ErrClosed
	}
	return s.entryAllocLocked(key, maxLen)
}

func (s *Store) entryAllocLocked(key uint64, maxLen int) (Ref, error) {
	if maxLen < 0 {
		return nilRef, ErrBadInput
	}

	var recOff offset
	var err error
	if maxLen <= s.smallCapacity() {
		recOff, err = s.recordAllocSmallCapacity(key, maxLen)
	} else {
		recOff, err = s.recordAllocVariableCapacity(key, maxLen)
	}
	if err != nil {
		return nilRef, err
	}

	if err := s.insertRecord(key, recOff); err != nil {
		return nilRef, err
	}

	return Ref(recOff), nil
}

// RecGetAlloc is the linearizable get-or-allocate operation: under the
// target bucket's lock, it either returns the existing record matching
// gctx.Eq (isNew=false, refcount incremented), or allocates and links a
// fresh one with capacity gctx.MaxLen, optionally runs gctx.Init against
// it and marks it complete, and returns that instead (isNew=true).
// Unlike every other read in this package, this one is not lock-free by
// design -- the decision of whether key already has a matching record
// has to be made atomically with respect to every other caller racing to
// create one.
func (s *Store) RecGetAlloc(key uint64, gctx GetAllocCtx) (ref Ref, isNew bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nilRef, false, ErrClosed
	}
	if gctx.MaxLen < 0 {
		return nilRef, false, ErrBadInput
	}

	headOff, parentNodeOff, slotIdx, level, err := s.lockLiveHead(key, true)
	if err != nil {
		return nilRef, false, err
	}
	defer spinUnlock(s.data, headOff+bucketLockOff)

	if recOff, found := s.bucketFindMatchLocked(headOff, key, gctx.Eq, gctx.Ctx); found {
		s.recordAcquire(recOff)
		return Ref(recOff), false, nil
	}

	if gctx.Precreate != nil {
		if err := gctx.Precreate(gctx.Ctx); err != nil {
			return nilRef, false, err
		}
	}

	var recOff offset
	if gctx.MaxLen <= s.smallCapacity() {
		recOff, err = s.recordAllocSmallCapacity(key, gctx.MaxLen)
	} else {
		recOff, err = s.recordAllocVariableCapacity(key, gctx.MaxLen)
	}
	if err != nil {
		return nilRef, false, err
	}

	if gctx.Init != nil {
		if err := gctx.Init(Ref(recOff), gctx.Ctx); err != nil {
			return nilRef, false, err
		}
		s.recordMarkComplete(recOff)
	}

	overflowed, err := s.bucketInsertLocked(headOff, recOff)
	if err != nil {
		return nilRef, false, err
	}
	if overflowed && level+1 < maxTrieDepth {
		s.splitBucketLocked(parentNodeOff, slotIdx, level, headOff)
	}

	return Ref(recOff), true, nil
}

// EntryAllocUnique implements the alloc_unique / replace-unique
// compound: under key's bucket lock, it tombstones and drops the trie's
// refcount share on every existing record for key that eq accepts (a nil
// eq matches all of them), then allocates a fresh incomplete record of
// capacity maxLen and links it in their place. It never returns an
// existing record -- the point of replace-unique is that whatever used
// to match eq is superseded, not reused. Callers populate the returned
// ref with [Store.EntryAdd] and publish it with [Store.EntryMarkComplete],
// same as [Store.EntryAlloc].
func (s *Store) EntryAllocUnique(key uint64, maxLen int, eq EqualFunc, ctx any) (Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nilRef, ErrClosed
	}
	if maxLen < 0 {
		return nilRef, ErrBadInput
	}

	headOff, parentNodeOff, slotIdx, level, err := s.lockLiveHead(key, true)
	if err != nil {
		return nilRef, err
	}
	defer spinUnlock(s.data, headOff+bucketLockOff)

	s.bucketTombstoneMatchingLocked(headOff, key, eq, ctx)

	var recOff offset
	if maxLen <= s.smallCapacity() {
		recOff, err = s.recordAllocSmallCapacity(key, maxLen)
	} else {
		recOff, err = s.recordAllocVariableCapacity(key, maxLen)
	}
	if err != nil {
		return nilRef, err
	}

	overflowed, err := s.bucketInsertLocked(headOff, recOff)
	if err != nil {
		return nilRef, err
	}
	if overflowed && level+1 < maxTrieDepth {
		s.splitBucketLocked(parentNodeOff, slotIdx, level, headOff)
	}

	return Ref(recOff), nil
}

// EntryAdd appends data to ref's reserved capacity, returning the total
// bytes written so far. Returns [ErrBadInput] if it would exceed the
// capacity reserved at allocation time: the requested size rounded up to
// whole blocks (a small record's full block, or a variable record's whole
// fragment blocks).
func (s *Store) EntryAdd(ref Ref, data []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.entryAddLocked(ref, data)
}

func (s *Store) entryAddLocked(ref Ref, data []byte) (int, error) {
	recOff := offset(ref)
	if s.recordIsVariable(recOff) {
		return s.recordAppend(recOff, data)
	}
	return s.recordAppendSmall(recOff, data)
}

// EntryGetRoom returns the remaining unwritten capacity of ref.
func (s *Store) EntryGetRoom(ref Ref) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recOff := offset(ref)
	return s.recordCapacity(recOff) - s.recordWritten(recOff)
}

// EntryMarkComplete publishes ref: after this call returns, [Store.RecGet]
// can observe it.
func (s *Store) EntryMarkComplete(ref Ref) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	s.recordMarkComplete(offset(ref))
	return nil
}

// EntryIsComplete reports whether ref has been published.
func (s *Store) EntryIsComplete(ref Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, _, complete := s.recordKeyState(offset(ref))
	return complete
}

// EntryRemove tombstones and unlinks the record stored under key. It is
// a no-op error, [ErrKeyAbsent], if key has no record.
func (s *Store) EntryRemove(key uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	return s.removeRecord(key)
}

// EntryWalk calls yield once for every complete, non-tombstoned record
// currently reachable in the trie, in no particular order. It stops
// early if yield returns false. The traversal is lock-free and, like
// [Store.RecGet], may observe a record that is concurrently being
// removed as either present or absent, but never a half-written one.
func (s *Store) EntryWalk(yield func(key uint64, data []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}

	p := s.epoch.acquirePin()
	defer s.epoch.releasePin(p)

	s.walkNode(s.rootOffset(), yield)
	return nil
}
