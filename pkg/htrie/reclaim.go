package htrie

import "sync/atomic"

// reclaim.go implements a small epoch-based reclamation scheme: a block
// that is unlinked from the live structure (an old bucket chain after a
// split, a record's blocks after its refcount and tombstone both say it
// is dead) is not freed immediately, because a concurrent reader may
// still be mid-scan over it. Instead it is filed under the epoch active
// at retirement time. The global epoch only advances from g to g+1 when
// no pin is still behind g, so once it stands two epochs past the
// retirement epoch, every still-pinned reader pinned after the unlink.
// Nobody could then hold a reference into the block, and it is returned
// to the block allocator's free list.
//
// This mirrors the two-trailing-epoch scheme common to lock-free
// reclaimers (Crossbeam's epoch GC is the best-known example): three
// retire buckets rotate with the global epoch, and only the bucket two
// epochs behind the current one is ever drained.

const pinFree = ^uint64(0)

type retired struct {
	class uint32
	block offset
}

type epochReclaimer struct {
	current atomic.Uint64
	pins     [maxPinSlots]atomic.Uint64
	mu       chan struct{} // binary semaphore guarding retireLists
	retireLists [reclaimEpochCount][]retired
}

func newEpochReclaimer() *epochReclaimer {
	r := &epochReclaimer{mu: make(chan struct{}, 1)}
	r.mu <- struct{}{}
	for i := range r.pins {
		r.pins[i].Store(pinFree)
	}
	return r
}

// pin is a token returned by [epochReclaimer.acquirePin]; callers must
// release it with [epochReclaimer.releasePin] when their operation ends.
type pin struct {
	slot  int
	epoch uint64
}

// acquirePin records the calling goroutine's observed epoch so the
// reclaimer knows not to free anything retired at or after it.
func (r *epochReclaimer) acquirePin() pin {
	e := r.current.Load()
	for i := range r.pins {
		if r.pins[i].CompareAndSwap(pinFree, e) {
			return pin{slot: i, epoch: e}
		}
	}
	// Every slot busy: degrade to an unpinned, maximally conservative
	// pin. This only blocks reclamation, never correctness.
	return pin{slot: -1, epoch: e}
}

func (r *epochReclaimer) releasePin(p pin) {
	if p.slot >= 0 {
		r.pins[p.slot].Store(pinFree)
	}
}

func (r *epochReclaimer) lock()   { <-r.mu }
func (r *epochReclaimer) unlock() { r.mu <- struct{}{} }

// retire files block for reclamation once it is safe, then opportunistically
// tries to advance the epoch and drain whatever that makes safe to free.
func (s *Store) retire(class uint32, block offset) {
	r := s.epoch
	g := r.current.Load()

	r.lock()
	r.retireLists[g%reclaimEpochCount] = append(r.retireLists[g%reclaimEpochCount], retired{class: class, block: block})
	r.unlock()

	r.tryAdvance(s)
}

func (r *epochReclaimer) tryAdvance(s *Store) {
	g := r.current.Load()

	for i := range r.pins {
		p := r.pins[i].Load()
		if p != pinFree && p < g {
			return // a reader is still behind; can't prove it's safe yet
		}
	}

	if !r.current.CompareAndSwap(g, g+1) {
		return // lost the race, another goroutine is advancing
	}

	newG := g + 1
	freeIdx := (newG + 1) % reclaimEpochCount // the bucket untouched for 2 full epochs

	r.lock()
	toFree := r.retireLists[freeIdx]
	r.retireLists[freeIdx] = nil
	r.unlock()

	for _, item := range toFree {
		s.freeBlock(item.class, item.block)
	}
}
