// Package htrie implements an embedded, memory-mapped key/value store
// backed by a concurrent hash trie.
//
// htrie maps one file into the process address space and stores every
// pointer as a byte offset into that mapping, never a Go pointer: the
// structure is as valid after a remap or a reopen in a different process
// as it was when first built. Trie nodes fan out 16 ways per level (4
// bits of the key per level, 16 levels for a 64-bit key); leaves are
// buckets holding inline record-offset slots plus an overflow chain for
// hash collisions; records are either a single self-contained block
// ("small") or a header plus a linked chain of payload fragments
// ("variable") for payloads too large to fit one block. A bucket slot
// can hold more than one record for the same key -- a collision chain --
// which is why reads return an iterator rather than a single payload.
//
// # Basic usage
//
//	store, err := htrie.Open(htrie.Options{Path: "/tmp/my.htrie"})
//	if err != nil {
//	    // handle ErrCorrupted by deleting and recreating
//	}
//	defer store.Close()
//
//	rec, err := store.EntryCreate(key, payload)
//
//	it, err := store.RecGet(key)
//	if err == nil {
//	    data := it.Data()
//	    store.RecPut(it)
//	}
//
// # Concurrency
//
// Reads are lock-free and optimistic: a reader scans a bucket's inline
// slots and overflow chain without blocking a writer, and only retries
// if a concurrent write overlapped the scan (detected via a per-bucket
// sequence counter). Writes that touch a single bucket take that
// bucket's spin lock; writes never block reads. [Store.RecGet] hands
// back an [Iter] holding a refcount share on the record it found;
// [Store.RecNext] walks the rest of that key's collision chain one
// record at a time, and [Store.RecPut] releases whichever record the
// iterator currently holds -- exactly once per position reached, the
// same discipline [Store.RecKeep] and [Store.RecPutRef] extend to a
// share meant to outlive the iterator itself. [Store.RecGetAlloc] is
// the one operation that is a linearizable critical section by design:
// the read-then-maybe-allocate decision has to happen atomically with
// respect to other callers of the same key, so it always takes the
// owning bucket's lock even on the read path.
//
// # Error handling
//
// Errors fall into two categories:
//
// Fatal errors ([ErrCorrupted]): the file is damaged or was left in an
// unclean state by a crash. Delete and recreate it; there is no repair
// path.
//
// Transient errors ([ErrTransient], [ErrNoSpace]): safe to retry,
// possibly after growing [Options.MaxFileSize] or freeing space.
//
// # Non-goals
//
// htrie does not provide cross-process locking, write-ahead logging, or
// crash-consistent durability beyond a best-effort msync on close. A
// process that crashes mid-write leaves the file unusable; reopening it
// fails with [ErrCorrupted] by design, since there is no way to tell
// which in-flight mutations reached disk.
package htrie
