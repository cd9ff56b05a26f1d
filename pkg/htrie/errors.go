package htrie

import "errors"

// Sentinel errors returned by store operations.
//
// Callers should classify errors with [errors.Is]:
//
//	_, err := store.EntryCreate(key, data)
//	if errors.Is(err, htrie.ErrNoSpace) {
//	    // grow the file or evict, then retry
//	}
var (
	// ErrNoSpace indicates an allocation failed because the file could not
	// grow any further (see [Options.MaxFileSize]).
	//
	// Recovery: none within this store; the caller must widen MaxFileSize
	// or evict records before retrying.
	ErrNoSpace = errors.New("htrie: no space")

	// ErrKeyAbsent indicates a lookup found no record for the given key.
	//
	// Not a failure: many callers treat this as a normal miss.
	ErrKeyAbsent = errors.New("htrie: key absent")

	// ErrBadInput indicates malformed arguments: an oversize record, a
	// nil buffer where one is required, a zero key where the caller
	// forbids it, or similar programming errors.
	ErrBadInput = errors.New("htrie: bad input")

	// ErrCorrupted indicates the header magic/version/CRC did not match,
	// an offset was out of range, or an on-disk invariant was violated.
	//
	// Recovery: none; the file must be recreated.
	ErrCorrupted = errors.New("htrie: corrupted")

	// ErrTransient indicates an optimistic read exhausted its retry
	// budget. Rare; the operation is safe to retry.
	ErrTransient = errors.New("htrie: transient")

	// ErrClosed indicates the store handle has already been closed.
	ErrClosed = errors.New("htrie: closed")
)
