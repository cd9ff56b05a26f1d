package htrie

// Hardcoded implementation limits. These are not tuning knobs: they are
// baked into the on-disk format and cannot change without a version bump
// in [headerMagic].
const (
	// fanOut is the number of slots per trie node (4 bits of key consumed
	// per level).
	fanOut = 16

	// fanOutBits is log2(fanOut).
	fanOutBits = 4

	// maxTrieDepth is the number of trie levels needed to fully consume a
	// 64-bit key, fanOutBits at a time.
	maxTrieDepth = 64 / fanOutBits

	// bucketInlineSlots is the number of record-offset slots carried
	// directly in a bucket header before an overflow bucket is chained.
	bucketInlineSlots = 8

	// headerSize is the fixed size in bytes of the file header (extent 0
	// offset 0).
	headerSize = 256

	// extentDescSize is the fixed size in bytes of the per-extent
	// allocator descriptor placed at the start of every extent.
	extentDescSize = 64

	// minExtentSize is the smallest extent size the allocator accepts.
	// Must hold at least one fragment block plus the extent descriptor.
	minExtentSize = 64 * 1024

	// defaultExtentSize is used when [Options.ExtentSize] is zero.
	defaultExtentSize = 2 << 20 // 2 MiB

	// defaultSmallBlockSize is used when [Options.SmallBlockSize] is zero.
	defaultSmallBlockSize = 256

	// defaultFragmentBlockSize is used when [Options.FragmentBlockSize] is
	// zero.
	defaultFragmentBlockSize = 2048

	// minSmallBlockSize bounds [Options.SmallBlockSize]: it must be large
	// enough to hold a small-record header with a non-empty payload.
	minSmallBlockSize = smallRecordHeaderSize + 8

	// minFragmentBlockSize bounds [Options.FragmentBlockSize]: it must
	// hold either a trie node, a bucket header, a variable-record header,
	// or a fragment header with non-empty payload, whichever is largest.
	minFragmentBlockSize = 160

	// The largest payload a small (single-block) record can hold is not a
	// constant here: Store.smallCapacity derives it from the configured
	// small block size.

	// blockClassSmall and blockClassFragment tag which free-list/bump
	// region an extent (and therefore a block carved from it) belongs to.
	blockClassSmall    = 1
	blockClassFragment = 2

	// recordFlagComplete marks a record whose payload has been fully
	// written and is safe for readers to observe.
	recordFlagComplete = 1 << 0

	// recordFlagTombstone marks a record logically removed but not yet
	// reclaimed (refcount may still be nonzero).
	recordFlagTombstone = 1 << 1

	// recordFlagVariable marks a record using the fragment-chain shape
	// rather than the single-block small shape.
	recordFlagVariable = 1 << 2

	// slotTagEmpty, slotTagBucket and slotTagChild are the low two bits of
	// every trie node slot; the remaining bits are an 8-byte-aligned
	// offset.
	slotTagEmpty  = 0
	slotTagBucket = 1
	slotTagChild  = 2
	slotTagMask   = 0x3

	// headerFlagUncleanShutdown is set in the header's Flags field while
	// the store is open, and cleared only by a graceful [Store.Close]. It
	// is checked on every [Open] to detect a crash.
	headerFlagUncleanShutdown = 1 << 0

	// reclaimEpochCount is the number of trailing epochs the reclaimer
	// keeps retired blocks segregated into before it is safe to actually
	// free them. See reclaim.go.
	reclaimEpochCount = 3

	// maxOptimisticRetries bounds how many times a seqlock-style read
	// retries before returning [ErrTransient].
	maxOptimisticRetries = 64

	// maxPinSlots bounds how many goroutines may hold a live epoch pin at
	// once. Exceeding it is a caller bug (pins must be short-lived and
	// released), not a capacity limit worth growing dynamically.
	maxPinSlots = 4096
)

// smallRecordHeaderSize is the byte size of a small (single-block) record
// header, defined in record.go; mirrored here so limits.go can express
// minSmallBlockSize without an import cycle concern (same package, but
// kept local to avoid forward-reference surprises when reading limits.go
// standalone).
const smallRecordHeaderSize = 24
