package htrie

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mappedkv/htrie/internal/mmapfile"
)

// Options configure opening or creating a store file.
type Options struct {
	// Path is the backing file. If it does not exist, [Open] creates it.
	Path string

	// ExtentSize is the size in bytes of each extent the file grows by.
	// Defaults to 2 MiB. Ignored when opening an existing file (the
	// value baked into the file's header wins).
	ExtentSize uint32

	// SmallBlockSize is the size of a "small" (single-block, complete
	// record) allocation unit. Defaults to 256. Ignored when opening an
	// existing file.
	SmallBlockSize uint32

	// FragmentBlockSize is the size of a "fragment" allocation unit,
	// also used for trie nodes and buckets. Defaults to 2048. Ignored
	// when opening an existing file.
	FragmentBlockSize uint32

	// MaxFileSize bounds how large the file may grow, in bytes. Zero
	// means no explicit limit (bounded only by available disk space and
	// the platform's addressable mapping size).
	MaxFileSize uint64

	// FS overrides the filesystem implementation. Defaults to
	// [mmapfile.NewReal]. Exposed for tests that want to exercise option
	// validation; opening or creating a file still maps it with a real
	// mmap.
	FS mmapfile.FS
}

// Store is a handle to an open, memory-mapped trie file.
//
// A Store is safe for concurrent use by multiple goroutines. Internally,
// [Store.mu] is a coarse guard around the mapped byte slice itself: it is
// held for read by every operation and briefly for write only when the
// file grows and the mapping is replaced (see extent.go). Correctness of
// concurrent trie mutation comes from the finer-grained bucket spin locks
// and CAS-published trie slots underneath, not from this mutex.
type Store struct {
	mu sync.RWMutex
	// data is the current mapping. Only ever replaced while mu is held
	// for write; read while mu is held for read (or, briefly, unguarded
	// during Open/Close before concurrent access is possible).
	data []byte

	mp   *mmapfile.Map
	f    mmapfile.File
	fsys mmapfile.FS
	path string

	extentSize uint32
	smallSize  uint32
	fragSize   uint32
	maxSize    uint64

	epoch *epochReclaimer

	closed atomic.Bool
}

// Open opens an existing store file or creates a new one at opts.Path.
//
// Possible errors:
//   - [ErrBadInput]: missing path or an invalid size option
//   - [ErrCorrupted]: header magic/version/CRC mismatch, or the file was
//     left in an unclean state by a crash
//   - syscall errors from the underlying file/mmap operations
func Open(opts Options) (*Store, error) {
	if !is64Bit {
		return nil, fmt.Errorf("htrie: requires a 64-bit platform")
	}
	if !isLittleEndian {
		return nil, fmt.Errorf("htrie: requires a little-endian platform")
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrBadInput)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = mmapfile.NewReal()
	}

	if _, err := fsys.Stat(opts.Path); err == nil {
		return openExisting(opts, fsys)
	}

	return createNew(opts, fsys)
}

func createNew(opts Options, fsys mmapfile.FS) (*Store, error) {
	extentSize := opts.ExtentSize
	if extentSize == 0 {
		extentSize = defaultExtentSize
	}
	if extentSize < minExtentSize {
		return nil, fmt.Errorf("extent size %d below minimum %d: %w", extentSize, minExtentSize, ErrBadInput)
	}
	if extentSize%8 != 0 {
		return nil, fmt.Errorf("extent size %d must be a multiple of 8: %w", extentSize, ErrBadInput)
	}

	smallSize := opts.SmallBlockSize
	if smallSize == 0 {
		smallSize = defaultSmallBlockSize
	}
	if smallSize < minSmallBlockSize {
		return nil, fmt.Errorf("small block size %d below minimum %d: %w", smallSize, minSmallBlockSize, ErrBadInput)
	}
	if smallSize%8 != 0 {
		return nil, fmt.Errorf("small block size %d must be a multiple of 8: %w", smallSize, ErrBadInput)
	}

	fragSize := opts.FragmentBlockSize
	if fragSize == 0 {
		fragSize = defaultFragmentBlockSize
	}
	if fragSize < minFragmentBlockSize {
		return nil, fmt.Errorf("fragment block size %d below minimum %d: %w", fragSize, minFragmentBlockSize, ErrBadInput)
	}
	if fragSize%8 != 0 {
		return nil, fmt.Errorf("fragment block size %d must be a multiple of 8: %w", fragSize, ErrBadInput)
	}
	if uint64(extentUsableStart(0))+uint64(fragSize) > uint64(extentSize) {
		return nil, fmt.Errorf("extent size %d too small to hold one fragment block: %w", extentSize, ErrBadInput)
	}

	f, err := fsys.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("htrie: create: %w", err)
	}

	if err := f.Truncate(int64(extentSize)); err != nil {
		_ = f.Close()
		_ = fsys.Remove(opts.Path)
		return nil, fmt.Errorf("htrie: truncate: %w", err)
	}

	mp, err := mmapfile.New(f.Fd(), int(extentSize))
	if err != nil {
		_ = f.Close()
		_ = fsys.Remove(opts.Path)
		return nil, fmt.Errorf("htrie: mmap: %w", err)
	}

	s := &Store{
		data:       mp.Bytes,
		mp:         mp,
		f:          f,
		fsys:       fsys,
		path:       opts.Path,
		extentSize: extentSize,
		smallSize:  smallSize,
		fragSize:   fragSize,
		maxSize:    opts.MaxFileSize,
		epoch:      newEpochReclaimer(),
	}

	h := header{
		Magic:             [4]byte{'H', 'T', 'R', '1'},
		Version:           headerVersion,
		HeaderSize:        headerSize,
		ExtentSize:        extentSize,
		FanOut:            fanOut,
		SmallBlockSize:    smallSize,
		FragmentBlockSize: fragSize,
		Flags:             headerFlagUncleanShutdown,
		FileSize:          uint64(extentSize),
		ExtentCount:       1,
		CurrentSmallExt:   0,
		CurrentFragExt:    0,
	}
	copy(s.data[0:headerSize], encodeHeader(&h))

	storeU32(s.data, extentDescStart(0)+offExtentClass, blockClassFragment)
	storeOffset(s.data, extentDescStart(0)+offExtentBump, extentUsableStart(0))
	storeOffset(s.data, extentDescStart(0)+offExtentFreeHead, nullOffset)

	rootOff, err := s.allocBlock(blockClassFragment)
	if err != nil {
		_ = mp.Close()
		_ = f.Close()
		_ = fsys.Remove(opts.Path)
		return nil, fmt.Errorf("htrie: allocating root node: %w", err)
	}
	nodeInitEmpty(s.data, rootOff)
	storeOffset(s.data, offRootOffset, rootOff)

	return s, nil
}

func openExisting(opts Options, fsys mmapfile.FS) (*Store, error) {
	f, err := fsys.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("htrie: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("htrie: stat: %w", err)
	}

	size := info.Size()
	if size < headerSize {
		_ = f.Close()
		return nil, fmt.Errorf("file too small to hold a header: %w", ErrCorrupted)
	}

	mp, err := mmapfile.New(f.Fd(), int(size))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("htrie: mmap: %w", err)
	}

	hdrBuf := mp.Bytes[0:headerSize]

	if !validateHeaderCRC(hdrBuf) {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("header CRC mismatch: %w", ErrCorrupted)
	}
	if hasReservedBytesSet(hdrBuf) {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("reserved header bytes set, unknown format: %w", ErrCorrupted)
	}

	h := decodeHeader(hdrBuf)

	if string(h.Magic[:]) != headerMagic {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("bad magic %q: %w", h.Magic[:], ErrCorrupted)
	}
	if h.Version != headerVersion {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("unsupported version %d: %w", h.Version, ErrCorrupted)
	}
	if h.HeaderSize != headerSize {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("unexpected header size %d: %w", h.HeaderSize, ErrCorrupted)
	}
	if h.Flags&headerFlagUncleanShutdown != 0 {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("previous session did not shut down cleanly: %w", ErrCorrupted)
	}
	if h.FileSize != uint64(size) {
		_ = mp.Close()
		_ = f.Close()
		return nil, fmt.Errorf("header file size %d does not match actual size %d: %w", h.FileSize, size, ErrCorrupted)
	}

	s := &Store{
		data:       mp.Bytes,
		mp:         mp,
		f:          f,
		fsys:       fsys,
		path:       opts.Path,
		extentSize: h.ExtentSize,
		smallSize:  h.SmallBlockSize,
		fragSize:   h.FragmentBlockSize,
		maxSize:    opts.MaxFileSize,
		epoch:      newEpochReclaimer(),
	}

	storeU32(s.data, offFlags, h.Flags|headerFlagUncleanShutdown)

	return s, nil
}

// Close flushes the header and unmaps the file. It is safe to call
// exactly once; a second call returns [ErrClosed].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	s.closed.Store(true)

	flags := loadU32(s.data, offFlags) &^ headerFlagUncleanShutdown
	storeU32(s.data, offFlags, flags)

	crc := computeHeaderCRC(s.data[0:headerSize])
	storeU32(s.data, offHeaderCRC32C, crc)

	syncErr := s.mp.Sync(0, len(s.data))
	unmapErr := s.mp.Close()
	closeErr := s.f.Close()

	if syncErr != nil {
		return fmt.Errorf("htrie: sync on close: %w", syncErr)
	}
	if unmapErr != nil {
		return fmt.Errorf("htrie: unmap on close: %w", unmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("htrie: file close: %w", closeErr)
	}
	return nil
}

// rootOffset returns the current root trie node offset.
func (s *Store) rootOffset() offset {
	return loadOffset(s.data, offRootOffset)
}

// blockSizeFor returns the fixed block size for the given class.
func (s *Store) blockSizeFor(class uint32) uint32 {
	if class == blockClassSmall {
		return s.smallSize
	}
	return s.fragSize
}

// currentExtentOffsetField returns the header field offset holding the
// "current extent" pointer for the given class.
func currentExtentOffsetField(class uint32) offset {
	if class == blockClassSmall {
		return offCurrentSmallExt
	}
	return offCurrentFragExt
}
