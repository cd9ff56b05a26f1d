package mmapfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map is a shared, read-write memory mapping of an open file.
//
// The mapped extent IS the on-disk layout (§3 of the store's design): every
// offset the trie stores is a byte offset into Bytes, valid only while this
// Map is live. Growing the file requires a new Map (see [Remap]); the old
// byte slice must not be used afterward.
type Map struct {
	// Bytes is the mapped region. Do not reslice past its length or retain
	// subslices across a [Map.Close]/[Remap].
	Bytes []byte
}

// New maps the first size bytes of fd for shared read/write access.
//
// fd must reference a file at least size bytes long (callers truncate
// first). The mapping is MAP_SHARED: writes are visible to every process
// with the same file mapped, and are asynchronously written back by the
// kernel without any extra call from this package.
func New(fd uintptr, size int) (*Map, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmapfile: invalid map size %d", size)
	}

	b, err := unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: mmap: %w", err)
	}

	return &Map{Bytes: b}, nil
}

// Remap grows an existing mapping after the backing file has been
// extended to newSize. The old mapping is unmapped first; any offset
// computed against m.Bytes before Remap remains valid as an offset into the
// new m.Bytes (the index never retains the old slice header itself,
// per the "offsets not pointers" design rule, so the remap is transparent
// to the trie).
func (m *Map) Remap(fd uintptr, newSize int) error {
	if err := unix.Munmap(m.Bytes); err != nil {
		return fmt.Errorf("mmapfile: munmap for remap: %w", err)
	}

	b, err := unix.Mmap(int(fd), 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmapfile: remap: %w", err)
	}

	m.Bytes = b

	return nil
}

// Sync flushes dirty pages in [offset, offset+length) to the backing file
// and blocks until the flush completes (MS_SYNC). Used only for the
// best-effort durability hint on clean shutdown; the store has no other
// durability story (see Non-goals).
func (m *Map) Sync(offset, length int) error {
	if length == 0 {
		return nil
	}

	if err := unix.Msync(m.Bytes[offset:offset+length], unix.MS_SYNC); err != nil {
		return fmt.Errorf("mmapfile: msync: %w", err)
	}

	return nil
}

// Close unmaps the region. A second call is a no-op; using m.Bytes
// afterward is a programming error.
func (m *Map) Close() error {
	if m.Bytes == nil {
		return nil
	}

	err := unix.Munmap(m.Bytes)
	m.Bytes = nil

	if err != nil {
		return fmt.Errorf("mmapfile: munmap: %w", err)
	}

	return nil
}
