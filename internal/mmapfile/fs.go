// Package mmapfile provides the filesystem and memory-mapping primitives
// that back pkg/htrie's single mapped extent file.
//
// The split mirrors two different concerns:
//   - [FS] / [File]: ordinary file operations (open, create, truncate, stat)
//     needed to bring a backing file to the right size before it is mapped.
//   - [Map]: the mapping itself, plus the msync/munmap operations the trie
//     needs when growing the file or closing the store.
//
// Paths use OS semantics, not the slash-separated paths of io/fs.
package mmapfile

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// Satisfied by [os.File]. Implementations must behave like [os.File],
// including that [File.Fd] returns a descriptor usable with syscalls
// until the file is closed.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor, used to mmap the file.
	Fd() uintptr

	// Stat returns file info. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Truncate changes the file size. See [os.File.Truncate].
	Truncate(size int64) error

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error
}

// FS defines the file operations [pkg/htrie] needs from the filesystem.
//
// The only implementation shipped is [Real]; the interface exists so tests
// can substitute paths that never touch disk for configuration-only checks.
// It intentionally does not attempt to make mmap itself fakeable — the
// trie's correctness depends on real shared-memory semantics no fake can
// reproduce.
type FS interface {
	// Open opens an existing file for read/write. See [os.OpenFile].
	Open(path string) (File, error)

	// Create creates a new file, failing if one already exists at path.
	// See O_CREATE|O_EXCL semantics of [os.OpenFile].
	Create(path string) (File, error)

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Remove deletes a file. See [os.Remove].
	Remove(path string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
