package mmapfile

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_Real_Create_Then_Open_Round_Trips_Written_Bytes(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	f, err := r.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f2, err := r.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f2.Close()

	buf := make([]byte, 5)
	if _, err := f2.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := string(buf), "hello"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

func Test_Real_Create_Fails_When_File_Already_Exists(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	f, err := r.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close()

	if _, err := r.Create(path); !os.IsExist(err) {
		t.Fatalf("err=%v, want IsExist", err)
	}
}

func Test_Real_Stat_Reports_Truncated_Size(t *testing.T) {
	r := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	f, err := r.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := f.Truncate(4096); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	info, err := r.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got, want := info.Size(), int64(4096); got != want {
		t.Fatalf("size=%d, want=%d", got, want)
	}
}

func Test_New_Maps_A_Truncated_File_For_Readwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	f, err := NewReal().Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := f.Truncate(4096); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	m, err := New(f.Fd(), 4096)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	defer m.Close()

	if got, want := len(m.Bytes), 4096; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}

	m.Bytes[0] = 0xAB
	if err := m.Sync(0, len(m.Bytes)); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func Test_Remap_Grows_The_Mapping_And_Preserves_Existing_Bytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	f, err := NewReal().Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := f.Truncate(4096); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	m, err := New(f.Fd(), 4096)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	defer m.Close()

	m.Bytes[10] = 0x42

	if err := f.Truncate(8192); err != nil {
		t.Fatalf("truncate growth: %v", err)
	}
	if err := m.Remap(f.Fd(), 8192); err != nil {
		t.Fatalf("remap: %v", err)
	}

	if got, want := len(m.Bytes), 8192; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}
	if got, want := m.Bytes[10], byte(0x42); got != want {
		t.Fatalf("byte at 10 = %d, want=%d, remap lost data", got, want)
	}
}

func Test_Close_Is_Safe_To_Call_Once_And_Clears_Bytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	f, err := NewReal().Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := f.Truncate(4096); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	m, err := New(f.Fd(), 4096)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Bytes != nil {
		t.Fatalf("Bytes should be nil after close")
	}

	// A second close is a no-op, not a double-unmap.
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
