package htrie

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"unsafe"
)

// HTR1 file format constants.
const (
	headerMagic   = "HTR1"
	headerVersion = 1
)

// is64Bit and isLittleEndian gate [Open]: the header and every hot field
// the trie CASes (trie slots, bucket locks/versions, refcounts) are
// touched through native-byte-order atomic pointer casts, not
// encoding/binary, so the file format is only portable across machines
// that share this word size and endianness.
const is64Bit = bits.UintSize == 64

// isLittleEndian is computed once from a known bit pattern rather than
// assumed, so a future build targeting an exotic GOARCH fails loudly
// instead of silently misreading the file.
var isLittleEndian = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Header field offsets (bytes from file start). The header occupies the
// first headerSize bytes of extent 0.
const (
	offMagic             = 0x000 // [4]byte
	offVersion           = 0x004 // uint32
	offHeaderSize        = 0x008 // uint32
	offExtentSize        = 0x00C // uint32
	offFanOut            = 0x010 // uint32
	offSmallBlockSize    = 0x014 // uint32
	offFragmentBlockSize = 0x018 // uint32
	offFlags             = 0x01C // uint32
	offRootOffset        = 0x020 // uint64
	offFileSize          = 0x028 // uint64
	offExtentCount       = 0x030 // uint64
	offCurrentSmallExt   = 0x038 // uint64
	offCurrentFragExt    = 0x040 // uint64
	offLiveRecordCount   = 0x048 // uint64 (atomic, informational)
	offHeaderCRC32C      = 0x050 // uint32
	offReservedStart     = 0x054 // reserved through headerSize, implicitly zero
)

// header mirrors the on-disk, fixed 256-byte file header.
type header struct {
	Magic             [4]byte
	Version           uint32
	HeaderSize        uint32
	ExtentSize        uint32
	FanOut            uint32
	SmallBlockSize    uint32
	FragmentBlockSize uint32
	Flags             uint32
	RootOffset        uint64
	FileSize          uint64
	ExtentCount       uint64
	CurrentSmallExt   uint64
	CurrentFragExt    uint64
	LiveRecordCount   uint64
	HeaderCRC32C      uint32
}

// encodeHeader serializes h into a freshly allocated headerSize-byte
// buffer. The CRC is computed with the CRC field itself zeroed and
// written into the result.
func encodeHeader(h *header) []byte {
	buf := make([]byte, headerSize)

	copy(buf[offMagic:], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[offExtentSize:], h.ExtentSize)
	binary.LittleEndian.PutUint32(buf[offFanOut:], h.FanOut)
	binary.LittleEndian.PutUint32(buf[offSmallBlockSize:], h.SmallBlockSize)
	binary.LittleEndian.PutUint32(buf[offFragmentBlockSize:], h.FragmentBlockSize)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)

	binary.LittleEndian.PutUint64(buf[offRootOffset:], h.RootOffset)
	binary.LittleEndian.PutUint64(buf[offFileSize:], h.FileSize)
	binary.LittleEndian.PutUint64(buf[offExtentCount:], h.ExtentCount)
	binary.LittleEndian.PutUint64(buf[offCurrentSmallExt:], h.CurrentSmallExt)
	binary.LittleEndian.PutUint64(buf[offCurrentFragExt:], h.CurrentFragExt)
	binary.LittleEndian.PutUint64(buf[offLiveRecordCount:], h.LiveRecordCount)

	crc := computeHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], crc)

	return buf
}

// decodeHeader parses a headerSize-byte buffer. It does not validate the
// CRC; callers validate separately with [validateHeaderCRC] so a
// corrupted-but-parseable header can still be reported with field values
// in an error message.
func decodeHeader(buf []byte) header {
	var h header

	copy(h.Magic[:], buf[offMagic:offMagic+4])
	h.Version = binary.LittleEndian.Uint32(buf[offVersion:])
	h.HeaderSize = binary.LittleEndian.Uint32(buf[offHeaderSize:])
	h.ExtentSize = binary.LittleEndian.Uint32(buf[offExtentSize:])
	h.FanOut = binary.LittleEndian.Uint32(buf[offFanOut:])
	h.SmallBlockSize = binary.LittleEndian.Uint32(buf[offSmallBlockSize:])
	h.FragmentBlockSize = binary.LittleEndian.Uint32(buf[offFragmentBlockSize:])
	h.Flags = binary.LittleEndian.Uint32(buf[offFlags:])

	h.RootOffset = binary.LittleEndian.Uint64(buf[offRootOffset:])
	h.FileSize = binary.LittleEndian.Uint64(buf[offFileSize:])
	h.ExtentCount = binary.LittleEndian.Uint64(buf[offExtentCount:])
	h.CurrentSmallExt = binary.LittleEndian.Uint64(buf[offCurrentSmallExt:])
	h.CurrentFragExt = binary.LittleEndian.Uint64(buf[offCurrentFragExt:])
	h.LiveRecordCount = binary.LittleEndian.Uint64(buf[offLiveRecordCount:])

	h.HeaderCRC32C = binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])

	return h
}

// computeHeaderCRC checksums buf with the CRC field itself treated as
// zero, so the same function both produces and validates the stored
// value.
func computeHeaderCRC(buf []byte) uint32 {
	tmp := make([]byte, headerSize)
	copy(tmp, buf)

	for i := offHeaderCRC32C; i < offHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}

	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

// validateHeaderCRC reports whether buf's stored CRC matches its content.
func validateHeaderCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	return stored == computeHeaderCRC(buf)
}

// hasReservedBytesSet reports whether any byte in the header's reserved
// region is nonzero, a sign of a newer format this build doesn't know
// about.
func hasReservedBytesSet(buf []byte) bool {
	for i := offReservedStart; i < headerSize; i++ {
		if buf[i] != 0 {
			return true
		}
	}
	return false
}

// Per-extent descriptor field offsets, relative to the start of the
// extent (extent 0's descriptor sits at byte headerSize, not byte 0,
// since the file header occupies the front of extent 0).
const (
	offExtentClass    = 0x00 // uint32
	offExtentBump     = 0x08 // uint64
	offExtentFreeHead = 0x10 // uint64
)

// extentDescStart returns the byte offset, within an extent, of that
// extent's allocator descriptor. Extent 0 carries the file header first.
func extentDescStart(extentIndex uint64) offset {
	if extentIndex == 0 {
		return headerSize
	}
	return 0
}

// extentUsableStart returns the byte offset, within an extent, where
// carve-able block space begins.
func extentUsableStart(extentIndex uint64) offset {
	return extentDescStart(extentIndex) + extentDescSize
}
