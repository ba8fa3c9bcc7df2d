// Package layout defines the bit-exact, little-endian on-storage
// layout of a branchfs image: superblock, branch table, base-image
// header/inodes, and delta-log record headers. Every struct here has
// a fixed wire size and an Encode/Decode pair; nothing is ever
// marshaled through a generic serialization library because the
// layout is not self-describing — offsets are load-bearing.
package layout

import "encoding/binary"

// BlockSize is the nominal unit the superblock reports to callers
// (StatFs-style); it does not constrain allocation granularity inside
// the delta region, which is a byte-granular bump allocator.
const BlockSize = 4096

// SuperblockSize is the padded size of the on-storage superblock.
const SuperblockSize = BlockSize

// Magic identifies a branchfs image.
const Magic uint64 = 0x62726e6366735f31 // "brncfs_1"

// Version is the current on-storage format version.
const Version uint32 = 1

// MaxBranches is the fixed capacity of the branch table.
const MaxBranches = 256

// BranchRecordSize is the fixed, on-storage size of one branch
// record.
const BranchRecordSize = 128

// MaxBranchNameLen is the usable length of a branch name, one byte
// short of the record's name field to leave room for the trailing NUL.
const MaxBranchNameLen = 31

// Superblock is decoded from/encoded to the first SuperblockSize bytes
// of the window.
type Superblock struct {
	Magic    uint64
	Version  uint32
	_        uint32 // padding, keeps 8-byte alignment
	BlockSz  uint32
	_        uint32
	TotalSz  uint64

	BaseImageOffset uint64
	BaseImageSize   uint64

	BranchTableOffset uint64
	BranchTableCap    uint32
	_                 uint32

	ActiveBranchCount uint32
	_                 uint32
	NextBranchID      uint64
	NextInodeID       uint64

	DeltaRegionOffset uint64
	DeltaRegionSize   uint64
	DeltaAllocOffset  uint64
}

const superblockWireSize = 8 + 4 + 4 + 4 + 4 + 8 +
	8 + 8 +
	8 + 4 + 4 +
	4 + 4 + 8 + 8 +
	8 + 8 + 8

func init() {
	if superblockWireSize > SuperblockSize {
		panic("layout: superblock wire size exceeds SuperblockSize")
	}
}

// Encode writes sb into buf[:superblockWireSize]. buf must be at least
// SuperblockSize bytes (the caller owns zeroing the padding).
func (sb *Superblock) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], sb.Magic)
	le.PutUint32(buf[8:], sb.Version)
	le.PutUint32(buf[16:], sb.BlockSz)
	le.PutUint64(buf[24:], sb.TotalSz)
	le.PutUint64(buf[32:], sb.BaseImageOffset)
	le.PutUint64(buf[40:], sb.BaseImageSize)
	le.PutUint64(buf[48:], sb.BranchTableOffset)
	le.PutUint32(buf[56:], sb.BranchTableCap)
	le.PutUint32(buf[60:], sb.ActiveBranchCount)
	le.PutUint64(buf[64:], sb.NextBranchID)
	le.PutUint64(buf[72:], sb.NextInodeID)
	le.PutUint64(buf[80:], sb.DeltaRegionOffset)
	le.PutUint64(buf[88:], sb.DeltaRegionSize)
	le.PutUint64(buf[96:], sb.DeltaAllocOffset)
}

// Decode reads a Superblock out of buf. It returns false if the magic
// doesn't match.
func (sb *Superblock) Decode(buf []byte) bool {
	le := binary.LittleEndian
	sb.Magic = le.Uint64(buf[0:])
	if sb.Magic != Magic {
		return false
	}
	sb.Version = le.Uint32(buf[8:])
	sb.BlockSz = le.Uint32(buf[16:])
	sb.TotalSz = le.Uint64(buf[24:])
	sb.BaseImageOffset = le.Uint64(buf[32:])
	sb.BaseImageSize = le.Uint64(buf[40:])
	sb.BranchTableOffset = le.Uint64(buf[48:])
	sb.BranchTableCap = le.Uint32(buf[56:])
	sb.ActiveBranchCount = le.Uint32(buf[60:])
	sb.NextBranchID = le.Uint64(buf[64:])
	sb.NextInodeID = le.Uint64(buf[72:])
	sb.DeltaRegionOffset = le.Uint64(buf[80:])
	sb.DeltaRegionSize = le.Uint64(buf[88:])
	sb.DeltaAllocOffset = le.Uint64(buf[96:])
	return true
}

// BranchState is the branch lifecycle state stored in a BranchRecord.
type BranchState uint32

const (
	BranchFree BranchState = iota
	BranchActive
	BranchCommitted
	BranchAborted
)

func (s BranchState) String() string {
	switch s {
	case BranchFree:
		return "FREE"
	case BranchActive:
		return "ACTIVE"
	case BranchCommitted:
		return "COMMITTED"
	case BranchAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// BranchRecord is one fixed-size entry of the branch table.
type BranchRecord struct {
	BranchID         uint64
	ParentID         uint64
	DeltaLogOffset   uint64
	DeltaLogSize     uint64
	DeltaLogCapacity uint64
	State            BranchState
	RefCount         uint32
	NextLocalIno     uint64
	Name             [MaxBranchNameLen + 1]byte
}

const branchRecordWireSize = 8 + 8 + 8 + 8 + 8 + 4 + 4 + 8 + (MaxBranchNameLen + 1)

func init() {
	if branchRecordWireSize > BranchRecordSize {
		panic("layout: branch record wire size exceeds BranchRecordSize")
	}
}

func (br *BranchRecord) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], br.BranchID)
	le.PutUint64(buf[8:], br.ParentID)
	le.PutUint64(buf[16:], br.DeltaLogOffset)
	le.PutUint64(buf[24:], br.DeltaLogSize)
	le.PutUint64(buf[32:], br.DeltaLogCapacity)
	le.PutUint32(buf[40:], uint32(br.State))
	le.PutUint32(buf[44:], br.RefCount)
	le.PutUint64(buf[48:], br.NextLocalIno)
	copy(buf[56:56+len(br.Name)], br.Name[:])
}

func (br *BranchRecord) Decode(buf []byte) {
	le := binary.LittleEndian
	br.BranchID = le.Uint64(buf[0:])
	br.ParentID = le.Uint64(buf[8:])
	br.DeltaLogOffset = le.Uint64(buf[16:])
	br.DeltaLogSize = le.Uint64(buf[24:])
	br.DeltaLogCapacity = le.Uint64(buf[32:])
	br.State = BranchState(le.Uint32(buf[40:]))
	br.RefCount = le.Uint32(buf[44:])
	br.NextLocalIno = le.Uint64(buf[48:])
	copy(br.Name[:], buf[56:56+len(br.Name)])
}

// NameString returns the NUL-terminated Name field as a Go string.
func (br *BranchRecord) NameString() string {
	n := 0
	for n < len(br.Name) && br.Name[n] != 0 {
		n++
	}
	return string(br.Name[:n])
}

// SetName copies name into Name, truncating to MaxBranchNameLen and
// NUL-terminating.
func (br *BranchRecord) SetName(name string) {
	var buf [MaxBranchNameLen + 1]byte
	n := copy(buf[:MaxBranchNameLen], name)
	_ = n
	br.Name = buf
}

// BranchRecordOffset returns the absolute window offset of branch
// table slot idx.
func BranchRecordOffset(tableOffset uint64, idx int) uint64 {
	return tableOffset + uint64(idx)*BranchRecordSize
}

// BaseInodeSize is the fixed, on-storage size of one base-image inode.
const BaseInodeSize = 64

// BaseInode mirrors spec.md's base inode: ino, mode, uid, gid, size,
// data_offset, name_offset, name_len, parent_ino, nlink,
// first_child, next_sibling, packed into BaseInodeSize (64) bytes.
type BaseInode struct {
	Ino         uint64
	Mode        uint32
	Uid         uint16
	Gid         uint16
	Size        uint64
	DataOffset  uint64
	NameOffset  uint32
	NameLen     uint16
	ParentIno   uint64
	Nlink       uint16
	FirstChild  uint64
	NextSibling uint64
}

const baseInodeWireSize = 8 + 4 + 2 + 2 + 8 + 8 + 4 + 2 + 8 + 2 + 8 + 8

func init() {
	if baseInodeWireSize != BaseInodeSize {
		panic("layout: base inode wire size does not match BaseInodeSize")
	}
}

func (bi *BaseInode) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], bi.Ino)
	le.PutUint32(buf[8:], bi.Mode)
	le.PutUint16(buf[12:], bi.Uid)
	le.PutUint16(buf[14:], bi.Gid)
	le.PutUint64(buf[16:], bi.Size)
	le.PutUint64(buf[24:], bi.DataOffset)
	le.PutUint32(buf[32:], bi.NameOffset)
	le.PutUint16(buf[36:], bi.NameLen)
	le.PutUint64(buf[38:], bi.ParentIno)
	le.PutUint16(buf[46:], bi.Nlink)
	le.PutUint64(buf[48:], bi.FirstChild)
	le.PutUint64(buf[56:], bi.NextSibling)
}

func (bi *BaseInode) Decode(buf []byte) {
	le := binary.LittleEndian
	bi.Ino = le.Uint64(buf[0:])
	bi.Mode = le.Uint32(buf[8:])
	bi.Uid = le.Uint16(buf[12:])
	bi.Gid = le.Uint16(buf[14:])
	bi.Size = le.Uint64(buf[16:])
	bi.DataOffset = le.Uint64(buf[24:])
	bi.NameOffset = le.Uint32(buf[32:])
	bi.NameLen = le.Uint16(buf[36:])
	bi.ParentIno = le.Uint64(buf[38:])
	bi.Nlink = le.Uint16(buf[46:])
	bi.FirstChild = le.Uint64(buf[48:])
	bi.NextSibling = le.Uint64(buf[56:])
}
