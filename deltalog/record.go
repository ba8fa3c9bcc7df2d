package deltalog

import "encoding/binary"

// RecordType identifies the kind of mutation a delta-log record
// describes.
type RecordType uint32

const (
	_ RecordType = iota // 0 total_size marks end-of-log; keep 0 unused as a type too
	WRITE
	CREATE
	DELETE
	TRUNCATE
	MKDIR
	RENAME
	SETATTR
)

func (t RecordType) String() string {
	switch t {
	case WRITE:
		return "WRITE"
	case CREATE:
		return "CREATE"
	case DELETE:
		return "DELETE"
	case TRUNCATE:
		return "TRUNCATE"
	case MKDIR:
		return "MKDIR"
	case RENAME:
		return "RENAME"
	case SETATTR:
		return "SETATTR"
	default:
		return "UNKNOWN"
	}
}

// headerSize is the fixed prefix of every record: type, total_size,
// ino, timestamp.
const headerSize = 24

type recordHeader struct {
	Type      RecordType
	TotalSize uint32
	Ino       uint64
	Timestamp uint64
}

func (h *recordHeader) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(h.Type))
	le.PutUint32(buf[4:], h.TotalSize)
	le.PutUint64(buf[8:], h.Ino)
	le.PutUint64(buf[16:], h.Timestamp)
}

func (h *recordHeader) decode(buf []byte) {
	le := binary.LittleEndian
	h.Type = RecordType(le.Uint32(buf[0:]))
	h.TotalSize = le.Uint32(buf[4:])
	h.Ino = le.Uint64(buf[8:])
	h.Timestamp = le.Uint64(buf[16:])
}

// Fixed body sizes per record type; variable-length name/data payload
// follows immediately after.
const (
	writeBodySize    = 8 + 4 + 4        // offset, len, flags
	createBodySize   = 8 + 8 + 4 + 4 + 4 // parent_ino, new_ino, mode, name_len, flags
	deleteBodySize   = 8 + 4 + 4         // parent_ino, name_len, flags
	truncateBodySize = 8                // new_size
	renameBodySize   = 8 + 8 + 8 + 4 + 4 // old_parent, new_parent, ino, old_name_len, new_name_len
	setattrBodySize  = 4 + 4 + 4 + 4 + 8 // mode, uid, gid, valid_mask, size
)

// SetattrValid is a bitmask selecting which SETATTR fields are live.
type SetattrValid uint32

const (
	SetattrMode SetattrValid = 1 << iota
	SetattrUid
	SetattrGid
	SetattrSize
)

type writeBody struct {
	Offset uint64
	Len    uint32
	Flags  uint32
}

func (b *writeBody) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], b.Offset)
	le.PutUint32(buf[8:], b.Len)
	le.PutUint32(buf[12:], b.Flags)
}

func (b *writeBody) decode(buf []byte) {
	le := binary.LittleEndian
	b.Offset = le.Uint64(buf[0:])
	b.Len = le.Uint32(buf[8:])
	b.Flags = le.Uint32(buf[12:])
}

type createBody struct {
	ParentIno uint64
	NewIno    uint64
	Mode      uint32
	NameLen   uint32
	Flags     uint32
}

func (b *createBody) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], b.ParentIno)
	le.PutUint64(buf[8:], b.NewIno)
	le.PutUint32(buf[16:], b.Mode)
	le.PutUint32(buf[20:], b.NameLen)
	le.PutUint32(buf[24:], b.Flags)
}

func (b *createBody) decode(buf []byte) {
	le := binary.LittleEndian
	b.ParentIno = le.Uint64(buf[0:])
	b.NewIno = le.Uint64(buf[8:])
	b.Mode = le.Uint32(buf[16:])
	b.NameLen = le.Uint32(buf[20:])
	b.Flags = le.Uint32(buf[24:])
}

type deleteBody struct {
	ParentIno uint64
	NameLen   uint32
	Flags     uint32
}

func (b *deleteBody) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], b.ParentIno)
	le.PutUint32(buf[8:], b.NameLen)
	le.PutUint32(buf[12:], b.Flags)
}

func (b *deleteBody) decode(buf []byte) {
	le := binary.LittleEndian
	b.ParentIno = le.Uint64(buf[0:])
	b.NameLen = le.Uint32(buf[8:])
	b.Flags = le.Uint32(buf[12:])
}

type truncateBody struct {
	NewSize uint64
}

func (b *truncateBody) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], b.NewSize)
}

func (b *truncateBody) decode(buf []byte) {
	b.NewSize = binary.LittleEndian.Uint64(buf[0:])
}

type renameBody struct {
	OldParent  uint64
	NewParent  uint64
	Ino        uint64
	OldNameLen uint32
	NewNameLen uint32
}

func (b *renameBody) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], b.OldParent)
	le.PutUint64(buf[8:], b.NewParent)
	le.PutUint64(buf[16:], b.Ino)
	le.PutUint32(buf[24:], b.OldNameLen)
	le.PutUint32(buf[28:], b.NewNameLen)
}

func (b *renameBody) decode(buf []byte) {
	le := binary.LittleEndian
	b.OldParent = le.Uint64(buf[0:])
	b.NewParent = le.Uint64(buf[8:])
	b.Ino = le.Uint64(buf[16:])
	b.OldNameLen = le.Uint32(buf[24:])
	b.NewNameLen = le.Uint32(buf[28:])
}

type setattrBody struct {
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Valid uint32
	Size  uint64
}

func (b *setattrBody) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], b.Mode)
	le.PutUint32(buf[4:], b.Uid)
	le.PutUint32(buf[8:], b.Gid)
	le.PutUint32(buf[12:], b.Valid)
	le.PutUint64(buf[16:], b.Size)
}

func (b *setattrBody) decode(buf []byte) {
	le := binary.LittleEndian
	b.Mode = le.Uint32(buf[0:])
	b.Uid = le.Uint32(buf[4:])
	b.Gid = le.Uint32(buf[8:])
	b.Valid = le.Uint32(buf[12:])
	b.Size = le.Uint64(buf[16:])
}
