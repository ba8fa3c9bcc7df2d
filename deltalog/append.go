package deltalog

import (
	"time"

	"github.com/anttila/branchfs/mlog"
)

// appendRecord reserves total bytes for a record (header + the
// caller-supplied encoded body+payload), writes the header, and lets
// fill populate the body. It deliberately does NOT publish the bytes
// — the caller updates its in-memory index entries first, and only
// then calls publish. That ordering (bytes written, index updated,
// size counter bumped last) is what lets a concurrent raw-log scan
// (deltalog.Log.ResolveData, or a remount's buildIndex) rely on: by
// the time it can see a record via Size(), the index a normal lookup
// would have used already agrees with it.
func (l *Log) appendRecord(t RecordType, ino uint64, bodyLen int, fill func(body []byte)) (ptr []byte, offset uint64, timestamp uint64, err error) {
	total := headerSize + bodyLen
	ptr, relOffset, err := l.alloc.Append(uint64(total))
	if err != nil {
		return nil, 0, 0, err
	}
	ts := uint64(time.Now().UnixNano())
	hdr := recordHeader{Type: t, TotalSize: uint32(total), Ino: ino, Timestamp: ts}
	hdr.encode(ptr[:headerSize])
	fill(ptr[headerSize:])
	return ptr, relOffset, ts, nil
}

// publish bumps the branch's visible log size past the record at
// relOffset, once the caller has finished updating its index entries
// for it.
func (l *Log) publish(t RecordType, ino, relOffset uint64, total int) {
	l.alloc.Publish(relOffset, uint64(total))
	mlog.Printf2("deltalog/append", "appendRecord %s ino=%d offset=%d total=%d", t, ino, relOffset, total)
}

// AppendWrite records a WRITE covering [offset, offset+len(data)) for
// ino and updates the inode index's size to the new high-water mark.
func (l *Log) AppendWrite(ino, offset uint64, data []byte) error {
	bodyLen := writeBodySize + len(data)
	total := headerSize + bodyLen
	_, recOffset, ts, err := l.appendRecord(WRITE, ino, bodyLen, func(body []byte) {
		b := writeBody{Offset: offset, Len: uint32(len(data))}
		b.encode(body[:writeBodySize])
		copy(body[writeBodySize:], data)
	})
	if err != nil {
		return err
	}
	e := l.inodeEntry(ino, recOffset)
	newSize := offset + uint64(len(data))
	if newSize > e.Size {
		e.Size = newSize
	}
	e.Offset = recOffset
	e.Mtime = ts
	l.publish(WRITE, ino, recOffset, total)
	return nil
}

// AppendCreate records a CREATE and registers newIno/name in both
// indices.
func (l *Log) AppendCreate(parentIno, newIno uint64, name string, mode uint32) error {
	return l.appendCreateLike(CREATE, parentIno, newIno, name, mode)
}

// AppendMkdir records a MKDIR; identical wire shape to CREATE, a
// distinct type so the resolver and write path can tell directories
// from files without consulting mode bits alone.
func (l *Log) AppendMkdir(parentIno, newIno uint64, name string, mode uint32) error {
	return l.appendCreateLike(MKDIR, parentIno, newIno, name, mode)
}

func (l *Log) appendCreateLike(t RecordType, parentIno, newIno uint64, name string, mode uint32) error {
	nameBytes := []byte(name)
	bodyLen := createBodySize + len(nameBytes)
	total := headerSize + bodyLen
	_, recOffset, ts, err := l.appendRecord(t, newIno, bodyLen, func(body []byte) {
		b := createBody{ParentIno: parentIno, NewIno: newIno, Mode: mode, NameLen: uint32(len(nameBytes))}
		b.encode(body[:createBodySize])
		copy(body[createBodySize:], nameBytes)
	})
	if err != nil {
		return err
	}
	l.inodeIndex[newIno] = &InodeEntry{Offset: recOffset, Mode: mode, Mtime: ts}
	l.direntIndex[direntKey{parentIno, name}] = &DirentEntry{Offset: recOffset}
	l.publish(t, newIno, recOffset, total)
	return nil
}

// AppendDelete records a tombstone for ino at (parentIno, name).
func (l *Log) AppendDelete(parentIno, ino uint64, name string) error {
	nameBytes := []byte(name)
	bodyLen := deleteBodySize + len(nameBytes)
	total := headerSize + bodyLen
	_, recOffset, ts, err := l.appendRecord(DELETE, ino, bodyLen, func(body []byte) {
		b := deleteBody{ParentIno: parentIno, NameLen: uint32(len(nameBytes))}
		b.encode(body[:deleteBodySize])
		copy(body[deleteBodySize:], nameBytes)
	})
	if err != nil {
		return err
	}
	e := l.inodeEntry(ino, recOffset)
	e.Deleted = true
	e.Offset = recOffset
	e.Mtime = ts
	l.direntIndex[direntKey{parentIno, name}] = &DirentEntry{Offset: recOffset, Deleted: true}
	l.publish(DELETE, ino, recOffset, total)
	return nil
}

// AppendTruncate records a TRUNCATE to newSize for ino.
func (l *Log) AppendTruncate(ino, newSize uint64) error {
	total := headerSize + truncateBodySize
	_, recOffset, ts, err := l.appendRecord(TRUNCATE, ino, truncateBodySize, func(body []byte) {
		b := truncateBody{NewSize: newSize}
		b.encode(body)
	})
	if err != nil {
		return err
	}
	e := l.inodeEntry(ino, recOffset)
	e.Size = newSize
	e.Offset = recOffset
	e.Mtime = ts
	l.publish(TRUNCATE, ino, recOffset, total)
	return nil
}

// AppendRename records a RENAME moving ino from (oldParent,oldName) to
// (newParent,newName); the core design's Non-goals exclude
// rename-overwrite, so callers must have already confirmed the
// destination is free.
func (l *Log) AppendRename(oldParent, newParent, ino uint64, oldName, newName string) error {
	oldBytes, newBytes := []byte(oldName), []byte(newName)
	bodyLen := renameBodySize + len(oldBytes) + len(newBytes)
	total := headerSize + bodyLen
	_, recOffset, _, err := l.appendRecord(RENAME, ino, bodyLen, func(body []byte) {
		b := renameBody{
			OldParent: oldParent, NewParent: newParent, Ino: ino,
			OldNameLen: uint32(len(oldBytes)), NewNameLen: uint32(len(newBytes)),
		}
		b.encode(body[:renameBodySize])
		copy(body[renameBodySize:], oldBytes)
		copy(body[renameBodySize+len(oldBytes):], newBytes)
	})
	if err != nil {
		return err
	}
	l.direntIndex[direntKey{oldParent, oldName}] = &DirentEntry{Offset: recOffset, Deleted: true}
	l.direntIndex[direntKey{newParent, newName}] = &DirentEntry{Offset: recOffset}
	l.publish(RENAME, ino, recOffset, total)
	return nil
}

// AppendSetattr records a SETATTR selecting fields via valid.
func (l *Log) AppendSetattr(ino uint64, mode, uid, gid uint32, size uint64, valid SetattrValid) error {
	total := headerSize + setattrBodySize
	_, recOffset, ts, err := l.appendRecord(SETATTR, ino, setattrBodySize, func(body []byte) {
		b := setattrBody{Mode: mode, Uid: uid, Gid: gid, Valid: uint32(valid), Size: size}
		b.encode(body)
	})
	if err != nil {
		return err
	}
	e := l.inodeEntry(ino, recOffset)
	if valid&SetattrSize != 0 {
		e.Size = size
	}
	if valid&SetattrMode != 0 {
		e.Mode = mode
	}
	if valid&SetattrUid != 0 {
		e.Uid = uid
	}
	if valid&SetattrGid != 0 {
		e.Gid = gid
	}
	e.Offset = recOffset
	e.Mtime = ts
	l.publish(SETATTR, ino, recOffset, total)
	return nil
}
