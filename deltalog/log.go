// Package deltalog implements the per-branch delta log: an
// append-only stream of typed mutation records plus the two
// in-memory indices (by inode, by (parent,name)) that make lookups
// against it fast without ever rewriting a committed record.
package deltalog

import (
	"github.com/anttila/branchfs/alloc"
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/mlog"
)

// InodeEntry is what the inode index remembers about the most recent
// record touching a given inode.
type InodeEntry struct {
	Offset  uint64 // offset of the record header, relative to the branch's delta-log sub-range
	Deleted bool
	Size    uint64
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Mtime   uint64 // nanoseconds, from the owning record's header
}

// direntKey resolves the core design's Open Question about
// hash-collision fragility (spec.md §4.2): rather than keying the
// dirent index by a 64-bit hash and descending a right subtree on
// collision, branchfs keys it directly by (parent, name), which is
// the exact identity the hash was only ever a proxy for. Collisions
// on direntHash can still be computed for diagnostics but never
// affect lookup correctness.
type direntKey struct {
	Parent uint64
	Name   string
}

// DirentEntry is what the dirent index remembers about the most
// recent record touching a given (parent,name) pair.
type DirentEntry struct {
	Offset  uint64
	Deleted bool
}

// Log is one branch's delta log: a view over the branch's bump
// allocator plus the two rebuilt indices.
type Log struct {
	alloc *alloc.BranchAlloc

	inodeIndex  map[uint64]*InodeEntry
	direntIndex map[direntKey]*DirentEntry
}

// Open wraps an already-opened branch allocator and rebuilds both
// indices from the raw log bytes already present (size bytes starting
// at the allocator's base) — the same recovery path a remount takes.
func Open(ba *alloc.BranchAlloc) (*Log, error) {
	l := &Log{
		alloc:       ba,
		inodeIndex:  make(map[uint64]*InodeEntry),
		direntIndex: make(map[direntKey]*DirentEntry),
	}
	if err := l.buildIndex(); err != nil {
		return nil, err
	}
	return l, nil
}

// buildIndex idempotently reconstructs both indices from the raw log,
// stopping at the first zero-sized record (or at the branch's current
// published size, whichever comes first).
func (l *Log) buildIndex() error {
	l.inodeIndex = make(map[uint64]*InodeEntry)
	l.direntIndex = make(map[direntKey]*DirentEntry)

	size := l.alloc.Size()
	var pos uint64
	for pos < size {
		if pos+headerSize > size {
			return brancherr.New(brancherr.IO, "deltalog.buildIndex", "truncated header at offset %d", pos)
		}
		hdrBuf := l.alloc.At(pos, headerSize)
		var hdr recordHeader
		hdr.decode(hdrBuf)
		if hdr.TotalSize == 0 {
			break
		}
		if pos+uint64(hdr.TotalSize) > size {
			return brancherr.New(brancherr.IO, "deltalog.buildIndex", "record at %d claims total_size %d, overruns log of %d", pos, hdr.TotalSize, size)
		}
		body := l.alloc.At(pos+headerSize, uint64(hdr.TotalSize)-headerSize)
		if err := l.applyIndexUpdate(pos, hdr, body); err != nil {
			return err
		}
		pos += uint64(hdr.TotalSize)
	}
	mlog.Printf2("deltalog/log", "buildIndex: replayed %d bytes, %d inodes, %d dirents", pos, len(l.inodeIndex), len(l.direntIndex))
	return nil
}

func (l *Log) applyIndexUpdate(recOffset uint64, hdr recordHeader, body []byte) error {
	switch hdr.Type {
	case CREATE, MKDIR:
		var b createBody
		b.decode(body)
		name := string(body[createBodySize : createBodySize+b.NameLen])
		l.inodeIndex[b.NewIno] = &InodeEntry{Offset: recOffset, Mode: b.Mode, Mtime: hdr.Timestamp}
		l.direntIndex[direntKey{b.ParentIno, name}] = &DirentEntry{Offset: recOffset}

	case DELETE:
		var b deleteBody
		b.decode(body)
		name := string(body[deleteBodySize : deleteBodySize+b.NameLen])
		if e, ok := l.inodeIndex[hdr.Ino]; ok {
			e.Deleted = true
			e.Offset = recOffset
			e.Mtime = hdr.Timestamp
		} else {
			l.inodeIndex[hdr.Ino] = &InodeEntry{Offset: recOffset, Deleted: true, Mtime: hdr.Timestamp}
		}
		l.direntIndex[direntKey{b.ParentIno, name}] = &DirentEntry{Offset: recOffset, Deleted: true}

	case TRUNCATE:
		var b truncateBody
		b.decode(body)
		e := l.inodeEntry(hdr.Ino, recOffset)
		e.Size = b.NewSize
		e.Offset = recOffset
		e.Mtime = hdr.Timestamp

	case WRITE:
		var b writeBody
		b.decode(body)
		e := l.inodeEntry(hdr.Ino, recOffset)
		newSize := b.Offset + uint64(b.Len)
		if newSize > e.Size {
			e.Size = newSize
		}
		e.Offset = recOffset
		e.Mtime = hdr.Timestamp

	case SETATTR:
		var b setattrBody
		b.decode(body)
		e := l.inodeEntry(hdr.Ino, recOffset)
		valid := SetattrValid(b.Valid)
		if valid&SetattrSize != 0 {
			e.Size = b.Size
		}
		if valid&SetattrMode != 0 {
			e.Mode = b.Mode
		}
		if valid&SetattrUid != 0 {
			e.Uid = b.Uid
		}
		if valid&SetattrGid != 0 {
			e.Gid = b.Gid
		}
		e.Offset = recOffset
		e.Mtime = hdr.Timestamp

	case RENAME:
		var b renameBody
		b.decode(body)
		oldName := string(body[renameBodySize : renameBodySize+b.OldNameLen])
		newName := string(body[renameBodySize+b.OldNameLen : renameBodySize+b.OldNameLen+b.NewNameLen])
		l.direntIndex[direntKey{b.OldParent, oldName}] = &DirentEntry{Offset: recOffset, Deleted: true}
		l.direntIndex[direntKey{b.NewParent, newName}] = &DirentEntry{Offset: recOffset}

	default:
		return brancherr.New(brancherr.IO, "deltalog.applyIndexUpdate", "unknown record type %d at offset %d", hdr.Type, recOffset)
	}
	return nil
}

func (l *Log) inodeEntry(ino, recOffset uint64) *InodeEntry {
	e, ok := l.inodeIndex[ino]
	if !ok {
		e = &InodeEntry{Offset: recOffset}
		l.inodeIndex[ino] = e
	}
	return e
}

// Rebuild discards and reconstructs both indices from the raw log
// bytes. It is idempotent (spec.md invariant 6) and is what a commit
// calls on the parent log after the child's bytes have been copied
// in, since a bulk byte copy bypasses the normal per-record index
// update path.
func (l *Log) Rebuild() error {
	return l.buildIndex()
}

// DirentIno reads the Ino field directly out of the record that
// produced a dirent index entry — for CREATE/MKDIR it is the new
// inode, for RENAME the moved inode — without the caller needing to
// re-decode the record body.
func (l *Log) DirentIno(e *DirentEntry) uint64 {
	hdrBuf := l.alloc.At(e.Offset, headerSize)
	var hdr recordHeader
	hdr.decode(hdrBuf)
	return hdr.Ino
}

// LookupInode returns the inode index entry for ino, if any.
func (l *Log) LookupInode(ino uint64) (*InodeEntry, bool) {
	e, ok := l.inodeIndex[ino]
	return e, ok
}

// DirentsUnder returns every (name -> entry) pair this branch's
// dirent index remembers for the given parent inode, live or
// tombstoned. It is a linear scan of the whole index — directory
// enumeration is not a hot path the way a single lookup is, and
// spec.md only promises position-stability within one enumeration
// call, not an efficient data structure underneath it.
func (l *Log) DirentsUnder(parent uint64) map[string]*DirentEntry {
	out := make(map[string]*DirentEntry)
	for k, v := range l.direntIndex {
		if k.Parent == parent {
			out[k.Name] = v
		}
	}
	return out
}

// LookupDirent returns the dirent index entry for (parent, name), if
// any. The combined hash from spec.md is not consulted — see
// direntKey.
func (l *Log) LookupDirent(parent uint64, name string) (*DirentEntry, bool) {
	e, ok := l.direntIndex[direntKey{parent, name}]
	return e, ok
}

// IsDeleted reports whether ino's most recent record marked it
// deleted. An unknown inode is not considered deleted by this branch
// — the caller falls through to the parent chain / base image.
func (l *Log) IsDeleted(ino uint64) bool {
	e, ok := l.inodeIndex[ino]
	return ok && e.Deleted
}

// GetSize returns ino's size as tracked by this branch's inode index.
func (l *Log) GetSize(ino uint64) (uint64, bool) {
	e, ok := l.inodeIndex[ino]
	if !ok {
		return 0, false
	}
	return e.Size, true
}

// ResolveData finds the latest WRITE record for ino covering byte
// pos, by scanning forward from the start of the log and keeping the
// last match (equivalent to a reverse scan's first match, per
// spec.md). It returns the live data slice and the number of bytes
// available from pos within that record.
func (l *Log) ResolveData(ino, pos, length uint64) (ptr []byte, avail uint64, found bool) {
	size := l.alloc.Size()
	var p uint64
	for p < size {
		hdrBuf := l.alloc.At(p, headerSize)
		var hdr recordHeader
		hdr.decode(hdrBuf)
		if hdr.TotalSize == 0 {
			break
		}
		if hdr.Type == WRITE && hdr.Ino == ino {
			body := l.alloc.At(p+headerSize, writeBodySize)
			var b writeBody
			b.decode(body)
			if pos >= b.Offset && pos < b.Offset+uint64(b.Len) {
				dataStart := p + headerSize + writeBodySize
				within := pos - b.Offset
				recAvail := uint64(b.Len) - within
				n := length
				if n > recAvail {
					n = recAvail
				}
				ptr = l.alloc.At(dataStart+within, n)
				avail = recAvail
				found = true
			}
		}
		p += uint64(hdr.TotalSize)
	}
	return ptr, avail, found
}
