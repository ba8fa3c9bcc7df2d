package vfs

import (
	"os"
	"time"

	"github.com/anttila/branchfs/deltalog"
	"github.com/anttila/branchfs/mlog"
	. "github.com/hanwen/go-fuse/fuse"
)

const blockSize = 512
const attrValidity = 5
const entryValidity = 5

// fsOps adapts Fs to fuse.RawFileSystem, mirroring the teacher's
// fsOps receiver/access()/lookup() structure in fs/ops.go.
type fsOps struct {
	fs *Fs
}

var _ RawFileSystem = &fsOps{}

// NewFsOps wraps fs as a go-fuse RawFileSystem, ready to pass
// to fuse.NewServer.
func NewFsOps(fs *Fs) RawFileSystem {
	return &fsOps{fs: fs}
}

func (o *fsOps) Init(*Server)        {}
func (o *fsOps) String() string      { return os.Args[0] }
func (o *fsOps) SetDebug(dbg bool)   {}

func (o *fsOps) StatFs(input *InHeader, out *StatfsOut) Status {
	out.Bsize = blockSize
	out.Frsize = blockSize
	return OK
}

func unixNanoToFuse(t uint64, seconds *uint64, nsec *uint32) {
	*seconds = t / uint64(time.Second)
	*nsec = uint32(t % uint64(time.Second))
}

func fillAttr(out *Attr, a attrSource) {
	out.Ino = a.Ino
	out.Size = a.Size
	out.Blocks = a.Size / blockSize
	unixNanoToFuse(a.Mtime, &out.Mtime, &out.Mtimensec)
	unixNanoToFuse(a.Mtime, &out.Ctime, &out.Ctimensec)
	unixNanoToFuse(a.Mtime, &out.Atime, &out.Atimensec)
	out.Mode = a.Mode
	out.Nlink = 1
	out.Uid = a.Uid
	out.Gid = a.Gid
}

// attrSource is the attribute shape fillAttr needs; resolver.Attr has
// the same fields, so the handlers convert it directly with
// attrSource(attr).
type attrSource struct {
	Ino   uint64
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Size  uint64
	Mtime uint64
}

func (o *fsOps) Lookup(input *InHeader, name string, out *EntryOut) Status {
	attr, err := o.fs.Lookup(input.NodeId, name)
	if err != nil {
		return toStatus(err)
	}
	out.NodeId = attr.Ino
	out.Generation = 0
	out.EntryValid = entryValidity
	out.AttrValid = attrValidity
	fillAttr(&out.Attr, attrSource(attr))
	return OK
}

func (o *fsOps) Forget(nodeID, nlookup uint64) {}

func (o *fsOps) GetAttr(input *GetAttrIn, out *AttrOut) Status {
	attr, err := o.fs.GetAttr(input.NodeId)
	if err != nil {
		return toStatus(err)
	}
	out.AttrValid = attrValidity
	fillAttr(&out.Attr, attrSource(attr))
	return OK
}

func (o *fsOps) SetAttr(input *SetAttrIn, out *AttrOut) Status {
	var valid deltalog.SetattrValid
	if input.Valid&FATTR_MODE != 0 {
		valid |= deltalog.SetattrMode
	}
	if input.Valid&FATTR_UID != 0 {
		valid |= deltalog.SetattrUid
	}
	if input.Valid&FATTR_GID != 0 {
		valid |= deltalog.SetattrGid
	}
	if input.Valid&FATTR_SIZE != 0 {
		valid |= deltalog.SetattrSize
	}
	if err := o.fs.SetAttr(input.NodeId, input.Mode, input.Uid, input.Gid, input.Size, valid); err != nil {
		return toStatus(err)
	}
	attr, err := o.fs.GetAttr(input.NodeId)
	if err != nil {
		return toStatus(err)
	}
	out.AttrValid = attrValidity
	fillAttr(&out.Attr, attrSource(attr))
	return OK
}

func (o *fsOps) OpenDir(input *OpenIn, out *OpenOut) Status {
	if _, err := o.fs.GetAttr(input.NodeId); err != nil {
		return toStatus(err)
	}
	out.Fh = input.NodeId
	return OK
}

func (o *fsOps) Open(input *OpenIn, out *OpenOut) Status {
	if input.Flags&uint32(os.O_TRUNC) != 0 {
		if err := o.fs.Truncate(input.NodeId, 0); err != nil {
			return toStatus(err)
		}
	}
	out.Fh = input.NodeId
	return OK
}

func (o *fsOps) Release(input *ReleaseIn)       {}
func (o *fsOps) ReleaseDir(input *ReleaseIn)    {}
func (o *fsOps) Flush(input *FlushIn) Status    { return OK }
func (o *fsOps) Fsync(input *FsyncIn) Status    { return OK }
func (o *fsOps) FsyncDir(input *FsyncIn) Status { return OK }

func (o *fsOps) ReadDir(input *ReadIn, l *DirEntryList) Status {
	ents, err := o.fs.Iterate(input.NodeId)
	if err != nil {
		return toStatus(err)
	}
	for i, e := range ents {
		if uint64(i) < input.Offset {
			continue
		}
		mode := uint32(0)
		if attr, err := o.fs.GetAttr(e.Ino); err == nil {
			mode = attr.Mode
		}
		ok, _ := l.AddDirEntry(DirEntry{Name: e.Name, Ino: e.Ino, Mode: mode})
		if !ok {
			break
		}
	}
	return OK
}

func (o *fsOps) ReadDirPlus(input *ReadIn, l *DirEntryList) Status {
	ents, err := o.fs.Iterate(input.NodeId)
	if err != nil {
		return toStatus(err)
	}
	for i, e := range ents {
		if uint64(i) < input.Offset {
			continue
		}
		attr, err := o.fs.GetAttr(e.Ino)
		if err != nil {
			continue
		}
		entryOut, _ := l.AddDirLookupEntry(DirEntry{Name: e.Name, Ino: e.Ino, Mode: attr.Mode})
		if entryOut == nil {
			break
		}
		entryOut.NodeId = e.Ino
		entryOut.EntryValid = entryValidity
		entryOut.AttrValid = attrValidity
		fillAttr(&entryOut.Attr, attrSource(attr))
	}
	return OK
}

func (o *fsOps) Mkdir(input *MkdirIn, name string, out *EntryOut) Status {
	ino, err := o.fs.Mkdir(input.NodeId, name, input.Mode|sIFDIR)
	if err != nil {
		return toStatus(err)
	}
	return o.fillEntry(ino, out)
}

func (o *fsOps) Create(input *CreateIn, name string, out *CreateOut) Status {
	ino, err := o.fs.Create(input.NodeId, name, input.Mode)
	if err != nil {
		return toStatus(err)
	}
	if code := o.fillEntry(ino, &out.EntryOut); !code.Ok() {
		return code
	}
	out.OpenOut.Fh = ino
	return OK
}

func (o *fsOps) fillEntry(ino uint64, out *EntryOut) Status {
	attr, err := o.fs.GetAttr(ino)
	if err != nil {
		return toStatus(err)
	}
	out.NodeId = ino
	out.EntryValid = entryValidity
	out.AttrValid = attrValidity
	fillAttr(&out.Attr, attrSource(attr))
	return OK
}

func (o *fsOps) Unlink(input *InHeader, name string) Status {
	mlog.Printf2("vfs/ops", "Unlink %s", name)
	return toStatus(o.fs.Unlink(input.NodeId, name))
}

func (o *fsOps) Rmdir(input *InHeader, name string) Status {
	mlog.Printf2("vfs/ops", "Rmdir %s", name)
	return toStatus(o.fs.Rmdir(input.NodeId, name))
}

func (o *fsOps) Rename(input *RenameIn, oldName, newName string) Status {
	// This go-fuse version's RenameIn predates renameat2 flag plumbing
	// (RENAME_NOREPLACE never reaches here from the kernel through
	// this binding); Fs.Rename's NoReplace path is reachable only by
	// calling Fs.Rename directly (as the tests do), not from this FUSE
	// entry point.
	return toStatus(o.fs.Rename(input.NodeId, oldName, input.Newdir, newName, 0))
}

func (o *fsOps) Read(input *ReadIn, buf []byte) (ReadResult, Status) {
	data, _, err := o.fs.Read(input.NodeId, input.Offset, uint64(len(buf)))
	if err != nil {
		return nil, toStatus(err)
	}
	n := copy(buf, data)
	return ReadResultData(buf[:n]), OK
}

func (o *fsOps) Write(input *WriteIn, data []byte) (uint32, Status) {
	n, err := o.fs.Write(input.NodeId, input.Offset, data)
	if err != nil {
		return 0, toStatus(err)
	}
	return n, OK
}

func (o *fsOps) Access(input *AccessIn) Status {
	_, err := o.fs.GetAttr(input.NodeId)
	return toStatus(err)
}

// Symlinks and extended attributes are out of scope (spec.md §1):
// mentioned only insofar as they'd constrain the core, never
// implemented. Mknod/Link/Flock/Fallocate have no delta-record
// counterpart either. All return ENOSYS, matching the teacher's own
// "TBD" stubs for untouched corners of the interface.
func (o *fsOps) Mknod(input *MknodIn, name string, out *EntryOut) Status { return ENOSYS }
func (o *fsOps) Symlink(input *InHeader, pointedTo string, linkName string, out *EntryOut) Status {
	return ENOSYS
}
func (o *fsOps) Readlink(input *InHeader) ([]byte, Status)               { return nil, ENOSYS }
func (o *fsOps) Link(input *LinkIn, name string, out *EntryOut) Status   { return ENOSYS }
func (o *fsOps) GetXAttrSize(input *InHeader, attr string) (int, Status) { return 0, ENOSYS }
func (o *fsOps) GetXAttrData(input *InHeader, attr string) ([]byte, Status) {
	return nil, ENOSYS
}
func (o *fsOps) SetXAttr(input *SetXAttrIn, attr string, data []byte) Status { return ENOSYS }
func (o *fsOps) ListXAttr(input *InHeader) ([]byte, Status)                  { return nil, ENOSYS }
func (o *fsOps) RemoveXAttr(input *InHeader, attr string) Status            { return ENOSYS }
func (o *fsOps) GetLk(input *LkIn, out *LkOut) Status                       { return ENOSYS }
func (o *fsOps) SetLk(input *LkIn) Status                                   { return ENOSYS }
func (o *fsOps) SetLkw(input *LkIn) Status                                  { return ENOSYS }
func (o *fsOps) Fallocate(in *FallocateIn) Status                           { return ENOSYS }
