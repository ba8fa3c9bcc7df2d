package deltalog

import (
	"testing"

	"github.com/anttila/branchfs/alloc"
	"github.com/anttila/branchfs/window/memwindow"
	"github.com/stvp/assert"
)

func newTestLog(t *testing.T) *Log {
	win := memwindow.New(4096)
	ba := alloc.NewBranchAlloc(win, 0, 4096, 0)
	l, err := Open(ba)
	assert.Nil(t, err)
	return l
}

func TestAppendCreateIndexesInodeAndDirent(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)

	assert.Nil(t, l.AppendCreate(1, 10, "a.txt", 0100644))

	e, ok := l.LookupInode(10)
	assert.True(t, ok)
	assert.False(t, e.Deleted)
	assert.Equal(t, e.Mode, uint32(0100644))

	d, ok := l.LookupDirent(1, "a.txt")
	assert.True(t, ok)
	assert.False(t, d.Deleted)
	assert.Equal(t, l.DirentIno(d), uint64(10))
}

func TestAppendDeleteTombstonesBothIndices(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "a.txt", 0100644))
	assert.Nil(t, l.AppendDelete(1, 10, "a.txt"))

	assert.True(t, l.IsDeleted(10))
	d, ok := l.LookupDirent(1, "a.txt")
	assert.True(t, ok)
	assert.True(t, d.Deleted)
}

func TestAppendWriteGrowsSize(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "f.txt", 0100644))
	assert.Nil(t, l.AppendWrite(10, 0, []byte("hello")))

	size, ok := l.GetSize(10)
	assert.True(t, ok)
	assert.Equal(t, size, uint64(5))

	assert.Nil(t, l.AppendWrite(10, 3, []byte("world")))
	size, ok = l.GetSize(10)
	assert.True(t, ok)
	assert.Equal(t, size, uint64(8))
}

func TestResolveDataReturnsLatestWriteCoveringPos(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "f.txt", 0100644))
	assert.Nil(t, l.AppendWrite(10, 0, []byte("aaaaa")))
	assert.Nil(t, l.AppendWrite(10, 0, []byte("bbbbb")))

	ptr, avail, found := l.ResolveData(10, 0, 5)
	assert.True(t, found)
	assert.Equal(t, avail, uint64(5))
	assert.Equal(t, string(ptr), "bbbbb")
}

func TestAppendRenameMovesLiveDirent(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "old.txt", 0100644))
	assert.Nil(t, l.AppendRename(1, 1, 10, "old.txt", "new.txt"))

	d, ok := l.LookupDirent(1, "old.txt")
	assert.True(t, ok)
	assert.True(t, d.Deleted)

	d, ok = l.LookupDirent(1, "new.txt")
	assert.True(t, ok)
	assert.False(t, d.Deleted)
	assert.Equal(t, l.DirentIno(d), uint64(10))
}

func TestAppendSetattrUpdatesSelectedFieldsOnly(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "f.txt", 0100644))

	assert.Nil(t, l.AppendSetattr(10, 0100600, 0, 0, 0, SetattrMode))
	e, ok := l.LookupInode(10)
	assert.True(t, ok)
	assert.Equal(t, e.Mode, uint32(0100600))
	assert.Equal(t, e.Uid, uint32(0))

	assert.Nil(t, l.AppendSetattr(10, 0, 42, 7, 0, SetattrUid|SetattrGid))
	e, ok = l.LookupInode(10)
	assert.True(t, ok)
	assert.Equal(t, e.Mode, uint32(0100600)) // unaffected by the second call
	assert.Equal(t, e.Uid, uint32(42))
	assert.Equal(t, e.Gid, uint32(7))
}

func TestDirentsUnderFiltersByParent(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "a.txt", 0100644))
	assert.Nil(t, l.AppendCreate(1, 11, "b.txt", 0100644))
	assert.Nil(t, l.AppendCreate(2, 12, "c.txt", 0100644))

	under1 := l.DirentsUnder(1)
	assert.Equal(t, len(under1), 2)
	under2 := l.DirentsUnder(2)
	assert.Equal(t, len(under2), 1)
}

func TestRebuildReplaysIdenticalIndices(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	assert.Nil(t, l.AppendCreate(1, 10, "a.txt", 0100644))
	assert.Nil(t, l.AppendWrite(10, 0, []byte("hi")))
	assert.Nil(t, l.AppendDelete(1, 10, "a.txt"))

	assert.Nil(t, l.Rebuild())

	assert.True(t, l.IsDeleted(10))
	size, ok := l.GetSize(10)
	assert.True(t, ok)
	assert.Equal(t, size, uint64(2))
}
