package vfs

import (
	"testing"

	"github.com/anttila/branchfs/branchmgr"
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/deltalog"
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/resolver"
	"github.com/anttila/branchfs/window/memwindow"
	"github.com/stvp/assert"
)

func newTestFs(t *testing.T) (*branchmgr.Manager, *Fs, uint64) {
	const regionSize = 1 << 16
	win := memwindow.New(uint64(layout.SuperblockSize) + uint64(layout.MaxBranches)*layout.BranchRecordSize + regionSize)
	opts := branchmgr.FormatOptions{
		TotalSize:          win.Size(),
		DeltaRegionOffset:  uint64(layout.SuperblockSize) + uint64(layout.MaxBranches)*layout.BranchRecordSize,
		DeltaRegionSize:    regionSize,
		MainBranchCapacity: 4096,
		FirstInodeID:       2,
	}
	m, err := branchmgr.Format(win, opts)
	assert.Nil(t, err)
	main, ok := m.ByName("main")
	assert.True(t, ok)

	h, err := m.Mount(main)
	assert.Nil(t, err)

	res := resolver.New(m, nil)
	fs := New(m, res, h)
	return m, fs, main
}

func TestCreateThenLookup(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	ino, err := fs.Create(RootIno, "a.txt", 0100644)
	assert.Nil(t, err)

	attr, err := fs.Lookup(RootIno, "a.txt")
	assert.Nil(t, err)
	assert.Equal(t, attr.Ino, ino)
	assert.Equal(t, attr.Mode, uint32(0100644))
}

func TestCreateDuplicateNameIsExist(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "dup.txt", 0100644)
	assert.Nil(t, err)

	_, err = fs.Create(RootIno, "dup.txt", 0100644)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.EXIST)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	ino, err := fs.Create(RootIno, "f.txt", 0100644)
	assert.Nil(t, err)

	n, err := fs.Write(ino, 0, []byte("hello"))
	assert.Nil(t, err)
	assert.Equal(t, n, uint32(5))

	data, avail, err := fs.Read(ino, 0, 5)
	assert.Nil(t, err)
	assert.Equal(t, string(data), "hello")
	assert.Equal(t, avail, uint64(5))
}

func TestUnlinkRemovesEntry(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "gone.txt", 0100644)
	assert.Nil(t, err)

	assert.Nil(t, fs.Unlink(RootIno, "gone.txt"))

	_, err = fs.Lookup(RootIno, "gone.txt")
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOENT)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	dirIno, err := fs.Mkdir(RootIno, "d", 040755)
	assert.Nil(t, err)
	_, err = fs.Create(dirIno, "child.txt", 0100644)
	assert.Nil(t, err)

	err = fs.Rmdir(RootIno, "d")
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.INVAL)
}

func TestRmdirAcceptsEmptyDirectory(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Mkdir(RootIno, "empty", 040755)
	assert.Nil(t, err)

	assert.Nil(t, fs.Rmdir(RootIno, "empty"))
	_, err = fs.Lookup(RootIno, "empty")
	assert.NotNil(t, err)
}

func TestRenameMovesEntry(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "old.txt", 0100644)
	assert.Nil(t, err)

	assert.Nil(t, fs.Rename(RootIno, "old.txt", RootIno, "new.txt", 0))

	_, err = fs.Lookup(RootIno, "old.txt")
	assert.NotNil(t, err)

	_, err = fs.Lookup(RootIno, "new.txt")
	assert.Nil(t, err)
}

func TestRenameNoReplaceRejectsExistingTarget(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "a.txt", 0100644)
	assert.Nil(t, err)
	_, err = fs.Create(RootIno, "b.txt", 0100644)
	assert.Nil(t, err)

	err = fs.Rename(RootIno, "a.txt", RootIno, "b.txt", RenameNoReplace)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.EXIST)
}

func TestRenameWithoutNoReplaceOverExistingTargetIsInval(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "a.txt", 0100644)
	assert.Nil(t, err)
	_, err = fs.Create(RootIno, "b.txt", 0100644)
	assert.Nil(t, err)

	err = fs.Rename(RootIno, "a.txt", RootIno, "b.txt", 0)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.INVAL)
}

func TestRenameUnsupportedFlagsIsInval(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "a.txt", 0100644)
	assert.Nil(t, err)

	err = fs.Rename(RootIno, "a.txt", RootIno, "b.txt", 0xFF)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.INVAL)
}

func TestSetAttrUpdatesModeAndSize(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	ino, err := fs.Create(RootIno, "f.txt", 0100644)
	assert.Nil(t, err)

	err = fs.SetAttr(ino, 0100600, 0, 0, 42, deltalog.SetattrMode|deltalog.SetattrSize)
	assert.Nil(t, err)

	attr, err := fs.GetAttr(ino)
	assert.Nil(t, err)
	assert.Equal(t, attr.Mode, uint32(0100600))
	assert.Equal(t, attr.Size, uint64(42))
}

func TestStaleHandleRejectsAllOperations(t *testing.T) {
	t.Parallel()
	m, _, main := newTestFs(t)

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)
	b2, err := m.Fork("b2", main, 2048)
	assert.Nil(t, err)

	h2, err := m.Mount(b2)
	assert.Nil(t, err)
	res := resolver.New(m, nil)
	fs := New(m, res, h2)

	assert.Nil(t, m.Commit(b1))
	assert.True(t, m.IsStale(b2))

	_, err = fs.Create(RootIno, "x", 0100644)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.STALE)

	_, err = fs.GetAttr(RootIno)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.STALE)
}

func TestIterateListsCreatedEntries(t *testing.T) {
	t.Parallel()
	_, fs, _ := newTestFs(t)

	_, err := fs.Create(RootIno, "one.txt", 0100644)
	assert.Nil(t, err)
	_, err = fs.Create(RootIno, "two.txt", 0100644)
	assert.Nil(t, err)

	ents, err := fs.Iterate(RootIno)
	assert.Nil(t, err)
	assert.Equal(t, len(ents), 2)
}
