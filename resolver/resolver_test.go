package resolver

import (
	"encoding/binary"
	"testing"

	"github.com/anttila/branchfs/baseimage"
	"github.com/anttila/branchfs/branchmgr"
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/window/memwindow"
	"github.com/stvp/assert"
)

// buildBaseImage lays out a single-entry base image directly in a
// memwindow (root dir ino 1, one file ino 2 named "shadowed.txt" under
// it), mirroring baseimage_test.go's buildTestImage helper. The header
// wire format is hand-encoded since baseimage.Header.encode is
// unexported to this package.
func buildBaseImage(t *testing.T) *baseimage.Image {
	const headerSize = 40
	const inodeTableOffset = headerSize
	const inodeCount = 2
	const name = "shadowed.txt"
	const stringTableOffset = inodeTableOffset + inodeCount*layout.BaseInodeSize
	stringTableSize := uint64(len(name))
	dataAreaOffset := stringTableOffset + stringTableSize
	data := []byte("base contents")
	size := dataAreaOffset + uint64(len(data))

	win := memwindow.New(size)
	le := binary.LittleEndian
	hdr := win.At(0, headerSize)
	le.PutUint64(hdr[0:], inodeCount)
	le.PutUint64(hdr[8:], inodeTableOffset)
	le.PutUint64(hdr[16:], stringTableOffset)
	le.PutUint64(hdr[24:], stringTableSize)
	le.PutUint64(hdr[32:], dataAreaOffset)

	root := layout.BaseInode{
		Ino: 1, Mode: 0040755, ParentIno: 1, Nlink: 2,
		FirstChild: 2, NextSibling: 0,
	}
	root.Encode(win.At(inodeTableOffset, layout.BaseInodeSize))

	copy(win.At(stringTableOffset, stringTableSize), []byte(name))

	file := layout.BaseInode{
		Ino: 2, Mode: 0100644, ParentIno: 1, Nlink: 1,
		Size: uint64(len(data)), DataOffset: dataAreaOffset,
		NameOffset: uint32(stringTableOffset), NameLen: uint16(len(name)),
		FirstChild: 0, NextSibling: 0,
	}
	file.Encode(win.At(inodeTableOffset+layout.BaseInodeSize, layout.BaseInodeSize))

	copy(win.At(dataAreaOffset, uint64(len(data))), data)

	img, err := baseimage.Open(win, 0, size)
	assert.Nil(t, err)
	return img
}

func newTestSetup(t *testing.T) (*branchmgr.Manager, *Resolver, uint64) {
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
	return m, New(m, nil), main
}

func TestResolveInodeSeesOwnBranchCreate(t *testing.T) {
	t.Parallel()
	m, res, main := newTestSetup(t)

	log, err := m.Log(main)
	assert.Nil(t, err)
	assert.Nil(t, log.AppendCreate(1, 10, "a.txt", 0100644))

	attr, err := res.ResolveInode(main, 10)
	assert.Nil(t, err)
	assert.Equal(t, attr.Mode, uint32(0100644))
}

func TestResolveInodeUnknownIsNoent(t *testing.T) {
	t.Parallel()
	_, res, main := newTestSetup(t)

	_, err := res.ResolveInode(main, 999)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOENT)
}

func TestResolveDirentBranchIsolation(t *testing.T) {
	t.Parallel()
	m, _, main := newTestSetup(t)

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)
	b2, err := m.Fork("b2", main, 2048)
	assert.Nil(t, err)

	log1, _ := m.Log(b1)
	assert.Nil(t, log1.AppendCreate(1, 10, "only-in-b1", 0100644))

	res := New(m, nil)

	ino, err := res.ResolveDirent(b1, 1, "only-in-b1")
	assert.Nil(t, err)
	assert.Equal(t, ino, uint64(10))

	_, err = res.ResolveDirent(b2, 1, "only-in-b1")
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOENT)
}

func TestResolveDirentDeleteShadows(t *testing.T) {
	t.Parallel()
	m, _, main := newTestSetup(t)
	res := New(m, nil)

	log, _ := m.Log(main)
	assert.Nil(t, log.AppendCreate(1, 10, "gone.txt", 0100644))
	assert.Nil(t, log.AppendDelete(1, 10, "gone.txt"))

	_, err := res.ResolveDirent(main, 1, "gone.txt")
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOENT)

	_, err = res.ResolveInode(main, 10)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOENT)
}

func TestResolveDataLatestWriteWins(t *testing.T) {
	t.Parallel()
	m, res, main := newTestSetup(t)

	log, _ := m.Log(main)
	assert.Nil(t, log.AppendCreate(1, 10, "f.txt", 0100644))
	assert.Nil(t, log.AppendWrite(10, 0, []byte("first12345")))
	assert.Nil(t, log.AppendWrite(10, 0, []byte("second1234")))

	ptr, avail, err := res.ResolveData(main, 10, 0, 10)
	assert.Nil(t, err)
	assert.Equal(t, string(ptr), "second1234")
	assert.Equal(t, avail, uint64(10))
}

func TestResolveDataHoleReturnsZeroAvail(t *testing.T) {
	t.Parallel()
	m, res, main := newTestSetup(t)

	log, _ := m.Log(main)
	assert.Nil(t, log.AppendCreate(1, 10, "empty.txt", 0100644))

	ptr, avail, err := res.ResolveData(main, 10, 0, 10)
	assert.Nil(t, err)
	assert.Nil(t, ptr)
	assert.Equal(t, avail, uint64(0))
}

func TestEnumerateCombinesBranchCreatesAndFiltersDeletes(t *testing.T) {
	t.Parallel()
	m, res, main := newTestSetup(t)

	log, _ := m.Log(main)
	assert.Nil(t, log.AppendCreate(1, 10, "a.txt", 0100644))
	assert.Nil(t, log.AppendCreate(1, 11, "b.txt", 0100644))
	assert.Nil(t, log.AppendDelete(1, 11, "b.txt"))

	ents, err := res.Enumerate(main, 1)
	assert.Nil(t, err)
	assert.Equal(t, len(ents), 1)
	assert.Equal(t, ents[0].Name, "a.txt")
}

func TestEnumerateChildBranchSeesParentAndOwnCreates(t *testing.T) {
	t.Parallel()
	m, _, main := newTestSetup(t)

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)

	mainLog, _ := m.Log(main)
	assert.Nil(t, mainLog.AppendCreate(1, 10, "in-main", 0100644))

	childLog, _ := m.Log(b1)
	assert.Nil(t, childLog.AppendCreate(1, 11, "in-child", 0100644))

	res := New(m, nil)
	ents, err := res.Enumerate(b1, 1)
	assert.Nil(t, err)
	assert.Equal(t, len(ents), 2)

	names := map[string]bool{}
	for _, e := range ents {
		names[e.Name] = true
	}
	assert.True(t, names["in-main"])
	assert.True(t, names["in-child"])
}

func TestResolveInodeAfterCommitSeesChildData(t *testing.T) {
	t.Parallel()
	m, _, main := newTestSetup(t)

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)

	childLog, _ := m.Log(b1)
	assert.Nil(t, childLog.AppendCreate(1, 10, "merged.txt", 0100644))

	assert.Nil(t, m.Commit(b1))

	res := New(m, nil)
	attr, err := res.ResolveInode(main, 10)
	assert.Nil(t, err)
	assert.Equal(t, attr.Mode, uint32(0100644))
}

func TestEnumerateListsRecreatedNameAfterDeletingBaseEntry(t *testing.T) {
	t.Parallel()
	m, _, main := newTestSetup(t)
	img := buildBaseImage(t)
	res := New(m, img)

	log, err := m.Log(main)
	assert.Nil(t, err)
	assert.Nil(t, log.AppendDelete(1, 2, "shadowed.txt"))
	assert.Nil(t, log.AppendCreate(1, 20, "shadowed.txt", 0100644))

	ino, err := res.ResolveDirent(main, 1, "shadowed.txt")
	assert.Nil(t, err)
	assert.Equal(t, ino, uint64(20))

	ents, err := res.Enumerate(main, 1)
	assert.Nil(t, err)
	assert.Equal(t, len(ents), 1)
	assert.Equal(t, ents[0].Name, "shadowed.txt")
	assert.Equal(t, ents[0].Ino, uint64(20))
}
