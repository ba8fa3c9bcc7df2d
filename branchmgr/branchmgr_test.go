package branchmgr

import (
	"testing"

	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/window/memwindow"
	"github.com/stvp/assert"
)

func newTestManager(t *testing.T) *Manager {
	const regionSize = 1 << 16
	win := memwindow.New(uint64(layout.SuperblockSize) + uint64(layout.MaxBranches)*layout.BranchRecordSize + regionSize)
	opts := FormatOptions{
		TotalSize:          win.Size(),
		DeltaRegionOffset:  uint64(layout.SuperblockSize) + uint64(layout.MaxBranches)*layout.BranchRecordSize,
		DeltaRegionSize:    regionSize,
		MainBranchCapacity: 4096,
		FirstInodeID:       2,
	}
	m, err := Format(win, opts)
	assert.Nil(t, err)
	return m
}

func TestFormatCreatesMainBranch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	main, ok := m.ByName("main")
	assert.True(t, ok)

	parent, ok := m.Parent(main)
	assert.True(t, ok)
	assert.Equal(t, parent, uint64(0))

	state, ok := m.State(main)
	assert.True(t, ok)
	assert.Equal(t, state, layout.BranchActive)
}

func TestForkChildIsolatesFromSibling(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	main, _ := m.ByName("main")

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)
	b2, err := m.Fork("b2", main, 2048)
	assert.Nil(t, err)

	log1, err := m.Log(b1)
	assert.Nil(t, err)
	assert.Nil(t, log1.AppendCreate(1, 2, "a.txt", 0100644))

	log2, err := m.Log(b2)
	assert.Nil(t, err)
	_, ok := log2.LookupDirent(1, "a.txt")
	assert.False(t, ok)

	_, ok = log1.LookupDirent(1, "a.txt")
	assert.True(t, ok)

	parentRec, _ := m.Record(main)
	assert.Equal(t, parentRec.RefCount, uint32(3)) // self + b1 + b2
}

func TestCommitMergesAndInvalidatesSiblings(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	main, _ := m.ByName("main")

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)
	b2, err := m.Fork("b2", main, 2048)
	assert.Nil(t, err)

	log1, _ := m.Log(b1)
	assert.Nil(t, log1.AppendCreate(1, 2, "x", 0100644))

	assert.Nil(t, m.Commit(b1))

	state, _ := m.State(b1)
	assert.Equal(t, state, layout.BranchCommitted)

	mainLog, err := m.Log(main)
	assert.Nil(t, err)
	_, ok := mainLog.LookupDirent(1, "x")
	assert.True(t, ok)

	assert.True(t, m.IsStale(b2))
	_, err = m.Log(b2)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.STALE)
}

func TestAbortDropsIndicesAndReleasesParent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	main, _ := m.ByName("main")

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)

	before, _ := m.Record(main)

	assert.Nil(t, m.Abort(b1))

	state, _ := m.State(b1)
	assert.Equal(t, state, layout.BranchAborted)

	_, err = m.Log(b1)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.STALE)

	after, _ := m.Record(main)
	assert.Equal(t, after.RefCount, before.RefCount-1)
}

func TestAbortRejectsBranchWithChildren(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	main, _ := m.ByName("main")

	b1, err := m.Fork("b1", main, 2048)
	assert.Nil(t, err)
	_, err = m.Fork("b1child", b1, 512)
	assert.Nil(t, err)

	err = m.Abort(b1)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.INVAL)
}

func TestNewInoIsUniqueAndMonotonic(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	main, _ := m.ByName("main")

	a, err := m.NewIno(main)
	assert.Nil(t, err)
	b, err := m.NewIno(main)
	assert.Nil(t, err)
	assert.True(t, b > a)
}

func TestMountUnmountRefcount(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	main, _ := m.ByName("main")

	before, _ := m.Record(main)
	h, err := m.Mount(main)
	assert.Nil(t, err)
	assert.Equal(t, h.BranchID(), main)

	during, _ := m.Record(main)
	assert.Equal(t, during.RefCount, before.RefCount+1)

	h.Unmount()
	after, _ := m.Record(main)
	assert.Equal(t, after.RefCount, before.RefCount)
}
