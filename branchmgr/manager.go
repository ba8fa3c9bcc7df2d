// Package branchmgr implements the branch manager: the branch table,
// parent/child relations, lifecycle state, refcounts, and the
// fork/commit/abort operations that give speculative branching its
// name. It is the only component that mutates the branch table and
// the only one that knows which branches currently have a live,
// writable delta log.
package branchmgr

import (
	"github.com/anttila/branchfs/alloc"
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/deltalog"
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/mlog"
	"github.com/anttila/branchfs/util"
	"github.com/anttila/branchfs/window"
)

// branch is everything the manager tracks in memory for one branch
// table slot that isn't FREE.
type branch struct {
	slot int
	rec  layout.BranchRecord
	ba   *alloc.BranchAlloc
	log  *deltalog.Log // nil once Abort has dropped it
}

// Manager owns the on-storage superblock and branch table of one
// window, plus the delta-region allocator and the in-memory state
// (indices, allocators) for every non-FREE branch, built when Open
// loads the branch or Fork creates it.
type Manager struct {
	win window.Window

	sbLock util.MutexLocked
	sb     layout.Superblock

	// lock guards branches/invalidated. Reads (Parent/State/Name/List/
	// Log/IsStale) vastly outnumber writes (Fork/Commit/Abort/NewIno) —
	// the resolver's leaf→root chain walk calls Parent and Log once per
	// branch on every lookup — so this is an RWMutex rather than a
	// plain one.
	lock        util.RWMutexLocked
	branches    map[uint64]*branch
	invalidated map[uint64]bool

	alloc *alloc.Allocator
}

// Open reads an already-formatted image's superblock and branch
// table out of win and rebuilds the delta log index of every branch
// that is neither FREE nor ABORTED (an aborted branch gets an
// allocator but no log) — the same recovery path a fresh mount always takes, whether
// it follows a clean unmount or a crash.
func Open(win window.Window) (*Manager, error) {
	var sb layout.Superblock
	if !sb.Decode(win.At(0, layout.SuperblockSize)) {
		return nil, brancherr.New(brancherr.IO, "branchmgr.Open", "bad superblock magic")
	}
	m := &Manager{
		win:         win,
		sb:          sb,
		branches:    make(map[uint64]*branch),
		invalidated: make(map[uint64]bool),
		alloc:       alloc.New(win, sb.DeltaRegionOffset, sb.DeltaRegionSize, sb.DeltaAllocOffset),
	}
	for slot := 0; slot < int(sb.BranchTableCap); slot++ {
		off := layout.BranchRecordOffset(sb.BranchTableOffset, slot)
		var rec layout.BranchRecord
		rec.Decode(win.At(off, layout.BranchRecordSize))
		if rec.State == layout.BranchFree {
			continue
		}
		b := &branch{slot: slot, rec: rec}
		b.ba = alloc.NewBranchAlloc(win, rec.DeltaLogOffset, rec.DeltaLogCapacity, rec.DeltaLogSize)
		if rec.State != layout.BranchAborted {
			log, err := deltalog.Open(b.ba)
			if err != nil {
				return nil, brancherr.Wrap(brancherr.IO, "branchmgr.Open", err)
			}
			b.log = log
		}
		m.branches[rec.BranchID] = b
	}
	mlog.Printf2("branchmgr/manager", "Open: %d branches loaded", len(m.branches))
	return m, nil
}

func (m *Manager) writeSuperblockLocked() {
	buf := m.win.At(0, layout.SuperblockSize)
	m.sb.Encode(buf)
}

func (m *Manager) writeBranchLocked(b *branch) {
	off := layout.BranchRecordOffset(m.sb.BranchTableOffset, b.slot)
	b.rec.Encode(m.win.At(off, layout.BranchRecordSize))
}

// Root returns the branch id of the chain's root (parent_id == 0).
// It exists mostly for tests and CLI tooling; the resolver walks
// Parent itself rather than calling Root.
func (m *Manager) Root() (uint64, error) {
	defer m.lock.RLocked()()
	for id, b := range m.branches {
		if b.rec.ParentID == 0 && b.rec.State != layout.BranchFree {
			return id, nil
		}
	}
	return 0, brancherr.New(brancherr.NOENT, "branchmgr.Root", "no root branch")
}

// Parent returns branchID's parent id (0 for the root branch) and
// whether branchID is known at all.
func (m *Manager) Parent(branchID uint64) (uint64, bool) {
	defer m.lock.RLocked()()
	b, ok := m.branches[branchID]
	if !ok {
		return 0, false
	}
	return b.rec.ParentID, true
}

// State returns branchID's persisted lifecycle state.
func (m *Manager) State(branchID uint64) (layout.BranchState, bool) {
	defer m.lock.RLocked()()
	b, ok := m.branches[branchID]
	if !ok {
		return layout.BranchFree, false
	}
	return b.rec.State, true
}

// Name returns branchID's name.
func (m *Manager) Name(branchID uint64) (string, bool) {
	defer m.lock.RLocked()()
	b, ok := m.branches[branchID]
	if !ok {
		return "", false
	}
	return b.rec.NameString(), true
}

// Record returns a copy of branchID's on-storage record, for
// branch-management tooling (list/status).
func (m *Manager) Record(branchID uint64) (layout.BranchRecord, bool) {
	defer m.lock.RLocked()()
	b, ok := m.branches[branchID]
	if !ok {
		return layout.BranchRecord{}, false
	}
	return b.rec, true
}

// List returns every non-FREE branch's record.
func (m *Manager) List() []layout.BranchRecord {
	defer m.lock.RLocked()()
	out := make([]layout.BranchRecord, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, b.rec)
	}
	return out
}

// ByName finds a branch id by its name.
func (m *Manager) ByName(name string) (uint64, bool) {
	defer m.lock.RLocked()()
	for id, b := range m.branches {
		if b.rec.NameString() == name {
			return id, true
		}
	}
	return 0, false
}

// Log returns the delta log for branchID, failing with STALE if the
// branch has been invalidated by a sibling's commit or is no longer
// ACTIVE/COMMITTED, and NOENT if branchID is unknown.
func (m *Manager) Log(branchID uint64) (*deltalog.Log, error) {
	defer m.lock.RLocked()()
	b, ok := m.branches[branchID]
	if !ok {
		return nil, brancherr.New(brancherr.NOENT, "branchmgr.Log", "no such branch %d", branchID)
	}
	if m.invalidated[branchID] {
		return nil, brancherr.New(brancherr.STALE, "branchmgr.Log", "branch %d invalidated by sibling commit", branchID)
	}
	if b.log == nil {
		return nil, brancherr.New(brancherr.STALE, "branchmgr.Log", "branch %d has no live log (state %s)", branchID, b.rec.State)
	}
	return b.log, nil
}

// IsStale reports whether branchID has been invalidated (by a
// sibling's commit) or is otherwise no longer usable for operations.
func (m *Manager) IsStale(branchID uint64) bool {
	defer m.lock.RLocked()()
	if m.invalidated[branchID] {
		return true
	}
	b, ok := m.branches[branchID]
	if !ok {
		return true
	}
	return b.rec.State != layout.BranchActive && b.rec.State != layout.BranchCommitted
}

// BaseImage returns the offset and size of the read-only base image
// baked in at Format time, or (0, 0) if the image was formatted
// without one. Both fields are immutable after Format, but reads still
// go through sbLock for consistency with every other superblock
// accessor.
func (m *Manager) BaseImage() (offset, size uint64) {
	defer m.sbLock.Locked()()
	return m.sb.BaseImageOffset, m.sb.BaseImageSize
}

// NewIno allocates a globally-unique inode id for a new object created
// in branchID, bumping both the branch's own next_local_ino counter
// and the superblock's monotonic global bound.
func (m *Manager) NewIno(branchID uint64) (uint64, error) {
	defer m.sbLock.Locked()()
	defer m.lock.Locked()()
	b, ok := m.branches[branchID]
	if !ok {
		return 0, brancherr.New(brancherr.NOENT, "branchmgr.NewIno", "no such branch %d", branchID)
	}
	ino := m.sb.NextInodeID
	m.sb.NextInodeID++
	b.rec.NextLocalIno++
	m.writeSuperblockLocked()
	m.writeBranchLocked(b)
	return ino, nil
}

// freeSlotLocked finds a FREE branch table slot, or -1 if the table is
// full.
func (m *Manager) freeSlotLocked() int {
	used := make([]bool, m.sb.BranchTableCap)
	for _, b := range m.branches {
		used[b.slot] = true
	}
	for i := range used {
		if !used[i] {
			return i
		}
	}
	return -1
}

// Fork creates a new ACTIVE branch as a child of parentID, reserving
// capacity bytes of its own delta-log sub-range. parentID == 0 forks
// a new root-level branch directly off the base image (no parent
// branch to inherit deltas from).
func (m *Manager) Fork(name string, parentID, capacity uint64) (uint64, error) {
	off, err := m.alloc.Reserve(capacity)
	if err != nil {
		return 0, err
	}

	defer m.sbLock.Locked()()
	defer m.lock.Locked()()

	if parentID != 0 {
		parent, ok := m.branches[parentID]
		if !ok {
			return 0, brancherr.New(brancherr.NOENT, "branchmgr.Fork", "no such parent branch %d", parentID)
		}
		if parent.rec.State != layout.BranchActive {
			return 0, brancherr.New(brancherr.STALE, "branchmgr.Fork", "parent branch %d is not ACTIVE", parentID)
		}
	}

	slot := m.freeSlotLocked()
	if slot < 0 {
		return 0, brancherr.New(brancherr.NOSPC, "branchmgr.Fork", "branch table full (%d entries)", m.sb.BranchTableCap)
	}

	id := m.sb.NextBranchID
	m.sb.NextBranchID++

	rec := layout.BranchRecord{
		BranchID: id, ParentID: parentID,
		DeltaLogOffset: off, DeltaLogCapacity: capacity, DeltaLogSize: 0,
		State: layout.BranchActive, RefCount: 1,
	}
	rec.SetName(name)

	b := &branch{slot: slot, rec: rec}
	b.ba = alloc.NewBranchAlloc(m.win, off, capacity, 0)
	log, err := deltalog.Open(b.ba)
	if err != nil {
		return 0, brancherr.Wrap(brancherr.IO, "branchmgr.Fork", err)
	}
	b.log = log
	m.branches[id] = b

	if parentID != 0 {
		parent := m.branches[parentID]
		parent.rec.RefCount++
		m.writeBranchLocked(parent)
	}

	m.sb.ActiveBranchCount++
	m.sb.DeltaAllocOffset = m.alloc.BumpOffset()
	m.writeSuperblockLocked()
	m.writeBranchLocked(b)

	mlog.Printf2("branchmgr/manager", "Fork: %s (id %d) parent %d capacity %d", name, id, parentID, capacity)
	return id, nil
}

// Abort discards branchID: its bytes in the delta region become lost
// space (space reclamation is a non-goal), its in-memory indices are
// dropped, and its parent's refcount is released. A branch with live
// children or mounts (refcount > 1, i.e. more than its own fork-time
// self-reference) cannot be aborted out from under them.
func (m *Manager) Abort(branchID uint64) error {
	defer m.sbLock.Locked()()
	defer m.lock.Locked()()

	b, ok := m.branches[branchID]
	if !ok {
		return brancherr.New(brancherr.NOENT, "branchmgr.Abort", "no such branch %d", branchID)
	}
	if b.rec.State != layout.BranchActive {
		return brancherr.New(brancherr.STALE, "branchmgr.Abort", "branch %d is not ACTIVE", branchID)
	}
	if b.rec.RefCount > 1 {
		return brancherr.New(brancherr.INVAL, "branchmgr.Abort", "branch %d has %d live children/mounts", branchID, b.rec.RefCount-1)
	}

	b.rec.State = layout.BranchAborted
	b.log = nil
	m.sb.ActiveBranchCount--
	m.writeSuperblockLocked()
	m.writeBranchLocked(b)

	if b.rec.ParentID != 0 {
		if parent, ok := m.branches[b.rec.ParentID]; ok {
			parent.rec.RefCount--
			m.writeBranchLocked(parent)
		}
	}

	mlog.Printf2("branchmgr/manager", "Abort: branch %d", branchID)
	return nil
}

// Commit merges childID's delta log into its parent verbatim, rebuilds
// the parent's indices, marks childID COMMITTED, and invalidates every
// other ACTIVE sibling of childID — any mount bound to one of them
// reports STALE from then on (spec.md §4.5, invariant 4).
func (m *Manager) Commit(childID uint64) error {
	defer m.sbLock.Locked()()
	defer m.lock.Locked()()

	child, ok := m.branches[childID]
	if !ok {
		return brancherr.New(brancherr.NOENT, "branchmgr.Commit", "no such branch %d", childID)
	}
	if child.rec.State != layout.BranchActive {
		return brancherr.New(brancherr.STALE, "branchmgr.Commit", "branch %d is not ACTIVE", childID)
	}
	if m.invalidated[childID] {
		return brancherr.New(brancherr.STALE, "branchmgr.Commit", "branch %d already invalidated", childID)
	}
	if child.rec.ParentID == 0 {
		return brancherr.New(brancherr.INVAL, "branchmgr.Commit", "branch %d has no parent to commit into", childID)
	}
	parent, ok := m.branches[child.rec.ParentID]
	if !ok {
		return brancherr.New(brancherr.NOENT, "branchmgr.Commit", "parent branch %d missing", child.rec.ParentID)
	}
	if parent.rec.State != layout.BranchActive {
		return brancherr.New(brancherr.STALE, "branchmgr.Commit", "parent branch %d is not ACTIVE", parent.rec.BranchID)
	}

	childSize := child.ba.Size()
	if parent.ba.Size()+childSize > parent.rec.DeltaLogCapacity {
		return brancherr.New(brancherr.NOSPC, "branchmgr.Commit",
			"parent branch %d has no room for %d bytes from branch %d", parent.rec.BranchID, childSize, childID)
	}

	if childSize > 0 {
		src := child.ba.At(0, childSize)
		dst, relOffset, err := parent.ba.Append(childSize)
		if err != nil {
			return err
		}
		copy(dst, src)
		parent.ba.Publish(relOffset, childSize)
	}
	if err := parent.log.Rebuild(); err != nil {
		return brancherr.Wrap(brancherr.IO, "branchmgr.Commit", err)
	}
	parent.rec.DeltaLogSize = parent.ba.Size()
	m.writeBranchLocked(parent)

	child.rec.State = layout.BranchCommitted
	m.sb.ActiveBranchCount--
	m.writeSuperblockLocked()
	m.writeBranchLocked(child)

	for id, sib := range m.branches {
		if id == childID {
			continue
		}
		if sib.rec.ParentID == parent.rec.BranchID && sib.rec.State == layout.BranchActive {
			m.invalidated[id] = true
			mlog.Printf2("branchmgr/manager", "Commit: invalidating sibling %d", id)
		}
	}

	mlog.Printf2("branchmgr/manager", "Commit: branch %d (%d bytes) into parent %d", childID, childSize, parent.rec.BranchID)
	return nil
}

// SyncBranch persists branchID's current delta_log_size into its
// branch-table record (and that record's backing window bytes, via
// win.Sync if the window is durable). The delta log bytes themselves
// are already visible to readers as soon as Publish runs; this only
// catches up the persisted counter so a crash/remount resumes without
// re-discovering the bump offset from scratch.
func (m *Manager) SyncBranch(branchID uint64) error {
	defer m.lock.Locked()()
	b, ok := m.branches[branchID]
	if !ok {
		return brancherr.New(brancherr.NOENT, "branchmgr.SyncBranch", "no such branch %d", branchID)
	}
	b.rec.DeltaLogSize = b.ba.Size()
	m.writeBranchLocked(b)
	off := layout.BranchRecordOffset(m.sb.BranchTableOffset, b.slot)
	return m.win.Sync(off, layout.BranchRecordSize)
}

// Sync persists every branch's delta_log_size and the superblock, and
// issues a window-level sync barrier over both regions.
func (m *Manager) Sync() error {
	ids := func() []uint64 {
		defer m.lock.RLocked()()
		ids := make([]uint64, 0, len(m.branches))
		for id := range m.branches {
			ids = append(ids, id)
		}
		return ids
	}()
	for _, id := range ids {
		if err := m.SyncBranch(id); err != nil {
			return err
		}
	}
	defer m.sbLock.Locked()()
	m.writeSuperblockLocked()
	return m.win.Sync(0, layout.SuperblockSize)
}
