package branchmgr

import (
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/layout"
)

// Handle is a mount's binding to a single branch, per spec.md §4.5: "A
// mount is bound to a branch at mount time... An invalidated branch
// never re-activates." Every VFS operation the mount serves should
// check Stale() first and fail with STALE uniformly if it trips.
type Handle struct {
	mgr      *Manager
	branchID uint64
}

// Mount binds a new handle to branchID, taking a refcount on it (the
// same refcount fork takes for children — "children + active mounts"
// per spec.md §3).
func (m *Manager) Mount(branchID uint64) (*Handle, error) {
	defer m.lock.Locked()()
	b, ok := m.branches[branchID]
	if !ok {
		return nil, brancherr.New(brancherr.NOENT, "branchmgr.Mount", "no such branch %d", branchID)
	}
	if b.rec.State != layout.BranchActive {
		return nil, brancherr.New(brancherr.STALE, "branchmgr.Mount", "branch %d is not ACTIVE", branchID)
	}
	b.rec.RefCount++
	m.writeBranchLocked(b)
	return &Handle{mgr: m, branchID: branchID}, nil
}

// Unmount releases the handle's refcount on its bound branch.
func (h *Handle) Unmount() {
	defer h.mgr.lock.Locked()()
	b, ok := h.mgr.branches[h.branchID]
	if !ok {
		return
	}
	if b.rec.RefCount > 0 {
		b.rec.RefCount--
		h.mgr.writeBranchLocked(b)
	}
}

// BranchID returns the branch this handle is bound to.
func (h *Handle) BranchID() uint64 {
	return h.branchID
}

// Stale reports whether this handle's branch has been invalidated by
// a sibling's commit (or otherwise left the ACTIVE/COMMITTED states).
func (h *Handle) Stale() bool {
	return h.mgr.IsStale(h.branchID)
}
