// Package alloc implements the delta-region bump allocator: a single
// monotonic super-level offset handed out to branches at fork time,
// and a per-branch bump within the sub-range each branch reserved.
// Append-only is load-bearing here, not an optimization — the
// resolver depends on older records living at smaller offsets so it
// can scan a prefix of a log concurrently with an appender.
package alloc

import (
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/mlog"
	"github.com/anttila/branchfs/util"
	"github.com/anttila/branchfs/window"
)

// Allocator owns the super-level bump pointer over the delta region
// of a single window. All cross-branch reservations go through one
// lock; per-branch bumps within an already-reserved sub-range use
// their own lock (see BranchAlloc).
type Allocator struct {
	win         window.Window
	regionBase  uint64
	regionSize  uint64
	lock        util.MutexLocked
	bumpOffset  uint64 // next free byte, relative to regionBase
}

// New wraps a window's delta region, starting the bump pointer at
// initialBump bytes past regionBase (so a remounted image resumes
// exactly where the superblock's delta_alloc_offset left off).
func New(win window.Window, regionBase, regionSize, initialBump uint64) *Allocator {
	return &Allocator{
		win:        win,
		regionBase: regionBase,
		regionSize: regionSize,
		bumpOffset: initialBump,
	}
}

// BumpOffset returns the current super-level bump, relative to
// regionBase — the value callers persist into the superblock's
// delta_alloc_offset field.
func (a *Allocator) BumpOffset() uint64 {
	defer a.lock.Locked()()
	return a.bumpOffset
}

// Reserve advances the super-level bump by size bytes and returns the
// absolute window offset of the reserved range's start. It is used
// once per branch fork, to carve out that branch's delta-log
// sub-range.
func (a *Allocator) Reserve(size uint64) (uint64, error) {
	defer a.lock.Locked()()
	if a.bumpOffset+size > a.regionSize {
		return 0, brancherr.New(brancherr.NOSPC, "alloc.Reserve",
			"delta region exhausted: need %d bytes, %d remain", size, a.regionSize-a.bumpOffset)
	}
	start := a.regionBase + a.bumpOffset
	a.bumpOffset += size
	mlog.Printf2("alloc/alloc", "Reserve(%d) -> %d, bump now %d", size, start, a.bumpOffset)
	return start, nil
}

// BranchAlloc is the per-branch bump allocator within a sub-range
// Reserve already carved out. Its mutable state is two counters:
// reserved, advanced by Append, and size (delta_log_size), advanced by
// Publish strictly after the caller has written the bytes it covers
// and applied its index update, matching the release/acquire
// discipline in the write-path design.
type BranchAlloc struct {
	win      window.Window
	base     uint64 // absolute offset of this branch's sub-range
	capacity uint64
	lock     util.MutexLocked
	reserved uint64 // bytes handed out by Append, including in-flight writers
	size     uint64 // bytes visible to readers (delta_log_size); size <= reserved
}

// NewBranchAlloc wraps an already-reserved sub-range. size is the
// current delta_log_size read back from the branch record (0 for a
// freshly forked branch). reserved starts equal to size — nothing is
// in flight across a remount.
func NewBranchAlloc(win window.Window, base, capacity, size uint64) *BranchAlloc {
	return &BranchAlloc{win: win, base: base, capacity: capacity, reserved: size, size: size}
}

// Size returns the branch's current delta_log_size, i.e. the bytes
// visible to readers. It does not include any in-flight append that
// hasn't reached Publish yet.
func (b *BranchAlloc) Size() uint64 {
	defer b.lock.Locked()()
	return b.size
}

// At returns the live window slice [relOffset, relOffset+length)
// within this branch's sub-range, for readers (index replay, resolve)
// that address log records relative to the branch rather than the
// whole window.
func (b *BranchAlloc) At(relOffset, length uint64) []byte {
	return b.win.At(b.base+relOffset, length)
}

// Base returns the absolute window offset of this branch's sub-range.
func (b *BranchAlloc) Base() uint64 {
	return b.base
}

// Append reserves size bytes at the end of the branch's delta log and
// returns the live window slice the caller should fill in, plus the
// offset of that slice RELATIVE to the branch's base (the same
// addressing At and Size use) — never the absolute window offset.
// Reserving advances b.reserved immediately, under the lock, so
// concurrent appenders never hand out overlapping ranges; the bytes
// are not visible to readers (Size/resolver scans) until Publish runs.
func (b *BranchAlloc) Append(size uint64) (ptr []byte, relOffset uint64, err error) {
	defer b.lock.Locked()()
	if b.reserved+size > b.capacity {
		return nil, 0, brancherr.New(brancherr.NOSPC, "alloc.BranchAlloc.Append",
			"branch delta log exhausted: need %d bytes, %d remain of %d", size, b.capacity-b.reserved, b.capacity)
	}
	relOffset = b.reserved
	b.reserved += size
	ptr = b.win.At(b.base+relOffset, size)
	mlog.Printf2("alloc/alloc", "BranchAlloc.Append(%d) -> rel offset %d (uncommitted)", size, relOffset)
	return ptr, relOffset, nil
}

// Publish bumps the branch's visible size counter to relOffset+size,
// AFTER the caller has written the bytes Append returned and updated
// its in-memory index entry for them. Readers that observe the new
// size are guaranteed to also observe the bytes and index entry that
// precede it in program order, matching spec.md's release/acquire
// requirement on the write path. Publish must be called in the same
// order the matching Appends were issued, since size only ever grows
// by a contiguous prefix. relOffset is branch-relative, matching
// Append's return and At's argument.
func (b *BranchAlloc) Publish(relOffset, size uint64) {
	defer b.lock.Locked()()
	newSize := relOffset + size
	if newSize > b.size {
		b.size = newSize
	}
	mlog.Printf2("alloc/alloc", "BranchAlloc.Publish(%d,%d), size now %d", relOffset, size, b.size)
}
