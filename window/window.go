// Package window provides the storage-window abstraction branchfs is
// built on: a single contiguous, directly-addressable byte range
// backing the whole filesystem, plus pluggable ways of obtaining one.
//
// On real persistent-memory hardware a Window is a straight mmap; on
// hosts without DAX, branchfs can page the same flat address space in
// and out of a bbolt or badger database instead, trading a copy for
// durability. Every layer above window (layout, alloc, baseimage,
// deltalog, branchmgr, resolver) only ever sees the Window interface.
package window

import "unsafe"

// Window is the storage-window collaborator described in the core
// specification: a stable mapping between byte offsets and live
// memory.
type Window interface {
	// Size returns the total addressable length of the window.
	Size() uint64

	// At returns a slice aliasing window bytes [offset, offset+length).
	// Writes through the returned slice are visible to later callers
	// that request an overlapping range; this is the same contract a
	// raw mmap gives.
	At(offset, length uint64) []byte

	// Offset maps a slice previously returned by At (or any sub-slice
	// of it) back to its absolute offset. ok is false if ptr does not
	// alias bytes owned by this window.
	Offset(ptr []byte) (offset uint64, ok bool)

	// Sync flushes [offset, offset+length) to the backing medium, if
	// any. It is a persistence barrier, not a correctness requirement
	// for readers already observing the bytes in memory.
	Sync(offset, length uint64) error

	// Close releases the window and any backing resources.
	Close() error
}

// OffsetWithin implements Window.Offset for any Window whose entire
// address space is a single contiguous Go byte slice (true of every
// backend branchfs ships: mmap'd memory is one slice, and paged
// backends keep one resident shadow buffer). It compares the address
// of the first byte of ptr against the address of the first byte of
// base; both must come from the same underlying array.
func OffsetWithin(base, ptr []byte) (uint64, bool) {
	if len(ptr) == 0 {
		return 0, false
	}
	baseAddr := uintptr(unsafe.Pointer(&base[0]))
	ptrAddr := uintptr(unsafe.Pointer(&ptr[0]))
	if ptrAddr < baseAddr {
		return 0, false
	}
	off := uint64(ptrAddr - baseAddr)
	if off+uint64(len(ptr)) > uint64(len(base)) {
		return 0, false
	}
	return off, true
}
