// Package pagedwindow implements the paging engine shared by
// boltwindow and badgerwindow: a window.Window that keeps the entire
// address space resident in one shadow buffer (so At/Offset behave
// exactly like mmapwindow to everything above it) while persisting
// fixed-size dirty pages to a pluggable Store on Sync.
package pagedwindow

import (
	"fmt"

	"github.com/anttila/branchfs/codec"
	"github.com/anttila/branchfs/mlog"
	"github.com/anttila/branchfs/util"
	"github.com/anttila/branchfs/window"
)

// PageSize is the unit of persistence; it matches the filesystem
// block size from the core layout.
const PageSize = 4096

// Store is the minimal KV-backed persistence contract boltwindow and
// badgerwindow implement. Pages are addressed by index (offset /
// PageSize) and stored as opaque, possibly codec-transformed blobs
// whose length need not equal PageSize. ReadPage returns (nil, nil)
// for a page that was never written.
type Store interface {
	ReadPage(index uint64) ([]byte, error)
	WritePage(index uint64, data []byte) error
	Close() error
}

type pagedWindow struct {
	data  []byte
	dirty map[uint64]bool
	store Store
	codec codec.Codec
	lock  util.MutexLocked
}

var _ window.Window = &pagedWindow{}

// New loads size bytes (rounded up to a page boundary) from store into
// a resident buffer and returns a Window over it. c may be nil (no
// at-rest transform).
func New(store Store, size uint64, c codec.Codec) (window.Window, error) {
	pages := (size + PageSize - 1) / PageSize
	buf := make([]byte, pages*PageSize)
	for i := uint64(0); i < pages; i++ {
		raw, err := store.ReadPage(i)
		if err != nil {
			return nil, fmt.Errorf("pagedwindow: read page %d: %w", i, err)
		}
		if raw == nil {
			continue // zero page; buf is already zeroed
		}
		plain := raw
		if c != nil {
			plain, err = c.DecodeBytes(raw, pageAAD(i))
			if err != nil {
				return nil, fmt.Errorf("pagedwindow: decode page %d: %w", i, err)
			}
		}
		if len(plain) != PageSize {
			return nil, fmt.Errorf("pagedwindow: page %d decoded to %d bytes, want %d", i, len(plain), PageSize)
		}
		copy(buf[i*PageSize:(i+1)*PageSize], plain)
	}
	mlog.Printf2("window/pagedwindow/pagedwindow", "New: loaded %d pages", pages)
	return &pagedWindow{data: buf, dirty: make(map[uint64]bool), store: store, codec: c}, nil
}

func pageAAD(index uint64) []byte {
	return []byte(fmt.Sprintf("page:%d", index))
}

func (self *pagedWindow) Size() uint64 {
	return uint64(len(self.data))
}

func (self *pagedWindow) At(offset, length uint64) []byte {
	if offset+length > uint64(len(self.data)) {
		panic(fmt.Sprintf("pagedwindow.At out of range: %d+%d > %d", offset, length, len(self.data)))
	}
	if length > 0 {
		defer self.lock.Locked()()
		first := offset / PageSize
		last := (offset + length - 1) / PageSize
		for p := first; p <= last; p++ {
			self.dirty[p] = true
		}
	}
	return self.data[offset : offset+length]
}

func (self *pagedWindow) Offset(ptr []byte) (uint64, bool) {
	return window.OffsetWithin(self.data, ptr)
}

// Sync persists every page touched by At (conservatively: At marks a
// page dirty whether or not the caller actually wrote to it, since
// Window gives out live aliasing slices and cannot observe writes
// directly).
func (self *pagedWindow) Sync(offset, length uint64) error {
	defer self.lock.Locked()()
	if length == 0 {
		return nil
	}
	first := offset / PageSize
	last := (offset + length - 1) / PageSize
	for p := first; p <= last; p++ {
		if !self.dirty[p] {
			continue
		}
		plain := self.data[p*PageSize : (p+1)*PageSize]
		out := plain
		if self.codec != nil {
			var err error
			out, err = self.codec.EncodeBytes(plain, pageAAD(p))
			if err != nil {
				return fmt.Errorf("pagedwindow: encode page %d: %w", p, err)
			}
		}
		if err := self.store.WritePage(p, out); err != nil {
			return fmt.Errorf("pagedwindow: write page %d: %w", p, err)
		}
		delete(self.dirty, p)
	}
	mlog.Printf2("window/pagedwindow/pagedwindow", "Sync [%d,%d) flushed through page %d", offset, offset+length, last)
	return nil
}

func (self *pagedWindow) Close() error {
	return self.store.Close()
}
