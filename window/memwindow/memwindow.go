// Package memwindow is the in-memory window.Window backend: a plain
// heap-allocated byte slice with no durability at all. It exists for
// tests and for hosts that want the speculative-branching semantics
// without persistence.
package memwindow

import (
	"fmt"

	"github.com/anttila/branchfs/window"
)

type memWindow struct {
	data []byte
}

var _ window.Window = &memWindow{}

// New allocates a zeroed window of the given size.
func New(size uint64) window.Window {
	return &memWindow{data: make([]byte, size)}
}

func (self *memWindow) Size() uint64 {
	return uint64(len(self.data))
}

func (self *memWindow) At(offset, length uint64) []byte {
	if offset+length > uint64(len(self.data)) {
		panic(fmt.Sprintf("memwindow.At out of range: %d+%d > %d", offset, length, len(self.data)))
	}
	return self.data[offset : offset+length]
}

func (self *memWindow) Offset(ptr []byte) (uint64, bool) {
	if len(self.data) == 0 || len(ptr) == 0 {
		return 0, false
	}
	return window.OffsetWithin(self.data, ptr)
}

func (self *memWindow) Sync(offset, length uint64) error {
	return nil
}

func (self *memWindow) Close() error {
	return nil
}
