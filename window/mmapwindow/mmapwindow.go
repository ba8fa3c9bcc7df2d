// Package mmapwindow is the production window.Window backend: a
// single mmap over a backing file (or an anonymous mapping, for
// ephemeral mounts), the closest a userspace Go program can get to a
// real DAX/persistent-memory window.
package mmapwindow

import (
	"fmt"
	"os"

	"github.com/anttila/branchfs/mlog"
	"github.com/anttila/branchfs/window"
	"golang.org/x/sys/unix"
)

type mmapWindow struct {
	data []byte
	file *os.File
}

var _ window.Window = &mmapWindow{}

// Open maps the first size bytes of path, growing the file if it is
// smaller. A nil *os.File (path == "") produces an anonymous mapping
// with no backing file at all.
func Open(path string, size uint64) (window.Window, error) {
	if path == "" {
		data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("mmapwindow: anonymous mmap: %w", err)
		}
		mlog.Printf2("window/mmapwindow/mmapwindow", "Open anonymous, %d bytes", size)
		return &mmapWindow{data: data}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("mmapwindow: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if uint64(fi.Size()) < size {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("mmapwindow: truncate %s: %w", path, err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapwindow: mmap %s: %w", path, err)
	}
	mlog.Printf2("window/mmapwindow/mmapwindow", "Open %s, %d bytes", path, size)
	return &mmapWindow{data: data, file: f}, nil
}

func (self *mmapWindow) Size() uint64 {
	return uint64(len(self.data))
}

func (self *mmapWindow) At(offset, length uint64) []byte {
	if offset+length > uint64(len(self.data)) {
		panic(fmt.Sprintf("mmapwindow.At out of range: %d+%d > %d", offset, length, len(self.data)))
	}
	return self.data[offset : offset+length]
}

func (self *mmapWindow) Offset(ptr []byte) (uint64, bool) {
	return window.OffsetWithin(self.data, ptr)
}

// Sync issues msync(2) over the given range; it is a best-effort
// persistence barrier and a no-op on anonymous mappings.
func (self *mmapWindow) Sync(offset, length uint64) error {
	if self.file == nil {
		return nil
	}
	if offset+length > uint64(len(self.data)) {
		return fmt.Errorf("mmapwindow: sync range out of bounds")
	}
	return unix.Msync(self.data[offset:offset+length], unix.MS_SYNC)
}

func (self *mmapWindow) Close() error {
	err := unix.Munmap(self.data)
	if self.file != nil {
		if cerr := self.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
