// Package baseimage reads the optional, immutable base image that
// underlies branch zero: an inode table, a string table holding
// entry names, and a data area. Directories are not trees of slices
// but sibling-linked lists — each inode carries a first_child pointer
// into its own directory and a next_sibling pointer to the following
// dirent — the same shape erofs and apfs use for compact, append-free
// directory storage, which suits a read-only image well.
package baseimage

import (
	"encoding/binary"

	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/window"
)

// RootIno is the inode number of the base image's root directory.
const RootIno = 1

// Header describes the base image's own sub-superblock, immediately
// preceding the inode table within the region the top-level
// superblock calls base_image_offset/base_image_size.
type Header struct {
	InodeCount       uint64
	InodeTableOffset uint64
	StringTableOffset uint64
	StringTableSize  uint64
	DataAreaOffset   uint64
}

const headerWireSize = 8 * 5

func (h *Header) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint64(buf[0:], h.InodeCount)
	le.PutUint64(buf[8:], h.InodeTableOffset)
	le.PutUint64(buf[16:], h.StringTableOffset)
	le.PutUint64(buf[24:], h.StringTableSize)
	le.PutUint64(buf[32:], h.DataAreaOffset)
}

func (h *Header) decode(buf []byte) {
	le := binary.LittleEndian
	h.InodeCount = le.Uint64(buf[0:])
	h.InodeTableOffset = le.Uint64(buf[8:])
	h.StringTableOffset = le.Uint64(buf[16:])
	h.StringTableSize = le.Uint64(buf[24:])
	h.DataAreaOffset = le.Uint64(buf[32:])
}

// Image is a read-only view over a base image embedded in a window.
// It never mutates the window; callers that fork a branch from the
// base image only ever append to their own delta log.
type Image struct {
	win    window.Window
	base   uint64 // absolute offset of the base image region
	size   uint64
	header Header
}

// Open reads the base image's header out of win[base:base+size) and
// validates it loosely (inode count fits the declared table region).
// An Image with InodeCount == 0 is a valid, empty base image (a fresh
// branchfs mount with no base at all uses base==0, size==0 instead and
// callers should not call Open).
func Open(win window.Window, base, size uint64) (*Image, error) {
	if size < headerWireSize {
		return nil, brancherr.New(brancherr.IO, "baseimage.Open", "region too small for header: %d bytes", size)
	}
	img := &Image{win: win, base: base, size: size}
	img.header.decode(win.At(base, headerWireSize))
	tableBytes := img.header.InodeCount * layout.BaseInodeSize
	if img.header.InodeTableOffset+tableBytes > base+size {
		return nil, brancherr.New(brancherr.IO, "baseimage.Open", "inode table overruns base image region")
	}
	return img, nil
}

// InodeCount returns the number of inodes in the image.
func (img *Image) InodeCount() uint64 {
	return img.header.InodeCount
}

// Inode reads base inode `ino` (1-based; inode i occupies slot i-1).
func (img *Image) Inode(ino uint64) (layout.BaseInode, error) {
	var bi layout.BaseInode
	if ino == 0 || ino > img.header.InodeCount {
		return bi, brancherr.New(brancherr.NOENT, "baseimage.Inode", "ino %d out of range [1,%d]", ino, img.header.InodeCount)
	}
	off := img.header.InodeTableOffset + (ino-1)*layout.BaseInodeSize
	bi.Decode(img.win.At(off, layout.BaseInodeSize))
	return bi, nil
}

// Name returns the entry name of inode `ino`, read out of the string
// table via the inode's name_offset/name_len.
func (img *Image) Name(bi layout.BaseInode) (string, error) {
	if bi.NameLen == 0 {
		return "", nil // root has no name
	}
	end := uint64(bi.NameOffset) + uint64(bi.NameLen)
	if end > img.header.StringTableOffset+img.header.StringTableSize {
		return "", brancherr.New(brancherr.IO, "baseimage.Name", "name for ino %d overruns string table", bi.Ino)
	}
	b := img.win.At(uint64(bi.NameOffset), uint64(bi.NameLen))
	return string(b), nil
}

// Data returns up to len bytes of inode ino's file data starting at
// pos, and the number of bytes actually available (0 past EOF).
func (img *Image) Data(bi layout.BaseInode, pos, length uint64) ([]byte, uint64) {
	if pos >= bi.Size {
		return nil, 0
	}
	avail := bi.Size - pos
	if length > avail {
		length = avail
	}
	if length == 0 {
		return nil, 0
	}
	return img.win.At(bi.DataOffset+pos, length), avail
}

// Children iterates the sibling-linked directory rooted at dir's
// first_child, calling fn with each child's inode and name. It stops
// early if fn returns false.
func (img *Image) Children(dir layout.BaseInode, fn func(child layout.BaseInode, name string) bool) error {
	childIno := dir.FirstChild
	for childIno != 0 {
		child, err := img.Inode(childIno)
		if err != nil {
			return err
		}
		name, err := img.Name(child)
		if err != nil {
			return err
		}
		if !fn(child, name) {
			return nil
		}
		childIno = child.NextSibling
	}
	return nil
}

// Lookup finds a direct child of dir by name, walking the
// sibling-linked list; it returns brancherr.NOENT if no live entry
// matches (the base image has no tombstones — removal of a base-image
// entry happens via a DELETE record in some branch's delta log, not
// here).
func (img *Image) Lookup(dir layout.BaseInode, name string) (layout.BaseInode, error) {
	var found layout.BaseInode
	var ok bool
	err := img.Children(dir, func(child layout.BaseInode, childName string) bool {
		if childName == name {
			found = child
			ok = true
			return false
		}
		return true
	})
	if err != nil {
		return found, err
	}
	if !ok {
		return found, brancherr.New(brancherr.NOENT, "baseimage.Lookup", "no entry %q in ino %d", name, dir.Ino)
	}
	return found, nil
}
