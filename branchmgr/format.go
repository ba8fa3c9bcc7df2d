package branchmgr

import (
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/window"
)

// FormatOptions describes the on-storage layout of a freshly created
// image, mirroring the fields the base-image-writer/branch-management
// CLI tooling would otherwise compute (those tools are external
// collaborators per spec.md §1; branchmgr.Format is the primitive they
// would call through).
type FormatOptions struct {
	// TotalSize is the full size of the window this image lives in.
	TotalSize uint64
	// BaseImageOffset/BaseImageSize locate an already-written,
	// read-only base image elsewhere in the same window. Zero/zero
	// means no base image at all.
	BaseImageOffset uint64
	BaseImageSize   uint64
	// DeltaRegionOffset/DeltaRegionSize bound the append-only region
	// every branch's delta log is carved out of.
	DeltaRegionOffset uint64
	DeltaRegionSize   uint64
	// MainBranchCapacity is the delta-log sub-range reserved for the
	// initial root branch (parent_id 0) created by Format.
	MainBranchCapacity uint64
	// MainBranchName names the root branch ("main" if empty).
	MainBranchName string
	// FirstInodeID seeds the global inode counter; it must be strictly
	// greater than the base image's highest inode number, if any.
	FirstInodeID uint64
}

// Format writes a fresh superblock and branch table into win and
// creates the initial root branch, returning an opened Manager ready
// for Fork/Mount. The branch table itself is placed immediately after
// the superblock.
func Format(win window.Window, opts FormatOptions) (*Manager, error) {
	name := opts.MainBranchName
	if name == "" {
		name = "main"
	}
	branchTableOffset := uint64(layout.SuperblockSize)

	sb := layout.Superblock{
		Magic:             layout.Magic,
		Version:           layout.Version,
		BlockSz:           layout.BlockSize,
		TotalSz:           opts.TotalSize,
		BaseImageOffset:   opts.BaseImageOffset,
		BaseImageSize:     opts.BaseImageSize,
		BranchTableOffset: branchTableOffset,
		BranchTableCap:    layout.MaxBranches,
		NextBranchID:      1,
		NextInodeID:       opts.FirstInodeID,
		DeltaRegionOffset: opts.DeltaRegionOffset,
		DeltaRegionSize:   opts.DeltaRegionSize,
		DeltaAllocOffset:  0,
	}
	sb.Encode(win.At(0, layout.SuperblockSize))

	// Zero the branch table so every slot decodes as FREE.
	tableBytes := uint64(layout.MaxBranches) * layout.BranchRecordSize
	tbl := win.At(branchTableOffset, tableBytes)
	for i := range tbl {
		tbl[i] = 0
	}

	m, err := Open(win)
	if err != nil {
		return nil, err
	}
	if _, err := m.Fork(name, 0, opts.MainBranchCapacity); err != nil {
		return nil, err
	}
	return m, nil
}
