// Package resolver implements the unified read-side query path
// (exists, stat, read, enumerate): it walks a branch's chain leaf→root
// consulting each branch's delta log, and falls back to the read-only
// base image when no branch along the chain decides the answer.
package resolver

import (
	"github.com/anttila/branchfs/baseimage"
	"github.com/anttila/branchfs/branchmgr"
	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/deltalog"
	"github.com/anttila/branchfs/layout"
)

// Attr is the subset of inode metadata a resolved lookup can answer.
type Attr struct {
	Ino   uint64
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Size  uint64
	Mtime uint64
}

// Dirent is one entry produced by Enumerate.
type Dirent struct {
	Name string
	Ino  uint64
}

// Resolver answers read-side queries for a branch manager's chains,
// fusing them with an optional base image. A nil base is a valid,
// empty base image.
type Resolver struct {
	mgr  *branchmgr.Manager
	base *baseimage.Image
}

// New builds a Resolver over mgr and base.
func New(mgr *branchmgr.Manager, base *baseimage.Image) *Resolver {
	return &Resolver{mgr: mgr, base: base}
}

// chain returns leaf's branch ids from leaf to root, inclusive.
func (r *Resolver) chain(leaf uint64) ([]uint64, error) {
	var ids []uint64
	seen := make(map[uint64]bool)
	id := leaf
	for {
		if seen[id] {
			return nil, brancherr.New(brancherr.IO, "resolver.chain", "cycle detected at branch %d", id)
		}
		seen[id] = true
		ids = append(ids, id)
		parent, ok := r.mgr.Parent(id)
		if !ok {
			return nil, brancherr.New(brancherr.NOENT, "resolver.chain", "unknown branch %d", id)
		}
		if parent == 0 {
			return ids, nil
		}
		id = parent
	}
}

func (r *Resolver) logsFor(chain []uint64) ([]*deltalog.Log, error) {
	logs := make([]*deltalog.Log, len(chain))
	for i, b := range chain {
		l, err := r.mgr.Log(b)
		if err != nil {
			return nil, err
		}
		logs[i] = l
	}
	return logs, nil
}

// ResolveInode answers §4.3 resolve_inode: for each branch leaf→root,
// a deletion decides NOENT, a hit decides the attrs, otherwise fall
// through to the base image.
func (r *Resolver) ResolveInode(leaf, ino uint64) (Attr, error) {
	chain, err := r.chain(leaf)
	if err != nil {
		return Attr{}, err
	}
	logs, err := r.logsFor(chain)
	if err != nil {
		return Attr{}, err
	}
	for _, l := range logs {
		if l.IsDeleted(ino) {
			return Attr{}, brancherr.New(brancherr.NOENT, "resolver.ResolveInode", "ino %d deleted", ino)
		}
		if e, ok := l.LookupInode(ino); ok {
			return Attr{Ino: ino, Mode: e.Mode, Uid: e.Uid, Gid: e.Gid, Size: e.Size, Mtime: e.Mtime}, nil
		}
	}
	if r.base == nil {
		return Attr{}, brancherr.New(brancherr.NOENT, "resolver.ResolveInode", "ino %d not found", ino)
	}
	bi, err := r.base.Inode(ino)
	if err != nil {
		return Attr{}, brancherr.New(brancherr.NOENT, "resolver.ResolveInode", "ino %d not found", ino)
	}
	return Attr{Ino: ino, Mode: bi.Mode, Uid: uint32(bi.Uid), Gid: uint32(bi.Gid), Size: bi.Size}, nil
}

// ResolveDirent answers §4.3 resolve_dirent: each branch leaf→root
// that has touched (parent,name) decides the answer outright; failing
// that, the base image's sibling-linked directory decides, subject to
// every branch's is_deleted on the candidate's base inode number.
func (r *Resolver) ResolveDirent(leaf, parent uint64, name string) (uint64, error) {
	chain, err := r.chain(leaf)
	if err != nil {
		return 0, err
	}
	logs, err := r.logsFor(chain)
	if err != nil {
		return 0, err
	}
	for _, l := range logs {
		if e, ok := l.LookupDirent(parent, name); ok {
			if e.Deleted {
				return 0, brancherr.New(brancherr.NOENT, "resolver.ResolveDirent", "%q deleted under %d", name, parent)
			}
			return l.DirentIno(e), nil
		}
	}
	if r.base == nil {
		return 0, brancherr.New(brancherr.NOENT, "resolver.ResolveDirent", "%q not found under %d", name, parent)
	}
	pbi, err := r.base.Inode(parent)
	if err != nil {
		return 0, brancherr.New(brancherr.NOENT, "resolver.ResolveDirent", "%q not found under %d", name, parent)
	}
	child, err := r.base.Lookup(pbi, name)
	if err != nil {
		return 0, brancherr.New(brancherr.NOENT, "resolver.ResolveDirent", "%q not found under %d", name, parent)
	}
	for _, l := range logs {
		if l.IsDeleted(child.Ino) {
			return 0, brancherr.New(brancherr.NOENT, "resolver.ResolveDirent", "%q deleted under %d", name, parent)
		}
	}
	return child.Ino, nil
}

// ResolveData answers §4.3 resolve_data: the first covering WRITE
// found scanning branches leaf→root wins; absent one, the base
// image's data region answers; absent that, a hole (avail 0).
func (r *Resolver) ResolveData(leaf, ino, pos, length uint64) ([]byte, uint64, error) {
	chain, err := r.chain(leaf)
	if err != nil {
		return nil, 0, err
	}
	logs, err := r.logsFor(chain)
	if err != nil {
		return nil, 0, err
	}
	for _, l := range logs {
		if ptr, avail, found := l.ResolveData(ino, pos, length); found {
			return ptr, avail, nil
		}
	}
	if r.base != nil {
		if bi, err := r.base.Inode(ino); err == nil {
			ptr, avail := r.base.Data(bi, pos, length)
			return ptr, avail, nil
		}
	}
	return nil, 0, nil
}

// Enumerate answers §4.3 directory enumeration, without "." and ".."
// entries: (a) surviving base children under parent, filtered by
// is_deleted in any branch on the chain, then (b) for each branch
// leaf→root, live dirents (from CREATE/MKDIR, or the new name of a
// RENAME) not shadowed by a closer-to-leaf branch's decision for the
// same name.
func (r *Resolver) Enumerate(leaf, parent uint64) ([]Dirent, error) {
	chain, err := r.chain(leaf)
	if err != nil {
		return nil, err
	}
	logs, err := r.logsFor(chain)
	if err != nil {
		return nil, err
	}

	var out []Dirent
	decided := make(map[string]bool)

	if r.base != nil {
		pbi, err := r.base.Inode(parent)
		if err == nil {
			if walkErr := r.base.Children(pbi, func(child layout.BaseInode, name string) bool {
				deleted := false
				for _, l := range logs {
					if l.IsDeleted(child.Ino) {
						deleted = true
						break
					}
				}
				if !deleted {
					out = append(out, Dirent{Name: name, Ino: child.Ino})
					decided[name] = true
				}
				return true
			}); walkErr != nil {
				return nil, walkErr
			}
		}
	}

	for _, l := range logs {
		for name, e := range l.DirentsUnder(parent) {
			if decided[name] {
				continue
			}
			decided[name] = true
			if e.Deleted {
				continue
			}
			out = append(out, Dirent{Name: name, Ino: l.DirentIno(e)})
		}
	}
	return out, nil
}
