package vfs

import (
	"syscall"

	"github.com/anttila/branchfs/brancherr"
	"github.com/hanwen/go-fuse/fuse"
)

// toStatus maps the branchfs error taxonomy onto fuse errno codes. A
// nil err maps to fuse.OK. An error with no brancherr.Code (a bug
// rather than an expected condition) is classified FAULT by
// brancherr.CodeOf and so maps to EFAULT.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	switch brancherr.CodeOf(err) {
	case brancherr.NOENT:
		return fuse.ENOENT
	case brancherr.EXIST:
		return fuse.Status(syscall.EEXIST)
	case brancherr.INVAL:
		return fuse.EINVAL
	case brancherr.NOSPC:
		return fuse.Status(syscall.ENOSPC)
	case brancherr.NOMEM:
		return fuse.Status(syscall.ENOMEM)
	case brancherr.STALE:
		return fuse.Status(syscall.ESTALE)
	case brancherr.FAULT:
		return fuse.Status(syscall.EFAULT)
	case brancherr.IO:
		return fuse.EIO
	default:
		return fuse.EIO
	}
}
