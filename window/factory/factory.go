// Package factory selects a window.Window backend by name, mirroring
// the teacher's storage/factory: a small string-keyed registry plus a
// config struct that knows how to wire the encrypting/compressing
// codec chain in front of the paged backends.
package factory

import (
	"fmt"

	"github.com/anttila/branchfs/codec"
	"github.com/anttila/branchfs/mlog"
	"github.com/anttila/branchfs/window"
	"github.com/anttila/branchfs/window/badgerwindow"
	"github.com/anttila/branchfs/window/boltwindow"
	"github.com/anttila/branchfs/window/memwindow"
	"github.com/anttila/branchfs/window/mmapwindow"
	"github.com/anttila/branchfs/window/pagedwindow"
)

// Config describes how to open a window of a given backend.
type Config struct {
	// Backend selects the implementation: "mmap", "mem", "bolt", or
	// "badger".
	Backend string
	// Path is the backing file (mmap), database file (bolt), or
	// directory (badger). Unused for "mem".
	Path string
	// Size is the total addressable window size in bytes.
	Size uint64
	// Password, if non-empty, enables AES-256-GCM encryption ahead of
	// lz4 compression for the paged backends (bolt/badger); mmap and
	// mem are real memory and are never encoded.
	Password, Salt string
	Iterations     int
}

// List returns the backend names New accepts.
func List() []string {
	return []string{"mmap", "mem", "bolt", "badger"}
}

func (c Config) pagedCodec() codec.Codec {
	chain := &codec.CodecChain{}
	if c.Password != "" {
		mlog.Printf2("window/factory/factory", "New: encrypting + compressing codec")
		iter := c.Iterations
		if iter == 0 {
			iter = 12345
		}
		salt := c.Salt
		if salt == "" {
			salt = "branchfs"
		}
		enc := codec.EncryptingCodec{}.Init([]byte(c.Password), []byte(salt), iter)
		return chain.Init(enc, &codec.CompressingCodec{})
	}
	mlog.Printf2("window/factory/factory", "New: compressing codec only")
	return chain.Init(&codec.CompressingCodec{})
}

// New opens the backend named by c.Backend.
func New(c Config) (window.Window, error) {
	mlog.Printf2("window/factory/factory", "New %q size=%d path=%q", c.Backend, c.Size, c.Path)
	switch c.Backend {
	case "mmap":
		return mmapwindow.Open(c.Path, c.Size)
	case "mem":
		return memwindow.New(c.Size), nil
	case "bolt":
		store, err := boltwindow.Open(c.Path)
		if err != nil {
			return nil, err
		}
		return pagedwindow.New(store, c.Size, c.pagedCodec())
	case "badger":
		store, err := badgerwindow.Open(c.Path)
		if err != nil {
			return nil, err
		}
		return pagedwindow.New(store, c.Size, c.pagedCodec())
	default:
		return nil, fmt.Errorf("window/factory: unknown backend %q (want one of %v)", c.Backend, List())
	}
}
