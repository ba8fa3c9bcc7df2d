// Command branchfsd mounts a branchfs image as a real filesystem,
// wiring window+layout+branchmgr+resolver+vfs together and serving
// both the FUSE mount and the branch-management control socket,
// mirroring the teacher's cmd/tfhfs entry point.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/anttila/branchfs/baseimage"
	"github.com/anttila/branchfs/branchmgr"
	"github.com/anttila/branchfs/ctlproto"
	"github.com/anttila/branchfs/layout"
	"github.com/anttila/branchfs/mlog"
	"github.com/anttila/branchfs/resolver"
	"github.com/anttila/branchfs/vfs"
	"github.com/anttila/branchfs/window/factory"
	"github.com/hanwen/go-fuse/fuse"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s -m MOUNTPOINT -store PATH\n", os.Args[0])
		flag.PrintDefaults()
	}
	mountpoint := flag.String("m", "", "Mountpoint")
	store := flag.String("store", "", "Path to the window backend's storage (file, bolt db, or badger dir; unused for -backend=mem)")
	backend := flag.String("backend", "badger", fmt.Sprintf("Window backend to use (possible: %v)", factory.List()))
	size := flag.Uint64("size", 256<<20, "Total window size in bytes, for a fresh image")
	password := flag.String("password", "", "Passphrase for the at-rest codec (bolt/badger backends only; empty disables encryption)")
	deltaRegion := flag.Uint64("delta-region-size", 64<<20, "Size of the delta-log region, for a fresh image")
	mainCapacity := flag.Uint64("main-capacity", 4<<20, "Delta-log capacity reserved for the root branch, for a fresh image")
	forkCapacity := flag.Uint64("fork-capacity", 1<<20, "Delta-log capacity given to branches created over the control socket")
	fresh := flag.Bool("format", false, "Format a fresh image instead of opening an existing one")
	control := flag.String("control", "", "Path to the control-socket (default: MOUNTPOINT.sock)")
	flushInterval := flag.Duration("flush-interval", time.Second, "How often to flush dirty branches to the window")
	flag.Parse()

	if *mountpoint == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *control == "" {
		*control = *mountpoint + ".sock"
	}

	win, err := factory.New(factory.Config{Backend: *backend, Path: *store, Size: *size, Password: *password})
	if err != nil {
		log.Fatalf("branchfsd: opening window: %v", err)
	}

	var mgr *branchmgr.Manager
	if *fresh {
		deltaOffset := uint64(layout.SuperblockSize) + uint64(layout.MaxBranches)*layout.BranchRecordSize
		mgr, err = branchmgr.Format(win, branchmgr.FormatOptions{
			TotalSize:          win.Size(),
			DeltaRegionOffset:  deltaOffset,
			DeltaRegionSize:    *deltaRegion,
			MainBranchCapacity: *mainCapacity,
			FirstInodeID:       2,
		})
	} else {
		mgr, err = branchmgr.Open(win)
	}
	if err != nil {
		log.Fatalf("branchfsd: branch manager: %v", err)
	}

	mainID, ok := mgr.ByName("main")
	if !ok {
		log.Fatalf("branchfsd: no root branch named %q", "main")
	}
	handle, err := mgr.Mount(mainID)
	if err != nil {
		log.Fatalf("branchfsd: mounting root branch: %v", err)
	}

	// A base image, when present, lives ahead of the delta region; a
	// fresh -format image has none.
	var base *baseimage.Image
	if off, size := mgr.BaseImage(); size != 0 {
		base, err = baseimage.Open(win, off, size)
		if err != nil {
			log.Fatalf("branchfsd: opening base image: %v", err)
		}
	}
	res := resolver.New(mgr, base)

	fs := vfs.New(mgr, res, handle)
	opts := &fuse.MountOptions{AllowOther: true}
	if mlog.IsEnabled() {
		opts.Debug = true
	}
	server, err := fuse.NewServer(vfs.NewFsOps(fs), *mountpoint, opts)
	if err != nil {
		log.Panic(err)
	}

	closing := make(chan chan struct{})
	go flushLoop(mgr, *flushInterval, closing)

	ctl, err := newControlServer(mgr, *control, *forkCapacity)
	if err != nil {
		log.Fatalf("branchfsd: control socket: %v", err)
	}
	go ctl.serve()

	server.Serve()

	done := make(chan struct{})
	closing <- done
	<-done
	ctl.close()
	win.Close()
}

func flushLoop(mgr *branchmgr.Manager, interval time.Duration, closing chan chan struct{}) {
	for {
		select {
		case done := <-closing:
			if err := mgr.Sync(); err != nil {
				mlog.Printf2("cmd/branchfsd/main", "final Sync failed: %v", err)
			}
			done <- struct{}{}
			return
		case <-time.After(interval):
			if err := mgr.Sync(); err != nil {
				mlog.Printf2("cmd/branchfsd/main", "periodic Sync failed: %v", err)
			}
		}
	}
}

type controlServer struct {
	mgr          *branchmgr.Manager
	ln           net.Listener
	forkCapacity uint64
}

func newControlServer(mgr *branchmgr.Manager, path string, forkCapacity uint64) (*controlServer, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &controlServer{mgr: mgr, ln: ln, forkCapacity: forkCapacity}, nil
}

func (s *controlServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *controlServer) handle(conn net.Conn) {
	defer conn.Close()
	var req ctlproto.Request
	if err := ctlproto.ReadMessage(conn, &req); err != nil {
		return
	}
	resp := s.dispatch(req)
	ctlproto.WriteMessage(conn, &resp)
}

func (s *controlServer) dispatch(req ctlproto.Request) ctlproto.Response {
	mlog.Printf2("cmd/branchfsd/main", "control: %+v", req)
	switch req.Op {
	case "create":
		id, err := s.mgr.Fork(req.Name, req.Parent, s.forkCapacity)
		if err != nil {
			return ctlproto.Response{Error: err.Error()}
		}
		return ctlproto.Response{OK: true, ID: id}
	case "commit":
		if err := s.mgr.Commit(req.Branch); err != nil {
			return ctlproto.Response{Error: err.Error()}
		}
		return ctlproto.Response{OK: true}
	case "abort":
		if err := s.mgr.Abort(req.Branch); err != nil {
			return ctlproto.Response{Error: err.Error()}
		}
		return ctlproto.Response{OK: true}
	case "list":
		var out []ctlproto.Branch
		for _, rec := range s.mgr.List() {
			state, _ := s.mgr.State(rec.BranchID)
			name, _ := s.mgr.Name(rec.BranchID)
			out = append(out, ctlproto.Branch{ID: rec.BranchID, Name: name, Parent: rec.ParentID, State: state.String()})
		}
		return ctlproto.Response{OK: true, Branches: out}
	default:
		return ctlproto.Response{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func (s *controlServer) close() {
	s.ln.Close()
	os.Remove(s.ln.Addr().String())
}
