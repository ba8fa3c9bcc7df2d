// Command branchctl speaks the branch-management control-socket
// protocol to a running branchfsd, exposing create/commit/abort/list
// as CLI subcommands, matching the teacher's cmd/tfhfs-connector's
// role of a thin client against a long-running daemon.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/anttila/branchfs/ctlproto"
	"github.com/ugorji/go/codec"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage:

%s create <name> -p PARENT -m MOUNTPOINT
%s commit BRANCH -m MOUNTPOINT
%s abort BRANCH -m MOUNTPOINT
%s list -m MOUNTPOINT
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	mountpoint := flag.String("m", "", "Mountpoint of the running branchfsd")
	control := flag.String("control", "", "Path to the control socket (default: MOUNTPOINT.sock)")
	parent := flag.Uint64("p", 0, "Parent branch id (create)")
	format := flag.String("format", "text", "Output format: text or cbor")
	flag.Parse()

	// Flags may follow the subcommand and its operand, as the usage
	// text shows, so parsing resumes after each positional argument.
	var args []string
	for rest := flag.Args(); len(rest) > 0; rest = flag.Args() {
		args = append(args, rest[0])
		flag.CommandLine.Parse(rest[1:])
	}
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}
	sock := *control
	if sock == "" {
		if *mountpoint == "" {
			fmt.Fprintln(os.Stderr, "branchctl: -m MOUNTPOINT or -control PATH is required")
			os.Exit(1)
		}
		sock = *mountpoint + ".sock"
	}

	var req ctlproto.Request
	switch args[0] {
	case "create":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "branchctl: create requires a name")
			os.Exit(1)
		}
		req = ctlproto.Request{Op: "create", Name: args[1], Parent: *parent}
	case "commit", "abort":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "branchctl: %s requires a branch id\n", args[0])
			os.Exit(1)
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "branchctl: invalid branch id %q: %v\n", args[1], err)
			os.Exit(1)
		}
		req = ctlproto.Request{Op: args[0], Branch: id}
	case "list":
		req = ctlproto.Request{Op: "list"}
	default:
		flag.Usage()
		os.Exit(1)
	}

	resp, err := call(sock, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "branchctl: %v\n", err)
		os.Exit(1)
	}

	if *format == "cbor" {
		writeCBOR(os.Stdout, resp)
	} else {
		writeText(os.Stdout, resp)
	}
	if !resp.OK {
		os.Exit(1)
	}
}

func call(sock string, req ctlproto.Request) (ctlproto.Response, error) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return ctlproto.Response{}, fmt.Errorf("connecting to %s: %w", sock, err)
	}
	defer conn.Close()
	if err := ctlproto.WriteMessage(conn, &req); err != nil {
		return ctlproto.Response{}, err
	}
	var resp ctlproto.Response
	if err := ctlproto.ReadMessage(conn, &resp); err != nil {
		return ctlproto.Response{}, err
	}
	return resp, nil
}

func writeText(w *os.File, resp ctlproto.Response) {
	if !resp.OK {
		fmt.Fprintf(w, "error: %s\n", resp.Error)
		return
	}
	if resp.ID != 0 {
		fmt.Fprintf(w, "%d\n", resp.ID)
	}
	for _, b := range resp.Branches {
		fmt.Fprintf(w, "%d\t%s\tparent=%d\t%s\n", b.ID, b.Name, b.Parent, b.State)
	}
	if resp.ID == 0 && len(resp.Branches) == 0 {
		fmt.Fprintln(w, "ok")
	}
}

func writeCBOR(w *os.File, resp ctlproto.Response) {
	var bh codec.CborHandle
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &bh)
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "branchctl: cbor encode: %v\n", err)
		return
	}
	w.Write(buf)
}
