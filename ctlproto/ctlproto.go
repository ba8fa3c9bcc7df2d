// Package ctlproto is the wire format cmd/branchctl and cmd/branchfsd
// speak over the branch-management control socket (spec.md §6): a
// length-prefixed stream of JSON objects over a Unix domain socket,
// deliberately not a generated RPC stack (see DESIGN.md).
package ctlproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Request is one control-socket call. Op is one of "create", "commit",
// "abort", "list", matching spec.md §6's branch-management interface.
type Request struct {
	Op string `json:"op"`
	// Name and Parent are used by "create".
	Name   string `json:"name,omitempty"`
	Parent uint64 `json:"parent,omitempty"`
	// Branch is used by "commit" and "abort".
	Branch uint64 `json:"branch,omitempty"`
}

// Branch describes one branch-table entry for a "list" response.
type Branch struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Parent uint64 `json:"parent"`
	State  string `json:"state"`
}

// Response answers a Request. Error is non-empty on failure; ID is the
// new branch's id for a successful "create".
type Response struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	ID       uint64   `json:"id,omitempty"`
	Branches []Branch `json:"branches,omitempty"`
}

const maxMessageSize = 1 << 20

// WriteMessage writes v as a 4-byte big-endian length prefix followed
// by its JSON encoding.
func WriteMessage(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("ctlproto: message too large (%d bytes)", len(body))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadMessage reads one length-prefixed JSON message into v.
func ReadMessage(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxMessageSize {
		return fmt.Errorf("ctlproto: message too large (%d bytes)", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
