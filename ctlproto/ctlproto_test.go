package ctlproto

import (
	"bytes"
	"testing"

	"github.com/stvp/assert"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	req := Request{Op: "create", Name: "feature", Parent: 1}
	assert.Nil(t, WriteMessage(&buf, &req))

	var got Request
	assert.Nil(t, ReadMessage(&buf, &got))
	assert.Equal(t, got, req)
}

func TestWriteReadResponseWithBranches(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	resp := Response{OK: true, Branches: []Branch{
		{ID: 1, Name: "main", State: "active"},
		{ID: 2, Name: "feature", Parent: 1, State: "open"},
	}}
	assert.Nil(t, WriteMessage(&buf, &resp))

	var got Response
	assert.Nil(t, ReadMessage(&buf, &got))
	assert.Equal(t, got, resp)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // huge length, no body
	var got Request
	assert.True(t, ReadMessage(&buf, &got) != nil)
}

func TestWriteMessageRejectsOversizedBody(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	req := Request{Op: "create", Name: string(make([]byte, maxMessageSize+1))}
	assert.True(t, WriteMessage(&buf, &req) != nil)
}
